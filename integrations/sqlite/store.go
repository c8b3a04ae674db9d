// Package sqlite persists flakiness reports in a SQLite database so that
// flakey tests can be tracked across runs.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aponysus/flakey/flake"
)

const schema = `
CREATE TABLE IF NOT EXISTS flakey_reports (
	report_id         TEXT PRIMARY KEY,
	test_group        TEXT NOT NULL,
	test_name         TEXT NOT NULL,
	original_class    TEXT NOT NULL,
	original_message  TEXT NOT NULL,
	original_stack    TEXT NOT NULL,
	rerun_count       INTEGER NOT NULL,
	rerun_failures    INTEGER NOT NULL,
	detected_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS flakey_rerun_failures (
	report_id  TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	class      TEXT NOT NULL,
	message    TEXT NOT NULL,
	stack      TEXT NOT NULL,
	PRIMARY KEY (report_id, seq),
	FOREIGN KEY (report_id) REFERENCES flakey_reports(report_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS flakey_reports_by_test ON flakey_reports (test_group, test_name);
`

// timeLayout is fixed width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a flake.Listener that records reports in SQLite.
type Store struct {
	db *sql.DB
}

// StoredReport is a report as read back from the database. Failures are
// stored in printable form because the original error values do not survive
// the round trip.
type StoredReport struct {
	ID            string
	Identity      flake.Identity
	Original      flake.Cause
	RerunCount    int
	RerunFailures []flake.Cause
	DetectedAt    time.Time
}

// TestCount is the number of flakey reports recorded for one test.
type TestCount struct {
	Identity flake.Identity
	Reports  int
	LastSeen time.Time
}

// NewStore opens a SQLite database at dbPath and runs migrations. Foreign
// keys are enabled through the DSN so every pooled connection enforces them.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", DSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	s, err := NewStoreFromDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DSN returns the data source name for dbPath with foreign key enforcement
// turned on for each new connection.
func DSN(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_pragma=foreign_keys(1)"
}

// NewStoreFromDB runs migrations on an existing connection pool. The foreign
// key pragma issued here reaches only one pooled connection; open db with
// DSN to have cascading deletes enforced everywhere.
func NewStoreFromDB(db *sql.DB) (*Store, error) {
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// HandlePotentialFlakeyness inserts the report and its rerun failures in one transaction.
func (s *Store) HandlePotentialFlakeyness(ctx context.Context, report flake.Report) error {
	id := report.ID
	if id == "" {
		id = uuid.NewString()
	}
	detected := report.DetectedAt
	if detected.IsZero() {
		detected = time.Now()
	}
	orig := flake.NewCause(report.Original)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO flakey_reports (report_id, test_group, test_name, original_class, original_message,
			original_stack, rerun_count, rerun_failures, detected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, report.Identity.Group, report.Identity.Name, orig.Class, orig.Message,
		orig.StackTrace, report.RerunCount, len(report.RerunFailures), detected.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}

	for i, ferr := range report.RerunFailures {
		c := flake.NewCause(ferr)
		_, err = tx.ExecContext(ctx,
			`INSERT INTO flakey_rerun_failures (report_id, seq, class, message, stack) VALUES (?, ?, ?, ?, ?)`,
			id, i, c.Class, c.Message, c.StackTrace,
		)
		if err != nil {
			return fmt.Errorf("insert rerun failure %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// List returns every stored report, most recent first.
func (s *Store) List(ctx context.Context) ([]StoredReport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT report_id, test_group, test_name, original_class, original_message, original_stack,
			rerun_count, detected_at
		 FROM flakey_reports ORDER BY detected_at DESC, report_id`)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	var out []StoredReport
	for rows.Next() {
		var r StoredReport
		var detected string
		if err := rows.Scan(&r.ID, &r.Identity.Group, &r.Identity.Name, &r.Original.Class,
			&r.Original.Message, &r.Original.StackTrace, &r.RerunCount, &detected); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		r.DetectedAt, err = time.Parse(timeLayout, detected)
		if err != nil {
			return nil, fmt.Errorf("parse detected_at %q: %w", detected, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}

	for i := range out {
		failures, err := s.rerunFailures(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].RerunFailures = failures
	}
	return out, nil
}

func (s *Store) rerunFailures(ctx context.Context, reportID string) ([]flake.Cause, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT class, message, stack FROM flakey_rerun_failures WHERE report_id = ? ORDER BY seq`, reportID)
	if err != nil {
		return nil, fmt.Errorf("query rerun failures: %w", err)
	}
	defer rows.Close()

	out := []flake.Cause{}
	for rows.Next() {
		var c flake.Cause
		if err := rows.Scan(&c.Class, &c.Message, &c.StackTrace); err != nil {
			return nil, fmt.Errorf("scan rerun failure: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountByTest returns how often each test was reported, most frequent first.
func (s *Store) CountByTest(ctx context.Context) ([]TestCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT test_group, test_name, COUNT(*), MAX(detected_at)
		 FROM flakey_reports
		 GROUP BY test_group, test_name
		 ORDER BY COUNT(*) DESC, test_group, test_name`)
	if err != nil {
		return nil, fmt.Errorf("query counts: %w", err)
	}
	defer rows.Close()

	var out []TestCount
	for rows.Next() {
		var c TestCount
		var last string
		if err := rows.Scan(&c.Identity.Group, &c.Identity.Name, &c.Reports, &last); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		c.LastSeen, err = time.Parse(timeLayout, last)
		if err != nil {
			return nil, fmt.Errorf("parse last seen %q: %w", last, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
