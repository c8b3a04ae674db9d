package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/aponysus/flakey/classify"
	"github.com/aponysus/flakey/flake"
	flakeyprom "github.com/aponysus/flakey/integrations/prometheus"
	"github.com/aponysus/flakey/integrations/sqlite"
	"github.com/aponysus/flakey/listener"
	"github.com/aponysus/flakey/observe"
	"github.com/aponysus/flakey/policy"
	"github.com/aponysus/flakey/rerun"
)

type runOptions struct {
	root *rootOptions

	retries      int
	threshold    int
	wait         time.Duration
	rethrow      bool
	listenerMode string
	configPath   string
	name         string
	group        string
	reportDir    string
	sqlitePath   string
	metricsFile  string
	stdout       bool
	stream       bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	o := &runOptions{root: root}
	cmd := &cobra.Command{
		Use:   "run [flags] -- command [args...]",
		Short: "Run a command, rerunning it on failure to detect flakiness",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, args)
		},
	}

	f := cmd.Flags()
	f.IntVar(&o.retries, "retries", policy.DefaultRetries, "reruns after an initial failure")
	f.IntVar(&o.threshold, "threshold", policy.DefaultThreshold, "passing reruns that must be exceeded to call a failure flakey")
	f.DurationVar(&o.wait, "wait", 0, "pause before each rerun")
	f.BoolVar(&o.rethrow, "rethrow", true, "exit non-zero even when the failure is flakey")
	f.StringVar(&o.listenerMode, "listener-mode", string(policy.ListenerIsolate), "listener failure handling: isolate or fail_fast")
	f.StringVar(&o.configPath, "config", "", "YAML policy file")
	f.StringVar(&o.name, "name", "", "test name used in reports (default: the command line)")
	f.StringVar(&o.group, "group", "", "test group used in reports (default: the command's base name)")
	f.StringVar(&o.reportDir, "report-dir", "", "write one JSON file per flakey report into this directory")
	f.StringVar(&o.sqlitePath, "sqlite", "", "record flakey reports in this SQLite database")
	f.StringVar(&o.metricsFile, "metrics-file", "", "write Prometheus metrics in textfile format to this path")
	f.BoolVar(&o.stdout, "stdout", false, "print a line for every flakey report")
	f.BoolVar(&o.stream, "stream", false, "copy the command's output while it runs")
	return cmd
}

func (o *runOptions) identity(args []string) flake.Identity {
	id := flake.Identity{Group: o.group, Name: o.name}
	if id.Name == "" {
		id.Name = strings.Join(args, " ")
	}
	if id.Group == "" {
		id.Group = filepath.Base(args[0])
	}
	return id
}

func (o *runOptions) resolvePolicy(cmd *cobra.Command, id flake.Identity) (policy.Policy, error) {
	pol := policy.Default()
	if o.configPath != "" {
		file, err := policy.LoadFile(o.configPath)
		if err != nil {
			return policy.Policy{}, err
		}
		pol = file.Resolve(id)
	}

	flags := cmd.Flags()
	var opts []policy.Option
	if flags.Changed("retries") || o.configPath == "" {
		opts = append(opts, policy.Retries(o.retries))
	}
	if flags.Changed("threshold") || o.configPath == "" {
		opts = append(opts, policy.Threshold(o.threshold))
	}
	if flags.Changed("wait") || o.configPath == "" {
		opts = append(opts, policy.Wait(o.wait))
	}
	if flags.Changed("rethrow") || o.configPath == "" {
		opts = append(opts, policy.RethrowOriginal(o.rethrow))
	}
	if flags.Changed("listener-mode") || o.configPath == "" {
		opts = append(opts, policy.NotifyMode(policy.ListenerMode(o.listenerMode)))
	}
	for _, opt := range opts {
		opt(&pol)
	}
	switch {
	case o.configPath == "":
		pol.Meta.Source = policy.SourceStatic
	case len(opts) > 0:
		pol.Meta.Source = policy.SourceOverride
	}

	if err := pol.Validate(); err != nil {
		return policy.Policy{}, err
	}
	return pol.Normalize()
}

func (o *runOptions) run(cmd *cobra.Command, args []string) error {
	logger, err := o.root.logger(cmd.ErrOrStderr())
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}

	id := o.identity(args)
	pol, err := o.resolvePolicy(cmd, id)
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}

	execOpts := []rerun.ExecutorOption{
		rerun.WithPolicy(pol),
		rerun.WithLogger(logger),
		rerun.WithRecoverPanics(true),
	}
	var observers []observe.Observer

	if o.stdout {
		execOpts = append(execOpts, rerun.WithListener(listener.NewPrinter(cmd.OutOrStdout())))
	}
	if o.reportDir != "" {
		execOpts = append(execOpts, rerun.WithListener(listener.NewJSONFileWriter(o.reportDir)))
	}
	if o.sqlitePath != "" {
		store, err := sqlite.NewStore(o.sqlitePath)
		if err != nil {
			return &exitError{code: exitUsage, err: err}
		}
		defer store.Close()
		execOpts = append(execOpts, rerun.WithListener(store))
	}

	var reg *prometheus.Registry
	if o.metricsFile != "" {
		reg = prometheus.NewRegistry()
		metrics := flakeyprom.NewMetrics(reg)
		execOpts = append(execOpts, rerun.WithListener(metrics))
		observers = append(observers, metrics)
	}
	if len(observers) > 0 {
		execOpts = append(execOpts, rerun.WithObserver(observe.MultiObserver{Observers: observers}))
	}

	unit := commandUnit(args, nil, nil)
	if o.stream {
		unit = commandUnit(args, cmd.OutOrStdout(), cmd.ErrOrStderr())
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	tl, guardErr := rerun.NewExecutor(execOpts...).GuardWithTimeline(ctx, id, unit)

	if reg != nil {
		if err := flakeyprom.WriteTextfile(o.metricsFile, reg); err != nil {
			logger.Error("write metrics", "path", o.metricsFile, "err", err)
		}
	}

	logger.Info("guard finished",
		"test", id.String(),
		"verdict", tl.Verdict.String(),
		"attempts", len(tl.Attempts),
	)

	if guardErr == nil {
		if tl.Verdict == classify.VerdictFlakey {
			fmt.Fprintf(cmd.ErrOrStderr(), "flakey: %s is potentially flakey (failure suppressed)\n", id)
		}
		return nil
	}

	return &exitError{code: exitFailure, err: guardErr}
}
