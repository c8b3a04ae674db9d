package policy

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/aponysus/flakey/flake"
	"gopkg.in/yaml.v3"
)

// File is a policy file: one default policy plus per-test overrides keyed by
// "group.name", bare test name, or a path.Match pattern over "group.name".
//
//	default:
//	  retries: 5
//	  wait: 100ms
//	tests:
//	  store.TestReplication:
//	    retries: 20
//	  "integration.*":
//	    rethrow_original: false
//
// Overrides start from the file's default, so they only need the fields they
// change.
type File struct {
	Default Policy
	Tests   map[string]Policy
}

type fileYAML struct {
	Default yaml.Node            `yaml:"default"`
	Tests   map[string]yaml.Node `yaml:"tests"`
}

func (f *File) UnmarshalYAML(value *yaml.Node) error {
	var raw fileYAML
	if err := value.Decode(&raw); err != nil {
		return err
	}

	def := Default()
	if !raw.Default.IsZero() {
		if err := raw.Default.Decode(&def); err != nil {
			return fmt.Errorf("default: %w", err)
		}
	}
	def.Meta.Source = SourceFile
	f.Default = def

	f.Tests = make(map[string]Policy, len(raw.Tests))
	for name, node := range raw.Tests {
		p := def
		if err := node.Decode(&p); err != nil {
			return fmt.Errorf("tests.%s: %w", name, err)
		}
		p.Meta.Source = SourceOverride
		f.Tests[strings.TrimSpace(name)] = p
	}
	return nil
}

// LoadFile reads and parses a YAML policy file.
func LoadFile(filename string) (File, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return File{}, fmt.Errorf("read policy file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", filename, err)
	}
	return f, nil
}

// Parse decodes a YAML policy file. Every policy in it is validated and then
// normalized.
func Parse(data []byte) (File, error) {
	f := File{Default: Default()}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse policy file: %w", err)
	}

	def, err := checked(f.Default)
	if err != nil {
		return File{}, fmt.Errorf("default: %w", err)
	}
	f.Default = def

	for name, p := range f.Tests {
		p, err := checked(p)
		if err != nil {
			return File{}, fmt.Errorf("tests.%s: %w", name, err)
		}
		f.Tests[name] = p
	}
	return f, nil
}

func checked(p Policy) (Policy, error) {
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p.Normalize()
}

// Resolve returns the policy for id: an exact "group.name" entry, then an
// entry for the bare name, then the first matching pattern in lexical order,
// then the default.
func (f File) Resolve(id flake.Identity) Policy {
	full := id.String()
	if p, ok := f.Tests[full]; ok {
		return p
	}
	if p, ok := f.Tests[id.Name]; ok && id.Name != "" {
		return p
	}

	patterns := make([]string, 0, len(f.Tests))
	for k := range f.Tests {
		if strings.ContainsAny(k, "*?[") {
			patterns = append(patterns, k)
		}
	}
	sort.Strings(patterns)
	for _, pattern := range patterns {
		if ok, _ := path.Match(pattern, full); ok {
			return f.Tests[pattern]
		}
	}

	if f.Default.IsZero() {
		return Default()
	}
	return f.Default
}
