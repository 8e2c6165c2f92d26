// Package jobkind declares the per-kind configuration for analysis jobs.
// Every job kind the coordinator can run is a Spec: the worker command
// template, its working directory and environment, the kind's timeouts and
// the counter markers its output protocol uses. Kind differences are data
// consumed by one generic orchestrator, never per-kind code.
package jobkind

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

const (
	// DefaultHangTimeout is the inactivity limit applied when a kind does
	// not configure its own.
	DefaultHangTimeout = 30 * time.Second

	// DefaultWallTimeout is the absolute run time limit applied when a
	// kind does not configure its own.
	DefaultWallTimeout = 10 * time.Minute

	// DefaultWorkers is passed as --workers when a kind does not set one.
	DefaultWorkers = 4
)

// Spec describes one job kind.
type Spec struct {
	// Name is the kind identifier, also used as the live channel name.
	Name string `koanf:"name"`

	// Command is the worker executable.
	Command string `koanf:"command"`

	// Args are fixed arguments placed before the generated flags.
	Args []string `koanf:"args"`

	// Workers becomes the --workers flag value.
	Workers int `koanf:"workers"`

	// Flags are kind-specific long flags appended as --key value, in
	// sorted key order so command lines are reproducible.
	Flags map[string]string `koanf:"flags"`

	// WorkDir is the worker's working directory. Empty inherits the
	// coordinator's.
	WorkDir string `koanf:"workdir"`

	// Env is merged over the inherited environment.
	Env map[string]string `koanf:"env"`

	// HangTimeout is the maximum silence on stdout before the worker is
	// presumed hung and killed.
	HangTimeout time.Duration `koanf:"hang_timeout"`

	// WallTimeout is the absolute run time limit.
	WallTimeout time.Duration `koanf:"wall_timeout"`

	// Counters lists the counter marker names this kind's protocol emits.
	Counters []string `koanf:"counters"`
}

// Validate checks the spec is runnable.
func (s Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("job kind: name is required")
	}
	if s.Command == "" {
		return fmt.Errorf("job kind %s: command is required", s.Name)
	}
	if s.HangTimeout < 0 || s.WallTimeout < 0 {
		return fmt.Errorf("job kind %s: timeouts must not be negative", s.Name)
	}
	return nil
}

// CommandArgs builds the full argument list: fixed args, then --workers,
// then the kind-specific flags in sorted order.
func (s Spec) CommandArgs() []string {
	workers := s.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	args := make([]string, 0, len(s.Args)+2+2*len(s.Flags))
	args = append(args, s.Args...)
	args = append(args, "--workers", strconv.Itoa(workers))

	keys := make([]string, 0, len(s.Flags))
	for k := range s.Flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--"+k, s.Flags[k])
	}
	return args
}

// EffectiveHangTimeout returns the configured hang timeout or the default.
func (s Spec) EffectiveHangTimeout() time.Duration {
	if s.HangTimeout > 0 {
		return s.HangTimeout
	}
	return DefaultHangTimeout
}

// EffectiveWallTimeout returns the configured wall-clock timeout or the
// default.
func (s Spec) EffectiveWallTimeout() time.Duration {
	if s.WallTimeout > 0 {
		return s.WallTimeout
	}
	return DefaultWallTimeout
}

// Registry is an immutable lookup of job kinds by name.
type Registry struct {
	specs map[string]Spec
}

// NewRegistry validates the specs and builds a registry. Duplicate kind
// names are an error.
func NewRegistry(specs []Spec) (*Registry, error) {
	byName := make(map[string]Spec, len(specs))
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byName[spec.Name]; dup {
			return nil, fmt.Errorf("job kind %s: declared twice", spec.Name)
		}
		byName[spec.Name] = spec
	}
	return &Registry{specs: byName}, nil
}

// Get looks a kind up by name.
func (r *Registry) Get(name string) (Spec, bool) {
	spec, ok := r.specs[name]
	return spec, ok
}

// Names returns the registered kind names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
