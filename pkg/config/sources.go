package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// envPrefix namespaces the environment variables read by the env source.
const envPrefix = "QUANTOR_"

// Source priorities. Lower loads first, higher overrides.
const (
	priorityDefaults = 10
	priorityFile     = 20
	priorityEnv      = 30
	priorityFlags    = 40
	priorityDebug    = 50
)

// ConfigSource is one layer of the configuration chain.
type ConfigSource interface {
	// Name identifies the source in error messages.
	Name() string

	// Priority orders loading; higher priorities override lower ones.
	Priority() int

	// Load merges the source's values into the Koanf instance.
	Load(k *koanf.Koanf) error
}

// DefaultSources builds the standard chain: defaults, optional YAML file,
// QUANTOR_* environment, command-line flags, and a debug override.
func DefaultSources(configFilePath string, flags *pflag.FlagSet, debug bool) []ConfigSource {
	sources := []ConfigSource{
		defaultsSource{},
		fileSource{path: configFilePath},
		envSource{},
	}
	if flags != nil {
		sources = append(sources, flagSource{flags: flags})
	}
	if debug {
		sources = append(sources, debugSource{})
	}
	return sources
}

// defaultsSource seeds the instance with hardcoded defaults.
type defaultsSource struct{}

func (defaultsSource) Name() string  { return "defaults" }
func (defaultsSource) Priority() int { return priorityDefaults }

func (defaultsSource) Load(k *koanf.Koanf) error {
	return k.Load(confmap.Provider(DefaultConfigAsMap(), "."), nil)
}

// fileSource loads a YAML config file. The path is only set when the user
// asked for one explicitly, so a missing file is an error.
type fileSource struct {
	path string
}

func (s fileSource) Name() string { return "file:" + s.path }
func (fileSource) Priority() int  { return priorityFile }

func (s fileSource) Load(k *koanf.Koanf) error {
	if s.path == "" {
		return nil
	}
	return k.Load(file.Provider(s.path), yaml.Parser())
}

// envSource maps QUANTOR_LOG_LEVEL style variables to log.level style keys.
type envSource struct{}

func (envSource) Name() string  { return "env" }
func (envSource) Priority() int { return priorityEnv }

func (envSource) Load(k *koanf.Koanf) error {
	return k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".")
	}), nil)
}

// flagSource merges changed command-line flags over everything below it.
type flagSource struct {
	flags *pflag.FlagSet
}

func (flagSource) Name() string  { return "flags" }
func (flagSource) Priority() int { return priorityFlags }

func (s flagSource) Load(k *koanf.Koanf) error {
	return k.Load(posflag.Provider(s.flags, ".", k), nil)
}

// debugSource forces debug logging when --debug was set.
type debugSource struct{}

func (debugSource) Name() string  { return "debug" }
func (debugSource) Priority() int { return priorityDebug }

func (debugSource) Load(k *koanf.Koanf) error {
	return k.Load(confmap.Provider(map[string]any{"log.level": "debug"}, "."), nil)
}
