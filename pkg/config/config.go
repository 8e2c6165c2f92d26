// Package config loads and serves the application configuration from
// layered sources: hardcoded defaults, a YAML file, QUANTOR_* environment
// variables, and command-line flags, in increasing precedence.
package config

import (
	"fmt"
	"sort"
	"sync"

	"github.com/knadh/koanf/v2"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"
)

// Global Koanf instance, initialized once at startup.
var (
	k    *koanf.Koanf
	once sync.Once
)

// InitGlobalConfig initializes the global Koanf instance. It should be
// called early in the application lifecycle, before Load.
func InitGlobalConfig() {
	once.Do(func() {
		k = koanf.New(".")
	})
}

// Manager handles loading and accessing application configuration.
type Manager struct {
	koanfInstance *koanf.Koanf
	currentConfig Config
	mu            sync.RWMutex // protects currentConfig during runtime reads
}

// NewManager creates a config Manager backed by the global Koanf instance,
// initializing it if needed.
func NewManager() *Manager {
	InitGlobalConfig()
	return &Manager{koanfInstance: k}
}

// DefaultConfig returns the baseline configuration used when no other
// source overrides a value.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
		Server: DefaultServerConfig(),
		Jobs:   DefaultJobsConfig(),
	}
}

// Load loads configuration from the default source chain.
//
// Precedence (highest to lowest):
//  1. Command-line flags (--log.level=debug)
//  2. Environment variables (QUANTOR_LOG_LEVEL=debug)
//  3. Config file (YAML)
//  4. Default values
func (m *Manager) Load(flags *pflag.FlagSet, configFilePath string) error {
	debug := false
	if flags != nil {
		if debugFlag := flags.Lookup("debug"); debugFlag != nil && debugFlag.Value.String() == "true" {
			debug = true
		}
	}
	return m.LoadWithSources(DefaultSources(configFilePath, flags, debug))
}

// LoadWithSources loads configuration from the provided sources in priority
// order: sources with lower priority values load first, higher priorities
// override them. It allows custom chains (extra sources, different order)
// to be injected, mainly by tests.
func (m *Manager) LoadWithSources(sources []ConfigSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sort.Slice(sources, func(i, j int) bool {
		return sources[i].Priority() < sources[j].Priority()
	})

	for _, src := range sources {
		if err := src.Load(m.koanfInstance); err != nil {
			return fmt.Errorf("error loading config from %s: %w", src.Name(), err)
		}
	}

	var newCfg Config
	if err := m.koanfInstance.UnmarshalWithConf("", &newCfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return fmt.Errorf("error unmarshaling final config: %w", err)
	}
	m.currentConfig = newCfg
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentConfig
}

// GetValue retrieves a raw configuration value by key path, e.g.
// "jobs.heartbeat_interval". Returns nil if the key doesn't exist.
func (m *Manager) GetValue(key string) any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.koanfInstance.Get(key)
}

// GetString retrieves a configuration value coerced to string.
func (m *Manager) GetString(key string) string {
	return cast.ToString(m.GetValue(key))
}

// GetInt retrieves a configuration value coerced to int.
func (m *Manager) GetInt(key string) int {
	return cast.ToInt(m.GetValue(key))
}

// DefaultConfigAsMap converts DefaultConfig to the flat map consumed by
// Koanf's confmap provider, so every known key exists in the instance.
func DefaultConfigAsMap() map[string]any {
	def := DefaultConfig()
	return map[string]any{
		"log.level":  def.Log.Level,
		"log.format": def.Log.Format,
		"log.file":   def.Log.File,

		"server.addr":               def.Server.Addr,
		"server.port":               def.Server.Port,
		"server.api_enabled":        def.Server.APIEnabled,
		"server.read_timeout":       def.Server.ReadTimeout,
		"server.write_timeout":      def.Server.WriteTimeout,
		"server.reconcile_interval": def.Server.ReconcileInterval,

		"jobs.log_capacity":       def.Jobs.LogCapacity,
		"jobs.heartbeat_interval": def.Jobs.HeartbeatInterval,
		"jobs.lock_file":          def.Jobs.LockFile,
	}
}

// BindFlags defines command-line flags corresponding to configuration
// settings. Called when setting up the root Cobra command.
func BindFlags(flags *pflag.FlagSet) {
	var flagvar bool
	flags.BoolVar(&flagvar, "debug", false, "Enable debug logging")

	defaults := DefaultConfig()
	flags.String("server.addr", defaults.Server.Addr, "HTTP listen address")
	flags.Int("server.port", defaults.Server.Port, "HTTP listen port")
}
