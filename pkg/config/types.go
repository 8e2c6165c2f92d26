package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/quantor/quantor/pkg/jobkind"
)

// Config is the root application configuration.
type Config struct {
	Log    LogConfig    `koanf:"log"`
	Server ServerConfig `koanf:"server"`
	Jobs   JobsConfig   `koanf:"jobs"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	File   string `koanf:"file"`
}

// ServerConfig controls the HTTP server runtime.
type ServerConfig struct {
	Addr         string        `koanf:"addr"`
	Port         int           `koanf:"port"`
	APIEnabled   bool          `koanf:"api_enabled"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`

	// ReconcileInterval is how often the coordinator sweeps for orphaned
	// slot holds.
	ReconcileInterval time.Duration `koanf:"reconcile_interval"`
}

// JobsConfig controls the job coordinator.
type JobsConfig struct {
	// LogCapacity bounds each job's log ring buffer.
	LogCapacity int `koanf:"log_capacity"`

	// HeartbeatInterval is the live-channel keep-alive period.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`

	// LockFile extends the admission slot across processes on this host
	// via an advisory file lock. Empty disables it.
	LockFile string `koanf:"lock_file"`

	// Kinds declares the runnable job kinds.
	Kinds []jobkind.Spec `koanf:"kinds"`
}

// DefaultServerConfig returns the server defaults used when no other
// source overrides them.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:              "127.0.0.1",
		Port:              8472,
		APIEnabled:        true,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0, // streaming endpoints must not be cut off
		ReconcileInterval: time.Minute,
	}
}

// DefaultJobsConfig returns the coordinator defaults.
func DefaultJobsConfig() JobsConfig {
	return JobsConfig{
		LogCapacity:       5000,
		HeartbeatInterval: 10 * time.Second,
		LockFile:          filepath.Join(os.TempDir(), "quantor.lock"),
	}
}
