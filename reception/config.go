package reception

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the settings a Flow is constructed from, loaded from a
// YAML file or built programmatically for tests.
type Config struct {
	// ListenAddr is the local UDP address to bind, e.g. ":5004".
	ListenAddr string `yaml:"listen_addr"`
	// BufferSizeBytes is the initial ring buffer budget; it grows in
	// increments as traffic demands more slots.
	BufferSizeBytes int `yaml:"buffer_size_bytes"`
	// LogLevel is a logrus level name ("debug", "info", "warn", ...).
	LogLevel string `yaml:"log_level"`
	// PriorityIntent requests best-effort elevated scheduling priority
	// for the receiver goroutine's OS thread, and one step below that for
	// the processor goroutine's. Failure to obtain it is logged, never
	// fatal.
	PriorityIntent bool `yaml:"priority_intent"`
	// Flags is forwarded verbatim into every primary and auxiliary
	// handler call, letting installed handlers vary their own behavior
	// without a side channel back into the registry.
	Flags int32 `yaml:"flags"`
}

// DefaultInitialBufferSize matches the original design's default ring
// buffer budget.
const DefaultInitialBufferSize = 4194304

// DefaultConfig returns a Config with the same defaults the original
// design ships with.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":5004",
		BufferSizeBytes: DefaultInitialBufferSize,
		LogLevel:        "info",
		PriorityIntent:  true,
		Flags:           0,
	}
}

// LoadConfig reads and parses a YAML config file, filling in defaults for
// any field left unset.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reception: read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("reception: parse config %s: %w", path, err)
	}
	if cfg.BufferSizeBytes <= 0 {
		cfg.BufferSizeBytes = DefaultInitialBufferSize
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}
