package server

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/signadot/ydoc"
	"github.com/signadot/ydoc/persist"
)

// Config represents the hostd configuration file structure.
type Config struct {
	// Addr is the TCP address to listen on. Can be overridden by CLI
	// flag.
	Addr string `yaml:"addr"`
	// LockTimeout bounds how long doc.begin waits for a document.
	LockTimeout Duration `yaml:"lockTimeout"`
	// Dispatch is the observer dispatch mode of new documents: deferred
	// or inline.
	Dispatch string `yaml:"dispatch"`
	// Persist stores document updates when set.
	Persist *persist.Config `yaml:"persist"`
}

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// LoadConfig loads a configuration file in YAML format. Fields the file
// leaves out keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:        "localhost:9321",
		LockTimeout: Duration(10 * time.Second),
		Dispatch:    ydoc.DispatchDeferred.String(),
	}
}

func (c *Config) Validate() error {
	if c.LockTimeout <= 0 {
		return fmt.Errorf("lockTimeout must be positive, got %s", time.Duration(c.LockTimeout))
	}
	if _, err := ydoc.ParseDispatch(c.Dispatch); err != nil {
		return err
	}
	if c.Persist != nil && !c.Persist.InMemory && c.Persist.Path == "" {
		return fmt.Errorf("persist.path is required unless persist.inMemory is set")
	}
	return nil
}

// Spec holds the runtime specification for the host.
type Spec struct {
	Config *Config
	Log    *slog.Logger
}
