package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Server defaults.
const (
	DefaultAddr          = ":8080"
	DefaultPresenceTTL   = 30 * time.Second
	DefaultSweepInterval = 10 * time.Second
	DefaultServiceName   = "pairline"
)

// Duration decodes TOML strings like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// ServerConfig configures pairline-server.
type ServerConfig struct {
	Addr          string   `toml:"addr"`
	PresenceTTL   Duration `toml:"presence_ttl"`
	SweepInterval Duration `toml:"sweep_interval"`
	Announce      bool     `toml:"announce"`
	ServiceName   string   `toml:"service_name"`
}

// ServerOptions are flag overrides. Zero values mean "not set".
type ServerOptions struct {
	Addr     string
	Announce bool
}

// LoadServer reads configuration with the following priority:
// 1. CLI flags (passed via opts) - highest priority
// 2. Environment variables (PAIRLINE_ADDR, PAIRLINE_PRESENCE_TTL, ...)
// 3. The TOML file at path, if path is set
// 4. Defaults
func LoadServer(path string, opts ServerOptions) (*ServerConfig, error) {
	cfg := &ServerConfig{
		Addr:          DefaultAddr,
		PresenceTTL:   Duration{DefaultPresenceTTL},
		SweepInterval: Duration{DefaultSweepInterval},
		ServiceName:   DefaultServiceName,
	}

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found", path)
			}
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := applyServerEnv(cfg); err != nil {
		return nil, err
	}

	if opts.Addr != "" {
		cfg.Addr = opts.Addr
	}
	if opts.Announce {
		cfg.Announce = true
	}

	if cfg.PresenceTTL.Duration <= 0 {
		return nil, fmt.Errorf("presence_ttl must be positive, got %s", cfg.PresenceTTL)
	}
	if cfg.SweepInterval.Duration <= 0 {
		return nil, fmt.Errorf("sweep_interval must be positive, got %s", cfg.SweepInterval)
	}
	return cfg, nil
}

func applyServerEnv(cfg *ServerConfig) error {
	if v := os.Getenv("PAIRLINE_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("PAIRLINE_SERVICE_NAME"); v != "" {
		cfg.ServiceName = v
	}
	if envBool("PAIRLINE_ANNOUNCE") {
		cfg.Announce = true
	}
	for key, dst := range map[string]*Duration{
		"PAIRLINE_PRESENCE_TTL":   &cfg.PresenceTTL,
		"PAIRLINE_SWEEP_INTERVAL": &cfg.SweepInterval,
	} {
		if v := os.Getenv(key); v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
		}
	}
	return nil
}
