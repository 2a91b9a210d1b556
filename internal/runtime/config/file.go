package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// fileConfig mirrors Config with TOML-friendly field types.
type fileConfig struct {
	Transport        string `toml:"transport"`
	SocketFile       string `toml:"socket_file"`
	Role             string `toml:"role"`
	RetryDelayMS     int    `toml:"retry_delay_ms"`
	ReconnectDelayMS int    `toml:"reconnect_delay_ms"`
	Codec            string `toml:"codec"`
	NATSURL          string `toml:"nats_url"`
	ArchiveFile      string `toml:"archive_file"`
	MetricsAddress   string `toml:"metrics_address"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Transport:      "ipc",
		Role:           RoleClient,
		RetryDelay:     DefaultRetryDelay,
		ReconnectDelay: DefaultReconnectDelay,
		Codec:          "json",
	}
}

// Load parses a TOML configuration file on top of Default and validates the
// result. An empty path returns the defaults unvalidated so callers can
// fill in flags first.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil || path == "" {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read parses a TOML configuration file on top of Default without
// validating it. An empty path returns the defaults.
func Read(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return &cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	raw := toFile(cfg)
	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg = raw.toConfig()
	return &cfg, nil
}

func toFile(c Config) fileConfig {
	return fileConfig{
		Transport:        c.Transport,
		SocketFile:       c.SocketFile,
		Role:             c.Role,
		RetryDelayMS:     int(c.RetryDelay / time.Millisecond),
		ReconnectDelayMS: int(c.ReconnectDelay / time.Millisecond),
		Codec:            c.Codec,
		NATSURL:          c.NATSURL,
		ArchiveFile:      c.ArchiveFile,
		MetricsAddress:   c.MetricsAddress,
	}
}

func (f fileConfig) toConfig() Config {
	return Config{
		Transport:      f.Transport,
		SocketFile:     f.SocketFile,
		Role:           f.Role,
		RetryDelay:     time.Duration(f.RetryDelayMS) * time.Millisecond,
		ReconnectDelay: time.Duration(f.ReconnectDelayMS) * time.Millisecond,
		Codec:          f.Codec,
		NATSURL:        f.NATSURL,
		ArchiveFile:    f.ArchiveFile,
		MetricsAddress: f.MetricsAddress,
	}
}
