// Package config loads the yardsale YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/yardsale/internal/engine"
	"github.com/talgya/yardsale/internal/entropy"
)

type Config struct {
	Simulation engine.Params `yaml:"simulation"`

	CadenceMs     int     `yaml:"cadence_ms"`     // Tick interval; 0 runs back to back
	OligarchShare float64 `yaml:"oligarch_share"` // Stop when one agent holds this share; 0 disables
	LogLevel      string  `yaml:"log_level"`

	Entropy Entropy `yaml:"entropy"`
	Storage Storage `yaml:"storage"`
	API     API     `yaml:"api"`
}

type Entropy struct {
	Source string `yaml:"source"` // seeded | crypto | random_org
	Seed   uint64 `yaml:"seed"`   // 0 picks a random seed
	KeyEnv string `yaml:"key_env"`
}

type Storage struct {
	DBPath         string `yaml:"db_path"`          // Empty disables persistence
	FrameLogDir    string `yaml:"frame_log_dir"`    // Empty disables the frame log
	SaveEveryTicks int    `yaml:"save_every_ticks"` // Autosave cadence; 0 saves only on shutdown
}

type API struct {
	Port        int    `yaml:"port"` // 0 disables the HTTP API
	AdminKeyEnv string `yaml:"admin_key_env"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Simulation:    engine.DefaultParams(),
		CadenceMs:     int(engine.DefaultInterval / time.Millisecond),
		OligarchShare: 0.95,
		LogLevel:      "info",
		Entropy: Entropy{
			Source: entropy.KindSeeded,
			KeyEnv: "RANDOM_ORG_API_KEY",
		},
		Storage: Storage{
			DBPath:         "data/yardsale.db",
			FrameLogDir:    "data/frames",
			SaveEveryTicks: 50,
		},
		API: API{
			Port:        8080,
			AdminKeyEnv: "YARDSALE_ADMIN_KEY",
		},
	}
}

// Load reads path over the defaults. Keys absent from the file keep their
// default values.
func Load(path string) (Config, error) {
	c := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return c, fmt.Errorf("%s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Simulation.Validate(); err != nil {
		return fmt.Errorf("simulation: %w", err)
	}
	if c.CadenceMs < 0 {
		return fmt.Errorf("cadence_ms must not be negative, got %d", c.CadenceMs)
	}
	if c.OligarchShare < 0 || c.OligarchShare > 1 {
		return fmt.Errorf("oligarch_share must be in [0, 1], got %v", c.OligarchShare)
	}
	switch c.Entropy.Source {
	case "", entropy.KindSeeded, entropy.KindCrypto, entropy.KindRandomOrg:
	default:
		return fmt.Errorf("entropy.source: unknown %q", c.Entropy.Source)
	}
	if c.Storage.SaveEveryTicks < 0 {
		return fmt.Errorf("storage.save_every_ticks must not be negative, got %d", c.Storage.SaveEveryTicks)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Cadence returns the tick interval.
func (c Config) Cadence() time.Duration {
	return time.Duration(c.CadenceMs) * time.Millisecond
}

// AdminKey reads the admin bearer token from the configured env var.
func (c Config) AdminKey() string {
	return os.Getenv(c.API.AdminKeyEnv)
}

// EntropyKey reads the random.org key from the configured env var.
func (c Config) EntropyKey() string {
	return os.Getenv(c.Entropy.KeyEnv)
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// ParseLevel maps a level name to a slog level. Empty means info.
func ParseLevel(name string) (slog.Level, error) {
	if name == "" {
		return slog.LevelInfo, nil
	}
	level, ok := logLevels[strings.ToLower(name)]
	if !ok {
		return slog.LevelInfo, fmt.Errorf("log_level must be one of debug, info, warn, error; got %q", name)
	}
	return level, nil
}
