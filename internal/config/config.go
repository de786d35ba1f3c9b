// Package config loads service configuration from dotenv files and the process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultPort            = 8080
	defaultShutdownTimeout = 10 * time.Second
)

// DefaultEnvFiles are read in order; a key defined in an earlier file wins.
var DefaultEnvFiles = []string{".env", ".env.dev"}

// Config is the explicit configuration handed to the server.
type Config struct {
	// Port 0 picks a free port.
	Port int
	Test string
	AI   string

	ShutdownTimeout time.Duration

	// TimingCrossOrigin is sent as Timing-Allow-Origin when non-empty.
	TimingCrossOrigin string
}

// Addr returns the listen address for Port.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// Load reads DefaultEnvFiles into the environment and builds a Config from it.
func Load() (Config, error) {
	return LoadFiles(DefaultEnvFiles...)
}

// LoadFiles is Load with explicit dotenv files. Missing files are skipped and
// variables already present in the environment are never overridden.
func LoadFiles(files ...string) (Config, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from a lookup function such as os.LookupEnv.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Config{
		Port:            defaultPort,
		ShutdownTimeout: defaultShutdownTimeout,
	}
	cfg.Test, _ = lookup("TEST")
	cfg.AI, _ = lookup("AI")
	cfg.TimingCrossOrigin, _ = lookup("SERVER_TIMING_CROSS_ORIGIN")

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid PORT %q: must be 0-65535", v)
		}
		cfg.Port = port
	}
	if v, ok := lookup("SHUTDOWN_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SHUTDOWN_TIMEOUT %q: %w", v, err)
		}
		if d <= 0 {
			return Config{}, fmt.Errorf("invalid SHUTDOWN_TIMEOUT %q: must be positive", v)
		}
		cfg.ShutdownTimeout = d
	}
	return cfg, nil
}
