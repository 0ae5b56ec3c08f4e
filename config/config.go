// Package config loads typed configuration from environment variables.
//
// A .env file in the working directory is loaded once on first use; variables
// already present in the environment win over the file. Structs are parsed
// with caarlos0/env, so fields declare their variable with an `env` tag.
// Fields whose variable is unset keep their current value, which lets callers
// start from a DefaultXConfig() value and override only what is set.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	dotenvOnce sync.Once
	dotenvErr  error
)

// loadDotenv reads .env once. A missing file is not an error.
func loadDotenv() error {
	dotenvOnce.Do(func() {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			dotenvErr = fmt.Errorf("load .env: %w", err)
		}
	})

	return dotenvErr
}

// Load overrides the fields of cfg from the environment.
//
// Parameters:
//   - cfg: Pointer to a struct with `env` tags, pre-filled with defaults
//
// Returns:
//   - An error if .env is unreadable or a variable cannot be parsed
func Load[T any](cfg *T) error {
	if err := loadDotenv(); err != nil {
		return err
	}

	return LoadFrom(cfg, nil)
}

// LoadFrom parses cfg from the given variables instead of the process
// environment. A nil map means the process environment.
func LoadFrom[T any](cfg *T, environment map[string]string) error {
	opts := env.Options{}
	if environment != nil {
		opts.Environment = environment
	}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("parse config %T: %w", cfg, err)
	}

	return nil
}
