// Package config reads the two TOML files a chatsync install uses.
//
// ~/.chatsync/config.toml holds Config, the install-wide settings. It may be
// absent; Load then returns the zero Config.
//
// ~/.chatsync/sessions/<name>/session.toml holds a SessionConfig. LoadSession
// validates the server and API URLs, derives user_id from the access token
// when it is unset, and fills zero values from the Default* constants: page
// size 20, invoke timeout 10s, send timeout 15s, seen dwell 1s, visibility
// ratio 0.8 and 10 REST requests per second.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the install-wide config.toml.
type Config struct {
	// DefaultSession is used when no --session flag is given.
	DefaultSession string `toml:"default_session"`
}

// Load reads the install-wide config. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg, err := decodeFile[Config](path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Config{}, nil
	}
	return cfg, err
}

// SetDefaultSession records name as the default session in the config at
// path, keeping its other settings.
func SetDefaultSession(path, name string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	cfg.DefaultSession = name
	return Save(path, cfg)
}

func decodeFile[T any](path string) (*T, error) {
	var v T
	if _, err := toml.DecodeFile(path, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Save encodes cfg as TOML and replaces path with it atomically. The file is
// readable by the owner only since session configs carry access tokens.
func Save(path string, cfg any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := toml.NewEncoder(tmp).Encode(cfg); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
