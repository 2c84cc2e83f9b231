package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
)

// tokenPath returns the expanded token file location
func (c *Config) tokenPath() (string, error) {
	path := c.Auth.TokenFile
	if path == "" {
		path = DefaultTokenFile
	}
	return homedir.Expand(path)
}

// Token returns the bearer token: the inline value if set, otherwise the
// content of the token file. No token is a valid anonymous state and yields
// an empty string without error.
func (c *Config) Token() (string, error) {
	if c.Auth.Token != "" {
		return c.Auth.Token, nil
	}

	path, err := c.tokenPath()
	if err != nil {
		return "", fmt.Errorf("config: token path: %w", err)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("config: read token: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SaveToken persists token to the token file, readable by the owner only
func (c *Config) SaveToken(token string) error {
	path, err := c.tokenPath()
	if err != nil {
		return fmt.Errorf("config: token path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create token dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(strings.TrimSpace(token)+"\n"), 0600); err != nil {
		return fmt.Errorf("config: write token: %w", err)
	}
	return nil
}

// ClearToken removes the token file. A missing file is not an error.
func (c *Config) ClearToken() error {
	path, err := c.tokenPath()
	if err != nil {
		return fmt.Errorf("config: token path: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config: remove token: %w", err)
	}
	return nil
}
