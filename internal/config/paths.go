package config

import (
	"os"
	"path/filepath"
)

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil && h != "" {
		return h
	}
	return "."
}

func joinHome(home string, parts ...string) string {
	return filepath.Join(append([]string{home}, parts...)...)
}
