package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/agentsvc/agentsvcd/internal/pathdetect"
)

// ErrSuperuserRefused is returned by EnsureStartable when the process is
// running with superuser identity and enableRootCompatibility is false.
var ErrSuperuserRefused = fmt.Errorf("config: refusing to start as superuser without enableRootCompatibility")

// Load reads path as JSON into a Config using viper. If the file does
// not exist, it writes Defaults() to path first (spec §4.9 step 2).
func Load(path string) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		defaults := Defaults()
		if err := Save(path, defaults); err != nil {
			return Config{}, fmt.Errorf("config: writing defaults: %w", err)
		}
		return defaults, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := Defaults()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Save persists cfg to path as indented JSON, creating parent
// directories as needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: creating directory for %s: %w", path, err)
	}
	encoded, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encoding: %w", err)
	}
	return os.WriteFile(path, encoded, 0o644)
}

// EnsureDirs creates the configuration, data, log, and pid directories
// (spec §4.9 step 1).
func EnsureDirs(cfg Config) error {
	dirs := []string{
		cfg.DataDir,
		filepath.Dir(cfg.LogFile),
		filepath.Dir(cfg.PidFile),
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: creating %s: %w", dir, err)
		}
	}
	return nil
}

// EnsureStartable refuses to start if the process is superuser and root
// compatibility has not been opted into (spec §4.9 step 3).
func EnsureStartable(cfg Config) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	if os.Geteuid() == 0 && !cfg.EnableRootCompatibility {
		return ErrSuperuserRefused
	}
	return nil
}

// RunPathDetector runs the path-autodetection collaborator and merges
// any proposal into cfg in place, returning whether it changed
// anything (spec §4.9 step 4).
func RunPathDetector(cfg *Config) bool {
	result := pathdetect.Detect(cfg.AgentPath)
	if !result.Found {
		return false
	}
	changed := cfg.AgentPath != result.AgentPath || cfg.ToolchainBin != result.ToolchainBin
	cfg.AgentPath = result.AgentPath
	cfg.ToolchainBin = result.ToolchainBin
	return changed
}
