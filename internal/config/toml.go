// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Replays ReplaysConfig `toml:"replays"`
	Console ConsoleConfig `toml:"console"`
	Overlay OverlayConfig `toml:"overlay"`
	Cache   CacheConfig   `toml:"cache"`
	Watch   WatchConfig   `toml:"watch"`
	Log     LogConfig     `toml:"log"`
}

// ReplaysConfig maps the replay directory and the tracked player.
type ReplaysConfig struct {
	Dir         *string `toml:"dir"`
	ConnectCode *string `toml:"connect-code"`
}

// ConsoleConfig maps the console address.
type ConsoleConfig struct {
	Transport     *string `toml:"transport"`
	Host          *string `toml:"host"`
	Port          *int    `toml:"port"`
	RetryInterval *string `toml:"retry-interval"`
}

// OverlayConfig maps display settings.
type OverlayConfig struct {
	WSAddr        *string `toml:"ws-addr"`
	SettleDelayMs *int    `toml:"settle-delay-ms"`
}

// CacheConfig maps the replay cache switch.
type CacheConfig struct {
	Enabled *bool   `toml:"enabled"`
	Path    *string `toml:"path"`
}

// WatchConfig maps the replay directory watcher switch.
type WatchConfig struct {
	Enabled *bool `toml:"enabled"`
}

// LogConfig maps logging settings.
type LogConfig struct {
	Level *string `toml:"level"`
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}
