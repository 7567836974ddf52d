// Package config holds the per-user application configuration: where the
// sync settings, the digest cache, the run history and the log file live.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/goccy/go-json"
	"github.com/kitovu/kitovu/internal/filecache"
	"github.com/kitovu/kitovu/internal/history"
	"github.com/kitovu/kitovu/internal/settings"
	"github.com/kitovu/kitovu/internal/utils"
)

const (
	appDir         = "kitovu"
	ConfigFileName = "config.json"
	LogFileName    = "kitovu.log"
)

var (
	DefaultConfigPath   = filepath.Join(xdg.ConfigHome, appDir, ConfigFileName)
	DefaultSettingsPath = filepath.Join(xdg.ConfigHome, appDir, settings.DefaultFileName)
	DefaultCachePath    = filepath.Join(xdg.DataHome, appDir, filecache.FileName)
	DefaultHistoryPath  = filepath.Join(xdg.DataHome, appDir, history.FileName)
	DefaultLogFilePath  = filepath.Join(xdg.StateHome, appDir, "logs", LogFileName)
)

var ErrInvalidWorkers = errors.New("workers must be at least 1")

type Config struct {
	SettingsPath string `json:"settings" mapstructure:"settings"`
	CachePath    string `json:"cache" mapstructure:"cache"`
	HistoryPath  string `json:"history" mapstructure:"history"`
	Workers      int    `json:"workers" mapstructure:"workers"`
	UseKeyring   bool   `json:"keyring" mapstructure:"keyring"`
	Path         string `json:"-" mapstructure:"-"`
}

// Default returns the configuration used when nothing was configured.
func Default() *Config {
	return &Config{
		SettingsPath: DefaultSettingsPath,
		CachePath:    DefaultCachePath,
		HistoryPath:  DefaultHistoryPath,
		Workers:      1,
		UseKeyring:   true,
		Path:         DefaultConfigPath,
	}
}

// Validate makes every path absolute and checks value ranges.
func (c *Config) Validate() error {
	var err error
	if c.SettingsPath, err = utils.ResolvePath(c.SettingsPath); err != nil {
		return fmt.Errorf("settings path: %w", err)
	}
	if c.CachePath, err = utils.ResolvePath(c.CachePath); err != nil {
		return fmt.Errorf("cache path: %w", err)
	}
	// an empty history path disables the journal
	if c.HistoryPath != "" {
		if c.HistoryPath, err = utils.ResolvePath(c.HistoryPath); err != nil {
			return fmt.Errorf("history path: %w", err)
		}
	}
	if c.Path != "" {
		if c.Path, err = utils.ResolvePath(c.Path); err != nil {
			return fmt.Errorf("config path: %w", err)
		}
	}
	if c.Workers < 1 {
		return ErrInvalidWorkers
	}
	return nil
}

func (c *Config) Save() error {
	if err := utils.EnsureParent(c.Path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(c.Path, data, 0o644)
}

// LoadFromFile reads a config file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Path = path

	return cfg, nil
}
