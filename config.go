package fieldcall

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// LogConfig drives the rotating file logger.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type Config struct {
	// SessionID addresses the shared signaling record. Both parties of a
	// call must agree on it; the default gives the historical single
	// global call slot.
	SessionID string `yaml:"session_id"`

	RelayURL       string   `yaml:"relay_url"`
	ICEServers     []string `yaml:"ice_servers"`
	SiteServiceURL string   `yaml:"site_service_url"`

	// PageSize is the wearable's site-list page length. Capped at 5 since
	// ordinal commands only cover "one" through "five".
	PageSize int `yaml:"page_size"`

	// Sites is the wearable's fixed site list, in display order.
	Sites []SiteEntry `yaml:"sites"`

	Log LogConfig `yaml:"log"`
}

type SiteEntry struct {
	Label       string `yaml:"label"`
	Reference   string `yaml:"reference"`
	DisplayName string `yaml:"display_name"`
}

const (
	DefaultSessionID = "field-call"
	DefaultRelayURL  = "ws://127.0.0.1:8787"
	DefaultPageSize  = 5
)

func DefaultConfig() *Config {
	return &Config{
		SessionID: DefaultSessionID,
		RelayURL:  DefaultRelayURL,
		PageSize:  DefaultPageSize,
		Log: LogConfig{
			File:       "fieldcall.log",
			MaxSizeMB:  10,
			MaxBackups: 2,
			MaxAgeDays: 3,
		},
	}
}

// LoadConfig reads a YAML config, applying defaults to zero-value fields.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := new(Config)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.SessionID == "" {
		c.SessionID = def.SessionID
	}
	if c.RelayURL == "" {
		c.RelayURL = def.RelayURL
	}
	if c.PageSize <= 0 {
		c.PageSize = def.PageSize
	}
	if c.PageSize > 5 {
		c.PageSize = 5
	}
	if c.Log.File == "" {
		c.Log.File = def.Log.File
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = def.Log.MaxSizeMB
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = def.Log.MaxBackups
	}
	if c.Log.MaxAgeDays <= 0 {
		c.Log.MaxAgeDays = def.Log.MaxAgeDays
	}
}
