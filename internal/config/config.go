package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Reader   ReaderConfig   `yaml:"reader"`
	Document DocumentConfig `yaml:"document"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
}

type ReaderConfig struct {
	Name                string `yaml:"name"`
	ForceExtendedLength *bool  `yaml:"force_extended_length"`
}

type DocumentConfig struct {
	// MRZ credential fields; alternatively a CAN.
	Number     string `yaml:"number"`
	BirthDate  string `yaml:"birth_date"`  // YYMMDD
	ExpiryDate string `yaml:"expiry_date"` // YYMMDD
	CAN        string `yaml:"can"`

	DataGroups []int `yaml:"data_groups"`
}

type RuntimeConfig struct {
	LogLevel string `yaml:"log_level"`
}

func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	hasMRZ := c.Document.Number != "" || c.Document.BirthDate != "" || c.Document.ExpiryDate != ""
	hasCAN := strings.TrimSpace(c.Document.CAN) != ""

	if hasMRZ && hasCAN {
		return fmt.Errorf("config.document: provide MRZ fields or a CAN, not both")
	}
	if !hasMRZ && !hasCAN {
		return fmt.Errorf("config.document: MRZ fields (number, birth_date, expiry_date) or a CAN is required")
	}
	if hasMRZ {
		if c.Document.Number == "" {
			return fmt.Errorf("config.document.number is required")
		}
		if len(c.Document.BirthDate) != 6 {
			return fmt.Errorf("config.document.birth_date must be YYMMDD")
		}
		if len(c.Document.ExpiryDate) != 6 {
			return fmt.Errorf("config.document.expiry_date must be YYMMDD")
		}
	}
	for _, dg := range c.Document.DataGroups {
		if dg < 1 || dg > 16 {
			return fmt.Errorf("config.document.data_groups: %d out of range 1..16", dg)
		}
	}
	switch c.Runtime.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.runtime.log_level must be debug, info, warn or error")
	}
	return nil
}

// SlogLevel maps the configured level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch c.Runtime.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
