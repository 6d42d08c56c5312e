package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models microtask.yml.
type Config struct {
	Server struct {
		IP        string `yaml:"ip"`
		Port      int    `yaml:"port"`
		HTTPAddr  string `yaml:"http_addr"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Storage struct {
		Database string `yaml:"database"`
	} `yaml:"storage"`
	Logging struct {
		File   string `yaml:"file"`
		Level  string `yaml:"level"`
		Hidden bool   `yaml:"hidden"`
	} `yaml:"logging"`
	Bugzilla struct {
		RefreshInterval time.Duration `yaml:"refresh_interval"`
		RequestTimeout  time.Duration `yaml:"request_timeout"`
	} `yaml:"bugzilla"`
	TimeCategories []CategorySeed `yaml:"time_categories"`
}

// CategorySeed is a time category created on an empty database.
type CategorySeed struct {
	Name  string   `yaml:"name"`
	Label string   `yaml:"label"`
	Codes []string `yaml:"codes"`
}

var levels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config.server.port %d out of range", c.Server.Port)
	}
	if c.Logging.Level != "" && !levels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("config.logging.level must be one of debug, info, warn, error")
	}
	if c.Bugzilla.RefreshInterval < 0 {
		return fmt.Errorf("config.bugzilla.refresh_interval must not be negative")
	}
	if c.Bugzilla.RequestTimeout < 0 {
		return fmt.Errorf("config.bugzilla.request_timeout must not be negative")
	}
	return ValidateCategories(c.TimeCategories)
}

// ValidateCategories rejects empty or duplicate category names, compared
// without case, and empty code names.
func ValidateCategories(seeds []CategorySeed) error {
	seen := make(map[string]bool, len(seeds))
	for i, s := range seeds {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("time category %d has empty name", i)
		}
		key := strings.ToLower(name)
		if seen[key] {
			return fmt.Errorf("time category %s listed more than once", name)
		}
		seen[key] = true
		for _, code := range s.Codes {
			if strings.TrimSpace(code) == "" {
				return fmt.Errorf("time category %s has empty code name", name)
			}
		}
	}
	return nil
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Unset fields
// keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if path is empty or does not exist.
func LoadOptional(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	cfg, err := FromFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}

// CategoriesFromYAML parses a time_categories document, either a bare list
// or a mapping with a time_categories key.
func CategoriesFromYAML(data []byte) ([]CategorySeed, error) {
	var seeds []CategorySeed
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		var doc struct {
			TimeCategories []CategorySeed `yaml:"time_categories"`
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid categories yaml: %w", err)
		}
		seeds = doc.TimeCategories
	}
	if err := ValidateCategories(seeds); err != nil {
		return nil, err
	}
	return seeds, nil
}

const defaultTemplate = `server:
  ip: 127.0.0.1
  port: 5000
  # read-only admin HTTP API, disabled when empty
  http_addr: ""
  # bearer tokens for the admin HTTP API are required when set
  jwt_secret: ""

storage:
  database: microtask.db

logging:
  file: microtask.log
  level: info
  hidden: false

bugzilla:
  # background refresh of every instance, disabled when 0
  refresh_interval: 0s
  request_timeout: 30s

# created when the database has no time categories yet
time_categories: []
`
