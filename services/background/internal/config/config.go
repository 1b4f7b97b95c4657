package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	LogFormat   string `yaml:"logFormat"`
	AppVersion  string `yaml:"appVersion"`
	ContextName string `yaml:"contextName"`
	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr       string `yaml:"redisAddr"`
	RedisPassword   string `yaml:"redisPassword"`
	BusPrefix       string `yaml:"busPrefix"`
	MessengerPrefix string `yaml:"messengerPrefix"`
	// SessionTTLSeconds bounds how long parked page payloads live in redis.
	SessionTTLSeconds int `yaml:"sessionTTLSeconds"`

	// ContextTokenSecret enables context tokens on /messages and mounts
	// /token and /payloads/.
	ContextTokenSecret string   `yaml:"contextTokenSecret"`
	AllowedContexts    []string `yaml:"allowedContexts"`

	Vendor        string `yaml:"vendor"`
	VendorURL     string `yaml:"vendorURL"`
	VendorPattern string `yaml:"vendorPattern"`

	CORSOrigins []string `yaml:"corsOrigins"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("BACKGROUND_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("CONTEXT_TOKEN_SECRET"); v != "" {
		cfg.ContextTokenSecret = v
	}
	if v := os.Getenv("ALLOWED_CONTEXTS"); v != "" {
		cfg.AllowedContexts = splitCSV(v)
	}
	if v := os.Getenv("VENDOR_URL"); v != "" {
		cfg.VendorURL = v
	}
	if v := os.Getenv("SESSION_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SessionTTLSeconds = n
		}
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.ContextName == "" {
		cfg.ContextName = "background"
	}
	if cfg.Vendor == "" {
		cfg.Vendor = "vbee"
	}
	if cfg.VendorPattern == "" {
		cfg.VendorPattern = "https://*.vbee.vn/api/*"
	}
	if cfg.SessionTTLSeconds <= 0 {
		cfg.SessionTTLSeconds = 3600
	}
	if len(cfg.AllowedContexts) == 0 {
		cfg.AllowedContexts = []string{"popup", "page", "panel"}
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.ContextTokenSecret != "" && len(strings.TrimSpace(cfg.ContextTokenSecret)) < 32 {
		return errors.New("config: contextTokenSecret must be at least 32 bytes")
	}
	if cfg.VendorURL != "" {
		u, err := url.Parse(cfg.VendorURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config: vendorURL %q must be an absolute http(s) URL", cfg.VendorURL)
		}
	}
	return nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
