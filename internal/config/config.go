package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DBFile         string `yaml:"db"`
	AdminAddr      string `yaml:"adminAddr"`
	APIAddr        string `yaml:"apiAddr"`
	BaseURL        string `yaml:"baseURL"`
	IdentitySecret string `yaml:"identitySecret"`
	SessionExpiry  string `yaml:"sessionExpiry"`
	LogLevel       string `yaml:"logLevel"`

	VAPIDPublicKey  string `yaml:"vapidPublicKey"`
	VAPIDPrivateKey string `yaml:"vapidPrivateKey"`
	VAPIDSubject    string `yaml:"vapidSubject"`

	sessionExpiry time.Duration
	logLevel      slog.Level
}

func defaults() *Config {
	return &Config{
		DBFile:        "dmchat.db",
		AdminAddr:     "localhost:8081",
		APIAddr:       ":8080",
		BaseURL:       "http://localhost:8080",
		SessionExpiry: "24h",
		LogLevel:      "info",
	}
}

// Load reads the optional YAML file named by DMCHAT_CONFIG and then the
// environment, which takes precedence. In cliMode the identity secret is not
// required.
func Load(cliMode bool) (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("DMCHAT_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.DBFile = getEnv("DMCHAT_DB", cfg.DBFile)
	cfg.AdminAddr = getEnv("ADMIN_ADDR", cfg.AdminAddr)
	cfg.APIAddr = getEnv("API_ADDR", cfg.APIAddr)
	cfg.BaseURL = getEnv("BASE_URL", cfg.BaseURL)
	cfg.IdentitySecret = getEnv("IDENTITY_SECRET", cfg.IdentitySecret)
	cfg.SessionExpiry = getEnv("SESSION_EXPIRY", cfg.SessionExpiry)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.VAPIDPublicKey = getEnv("VAPID_PUBLIC_KEY", cfg.VAPIDPublicKey)
	cfg.VAPIDPrivateKey = getEnv("VAPID_PRIVATE_KEY", cfg.VAPIDPrivateKey)
	cfg.VAPIDSubject = getEnv("VAPID_SUBJECT", cfg.VAPIDSubject)

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate(cliMode bool) error {
	if c.IdentitySecret == "" && !cliMode {
		return fmt.Errorf("IDENTITY_SECRET is required")
	}

	d, err := time.ParseDuration(c.SessionExpiry)
	if err != nil {
		return fmt.Errorf("invalid SESSION_EXPIRY: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("SESSION_EXPIRY must be greater than 0")
	}
	c.sessionExpiry = d

	if err := c.logLevel.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q", c.LogLevel)
	}

	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}

	return nil
}

func (c *Config) TokenExpiry() time.Duration {
	return c.sessionExpiry
}

func (c *Config) Level() slog.Level {
	return c.logLevel
}

// PushEnabled reports whether web push notifications are configured.
func (c *Config) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
