package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeDatabase(); err != nil {
		return err
	}
	c.normalizeTransform()
	c.normalizeNotifications()
	c.normalizeCache()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = filepath.Join(c.Paths.DataDir, "compressed")
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.Paths.PublicBaseURL), "/")
	if c.Paths.PublicBaseURL == "" {
		c.Paths.PublicBaseURL = "http://" + c.Paths.APIBind
	}
	return nil
}

func (c *Config) normalizeDatabase() error {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if value, ok := os.LookupEnv("IMGBATCH_POSTGRES_DSN"); ok && strings.TrimSpace(value) != "" {
		c.Database.PostgresDSN = strings.TrimSpace(value)
		c.Database.Driver = DriverPostgres
	}
	c.Database.PostgresDSN = strings.TrimSpace(c.Database.PostgresDSN)
	if strings.TrimSpace(c.Database.SQLitePath) == "" {
		c.Database.SQLitePath = filepath.Join(c.Paths.DataDir, "imgbatch.db")
	}
	var err error
	if c.Database.SQLitePath, err = expandPath(c.Database.SQLitePath); err != nil {
		return fmt.Errorf("database.sqlite_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeTransform() {
	c.Transform.UserAgent = strings.TrimSpace(c.Transform.UserAgent)
	if c.Transform.UserAgent == "" {
		c.Transform.UserAgent = defaultUserAgent
	}
}

func (c *Config) normalizeNotifications() {
	if value, ok := os.LookupEnv("IMGBATCH_WEBHOOK_URL"); ok {
		c.Notifications.WebhookURL = value
	}
	if value, ok := os.LookupEnv("IMGBATCH_SIGNING_SECRET"); ok {
		c.Notifications.SigningSecret = value
	}
	c.Notifications.WebhookURL = strings.TrimSpace(c.Notifications.WebhookURL)
	c.Notifications.SigningSecret = strings.TrimSpace(c.Notifications.SigningSecret)
	c.Notifications.KafkaTopic = strings.TrimSpace(c.Notifications.KafkaTopic)
	if c.Notifications.KafkaTopic == "" {
		c.Notifications.KafkaTopic = defaultKafkaTopic
	}
	brokers := make([]string, 0, len(c.Notifications.KafkaBrokers))
	for _, broker := range c.Notifications.KafkaBrokers {
		if trimmed := strings.TrimSpace(broker); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	c.Notifications.KafkaBrokers = brokers
}

func (c *Config) normalizeCache() {
	if value, ok := os.LookupEnv("IMGBATCH_REDIS_ADDR"); ok {
		c.Cache.RedisAddr = value
	}
	c.Cache.RedisAddr = strings.TrimSpace(c.Cache.RedisAddr)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
