package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateTransform(); err != nil {
		return err
	}
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		return errors.New("paths.output_dir must be set")
	}
	if err := validateHTTPURL("paths.public_base_url", c.Paths.PublicBaseURL); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Database.SQLitePath) == "" {
			return errors.New("database.sqlite_path must be set when database.driver is sqlite")
		}
	case DriverPostgres:
		if c.Database.PostgresDSN == "" {
			return errors.New("database.postgres_dsn must be set when database.driver is postgres (or set IMGBATCH_POSTGRES_DSN)")
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}
	return nil
}

func (c *Config) validateTransform() error {
	if c.Transform.JPEGQuality < 1 || c.Transform.JPEGQuality > 100 {
		return errors.New("transform.jpeg_quality must be between 1 and 100")
	}
	if c.Transform.FetchTimeoutSeconds <= 0 {
		return errors.New("transform.fetch_timeout_seconds must be positive")
	}
	if c.Transform.MaxImageBytes <= 0 {
		return errors.New("transform.max_image_bytes must be positive")
	}
	return nil
}

func (c *Config) validateWorkers() error {
	return ensurePositiveMap(map[string]int{
		"workers.item_concurrency":      c.Workers.ItemConcurrency,
		"workers.transform_concurrency": c.Workers.TransformConcurrency,
	})
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	if c.Notifications.WebhookURL != "" {
		if err := validateHTTPURL("notifications.webhook_url", c.Notifications.WebhookURL); err != nil {
			return err
		}
	}
	if c.Notifications.SigningSecret != "" && c.Notifications.WebhookURL == "" {
		return errors.New("notifications.signing_secret requires notifications.webhook_url")
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.RedisAddr == "" {
		return nil
	}
	if c.Cache.TTLSeconds <= 0 {
		return errors.New("cache.ttl_seconds must be positive when cache.redis_addr is set")
	}
	if c.Cache.RedisDB < 0 {
		return errors.New("cache.redis_db must be >= 0")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

func validateHTTPURL(key, value string) error {
	parsed, err := url.Parse(value)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", key, value)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
