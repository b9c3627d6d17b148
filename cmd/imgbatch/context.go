package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"imgbatch/internal/config"
)

type commandContext struct {
	configFlag *string
	urlFlag    *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, urlFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		urlFlag:    urlFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// daemonURL prefers --url and falls back to the configured bind address.
func (c *commandContext) daemonURL() (string, error) {
	if c.urlFlag != nil && strings.TrimSpace(*c.urlFlag) != "" {
		return strings.TrimSpace(*c.urlFlag), nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	return cfg.DaemonURL(), nil
}

func (c *commandContext) withClient(fn func(*apiClient) error) error {
	base, err := c.daemonURL()
	if err != nil {
		return err
	}
	client, err := newAPIClient(base)
	if err != nil {
		return err
	}
	return fn(client)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
