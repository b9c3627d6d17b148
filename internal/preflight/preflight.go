package preflight

import (
	"context"
	"strings"

	"imgbatch/internal/config"
)

// MinFreeBytes is the free space below which the output directory check fails.
const MinFreeBytes = 256 << 20

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Pinger is satisfied by the job store backends.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config, db Pinger) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		CheckFreeSpace("Output free space", cfg.Paths.OutputDir, MinFreeBytes),
	}
	if db != nil {
		results = append(results, CheckDatabase(ctx, cfg.Database.Driver, db))
	}
	if endpoint := strings.TrimSpace(cfg.Notifications.WebhookURL); endpoint != "" {
		results = append(results, CheckEndpoint(ctx, "Webhook", endpoint))
	}
	for _, broker := range cfg.Notifications.KafkaBrokers {
		results = append(results, CheckTCP(ctx, "Kafka broker", broker))
	}
	if addr := strings.TrimSpace(cfg.Cache.RedisAddr); addr != "" {
		results = append(results, CheckTCP(ctx, "Redis", addr))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
