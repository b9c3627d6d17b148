package config

const (
	// DriverSQLite stores jobs in a local SQLite database.
	DriverSQLite = "sqlite"
	// DriverPostgres stores jobs in PostgreSQL via pgx.
	DriverPostgres = "postgres"
)

const (
	defaultConfigPath           = "~/.config/imgbatch/config.toml"
	defaultDataDir              = "~/.local/share/imgbatch"
	defaultOutputDir            = "~/.local/share/imgbatch/compressed"
	defaultLogDir               = "~/.local/share/imgbatch/logs"
	defaultAPIBind              = "127.0.0.1:3000"
	defaultPublicBaseURL        = "http://localhost:3000"
	defaultJPEGQuality          = 50
	defaultFetchTimeoutSeconds  = 30
	defaultMaxImageBytes        = 25 << 20
	defaultUserAgent            = "imgbatch/1.0"
	defaultItemConcurrency      = 4
	defaultTransformConcurrency = 8
	defaultNotifyTimeout        = 10
	defaultKafkaTopic           = "imgbatch.jobs"
	defaultCacheTTLSeconds      = 3600
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:       defaultDataDir,
			OutputDir:     defaultOutputDir,
			LogDir:        defaultLogDir,
			APIBind:       defaultAPIBind,
			PublicBaseURL: defaultPublicBaseURL,
		},
		Database: Database{
			Driver: DriverSQLite,
		},
		Transform: Transform{
			JPEGQuality:         defaultJPEGQuality,
			FetchTimeoutSeconds: defaultFetchTimeoutSeconds,
			MaxImageBytes:       defaultMaxImageBytes,
			UserAgent:           defaultUserAgent,
		},
		Workers: Workers{
			ItemConcurrency:      defaultItemConcurrency,
			TransformConcurrency: defaultTransformConcurrency,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			KafkaTopic:     defaultKafkaTopic,
		},
		Cache: Cache{
			TTLSeconds: defaultCacheTTLSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
