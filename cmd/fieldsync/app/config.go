package app

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/agentstation/fieldsync/internal/events"
	"github.com/agentstation/fieldsync/internal/locks"
	"github.com/agentstation/fieldsync/pkg/constants"
	"github.com/agentstation/fieldsync/pkg/errors"
)

// EnvPrefix prefixes every environment variable the CLI reads.
const EnvPrefix = "FIELDSYNC"

// Config holds the application configuration loaded from flags, the
// environment, .env files and the config file.
type Config struct {
	// Global flags
	Verbose bool   `mapstructure:"verbose"`
	Quiet   bool   `mapstructure:"quiet"`
	NoColor bool   `mapstructure:"no_color"`
	Format  string `mapstructure:"format"`

	// Config file
	ConfigFile string `mapstructure:"-"`

	// Logging configuration
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogOutput string `mapstructure:"log_output"`

	Store   StoreConfig        `mapstructure:"store"`
	Redis   locks.RedisConfig  `mapstructure:"redis"`
	Kafka   events.KafkaConfig `mapstructure:"kafka"`
	Metrics MetricsConfig      `mapstructure:"metrics"`
	Fields  FieldsConfig       `mapstructure:"fields"`
	Sync    SyncConfig         `mapstructure:"sync"`
	Cache   CacheConfig        `mapstructure:"cache"`

	// Credentials maps data source ids to connector credentials.
	Credentials map[string]string `mapstructure:"credentials"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver  string `mapstructure:"driver"` // postgres, sqlite or memory
	DSN     string `mapstructure:"dsn"`
	Migrate bool   `mapstructure:"migrate"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// FieldsConfig extends the built-in entity kinds.
type FieldsConfig struct {
	File string `mapstructure:"file"`
}

// SyncConfig holds sync defaults.
type SyncConfig struct {
	BatchSize   int    `mapstructure:"batch_size"`
	TriggeredBy string `mapstructure:"triggered_by"`
}

// CacheConfig holds the connector cache windows.
type CacheConfig struct {
	Fresh time.Duration `mapstructure:"fresh"`
	Stale time.Duration `mapstructure:"stale"`
}

var defaults = map[string]any{
	"verbose":             false,
	"quiet":               false,
	"no_color":            false,
	"format":              "",
	"log_level":           "",
	"log_format":          "auto",
	"log_output":          "stderr",
	"store.driver":        "sqlite",
	"store.dsn":           "fieldsync.db",
	"store.migrate":       true,
	"redis.addr":          "",
	"redis.password":      "",
	"redis.db":            0,
	"kafka.brokers":       []string{},
	"kafka.topic":         "fieldsync.sync-events",
	"kafka.batch_timeout": 100 * time.Millisecond,
	"kafka.compression":   "snappy",
	"metrics.addr":        "",
	"fields.file":         "",
	"sync.batch_size":     constants.DefaultBatchSize,
	"sync.triggered_by":   "cli",
	"cache.fresh":         constants.CacheFreshWindow,
	"cache.stale":         constants.CacheStaleWindow,
}

// LoadConfig loads configuration from all sources in order of precedence:
//  1. Command-line flags (applied later by UpdateFromFlags)
//  2. FIELDSYNC_* environment variables
//  3. .env and .env.local files
//  4. Config file (--config, ./.fieldsync.yaml or ~/.fieldsync.yaml)
//  5. Defaults
func LoadConfig(configFile string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(".fieldsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, errors.NewConfigError("config", "read config file", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errors.NewConfigError("config", "decode config", err)
	}
	config.ConfigFile = v.ConfigFileUsed()

	// LOG_* without the prefix are honoured for parity with the logging package
	config.LogLevel = firstNonEmpty(config.LogLevel, os.Getenv("LOG_LEVEL"))
	if os.Getenv(EnvPrefix+"_LOG_FORMAT") == "" {
		config.LogFormat = firstNonEmpty(os.Getenv("LOG_FORMAT"), config.LogFormat)
	}
	if os.Getenv(EnvPrefix+"_LOG_OUTPUT") == "" {
		config.LogOutput = firstNonEmpty(os.Getenv("LOG_OUTPUT"), config.LogOutput)
	}

	return config, config.Validate()
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return errors.NewConfigError("store", "driver must be one of postgres, sqlite, memory; got "+c.Store.Driver, nil)
	}
	if c.Store.Driver != "memory" && c.Store.DSN == "" {
		return errors.NewConfigError("store", "dsn is required", nil)
	}
	if c.Sync.BatchSize <= 0 {
		return errors.NewConfigError("sync", "batch_size must be positive", nil)
	}
	if c.Cache.Fresh <= 0 || c.Cache.Stale < c.Cache.Fresh {
		return errors.NewConfigError("cache", "fresh must be positive and no longer than stale", nil)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.NewConfigError("kafka", "topic is required when brokers are set", nil)
	}
	return nil
}

// UpdateFromFlags updates config values from parsed command flags.
func (c *Config) UpdateFromFlags(verbose, quiet, noColor bool, format, logLevel string) {
	c.Verbose = c.Verbose || verbose
	c.Quiet = c.Quiet || quiet
	c.NoColor = c.NoColor || noColor
	if format != "" {
		c.Format = format
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
}

// Credential resolves the credential for a data source: the explicit value,
// then credentials.<id> from the config, then FIELDSYNC_CREDENTIAL_<ID>.
func (c *Config) Credential(dataSourceID, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if cred, ok := c.Credentials[dataSourceID]; ok && cred != "" {
		return cred
	}
	return os.Getenv(credentialEnv(dataSourceID))
}

func credentialEnv(dataSourceID string) string {
	key := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, dataSourceID)
	return EnvPrefix + "_CREDENTIAL_" + key
}

// loadEnvFiles loads environment variables from .env files. Variables
// already set are kept, so .env.local only fills what .env left unset.
func loadEnvFiles() {
	for _, envFile := range []string{".env", ".env.local"} {
		_ = godotenv.Load(envFile)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
