package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/labrat-lab/labrat/pkg/fsutil"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. LABRAT_INDEX_PATH.
	EnvPrefix = "LABRAT"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultIndexPath is the default location of the merged index.
	DefaultIndexPath = "./index.json"

	// DefaultConcurrency is the default number of packages read in parallel.
	DefaultConcurrency = 4

	// DefaultS3Prefix is the default key prefix for run packages in S3.
	DefaultS3Prefix = "packages"

	// DefaultS3IndexKey is the default key the index is uploaded to.
	DefaultS3IndexKey = "index.json"

	// DefaultAPIListen is the default API listen address.
	DefaultAPIListen = ":8080"

	// DefaultRequestsPerMinute is the default per-IP API rate limit.
	DefaultRequestsPerMinute = 600

	// DefaultShutdownTimeout bounds graceful API shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// Config is the root configuration for labrat.
type Config struct {
	Global   GlobalConfig   `yaml:"global" mapstructure:"global"`
	Index    IndexConfig    `yaml:"index" mapstructure:"index"`
	Storage  StorageConfig  `yaml:"storage" mapstructure:"storage"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	API      APIConfig      `yaml:"api" mapstructure:"api"`

	// Machines are the devices under test. Decoded separately so that
	// attribute names keep their case and order.
	Machines []Machine `yaml:"machines" mapstructure:"-"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// IndexConfig contains settings for building and reading the index.
type IndexConfig struct {
	Path        string `yaml:"path" mapstructure:"path"`
	ResultsDir  string `yaml:"results_dir,omitempty" mapstructure:"results_dir"`
	LockFile    string `yaml:"lock_file,omitempty" mapstructure:"lock_file"`
	Owner       string `yaml:"owner,omitempty" mapstructure:"owner"`
	Concurrency int    `yaml:"concurrency,omitempty" mapstructure:"concurrency"`
}

// StorageConfig contains remote storage backends for run packages.
type StorageConfig struct {
	S3 S3Config `yaml:"s3" mapstructure:"s3"`
}

// S3Config contains S3-compatible storage settings.
type S3Config struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	IndexKey        string `yaml:"index_key,omitempty" mapstructure:"index_key"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
}

// DatabaseConfig contains settings for the SQL mirror of the index.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// APIConfig contains HTTP query API settings.
type APIConfig struct {
	Listen          string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins     []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit       RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout,omitempty" mapstructure:"shutdown_timeout"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// Load reads and merges the configuration files at paths, in order, then
// applies LABRAT_* environment overrides and defaults. With no paths only
// defaults and the environment are used.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var machines []Machine

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		v.SetConfigType(configType(path))

		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}

		var doc struct {
			Machines []Machine `yaml:"machines"`
		}

		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing machines in %s: %w", path, err)
		}

		if doc.Machines != nil {
			machines = doc.Machines
		}
	}

	settings := v.AllSettings()
	delete(settings, "machines")

	var cfg Config

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("creating config decoder: %w", err)
	}

	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.Machines = machines

	return &cfg, nil
}

// configType maps a file extension to a viper config type. JSON files are
// read as JSON; everything else as YAML.
func configType(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return "json"
	}

	return "yaml"
}

// setDefaults registers every key so environment overrides apply even when
// no file sets it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)

	v.SetDefault("index.path", DefaultIndexPath)
	v.SetDefault("index.results_dir", "")
	v.SetDefault("index.lock_file", "")
	v.SetDefault("index.owner", "")
	v.SetDefault("index.concurrency", DefaultConcurrency)

	v.SetDefault("storage.s3.enabled", false)
	v.SetDefault("storage.s3.endpoint_url", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.prefix", DefaultS3Prefix)
	v.SetDefault("storage.s3.index_key", DefaultS3IndexKey)
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")
	v.SetDefault("storage.s3.force_path_style", false)

	v.SetDefault("database.driver", "")
	v.SetDefault("database.sqlite.path", "")
	v.SetDefault("database.postgres.host", "")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "")
	v.SetDefault("database.postgres.ssl_mode", "disable")

	v.SetDefault("api.listen", DefaultAPIListen)
	v.SetDefault("api.cors_origins", []string{})
	v.SetDefault("api.rate_limit.enabled", false)
	v.SetDefault("api.rate_limit.requests_per_minute", DefaultRequestsPerMinute)
	v.SetDefault("api.shutdown_timeout", DefaultShutdownTimeout.String())
}

// attributeNamePattern restricts machine attribute names to shell-safe
// identifiers, since they become DUT_<name> variables.
var attributeNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Index.Concurrency < 0 {
		return fmt.Errorf("index.concurrency must not be negative")
	}

	if _, err := fsutil.ParseOwner(c.Index.Owner); err != nil {
		return fmt.Errorf("index.owner: %w", err)
	}

	if c.Storage.S3.Enabled && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket is required when s3 is enabled")
	}

	switch c.Database.Driver {
	case "":
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.API.RateLimit.Enabled && c.API.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("api.rate_limit.requests_per_minute must be positive")
	}

	for i, m := range c.Machines {
		for _, attr := range m {
			if !attributeNamePattern.MatchString(attr.Key) {
				return fmt.Errorf("machine %d: invalid attribute name %q", i, attr.Key)
			}
		}
	}

	return nil
}
