// Package config holds the operator's runtime settings and loads them from
// flags, APP_* environment variables and an optional config file.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. APP_LOG_LEVEL.
const EnvPrefix = "APP"

// Store backends.
const (
	StoreKubernetes = "kubernetes"
	StoreBolt       = "bolt"
)

// Setting keys, shared by flags, env and config file.
const (
	KeyLogLevel         = "log-level"
	KeyLogFormat        = "log-format"
	KeyStore            = "store"
	KeyBoltPath         = "bolt-path"
	KeyNamespace        = "namespace"
	KeySweepInterval    = "sweep-interval"
	KeyReconcileTimeout = "reconcile-timeout"
	KeySweepConcurrency = "sweep-concurrency"
	KeyMetricsAddr      = "metrics-addr"
	KeyHealthAddr       = "health-addr"
)

// Defaults.
const (
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultStore            = StoreKubernetes
	DefaultBoltPath         = "application-operator.db"
	DefaultSweepInterval    = 60 * time.Second
	DefaultReconcileTimeout = 30 * time.Second
	DefaultSweepConcurrency = 1
	DefaultMetricsAddr      = ":8080"
	DefaultHealthAddr       = ":8081"
)

// ErrInvalidConfig marks settings rejected by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all settings of the operator process.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// LogFormat is json or text.
	LogFormat string

	// Store selects the backing store: kubernetes or bolt.
	Store string

	// BoltPath is the database file used when Store is bolt.
	BoltPath string

	// Namespace limits sweeps to one namespace. Empty watches all namespaces.
	Namespace string

	// SweepInterval is the period between two sweeps.
	SweepInterval time.Duration

	// ReconcileTimeout bounds a single reconcile attempt.
	ReconcileTimeout time.Duration

	// SweepConcurrency caps parallel reconciles within a sweep.
	SweepConcurrency int

	// MetricsAddr is the address for the Prometheus metrics endpoint.
	MetricsAddr string

	// HealthAddr is the address for health and readiness probe endpoints.
	HealthAddr string
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		LogLevel:         DefaultLogLevel,
		LogFormat:        DefaultLogFormat,
		Store:            DefaultStore,
		BoltPath:         DefaultBoltPath,
		SweepInterval:    DefaultSweepInterval,
		ReconcileTimeout: DefaultReconcileTimeout,
		SweepConcurrency: DefaultSweepConcurrency,
		MetricsAddr:      DefaultMetricsAddr,
		HealthAddr:       DefaultHealthAddr,
	}
}

// BindFlags registers the process-wide flags on flags.
func BindFlags(flags *pflag.FlagSet) {
	flags.String(KeyLogLevel, DefaultLogLevel, "Log level (debug, info, warn, error)")
	flags.String(KeyLogFormat, DefaultLogFormat, "Log format (json, text)")
	flags.String(KeyStore, DefaultStore, "Backing store (kubernetes, bolt)")
	flags.String(KeyBoltPath, DefaultBoltPath, "Database file for the bolt store")
	flags.StringP(KeyNamespace, "n", "", "Namespace to operate in (empty for all namespaces)")
	flags.Duration(KeySweepInterval, DefaultSweepInterval, "Interval between reconciliation sweeps")
	flags.Duration(KeyReconcileTimeout, DefaultReconcileTimeout, "Timeout for a single reconcile attempt")
	flags.Int(KeySweepConcurrency, DefaultSweepConcurrency, "Maximum parallel reconciles per sweep")
	flags.String(KeyMetricsAddr, DefaultMetricsAddr, "Address for metrics endpoint")
	flags.String(KeyHealthAddr, DefaultHealthAddr, "Address for health probe endpoint")
}

// SetDefaults installs defaults on v so env-only and file-only runs see them.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault(KeyLogLevel, defaults.LogLevel)
	v.SetDefault(KeyLogFormat, defaults.LogFormat)
	v.SetDefault(KeyStore, defaults.Store)
	v.SetDefault(KeyBoltPath, defaults.BoltPath)
	v.SetDefault(KeySweepInterval, defaults.SweepInterval)
	v.SetDefault(KeyReconcileTimeout, defaults.ReconcileTimeout)
	v.SetDefault(KeySweepConcurrency, defaults.SweepConcurrency)
	v.SetDefault(KeyMetricsAddr, defaults.MetricsAddr)
	v.SetDefault(KeyHealthAddr, defaults.HealthAddr)
}

// SetupEnv makes v read APP_* variables, mapping dashes to underscores.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// Load reads settings from v, reading configFile first when it is set, and
// validates the result.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)

		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configFile)
		}
	}

	cfg := &Config{
		LogLevel:         v.GetString(KeyLogLevel),
		LogFormat:        v.GetString(KeyLogFormat),
		Store:            v.GetString(KeyStore),
		BoltPath:         v.GetString(KeyBoltPath),
		Namespace:        v.GetString(KeyNamespace),
		SweepInterval:    v.GetDuration(KeySweepInterval),
		ReconcileTimeout: v.GetDuration(KeyReconcileTimeout),
		SweepConcurrency: v.GetInt(KeySweepConcurrency),
		MetricsAddr:      v.GetString(KeyMetricsAddr),
		HealthAddr:       v.GetString(KeyHealthAddr),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the operator cannot run with.
func (c *Config) Validate() error {
	var errs error

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = errors.CombineErrors(errs, errors.Newf("unknown log level %q", c.LogLevel))
	}

	switch c.LogFormat {
	case "json", "text":
	default:
		errs = errors.CombineErrors(errs, errors.Newf("unknown log format %q", c.LogFormat))
	}

	switch c.Store {
	case StoreKubernetes:
	case StoreBolt:
		if strings.TrimSpace(c.BoltPath) == "" {
			errs = errors.CombineErrors(errs, errors.New("bolt-path is required when store is bolt"))
		}
	default:
		errs = errors.CombineErrors(errs, errors.Newf("unknown store %q (expected %s or %s)",
			c.Store, StoreKubernetes, StoreBolt))
	}

	if c.SweepInterval <= 0 {
		errs = errors.CombineErrors(errs, errors.Newf("sweep-interval must be positive, got %s", c.SweepInterval))
	}

	if c.ReconcileTimeout <= 0 {
		errs = errors.CombineErrors(errs, errors.Newf("reconcile-timeout must be positive, got %s", c.ReconcileTimeout))
	}

	if c.SweepConcurrency < 1 {
		errs = errors.CombineErrors(errs, errors.Newf("sweep-concurrency must be at least 1, got %d", c.SweepConcurrency))
	}

	if errs != nil {
		return errors.Mark(errs, ErrInvalidConfig)
	}

	return nil
}
