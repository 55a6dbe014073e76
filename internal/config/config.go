// Package config loads engine configuration (data file location,
// buffer pool capacity, default isolation level, metrics sink) with
// flag > env > file > built-in-default precedence. The config file is
// TOML (minisql.toml); flags and MINISQL_-prefixed environment
// variables are merged over it via viper.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/minisql/minisql/internal/txn"
)

// Config is the engine's resolved configuration.
type Config struct {
	// DataFile is the path to the database file.
	DataFile string `toml:"data_file" mapstructure:"data_file"`

	// BufferPoolCapacity is the number of pages the buffer pool keeps
	// resident at once.
	BufferPoolCapacity int `toml:"buffer_pool_capacity" mapstructure:"buffer_pool_capacity"`

	// DefaultIsolation is the isolation level new sessions start at,
	// one of READ UNCOMMITTED, READ COMMITTED, REPEATABLE READ,
	// SERIALIZABLE.
	DefaultIsolation string `toml:"default_isolation" mapstructure:"default_isolation"`

	// MetricsEnabled turns on the stdout OTel metrics exporter.
	MetricsEnabled bool `toml:"metrics_enabled" mapstructure:"metrics_enabled"`
}

// Default returns the engine's built-in configuration, used when no
// flag, environment variable, or config file overrides a field.
func Default() Config {
	return Config{
		DataFile:           "minisql.db",
		BufferPoolCapacity: 256,
		DefaultIsolation:   "READ COMMITTED",
		MetricsEnabled:     false,
	}
}

// Load resolves the engine configuration from, in increasing priority:
// the built-in default, an optional minisql.toml in the working
// directory (or at the path named by the MINISQL_CONFIG environment
// variable), MINISQL_-prefixed environment variables, and finally any
// flags already registered on fs; precedence is
// flag > env > file > default.
func Load(fs *pflag.FlagSet) (Config, error) {
	def := Default()

	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix("MINISQL")
	v.AutomaticEnv()

	v.SetDefault("data_file", def.DataFile)
	v.SetDefault("buffer_pool_capacity", def.BufferPoolCapacity)
	v.SetDefault("default_isolation", def.DefaultIsolation)
	v.SetDefault("metrics_enabled", def.MetricsEnabled)

	path := os.Getenv("MINISQL_CONFIG")
	if path == "" {
		path = "minisql.toml"
	}
	if _, err := os.Stat(path); err == nil {
		var fileCfg Config
		if _, err := toml.DecodeFile(path, &fileCfg); err != nil {
			return Config{}, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
	}

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return Config{}, fmt.Errorf("config: failed to bind flags: %w", err)
		}
	}

	cfg := Config{
		DataFile:           v.GetString("data_file"),
		BufferPoolCapacity: v.GetInt("buffer_pool_capacity"),
		DefaultIsolation:   v.GetString("default_isolation"),
		MetricsEnabled:     v.GetBool("metrics_enabled"),
	}
	return cfg, nil
}

// Isolation parses DefaultIsolation into a txn.IsolationLevel,
// rejecting anything that is not one of the four level names.
func (c Config) Isolation() (txn.IsolationLevel, error) {
	switch c.DefaultIsolation {
	case "READ UNCOMMITTED":
		return txn.ReadUncommitted, nil
	case "READ COMMITTED":
		return txn.ReadCommitted, nil
	case "REPEATABLE READ":
		return txn.RepeatableRead, nil
	case "SERIALIZABLE":
		return txn.Serializable, nil
	default:
		return 0, fmt.Errorf("config: unknown default_isolation %q", c.DefaultIsolation)
	}
}
