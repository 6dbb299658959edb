// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Referral   ReferralConfig   `mapstructure:"referral"`
	Commission CommissionConfig `mapstructure:"commission"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// ReferralConfig holds referral-graph traversal configuration.
type ReferralConfig struct {
	// MaxTreeDepth caps subtree traversal regardless of caller input.
	MaxTreeDepth int `mapstructure:"max_tree_depth"`
	// MaxChainHops is the hard safety bound on ancestor-chain walks.
	MaxChainHops int `mapstructure:"max_chain_hops"`
}

// CommissionConfig holds commission distribution configuration.
type CommissionConfig struct {
	// MaxLevels is how many ancestors above a buyer participate in a
	// distribution.
	MaxLevels int    `mapstructure:"max_levels"`
	Currency  string `mapstructure:"currency"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Enable environment variable override
	// e.g., DATABASE_HOST, DATABASE_PORT, COMMISSION_MAX_LEVELS
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional - env vars can provide all config)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - we can use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "affiliate")
	v.SetDefault("database.name", "affiliate")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// Referral traversal defaults
	v.SetDefault("referral.max_tree_depth", 10)
	v.SetDefault("referral.max_chain_hops", 50)

	// Commission defaults
	v.SetDefault("commission.max_levels", 3)
	v.SetDefault("commission.currency", "COP")
}
