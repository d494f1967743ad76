package config

// Package config provides a reusable loader for pool configuration files
// and environment variables. It is versioned so that applications can depend
// on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/tbg/tbgpool/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a pool process: it mirrors the
// "Environment / configuration" options of spec §6, grouped by the
// subsystem that consumes each group.
type Config struct {
	RateLimit struct {
		ConnectionsPerIPPerMinute uint32 `mapstructure:"connections_per_ip_per_minute" json:"connections_per_ip_per_minute"`
		MaxConnectionsPerIP       int32  `mapstructure:"max_connections_per_ip" json:"max_connections_per_ip"`
		MaxSubscribesPerMinute    uint32 `mapstructure:"max_subscribes_per_minute" json:"max_subscribes_per_minute"`
		MaxAuthorizesPerMinute    uint32 `mapstructure:"max_authorizes_per_minute" json:"max_authorizes_per_minute"`
		MaxSharesPerMinute        uint32 `mapstructure:"max_shares_per_minute" json:"max_shares_per_minute"`
		MaxInvalidSharesPerMinute uint32 `mapstructure:"max_invalid_shares_per_minute" json:"max_invalid_shares_per_minute"`
		GlobalMaxConnections      int64  `mapstructure:"global_max_connections" json:"global_max_connections"`
		SoftbanDurationSeconds    int64  `mapstructure:"softban_duration_seconds" json:"softban_duration_seconds"`
	} `mapstructure:"rate_limit" json:"rate_limit"`

	Relay struct {
		PrimaryURL             string `mapstructure:"primary_url" json:"primary_url"`
		FailoverTimeoutSeconds int    `mapstructure:"failover_timeout_seconds" json:"failover_timeout_seconds"`
		Region                 string `mapstructure:"region" json:"region"`
		ListenAddr             string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"relay" json:"relay"`

	Metrics struct {
		Port int `mapstructure:"port" json:"port"`
	} `mapstructure:"metrics" json:"metrics"`

	Cache struct {
		RedisURL string `mapstructure:"redis_url" json:"redis_url"`
	} `mapstructure:"cache" json:"cache"`

	EventSocket struct {
		Path string `mapstructure:"path" json:"path"`
	} `mapstructure:"event_socket" json:"event_socket"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/poolcore/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // picks up from .env

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the POOL_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("POOL_ENV", ""))
}
