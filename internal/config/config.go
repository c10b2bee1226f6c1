package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	Push     PushConfig     `mapstructure:"push"`
	LogLevel string         `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

type SweepConfig struct {
	// Interval between reconciliation passes after the initial one at boot.
	Interval time.Duration `mapstructure:"interval" validate:"required,min=1m"`
}

type PushConfig struct {
	// CredentialsFile points at an FCM service-account key. Empty selects
	// the dry-run transport.
	CredentialsFile string `mapstructure:"credentials_file"`
}

// Load reads configuration from an optional config file and from REMINDD_*
// environment variables, with env taking precedence.
func Load(file string) (*Config, error) {
	v := viper.New()

	v.SetDefault("database.path", "remindd.db")
	v.SetDefault("sweep.interval", time.Hour)
	v.SetDefault("push.credentials_file", "")
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("REMINDD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}
