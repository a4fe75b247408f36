// Package config loads natmap CLI settings.
//
// Precedence, highest first: command-line flags, NATMAP_* environment
// variables, the YAML config file, defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the natmap CLI configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Mapping   MappingConfig   `mapstructure:"mapping"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=console json"`
}

// DiscoveryConfig controls gateway discovery.
type DiscoveryConfig struct {
	Timeout  time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Backends []string      `mapstructure:"backends" validate:"dive,oneof=upnp-igd1 upnp-igd2 nat-pmp"`
}

// MappingConfig describes the port mapping to create.
type MappingConfig struct {
	Protocol     string        `mapstructure:"protocol" validate:"required,oneof=tcp udp TCP UDP"`
	InternalPort int           `mapstructure:"internal_port" validate:"min=1,max=65535"`
	ExternalPort int           `mapstructure:"external_port" validate:"min=0,max=65535"`
	Lease        time.Duration `mapstructure:"lease" validate:"gte=0"`
	Description  string        `mapstructure:"description"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("discovery.timeout", 10*time.Second)
	v.SetDefault("discovery.backends", []string{"upnp-igd1", "upnp-igd2", "nat-pmp"})
	v.SetDefault("mapping.protocol", "tcp")
	v.SetDefault("mapping.internal_port", 0)
	v.SetDefault("mapping.external_port", 0)
	v.SetDefault("mapping.lease", time.Hour)
	v.SetDefault("mapping.description", "natmap")
}

// Load reads configuration from configPath (optional), the environment and
// flags. flags maps config keys such as "mapping.internal_port" to the
// command-line flag that overrides them.
func Load(configPath string, flags map[string]*pflag.Flag) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("NATMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, flag := range flags {
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag.Name, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks field constraints declared in struct tags.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}
