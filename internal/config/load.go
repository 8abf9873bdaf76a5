package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from the given file path (optional) layered over
// the defaults, then applies environment overrides.
func Load(path string) (AppConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return AppConfig{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("ciris-config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.ciris")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return AppConfig{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("CIRIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config: %w", err)
	}

	applyEnvOverrides(&cfg, lookupProcessEnv)

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}
