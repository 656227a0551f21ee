// Package config wraps viper file/env loading.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads a YAML config file from configPath (plus the working
// directory and ./config as fallbacks) and enables environment
// overrides. A missing file is not an error; defaults and env vars
// still apply.
func Load(configPath, configName string) (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return v, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return v, nil
}
