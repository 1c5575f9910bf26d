// Package config loads the service configuration from a YAML file and
// the environment, and resolves secrets through a provider so API keys
// never live in config files.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Common errors returned while loading configuration.
var (
	// ErrMissingSecret indicates a required secret could not be
	// resolved. Fatal: the process cannot run without its credentials.
	ErrMissingSecret = errors.New("missing secret")
)

// ConfigurationError wraps a fatal configuration failure with the
// offending key.
type ConfigurationError struct {
	Key string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for %s: %v", e.Key, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Config holds the configuration for the application.
type Config struct {
	HTTP struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"http"`
	DB struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"db"`
	OpenAI struct {
		BaseURL   string        `mapstructure:"base_url"`
		APIKeyEnv string        `mapstructure:"api_key_env"`
		Timeout   time.Duration `mapstructure:"timeout"`
	} `mapstructure:"openai"`
	Workflow struct {
		// Confirmations lists the stages requiring an external signal
		// before dispatch. Omit for the default (tech review and
		// estimation); set to an empty list for straight-through runs.
		Confirmations  []string `mapstructure:"confirmations"`
		MaxConcurrency int      `mapstructure:"max_concurrency"`
	} `mapstructure:"workflow"`
	Queue struct {
		Workers int `mapstructure:"workers"`
	} `mapstructure:"queue"`
}

// Load reads configuration from the given path (or the working
// directory when empty) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("AGILE")
	v.AutomaticEnv()

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("openai.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("queue.workers", -1)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		// No file is fine; env and defaults carry the config.
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.DB.URL == "" {
		config.DB.URL = os.Getenv("DATABASE_URL")
	}
	if config.DB.URL == "" {
		return nil, &ConfigurationError{Key: "db.url", Err: errors.New("database URL is required")}
	}
	return &config, nil
}

// SecretProvider resolves secrets at startup.
type SecretProvider interface {
	// GetAPIKey returns the LLM API key.
	GetAPIKey() (string, error)
}

// EnvSecret resolves secrets from environment variables.
type EnvSecret struct {
	// APIKeyVar names the variable holding the API key.
	APIKeyVar string
}

// GetAPIKey implements SecretProvider.
func (s EnvSecret) GetAPIKey() (string, error) {
	key := os.Getenv(s.APIKeyVar)
	if key == "" {
		return "", &ConfigurationError{Key: s.APIKeyVar, Err: ErrMissingSecret}
	}
	return key, nil
}
