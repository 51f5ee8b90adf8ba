package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ClientConfig holds draftctl settings.
type ClientConfig struct {
	APIURL         string        `mapstructure:"api_url"`
	Token          string        `mapstructure:"token"`
	CachePath      string        `mapstructure:"cache_path"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	SubmitTimeout  time.Duration `mapstructure:"submit_timeout"`
	AutosaveQuiet  time.Duration `mapstructure:"autosave_quiet"`
	ResyncInterval time.Duration `mapstructure:"resync_interval"`
	LogLevel       string        `mapstructure:"log_level"`
	LogFormat      string        `mapstructure:"log_format"`
}

// SetClientDefaults registers defaults on v. Flags bound later take precedence.
func SetClientDefaults(v *viper.Viper) {
	v.SetDefault("api_url", "http://localhost:8080/api/v1")
	v.SetDefault("token", "")
	v.SetDefault("cache_path", "draftctl.db")
	v.SetDefault("request_timeout", 10*time.Second)
	v.SetDefault("submit_timeout", 30*time.Second)
	v.SetDefault("autosave_quiet", 5*time.Second)
	v.SetDefault("resync_interval", time.Minute)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "pretty")
}

// LoadClient reads draftctl settings from v: defaults, then an optional
// draftctl.yaml (or the file set with v.SetConfigFile), then DRAFTCTL_* env.
func LoadClient(v *viper.Viper) (*ClientConfig, error) {
	SetClientDefaults(v)

	v.SetEnvPrefix("DRAFTCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if v.ConfigFileUsed() == "" {
		v.SetConfigName("draftctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/draftctl")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &ClientConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.APIURL == "" {
		return nil, errors.New("api_url is required")
	}
	return cfg, nil
}
