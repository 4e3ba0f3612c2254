package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config captures runtime settings for the publisher service.
type Config struct {
	ListenAddr         string        `mapstructure:"listen_addr"`
	SharedSecret       string        `mapstructure:"shared_secret"`
	GitHubToken        string        `mapstructure:"github_token"`
	GitHubOwner        string        `mapstructure:"github_owner"`
	RequireGitHubToken bool          `mapstructure:"require_github_token"`
	RedisURL           string        `mapstructure:"redis_url"`
	HistoryDatabaseURL string        `mapstructure:"history_database_url"`
	OpenAIAPIKey       string        `mapstructure:"openai_api_key"`
	OpenAIModel        string        `mapstructure:"openai_model"`
	NotifyDeadline     time.Duration `mapstructure:"notify_deadline"`
	BuildTimeout       time.Duration `mapstructure:"build_timeout"`
	BuildConcurrency   int64         `mapstructure:"build_concurrency"`
	StaticDir          string        `mapstructure:"static_dir"`
}

// Load reads publisher configuration from defaults, files, and env vars.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath("./configs")
	v.SetEnvPrefix("PUBLISHER")
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("shared_secret", "")
	v.SetDefault("github_token", "")
	v.SetDefault("github_owner", "")
	v.SetDefault("require_github_token", false)
	v.SetDefault("redis_url", "")
	v.SetDefault("history_database_url", "")
	v.SetDefault("openai_api_key", "")
	v.SetDefault("openai_model", "gpt-4o-mini")
	v.SetDefault("notify_deadline", 10*time.Minute)
	v.SetDefault("build_timeout", 30*time.Minute)
	v.SetDefault("build_concurrency", 0)
	v.SetDefault("static_dir", "./static")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}
