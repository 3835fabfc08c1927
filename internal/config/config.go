package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Tinkoff  Tinkoff  `mapstructure:"tinkoff"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
}

// Tinkoff holds the configuration for the Tinkoff Invest API.
type Tinkoff struct {
	Token            string  `mapstructure:"token"`
	BaseURL          string  `mapstructure:"base_url"`
	HistoryURL       string  `mapstructure:"history_url"`
	RateLimit        float64 `mapstructure:"rate_limit"`
	RateLimitBurst   int     `mapstructure:"rate_limit_burst"`
	HistoryRateLimit float64 `mapstructure:"history_rate_limit"`
}

// Server holds the configuration for the status web server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("tinkoff.base_url", "https://invest-public-api.tinkoff.ru/rest")
	viper.SetDefault("tinkoff.history_url", "https://invest-public-api.tinkoff.ru/history-data")
	viper.SetDefault("tinkoff.rate_limit", 2) // requests per second
	viper.SetDefault("tinkoff.rate_limit_burst", 5)
	// The history archive endpoint allows far fewer requests than the
	// regular REST services: 30 per minute.
	viper.SetDefault("tinkoff.history_rate_limit", 0.5)
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
