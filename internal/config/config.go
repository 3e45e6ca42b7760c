// Package config содержит логику чтения конфигурации сервиса автошколы.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// SMTP содержит параметры почтового сервера для отправки счетов и напоминаний.
type SMTP struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT" envDefault:"587"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	From     string `env:"FROM" envDefault:"faktura@trafikskola.local"`
}

// Qliro содержит параметры доступа к административному API Qliro.
type Qliro struct {
	APIURL    string `env:"API_URL"`
	APIKey    string `env:"API_KEY"`
	APISecret string `env:"API_SECRET"`
}

// Config содержит параметры конфигурации сервиса автошколы.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	AuthSecret  string `env:"AUTH_SECRET"`
	PublicURL   string `env:"PUBLIC_URL"`

	Qliro Qliro `envPrefix:"QLIRO_"`
	SMTP  SMTP  `envPrefix:"SMTP_"`

	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"60"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAuthSecret := cfg.AuthSecret
	envPublicURL := cfg.PublicURL
	envQliroURL := cfg.Qliro.APIURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret used to verify session tokens")
	flag.StringVar(&cfg.PublicURL, "u", "http://localhost:3000", "public URL of the web application")
	flag.StringVar(&cfg.Qliro.APIURL, "q", "", "qliro admin API address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envPublicURL != "" {
		cfg.PublicURL = envPublicURL
	}
	if envQliroURL != "" {
		cfg.Qliro.APIURL = envQliroURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.RateLimitRequests <= 0 {
		return nil, fmt.Errorf("rate limit requests must be positive, got %d", cfg.RateLimitRequests)
	}
	if cfg.RateLimitWindow <= 0 {
		return nil, fmt.Errorf("rate limit window must be positive, got %s", cfg.RateLimitWindow)
	}

	return cfg, nil
}
