// Package config содержит логику чтения конфигурации сервиса витрины.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса витрины.
type Config struct {
	RunAddress             string `env:"RUN_ADDRESS"`
	DatabaseURI            string `env:"DATABASE_URI"`
	PaymentProviderAddress string `env:"PAYMENT_PROVIDER_ADDRESS"`
	PaymentProviderKey     string `env:"PAYMENT_PROVIDER_KEY"`
	AuthSecret             string `env:"AUTH_SECRET"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных
// окружения. Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envPaymentAddress := cfg.PaymentProviderAddress
	envPaymentKey := cfg.PaymentProviderKey
	envAuthSecret := cfg.AuthSecret

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PaymentProviderAddress, "p", "", "payment provider base address")
	flag.StringVar(&cfg.PaymentProviderKey, "k", "", "payment provider secret key")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret key for auth cookie signing")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envPaymentAddress != "" {
		cfg.PaymentProviderAddress = envPaymentAddress
	}
	if envPaymentKey != "" {
		cfg.PaymentProviderKey = envPaymentKey
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
