package server

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is loaded from environment variables.
type Config struct {
	Addr         string        `env:"SITEFEED_ADDR" envDefault:":8080"`
	DatabaseURL  string        `env:"SITEFEED_DATABASE_URL,required"`
	HubBuffer    int           `env:"SITEFEED_HUB_BUFFER" envDefault:"16"`
	PollInterval time.Duration `env:"SITEFEED_POLL_INTERVAL" envDefault:"5s"`
	BatchSize    int           `env:"SITEFEED_BATCH_SIZE" envDefault:"100"`
}

// LoadConfig reads configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("server: parse env: %w", err)
	}
	return cfg, nil
}
