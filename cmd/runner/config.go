package main

import (
	"github.com/caarlos0/env/v11"
)

// config holds the application configuration.
type config struct {
	Development bool `env:"PAGES_DEVELOPMENT"`

	PostgresConnectionString string `env:"PAGES_PG_CONNECTION_STRING,required"`
	AMQPConnectionString     string `env:"PAGES_AMQP_CONNECTION_STRING,required"`
	S3ConnectionString       string `env:"PAGES_S3_CONNECTION_STRING,required"`
	S3Bucket                 string `env:"PAGES_S3_BUCKET" envDefault:"pages"`

	// CallbackBase is the server's base URL; build results are reported
	// to it with the build's token.
	CallbackBase string `env:"PAGES_CALLBACK_BASE,required"`
}

// parseConfig parses the application configuration from the environment variables.
func parseConfig(environ []string) (*config, error) {
	var cfg config

	err := env.ParseWithOptions(&cfg, env.Options{
		Environment: env.ToMap(environ),
	})
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
