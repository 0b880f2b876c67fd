package main

import (
	"github.com/caarlos0/env/v11"
)

// config holds the application configuration.
type config struct {
	Development bool   `env:"PAGES_DEVELOPMENT"`
	Host        string `env:"PAGES_SERVER_HOST" envDefault:"127.0.0.1"`
	Port        int    `env:"PAGES_SERVER_PORT" envDefault:"8080"`

	PostgresConnectionString string `env:"PAGES_PG_CONNECTION_STRING,required"`
	AMQPConnectionString     string `env:"PAGES_AMQP_CONNECTION_STRING,required"`

	// WebhookSecret is the shared HMAC secret GitHub signs push
	// payloads with.
	WebhookSecret string `env:"PAGES_WEBHOOK_SECRET,required"`

	// CallbackBase is this server's externally reachable base URL;
	// runners report completion to it.
	CallbackBase string `env:"PAGES_CALLBACK_BASE" envDefault:"http://127.0.0.1:8080"`

	// PublicBase is the base URL published sites are served from.
	PublicBase string `env:"PAGES_PUBLIC_BASE" envDefault:"http://127.0.0.1:9000/pages"`
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
