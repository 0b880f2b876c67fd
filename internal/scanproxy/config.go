package scanproxy

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is read from raw environment variable names because the proxy
// is deployed as a route service with an externally managed manifest.
type Config struct {
	// ScanBaseURL is the malware scanner endpoint uploads are submitted
	// to. The process refuses to start without it.
	ScanBaseURL string `env:"SCAN_BASEURL,required"`

	Port              int  `env:"PORT" envDefault:"8080"`
	SkipSSLValidation bool `env:"SKIP_SSL_VALIDATION" envDefault:"true"`
}

func ParseConfig() (*Config, error) {
	c := new(Config)
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("scanproxy.ParseConfig: %w", err)
	}
	return c, nil
}
