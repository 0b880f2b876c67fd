package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/statichq/pages/internal/scanproxy"
)

func main() {
	run := func() int {
		conf, err := scanproxy.ParseConfig()
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}

		subLogger := slog.With("component", "scanproxy")
		subLogLogger := slog.NewLogLogger(subLogger.Handler(), slog.LevelError)

		client := http.DefaultClient
		if conf.SkipSSLValidation {
			client = &http.Client{
				Transport: &http.Transport{
					TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
				},
			}
		}

		proxy := &scanproxy.Proxy{
			ScanURL:    conf.ScanBaseURL,
			HTTPClient: client,
			Logger:     subLogger,
		}

		server := &http.Server{
			Addr:              net.JoinHostPort("", strconv.Itoa(conf.Port)),
			ErrorLog:          subLogLogger,
			Handler:           proxy,
			ReadHeaderTimeout: 10 * time.Second,
		}

		subLogger.Info("starting scan proxy", "addr", server.Addr, "scan_url", conf.ScanBaseURL)
		err = server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}

		return 0
	}
	os.Exit(run())
}
