package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/statichq/pages/internal/postgresutil"
	"github.com/statichq/pages/internal/queue"
)

func main() {
	run := func() int {
		ctx := context.Background()

		conf, err := parseConfig(os.Environ())
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}

		db, err := postgresutil.NewPool(ctx, conf.PostgresConnectionString)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		defer db.Close()

		mq := queue.NewClient(conf.AMQPConnectionString)
		server := NewServer(db, mq, conf)

		slog.Info("starting server", "addr", server.Addr)
		err = server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}

		return 0
	}
	os.Exit(run())
}
