package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/statichq/pages/internal/postgresutil"
	"github.com/statichq/pages/internal/queue"
	"github.com/statichq/pages/internal/s3util"
	"github.com/statichq/pages/internal/site"
)

func main() {
	run := func() int {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

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

		deleter := &site.Deleter{
			Store:  &site.Store{DB: db},
			S3:     s3util.NewClient(conf.S3ConnectionString),
			Bucket: conf.S3Bucket,
		}

		handle := func(ctx context.Context, body []byte) error {
			msg, err := site.DecodeDeletionMessage(body)
			if err != nil {
				return err
			}
			return deleter.Delete(ctx, msg)
		}
		con := queue.NewConsumer(conf.AMQPConnectionString, queue.SiteDeletion, handle)

		slog.Info("starting site worker")
		if err = con.Run(ctx); err != nil && ctx.Err() == nil {
			_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}

		return 0
	}
	os.Exit(run())
}
