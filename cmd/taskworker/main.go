package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/statichq/pages/internal/build"
	"github.com/statichq/pages/internal/buildtask"
	"github.com/statichq/pages/internal/postgresutil"
	"github.com/statichq/pages/internal/queue"
	"github.com/statichq/pages/internal/s3util"
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

		s3Client := s3util.NewClient(conf.S3ConnectionString)
		runner := &buildtask.Runner{
			Database: &buildtask.Store{DB: db},
			Storage:  build.NewS3Storage(s3Client, conf.S3Bucket),
		}

		handle := func(ctx context.Context, body []byte) error {
			msg, err := buildtask.DecodeMessage(body)
			if err != nil {
				return err
			}
			return runner.Run(ctx, msg)
		}
		con := queue.NewConsumer(conf.AMQPConnectionString, queue.BuildTasks, handle)

		slog.Info("starting task worker")
		if err = con.Run(ctx); err != nil && ctx.Err() == nil {
			_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}

		return 0
	}
	os.Exit(run())
}
