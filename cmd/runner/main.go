package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/statichq/pages/internal/build"
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
		runner := &build.Runner{
			Database:     build.NewPostgresDatabase(db),
			Storage:      build.NewS3Storage(s3Client, conf.S3Bucket),
			CallbackBase: conf.CallbackBase,
		}

		handle := func(ctx context.Context, body []byte) error {
			id, err := build.DecodeCreatedMessage(body)
			if err != nil {
				return err
			}
			return runner.Run(ctx, id)
		}

		// The ordinary, bulk and editor-site queues carry the same
		// payload and run the same engine; their retry policies differ.
		consumers := []*queue.Consumer{
			queue.NewConsumer(conf.AMQPConnectionString, queue.SiteBuild, handle),
			queue.NewConsumer(conf.AMQPConnectionString, queue.SiteBuilds, handle),
			queue.NewConsumer(conf.AMQPConnectionString, queue.CreateEditorSite, handle),
		}

		slog.Info("starting build runner")
		var wg sync.WaitGroup
		for _, con := range consumers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := con.Run(ctx); err != nil && ctx.Err() == nil {
					slog.Error("consumer stopped", "err", err)
				}
			}()
		}
		wg.Wait()

		return 0
	}
	os.Exit(run())
}
