// Command malaphor-worker consumes analysis jobs from RabbitMQ, runs them,
// and delivers the results to the configured archive, S3 bucket, and
// subscribers.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/malaphor/pkg/config"
	"github.com/dd0wney/malaphor/pkg/logging"
	"github.com/dd0wney/malaphor/pkg/queue"
	"github.com/dd0wney/malaphor/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	opsAddr := flag.String("ops-addr", ":9090", "address for /health and /metrics (empty disables)")
	maxRetries := flag.Int("max-retries", queue.DefaultMaxRetries, "attempts before a job is dead-lettered")
	retryDelay := flag.Duration("retry-delay", queue.DefaultRetryDelay, "delay before a failed job is retried")
	flag.Parse()

	logger := logging.NewJSONLogger(os.Stdout, logging.InfoLevel)
	if err := run(*configPath, *opsAddr, *maxRetries, *retryDelay, logger); err != nil {
		logger.Error("worker failed", logging.Error(err))
		os.Exit(1)
	}
}

func run(configPath, opsAddr string, maxRetries int, retryDelay time.Duration, logger *logging.JSONLogger) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.SetLevel(logging.ParseLevel(cfg.Log.Level))
	if cfg.Queue.URL == "" {
		return errors.New("queue.url (MALAPHOR_AMQP_URL) is required")
	}

	ctx := context.Background()
	stack, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	client, err := queue.Dial(queue.Options{
		URL:        cfg.Queue.URL,
		Queue:      cfg.Queue.Name,
		Prefetch:   cfg.Queue.Prefetch,
		MaxRetries: maxRetries,
		RetryDelay: retryDelay,
		Logger:     logger,
		Metrics:    stack.Metrics,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	w := newWorker(stack)
	g := server.NewGraceful(logger)
	g.SetReloadFunc(stack.ReloadLogLevel(configPath))

	return g.Run(ctx, func(ctx context.Context) error {
		eg, ctx := errgroup.WithContext(ctx)
		eg.Go(func() error {
			return client.Consume(ctx, w.handle)
		})
		if opsAddr != "" {
			ops := &http.Server{
				Addr:              opsAddr,
				Handler:           w.opsHandler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			eg.Go(func() error {
				if err := ops.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			eg.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return ops.Shutdown(shutdownCtx)
			})
		}
		logger.Info("worker started", logging.String("queue", cfg.Queue.Name), logging.String("ops_addr", opsAddr))
		return eg.Wait()
	})
}
