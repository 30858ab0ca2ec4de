package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Priya8975/restock-notifier/internal/api"
	"github.com/Priya8975/restock-notifier/internal/ingress"
	"github.com/Priya8975/restock-notifier/internal/worker"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and restock workers",
		Long: `Run the webhook, storefront and tracking endpoints together with the
workers that drain the restock queue. When SQS_QUEUE_URL is set, webhooks
routed through Amazon EventBridge are consumed from SQS as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts)
		},
	}
}

func runServe(opts *RootOptions) error {
	logger := opts.logger()

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var consumer *ingress.SQSConsumer
	if cfg.SQSQueueURL != "" {
		consumer, err = ingress.NewSQSConsumer(ctx, cfg.SQSQueueURL, cfg.SQSEndpoint, a.processor, logger)
		if err != nil {
			return err
		}
	}

	// The poller stops on the signal; the pool drains what it already claimed.
	pool := worker.NewPool(cfg.NumWorkers, worker.NewRunner(a.dispatcher, a.queue, logger), logger)
	pool.Start(context.WithoutCancel(ctx))
	poller := worker.NewPoller(a.redis.Client(), pool, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Start(ctx)
	}()

	if consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumer.Start(ctx)
		}()
	}

	router := api.NewRouter(api.Deps{
		Repo:      a.repo,
		Processor: a.processor,
		Beacon:    a.beacon,
		Health: api.HealthChecks{
			Store: a.repo,
			Redis: a.redis,
			Queue: a.queue,
			Mail:  a.mailer,
		},
		Secret:  cfg.ShopifyAPISecret,
		MaxBody: cfg.MaxBodyBytes,
		Logger:  logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", "error", err)
			stop()
		}
	}

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	a.beacon.Wait()

	// Stop the producers before closing the pool they submit to.
	wg.Wait()
	pool.Stop()

	logger.Info("server stopped")
	return nil
}
