package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Priya8975/restock-notifier/internal/attribution"
	"github.com/Priya8975/restock-notifier/internal/config"
	"github.com/Priya8975/restock-notifier/internal/dispatch"
	"github.com/Priya8975/restock-notifier/internal/engine"
	"github.com/Priya8975/restock-notifier/internal/ingress"
	"github.com/Priya8975/restock-notifier/internal/mail"
	"github.com/Priya8975/restock-notifier/internal/store"
	"github.com/Priya8975/restock-notifier/internal/tracking"
)

// migrator is implemented by the SQL stores.
type migrator interface {
	RunMigrations(ctx context.Context) error
}

// app holds the wired components shared by the commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	repo       store.Repository
	redis      *store.RedisStore
	queue      *engine.RestockQueue
	mailer     *mail.Guarded
	dispatcher *dispatch.Dispatcher
	processor  *ingress.Processor
	beacon     *tracking.Beacon
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Repository, error) {
	dsn := cfg.DatabaseURL
	if cfg.StoreDriver == config.DriverSQLite {
		dsn = cfg.SQLitePath
	}
	repo, err := store.Open(ctx, cfg.StoreDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.StoreDriver, err)
	}
	return repo, nil
}

func migrate(ctx context.Context, repo store.Repository) error {
	m, ok := repo.(migrator)
	if !ok {
		return nil
	}
	return m.RunMigrations(ctx)
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	repo, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.repo = repo
	logger.Info("store opened", "driver", cfg.StoreDriver)

	if err := migrate(ctx, repo); err != nil {
		a.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	a.redis, err = store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("connected to Redis")
	client := a.redis.Client()

	var transport mail.Mailer
	switch cfg.Mail.Driver {
	case config.MailLog:
		transport = mail.NewLogMailer(logger)
	default:
		transport = mail.NewSMTPMailer(mail.SMTPConfig{
			Host:     cfg.Mail.SMTPHost,
			Port:     cfg.Mail.SMTPPort,
			Username: cfg.Mail.SMTPUser,
			Password: cfg.Mail.SMTPPass,
			From:     cfg.Mail.From,
		})
	}
	a.mailer = mail.NewGuarded(
		transport,
		cfg.Mail.Driver,
		engine.NewRateLimiter(client, logger),
		engine.NewCircuitBreaker(client, logger),
		cfg.Mail.SendRatePerSecond,
		logger,
	)

	renderer, err := dispatch.NewRenderer(cfg.PublicBaseURL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("loading email templates: %w", err)
	}
	a.dispatcher = dispatch.New(a.repo, a.mailer, renderer, dispatch.Options{
		Concurrency: cfg.Mail.SendConcurrency,
		SendTimeout: cfg.Mail.SendTimeout,
	}, logger)

	schemas, err := ingress.CompileSchemas()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("compiling webhook schemas: %w", err)
	}
	a.queue = engine.NewRestockQueue(client, logger)
	a.processor = ingress.NewProcessor(ingress.ProcessorDeps{
		Schemas:    schemas,
		Queue:      a.queue,
		Dispatcher: a.dispatcher,
		Attributor: attribution.NewAttributor(a.repo, logger),
		Resolver:   a.repo,
		Deduper:    engine.NewDeduper(client, cfg.WebhookDedupTTL, logger),
	}, logger)
	a.beacon = tracking.NewBeacon(a.repo, logger)

	return a, nil
}

func (a *app) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.repo != nil {
		errs = append(errs, a.repo.Close())
	}
	return errors.Join(errs...)
}
