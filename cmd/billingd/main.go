// Command billingd runs the billing service: the provider webhook intake,
// the background event worker and the scheduled subscription sweep.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/clubbilling/db"
	"github.com/dmitrymomot/clubbilling/pkg/config"
	"github.com/dmitrymomot/clubbilling/pkg/email"
	"github.com/dmitrymomot/clubbilling/pkg/environment"
	"github.com/dmitrymomot/clubbilling/pkg/intake"
	"github.com/dmitrymomot/clubbilling/pkg/ledger"
	"github.com/dmitrymomot/clubbilling/pkg/logger"
	"github.com/dmitrymomot/clubbilling/pkg/owner"
	"github.com/dmitrymomot/clubbilling/pkg/pg"
	"github.com/dmitrymomot/clubbilling/pkg/plan"
	"github.com/dmitrymomot/clubbilling/pkg/provider"
	"github.com/dmitrymomot/clubbilling/pkg/queue"
	"github.com/dmitrymomot/clubbilling/pkg/reconciler"
	"github.com/dmitrymomot/clubbilling/pkg/redis"
	"github.com/dmitrymomot/clubbilling/pkg/usage"
)

type appConfig struct {
	Env                  string `env:"APP_ENV" envDefault:"development"`
	PlanSyncSchedule     string `env:"BILLING_PLAN_SYNC_SCHEDULE" envDefault:"@hourly"`
	EventCleanupSchedule string `env:"BILLING_EVENT_CLEANUP_SCHEDULE" envDefault:"@daily"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("billingd stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var app appConfig
	config.MustLoad(&app)
	env := environment.Parse(app.Env)

	log := logger.New(
		logger.WithEnvironment(env, "billingd"),
		logger.WithContextExtractors(logger.OperationExtractor(), owner.LoggerExtractor(), intake.LoggerExtractor()),
	)
	logger.SetAsDefault(log)

	var (
		pgCfg     pg.Config
		redisCfg  redis.Config
		queueCfg  queue.Config
		emailCfg  email.Config
		planCfg   plan.Config
		s3Cfg     usage.S3Config
		ledgerCfg ledger.Config
		reconCfg  reconciler.Config
		stripeCfg provider.StripeConfig
		intakeCfg intake.Config
	)
	for _, load := range []func() error{
		func() error { return config.Load(&pgCfg) },
		func() error { return config.Load(&redisCfg) },
		func() error { return config.Load(&queueCfg) },
		func() error { return config.Load(&emailCfg) },
		func() error { return config.Load(&planCfg) },
		func() error { return config.Load(&s3Cfg) },
		func() error { return config.Load(&ledgerCfg) },
		func() error { return config.Load(&reconCfg) },
		func() error { return config.Load(&stripeCfg) },
		func() error { return config.Load(&intakeCfg) },
	} {
		if err := load(); err != nil {
			return err
		}
	}
	if env.UsesLiveBilling() && stripeCfg.WebhookSecret == "" {
		return errors.New("STRIPE_WEBHOOK_SECRET is required in production")
	}

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := pg.Migrate(ctx, pool, pgCfg, db.Migrations, log); err != nil {
		return err
	}

	rdb, err := redis.Connect(ctx, redisCfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	catalog, err := plan.NewCatalog(ctx, plan.NewYAMLSource(planCfg.PlansFile), plan.WithLogger(log))
	if err != nil {
		return err
	}
	owners := owner.NewPGRepository(pool)

	counters := usage.NewRegistry()
	cached := usage.NewCachedCounter(usage.NewRedisCache(rdb, "billing:usage"), redisCfg.UsageCacheTTL, log)
	if s3Cfg.Enabled() {
		client, err := usage.NewS3Client(ctx, s3Cfg)
		if err != nil {
			return err
		}
		storage := usage.NewS3StorageCounter(client, s3Cfg.Bucket, s3Cfg.Prefix)
		counters.Register(plan.MaxStorageGB, cached.Wrap(plan.MaxStorageGB, storage.Count))
	}
	tracker := usage.NewTracker(catalog, counters,
		usage.WithLogger(log),
		usage.WithMetrics(registry),
		usage.WithInvalidator(cached),
	)

	stripe := provider.NewStripe(stripeCfg, provider.WithStripeLogger(log))
	ledgerOpts := []ledger.Option{
		ledger.WithLogger(log),
		ledger.WithConfig(ledgerCfg),
		ledger.WithPlanWriter(owners),
		ledger.WithDowngradeGuard(tracker),
	}
	if stripeCfg.SecretKey != "" {
		ledgerOpts = append(ledgerOpts, ledger.WithProvider(
			provider.NewLedgerHooks(stripe, stripeCfg.Platform(), owners, log)))
	}
	subs := ledger.New(ledger.NewPGStore(pool), catalog, ledgerOpts...)

	jobs := queue.NewPGStorage(pool)
	enqueuer, err := queue.NewEnqueuer(jobs, queue.WithDefaultMaxAttempts(queueCfg.MaxAttempts))
	if err != nil {
		return err
	}
	sender, err := email.New(emailCfg)
	if err != nil {
		return err
	}
	recon := reconciler.New(reconciler.NewPGStore(pool), subs, owners,
		reconciler.WithLogger(log),
		reconciler.WithConfig(reconCfg),
		reconciler.WithPlans(catalog),
		reconciler.WithEnqueuer(enqueuer),
		reconciler.WithTriage(reconciler.NewEmailTriage(sender, emailCfg.OperatorEmail)),
		reconciler.WithOwnerNotifier(reconciler.NewEmailNotifier(sender)),
		reconciler.WithMetrics(registry),
	)

	worker, err := queue.NewWorker(jobs,
		queue.WithQueues(recon.Queue(), usage.InvalidateQueue),
		queue.WithWorkerConfig(queueCfg),
		queue.WithWorkerLogger(log),
	)
	if err != nil {
		return err
	}
	worker.Register(recon.Handler(), tracker.Handler())

	router := intake.NewRouter(intake.Routes{
		Webhook: intake.WebhookHandler(stripe, recon, log, intakeCfg.MaxBodyBytes),
		Checks: map[string]intake.Check{
			"postgres": pg.Healthcheck(pool),
			"redis":    redis.Healthcheck(rdb),
		},
		Metrics: registry,
		Logger:  log,
	})

	sched := cron.New(cron.WithLogger(cronLogger{log}), cron.WithChain(cron.SkipIfStillRunning(cronLogger{log})))
	jobsToSchedule := []struct {
		name, spec string
		fn         func(context.Context) error
	}{
		{"subscription_sweep", ledgerCfg.SweepSchedule, func(ctx context.Context) error {
			report, err := subs.Sweep(ctx)
			if err == nil {
				log.InfoContext(ctx, "subscription sweep finished", slog.Any("report", report))
			}
			return err
		}},
		{"billing_event_cleanup", app.EventCleanupSchedule, func(ctx context.Context) error {
			_, _, err := recon.Housekeep(ctx, reconCfg.Retention)
			return err
		}},
		{"plan_sync", app.PlanSyncSchedule, func(ctx context.Context) error {
			if stripeCfg.SecretKey == "" {
				return nil
			}
			report := catalog.Sync(ctx, provider.NewPriceFetcher(stripe, stripeCfg.Platform()))
			if !report.OK() {
				return fmt.Errorf("%d plans drifted, %d failed", len(report.Drifted), len(report.Failed))
			}
			return nil
		}},
	}
	for _, j := range jobsToSchedule {
		if j.spec == "" {
			continue
		}
		if _, err := sched.AddFunc(j.spec, func() {
			jctx := logger.WithOperation(ctx, j.name)
			if err := j.fn(jctx); err != nil {
				log.ErrorContext(jctx, "scheduled job failed", logger.Operation(j.name), logger.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return intake.NewServer(intakeCfg, intake.WithLogger(log)).Run(gctx, router)
	})
	g.Go(worker.Run(gctx))
	g.Go(func() error {
		sched.Start()
		<-gctx.Done()
		<-sched.Stop().Done()
		return nil
	})

	log.InfoContext(ctx, "billingd started", slog.String("addr", intakeCfg.Addr))
	return g.Wait()
}

// cronLogger routes cron's logging into slog.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, logger.Error(err))...)
}
