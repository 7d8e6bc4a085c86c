package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/taskmesh/runtime/pkg/config"
	"github.com/taskmesh/runtime/pkg/events"
	"github.com/taskmesh/runtime/pkg/health"
	"github.com/taskmesh/runtime/pkg/httpapi"
	"github.com/taskmesh/runtime/pkg/log"
	"github.com/taskmesh/runtime/pkg/push"
	"github.com/taskmesh/runtime/pkg/scheduler"
	"github.com/taskmesh/runtime/pkg/storage"
	"github.com/taskmesh/runtime/pkg/worker"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "taskrund",
	Short: "taskrund - agent task runtime",
	Long: `taskrund runs the agent task runtime: a scheduler that hands task
operations to a worker pool, a store that persists task state, and a
push-notification manager that relays every transition to subscribed
webhooks.`,
	Version: Version,
	RunE:    runServe,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"taskrund version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	logger := log.WithComponent("taskrund")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	sched, err := openScheduler(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open scheduler: %w", err)
	}
	defer sched.Close()

	pushMgr := push.NewManager(push.Config{
		Store:                    store,
		PushNotificationsEnabled: cfg.PushNotificationsEnabled,
		Global: push.GlobalConfig{
			URL:   cfg.WebhookURL,
			Token: cfg.WebhookToken,
		},
		Deliverer: push.NewHTTPDeliverer(),
	})
	if err := pushMgr.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize push manager: %w", err)
	}

	if cfg.WebhookURL != "" {
		checkWebhookReachable(ctx, logger, cfg.WebhookURL)
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	w := worker.New(worker.Config{
		Scheduler:     sched,
		Store:         store,
		Push:          pushMgr,
		Handler:       worker.EchoHandler{},
		Broker:        broker,
		Concurrency:   cfg.WorkerConcurrency,
		ShutdownGrace: cfg.ShutdownGracePeriod,
	})
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}

	healthSrv := httpapi.NewHealthServer(sched, store)
	go func() {
		logger.Info().Str("addr", cfg.HealthAddr).Msg("health server listening")
		if err := healthSrv.Start(cfg.HealthAddr); err != nil {
			logger.Error().Err(err).Msg("health server stopped")
		}
	}()

	logger.Info().
		Str("storage", string(cfg.StorageType)).
		Str("scheduler", string(cfg.SchedulerType)).
		Int("worker_concurrency", cfg.WorkerConcurrency).
		Msg("taskrund ready")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	w.Stop()
	logger.Info().Msg("shutdown complete")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageType {
	case config.StoragePostgres:
		return storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	default:
		return storage.NewMemoryStore(), nil
	}
}

func openScheduler(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (scheduler.Scheduler, error) {
	switch cfg.SchedulerType {
	case config.SchedulerRedis:
		return scheduler.NewRedisScheduler(ctx, scheduler.RedisConfig{
			URL:       cfg.RedisURL,
			QueueName: cfg.RedisQueueName,
		})
	default:
		return scheduler.NewMemoryScheduler(scheduler.MemoryConfig{
			Capacity: cfg.SchedulerMemoryCapacity,
		}), nil
	}
}

// checkWebhookReachable runs a bounded, non-fatal reachability probe
// against the configured webhook endpoint at startup. A failed probe is
// logged, not fatal: the webhook may come up after taskrund does, and
// delivery retries handle that case at dispatch time.
func checkWebhookReachable(ctx context.Context, logger zerolog.Logger, url string) {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	checker := health.NewHTTPChecker(url).WithMethod("HEAD").WithStatusRange(100, 599)
	result := checker.Check(checkCtx)
	if !result.Healthy {
		logger.Warn().Str("url", url).Str("detail", result.Message).Msg("webhook endpoint unreachable at startup")
		return
	}
	logger.Info().Str("url", url).Msg("webhook endpoint reachable")
}
