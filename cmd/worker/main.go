package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/bounce-monitor/internal/api"
	"github.com/ignite/bounce-monitor/internal/commands"
	"github.com/ignite/bounce-monitor/internal/config"
	"github.com/ignite/bounce-monitor/internal/credentials"
	"github.com/ignite/bounce-monitor/internal/ingest"
	"github.com/ignite/bounce-monitor/internal/mailbox"
	"github.com/ignite/bounce-monitor/internal/pkg/logger"
	"github.com/ignite/bounce-monitor/internal/repository/postgres"
	"github.com/ignite/bounce-monitor/internal/reputation"
	"github.com/ignite/bounce-monitor/internal/scheduler"
	"github.com/ignite/bounce-monitor/internal/suppression"
	"github.com/ignite/bounce-monitor/internal/training"

	_ "github.com/lib/pq"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	pollEvery := flag.Duration("poll-interval", 5*time.Minute, "mailbox polling cadence")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("cannot load configuration", "path", *configPath, "error", err.Error())
		os.Exit(1)
	}

	logger.Info("starting bounce monitor worker")

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("cannot open database", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		logger.Error("cannot reach database", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("connected to database")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Error("cannot reach redis", "addr", cfg.Redis.Addr, "error", err.Error())
		os.Exit(1)
	}
	logger.Info("connected to redis", "addr", cfg.Redis.Addr)

	cipher, err := credentials.NewCipher(cfg.Mailbox.SecretKey)
	if err != nil {
		logger.Error("invalid mailbox secret key", "error", err.Error())
		os.Exit(1)
	}

	registry := suppression.NewService(
		postgres.NewSuppressionRepo(db),
		suppression.NewRedisCache(rdb, time.Minute),
	)
	scores := reputation.NewService(postgres.NewReputationRepo(db), reputation.Config{
		WindowDays:      cfg.Reputation.WindowDays,
		LowRiskScore:    cfg.Reputation.LowRiskScore,
		MediumRiskScore: cfg.Reputation.MediumRiskScore,
		NeutralScore:    cfg.Reputation.NeutralScore,
	})
	creds := credentials.NewService(postgres.NewCredentialRepo(db), cipher)
	trainer := training.NewController(postgres.NewLimitRepo(db), scores, cfg.Training)
	sched := scheduler.New(scheduler.NewRedisStore(rdb, "sched:"), cfg.Scheduler.Interval(), cfg.Scheduler.LockTTL())
	processor := ingest.NewProcessor(creds, mailbox.NewClient(cfg.Mailbox), registry, scores)
	cmds := commands.New(cfg, creds, processor, registry, scores, trainer, sched)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := api.NewServer(cfg.Server, registry)
	go func() {
		logger.Info("webhook server listening", "host", cfg.Server.Host, "port", strconv.Itoa(cfg.Server.Port))
		if err := server.Start(); err != nil {
			logger.Error("webhook server stopped", "error", err.Error())
			cancel()
		}
	}()

	// Mailbox polling plus the monitoring sweep. The sweep's own schedule
	// and run locks decide which domains actually recompute.
	go func() {
		ticker := time.NewTicker(*pollEvery)
		defer ticker.Stop()
		for {
			runCycle(ctx, cmds)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	// Daily counter reset, checked hourly; the roll itself is keyed by day.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			if _, err := trainer.RollDay(ctx); err != nil {
				logger.Error("daily reset failed", "error", err.Error())
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	logger.Info("worker running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	cancel()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("webhook server shutdown failed", "error", err.Error())
	}
	logger.Info("worker stopped")
}

// runCycle polls every active mailbox, then sweeps the known domains.
func runCycle(ctx context.Context, cmds *commands.Commands) {
	batch, err := cmds.ProcessBounces(ctx, commands.BounceOptions{})
	if err != nil {
		logger.Warn("bounce processing skipped", "error", err.Error())
	} else {
		logger.Info("bounce mailboxes processed",
			"credentials", strconv.Itoa(len(batch.Credentials)),
			"processed", strconv.Itoa(batch.TotalProcessed),
			"suppressed", strconv.Itoa(batch.TotalSuppressed))
	}

	res, err := cmds.Monitor(ctx, false)
	if err != nil {
		logger.Error("monitoring sweep failed", "error", err.Error())
		return
	}
	if res.DomainsNeedingAttention > 0 {
		logger.Warn("domains need attention", "count", strconv.Itoa(res.DomainsNeedingAttention))
	}
}
