package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"transcription-orchestrator/internal/config"
	"transcription-orchestrator/internal/orchestrator"
	"transcription-orchestrator/internal/queue"
	"transcription-orchestrator/internal/recognizer"
	"transcription-orchestrator/internal/store"
	"transcription-orchestrator/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "orchestrator")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	trigger := queue.NewTrigger(redisClient, cfg.TriggerLeaseTTL)

	rec := recognizer.NewHTTPClient(cfg.RecognizerURL, cfg.RecognizerAPIKey, cfg.RecognizerTimeout)

	engine := orchestrator.New(st, st, rec, cfg.BatchSize, orchestrator.RetryPolicy{
		MaxAttempts: cfg.MaxRetryAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		Multiplier:  cfg.RetryMultiplier,
	}, orchestrator.WithLogger(logger))

	// Periodic housekeeping: reclaim expired leases and report depth.
	janitor := cron.New()
	_, err = janitor.AddFunc("@every 30s", func() {
		sweepCtx, sweepCancel := context.WithTimeout(ctx, 10*time.Second)
		defer sweepCancel()
		if reclaimed, err := trigger.RequeueExpired(sweepCtx, time.Now(), 100); err != nil {
			logger.Warn("lease sweep failed", "error", err)
		} else if len(reclaimed) > 0 {
			logger.Info("reclaimed expired leases", "count", len(reclaimed))
		}
		if depth, err := trigger.Depth(sweepCtx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}
	})
	if err != nil {
		log.Fatalf("schedule janitor: %v", err)
	}
	janitor.Start()
	defer janitor.Stop()

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	logger.Info("orchestrator started",
		"batch_size", cfg.BatchSize,
		"max_retry_attempts", cfg.MaxRetryAttempts,
		"trigger_lease_ttl", cfg.TriggerLeaseTTL,
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info("orchestrator stopped")
			return
		default:
		}

		jobKey, err := trigger.DequeueWithLease(ctx)
		if err != nil || jobKey == "" {
			select {
			case <-ctx.Done():
			case <-time.After(cfg.TriggerPollInterval):
			}
			continue
		}

		if err := engine.Run(ctx, jobKey); err != nil {
			// Leave the lease in place: the janitor re-delivers the
			// key after expiry and the idempotent engine resumes from
			// whatever the stores already hold.
			logger.Error("orchestration attempt failed", "job_key", jobKey, "error", err)
			continue
		}
		if err := trigger.Ack(ctx, jobKey); err != nil {
			logger.Warn("ack failed", "job_key", jobKey, "error", err)
		}
	}
}
