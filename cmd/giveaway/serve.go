package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"giveaway/internal/api"
	"giveaway/internal/giveaway"
	"giveaway/internal/lock"
	"giveaway/internal/metrics"
	"giveaway/internal/scheduler"
	"giveaway/internal/transfer"
)

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := setup(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer rt.close()
	cfg := rt.cfg
	logger := rt.logger

	if cfg.JWTSecret == "" {
		return fmt.Errorf("jwt-secret is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 3)
	tasks := 0
	start := func(name string, fn func(ctx context.Context) error) {
		tasks++
		go func() {
			err := fn(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				err = fmt.Errorf("%s: %w", name, err)
			} else {
				err = nil
			}
			errCh <- err
		}()
	}

	router := api.NewServer(rt.svc, []byte(cfg.JWTSecret), logger).Router()
	start("api", func(ctx context.Context) error {
		logger.Info("giveaway api listening", zap.String("addr", cfg.HTTPAddr))
		return metrics.Serve(ctx, cfg.HTTPAddr, router, logger)
	})
	start("metrics", func(ctx context.Context) error {
		return metrics.Serve(ctx, cfg.MetricsAddr, metrics.Handler(rt.recorder.Registry, rt.healthChecks(nil)), logger)
	})

	if len(cfg.KafkaBrokers) > 0 {
		reader := transfer.NewReader(cfg.KafkaBrokers, cfg.TopicResults, transfer.ResultGroup)
		defer reader.Close()
		consumer := &transfer.ResultConsumer{
			Reader:       reader,
			Handle:       rt.svc.OnTransferResult,
			Permanent:    giveaway.IsPrecondition,
			MaxRetries:   cfg.MaxRetries,
			RetryBackoff: cfg.RetryBackoff,
			Log:          logger,
			OnConsumed:   rt.recorder.ResultConsumed,
			OnError:      rt.recorder.Error,
		}
		if cfg.TopicDLQ != "" {
			dlq := transfer.NewWriter(cfg.KafkaBrokers, cfg.TopicDLQ)
			rt.writers = append(rt.writers, dlq)
			consumer.DeadLetters = dlq
		}
		start("results", consumer.Run)
		logger.Info("consuming transfer results", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.TopicResults))
	}

	var firstErr error
	for i := 0; i < tasks; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			logger.Error("component stopped", zap.Error(err))
		}
		cancel()
	}
	return firstErr
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := setup(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer rt.close()
	cfg := rt.cfg
	logger := rt.logger

	var locker scheduler.Locker
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		locker = lock.NewRedisLocker(rdb, cfg.LockTTL)
	}

	var checkpoint scheduler.StateStore
	if rt.pg != nil && cfg.CheckpointEnabled {
		checkpoint = scheduler.NewDBStateStore(rt.pg, "scheduler")
	} else {
		checkpoint = scheduler.NewFileStateStore(cfg.Checkpoint, cfg.CheckpointEnabled)
	}

	runner := scheduler.NewRunner(cfg.Scheduler(), rt.svc, checkpoint, locker, logger)
	runner.OnCycle = rt.recorder.SchedulerCycle

	logger.Info("scheduler start",
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.Duration("interval", cfg.ScanInterval),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.Bool("redis_lock", locker != nil),
	)

	if once, _ := cmd.Flags().GetBool("once"); once {
		summary, err := runner.RunOnce(ctx)
		if err != nil {
			return err
		}
		return printJSON(summary)
	}

	go func() {
		handler := metrics.Handler(rt.recorder.Registry, rt.healthChecks(rdb))
		if err := metrics.Serve(ctx, cfg.MetricsAddr, handler, logger); err != nil {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (rt *runtime) healthChecks(rdb *redis.Client) map[string]metrics.HealthCheck {
	checks := map[string]metrics.HealthCheck{}
	if rt.pg != nil {
		checks["pg"] = rt.pg.Ping
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	if len(rt.cfg.KafkaBrokers) > 0 {
		brokers := rt.cfg.KafkaBrokers
		checks["kafka"] = func(ctx context.Context) error {
			conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
			if err != nil {
				return err
			}
			return conn.Close()
		}
	}
	return checks
}
