package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"giveaway/internal/chain"
	"giveaway/internal/config"
	"giveaway/internal/giveaway"
	"giveaway/internal/metrics"
	"giveaway/internal/storage"
	"giveaway/internal/storage/postgres"
	"giveaway/internal/transfer"
)

type facility interface {
	giveaway.TransferFacility
	giveaway.Refunder
}

// runtime is the wired service plus the resources it must release.
type runtime struct {
	cfg      config.Config
	logger   *zap.Logger
	svc      *giveaway.Service
	pg       *postgres.Store
	chain    *chain.Client
	recorder *metrics.Recorder
	writers  []*kafka.Writer
}

// setup loads configuration and builds the service. Without a Postgres DSN
// state lives in memory, which only long-running commands accept.
func setup(ctx context.Context, cmd *cobra.Command, allowMemory bool) (*runtime, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, logger: logger, recorder: metrics.NewRecorder()}
	if err := rt.build(ctx, allowMemory); err != nil {
		rt.close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) build(ctx context.Context, allowMemory bool) error {
	cfg := rt.cfg
	if err := checkSeedSource(cfg); err != nil {
		return err
	}

	var store storage.Store
	if cfg.PGDSN != "" {
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		rt.pg = pg
		store = pg
	} else {
		if !allowMemory {
			return fmt.Errorf("pg-dsn is required")
		}
		rt.logger.Warn("no pg-dsn configured, state is kept in memory")
		store = storage.NewMemoryStore()
	}

	deps := giveaway.Deps{Store: store, Hooks: rt.recorder.Hooks()}
	if cfg.RPCURL != "" {
		client, err := chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		rt.chain = client
		deps.Clock = client
		deps.Random = client
	} else {
		deps.Clock = &chain.SystemClock{}
		deps.Random = chain.LocalRandom{Size: cfg.SeedWindow}
	}

	var sink facility
	if len(cfg.KafkaBrokers) > 0 {
		batches := transfer.NewWriter(cfg.KafkaBrokers, cfg.TopicBatches)
		refunds := transfer.NewWriter(cfg.KafkaBrokers, cfg.TopicRefunds)
		rt.writers = append(rt.writers, batches, refunds)
		sink = transfer.NewPublisher(batches, refunds)
	} else {
		sink = transfer.NewJournal(cfg.Journal)
	}
	deps.Transfer = sink
	deps.Refunder = sink

	svc, err := giveaway.New(cfg.Service(), deps, rt.logger)
	if err != nil {
		return err
	}
	rt.svc = svc
	return nil
}

// checkSeedSource rejects a seed window the configured randomness source
// cannot fill, since every Finalize would then fail.
func checkSeedSource(cfg config.Config) error {
	if cfg.RPCURL != "" && cfg.SeedWindow > chain.SeedSize {
		return fmt.Errorf("seed-window %d exceeds the %d-byte chain seed", cfg.SeedWindow, chain.SeedSize)
	}
	return nil
}

func (rt *runtime) close() {
	for _, w := range rt.writers {
		if err := w.Close(); err != nil {
			rt.logger.Warn("close kafka writer", zap.Error(err))
		}
	}
	if rt.chain != nil {
		rt.chain.Close()
	}
	if rt.pg != nil {
		rt.pg.Close()
	}
	_ = rt.logger.Sync()
}

func callerFlag(cmd *cobra.Command) (common.Address, error) {
	raw, _ := cmd.Flags().GetString("caller")
	return parseAddress(raw)
}
