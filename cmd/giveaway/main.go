package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "giveaway",
		Short:        "Reward giveaway event engine",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file path")
	pf.String("caller", "", "address acting as the caller of mutating commands")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("pg-dsn", "", "Postgres DSN")
	pf.String("rpc", "", "EVM RPC URL for clock, randomness and token metadata")
	pf.StringSlice("kafka-brokers", nil, "kafka brokers (comma-separated)")
	pf.String("journal", "./data/transfers.jsonl", "transfer journal path used without kafka")
	pf.String("redis-addr", "", "redis address for the scheduler lock")

	root.AddCommand(
		newInitCmd(),
		newSetActiveCmd(),
		newWhitelistCmd(),
		newCreateCmd(),
		newParticipantsCmd(),
		newFinalizeCmd(),
		newDistributeCmd(),
		newSettleCmd(),
		newFlushCmd(),
		newCloseCmd(),
		newEventsCmd(),
		newPayoutsCmd(),
		newFeesCmd(),
		newMigrateCmd(),
		newServeCmd(),
		newScheduleCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, metrics server and transfer result consumer",
		RunE:  runServe,
	}
	cmd.Flags().String("http-addr", ":8080", "API listen address")
	cmd.Flags().String("metrics-addr", ":9090", "metrics/health listen address")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for API tokens")
	cmd.Flags().Int("max-retries", 5, "maximum retry attempts for transfer results")
	cmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	return cmd
}

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Finalize due events and dispatch payouts periodically",
		RunE:  runSchedule,
	}
	cmd.Flags().Uint64("batch-size", 50, "payouts per transfer batch")
	cmd.Flags().Duration("scan-interval", 15*time.Second, "time between cycles")
	cmd.Flags().String("checkpoint", "./data/scheduler.json", "checkpoint file path used without Postgres")
	cmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	cmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	cmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	cmd.Flags().String("metrics-addr", ":9090", "metrics/health listen address")
	cmd.Flags().Bool("once", false, "run a single cycle and exit")
	return cmd
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
