package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"giveaway/internal/fee"
	"giveaway/internal/giveaway"
	"giveaway/internal/scheduler"
	"giveaway/internal/transfer"
)

// Config holds configuration values loaded from .env, config file, env and flags.
type Config struct {
	LogLevel string

	PGDSN        string
	RPCURL       string
	KafkaBrokers []string
	TopicBatches string
	TopicResults string
	TopicRefunds string
	TopicDLQ     string
	Journal      string
	RedisAddr    string
	LockTTL      time.Duration

	HTTPAddr    string
	MetricsAddr string
	JWTSecret   string

	MaxWinners           int
	SeedWindow           int
	MaxTitleLength       int
	MaxDescriptionLength int
	FeeNumerator         uint64
	FeeDenominator       uint64
	MaxFee               *big.Int

	BatchSize         uint64
	ScanSize          uint64
	ScanInterval      time.Duration
	MaxRetries        int
	RetryBackoff      time.Duration
	Checkpoint        string
	CheckpointEnabled bool
}

// Load merges .env, config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("GIVEAWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	defaults := giveaway.DefaultConfig()
	v.SetDefault("log-level", "info")
	v.SetDefault("topic-batches", transfer.TopicBatches)
	v.SetDefault("topic-results", transfer.TopicResults)
	v.SetDefault("topic-refunds", transfer.TopicRefunds)
	v.SetDefault("journal", "./data/transfers.jsonl")
	v.SetDefault("lock-ttl", 30*time.Second)
	v.SetDefault("http-addr", ":8080")
	v.SetDefault("metrics-addr", ":9090")
	v.SetDefault("max-winners", defaults.MaxWinners)
	v.SetDefault("seed-window", defaults.SeedWindow)
	v.SetDefault("max-title-length", defaults.MaxTitleLength)
	v.SetDefault("max-description-length", defaults.MaxDescriptionLength)
	v.SetDefault("fee-numerator", defaults.Fee.Numerator)
	v.SetDefault("fee-denominator", defaults.Fee.Denominator)
	v.SetDefault("max-fee", "1000000000000000000")
	v.SetDefault("batch-size", uint64(50))
	v.SetDefault("scan-size", uint64(100))
	v.SetDefault("scan-interval", 15*time.Second)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("checkpoint", "./data/scheduler.json")
	v.SetDefault("checkpoint-enabled", true)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var maxFee *big.Int
	if raw := strings.TrimSpace(v.GetString("max-fee")); raw != "" {
		parsed, ok := new(big.Int).SetString(raw, 10)
		if !ok || parsed.Sign() < 0 {
			return Config{}, fmt.Errorf("invalid max-fee %q", raw)
		}
		maxFee = parsed
	}

	cfg := Config{
		LogLevel:             v.GetString("log-level"),
		PGDSN:                v.GetString("pg-dsn"),
		RPCURL:               v.GetString("rpc"),
		KafkaBrokers:         getStringSlice(v, "kafka-brokers"),
		TopicBatches:         v.GetString("topic-batches"),
		TopicResults:         v.GetString("topic-results"),
		TopicRefunds:         v.GetString("topic-refunds"),
		TopicDLQ:             v.GetString("topic-dlq"),
		Journal:              v.GetString("journal"),
		RedisAddr:            v.GetString("redis-addr"),
		LockTTL:              v.GetDuration("lock-ttl"),
		HTTPAddr:             v.GetString("http-addr"),
		MetricsAddr:          v.GetString("metrics-addr"),
		JWTSecret:            v.GetString("jwt-secret"),
		MaxWinners:           v.GetInt("max-winners"),
		SeedWindow:           v.GetInt("seed-window"),
		MaxTitleLength:       v.GetInt("max-title-length"),
		MaxDescriptionLength: v.GetInt("max-description-length"),
		FeeNumerator:         v.GetUint64("fee-numerator"),
		FeeDenominator:       v.GetUint64("fee-denominator"),
		MaxFee:               maxFee,
		BatchSize:            v.GetUint64("batch-size"),
		ScanSize:             v.GetUint64("scan-size"),
		ScanInterval:         v.GetDuration("scan-interval"),
		MaxRetries:           v.GetInt("max-retries"),
		RetryBackoff:         v.GetDuration("retry-backoff"),
		Checkpoint:           v.GetString("checkpoint"),
		CheckpointEnabled:    v.GetBool("checkpoint-enabled"),
	}
	return cfg, nil
}

// Service returns the limits for the giveaway service.
func (c Config) Service() giveaway.Config {
	return giveaway.Config{
		MaxWinners:           c.MaxWinners,
		SeedWindow:           c.SeedWindow,
		MaxTitleLength:       c.MaxTitleLength,
		MaxDescriptionLength: c.MaxDescriptionLength,
		Fee: fee.Schedule{
			Numerator:   c.FeeNumerator,
			Denominator: c.FeeDenominator,
			MaxFee:      c.MaxFee,
		},
	}
}

// Scheduler returns the scheduler runtime settings.
func (c Config) Scheduler() scheduler.RunConfig {
	return scheduler.RunConfig{
		BatchSize:    c.BatchSize,
		ScanSize:     c.ScanSize,
		Interval:     c.ScanInterval,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
	}
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	return cleanStrings(strings.Split(input, ","))
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
