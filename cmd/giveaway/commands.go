package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"giveaway/internal/fee"
	"giveaway/internal/model"
	"giveaway/internal/token"
)

const nativeDecimals = 18

// withRuntime runs fn against a Postgres-backed service.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := setup(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer rt.close()
	return fn(ctx, rt)
}

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Record the contract owner (--caller) and transfer facility",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			owner, err := callerFlag(cmd)
			if err != nil {
				return err
			}
			facilityID, _ := cmd.Flags().GetString("facility")
			if facilityID == "" {
				return fmt.Errorf("facility is required")
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				return rt.svc.Init(ctx, owner, facilityID)
			})
		},
	}
	cmd.Flags().String("facility", "", "identity of the bulk transfer facility")
	return cmd
}

func newSetActiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-active <true|false>",
		Short: "Enable or disable event creation and registration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := callerFlag(cmd)
			if err != nil {
				return err
			}
			active, err := strconv.ParseBool(args[0])
			if err != nil {
				return fmt.Errorf("invalid flag value %q", args[0])
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				return rt.svc.SetActive(ctx, caller, active)
			})
		},
	}
}

func newWhitelistCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whitelist <token>",
		Short: "Allow an ERC20 token as a reward currency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := callerFlag(cmd)
			if err != nil {
				return err
			}
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				if rt.chain == nil {
					return fmt.Errorf("rpc url is required to read token metadata")
				}
				meta, err := token.FetchMeta(ctx, rt.chain, addr, rt.logger)
				if err != nil {
					return err
				}
				if err := rt.svc.WhitelistToken(ctx, caller, meta); err != nil {
					return err
				}
				return printJSON(meta)
			})
		},
	}
}

func newCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an event from a JSON file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			caller, err := callerFlag(cmd)
			if err != nil {
				return err
			}
			path, _ := cmd.Flags().GetString("file")
			raw, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read event file: %w", err)
			}
			var in model.EventInput
			if err := json.Unmarshal(raw, &in); err != nil {
				return fmt.Errorf("decode event file: %w", err)
			}
			depositRaw, _ := cmd.Flags().GetString("deposit")
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				deposit, err := parseAmount(depositRaw)
				if err != nil {
					return err
				}
				if deposit == nil {
					_, deposit = rt.svc.Config().Fee.RequiredDeposit(model.TotalRewards(in.Rewards))
				}
				id, err := rt.svc.CreateEvent(ctx, caller, in, deposit)
				if err != nil {
					return err
				}
				return printJSON(map[string]interface{}{"id": id, "deposit": deposit.String()})
			})
		},
	}
	cmd.Flags().String("file", "", "event JSON file")
	cmd.Flags().String("deposit", "", "attached deposit in base units, defaults to the required amount")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newParticipantsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "participants <event-id> <address>...",
		Short: "Register participants during the registration window",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := callerFlag(cmd)
			if err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			participants, err := parseAddresses(args[1:])
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				added, err := rt.svc.InsertParticipants(ctx, caller, id, participants)
				if err != nil {
					return err
				}
				return printJSON(map[string]int{"added": added})
			})
		},
	}
}

func newFinalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <event-id>",
		Short: "Run the draw for an event whose time has come",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				payouts, err := rt.svc.Finalize(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(payouts)
			})
		},
	}
}

func newDistributeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "distribute <event-id>",
		Short: "Submit a transfer batch for a range of payouts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			from, _ := cmd.Flags().GetUint64("from")
			limit, _ := cmd.Flags().GetUint64("limit")
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				batch, err := rt.svc.Distribute(ctx, id, from, limit)
				if err != nil {
					return err
				}
				return printJSON(batch)
			})
		},
	}
	cmd.Flags().Uint64("from", 0, "first payout index")
	cmd.Flags().Uint64("limit", 0, "payouts in the batch, 0 means all")
	return cmd
}

func newFlushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Resend transfer batches that were queued but never delivered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				n, err := rt.svc.FlushOutbox(ctx)
				if err != nil {
					return err
				}
				rt.logger.Info("transfer outbox flushed", zap.Int("delivered", n))
				return nil
			})
		},
	}
}

func newSettleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Apply a transfer result reported by the facility",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("file")
			raw, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read result file: %w", err)
			}
			var result model.TransferResult
			if err := json.Unmarshal(raw, &result); err != nil {
				return fmt.Errorf("decode result file: %w", err)
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				if err := rt.svc.OnTransferResult(ctx, result); err != nil {
					return err
				}
				rt.logger.Info("transfer result applied",
					zap.String("batch", result.BatchID),
					zap.Uint64("event_id", result.EventID),
					zap.Bool("success", result.Success),
				)
				return nil
			})
		},
	}
	cmd.Flags().String("file", "", "transfer result JSON file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close <event-id>",
		Short: "Mark an event distributed once every payout is complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				return rt.svc.Close(ctx, id)
			})
		},
	}
}

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, _ := cmd.Flags().GetUint64("from")
			limit, _ := cmd.Flags().GetUint64("limit")
			due, _ := cmd.Flags().GetBool("to-finalize")
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				list := rt.svc.Events
				if due {
					list = rt.svc.EventsToFinalize
				}
				events, err := list(ctx, from, limit)
				if err != nil {
					return err
				}
				return printJSON(events)
			})
		},
	}
	cmd.Flags().Uint64("from", 0, "first event id")
	cmd.Flags().Uint64("limit", 50, "maximum events")
	cmd.Flags().Bool("to-finalize", false, "only pending events whose time has come")
	return cmd
}

func newPayoutsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payouts <event-id>",
		Short: "List the payouts of an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			from, _ := cmd.Flags().GetUint64("from")
			limit, _ := cmd.Flags().GetUint64("limit")
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				payouts, err := rt.svc.Payouts(ctx, id, from, limit)
				if err != nil {
					return err
				}
				tokens, err := rt.svc.WhitelistedTokens(ctx)
				if err != nil {
					return err
				}
				decimals := make(map[string]uint8, len(tokens))
				symbols := make(map[string]string, len(tokens))
				for _, meta := range tokens {
					key := fee.CurrencyKey(&meta.Address)
					decimals[key] = meta.Decimals
					symbols[key] = meta.Symbol
				}
				for _, p := range payouts {
					key := fee.CurrencyKey(p.Token)
					dec, ok := decimals[key]
					if !ok {
						dec = nativeDecimals
					}
					symbol := symbols[key]
					if symbol == "" {
						symbol = key
					}
					fmt.Printf("%d\t%s\t%s %s\t%s\tattempts=%d failures=%d\n",
						p.Index, p.Winner.Hex(), token.FormatAmount(p.Amount, dec), symbol, p.Status, p.Attempts, p.Failures)
				}
				return nil
			})
		},
	}
	cmd.Flags().Uint64("from", 0, "first payout index")
	cmd.Flags().Uint64("limit", 100, "maximum payouts")
	return cmd
}

func newFeesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fees",
		Short: "Show accrued service fees per currency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				balances, err := rt.svc.FeeBalances(ctx)
				if err != nil {
					return err
				}
				out := make(map[string]string, len(balances))
				for _, currency := range balances.Currencies() {
					out[currency] = balances.Get(currency).String()
				}
				return printJSON(out)
			})
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				if err := rt.pg.Migrate(ctx); err != nil {
					return err
				}
				rt.logger.Info("schema migrated")
				return nil
			})
		},
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
