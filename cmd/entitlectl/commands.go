package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/lampstand/entitlements/internal/auth"
	"github.com/lampstand/entitlements/internal/model"
)

const commandTimeout = 30 * time.Second

func newRootCmd(open openFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "entitlectl",
		Short:         "Operate the entitlements service",
		Long:          "entitlectl inspects and corrects entitlement records and manages the service key.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newHashKeyCmd(),
		newShowCmd(open),
		newGrantCmd(open),
		newRevokeCmd(open),
		newUsageCmd(open),
		newResetCreditsCmd(open),
		newChangesCmd(open),
	)
	return root
}

// withBackend opens the backend, runs fn and closes it.
func withBackend(cmd *cobra.Command, open openFunc, fn func(ctx context.Context, b *backend) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	b, err := open(ctx)
	if err != nil {
		return err
	}
	defer b.close(ctx)

	return fn(ctx, b)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newHashKeyCmd() *cobra.Command {
	var (
		envName string
		key     string
	)
	cmd := &cobra.Command{
		Use:   "hash-key",
		Short: "Generate a service key and its SERVICE_KEY_HASH",
		Long: `Without --key a new key is generated. Store the plaintext in the app
backend and set SERVICE_KEY_HASH on the service to the printed hash.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if key != "" {
				if !auth.ValidateKeyFormat(key) {
					return errors.New("key does not look like a service key")
				}
				hash, err := auth.HashKey(key)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "SERVICE_KEY_HASH=%s\n", hash)
				return nil
			}

			generated, err := auth.GenerateServiceKey(envName)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "key: %s\n", generated.Plaintext)
			fmt.Fprintf(out, "SERVICE_KEY_HASH=%s\n", generated.Hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&envName, "env", "live", "key environment: live or test")
	cmd.Flags().StringVar(&key, "key", "", "hash an existing key instead of generating one")
	return cmd
}

func newShowCmd(open openFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "show USER_ID",
		Short: "Print a user's entitlement record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, open, func(ctx context.Context, b *backend) error {
				e, err := b.entitlements.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), e)
			})
		},
	}
}

func newGrantCmd(open openFunc) *cobra.Command {
	var subscriptionID string
	cmd := &cobra.Command{
		Use:   "grant USER_ID",
		Short: "Mark a user as paid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := model.Target{IsPaid: true, PaymentActive: true, SubscriptionID: subscriptionID}
			return applyTarget(cmd, open, args[0], target, "manual.grant")
		},
	}
	cmd.Flags().StringVar(&subscriptionID, "subscription", "", "Stripe subscription id to record")
	return cmd
}

func newRevokeCmd(open openFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke USER_ID",
		Short: "Mark a user as not paid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return applyTarget(cmd, open, args[0], model.Target{}, "manual.revoke")
		},
	}
}

func applyTarget(cmd *cobra.Command, open openFunc, userID string, target model.Target, eventType string) error {
	return withBackend(cmd, open, func(ctx context.Context, b *backend) error {
		e, err := b.entitlements.Apply(ctx, userID, target, model.ChangeSource{EventType: eventType})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), e)
	})
}

func newUsageCmd(open openFunc) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "usage USER_ID",
		Short: "List a user's recent metered actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, open, func(ctx context.Context, b *backend) error {
				rows, err := b.entitlements.Usage(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rows)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows to print")
	return cmd
}

func newResetCreditsCmd(open openFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-credits",
		Short: "Replenish every free balance recorded before today (UTC)",
		Long: `Balances are also replenished lazily on first use each day; this
command exists for deployments that prefer a scheduled bulk reset.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, open, func(ctx context.Context, b *backend) error {
				n, err := b.entitlements.ResetDailyCredits(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reset %d balances\n", n)
				return nil
			})
		},
	}
}

func newChangesCmd(open openFunc) *cobra.Command {
	var count int64
	cmd := &cobra.Command{
		Use:   "changes",
		Short: "Print the most recent entitlement change notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, open, func(ctx context.Context, b *backend) error {
				if b.changes == nil {
					return errors.New("REDIS_URL is required for changes")
				}
				changes, err := b.changes.Recent(ctx, count)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), changes)
			})
		},
	}
	cmd.Flags().Int64Var(&count, "count", 20, "number of changes to print")
	return cmd
}
