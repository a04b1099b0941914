package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"sentinel/internal/api"
	"sentinel/internal/daemon"
	"sentinel/internal/store"
	"sentinel/internal/trust"
)

func newTrustCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trust",
		Short: "Inspect and update user trust scores",
	}
	cmd.AddCommand(newTrustShowCommand(ctx))
	cmd.AddCommand(newTrustRecomputeCommand(ctx))
	cmd.AddCommand(newTrustVerifyCommand(ctx))
	cmd.AddCommand(newTrustTransactionCommand(ctx))
	return cmd
}

func newTrustShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <user>",
		Short: "Show a user's trust profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(func(svc *daemon.Services) error {
				score, err := svc.Trust.Get(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				return printTrust(cmd, ctx, score)
			})
		},
	}
}

func newTrustRecomputeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "recompute <user>",
		Short: "Recompute a user's sub-scores from their counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(func(svc *daemon.Services) error {
				score, err := svc.Trust.Recompute(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				return printTrust(cmd, ctx, score)
			})
		},
	}
}

func newTrustVerifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <user> <type>",
		Short: "Record an approved identity verification",
		Long: fmt.Sprintf("Record an approved identity verification.\n\nKnown types: %s",
			strings.Join(trust.VerificationTypes(), ", ")),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(func(svc *daemon.Services) error {
				score, err := svc.Trust.ApproveVerification(cmd.Context(), strings.TrimSpace(args[0]), strings.TrimSpace(args[1]))
				if err != nil {
					return err
				}
				return printTrust(cmd, ctx, score)
			})
		},
	}
}

func newTrustTransactionCommand(ctx *commandContext) *cobra.Command {
	var successful, disputed bool

	cmd := &cobra.Command{
		Use:   "transaction <user>",
		Short: "Record a completed marketplace transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(func(svc *daemon.Services) error {
				score, err := svc.Trust.RecordTransaction(cmd.Context(), strings.TrimSpace(args[0]), successful, disputed)
				if err != nil {
					return err
				}
				return printTrust(cmd, ctx, score)
			})
		},
	}
	cmd.Flags().BoolVar(&successful, "successful", false, "Transaction completed successfully")
	cmd.Flags().BoolVar(&disputed, "disputed", false, "Transaction was disputed")
	return cmd
}

func printTrust(cmd *cobra.Command, ctx *commandContext, score *store.TrustScore) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, api.FromTrust(score))
	}
	computed := "never"
	if score.ComputedAt != nil {
		computed = score.ComputedAt.Local().Format("2006-01-02 15:04:05")
	}
	flag := "no"
	if score.AccountFlag {
		flag = "yes: " + score.FlagReason
	}
	printFields(cmd, [][2]string{
		{"User", score.UserID},
		{"Overall", formatScore(score.Scores.Overall)},
		{"Verification", formatScore(score.Scores.Verification)},
		{"Transaction", formatScore(score.Scores.Transaction)},
		{"Community", formatScore(score.Scores.Community)},
		{"Cultural", formatScore(score.Scores.Cultural)},
		{"Verified", orDash(strings.Join(score.Verifications, ", "))},
		{"Account flag", flag},
		{"Computed", computed},
	})

	c := score.Counters
	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"Transactions", "Successful", "Disputes", "Reports", "Helpful", "Cultural items", "Upheld flags"},
		[][]string{{
			strconv.FormatInt(c.TotalTransactions, 10),
			strconv.FormatInt(c.SuccessfulTransactions, 10),
			strconv.FormatInt(c.Disputes, 10),
			strconv.FormatInt(c.ReportsReceived, 10),
			strconv.FormatInt(c.HelpfulMarks, 10),
			strconv.FormatInt(c.VerifiedCulturalItems, 10),
			strconv.FormatInt(c.UpheldCulturalFlags, 10),
		}},
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
	))
	return nil
}
