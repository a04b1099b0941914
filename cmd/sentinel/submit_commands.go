package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sentinel/internal/api"
	"sentinel/internal/config"
	"sentinel/internal/daemon"
	"sentinel/internal/intake"
	"sentinel/internal/store"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit an upload or a payment for analysis",
	}
	submitCmd.AddCommand(newSubmitUploadCommand(ctx))
	submitCmd.AddCommand(newSubmitPaymentCommand(ctx))
	return submitCmd
}

func newSubmitUploadCommand(ctx *commandContext) *cobra.Command {
	var req intake.UploadRequest
	var mediaType string

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Store a file and queue it for content and cultural analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return fmt.Errorf("resolve file path: %w", err)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read upload: %w", err)
			}
			if strings.TrimSpace(mediaType) == "" {
				mediaType = mime.TypeByExtension(filepath.Ext(path))
			}
			req.Artifact = intake.Artifact{Data: data, MediaType: mediaType, Filename: filepath.Base(path)}

			return ctx.withServices(func(svc *daemon.Services) error {
				sub, err := svc.Intake.SubmitUpload(cmd.Context(), req)
				if err != nil {
					return err
				}
				return printSubmitted(cmd, ctx, sub)
			})
		},
	}

	cmd.Flags().StringVar(&req.SubmitterID, "submitter", "", "Submitting user id")
	cmd.Flags().StringVar(&req.ItemID, "item", "", "Marketplace item id")
	cmd.Flags().StringVar(&mediaType, "media-type", "", "Declared media type (default: from the file extension)")
	cmd.Flags().StringVar(&req.Title, "title", "", "Listing title")
	cmd.Flags().StringVar(&req.Description, "description", "", "Listing description")
	cmd.Flags().StringSliceVar(&req.CulturalTags, "tag", nil, "Cultural tag (repeatable)")
	cmd.Flags().StringSliceVar(&req.CulturalBackground, "background", nil, "Submitter's declared cultural background (repeatable)")
	return cmd
}

func newSubmitPaymentCommand(ctx *commandContext) *cobra.Command {
	var req intake.PaymentRequest
	var accountCreated string

	cmd := &cobra.Command{
		Use:   "payment",
		Short: "Queue a payment for a fraud check",
		RunE: func(cmd *cobra.Command, args []string) error {
			opened, err := api.ParseTime(accountCreated)
			if err != nil {
				return fmt.Errorf("--account-created must be RFC3339: %w", err)
			}
			req.AccountCreatedAt = opened
			return ctx.withServices(func(svc *daemon.Services) error {
				sub, err := svc.Intake.SubmitPaymentForFraudCheck(cmd.Context(), req)
				if err != nil {
					return err
				}
				return printSubmitted(cmd, ctx, sub)
			})
		},
	}

	cmd.Flags().StringVar(&req.SubmitterID, "submitter", "", "Paying user id")
	cmd.Flags().StringVar(&req.ItemID, "item", "", "Marketplace item id")
	cmd.Flags().Float64Var(&req.Amount, "amount", 0, "Payment amount")
	cmd.Flags().StringVar(&req.Currency, "currency", "USD", "ISO currency code")
	cmd.Flags().StringVar(&req.BillingCountry, "billing-country", "", "Billing country code")
	cmd.Flags().StringVar(&req.ShippingCountry, "shipping-country", "", "Shipping country code")
	cmd.Flags().StringVar(&req.PaymentMethod, "method", "", "Payment method")
	cmd.Flags().StringVar(&accountCreated, "account-created", "", "Account creation time (RFC3339)")
	return cmd
}

func printSubmitted(cmd *cobra.Command, ctx *commandContext, sub *store.Submission) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, api.FromSubmission(sub))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Submitted %s (%s) at %s\n", sub.ID, sub.Kind, sub.CreatedAt.Format(time.RFC3339))
	return nil
}

func newReportCommand(ctx *commandContext) *cobra.Command {
	var req intake.ReportRequest
	var kind string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "File a user report for moderator review",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.EntityKind = store.EntityKind(strings.ToLower(strings.TrimSpace(kind)))
			return ctx.withServices(func(svc *daemon.Services) error {
				item, err := svc.Intake.SubmitUserReport(cmd.Context(), req)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.FromModeration(item))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Report queued as %s (%s priority, %d report(s) on this %s)\n",
					item.ID, item.Priority, item.EnrollCount, item.EntityKind)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&req.ReporterID, "reporter", "", "Reporting user id")
	cmd.Flags().StringVar(&kind, "kind", string(store.EntityUserReport), "Entity kind: user_report, listing, or submission")
	cmd.Flags().StringVar(&req.EntityID, "entity", "", "Reported entity id")
	cmd.Flags().StringVar(&req.ReportedUserID, "reported-user", "", "User responsible for the entity")
	cmd.Flags().StringVar(&req.Reason, "reason", "", "Why the entity is being reported")
	cmd.Flags().BoolVar(&req.Cultural, "cultural", false, "Report concerns cultural appropriation")
	return cmd
}
