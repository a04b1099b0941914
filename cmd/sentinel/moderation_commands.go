package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"sentinel/internal/api"
	"sentinel/internal/daemon"
	"sentinel/internal/moderation"
	"sentinel/internal/services"
	"sentinel/internal/store"
)

var moderationHeaders = []string{"ID", "Entity", "Priority", "Status", "Source", "Assignee", "Reports", "Enrolled"}

func moderationRows(items []*store.ModerationItem) [][]string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		status := string(item.Status)
		if item.Outcome != "" {
			status += " (" + string(item.Outcome) + ")"
		}
		rows = append(rows, []string{
			item.ID,
			string(item.EntityKind) + ":" + item.EntityID,
			item.Priority.String(),
			status,
			string(item.Source),
			orDash(item.Assignee),
			strconv.FormatInt(item.EnrollCount, 10),
			item.EnrolledAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return rows
}

func newModerationCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "moderation",
		Aliases: []string{"mod"},
		Short:   "Work the human review queue",
	}
	cmd.AddCommand(newModerationListCommand(ctx))
	cmd.AddCommand(newModerationNextCommand(ctx))
	cmd.AddCommand(newModerationAssignCommand(ctx))
	cmd.AddCommand(newModerationResolveCommand(ctx))
	return cmd
}

func newModerationListCommand(ctx *commandContext) *cobra.Command {
	var priorityFlag string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending items, highest priority first",
		RunE: func(cmd *cobra.Command, args []string) error {
			var priority store.Priority
			if strings.TrimSpace(priorityFlag) != "" {
				parsed, err := store.ParsePriority(priorityFlag)
				if err != nil {
					return services.Invalid("priority", err.Error())
				}
				priority = parsed
			}
			return ctx.withServices(func(svc *daemon.Services) error {
				items, err := svc.Moderation.ListPending(cmd.Context(), priority, limit)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.FromModerationItems(items))
				}
				printTable(cmd, "Moderation queue is empty", moderationHeaders, moderationRows(items),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight})
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&priorityFlag, "priority", "", "Only show low, medium, or high items")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows")
	return cmd
}

func newModerationNextCommand(ctx *commandContext) *cobra.Command {
	var reviewer string

	cmd := &cobra.Command{
		Use:   "next",
		Short: "Claim the highest-priority pending item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(func(svc *daemon.Services) error {
				item, err := svc.Moderation.Next(cmd.Context(), reviewer)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					if item == nil {
						return writeJSON(cmd, api.ModerationItemResponse{})
					}
					converted := api.FromModeration(item)
					return writeJSON(cmd, api.ModerationItemResponse{Item: &converted})
				}
				if item == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "Moderation queue is empty")
					return nil
				}
				renderModerationItem(cmd, item)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "Reviewer claiming the item")
	return cmd
}

func newModerationAssignCommand(ctx *commandContext) *cobra.Command {
	var reviewer string

	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Assign a pending item to a reviewer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(func(svc *daemon.Services) error {
				item, err := svc.Moderation.Assign(cmd.Context(), strings.TrimSpace(args[0]), reviewer)
				if err != nil {
					return err
				}
				return printModerationItem(cmd, ctx, item)
			})
		},
	}
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "Reviewer taking the item")
	return cmd
}

func newModerationResolveCommand(ctx *commandContext) *cobra.Command {
	var reviewer, outcomeFlag, note string

	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Record the assigned reviewer's decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outcome, err := store.ParseOutcome(outcomeFlag)
			if err != nil {
				return services.Invalid("outcome", err.Error())
			}
			return ctx.withServices(func(svc *daemon.Services) error {
				item, err := svc.Moderation.Resolve(cmd.Context(), strings.TrimSpace(args[0]), reviewer, outcome, note)
				if err != nil {
					return err
				}
				return printModerationItem(cmd, ctx, item)
			})
		},
	}
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "Assigned reviewer")
	cmd.Flags().StringVar(&outcomeFlag, "outcome", "", "Decision: upheld or dismissed")
	cmd.Flags().StringVar(&note, "note", "", "Resolution note")
	return cmd
}

func printModerationItem(cmd *cobra.Command, ctx *commandContext, item *store.ModerationItem) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, api.FromModeration(item))
	}
	renderModerationItem(cmd, item)
	return nil
}

func renderModerationItem(cmd *cobra.Command, item *store.ModerationItem) {
	fields := [][2]string{
		{"ID", item.ID},
		{"Entity", string(item.EntityKind) + ":" + item.EntityID},
		{"Priority", item.Priority.String()},
		{"Status", string(item.Status)},
		{"Source", string(item.Source)},
		{"Assignee", item.Assignee},
		{"Outcome", string(item.Outcome)},
		{"Note", item.ResolutionNote},
		{"Reports", strconv.FormatInt(item.EnrollCount, 10)},
	}
	fields = append(fields,
		[2]string{"Reason", item.MetadataString(moderation.MetaReason)},
		[2]string{"Submitter", item.MetadataString(moderation.MetaSubmitterID)},
		[2]string{"Reporter", item.MetadataString(moderation.MetaReporterID)},
		[2]string{"Reported user", item.MetadataString(moderation.MetaReportedUserID)},
	)
	printFields(cmd, fields)
}
