package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"sentinel/internal/api"
	"sentinel/internal/daemon"
	"sentinel/internal/store"
)

var scoreOrder = []string{"content", "cultural", "fraud"}

func newSubmissionsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "submissions",
		Aliases: []string{"subs"},
		Short:   "Inspect submissions",
	}
	cmd.AddCommand(newSubmissionsListCommand(ctx))
	cmd.AddCommand(newSubmissionsShowCommand(ctx))
	return cmd
}

func newSubmissionsListCommand(ctx *commandContext) *cobra.Command {
	var filter store.SubmissionFilter
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List submissions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Status = store.SubmissionStatus(strings.ToLower(strings.TrimSpace(status)))
			return ctx.withServices(func(svc *daemon.Services) error {
				subs, err := svc.Store.ListSubmissions(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.FromSubmissions(subs))
				}
				rows := make([][]string, 0, len(subs))
				for _, sub := range subs {
					risk, scores := "-", "-"
					if sub.Summary != nil {
						risk = formatScore(sub.Summary.MaxRisk)
						scores = orDash(formatScores(sub.Summary.Scores, scoreOrder))
					}
					rows = append(rows, []string{
						sub.ID,
						string(sub.Kind),
						sub.SubmitterID,
						string(sub.Status),
						orDash(string(sub.Disposition)),
						risk,
						scores,
						sub.CreatedAt.Local().Format("2006-01-02 15:04"),
					})
				}
				printTable(cmd, "No submissions",
					[]string{"ID", "Kind", "Submitter", "Status", "Disposition", "Risk", "Scores", "Created"},
					rows, []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight})
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status: intake, analyzing, completed, failed")
	cmd.Flags().StringVar(&filter.SubmitterID, "submitter", "", "Filter by submitter")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "Maximum rows")
	return cmd
}

func newSubmissionsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a submission with its provider results and reviews",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withServices(func(svc *daemon.Services) error {
				sub, err := svc.Store.GetSubmission(cmd.Context(), id)
				if err != nil {
					return err
				}
				results, err := svc.Store.ListResults(cmd.Context(), id)
				if err != nil {
					return err
				}
				items, err := svc.Moderation.ForEntity(cmd.Context(), store.EntitySubmission, id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					converted := make([]api.AnalysisResult, 0, len(results))
					for _, r := range results {
						converted = append(converted, api.FromResult(r))
					}
					return writeJSON(cmd, api.SubmissionDetail{
						Submission: api.FromSubmission(sub),
						Results:    converted,
						Moderation: api.FromModerationItems(items),
					})
				}
				renderSubmission(cmd, sub, results, items)
				return nil
			})
		},
	}
}

func renderSubmission(cmd *cobra.Command, sub *store.Submission, results []store.AnalysisResult, items []*store.ModerationItem) {
	fields := [][2]string{
		{"ID", sub.ID},
		{"Kind", string(sub.Kind)},
		{"Submitter", sub.SubmitterID},
		{"Item", sub.ItemID},
		{"Status", string(sub.Status)},
		{"Disposition", string(sub.Disposition)},
		{"Title", sub.Title},
		{"Media type", sub.MediaType},
		{"Cultural tags", strings.Join(sub.CulturalTags, ", ")},
		{"Error", sub.ErrorMessage},
	}
	if p := sub.Payment; p != nil {
		fields = append(fields, [2]string{"Amount", fmt.Sprintf("%.2f %s", p.Amount, p.Currency)})
	}
	if s := sub.Summary; s != nil {
		fields = append(fields,
			[2]string{"Max risk", formatScore(s.MaxRisk)},
			[2]string{"Priority", s.Priority},
			[2]string{"Skipped", strings.Join(s.Skipped, ", ")},
			[2]string{"Matched rules", strings.Join(s.MatchedRules, ", ")},
			[2]string{"Account flagged", yesNo(s.AccountFlagged)},
		)
	}
	printFields(cmd, fields)

	out := cmd.OutOrStdout()
	if len(results) > 0 {
		rows := make([][]string, 0, len(results))
		for _, r := range results {
			rows = append(rows, []string{
				r.Provider,
				string(r.Outcome),
				formatScore(r.RiskScore),
				orDash(strings.Join(r.Flags, ", ")),
				strconv.FormatInt(r.DurationMS, 10),
				orDash(r.Error),
			})
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderTable([]string{"Provider", "Outcome", "Risk", "Flags", "ms", "Error"}, rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight}))
	}
	if len(items) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderTable(moderationHeaders, moderationRows(items), nil))
	}
}
