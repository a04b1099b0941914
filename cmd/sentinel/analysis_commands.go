package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"sentinel/internal/api"
	"sentinel/internal/daemon"
	"sentinel/internal/store"
)

func newAnalysisCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analysis",
		Short: "Run analysis work in the foreground",
	}
	cmd.AddCommand(newAnalysisRunOnceCommand(ctx))
	cmd.AddCommand(newAnalysisReapCommand(ctx))
	return cmd
}

func newAnalysisRunOnceCommand(ctx *commandContext) *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "run-once",
		Short: "Analyze the oldest waiting submission, or one by id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(func(svc *daemon.Services) error {
				var (
					sub *store.Submission
					err error
				)
				if id = strings.TrimSpace(id); id != "" {
					sub, err = svc.Orchestrator.Analyze(cmd.Context(), id)
				} else {
					sub, err = svc.Orchestrator.RunOnce(cmd.Context())
				}
				if err != nil {
					return err
				}
				if sub == nil {
					if ctx.jsonOutput() {
						return writeJSON(cmd, nil)
					}
					fmt.Fprintln(cmd.OutOrStdout(), "No submissions waiting for analysis")
					return nil
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.FromSubmission(sub))
				}
				risk := "-"
				if sub.Summary != nil {
					risk = formatScore(sub.Summary.MaxRisk)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Analyzed %s: %s %s (max risk %s)\n",
					sub.ID, sub.Status, orDash(string(sub.Disposition)), risk)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Analyze this submission instead of the queue head")
	return cmd
}

func newAnalysisReapCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Fail analyses whose worker heartbeat expired",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(func(svc *daemon.Services) error {
				count, err := svc.Orchestrator.ReapStale(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]int64{"reaped": count})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reaped %d stale analyses\n", count)
				return nil
			})
		},
	}
}
