package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sentinel/internal/api"
	"sentinel/internal/daemon"
	"sentinel/internal/preflight"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check directories, free space, the store, and the content model",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(func(svc *daemon.Services) error {
				results := preflight.RunAll(cmd.Context(), svc.Config, svc.Store)
				failed := preflight.Failed(results)
				if ctx.jsonOutput() {
					out := make([]api.CheckResult, 0, len(results))
					for _, r := range results {
						out = append(out, api.CheckResult{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
					}
					if err := writeJSON(cmd, out); err != nil {
						return err
					}
				} else {
					rows := make([][]string, 0, len(results))
					for _, r := range results {
						rows = append(rows, []string{r.Name, yesNo(r.Passed), r.Detail})
					}
					printTable(cmd, "No checks apply", []string{"Check", "Passed", "Detail"}, rows, nil)
				}
				if len(failed) > 0 {
					return fmt.Errorf("%d preflight check(s) failed", len(failed))
				}
				return nil
			})
		},
	}
}
