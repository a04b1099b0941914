package main

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"sentinel/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return wrapStatusError(err)
			}
			metrics, err := client.Metrics(cmd.Context())
			if err != nil {
				return wrapStatusError(err)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, struct {
					Status  api.DaemonStatus    `json:"status"`
					Metrics api.MetricsResponse `json:"metrics"`
				}{status, metrics})
			}
			renderStatus(cmd, status, metrics)
			return nil
		},
	}
}

func wrapStatusError(err error) error {
	var statusErr *api.StatusError
	var netErr net.Error
	var urlErr *url.Error
	switch {
	case errors.As(err, &statusErr):
		return fmt.Errorf("daemon rejected status request: %w", err)
	case errors.As(err, &netErr), errors.As(err, &urlErr):
		return fmt.Errorf("daemon is not reachable; start it with `sentinel daemon`: %w", err)
	default:
		return err
	}
}

func renderStatus(cmd *cobra.Command, status api.DaemonStatus, metrics api.MetricsResponse) {
	printFields(cmd, [][2]string{
		{"Daemon", map[bool]string{true: "running", false: "stopped"}[status.Running]},
		{"PID", strconv.Itoa(status.PID)},
		{"Started", status.StartedAt},
		{"Store", status.StoreDriver},
		{"Lock", status.LockFilePath},
		{"Analysis workers", fmt.Sprintf("%d (%s)", status.Analysis.Workers, map[bool]string{true: "running", false: "stopped"}[status.Analysis.Running])},
		{"Last analysis error", status.Analysis.LastError},
		{"Pending moderation", strconv.Itoa(status.ModerationPending)},
		{"Notification backlog", strconv.Itoa(status.NotificationsBacklog)},
	})

	out := cmd.OutOrStdout()
	rows := make([][]string, 0, len(status.Analysis.Counts))
	for _, name := range []string{"intake", "analyzing", "completed", "failed"} {
		rows = append(rows, []string{name, strconv.Itoa(status.Analysis.Counts[name])})
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderTable([]string{"Submissions", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))

	names := make([]string, 0, len(metrics.Counters))
	for name := range metrics.Counters {
		names = append(names, name)
	}
	sort.Strings(names)
	rows = rows[:0]
	for _, name := range names {
		rows = append(rows, []string{name, strconv.FormatInt(metrics.Counters[name], 10)})
	}
	if len(rows) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderTable([]string{"Counter", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
	}

	if len(status.Preflight) > 0 {
		rows = rows[:0]
		for _, check := range status.Preflight {
			rows = append(rows, []string{check.Name, yesNo(check.Passed), check.Detail})
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderTable([]string{"Check", "Passed", "Detail"}, rows, nil))
	}
}
