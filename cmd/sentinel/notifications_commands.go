package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"sentinel/internal/api"
	"sentinel/internal/daemon"
	"sentinel/internal/notify"
	"sentinel/internal/store"
)

func newNotificationsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notify"},
		Short:   "Inspect and drive the notification queue",
	}
	cmd.AddCommand(newNotificationsListCommand(ctx))
	cmd.AddCommand(newNotificationsTestCommand(ctx))
	cmd.AddCommand(newNotificationsDispatchCommand(ctx))
	return cmd
}

func newNotificationsListCommand(ctx *commandContext) *cobra.Command {
	var filter store.NotificationFilter
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notification tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Status = store.NotificationStatus(strings.ToLower(strings.TrimSpace(status)))
			return ctx.withServices(func(svc *daemon.Services) error {
				tasks, err := svc.Store.ListNotifications(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					out := make([]api.Notification, 0, len(tasks))
					for _, task := range tasks {
						out = append(out, api.FromNotification(task))
					}
					return writeJSON(cmd, out)
				}
				rows := make([][]string, 0, len(tasks))
				for _, task := range tasks {
					rows = append(rows, []string{
						task.ID,
						task.RecipientID,
						string(task.Channel),
						task.Event,
						string(task.Status),
						fmt.Sprintf("%d/%d", task.RetryCount, task.MaxRetries),
						orDash(task.LastError),
					})
				}
				printTable(cmd, "No notifications",
					[]string{"ID", "Recipient", "Channel", "Event", "Status", "Retries", "Last error"},
					rows, []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight})
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status: pending, sent, failed")
	cmd.Flags().StringVar(&filter.RecipientID, "recipient", "", "Filter by recipient")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "Maximum rows")
	return cmd
}

func newNotificationsTestCommand(ctx *commandContext) *cobra.Command {
	var recipient, channel string

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Queue a test notification for delivery by the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			sentBy := strings.TrimSpace(os.Getenv("USER"))
			if sentBy == "" {
				sentBy = "sentinel cli"
			}
			return ctx.withServices(func(svc *daemon.Services) error {
				task, err := svc.Notifier.Enqueue(cmd.Context(), notify.Message{
					RecipientID: strings.TrimSpace(recipient),
					Channel:     store.NotificationChannel(strings.ToLower(strings.TrimSpace(channel))),
					Event:       notify.EventTest,
					Data:        map[string]string{"sent_by": sentBy},
					Priority:    store.PriorityLow,
				})
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.FromNotification(task))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued test notification %s for %s via %s\n", task.ID, task.RecipientID, task.Channel)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&recipient, "recipient", "", "Recipient id")
	cmd.Flags().StringVar(&channel, "channel", string(store.ChannelPush), "Channel: push or email")
	return cmd
}

func newNotificationsDispatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Deliver one batch of eligible notifications now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(func(svc *daemon.Services) error {
				stats, err := svc.Dispatcher.DispatchOnce(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]int{
						"claimed": stats.Claimed,
						"sent":    stats.Sent,
						"retried": stats.Retried,
						"failed":  stats.Failed,
						"lost":    stats.Lost,
					})
				}
				printFields(cmd, [][2]string{
					{"Claimed", strconv.Itoa(stats.Claimed)},
					{"Sent", strconv.Itoa(stats.Sent)},
					{"Retried", strconv.Itoa(stats.Retried)},
					{"Failed", strconv.Itoa(stats.Failed)},
					{"Lost", strconv.Itoa(stats.Lost)},
				})
				return nil
			})
		},
	}
}
