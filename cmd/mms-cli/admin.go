package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aboamare/mms-router/pkg/client"
)

func newAdminClient() (*client.AdminClient, error) {
	config, err := clientConfig()
	if err != nil {
		return nil, err
	}
	return client.NewAdminClient(config)
}

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check router health",
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, err := newAdminClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			health, err := admin.GetHealth(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if health.Healthy {
				fmt.Fprintf(out, "Router %s is healthy\n", health.MRN)
			} else {
				fmt.Fprintf(out, "Router %s is not healthy: %s\n", health.MRN, health.Message)
			}
			fmt.Fprintf(out, "Connected agents: %d\n", health.ConnectedAgents)
			return nil
		},
	}
}

func newAdminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Admin commands (requires an admin token)",
	}

	cmd.AddCommand(newAdminStatsCommand())
	cmd.AddCommand(newAdminAgentsCommand())
	cmd.AddCommand(newAdminDeleteCommand())
	return cmd
}

func newAdminStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show router statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, err := newAdminClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			stats, err := admin.GetStats(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Connected agents: %d\n", stats.ConnectedAgents)
			fmt.Fprintf(out, "Live topics: %d\n", stats.LiveTopics)
			fmt.Fprintf(out, "Stored messages: %d in %d topic(s)\n", stats.Store.TotalMessages, stats.Store.TopicCount)
			fmt.Fprintf(out, "Subscriptions: %d\n", stats.Store.Subscriptions)
			fmt.Fprintf(out, "Pending deliveries: %d\n", stats.Store.TotalPending)
			return nil
		},
	}
}

func newAdminAgentsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List connected agents as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, err := newAdminClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			resp, err := admin.ListAgents(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp.Agents)
		},
	}
}

func newAdminDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <topic> <message-id>",
		Short: "Delete a message from a topic",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, err := newAdminClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if err := admin.DeleteMessage(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Message %s deleted from %s\n", args[1], args[0])
			return nil
		},
	}
}
