package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func identitiesCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identities",
		Short: "Inspect wallet identities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered identity ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			ids, err := client.Identities(ctx)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), ids)
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show the public record of an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			id, err := client.Identity(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.asJSON {
				return printJSON(out, id)
			}
			fmt.Fprintf(out, "%s\n  address: %s\n  network: %s\n  created: %s\n",
				nameColor.Sprint(id.ID), id.Address, id.Network, id.CreatedAt.Format(time.RFC3339))
			return nil
		},
	})
	return cmd
}

func healthCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check agentd health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			health, err := client.Health(ctx)
			out := cmd.OutOrStdout()
			if opts.asJSON && health.Status != "" {
				_ = printJSON(out, health)
				return err
			}
			if health.Status == "" {
				return err
			}
			status := okColor.Sprint(health.Status)
			if health.Status != "ok" {
				status = warnColor.Sprint(health.Status)
			}
			fmt.Fprintf(out, "status: %s  pool version: %d  agents: %d\n", status, health.PoolVersion, health.Agents)
			if health.Chain != nil {
				fmt.Fprintf(out, "chain:  %s (%s) id %s block %s\n", health.Chain.Network, health.Chain.Kind, health.Chain.ChainID, health.Chain.BlockNumber)
			}
			if health.ChainError != "" {
				fmt.Fprintf(out, "chain error: %s\n", health.ChainError)
			}
			return err
		},
	}
}
