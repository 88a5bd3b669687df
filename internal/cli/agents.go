package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func agentsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Create, list and run agents",
	}
	cmd.AddCommand(agentsCreateCmd(opts), agentsListCmd(opts), agentsRunCmd(opts))
	return cmd
}

func agentsCreateCmd(opts *globalOptions) *cobra.Command {
	var identityID string
	cmd := &cobra.Command{
		Use:   "create <task description>",
		Short: "Plan a task and replace the agent pool",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			res, err := client.CreateAgents(ctx, strings.Join(args, " "), identityID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.asJSON {
				return printJSON(out, res)
			}
			fmt.Fprintf(out, "%s pool version %d, %d agent(s)\n", okColor.Sprint("✓"), res.Version, res.AgentCount)
			for _, a := range res.Agents {
				printAgent(out, a)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&identityID, "identity", "", "reuse an existing identity for every agent")
	return cmd
}

func agentsListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List agents in the current pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			list, err := client.Agents(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.asJSON {
				return printJSON(out, list)
			}
			if len(list) == 0 {
				fmt.Fprintln(out, warnColor.Sprint("pool is empty"))
				return nil
			}
			for _, a := range list {
				printAgent(out, a)
			}
			return nil
		},
	}
}

func agentsRunCmd(opts *globalOptions) *cobra.Command {
	var identityID string
	cmd := &cobra.Command{
		Use:   "run <index> <prompt>",
		Short: "Dispatch a prompt to one agent",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid agent index %q", args[0])
			}
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			res, err := client.Run(ctx, index, strings.Join(args[1:], " "), identityID)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Result)
			return nil
		},
	}
	cmd.Flags().StringVar(&identityID, "identity", "", "require the agent to hold this identity")
	return cmd
}
