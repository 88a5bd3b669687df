// Package cli 实现 agentctl 命令行工具，通过 HTTP API 操作远程代理服务。
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"OnChainAgents/sdk/go/agents"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type globalOptions struct {
	server  string
	timeout time.Duration
	asJSON  bool
}

// RootCmd 返回 agentctl 的根命令。
func RootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "agentctl",
		Short:         "Manage wallet-backed agents on a running agentd",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultServer := os.Getenv("AGENTS_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	root.PersistentFlags().StringVar(&opts.server, "server", defaultServer, "agentd base URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", agents.DefaultHTTPTimeout, "request timeout")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "print raw JSON")

	root.AddCommand(agentsCmd(opts))
	root.AddCommand(identitiesCmd(opts))
	root.AddCommand(healthCmd(opts))
	root.AddCommand(passphraseCmd())
	return root
}

func (o *globalOptions) client() (*agents.Client, error) {
	return agents.NewClient(o.server, nil)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var (
	nameColor  = color.New(color.FgCyan, color.Bold)
	okColor    = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	faintColor = color.New(color.Faint)
)

func printAgent(w io.Writer, a agents.Agent) {
	fmt.Fprintf(w, "[%d] %s  %s\n", a.Index, nameColor.Sprint(a.Name), a.WalletAddress)
	fmt.Fprintf(w, "     identity:  %s\n", a.WalletID)
	fmt.Fprintf(w, "     functions: %v\n", a.Functions)
	if a.Task != "" {
		fmt.Fprintf(w, "     task:      %s\n", faintColor.Sprint(a.Task))
	}
}
