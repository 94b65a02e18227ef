package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// WorkerFlags holds flags for worker commands talking to the daemon API.
type WorkerFlags struct {
	Kind       string
	Key        string
	Target     string
	Args       []string
	WorkDir    string
	Port       int
	Setup      string
	Env        []string
	Follow     bool
	APIUrl     string
	APITimeout time.Duration
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createStartCommand(&WorkerFlags{}),
		createStopCommand(&WorkerFlags{}),
		createListCommand(&WorkerFlags{}),
		createLogsCommand(&WorkerFlags{}),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "agentdeck",
		Short: "Supervisor for sandboxed agent scripts and app servers",
		Long: `Agentdeck launches and supervises short-lived worker processes: agent
scripts run under an interpreter, app servers get a port and a reverse
proxy. Workers are capped, log-buffered, and auto-stopped on a lifetime
limit.

Examples:
  agentdeck serve --config=/etc/agentdeck/agentdeck.toml
  agentdeck start --kind=agent --key=triage --target=/srv/agents/triage.py
  agentdeck logs --kind=agent --key=triage --follow
  agentdeck stop --kind=agent --key=triage`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	return root
}

func addAPIFlags(cmd *cobra.Command, f *WorkerFlags) {
	cmd.Flags().StringVar(&f.Kind, "kind", "agent", "worker kind (agent or app)")
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon URL (default http://127.0.0.1:8080)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
}
