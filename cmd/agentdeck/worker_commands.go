package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentdeck/agentdeck/pkg/client"
)

const defaultAPIUrl = "http://127.0.0.1:8080"

func apiClient(f *WorkerFlags) *client.Client {
	url := f.APIUrl
	if url == "" {
		url = defaultAPIUrl
	}
	return client.New(client.Config{BaseURL: url, Timeout: f.APITimeout})
}

func requireDaemon(ctx context.Context, c *client.Client, f *WorkerFlags) error {
	if !c.IsReachable(ctx) {
		url := f.APIUrl
		if url == "" {
			url = defaultAPIUrl
		}
		return fmt.Errorf("daemon not reachable at %s - start it first with 'agentdeck serve'", url)
	}
	return nil
}

func createStartCommand(f *WorkerFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Launch a worker via the daemon",
		Long: `Launch a worker. The target must lie under the daemon's allowed roots
for the chosen kind.

Examples:
  agentdeck start --kind=agent --key=triage --target=/srv/agents/triage.py
  agentdeck start --kind=app --key=dash --target=/srv/apps/dash.sh --setup="npm install"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := apiClient(f)
			ctx := cmd.Context()
			if err := requireDaemon(ctx, c, f); err != nil {
				return err
			}
			inf, err := c.StartWorker(ctx, f.Kind, client.StartRequest{
				Key:     f.Key,
				Target:  f.Target,
				Args:    f.Args,
				WorkDir: f.WorkDir,
				Port:    f.Port,
				Setup:   f.Setup,
				Env:     parseEnv(f.Env),
			})
			if err != nil {
				return err
			}
			printJSON(inf)
			return nil
		},
	}
	addAPIFlags(cmd, f)
	cmd.Flags().StringVar(&f.Key, "key", "", "worker key (required)")
	cmd.Flags().StringVar(&f.Target, "target", "", "absolute path to the script (required)")
	cmd.Flags().StringArrayVar(&f.Args, "arg", nil, "extra argument for the worker (repeatable)")
	cmd.Flags().StringVar(&f.WorkDir, "work-dir", "", "working directory (defaults to the target's directory)")
	cmd.Flags().IntVar(&f.Port, "port", 0, "explicit port for app workers (0 allocates)")
	cmd.Flags().StringVar(&f.Setup, "setup", "", "shell command run to completion before launch")
	cmd.Flags().StringArrayVar(&f.Env, "env", nil, "KEY=VALUE forwarded to the worker (repeatable)")
	mustMarkRequired(cmd, "key", "target")
	return cmd
}

func createStopCommand(f *WorkerFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := apiClient(f)
			ctx := cmd.Context()
			if err := requireDaemon(ctx, c, f); err != nil {
				return err
			}
			if err := c.StopWorker(ctx, f.Kind, f.Key); err != nil {
				return err
			}
			fmt.Printf("stop requested for %s/%s\n", f.Kind, f.Key)
			return nil
		},
	}
	addAPIFlags(cmd, f)
	cmd.Flags().StringVar(&f.Key, "key", "", "worker key (required)")
	mustMarkRequired(cmd, "key")
	return cmd
}

func createListCommand(f *WorkerFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := apiClient(f)
			ctx := cmd.Context()
			if err := requireDaemon(ctx, c, f); err != nil {
				return err
			}
			infos, err := c.ListWorkers(ctx, f.Kind)
			if err != nil {
				return err
			}
			printJSON(infos)
			return nil
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createLogsCommand(f *WorkerFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print or follow a worker's log buffer",
		Long: `Print the buffered log lines of a worker. With --follow the buffer is
replayed and new lines stream until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := apiClient(f)
			ctx := cmd.Context()
			if err := requireDaemon(ctx, c, f); err != nil {
				return err
			}
			if !f.Follow {
				lines, err := c.Logs(ctx, f.Kind, f.Key)
				if err != nil {
					return err
				}
				for _, l := range lines {
					fmt.Println(l.Text)
				}
				return nil
			}
			fctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return c.FollowLogs(fctx, f.Kind, f.Key, func(l client.LogLine) {
				fmt.Println(l.Text)
			})
		},
	}
	addAPIFlags(cmd, f)
	cmd.Flags().StringVar(&f.Key, "key", "", "worker key (required)")
	cmd.Flags().BoolVar(&f.Follow, "follow", false, "stream new lines until interrupted")
	mustMarkRequired(cmd, "key")
	return cmd
}

func parseEnv(kvs []string) map[string]string {
	if len(kvs) == 0 {
		return nil
	}
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func mustMarkRequired(cmd *cobra.Command, names ...string) {
	for _, n := range names {
		if err := cmd.MarkFlagRequired(n); err != nil {
			panic(err)
		}
	}
}
