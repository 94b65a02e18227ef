//go:build !windows

package supervisor

import (
	"context"
	"os/exec"
)

// shellCommand wraps a setup command line for the platform shell.
func shellCommand(ctx context.Context, cmdStr string) *exec.Cmd {
	// #nosec G204 -- setup commands come from operator configuration
	return exec.CommandContext(ctx, "/bin/sh", "-c", cmdStr)
}
