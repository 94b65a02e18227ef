package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
	require.NoError(t, Register(prometheus.NewRegistry()))
}

func TestCountersAccumulate(t *testing.T) {
	// Register collectors directly: Register() is a process-wide one-shot and
	// may already have succeeded against another registry.
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(workerStarts))
	require.NoError(t, reg.Register(runningWorkers))

	IncStart("agent")
	IncStart("agent")
	IncStop("agent")
	IncSpawnFailure("app")
	IncUnexpectedExit("app")
	IncLogLine("agent")
	SetRunning("agent", 3)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	found := map[string]bool{}
	for _, mf := range mfs {
		found[mf.GetName()] = true
	}
	require.True(t, found["agentdeck_worker_starts_total"])
	require.True(t, found["agentdeck_worker_running"])
}

func TestHandlerNotNil(t *testing.T) {
	require.NotNil(t, Handler())
}
