package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/agentdeck/agentdeck/internal/history"
)

// startClickHouseContainer starts a ClickHouse container for tests and returns
// its native-protocol address. It skips the test if Docker is unavailable.
func startClickHouseContainer(t *testing.T) (addr string, terminate func()) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	container, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		cancel()
		t.Skipf("Failed to start ClickHouse container: %v", err)
		return "", nil
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get container host: %v", err)
		return "", nil
	}
	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get mapped port: %v", err)
		return "", nil
	}

	addr = host + ":" + port.Port()
	terminate = func() {
		_ = container.Terminate(ctx)
		cancel()
	}
	return addr, terminate
}

func TestClickHouseSinkSend(t *testing.T) {
	addr, terminate := startClickHouseContainer(t)
	defer terminate()

	s, err := New(addr, "worker_history_test")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	started := time.Now().UTC()
	require.NoError(t, s.Send(ctx, history.Event{
		Type: history.EventStart, OccurredAt: started,
		Supervisor: "agent", Key: "demo", Target: "/srv/agents/demo.py",
		PID: 7, StartedAt: started,
	}))
	require.NoError(t, s.Send(ctx, history.Event{
		Type: history.EventStop, OccurredAt: time.Now().UTC(),
		Supervisor: "agent", Key: "demo", Target: "/srv/agents/demo.py",
		PID: 7, StartedAt: started, Reason: "stopped",
	}))

	var count uint64
	row := s.conn.QueryRow(ctx, "SELECT count() FROM worker_history_test WHERE supervisor = 'agent'")
	require.NoError(t, row.Scan(&count))
	require.EqualValues(t, 2, count)
}
