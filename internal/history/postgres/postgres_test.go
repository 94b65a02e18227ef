package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/agentdeck/agentdeck/internal/history"
)

// startPostgresContainer starts a PostgreSQL container and returns a DSN for
// the pgx stdlib driver. It skips the test if Docker is unavailable.
func startPostgresContainer(t *testing.T) (dsn string, terminate func()) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
	)
	if err != nil {
		cancel()
		t.Skipf("Failed to start PostgreSQL container: %v", err)
		return "", nil
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get host info: %v", err)
		return "", nil
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get mapped port: %v", err)
		return "", nil
	}

	dsn = fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())
	terminate = func() {
		_ = container.Terminate(ctx)
		cancel()
	}
	return dsn, terminate
}

func waitForPostgres(t *testing.T, dsn string) {
	t.Helper()
	deadline := time.Now().Add(45 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		db, err := sql.Open("pgx", dsn)
		if err == nil {
			if err = db.PingContext(ctx); err == nil {
				_ = db.Close()
				cancel()
				return
			}
			_ = db.Close()
		}
		cancel()
		if time.Now().After(deadline) {
			t.Skipf("PostgreSQL did not become ready: %v", err)
			return
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func TestPostgresSinkRoundTrip(t *testing.T) {
	dsn, terminate := startPostgresContainer(t)
	defer terminate()
	waitForPostgres(t, dsn)

	s, err := New(dsn)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.Send(ctx, history.Event{
		Type: history.EventStart, OccurredAt: started,
		Supervisor: "app", Key: "shop", Target: "/srv/apps/shop/serve.py",
		PID: 42, Port: 3100, StartedAt: started,
	}))
	require.NoError(t, s.Send(ctx, history.Event{
		Type: history.EventStop, OccurredAt: time.Now().UTC(),
		Supervisor: "app", Key: "shop", Target: "/srv/apps/shop/serve.py",
		PID: 42, Port: 3100, StartedAt: started, Reason: "idle timeout",
	}))

	evts, err := s.Recent(ctx, "app", 10)
	require.NoError(t, err)
	require.Len(t, evts, 2)
	require.Equal(t, history.EventStop, evts[0].Type)
	require.Equal(t, "idle timeout", evts[0].Reason)
	require.Equal(t, 3100, evts[1].Port)
}
