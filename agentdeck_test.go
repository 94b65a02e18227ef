package agentdeck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFacadeLifecycle(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh worker scripts")
	}
	root := t.TempDir()
	script := filepath.Join(root, "w.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho up\nsleep 30\n"), 0o700))

	s := New(Config{
		Name:         "agent",
		AllowedRoots: []string{root},
		AllowedExts:  []string{".sh"},
		Interpreter:  []string{"/bin/sh"},
		KillGrace:    time.Second,
	})
	ctx := context.Background()
	defer s.StopAll(ctx)

	require.NoError(t, s.Start(ctx, "demo", LaunchSpec{Target: script}))
	require.Equal(t, 1, s.Count())

	inf, ok := s.Lookup("demo")
	require.True(t, ok)
	require.Equal(t, "demo", inf.Key)

	deadline := time.Now().Add(3 * time.Second)
	for {
		found := false
		for _, l := range s.Logs("demo") {
			if l.Text == "up" {
				found = true
			}
		}
		if found {
			break
		}
		require.True(t, time.Now().Before(deadline), "log line never surfaced")
		time.Sleep(20 * time.Millisecond)
	}

	// same key, same spec: idempotent success
	require.NoError(t, s.Start(ctx, "demo", LaunchSpec{Target: script}))
	require.Equal(t, 1, s.Count())
}

func TestFacadeErrorHelpers(t *testing.T) {
	s := New(Config{Name: "agent", AllowedRoots: []string{t.TempDir()}, MaxProcesses: 1})
	err := s.Start(context.Background(), "x", LaunchSpec{Target: "not-absolute.py"})
	require.True(t, IsInvalidTarget(err))
	require.False(t, IsCapacityExceeded(err))
}

func TestFacadeHTTPHandler(t *testing.T) {
	s := New(Config{Name: "agent", AllowedRoots: []string{t.TempDir()}})
	h := NewHTTPHandler("", s)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/agent/workers", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}
