package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWritersCreateCaptureFiles(t *testing.T) {
	dir := t.TempDir()
	c := Config{Dir: dir}
	outW, errW, err := c.Writers("demo-1")
	require.NoError(t, err)
	require.NotNil(t, outW)
	require.NotNil(t, errW)

	_, err = outW.Write([]byte("hello out\n"))
	require.NoError(t, err)
	_, err = errW.Write([]byte("hello err\n"))
	require.NoError(t, err)
	require.NoError(t, outW.Close())
	require.NoError(t, errW.Close())

	b, err := os.ReadFile(filepath.Join(dir, "demo-1.stdout.log"))
	require.NoError(t, err)
	require.Contains(t, string(b), "hello out")
	b, err = os.ReadFile(filepath.Join(dir, "demo-1.stderr.log"))
	require.NoError(t, err)
	require.Contains(t, string(b), "hello err")
}

func TestWritersWithoutDirAreNil(t *testing.T) {
	outW, errW, err := Config{}.Writers("x")
	require.NoError(t, err)
	require.Nil(t, outW)
	require.Nil(t, errW)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	require.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
	require.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNewLogsThroughColorHandler(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, slog.LevelInfo)
	log.Info("ready", "port", 8080)
	require.Contains(t, buf.String(), "ready")
	require.Contains(t, buf.String(), "port=8080")
}

func TestDebugFilteredAtInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, slog.LevelInfo)
	log.Debug("hidden")
	require.NotContains(t, buf.String(), "hidden")
}
