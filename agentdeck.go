package agentdeck

import (
	"context"
	"net/http"

	cfg "github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/history"
	"github.com/agentdeck/agentdeck/internal/history/factory"
	"github.com/agentdeck/agentdeck/internal/logring"
	"github.com/agentdeck/agentdeck/internal/metrics"
	iapi "github.com/agentdeck/agentdeck/internal/server"
	"github.com/agentdeck/agentdeck/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = supervisor.Config

type LaunchSpec = supervisor.LaunchSpec

type Info = supervisor.Info

type LogLine = logring.Line

type HistorySink = history.Sink

// Supervisor is a thin facade over internal/supervisor.Supervisor.
// It provides a stable public API for embedding.
type Supervisor struct{ inner *supervisor.Supervisor }

func New(c Config) *Supervisor { return &Supervisor{inner: supervisor.New(c)} }

func (s *Supervisor) Name() string { return s.inner.Name() }
func (s *Supervisor) Start(ctx context.Context, key string, spec LaunchSpec) error {
	return s.inner.Start(ctx, key, spec)
}
func (s *Supervisor) Stop(key string)                 { s.inner.Stop(key) }
func (s *Supervisor) StopAll(ctx context.Context)     { s.inner.StopAll(ctx) }
func (s *Supervisor) List() []Info                    { return s.inner.List() }
func (s *Supervisor) Lookup(key string) (Info, bool)  { return s.inner.Lookup(key) }
func (s *Supervisor) Count() int                      { return s.inner.Count() }
func (s *Supervisor) Logs(key string) []LogLine       { return s.inner.Logs(key) }
func (s *Supervisor) Subscribe(key string, fn func(LogLine)) func() {
	return s.inner.Subscribe(key, fn)
}
func (s *Supervisor) SetHistorySinks(sinks ...HistorySink) { s.inner.SetHistorySinks(sinks...) }

// Error helpers for callers distinguishing rejection causes.

func IsCapacityExceeded(err error) bool { return supervisor.IsCapacityExceeded(err) }
func IsInvalidTarget(err error) bool    { return supervisor.IsInvalidTarget(err) }
func IsInvalidKey(err error) bool       { return supervisor.IsInvalidKey(err) }

// Config facade

type FileConfig = cfg.FileConfig

func LoadConfig(path string) (*FileConfig, error) { return cfg.Load(path) }

// NewHistorySink builds a lifecycle-event sink from a DSN
// (sqlite path, postgres:// or clickhouse:// URL).
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// HTTP facade

// NewHTTPHandler returns an embeddable http.Handler exposing the API for the
// given supervisors under basePath.
func NewHTTPHandler(basePath string, supers ...*Supervisor) http.Handler {
	return iapi.NewRouter(basePath, nil, unwrap(supers)...).Handler()
}

// NewHTTPServer starts an HTTP server exposing the API for the given
// supervisors. Shut it down via the returned http.Server.
func NewHTTPServer(addr, basePath string, supers ...*Supervisor) *http.Server {
	return iapi.NewServer(addr, basePath, nil, unwrap(supers)...)
}

func unwrap(supers []*Supervisor) []*supervisor.Supervisor {
	inner := make([]*supervisor.Supervisor, len(supers))
	for i, s := range supers {
		inner[i] = s.inner
	}
	return inner
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
