package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	workerStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentdeck",
			Subsystem: "worker",
			Name:      "starts_total",
			Help:      "Number of successful worker spawns.",
		}, []string{"supervisor"},
	)
	workerStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentdeck",
			Subsystem: "worker",
			Name:      "stops_total",
			Help:      "Number of worker removals (graceful, forced, or exit).",
		}, []string{"supervisor"},
	)
	spawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentdeck",
			Subsystem: "worker",
			Name:      "spawn_failures_total",
			Help:      "Number of spawns the OS rejected.",
		}, []string{"supervisor"},
	)
	unexpectedExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentdeck",
			Subsystem: "worker",
			Name:      "unexpected_exits_total",
			Help:      "Number of workers that died outside of an explicit stop.",
		}, []string{"supervisor"},
	)
	runningWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "agentdeck",
			Subsystem: "worker",
			Name:      "running",
			Help:      "Currently tracked workers per supervisor.",
		}, []string{"supervisor"},
	)
	logLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentdeck",
			Subsystem: "worker",
			Name:      "log_lines_total",
			Help:      "Output lines captured from workers.",
		}, []string{"supervisor"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		workerStarts, workerStops, spawnFailures, unexpectedExits, runningWorkers, logLines,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler exposes the default registry for a /metrics endpoint.
func Handler() http.Handler { return promhttp.Handler() }

func IncStart(supervisor string)          { workerStarts.WithLabelValues(supervisor).Inc() }
func IncStop(supervisor string)           { workerStops.WithLabelValues(supervisor).Inc() }
func IncSpawnFailure(supervisor string)   { spawnFailures.WithLabelValues(supervisor).Inc() }
func IncUnexpectedExit(supervisor string) { unexpectedExits.WithLabelValues(supervisor).Inc() }
func IncLogLine(supervisor string)        { logLines.WithLabelValues(supervisor).Inc() }

func SetRunning(supervisor string, n int) {
	runningWorkers.WithLabelValues(supervisor).Set(float64(n))
}
