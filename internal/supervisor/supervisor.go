package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/agentdeck/agentdeck/internal/env"
	"github.com/agentdeck/agentdeck/internal/history"
	"github.com/agentdeck/agentdeck/internal/logring"
	"github.com/agentdeck/agentdeck/internal/metrics"
)

// Supervisor owns a registry of managed worker processes and is the single
// authority for creating, enumerating, and destroying them. The registry is
// the only shared mutable state; every insert and remove happens under mu.
type Supervisor struct {
	cfg  Config
	log  *slog.Logger
	envM *env.Env

	mu    sync.Mutex
	procs map[string]*record
	sinks []history.Sink
}

// Info is a read-only snapshot of one tracked worker.
type Info struct {
	Key       string    `json:"key"`
	Target    string    `json:"target"`
	PID       int       `json:"pid,omitempty"`
	Port      int       `json:"port,omitempty"`
	URL       string    `json:"url,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Running   bool      `json:"running"`
}

func New(cfg Config) *Supervisor {
	cfg = cfg.withDefaults()
	e := env.New()
	for k, v := range cfg.Env {
		e.Set(k, v)
	}
	return &Supervisor{
		cfg:   cfg,
		log:   cfg.Logger.With("supervisor", cfg.Name),
		envM:  e,
		procs: make(map[string]*record),
	}
}

// Name returns the supervisor's identity key ("agent", "app", ...).
func (s *Supervisor) Name() string { return s.cfg.Name }

// SetHistorySinks configures lifecycle event sinks. Passing none clears them.
func (s *Supervisor) SetHistorySinks(sinks ...history.Sink) {
	s.mu.Lock()
	s.sinks = append([]history.Sink(nil), sinks...)
	s.mu.Unlock()
}

// Start launches a worker under key. A start for an already-tracked key is a
// success without side effects. It returns once the OS process handle exists;
// it does not wait for application-level readiness.
func (s *Supervisor) Start(ctx context.Context, key string, spec LaunchSpec) error {
	if !isSafeKey(key) {
		return &InvalidKeyError{Key: key}
	}
	if err := s.cfg.ValidateTarget(spec); err != nil {
		return err
	}

	s.mu.Lock()
	if _, ok := s.procs[key]; ok {
		s.mu.Unlock()
		return nil // idempotent: already starting or running
	}
	// Capacity counts every registry entry, stop-requested ones included: a
	// record in its grace window still holds its key, port, and OS process,
	// so it occupies a slot until removal.
	if len(s.procs) >= s.cfg.MaxProcesses {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d workers tracked", ErrCapacityExceeded, s.cfg.MaxProcesses)
	}
	port := spec.Port
	if port == 0 && s.cfg.PortMin > 0 {
		p, err := s.allocatePortLocked()
		if err != nil {
			s.mu.Unlock()
			return err
		}
		port = p
	}
	rec := newRecord(key, spec, port, s.cfg.LogBufferCap)
	s.procs[key] = rec
	n := len(s.procs)
	s.mu.Unlock()
	metrics.SetRunning(s.cfg.Name, n)

	if err := s.launch(ctx, rec); err != nil {
		s.remove(rec, err.Error())
		return err
	}
	return nil
}

// launch runs the optional setup step, spawns the worker, and wires output
// capture, the exit watcher, and the lifetime timer.
func (s *Supervisor) launch(ctx context.Context, rec *record) error {
	if rec.spec.Setup != "" {
		if err := s.runSetup(ctx, rec); err != nil {
			return err
		}
		if rec.stopping() {
			return errors.New("stopped during setup")
		}
	}

	argv := make([]string, 0, len(s.cfg.Interpreter)+1+len(rec.spec.Args))
	argv = append(argv, s.cfg.Interpreter...)
	argv = append(argv, rec.spec.Target)
	argv = append(argv, rec.spec.Args...)
	// #nosec G204 -- argv[0] is operator configuration, target passed the allow-list
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = rec.spec.WorkDir
	if cmd.Dir == "" {
		cmd.Dir = filepath.Dir(rec.spec.Target)
	}
	cmd.Env = s.workerEnv(rec)
	configureSysProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		rec.logs.Append("[error] failed to launch: " + err.Error())
		metrics.IncSpawnFailure(s.cfg.Name)
		s.sendHistory(history.EventFail, rec, err.Error())
		return fmt.Errorf("spawn %s: %w", rec.key, err)
	}
	rec.markStarted(cmd)

	outW, errW, werr := s.cfg.Capture.Writers(s.cfg.Name + "-" + rec.key)
	if werr != nil {
		s.log.Warn("capture disabled", "key", rec.key, "error", werr)
	}
	rec.setWriters(outW, errW)

	var pumps sync.WaitGroup
	pumps.Add(2)
	go s.pump(rec, stdout, "", &pumps)
	go s.pump(rec, stderr, "[stderr] ", &pumps)
	go s.watch(rec, &pumps)

	rec.armAutoStop(time.AfterFunc(s.cfg.IdleTimeout, func() { s.autoStop(rec) }))

	metrics.IncStart(s.cfg.Name)
	s.sendHistory(history.EventStart, rec, "")
	s.log.Info("worker started", "key", rec.key, "pid", rec.pid(), "port", rec.port)

	// A stop may have arrived while the spawn was in flight.
	if rec.stopping() {
		s.signalStop(rec)
	}
	return nil
}

// runSetup executes the pre-launch setup command to completion, bounded by
// SetupTimeout, with its output folded into the worker's log buffer.
func (s *Supervisor) runSetup(ctx context.Context, rec *record) error {
	sctx, cancel := context.WithTimeout(ctx, s.cfg.SetupTimeout)
	defer cancel()
	rec.setSetupCancel(cancel)

	rec.logs.Append("[setup] " + rec.spec.Setup)
	cmd := shellCommand(sctx, rec.spec.Setup)
	cmd.Dir = rec.spec.WorkDir
	if cmd.Dir == "" {
		cmd.Dir = filepath.Dir(rec.spec.Target)
	}
	cmd.Env = s.workerEnv(rec)

	out, err := cmd.CombinedOutput()
	for _, line := range splitLines(out) {
		rec.logs.Append("[setup] " + line)
	}
	if err != nil {
		rec.logs.Append("[setup] failed: " + err.Error())
		return fmt.Errorf("setup for %s: %w", rec.key, err)
	}
	return nil
}

func (s *Supervisor) workerEnv(rec *record) []string {
	perProc := make(map[string]string, len(rec.spec.Env)+1)
	for k, v := range rec.spec.Env {
		perProc[k] = v
	}
	if rec.port > 0 {
		perProc["PORT"] = strconv.Itoa(rec.port)
	}
	return s.envM.Merge(perProc)
}

// pump copies one output channel into the log buffer line by line, mirroring
// raw bytes to the capture file when configured. Diagnostic-channel lines are
// tagged so consumers can tell them apart.
func (s *Supervisor) pump(rec *record, rd io.Reader, tag string, wg *sync.WaitGroup) {
	defer wg.Done()
	outW, errW := rec.writers()
	mirror := outW
	if tag != "" {
		mirror = errW
	}
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		text := sc.Text()
		if mirror != nil {
			_, _ = mirror.Write([]byte(text + "\n"))
		}
		rec.logs.Append(tag + text)
		metrics.IncLogLine(s.cfg.Name)
	}
}

// watch reaps the process. It owns cmd.Wait: the pumps must drain first so
// the pipes are not closed under them.
func (s *Supervisor) watch(rec *record, pumps *sync.WaitGroup) {
	pumps.Wait()
	err := rec.cmd.Wait()
	rec.logs.Append(describeExit(err))
	reason := "stopped"
	if !rec.stopping() {
		reason = "unexpected exit"
		metrics.IncUnexpectedExit(s.cfg.Name)
		s.log.Warn("worker exited unexpectedly", "key", rec.key, "error", err)
	}
	s.remove(rec, reason)
}

func describeExit(err error) string {
	if err == nil {
		return "[exit] process exited with code 0"
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return "[exit] process exited: " + ee.String()
	}
	return "[exit] process wait failed: " + err.Error()
}

// Stop sends a graceful termination signal and arms the force-kill deadline.
// It returns immediately; completion is observed via registry state. Stopping
// an absent key is a no-op.
func (s *Supervisor) Stop(key string) {
	s.mu.Lock()
	rec := s.procs[key]
	s.mu.Unlock()
	if rec == nil {
		return
	}
	s.stopRecord(rec)
}

func (s *Supervisor) stopRecord(rec *record) {
	rec.requestStop()
	rec.cancelSetup()
	if rec.pid() == 0 {
		// still starting: the launch path observes the stop request and
		// removes the record itself
		return
	}
	s.signalStop(rec)
}

func (s *Supervisor) signalStop(rec *record) {
	if pid := rec.pid(); pid > 0 {
		_ = killProcess(-pid, syscall.SIGTERM)
	}
	rec.armForceKill(time.AfterFunc(s.cfg.KillGrace, func() { s.forceKill(rec) }))
}

// forceKill fires when the grace period elapses. If the record already left
// the registry (the process exited in time) this is a no-op.
func (s *Supervisor) forceKill(rec *record) {
	if !s.owns(rec) {
		return
	}
	if pid := rec.pid(); pid > 0 {
		_ = killProcess(-pid, syscall.SIGKILL)
	}
	rec.logs.Append("[exit] force-killed after " + s.cfg.KillGrace.String() + " grace period")
	s.log.Warn("worker force-killed", "key", rec.key)
	s.remove(rec, "force-killed")
}

// autoStop fires when the lifetime limit elapses for a still-tracked worker.
func (s *Supervisor) autoStop(rec *record) {
	if !s.owns(rec) {
		return
	}
	rec.logs.Append("[timeout] lifetime limit reached; stopping")
	s.log.Info("worker hit lifetime limit", "key", rec.key, "limit", s.cfg.IdleTimeout)
	s.stopRecord(rec)
}

// owns reports whether rec is still the registered record for its key. Timers
// capture the record pointer, so a stale timer cannot act on a successor
// started under the same key.
func (s *Supervisor) owns(rec *record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[rec.key] == rec
}

// remove takes rec out of the registry exactly once and releases its
// resources. Concurrent callers (exit watcher, force-kill timer, failed
// start) collapse into a single removal.
func (s *Supervisor) remove(rec *record, reason string) {
	rec.removeOnce.Do(func() {
		s.mu.Lock()
		if cur, ok := s.procs[rec.key]; ok && cur == rec {
			delete(s.procs, rec.key)
		}
		n := len(s.procs)
		s.mu.Unlock()

		rec.finalize()
		metrics.SetRunning(s.cfg.Name, n)
		if !rec.started().IsZero() {
			metrics.IncStop(s.cfg.Name)
			s.sendHistory(history.EventStop, rec, reason)
		}
		close(rec.done)
		s.log.Info("worker removed", "key", rec.key, "reason", reason)
	})
}

// StopAll concurrently stops every tracked worker and waits until each stop
// sequence settles (process exit or force-kill deadline), or ctx is done.
func (s *Supervisor) StopAll(ctx context.Context) {
	s.mu.Lock()
	recs := make([]*record, 0, len(s.procs))
	for _, rec := range s.procs {
		recs = append(recs, rec)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, rec := range recs {
		wg.Add(1)
		go func(rec *record) {
			defer wg.Done()
			s.stopRecord(rec)
			select {
			case <-rec.done:
			case <-ctx.Done():
			}
		}(rec)
	}
	wg.Wait()
}

// List returns a snapshot of all tracked workers, sorted by key.
func (s *Supervisor) List() []Info {
	s.mu.Lock()
	infos := make([]Info, 0, len(s.procs))
	for _, rec := range s.procs {
		infos = append(infos, rec.info())
	}
	s.mu.Unlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos
}

// Lookup returns the snapshot for one key.
func (s *Supervisor) Lookup(key string) (Info, bool) {
	s.mu.Lock()
	rec := s.procs[key]
	s.mu.Unlock()
	if rec == nil {
		return Info{}, false
	}
	return rec.info(), true
}

// Count returns the number of tracked workers.
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

// Logs returns a snapshot copy of the worker's log buffer; nil if absent.
func (s *Supervisor) Logs(key string) []logring.Line {
	s.mu.Lock()
	rec := s.procs[key]
	s.mu.Unlock()
	if rec == nil {
		return nil
	}
	return rec.logs.Snapshot()
}

// Buffer exposes the worker's live log buffer for stream adapters.
func (s *Supervisor) Buffer(key string) (*logring.Buffer, bool) {
	s.mu.Lock()
	rec := s.procs[key]
	s.mu.Unlock()
	if rec == nil {
		return nil, false
	}
	return rec.logs, true
}

// Subscribe registers fn for every line appended to key's log buffer and
// returns an idempotent cancel. Subscribing to an absent key returns a no-op
// cancel and fn is never invoked.
func (s *Supervisor) Subscribe(key string, fn logring.Listener) func() {
	buf, ok := s.Buffer(key)
	if !ok {
		return func() {}
	}
	return buf.Subscribe(fn)
}

func (s *Supervisor) sendHistory(typ history.EventType, rec *record, reason string) {
	s.mu.Lock()
	sinks := append([]history.Sink(nil), s.sinks...)
	s.mu.Unlock()
	if len(sinks) == 0 {
		return
	}
	evt := history.Event{
		Type:       typ,
		OccurredAt: time.Now().UTC(),
		Supervisor: s.cfg.Name,
		Key:        rec.key,
		Target:     rec.spec.Target,
		PID:        rec.pid(),
		Port:       rec.port,
		StartedAt:  rec.started(),
		Reason:     reason,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, sink := range sinks {
		_ = sink.Send(ctx, evt)
	}
}

// allocatePortLocked picks the first port in the configured range not claimed
// by another record and currently bindable. Caller holds s.mu.
func (s *Supervisor) allocatePortLocked() (int, error) {
	used := make(map[int]bool, len(s.procs))
	for _, rec := range s.procs {
		used[rec.port] = true
	}
	for p := s.cfg.PortMin; p <= s.cfg.PortMax; p++ {
		if used[p] {
			continue
		}
		l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(p)))
		if err != nil {
			continue
		}
		_ = l.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", s.cfg.PortMin, s.cfg.PortMax)
}

func splitLines(b []byte) []string {
	var out []string
	start := 0
	for i, c := range b {
		if c == '\n' {
			line := string(b[start:i])
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			out = append(out, line)
			start = i + 1
		}
	}
	if start < len(b) {
		out = append(out, string(b[start:]))
	}
	return out
}
