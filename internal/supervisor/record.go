package supervisor

import (
	"context"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/agentdeck/agentdeck/internal/logring"
)

// record is the managed process record for one key. It is created and removed
// only by the Supervisor; the record is the sole owner of the OS process
// handle and the only entity permitted to signal it.
type record struct {
	key  string
	spec LaunchSpec
	port int
	logs *logring.Buffer

	mu            sync.Mutex
	cmd           *exec.Cmd
	startedAt     time.Time
	stopRequested bool
	setupCancel   context.CancelFunc
	autoTimer     *time.Timer
	forceTimer    *time.Timer
	outW, errW    io.WriteCloser

	// done is closed exactly once, when the record leaves the registry.
	removeOnce sync.Once
	done       chan struct{}
}

func newRecord(key string, spec LaunchSpec, port, bufCap int) *record {
	return &record{
		key:  key,
		spec: spec,
		port: port,
		logs: logring.New(bufCap),
		done: make(chan struct{}),
	}
}

func (r *record) markStarted(cmd *exec.Cmd) {
	r.mu.Lock()
	r.cmd = cmd
	r.startedAt = time.Now()
	r.mu.Unlock()
}

func (r *record) pid() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil || r.cmd.Process == nil {
		return 0
	}
	return r.cmd.Process.Pid
}

func (r *record) started() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startedAt
}

// requestStop marks the record as stopping and reports whether this call was
// the first request.
func (r *record) requestStop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	first := !r.stopRequested
	r.stopRequested = true
	return first
}

func (r *record) stopping() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopRequested
}

func (r *record) setSetupCancel(cancel context.CancelFunc) {
	r.mu.Lock()
	r.setupCancel = cancel
	r.mu.Unlock()
}

func (r *record) cancelSetup() {
	r.mu.Lock()
	cancel := r.setupCancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *record) armAutoStop(t *time.Timer) {
	r.mu.Lock()
	r.autoTimer = t
	r.mu.Unlock()
}

func (r *record) armForceKill(t *time.Timer) {
	r.mu.Lock()
	if r.forceTimer != nil {
		// a force deadline is already pending from an earlier stop
		r.mu.Unlock()
		t.Stop()
		return
	}
	r.forceTimer = t
	r.mu.Unlock()
}

func (r *record) setWriters(outW, errW io.WriteCloser) {
	r.mu.Lock()
	r.outW = outW
	r.errW = errW
	r.mu.Unlock()
}

func (r *record) writers() (io.Writer, io.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var o, e io.Writer
	if r.outW != nil {
		o = r.outW
	}
	if r.errW != nil {
		e = r.errW
	}
	return o, e
}

// finalize releases everything tied to registry membership: pending timers,
// the setup context, and capture writers. Removal callers run it through
// removeOnce, so a timer firing after removal finds nothing to do.
func (r *record) finalize() {
	r.mu.Lock()
	auto, force := r.autoTimer, r.forceTimer
	cancel := r.setupCancel
	outW, errW := r.outW, r.errW
	r.autoTimer, r.forceTimer = nil, nil
	r.outW, r.errW = nil, nil
	r.mu.Unlock()

	if auto != nil {
		auto.Stop()
	}
	if force != nil {
		force.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if outW != nil {
		_ = outW.Close()
	}
	if errW != nil {
		_ = errW.Close()
	}
}

func (r *record) info() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	inf := Info{
		Key:       r.key,
		Target:    r.spec.Target,
		PID:       pidOf(r.cmd),
		Port:      r.port,
		StartedAt: r.startedAt,
		Running:   r.cmd != nil,
	}
	if r.port > 0 {
		inf.URL = "http://127.0.0.1:" + strconv.Itoa(r.port)
	}
	return inf
}

func pidOf(cmd *exec.Cmd) int {
	if cmd == nil || cmd.Process == nil {
		return 0
	}
	return cmd.Process.Pid
}
