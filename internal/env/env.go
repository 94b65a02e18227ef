package env

import (
	"os"
	"sort"
	"strings"
	"sync"
)

type Var map[string]string

// Env composes the environment forwarded to spawned workers. Nothing is
// inherited implicitly: the base is captured once (from the OS or an explicit
// set) and per-worker overrides are applied on top. Safe for concurrent use:
// Merge runs on every launch path, which may execute in parallel.
type Env struct {
	mu   sync.Mutex
	vars Var // global overrides (K->V)
	env  Var // cached base, replaced wholesale, never mutated in place
}

func New() *Env {
	return &Env{vars: make(Var)}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			if k == "" {
				continue
			}
			base[k] = kv[i+1:]
		}
	}
	e.mu.Lock()
	e.env = base
	e.mu.Unlock()
}

// SetBase replaces the base environment with an explicit map.
func (e *Env) SetBase(base map[string]string) {
	b := make(Var, len(base))
	for k, v := range base {
		if k == "" {
			continue
		}
		b[k] = v
	}
	e.mu.Lock()
	e.env = b
	e.mu.Unlock()
}

// Set sets a global override K=V. Copy-on-write keeps maps handed out by
// snapshot safe to read.
func (e *Env) Set(k, v string) {
	e.mu.Lock()
	next := make(Var, len(e.vars)+1)
	for ek, ev := range e.vars {
		next[ek] = ev
	}
	next[k] = v
	e.vars = next
	e.mu.Unlock()
}

// snapshot returns the base and overrides, capturing the OS environment
// first if no base was set. The returned maps are only ever replaced, not
// mutated, so callers may read them without the lock.
func (e *Env) snapshot() (Var, Var) {
	e.mu.Lock()
	base, vars := e.env, e.vars
	e.mu.Unlock()
	if base == nil {
		e.FromOS()
		e.mu.Lock()
		base = e.env
		e.mu.Unlock()
	}
	return base, vars
}

// Merge composes the final environment applying, in order: base (OS or
// explicit), global overrides, then perProc overrides. The result is a sorted
// "K=V" slice suitable for exec.Cmd.Env.
func (e *Env) Merge(perProc map[string]string) []string {
	base, vars := e.snapshot()
	m := make(Var, len(base)+len(vars)+len(perProc))
	for k, v := range base {
		m[k] = v
	}
	for k, v := range vars {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for k, v := range perProc {
		if k == "" {
			continue
		}
		m[k] = v
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
