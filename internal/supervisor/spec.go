package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentdeck/agentdeck/internal/logger"
	"github.com/agentdeck/agentdeck/internal/logring"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultMaxProcesses = 10
	DefaultIdleTimeout  = 5 * time.Minute
	DefaultKillGrace    = 5 * time.Second
	DefaultSetupTimeout = 3 * time.Minute
)

// Config parameterizes one Supervisor instance. The same implementation
// serves both lightweight agent workers and networked app workers; they
// differ only in these knobs.
type Config struct {
	Name         string        `mapstructure:"name"`          // identity key, e.g. "agent" or "app"
	MaxProcesses int           `mapstructure:"max_processes"` // concurrent capacity
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`  // lifetime limit before auto-stop
	KillGrace    time.Duration `mapstructure:"kill_grace"`    // deadline between SIGTERM and SIGKILL
	SetupTimeout time.Duration `mapstructure:"setup_timeout"` // bound on the pre-launch setup step
	AllowedRoots []string      `mapstructure:"allowed_roots"` // launch targets must reside under one of these
	AllowedExts  []string      `mapstructure:"allowed_exts"`  // permitted target extensions; empty allows any
	Interpreter  []string      `mapstructure:"interpreter"`   // e.g. ["python3"]; empty executes the target directly
	LogBufferCap int           `mapstructure:"log_buffer"`    // per-worker log line cap
	PortMin      int           `mapstructure:"port_min"`      // automatic port range for networked workers
	PortMax      int           `mapstructure:"port_max"`
	Env          map[string]string `mapstructure:"env"` // overrides forwarded to every worker

	Capture logger.Config `mapstructure:"capture"` // rotated raw output capture files
	Logger  *slog.Logger  `mapstructure:"-"`
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "worker"
	}
	if c.MaxProcesses <= 0 {
		c.MaxProcesses = DefaultMaxProcesses
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.KillGrace <= 0 {
		c.KillGrace = DefaultKillGrace
	}
	if c.SetupTimeout <= 0 {
		c.SetupTimeout = DefaultSetupTimeout
	}
	if c.LogBufferCap <= 0 {
		c.LogBufferCap = logring.DefaultCapacity
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// LaunchSpec describes one worker launch. Env is the explicit set of variable
// overrides forwarded to the child; nothing else is assumed.
type LaunchSpec struct {
	Target  string            `json:"target"`
	Args    []string          `json:"args,omitempty"`
	WorkDir string            `json:"work_dir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Port    int               `json:"port,omitempty"`
	Setup   string            `json:"setup,omitempty"` // run to completion before spawning the worker
}

// ErrCapacityExceeded rejects a start when the supervisor is at its
// concurrent-process limit.
var ErrCapacityExceeded = errors.New("worker capacity exceeded")

// InvalidTargetError rejects a launch target that fails the allow-list
// policy. This is the security boundary against arbitrary process execution
// requested from an external client.
type InvalidTargetError struct {
	Target string
	Reason string
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("invalid launch target %q: %s", e.Target, e.Reason)
}

// InvalidKeyError rejects a worker key that is unsafe to use in URLs and
// capture file names.
type InvalidKeyError struct {
	Key string
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("invalid worker key %q: allowed [A-Za-z0-9._-], no traversal", e.Key)
}

func IsCapacityExceeded(err error) bool { return errors.Is(err, ErrCapacityExceeded) }

func IsInvalidTarget(err error) bool {
	var ite *InvalidTargetError
	return errors.As(err, &ite)
}

func IsInvalidKey(err error) bool {
	var ike *InvalidKeyError
	return errors.As(err, &ike)
}

// ValidateTarget enforces the launch policy: the target must be an absolute,
// traversal-free path under one of the allowed roots, carrying a permitted
// extension.
func (c Config) ValidateTarget(spec LaunchSpec) error {
	target := strings.TrimSpace(spec.Target)
	if target == "" {
		return &InvalidTargetError{Target: target, Reason: "empty target"}
	}
	if !filepath.IsAbs(target) {
		return &InvalidTargetError{Target: target, Reason: "target must be an absolute path"}
	}
	clean := filepath.Clean(target)
	if clean != target {
		return &InvalidTargetError{Target: target, Reason: "target contains redundant or traversal elements"}
	}
	if len(c.AllowedRoots) == 0 {
		return &InvalidTargetError{Target: target, Reason: "no allowed roots configured"}
	}
	if len(c.AllowedExts) > 0 {
		ext := filepath.Ext(clean)
		ok := false
		for _, e := range c.AllowedExts {
			if strings.EqualFold(e, ext) {
				ok = true
				break
			}
		}
		if !ok {
			return &InvalidTargetError{Target: target, Reason: fmt.Sprintf("extension %q not permitted", ext)}
		}
	}
	for _, root := range c.AllowedRoots {
		rel, err := filepath.Rel(filepath.Clean(root), clean)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}
	return &InvalidTargetError{Target: target, Reason: "target outside allowed roots"}
}

// isSafeKey restricts keys to [A-Za-z0-9._-] with no traversal, so they are
// safe to use in URLs and capture file names.
func isSafeKey(key string) bool {
	if key == "" || strings.Contains(key, "..") {
		return false
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}
