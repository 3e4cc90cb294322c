package preflight

import (
	"github.com/gofrs/flock"

	"runq/internal/config"
	"runq/internal/control"
)

// RunnerProbe reports whether another process currently owns the queue.
// The lock is held by runqd for its lifetime and by "runq run" for the
// duration of a foreground drain; the control socket is live whenever the
// owning process is hosting the control hub.
type RunnerProbe struct {
	LockHeld   bool
	SocketLive bool
	LockPath   string
	SocketPath string
}

// ProbeRunner inspects the runner lock and control socket without blocking.
func ProbeRunner(cfg *config.Config) RunnerProbe {
	if cfg == nil {
		return RunnerProbe{}
	}
	probe := RunnerProbe{
		LockPath:   cfg.LockPath(),
		SocketPath: cfg.ControlSocketPath(),
	}

	lock := flock.New(probe.LockPath)
	locked, err := lock.TryLock()
	switch {
	case err != nil:
		// Cannot create or open the lock file. Leave LockHeld false and
		// let the socket probe speak for runner liveness.
	case locked:
		_ = lock.Unlock()
	default:
		probe.LockHeld = true
	}

	probe.SocketLive = control.Ping(probe.SocketPath)
	return probe
}

// Active reports whether a runner session (daemon or foreground drain) is live.
func (p RunnerProbe) Active() bool {
	return p.LockHeld || p.SocketLive
}

// Detail renders a display-friendly summary for status UIs.
func (p RunnerProbe) Detail() string {
	switch {
	case p.LockHeld && p.SocketLive:
		return "active (lock held, control socket listening)"
	case p.LockHeld:
		return "active (lock held)"
	case p.SocketLive:
		return "active (control socket listening)"
	default:
		return "idle"
	}
}
