// Package driver implements the local process driver (spec 4.5): spawn a
// subprocess, wait for exit asynchronously, map its observed state to
// queue.DriverStatus, and kill via SIGTERM.
package driver

import (
	"context"
	"os/exec"
	"sync"
	"syscall"

	"github.com/ensemble-da/core/internal/logging"
	"github.com/ensemble-da/core/internal/queue"
)

// handle is the driver-private state attached to a queue.Node's
// DriverData. The node struct must outlive the subprocess, so Free is a
// no-op while active is true (spec 4.5).
type handle struct {
	mu       sync.Mutex
	cmd      *exec.Cmd
	active   bool
	exitCode int
	failed   bool // set by BlacklistNode to simulate a transient driver fault
}

// Local is the local-process Driver.
type Local struct {
	log logging.Sink
}

// New returns a Local driver.
func New(log logging.Sink) *Local {
	if log == nil {
		log = logging.Discard{}
	}
	return &Local{log: log}
}

// Submit spawns n.RunCmd with n.Argv in n.RunPath, asynchronously. The
// returned driverData is a *handle whose Wait-goroutine updates status as
// the process progresses.
func (l *Local) Submit(ctx context.Context, n *queue.Node) (any, error) {
	cmd := exec.Command(n.RunCmd, n.Argv...)
	cmd.Dir = n.RunPath
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	h := &handle{cmd: cmd, active: true}
	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		defer h.mu.Unlock()
		h.active = false
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				h.exitCode = exitErr.ExitCode()
			} else {
				h.exitCode = -1
			}
		}
	}()
	return h, nil
}

// Status reports RUNNING while the subprocess has not exited, DONE once it
// has (regardless of exit code — the post-run OK/EXIT file check is the
// authoritative success/failure determinant per spec 4.4), or FAILED if
// BlacklistNode was called on this handle.
func (l *Local) Status(driverData any) queue.DriverStatus {
	h, ok := driverData.(*handle)
	if !ok || h == nil {
		return queue.DriverFailed
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failed {
		return queue.DriverFailed
	}
	if h.active {
		return queue.DriverRunning
	}
	return queue.DriverDone
}

// Kill sends SIGTERM to the child process.
func (l *Local) Kill(driverData any) error {
	h, ok := driverData.(*handle)
	if !ok || h == nil || h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Signal(syscall.SIGTERM)
}

// Free releases driver resources. A no-op while the subprocess is still
// active, per spec 4.5.
func (l *Local) Free(driverData any) {
	h, ok := driverData.(*handle)
	if !ok || h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active {
		return
	}
	h.cmd = nil
}

// BlacklistNode marks driverData as a transient driver fault, so the next
// Status call reports DriverFailed — the local-driver path to
// DO_KILL_NODE_FAILURE (spec 4.4, 7 error taxonomy item 4).
func BlacklistNode(driverData any) {
	h, ok := driverData.(*handle)
	if !ok || h == nil {
		return
	}
	h.mu.Lock()
	h.failed = true
	h.mu.Unlock()
}
