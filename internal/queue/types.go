package queue

import (
	"context"
	"time"
)

// Status is one state in the job node lifecycle (spec 3, 4.4).
type Status int

const (
	NotActive Status = iota
	Waiting
	Submitted
	Pending
	Running
	Done
	Success
	Exit
	Failed
	DoKill
	DoKillNodeFailure
	IsKilled

	numStatuses
)

func (s Status) String() string {
	switch s {
	case NotActive:
		return "NOT_ACTIVE"
	case Waiting:
		return "WAITING"
	case Submitted:
		return "SUBMITTED"
	case Pending:
		return "PENDING"
	case Running:
		return "RUNNING"
	case Done:
		return "DONE"
	case Success:
		return "SUCCESS"
	case Exit:
		return "EXIT"
	case Failed:
		return "FAILED"
	case DoKill:
		return "DO_KILL"
	case DoKillNodeFailure:
		return "DO_KILL_NODE_FAILURE"
	case IsKilled:
		return "IS_KILLED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether s is one of the three states run_jobs
// guarantees every node reaches (P6): SUCCESS, FAILED, IS_KILLED.
func (s Status) IsTerminal() bool {
	return s == Success || s == Failed || s == IsKilled
}

// CanKill reports whether the manager loop's user-exit handling marks a
// node in status s DO_KILL. A DO_KILL node that was never submitted then
// goes to IS_KILLED without a driver call; a submitted one is killed
// through the driver first.
func (s Status) CanKill() bool {
	switch s {
	case Waiting, Submitted, Pending, Running:
		return true
	default:
		return false
	}
}

// Callbacks are invoked by the manager loop as a node reaches DONE/EXIT.
// DoneCallback's bool return promotes to SUCCESS (true) or demotes to EXIT
// (false). RetryCallback is consulted when attempts are exhausted after an
// EXIT; returning true requests another round and resets submit_attempt.
// ExitCallback fires when a node finally becomes FAILED.
type Callbacks struct {
	Done  func(ctx context.Context, n *Node) bool
	Retry func(ctx context.Context, n *Node) bool
	Exit  func(ctx context.Context, n *Node)
}

// Node is one forward-model job (spec 3, "Job node").
type Node struct {
	ID            int
	Name          string
	RunPath       string
	RunCmd        string
	Argv          []string
	Callbacks     Callbacks
	Status        Status
	SubmitAttempt int
	DriverData    any
	SimStart      time.Time
	SimEnd        time.Time
}

// DriverStatus is what a Driver reports back for a node it is running.
type DriverStatus int

const (
	DriverPending DriverStatus = iota
	DriverRunning
	DriverDone
	DriverFailed
)

// Driver is the closed-variant interface every driver kind (local,
// remote/batch) implements uniformly (spec 9, "tagged variants over
// dynamic dispatch").
type Driver interface {
	// Submit starts the node's forward model asynchronously, returning
	// driver-specific data to be stored on the node.
	Submit(ctx context.Context, n *Node) (driverData any, err error)
	// Status reports the current driver-observed status for driverData.
	Status(driverData any) DriverStatus
	// Kill requests termination of the running job.
	Kill(driverData any) error
	// Free releases driver-held resources once the node is terminal.
	Free(driverData any)
}

// Config holds the manager-loop tunables (spec 4.4, 5).
type Config struct {
	MaxRunning    int // 0 means unbounded (spec 9 open question, resolved)
	MaxSubmit     int // max submit_attempt before FAILED
	MaxDuration   time.Duration
	StopTime      time.Time // zero means unset
	MaxOKWaitTime time.Duration
	UsleepMin     time.Duration
	UsleepMax     time.Duration
}

// Unbounded is the explicit sentinel for Config.MaxRunning meaning no cap.
const Unbounded = 0

// DefaultConfig matches the source's own defaults: a 5-job submission
// burst per loop turn, 1s OK/EXIT poll granularity, bounded sleep jitter.
func DefaultConfig() Config {
	return Config{
		MaxRunning:    Unbounded,
		MaxSubmit:     2,
		MaxOKWaitTime: 30 * time.Second,
		UsleepMin:     10 * time.Millisecond,
		UsleepMax:     80 * time.Millisecond,
	}
}

const submitBurst = 5
