// Package queue implements the job execution substrate: submission,
// tracking, retry, kill, and completion callbacks for forward-model jobs,
// under a bounded-concurrency single-manager-loop design (spec 4.4, 5).
package queue

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ensemble-da/core/internal/logging"
)

// OKExitChecker abstracts the post-DONE OK/EXIT file check, letting tests
// substitute an in-memory checker instead of touching the filesystem.
type OKExitChecker interface {
	HasOK(runPath string) bool
	HasExit(runPath string) bool
}

// FileChecker is the default OKExitChecker, backed by os.Stat.
type FileChecker struct{}

func (FileChecker) HasOK(runPath string) bool   { return fileExists(filepath.Join(runPath, "OK")) }
func (FileChecker) HasExit(runPath string) bool { return fileExists(filepath.Join(runPath, "EXIT")) }

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// Queue drives a set of Nodes to terminal state via a single manager loop.
type Queue struct {
	mu     sync.RWMutex // job list lock: readers (status accessors) RLock, AddJob Lock
	nodes  []*Node
	byName map[string]int

	statusMu     sync.Mutex
	statusCounts [numStatuses]int

	managerLock sync.Mutex // trylock: a second concurrent Run is a fatal programmer error
	running     bool

	driver   Driver
	cfg      Config
	log      logging.Sink
	checker  OKExitChecker
	callback *semaphore.Weighted // bounds simultaneously executing callbacks to 1

	exitRequested  bool
	submitComplete bool
	totalTarget    int // 0 means unset; success+failed+killed reaching this completes the run
	flagMu         sync.Mutex

	rng *rand.Rand
}

// Option configures a Queue at construction.
type Option func(*Queue)

// WithConfig overrides the default Config.
func WithConfig(cfg Config) Option {
	return func(q *Queue) { q.cfg = cfg }
}

// WithLogger overrides the default discard sink.
func WithLogger(l logging.Sink) Option {
	return func(q *Queue) { q.log = l }
}

// WithOKExitChecker overrides the default filesystem-backed checker.
func WithOKExitChecker(c OKExitChecker) Option {
	return func(q *Queue) { q.checker = c }
}

// WithTotalTarget sets the caller-declared completion target (spec 4.4
// "Completion predicate").
func WithTotalTarget(n int) Option {
	return func(q *Queue) { q.totalTarget = n }
}

// New constructs a Queue bound to driver.
func New(driver Driver, opts ...Option) *Queue {
	q := &Queue{
		byName:   map[string]int{},
		driver:   driver,
		cfg:      DefaultConfig(),
		log:      logging.Discard{},
		checker:  FileChecker{},
		callback: semaphore.NewWeighted(1),
		rng:      rand.New(rand.NewSource(1)),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// AddJob appends a node in WAITING status. Safe to call while Run is
// executing; the node becomes visible on the manager loop's next turn.
func (q *Queue) AddJob(n *Node) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.byName[n.Name]; exists {
		return 0, fmt.Errorf("queue: node %q already added", n.Name)
	}
	n.ID = len(q.nodes)
	n.Status = Waiting
	q.nodes = append(q.nodes, n)
	q.byName[n.Name] = n.ID
	q.incStatus(Waiting)
	return n.ID, nil
}

// Status returns the current status of node id.
func (q *Queue) Status(id int) (Status, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if id < 0 || id >= len(q.nodes) {
		return NotActive, fmt.Errorf("queue: no such node %d", id)
	}
	return q.nodes[id].Status, nil
}

// Counts returns a snapshot of the status-count table (P8: sums to
// job-list size at every observed snapshot).
func (q *Queue) Counts() [numStatuses]int {
	q.statusMu.Lock()
	defer q.statusMu.Unlock()
	return q.statusCounts
}

// StartUserExit requests cooperative shutdown: the manager loop marks all
// killable nodes DO_KILL on its next turn. No synchronous stop is offered.
func (q *Queue) StartUserExit() {
	q.flagMu.Lock()
	q.exitRequested = true
	q.flagMu.Unlock()
}

// SetSubmitComplete declares that no more AddJob calls will occur; combined
// with every node reaching a terminal state, this satisfies the completion
// predicate.
func (q *Queue) SetSubmitComplete() {
	q.flagMu.Lock()
	q.submitComplete = true
	q.flagMu.Unlock()
}

// Kill requests cancellation of node id. A node still WAITING goes straight
// to IS_KILLED without any driver call; any other non-terminal node is
// marked DO_KILL for the manager loop to kill through the driver.
// Idempotent (P7): repeated calls on an already-terminal or already-DO_KILL
// node are no-ops.
func (q *Queue) Kill(id int) error {
	q.mu.RLock()
	n := q.nodeByID(id)
	q.mu.RUnlock()
	if n == nil {
		return fmt.Errorf("queue: no such node %d", id)
	}
	q.transition(n, func(cur Status) Status {
		if cur.IsTerminal() || cur == DoKill || cur == DoKillNodeFailure {
			return cur
		}
		if cur == Waiting {
			return IsKilled
		}
		return DoKill
	})
	return nil
}

func (q *Queue) nodeByID(id int) *Node {
	if id < 0 || id >= len(q.nodes) {
		return nil
	}
	return q.nodes[id]
}

// transition atomically applies f to a node's status, keeping the
// status-count table consistent with the change (per-node serialization is
// provided by the caller holding at least a read lock on the job list plus
// this method's internal status-table lock).
func (q *Queue) transition(n *Node, f func(Status) Status) Status {
	q.statusMu.Lock()
	defer q.statusMu.Unlock()
	old := n.Status
	next := f(old)
	if next != old {
		q.statusCounts[old]--
		q.statusCounts[next]++
		n.Status = next
	}
	return next
}

func (q *Queue) incStatus(s Status) {
	q.statusMu.Lock()
	q.statusCounts[s]++
	q.statusMu.Unlock()
}

// Run executes the manager loop until the completion predicate is met or
// the context is cancelled. Only one Run may execute at a time across the
// Queue's lifetime; a concurrent second call panics (spec 7, error
// taxonomy item 6: concurrent manager is a programmer error).
func (q *Queue) Run(ctx context.Context) error {
	if !q.managerLock.TryLock() {
		panic("queue: concurrent manager loop — Run called while another Run is active")
	}
	defer q.managerLock.Unlock()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if q.loopTurn(ctx) {
			return nil
		}
		q.sleepJitter()
	}
}

// loopTurn executes one iteration of the scheduling loop (spec 4.4). It
// returns true when the completion predicate is satisfied.
func (q *Queue) loopTurn(ctx context.Context) bool {
	q.mu.RLock()
	nodes := append([]*Node(nil), q.nodes...)
	q.mu.RUnlock()

	q.flagMu.Lock()
	exitRequested := q.exitRequested
	submitComplete := q.submitComplete
	q.flagMu.Unlock()

	if exitRequested {
		for _, n := range nodes {
			q.markDoKillIfKillable(n)
		}
	}

	now := time.Now()
	for _, n := range nodes {
		if n.Status == Running {
			if !n.SimStart.IsZero() && q.cfg.MaxDuration > 0 && now.Sub(n.SimStart) > q.cfg.MaxDuration {
				q.transition(n, func(Status) Status { return DoKill })
			}
			if !q.cfg.StopTime.IsZero() && now.After(q.cfg.StopTime) {
				q.transition(n, func(Status) Status { return DoKill })
			}
		}
	}

	for _, n := range nodes {
		q.updateFromDriver(ctx, n)
	}

	if q.hasWaiting(nodes) && q.underRunningCap(nodes) {
		q.submitBurstOf(ctx, nodes)
	}

	for _, n := range nodes {
		q.dispatchTerminalHandlers(ctx, n)
	}

	return q.completionPredicate(nodes, submitComplete)
}

func (q *Queue) markDoKillIfKillable(n *Node) {
	q.transition(n, func(cur Status) Status {
		if cur.CanKill() {
			return DoKill
		}
		return cur
	})
}

func (q *Queue) hasWaiting(nodes []*Node) bool {
	for _, n := range nodes {
		if n.Status == Waiting {
			return true
		}
	}
	return false
}

func (q *Queue) underRunningCap(nodes []*Node) bool {
	if q.cfg.MaxRunning == Unbounded {
		return true
	}
	running := 0
	for _, n := range nodes {
		if n.Status == Submitted || n.Status == Pending || n.Status == Running {
			running++
		}
	}
	return running < q.cfg.MaxRunning
}

func (q *Queue) submitBurstOf(ctx context.Context, nodes []*Node) {
	submitted := 0
	for _, n := range nodes {
		if submitted >= submitBurst {
			return
		}
		if n.Status != Waiting {
			continue
		}
		driverData, err := q.driver.Submit(ctx, n)
		if err != nil {
			q.log.Warn("submit failed", "node", n.Name, "err", err)
			return // stop on driver-fail, per spec 4.4 scheduling loop
		}
		n.DriverData = driverData
		n.SubmitAttempt++
		n.SimStart = time.Now()
		q.transition(n, func(Status) Status { return Submitted })
		submitted++
	}
}

func (q *Queue) updateFromDriver(ctx context.Context, n *Node) {
	switch n.Status {
	case Submitted, Pending, Running:
	default:
		return
	}
	ds := q.driver.Status(n.DriverData)
	switch ds {
	case DriverPending:
		q.transition(n, func(Status) Status { return Pending })
	case DriverRunning:
		q.transition(n, func(Status) Status { return Running })
	case DriverDone:
		n.SimEnd = time.Now()
		q.transition(n, func(Status) Status { return Done })
		q.resolveDoneOutcome(n)
	case DriverFailed:
		q.transition(n, func(Status) Status { return DoKillNodeFailure })
	}
}

// resolveDoneOutcome implements the post-run OK/EXIT determination (spec
// 4.4): poll for OK or EXIT with 1s granularity up to MaxOKWaitTime.
func (q *Queue) resolveDoneOutcome(n *Node) {
	deadline := time.Now().Add(q.cfg.MaxOKWaitTime)
	for {
		if q.checker.HasOK(n.RunPath) {
			q.transition(n, func(Status) Status { return Success })
			return
		}
		if q.checker.HasExit(n.RunPath) {
			q.transition(n, func(Status) Status { return Exit })
			return
		}
		if time.Now().After(deadline) {
			q.transition(n, func(Status) Status { return Exit })
			return
		}
		time.Sleep(time.Second)
	}
}

// dispatchTerminalHandlers runs the DONE/EXIT/DO_KILL_NODE_FAILURE/DO_KILL
// side effects (spec 4.4 "dispatch handlers").
func (q *Queue) dispatchTerminalHandlers(ctx context.Context, n *Node) {
	switch n.Status {
	case Success:
		q.runDoneCallback(ctx, n, true)
	case Exit:
		q.handleExit(ctx, n)
	case DoKillNodeFailure:
		// No driver.Kill invoked; the attempt is decremented so it does not
		// count against MaxSubmit, and the node short-circuits to EXIT.
		if n.SubmitAttempt > 0 {
			n.SubmitAttempt--
		}
		q.transition(n, func(Status) Status { return Exit })
		q.handleExit(ctx, n)
	case DoKill:
		// A node never submitted (still DriverData==nil, e.g. killed while
		// WAITING) has nothing to kill at the driver: skip straight to
		// IS_KILLED without invoking driver.Kill.
		if n.DriverData != nil {
			if err := q.driver.Kill(n.DriverData); err != nil {
				q.log.Warn("driver kill failed", "node", n.Name, "err", err)
			}
			q.driver.Free(n.DriverData)
		}
		q.transition(n, func(Status) Status { return IsKilled })
	}
}

func (q *Queue) runDoneCallback(ctx context.Context, n *Node, alreadyOK bool) {
	if n.Callbacks.Done == nil {
		return
	}
	if !q.callback.TryAcquire(1) {
		return // reaped opportunistically on a later turn, not eagerly
	}
	defer q.callback.Release(1)
	if !n.Callbacks.Done(ctx, n) {
		q.transition(n, func(Status) Status { return Exit })
		q.handleExit(ctx, n)
	}
}

func (q *Queue) handleExit(ctx context.Context, n *Node) {
	if n.SubmitAttempt < q.cfg.MaxSubmit {
		q.transition(n, func(Status) Status { return Waiting })
		return
	}
	retry := false
	if n.Callbacks.Retry != nil {
		if q.callback.TryAcquire(1) {
			retry = n.Callbacks.Retry(ctx, n)
			q.callback.Release(1)
		}
	}
	if retry {
		n.SubmitAttempt = 0
		q.transition(n, func(Status) Status { return Waiting })
		return
	}
	if n.Callbacks.Exit != nil {
		if q.callback.TryAcquire(1) {
			n.Callbacks.Exit(ctx, n)
			q.callback.Release(1)
		}
	}
	q.transition(n, func(Status) Status { return Failed })
}

func (q *Queue) completionPredicate(nodes []*Node, submitComplete bool) bool {
	if q.totalTarget > 0 {
		done := 0
		for _, n := range nodes {
			if n.Status.IsTerminal() {
				done++
			}
		}
		if done >= q.totalTarget {
			return true
		}
	}
	if !submitComplete {
		return false
	}
	for _, n := range nodes {
		if !n.Status.IsTerminal() {
			return false
		}
	}
	return true
}

func (q *Queue) sleepJitter() {
	span := q.cfg.UsleepMax - q.cfg.UsleepMin
	d := q.cfg.UsleepMin
	if span > 0 {
		d += time.Duration(q.rng.Int63n(int64(span)))
	}
	time.Sleep(d)
}
