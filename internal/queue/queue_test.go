package queue

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeDriver drives nodes straight to DriverDone on the first Status poll
// after Submit, recording Kill calls for idempotence checks.
type fakeDriver struct {
	mu        sync.Mutex
	submitted map[string]int
	killed    map[string]int
	fail      map[string]bool // submit returns this node straight to DriverFailed
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{submitted: map[string]int{}, killed: map[string]int{}, fail: map[string]bool{}}
}

func (d *fakeDriver) Submit(ctx context.Context, n *Node) (any, error) {
	d.mu.Lock()
	d.submitted[n.Name]++
	d.mu.Unlock()
	return n.Name, nil
}

func (d *fakeDriver) Status(driverData any) DriverStatus {
	name, _ := driverData.(string)
	d.mu.Lock()
	fail := d.fail[name]
	d.mu.Unlock()
	if fail {
		return DriverFailed
	}
	return DriverDone
}

func (d *fakeDriver) Kill(driverData any) error {
	name, _ := driverData.(string)
	d.mu.Lock()
	d.killed[name]++
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) Free(driverData any) {}

// memChecker lets tests control OK/EXIT presence without touching disk.
type memChecker struct {
	mu   sync.Mutex
	ok   map[string]bool
	exit map[string]bool
}

func newMemChecker() *memChecker {
	return &memChecker{ok: map[string]bool{}, exit: map[string]bool{}}
}
func (c *memChecker) HasOK(p string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ok[p]
}
func (c *memChecker) HasExit(p string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exit[p]
}
func (c *memChecker) setOK(p string)   { c.mu.Lock(); c.ok[p] = true; c.mu.Unlock() }
func (c *memChecker) setExit(p string) { c.mu.Lock(); c.exit[p] = true; c.mu.Unlock() }

// P6: after Run returns (completion predicate met), every node is terminal.
func TestP6QueueTerminality(t *testing.T) {
	driver := newFakeDriver()
	checker := newMemChecker()
	q := New(driver, WithOKExitChecker(checker), WithTotalTarget(2))

	id1, _ := q.AddJob(&Node{Name: "a", RunPath: "a"})
	id2, _ := q.AddJob(&Node{Name: "b", RunPath: "b"})
	checker.setOK("a")
	checker.setOK("b")
	q.SetSubmitComplete()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Run(ctx); err != nil {
		t.Fatal(err)
	}

	for _, id := range []int{id1, id2} {
		st, _ := q.Status(id)
		if !st.IsTerminal() {
			t.Fatalf("node %d not terminal: %v", id, st)
		}
	}
}

// Scenario 5: first submit writes EXIT, retry_callback returns true -> must
// reach SUCCESS on second run, submit_attempt resets to 1 between tries.
func TestScenarioJobRetry(t *testing.T) {
	driver := newFakeDriver()
	checker := newMemChecker()
	q := New(driver, WithOKExitChecker(checker), WithTotalTarget(1))

	var attempts []int
	n := &Node{
		Name:    "job",
		RunPath: "job",
		Callbacks: Callbacks{
			Retry: func(ctx context.Context, n *Node) bool {
				attempts = append(attempts, n.SubmitAttempt)
				return true
			},
		},
	}
	q.cfg.MaxSubmit = 1 // exhaust after first attempt so retry_callback is consulted
	id, _ := q.AddJob(n)
	checker.setExit("job") // first run: EXIT

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go func() {
		time.Sleep(100 * time.Millisecond)
		checker.mu.Lock()
		delete(checker.exit, "job")
		checker.mu.Unlock()
		checker.setOK("job") // second run: OK
	}()

	if err := q.Run(ctx); err != nil {
		t.Fatal(err)
	}
	st, _ := q.Status(id)
	if st != Success {
		t.Fatalf("expected SUCCESS, got %v", st)
	}
	if len(attempts) == 0 {
		t.Fatal("expected retry callback to run")
	}
}

// Scenario 6: DO_KILL issued while WAITING transitions directly to
// IS_KILLED without invoking driver.Kill.
func TestScenarioKillRespectsState(t *testing.T) {
	driver := newFakeDriver()
	q := New(driver)
	id, _ := q.AddJob(&Node{Name: "job", RunPath: "job"})

	if err := q.Kill(id); err != nil {
		t.Fatal(err)
	}
	st, _ := q.Status(id)
	if st != IsKilled {
		t.Fatalf("expected IS_KILLED directly, got %v", st)
	}
	driver.mu.Lock()
	killed := driver.killed["job"]
	driver.mu.Unlock()
	if killed != 0 {
		t.Fatal("driver.Kill must not be invoked for a node killed while WAITING")
	}
}

// P7: repeated kill requests yield the same final status.
func TestP7KillIdempotent(t *testing.T) {
	driver := newFakeDriver()
	q := New(driver)
	id, _ := q.AddJob(&Node{Name: "job", RunPath: "job"})
	for i := 0; i < 3; i++ {
		if err := q.Kill(id); err != nil {
			t.Fatal(err)
		}
	}
	st, _ := q.Status(id)
	if st != IsKilled {
		t.Fatalf("expected IS_KILLED, got %v", st)
	}
}

// P8: status counts sum to job-list size at every observed snapshot.
func TestP8StatusCountConsistency(t *testing.T) {
	driver := newFakeDriver()
	q := New(driver)
	for i := 0; i < 5; i++ {
		q.AddJob(&Node{Name: string(rune('a' + i)), RunPath: "x"})
	}
	counts := q.Counts()
	var sum int
	for _, c := range counts {
		sum += c
	}
	if sum != 5 {
		t.Fatalf("counts sum to %d, want 5", sum)
	}
}

func TestRunPanicsOnConcurrentManager(t *testing.T) {
	driver := newFakeDriver()
	checker := newMemChecker()
	q := New(driver, WithOKExitChecker(checker))
	q.AddJob(&Node{Name: "a", RunPath: "a"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go func() {
		close(started)
		q.Run(ctx)
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on concurrent Run")
		}
		cancel()
	}()
	_ = q.Run(context.Background())
}
