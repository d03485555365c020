package scope

import (
	"sync"

	"github.com/joeycumines/cascada/logging"
	"github.com/joeycumines/cascada/metrics"
)

// Scheduler tracks the number of spawned async closures still in flight
// (the "closure count") and owns the shared promiseDataById map, keyed
// first by block id then by variable name, through which cross-block
// reads are satisfied once their writer settles. It is shared by every
// AsyncFrame descended from one render root, the same way eventloop's
// Loop is shared by every Promise spawned against it.
type closureCounter struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending int
}

func newClosureCounter() *closureCounter {
	c := &closureCounter{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

type Scheduler struct {
	opts *schedulerOptions

	counter *closureCounter

	promisesMu sync.Mutex
	promises   map[string]map[string]*promiseSlot
}

// NewScheduler returns a Scheduler for one render root.
func NewScheduler(opts ...Option) *Scheduler {
	return &Scheduler{
		opts:     resolveOptions(opts),
		counter:  newClosureCounter(),
		promises: map[string]map[string]*promiseSlot{},
	}
}

// Logger returns the scheduler's configured logger.
func (s *Scheduler) Logger() logging.Logger { return s.opts.logger }

// Metrics returns the scheduler's configured *metrics.Metrics, or nil
// if none was attached via WithMetrics.
func (s *Scheduler) Metrics() *metrics.Metrics { return s.opts.metrics }

// Delay invokes the configured DelayHook (if any) for blockID, letting
// a test pin down interleaving before a spawned closure's body runs.
func (s *Scheduler) Delay(blockID string) {
	if s.opts.delay != nil {
		s.opts.delay(blockID)
	}
}

// EnterAsyncBlock records the start of a spawned closure.
func (s *Scheduler) EnterAsyncBlock() {
	s.counter.mu.Lock()
	s.counter.pending++
	s.counter.mu.Unlock()
	if s.opts.metrics != nil {
		s.opts.metrics.EnterAsyncBlock()
	}
}

// LeaveAsyncBlock records the completion of a spawned closure, waking
// any WaitAllClosures callers whose threshold is now satisfied.
func (s *Scheduler) LeaveAsyncBlock() {
	s.counter.mu.Lock()
	s.counter.pending--
	s.counter.cond.Broadcast()
	s.counter.mu.Unlock()
	if s.opts.metrics != nil {
		s.opts.metrics.LeaveAsyncBlock()
	}
}

// WaitAllClosures blocks until the pending closure count is <= n. n=0 is
// the root render's "wait for everything" call, also made by a ForAsyncAll
// loop and by Capture. A sequential for loop does not call it between
// iterations.
func (s *Scheduler) WaitAllClosures(n int) {
	s.counter.mu.Lock()
	for s.counter.pending > n {
		s.counter.cond.Wait()
	}
	s.counter.mu.Unlock()
}

// promiseSlot is one lazily-materialized cross-block read dependency:
// a future the readers await, plus the resolver the eventual writer
// (or trackMissedAsyncWrites) calls exactly once.
type promiseSlot struct {
	ready    chan struct{}
	once     sync.Once
	value    any
	err      error
}

func newPromiseSlot() *promiseSlot {
	return &promiseSlot{ready: make(chan struct{})}
}

func (p *promiseSlot) settle(value any, err error) {
	p.once.Do(func() {
		p.value, p.err = value, err
		close(p.ready)
	})
}

// promiseData returns (materializing if absent) the promiseSlot for
// (blockID, name).
func (s *Scheduler) promiseData(blockID, name string) *promiseSlot {
	s.promisesMu.Lock()
	defer s.promisesMu.Unlock()
	byName, ok := s.promises[blockID]
	if !ok {
		byName = map[string]*promiseSlot{}
		s.promises[blockID] = byName
	}
	slot, ok := byName[name]
	if !ok {
		slot = newPromiseSlot()
		byName[name] = slot
	}
	return slot
}

// Reenter returns a Scheduler sharing this one's options and closure
// counter but with an isolated promiseDataById map, used when an async
// block recursively re-enters itself (spec §5 "Reentry") so the inner
// activation's reads don't collide with the outer activation's pending
// slots. If reentrant isolation is disabled, s is returned unchanged.
func (s *Scheduler) Reenter() *Scheduler {
	if !s.opts.reenterIsolated {
		return s
	}
	return &Scheduler{
		opts:     s.opts,
		counter:  s.counter,
		promises: map[string]map[string]*promiseSlot{},
	}
}
