package scope

import (
	"sync"
	"time"

	"github.com/joeycumines/cascada/metrics"
)

// SequenceLocks holds the runtime lock-holder chain for every declared
// sequence-lock key (the `!seg1!seg2...` canonical keys the analyzer
// extracts from `!`-marked call paths). It lives on the render root
// only; compile-time validation of which keys exist and where they may
// appear is the ast package's concern (declaredVars).
//
// The teacher's sequencedCallWrap is described as an await-chain over a
// "current holder" future per key: each sequenced call publishes
// itself as the new holder and awaits the previous one. That can't be
// a plain sync.Mutex here: a wrapInAsyncBlock call (spec §4.4 point 3)
// runs its whole body, lock acquisition included, on a spawned
// goroutine, so two sequenced calls on the same key race each other to
// call Lock() and a bare mutex has no fairness guarantee matching
// submission order. Enqueue (cheap, synchronous, called from the
// compiling goroutine before the spawn) takes a strictly
// program-order-numbered ticket; Wait (which may block, called from
// inside the spawned goroutine) is the actual "await the previous
// holder" suspension point.
type SequenceLocks struct {
	mu      sync.Mutex
	chains  map[string]chan struct{}
	metrics *metrics.Metrics
}

// NewSequenceLocks returns an empty lock table.
func NewSequenceLocks() *SequenceLocks {
	return &SequenceLocks{chains: map[string]chan struct{}{}}
}

// WithMetrics attaches m so every ticket's wait time is recorded as a
// sequence-lock wait latency sample. Returns s for chaining.
func (s *SequenceLocks) WithMetrics(m *metrics.Metrics) *SequenceLocks {
	s.metrics = m
	return s
}

// Ticket is a reserved turn in key's sequence. Enqueue must be called
// in program order (synchronously, before any async spawn); Wait and
// Release may then be called from wherever the sequenced call actually
// runs.
type Ticket struct {
	locks *SequenceLocks
	prev  chan struct{} // closed by the previous ticket's Release; nil if this ticket is first
	mine  chan struct{} // closed by this ticket's own Release
	start time.Time
}

// Enqueue reserves the next turn for key, in the order Enqueue itself
// is called — this is the synchronous "publish as pending holder" half
// of the teacher's await-chain description; it never blocks.
func (s *SequenceLocks) Enqueue(key string) *Ticket {
	s.mu.Lock()
	prev := s.chains[key]
	mine := make(chan struct{})
	s.chains[key] = mine
	s.mu.Unlock()
	return &Ticket{locks: s, prev: prev, mine: mine, start: time.Now()}
}

// Wait blocks until every ticket enqueued before this one for the same
// key has released, i.e. until it is this ticket's turn to run.
func (t *Ticket) Wait() {
	if t.prev != nil {
		<-t.prev
	}
	if t.locks.metrics != nil {
		t.locks.metrics.RecordLockWait(time.Since(t.start))
	}
}

// Release hands the turn to the next ticket in line. Idempotent only
// by convention: callers must invoke it exactly once, normally via
// defer right after a successful Wait.
func (t *Ticket) Release() { close(t.mine) }

// Acquire is the synchronous convenience form: Enqueue immediately
// followed by Wait, for call sites that are not spawned onto their own
// goroutine and so need no separate pre-spawn enqueue step. Returns
// the release function.
func (s *SequenceLocks) Acquire(key string) (release func()) {
	t := s.Enqueue(key)
	t.Wait()
	return t.Release
}
