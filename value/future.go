package value

import (
	"context"
	"sync"
)

// FutureState mirrors the lifecycle of a pending computation, named after
// the Pending/Resolved/Rejected states of eventloop.PromiseState.
type FutureState int32

const (
	FuturePending FutureState = iota
	FutureResolved
	FutureRejected
)

// ResolveFunc fulfills a Future with a value. Calling it on an
// already-settled Future has no effect. Safe to call from any goroutine.
type ResolveFunc func(Value)

// RejectFunc fails a Future with a reason. Calling it on an
// already-settled Future has no effect. Safe to call from any goroutine.
type RejectFunc func(error)

// Future is a not-yet-resolved computation that yields exactly one Value
// (spec.md's invariant (a): a Future never directly contains a Future).
// It is the Go-native restatement of a promise: awaiting it is a blocking
// receive on a channel that every settlement path closes exactly once.
type Future struct {
	mu     sync.Mutex
	state  FutureState
	result Value
	err    error
	done   chan struct{}
}

// NewFuture creates a pending Future along with the functions that settle
// it. Mirrors eventloop.NewChainedPromise's three-return shape.
func NewFuture() (*Future, ResolveFunc, RejectFunc) {
	f := &Future{done: make(chan struct{})}
	return f, f.resolve, f.reject
}

func (f *Future) resolve(v Value) { f.settle(FutureResolved, v, nil) }
func (f *Future) reject(err error) { f.settle(FutureRejected, nil, err) }

func (f *Future) settle(state FutureState, v Value, err error) {
	f.mu.Lock()
	if f.state != FuturePending {
		f.mu.Unlock()
		return
	}
	f.state = state
	f.result = v
	f.err = err
	close(f.done)
	f.mu.Unlock()
}

// State returns the current FutureState. Safe for concurrent use.
func (f *Future) State() FutureState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Wait blocks until the Future settles (or ctx is cancelled), returning
// the fulfilled Value or the transport-level rejection error. A poisoned
// ErrorValue fulfillment is returned as a normal Value, not as the error
// return — only a genuine scheduling failure (cancellation, a rejected
// Future) surfaces through the error return.
func (f *Future) Wait(ctx context.Context) (Value, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		v, err, st := f.result, f.err, f.state
		f.mu.Unlock()
		if st == FutureRejected {
			return nil, err
		}
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolved returns an already-settled Future holding v. Useful for
// adapting synchronous results to call sites that expect a Future.
func Resolved(v Value) *Future {
	f, resolve, _ := NewFuture()
	resolve(v)
	return f
}

// Rejected returns an already-settled, failed Future.
func Rejected(err error) *Future {
	f, _, reject := NewFuture()
	reject(err)
	return f
}
