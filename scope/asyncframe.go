package scope

import (
	"context"

	"github.com/joeycumines/cascada/value"
)

// VarRef names a single cross-block read dependency: the block that
// produces the value, and the variable name within it.
type VarRef struct {
	BlockID string
	Name    string
}

// AsyncFrame is a Frame in "snapshot" state: it anchors to a point in
// its parent's timeline and tracks, for a fixed set of variable names,
// how many pending writes remain before each one's final value for this
// block is settled.
type AsyncFrame struct {
	*Frame

	scheduler *Scheduler
	blockID   string

	parentSource *Frame          // the Frame whose timeline this snapshot anchors to
	anchorRecord *timelineRecord // nil if parentSource has no prior mutation

	asyncVars     map[string]any
	writeCounters map[string]int
	deps          map[string]string // name -> producing blockID, from dependIds
	disposed      bool
}

// PushAsync creates a non-snapshot async-metadata child: it carries no
// write tracking of its own, it exists only so nested expression
// evaluation has somewhere to anchor further snapshots.
func PushAsync(parent *Frame, isolateWrites bool) *Frame {
	return parent.Push(isolateWrites, false)
}

// Snapshot creates a child AsyncFrame anchored to source's current
// timeline position. dependIds lists the (blockId, name) pairs that
// reads issued from inside this block may need to await; writeCounters
// gives the number of pending writes, keyed by variable name, this
// block itself is responsible for before its own writes settle.
func Snapshot(source *Frame, sched *Scheduler, blockID string, dependIds []VarRef, writeCounters map[string]int) *AsyncFrame {
	af := &AsyncFrame{
		Frame:         source.Push(false, true),
		scheduler:     sched,
		blockID:       blockID,
		parentSource:  source,
		asyncVars:     map[string]any{},
		writeCounters: map[string]int{},
		deps:          map[string]string{},
	}
	af.anchorRecord = source.anchor()
	for name, n := range writeCounters {
		af.writeCounters[name] = n
		if v, ok := source.valueAt(af.anchorRecord, name); ok {
			af.asyncVars[name] = v
		}
	}
	for _, dep := range dependIds {
		af.deps[dep.Name] = dep.BlockID
		sched.promiseData(dep.BlockID, dep.Name)
	}
	return af
}

// Dispose releases the snapshot's anchor. Call this once the block's
// body (and any closures it spawned) have completed.
func Dispose(af *AsyncFrame) {
	if af.disposed {
		return
	}
	af.disposed = true
	if af.anchorRecord != nil {
		af.parentSource.releaseAnchor(af.anchorRecord)
	}
}

// Lookup resolves name against the snapshot first (asyncVars, as of the
// anchor point), then the live Frame chain, then falls back to awaiting
// a cross-block promise if one is pending for this block/name. The
// returned value may be a *value.Future if the producing write hasn't
// settled yet; callers resolve it at the use site per spec §4.1.
func (af *AsyncFrame) Lookup(ctx context.Context, name string) (any, error) {
	if v, ok := af.asyncVars[name]; ok {
		return v, nil
	}
	if blockID, ok := af.deps[name]; ok {
		slot := af.scheduler.promiseData(blockID, name)
		select {
		case <-slot.ready:
			return slot.value, slot.err
		default:
			return af.awaitSlot(slot), nil
		}
	}
	if af.Frame.vars != nil {
		if v, ok := af.Frame.vars[name]; ok {
			return v, nil
		}
	}
	if v, ok := af.parentSource.valueAt(af.anchorRecord, name); ok {
		return v, nil
	}
	if af.parentSource.parent != nil {
		if v, ok := af.parentSource.parent.Lookup(name); ok {
			return v, nil
		}
	}
	af.scheduler.promisesMu.Lock()
	slot := af.scheduler.promises[af.blockID][name]
	af.scheduler.promisesMu.Unlock()
	if slot == nil {
		return nil, nil
	}
	select {
	case <-slot.ready:
		return slot.value, slot.err
	default:
		return af.awaitSlot(slot), nil
	}
}

// LookupFrom resolves name starting at cur, a Frame that may be nested
// below af.Frame by one or more plain (non-async) pushes — e.g. a
// for-loop's per-iteration loop-var frame, or an if-branch's own
// non-scope frame. Each intervening frame's own local bindings
// (Declare'd loop vars/macro params, or a `{% set %}` recorded in its
// own timeline) is checked first; only once the walk reaches af.Frame
// itself does resolution fall through to af.Lookup's anchored/awaited
// path. Without this, a plain parent walk from cur would either miss
// locally-declared names (if it deferred straight to af.Lookup) or
// race concurrent writes by reading past the snapshot boundary (if it
// fell back to cur.parent.Lookup instead of af.Lookup).
func (af *AsyncFrame) LookupFrom(ctx context.Context, cur *Frame, name string) (any, error) {
	for f := cur; f != nil && f != af.Frame; f = f.parent {
		if f.vars == nil && f.timeline == nil {
			continue
		}
		if v, ok := f.valueAt(f.timeline, name); ok {
			return v, nil
		}
	}
	return af.Lookup(ctx, name)
}

// awaitSlot returns a *value.Future that resolves once slot settles,
// without blocking the caller.
func (af *AsyncFrame) awaitSlot(slot *promiseSlot) *value.Future {
	f, resolve, reject := value.NewFuture()
	go func() {
		<-slot.ready
		if slot.err != nil {
			reject(slot.err)
			return
		}
		resolve(slot.value)
	}()
	return f
}

// Set assigns name=value within this block, decrementing its own
// writeCounters entry and, once it reaches zero, settling the
// corresponding promiseData slot so any readers unblock. The write is
// also propagated to ancestor frames that track the same name,
// respecting isolateWrites (a write does not cross an isolating
// boundary).
func (af *AsyncFrame) Set(name string, value any) {
	af.parentSource.Set(name, value, true)
	af.settleWrite(name, value, nil, false)
}

// SetError settles name's promise slot with err instead of a value,
// propagating failure to any reader awaiting it. Used when a writer
// expression itself fails.
func (af *AsyncFrame) SetError(name string, err error) {
	af.settleWrite(name, nil, err, false)
}

func (af *AsyncFrame) settleWrite(name string, v any, err error, missed bool) {
	if n, ok := af.writeCounters[name]; ok {
		n--
		af.writeCounters[name] = n
		if n <= 0 {
			af.scheduler.promiseData(af.blockID, name).settle(v, err)
			if m := af.scheduler.Metrics(); m != nil {
				if missed {
					m.MissedWriteSettled()
				} else {
					m.WriteSettled()
				}
			}
		}
	}
}

// TrackMissedAsyncWrites settles the writes that a not-taken branch
// would have performed, using varCounts (the per-variable write counts
// statically attributed to that branch) so that downstream readers of
// those promiseData slots don't block forever waiting for a write that
// will never happen. The settled value is whatever is currently visible
// for that name, i.e. the branch's "no-op" is equivalent to reading
// through.
func (af *AsyncFrame) TrackMissedAsyncWrites(varCounts map[string]int) {
	for name, n := range varCounts {
		v, _ := af.Frame.Lookup(name)
		for i := 0; i < n; i++ {
			af.settleWrite(name, v, nil, true)
		}
	}
}

// BlockID returns the identifier this snapshot's writes and reads are
// keyed under in the scheduler's promiseDataById map.
func (af *AsyncFrame) BlockID() string { return af.blockID }
