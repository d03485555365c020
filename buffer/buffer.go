package buffer

import (
	"context"
	"sync"

	"github.com/joeycumines/cascada/value"
)

// Buffer is an ordered, append-only array of output slots. A slot is
// reserved synchronously (Reserve) at the point the emitted program
// decides a sub-computation's output belongs at a given position, and
// filled in later (FillString, FillFuture or FillBuffer), possibly from
// another goroutine, once that
// sub-computation resolves.
type Buffer struct {
	mu    sync.Mutex
	slots []slot
}

type slotKind int

const (
	slotString slotKind = iota
	slotFuture
	slotBuffer
	slotMarker
)

type slot struct {
	kind   slotKind
	str    string
	future *value.Future
	nested *Buffer
	marker value.SafeMarker
}

// New returns an empty Buffer.
func New() *Buffer { return &Buffer{} }

// WriteString appends a resolved string directly.
func (b *Buffer) WriteString(s string) {
	b.mu.Lock()
	b.slots = append(b.slots, slot{kind: slotString, str: s})
	b.mu.Unlock()
}

// WriteValue appends a resolved Value, applying SuppressValue semantics
// unless it is a raw TemplateData-style pass-through handled by the
// caller.
func (b *Buffer) WriteValue(v value.Value, autoescape bool) {
	b.WriteString(value.SuppressValue(v, autoescape))
}

// Reserve allocates a slot index synchronously and returns it; the caller
// must later fill idx exactly once with FillString, FillFuture or
// FillBuffer. This is how an async block
// claims its position in output order before its body has even started
// running.
func (b *Buffer) Reserve() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.slots = append(b.slots, slot{kind: slotFuture})
	return len(b.slots) - 1
}

// FillString fills a previously reserved slot with a resolved string.
func (b *Buffer) FillString(idx int, s string) {
	b.mu.Lock()
	b.slots[idx] = slot{kind: slotString, str: s}
	b.mu.Unlock()
}

// FillFuture fills a previously reserved slot with a *value.Future; the
// string is produced lazily, at Flatten time, by awaiting it.
func (b *Buffer) FillFuture(idx int, f *value.Future) {
	b.mu.Lock()
	b.slots[idx] = slot{kind: slotFuture, future: f}
	b.mu.Unlock()
}

// FillBuffer fills a previously reserved slot with a nested Buffer
// (spliced output, e.g. from `include`).
func (b *Buffer) FillBuffer(idx int, nested *Buffer) {
	b.mu.Lock()
	b.slots[idx] = slot{kind: slotBuffer, nested: nested}
	b.mu.Unlock()
}

// AppendBuffer appends a nested Buffer at a newly reserved slot.
func (b *Buffer) AppendBuffer(nested *Buffer) {
	b.mu.Lock()
	b.slots = append(b.slots, slot{kind: slotBuffer, nested: nested})
	b.mu.Unlock()
}

// AppendMarker appends a SafeMarker sentinel: at flatten time, the
// accumulated-so-far string is handed to it and its return value becomes
// the new accumulator. This is how `safe`/`escape`/`ensureDefined`
// interpose without blocking earlier slots.
func (b *Buffer) AppendMarker(fn value.SafeMarker) {
	b.mu.Lock()
	b.slots = append(b.slots, slot{kind: slotMarker, marker: fn})
	b.mu.Unlock()
}

// Len reports the number of slots currently reserved or filled.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.slots)
}

// Flatten performs a single left-to-right reduce of the slot tree into a
// plain string, awaiting any pending futures and threading SafeMarker
// entries through the running accumulator. It must be called exactly
// once per render root, after the scheduler's closure count has reached
// zero, and is O(n) in total slot count (tail-recursive over nesting).
func Flatten(ctx context.Context, b *Buffer) (string, error) {
	var acc string
	b.mu.Lock()
	slots := append([]slot(nil), b.slots...)
	b.mu.Unlock()

	for _, s := range slots {
		switch s.kind {
		case slotString:
			acc += s.str
		case slotFuture:
			if s.future == nil {
				continue
			}
			v, err := s.future.Wait(ctx)
			if err != nil {
				return "", err
			}
			acc += flattenValue(v)
		case slotBuffer:
			nested, err := Flatten(ctx, s.nested)
			if err != nil {
				return "", err
			}
			acc += nested
		case slotMarker:
			var err error
			acc, err = s.marker(acc)
			if err != nil {
				return "", err
			}
		}
	}
	return acc, nil
}

// flattenValue renders a resolved Value (which may itself be a
// BufferFragment, e.g. a macro's returned SafeString-wrapped fragment)
// into plain text, without re-escaping Safe content.
func flattenValue(v value.Value) string {
	switch vv := v.(type) {
	case string:
		return vv
	case value.Safe:
		return string(vv)
	case value.BufferFragment:
		var acc string
		for _, item := range vv {
			acc += flattenValue(item)
		}
		return acc
	default:
		return value.FormatScalar(v)
	}
}
