package events

import (
	"sort"
	"sync"
)

// queue is a single per-kind FIFO of buffered events, grounded on the
// teacher's internal/kernel/ingestion.go eventBuffer/bufferMu shape.
type queue struct {
	mu      sync.Mutex
	entries []TemporalEvent
}

func (q *queue) push(e TemporalEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, e)
}

// drainUpTo removes and returns every entry with SequenceNumber <= cut, in
// FIFO order, leaving newer entries (written concurrently with the flush)
// in place.
func (q *queue) drainUpTo(cut int64) []TemporalEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := 0
	for i < len(q.entries) && q.entries[i].SequenceNumber <= cut {
		i++
	}
	drained := append([]TemporalEvent(nil), q.entries[:i]...)
	q.entries = q.entries[i:]
	return drained
}

// prepend re-inserts previously drained entries at the head, preserving
// their original relative order, after a failed flush (spec.md §4.4).
func (q *queue) prepend(es []TemporalEvent) {
	if len(es) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(append([]TemporalEvent(nil), es...), q.entries...)
}

func (q *queue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *queue) maxSequence() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return 0
	}
	return q.entries[len(q.entries)-1].SequenceNumber
}

// Buffer holds the ten parallel per-kind queues spec.md §4.4 specifies, all
// ordered by one global sequence number (see accessmanager.EventSequencer).
type Buffer struct {
	queues [kindCount]*queue

	sizeHook func(kind Kind, size int)
}

// New returns an empty Buffer. sizeHook, if non-nil, is invoked after every
// Push with the new size of the touched queue — the Flush Strategy (E)
// wires itself in here to observe size-based triggers.
func New(sizeHook func(kind Kind, size int)) *Buffer {
	b := &Buffer{sizeHook: sizeHook}
	for i := range b.queues {
		b.queues[i] = &queue{}
	}
	return b
}

// Push appends e to its kind's queue and reports the new size.
func (b *Buffer) Push(e TemporalEvent) {
	k := e.Payload.Kind()
	b.queues[k].push(e)
	if b.sizeHook != nil {
		b.sizeHook(k, b.queues[k].size())
	}
}

// Sizes returns the current length of every queue, keyed by kind.
func (b *Buffer) Sizes() map[Kind]int {
	out := make(map[Kind]int, kindCount)
	for i, q := range b.queues {
		out[Kind(i)] = q.size()
	}
	return out
}

// Cut is a consistent drain point: the maximum sequence number observed
// across all queues at the moment a flush begins (spec.md §4.4).
func (b *Buffer) Cut() int64 {
	var max int64
	for _, q := range b.queues {
		if s := q.maxSequence(); s > max {
			max = s
		}
	}
	return max
}

// Drain removes every event with SequenceNumber <= cut from every queue and
// returns them merge-sorted into total order. New writes that land during
// the drain (with a sequence number beyond cut) are left untouched.
func (b *Buffer) Drain(cut int64) []TemporalEvent {
	var all []TemporalEvent
	for _, q := range b.queues {
		all = append(all, q.drainUpTo(cut)...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Less(all[j]) })
	return all
}

// Restore re-prepends a previously drained batch to each event's original
// queue, in original order, after a failed flush (spec.md §4.4).
func (b *Buffer) Restore(drained []TemporalEvent) {
	byKind := make(map[Kind][]TemporalEvent, kindCount)
	for _, e := range drained {
		k := e.Payload.Kind()
		byKind[k] = append(byKind[k], e)
	}
	for k, es := range byKind {
		sort.Slice(es, func(i, j int) bool { return es[i].Less(es[j]) })
		b.queues[k].prepend(es)
	}
}
