package schedule

import (
	"container/heap"
	"iter"
	"time"

	"calevents/internal/model"
)

// EventList answers questions about a group of events taken together.
type EventList struct {
	events    []*model.Event
	persisted []*model.Occurrence
	opts      Options
}

func NewEventList(events []*model.Event, persisted []*model.Occurrence, opts Options) *EventList {
	return &EventList{events: events, persisted: persisted, opts: opts}
}

// OccurrencesAfter merges every event into one lazy sequence of occurrences
// that have not ended by after, ordered by effective start. Persisted rows
// enter the merge at their current time, in place of the instances they
// override, so a moved occurrence comes out where it now sits. With an
// unbounded rule the sequence never ends; stop pulling when done.
func (l *EventList) OccurrencesAfter(after time.Time) *Merged {
	listed := make(map[int64]bool, len(l.events))
	for _, ev := range l.events {
		if ev != nil {
			listed[ev.ID] = true
		}
	}

	overrides := make(map[occurrenceKey]*model.Occurrence)
	for _, p := range l.persisted {
		if p != nil && listed[p.EventID] {
			overrides[keyOf(p)] = p
		}
	}
	skip := func(occ *model.Occurrence) bool {
		_, ok := overrides[keyOf(occ)]
		return ok
	}

	m := &Merged{}
	for _, ev := range l.events {
		if ev == nil {
			continue
		}
		s := OccurrencesAfter(ev, after)
		s.skip = skip
		m.streams = append(m.streams, s)
	}
	for _, p := range l.persisted {
		if p == nil || overrides[keyOf(p)] != p {
			continue
		}
		if p.Cancelled && !l.opts.ShowCancelled {
			continue
		}
		if p.End.After(after) {
			m.rows = append(m.rows, p)
		}
	}
	return m
}

// Merged is a k-way merge of per-event streams and the persisted rows that
// replace some of their instances.
type Merged struct {
	streams []*Stream
	rows    []*model.Occurrence
	queue   streamQueue
	pending *queued
	started bool
}

// Next returns the next occurrence, or false once everything is drained.
func (m *Merged) Next() (*model.Occurrence, bool) {
	if !m.started {
		m.started = true
		for i, s := range m.streams {
			if !s.Exhausted() {
				heap.Push(&m.queue, queued{stream: s, order: i})
			}
		}
		for i, p := range m.rows {
			heap.Push(&m.queue, queued{row: p, order: len(m.streams) + i})
		}
	}

	// The stream popped last time is only advanced on the following pull.
	if m.pending != nil {
		if !m.pending.stream.Exhausted() {
			heap.Push(&m.queue, *m.pending)
		}
		m.pending = nil
	}
	if m.queue.Len() == 0 {
		return nil, false
	}

	q := heap.Pop(&m.queue).(queued)
	if q.row != nil {
		return q.row, true
	}
	occ, _ := q.stream.Next()
	m.pending = &q
	return occ, true
}

// Take pulls at most n occurrences.
func (m *Merged) Take(n int) []*model.Occurrence {
	out := make([]*model.Occurrence, 0, n)
	for len(out) < n {
		occ, ok := m.Next()
		if !ok {
			break
		}
		out = append(out, occ)
	}
	return out
}

// All adapts the merge to a range-over-func iterator.
func (m *Merged) All() iter.Seq[*model.Occurrence] {
	return func(yield func(*model.Occurrence) bool) {
		for {
			occ, ok := m.Next()
			if !ok || !yield(occ) {
				return
			}
		}
	}
}

// queued is either a stream, keyed on its head, or a single persisted row.
type queued struct {
	stream *Stream
	row    *model.Occurrence
	order  int
}

func (q queued) head() *model.Occurrence {
	if q.row != nil {
		return q.row
	}
	occ, _ := q.stream.Peek()
	return occ
}

// streamQueue is a min-heap on effective start; ties go to the lower event
// id, then to the earlier entry.
type streamQueue []queued

func (q streamQueue) Len() int { return len(q) }

func (q streamQueue) Less(i, j int) bool {
	a, b := q[i].head(), q[j].head()
	if c := a.Start.Compare(b.Start); c != 0 {
		return c < 0
	}
	if a.EventID != b.EventID {
		return a.EventID < b.EventID
	}
	return q[i].order < q[j].order
}

func (q streamQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *streamQueue) Push(x any) { *q = append(*q, x.(queued)) }

func (q *streamQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
