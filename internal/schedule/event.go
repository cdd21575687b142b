// Package schedule materialises event occurrences and reconciles them with
// persisted per-occurrence overrides.
package schedule

import (
	"iter"
	"time"

	appLog "calevents/internal/log"
	"calevents/internal/model"
	"calevents/internal/recur"
)

// OccurrencesIn returns the generated occurrences of ev whose span intersects
// [start, end), in ascending order. Persisted overrides are not applied.
//
// A recurring event is expanded from ev.Start and stops at the first start at
// or past end, or past ev.EndRecurringPeriod.
func OccurrencesIn(ev *model.Event, start, end time.Time) []*model.Occurrence {
	if ev == nil || !validSpan(ev) || !end.After(start) {
		return nil
	}

	dur := ev.Duration()
	next := startSequence(ev)
	out := make([]*model.Occurrence, 0)
	for {
		s, ok := next()
		if !ok || !s.Before(end) {
			break
		}
		e := s.Add(dur)
		if overlaps(s, e, start, end) {
			out = append(out, newOccurrence(ev, s, e))
		}
	}
	return out
}

// Stream lazily produces the occurrences of one event that have not ended by
// a given instant. A Stream over an unbounded rule never ends on its own.
type Stream struct {
	event *model.Event
	after time.Time
	dur   time.Duration
	next  recur.Sequence
	head  *model.Occurrence
	done  bool

	// skip drops generated instances before they become the head.
	skip func(*model.Occurrence) bool
}

// OccurrencesAfter returns a Stream over the occurrences of ev whose end is
// after the given instant.
func OccurrencesAfter(ev *model.Event, after time.Time) *Stream {
	s := &Stream{event: ev, after: after}
	if ev == nil || !validSpan(ev) {
		s.done = true
		return s
	}
	s.dur = ev.Duration()
	s.next = startSequence(ev)
	return s
}

// Event returns the event the stream expands.
func (s *Stream) Event() *model.Event {
	return s.event
}

// Peek returns the next occurrence without consuming it.
func (s *Stream) Peek() (*model.Occurrence, bool) {
	s.fill()
	return s.head, s.head != nil
}

// Next consumes and returns the next occurrence.
func (s *Stream) Next() (*model.Occurrence, bool) {
	s.fill()
	occ := s.head
	s.head = nil
	return occ, occ != nil
}

// Exhausted reports whether the stream has nothing left.
func (s *Stream) Exhausted() bool {
	s.fill()
	return s.head == nil
}

// All adapts the stream to a range-over-func iterator.
func (s *Stream) All() iter.Seq[*model.Occurrence] {
	return func(yield func(*model.Occurrence) bool) {
		for {
			occ, ok := s.Next()
			if !ok || !yield(occ) {
				return
			}
		}
	}
}

func (s *Stream) fill() {
	for s.head == nil && !s.done {
		start, ok := s.next()
		if !ok {
			s.done = true
			s.next = nil
			return
		}
		end := start.Add(s.dur)
		if !end.After(s.after) {
			continue
		}
		occ := newOccurrence(s.event, start, end)
		if s.skip != nil && s.skip(occ) {
			continue
		}
		s.head = occ
	}
}

// OccurrenceAt returns the occurrence of ev originally starting at t: the
// persisted override for that start if there is one, otherwise the generated
// occurrence when the schedule has an instance exactly at t.
func OccurrenceAt(ev *model.Event, persisted []*model.Occurrence, t time.Time) (*model.Occurrence, bool) {
	if ev == nil {
		return nil, false
	}
	for _, p := range persisted {
		if p.EventID == ev.ID && p.OriginalStart.Equal(t) {
			return p, true
		}
	}
	if !validSpan(ev) {
		return nil, false
	}

	if !recur.Valid(ev.Rule) {
		if ev.Start.Equal(t) {
			return newOccurrence(ev, ev.Start, ev.End), true
		}
		return nil, false
	}

	s, ok := recur.After(ev.Rule, ev.Start, t, true)
	if !ok || !s.Equal(t) {
		return nil, false
	}
	if ev.EndRecurringPeriod != nil && s.After(*ev.EndRecurringPeriod) {
		return nil, false
	}
	return newOccurrence(ev, s, s.Add(ev.Duration())), true
}

// startSequence yields the raw starts of ev, bounded by EndRecurringPeriod.
func startSequence(ev *model.Event) recur.Sequence {
	if !recur.Valid(ev.Rule) {
		if ev.Rule != nil {
			appLog.Debug("schedule: unknown rule frequency; treating event as one-off",
				"event_id", ev.ID, "frequency", ev.Rule.Frequency)
		}
		return single(ev.Start)
	}

	seq, err := recur.Expand(ev.Rule, ev.Start)
	if err != nil {
		appLog.Error("schedule: rule expansion failed; treating event as one-off", err, "event_id", ev.ID)
		return single(ev.Start)
	}
	if ev.EndRecurringPeriod == nil {
		return seq
	}

	bound := *ev.EndRecurringPeriod
	done := false
	return func() (time.Time, bool) {
		if done {
			return time.Time{}, false
		}
		s, ok := seq()
		if !ok || s.After(bound) {
			done = true
			return time.Time{}, false
		}
		return s, true
	}
}

func single(t time.Time) recur.Sequence {
	done := false
	return func() (time.Time, bool) {
		if done {
			return time.Time{}, false
		}
		done = true
		return t, true
	}
}

func newOccurrence(ev *model.Event, start, end time.Time) *model.Occurrence {
	return &model.Occurrence{
		EventID:       ev.ID,
		Event:         ev,
		Title:         ev.Title,
		Description:   ev.Description,
		Start:         start,
		End:           end,
		OriginalStart: start,
		OriginalEnd:   end,
		AllDay:        ev.AllDay,
	}
}

// validSpan rejects events whose end precedes their start. All-day events
// may have End == Start.
func validSpan(ev *model.Event) bool {
	if ev.AllDay {
		return !ev.End.Before(ev.Start)
	}
	return ev.End.After(ev.Start)
}

// overlaps reports whether [start, end) intersects [windowStart, windowEnd).
// A zero-length span counts as the instant start.
func overlaps(start, end, windowStart, windowEnd time.Time) bool {
	if !end.After(start) {
		return !start.Before(windowStart) && start.Before(windowEnd)
	}
	return start.Before(windowEnd) && end.After(windowStart)
}
