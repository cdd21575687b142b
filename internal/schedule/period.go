package schedule

import (
	"slices"
	"time"

	"calevents/internal/model"
)

// Occurrences returns the reconciled occurrences of events over [start, end),
// ordered by start, then event id, then original start. Events listed twice
// are expanded once. Persisted rows of events not in the list are ignored.
func Occurrences(events []*model.Event, persisted []*model.Occurrence, start, end time.Time, opts Options) []*model.Occurrence {
	byEvent := make(map[int64][]*model.Occurrence)
	for _, p := range persisted {
		if p != nil {
			byEvent[p.EventID] = append(byEvent[p.EventID], p)
		}
	}

	seen := make(map[int64]bool, len(events))
	lists := make([][]*model.Occurrence, 0, len(events))
	for _, ev := range events {
		if ev == nil || seen[ev.ID] {
			continue
		}
		seen[ev.ID] = true

		occs := Reconcile(OccurrencesIn(ev, start, end), NewReplacer(byEvent[ev.ID]), start, end, opts)
		// Moved rows can land anywhere in the list.
		sortOccurrences(occs)
		lists = append(lists, occs)
	}
	return mergeSorted(lists)
}

// mergeSorted merges individually sorted lists by repeatedly taking the
// smallest head.
func mergeSorted(lists [][]*model.Occurrence) []*model.Occurrence {
	total := 0
	for _, l := range lists {
		total += len(l)
	}
	out := make([]*model.Occurrence, 0, total)
	heads := make([]int, len(lists))

	for len(out) < total {
		best := -1
		for i, l := range lists {
			if heads[i] >= len(l) {
				continue
			}
			if best < 0 || compareOccurrences(l[heads[i]], lists[best][heads[best]]) < 0 {
				best = i
			}
		}
		out = append(out, lists[best][heads[best]])
		heads[best]++
	}
	return out
}

// Kind says how a Period was laid out.
type Kind int

const (
	Custom Kind = iota
	Year
	Month
	Week
	Day
)

// Class describes how an occurrence sits relative to a period.
type Class int

const (
	// StartsInside occurrences start in the period and end after it.
	StartsInside Class = 0
	// Inside occurrences start and end in the period.
	Inside Class = 1
	// Spans occurrences started before and end after the period.
	Spans Class = 2
	// EndsInside occurrences started before the period and end in it.
	EndsInside Class = 3
)

// Classification is what a presentation layer needs to draw one occurrence.
type Classification struct {
	Occurrence *model.Occurrence
	Class      Class
	Cancelled  bool
	Persisted  bool
	Recurring  bool
	ReadOnly   bool
}

// Period is a [Start, End) window over a fixed set of events. Its occurrences
// are computed on first use and cached.
type Period struct {
	Kind  Kind
	Start time.Time
	End   time.Time

	events    []*model.Event
	persisted []*model.Occurrence
	opts      Options

	occurrences []*model.Occurrence
	held        map[heldKey]struct{}
	computed    bool
}

// heldKey identifies an occurrence of the period: persisted rows by id and
// merge key, generated ones (id 0) by merge key alone.
type heldKey struct {
	id  int64
	key occurrenceKey
}

// NewPeriod returns a Custom period over [start, end).
func NewPeriod(events []*model.Event, persisted []*model.Occurrence, start, end time.Time, opts Options) *Period {
	return &Period{
		Kind:      Custom,
		Start:     start,
		End:       end,
		events:    events,
		persisted: persisted,
		opts:      opts,
	}
}

// NewYear returns the calendar year containing date, in date's location.
func NewYear(events []*model.Event, persisted []*model.Occurrence, date time.Time, opts Options) *Period {
	return newAligned(Year, events, persisted, date, opts)
}

// NewMonth returns the calendar month containing date.
func NewMonth(events []*model.Event, persisted []*model.Occurrence, date time.Time, opts Options) *Period {
	return newAligned(Month, events, persisted, date, opts)
}

// NewWeek returns the week containing date, starting on opts.FirstWeekday.
func NewWeek(events []*model.Event, persisted []*model.Occurrence, date time.Time, opts Options) *Period {
	return newAligned(Week, events, persisted, date, opts)
}

// NewDay returns the day containing date.
func NewDay(events []*model.Event, persisted []*model.Occurrence, date time.Time, opts Options) *Period {
	return newAligned(Day, events, persisted, date, opts)
}

func newAligned(kind Kind, events []*model.Event, persisted []*model.Occurrence, date time.Time, opts Options) *Period {
	start, end := Span(kind, date, opts.FirstWeekday)
	p := NewPeriod(events, persisted, start, end, opts)
	p.Kind = kind
	return p
}

// Span returns the [start, end) of the kind-sized period containing date.
// Custom returns the day containing date.
func Span(kind Kind, date time.Time, firstWeekday time.Weekday) (time.Time, time.Time) {
	y, m, d := date.Date()
	loc := date.Location()
	day := time.Date(y, m, d, 0, 0, 0, 0, loc)

	switch kind {
	case Year:
		start := time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(1, 0, 0)
	case Month:
		start := time.Date(y, m, 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 1, 0)
	case Week:
		offset := (int(day.Weekday()) - int(firstWeekday) + 7) % 7
		start := day.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7)
	default:
		return day, day.AddDate(0, 0, 1)
	}
}

// Occurrences returns the period's reconciled, ordered occurrences.
func (p *Period) Occurrences() []*model.Occurrence {
	if !p.computed {
		p.occurrences = Occurrences(p.events, p.persisted, p.Start, p.End, p.opts)
		p.held = make(map[heldKey]struct{}, len(p.occurrences))
		for _, o := range p.occurrences {
			p.held[heldKey{id: o.ID, key: keyOf(o)}] = struct{}{}
		}
		p.computed = true
	}
	return p.occurrences
}

func (p *Period) HasOccurrences() bool {
	return len(p.Occurrences()) > 0
}

// Contains reports whether t falls in [Start, End).
func (p *Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Classify places occ relative to the period. It reports false when occ is
// not one of the period's occurrences or is cancelled and hidden.
func (p *Period) Classify(occ *model.Occurrence, user User) (Classification, bool) {
	if occ == nil || (occ.Cancelled && !p.opts.ShowCancelled) {
		return Classification{}, false
	}
	if !p.holds(occ) {
		return Classification{}, false
	}

	started := p.Contains(occ.Start)
	ended := p.Contains(occ.End)
	class := Spans
	switch {
	case started && ended:
		class = Inside
	case started:
		class = StartsInside
	case ended:
		class = EndsInside
	}

	return Classification{
		Occurrence: occ,
		Class:      class,
		Cancelled:  occ.Cancelled,
		Persisted:  occ.Persisted(),
		Recurring:  p.recurring(occ),
		ReadOnly:   !p.opts.canEdit(occ, user),
	}, true
}

// Partials classifies every occurrence of the period.
func (p *Period) Partials(user User) []Classification {
	occs := p.Occurrences()
	out := make([]Classification, 0, len(occs))
	for _, occ := range occs {
		if c, ok := p.Classify(occ, user); ok {
			out = append(out, c)
		}
	}
	return out
}

// Next returns the following period of the same kind and length.
func (p *Period) Next() *Period {
	return p.shift(1)
}

// Prev returns the preceding period of the same kind and length.
func (p *Period) Prev() *Period {
	return p.shift(-1)
}

func (p *Period) shift(n int) *Period {
	var start, end time.Time
	switch p.Kind {
	case Year:
		start = p.Start.AddDate(n, 0, 0)
		end = start.AddDate(1, 0, 0)
	case Month:
		start = p.Start.AddDate(0, n, 0)
		end = start.AddDate(0, 1, 0)
	case Week:
		start = p.Start.AddDate(0, 0, 7*n)
		end = start.AddDate(0, 0, 7)
	case Day:
		start = p.Start.AddDate(0, 0, n)
		end = start.AddDate(0, 0, 1)
	default:
		length := p.End.Sub(p.Start)
		start = p.Start.Add(time.Duration(n) * length)
		end = start.Add(length)
	}
	next := NewPeriod(p.events, p.persisted, start, end, p.opts)
	next.Kind = p.Kind
	return next
}

// Days splits the period into Day periods.
func (p *Period) Days() []*Period {
	out := make([]*Period, 0)
	for d := p.Start; d.Before(p.End); d = d.AddDate(0, 0, 1) {
		out = append(out, NewDay(p.events, p.persisted, d, p.opts))
	}
	return out
}

// Months splits the period into Month periods.
func (p *Period) Months() []*Period {
	out := make([]*Period, 0)
	y, m, _ := p.Start.Date()
	for d := time.Date(y, m, 1, 0, 0, 0, 0, p.Start.Location()); d.Before(p.End); d = d.AddDate(0, 1, 0) {
		out = append(out, NewMonth(p.events, p.persisted, d, p.opts))
	}
	return out
}

func (p *Period) holds(occ *model.Occurrence) bool {
	p.Occurrences()
	_, ok := p.held[heldKey{id: occ.ID, key: keyOf(occ)}]
	return ok
}

func (p *Period) recurring(occ *model.Occurrence) bool {
	if occ.Event != nil {
		return occ.Event.Recurring()
	}
	for _, ev := range p.events {
		if ev != nil && ev.ID == occ.EventID {
			return ev.Recurring()
		}
	}
	return false
}

func sortOccurrences(occs []*model.Occurrence) {
	slices.SortStableFunc(occs, compareOccurrences)
}
