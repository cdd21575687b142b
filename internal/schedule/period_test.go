package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calevents/internal/model"
)

type testUser bool

func (u testUser) Authenticated() bool { return bool(u) }

func oneOff(id int64, start, end time.Time) *model.Event {
	return &model.Event{ID: id, Title: "one-off", Start: start, End: end}
}

func TestSpan(t *testing.T) {
	t.Parallel()

	// Wednesday.
	d := date(2024, 2, 14, 15, 30)

	tests := []struct {
		name       string
		kind       Kind
		first      time.Weekday
		start, end time.Time
	}{
		{"year", Year, time.Monday, date(2024, 1, 1, 0, 0), date(2025, 1, 1, 0, 0)},
		{"month", Month, time.Monday, date(2024, 2, 1, 0, 0), date(2024, 3, 1, 0, 0)},
		{"week from monday", Week, time.Monday, date(2024, 2, 12, 0, 0), date(2024, 2, 19, 0, 0)},
		{"week from sunday", Week, time.Sunday, date(2024, 2, 11, 0, 0), date(2024, 2, 18, 0, 0)},
		{"week from wednesday", Week, time.Wednesday, date(2024, 2, 14, 0, 0), date(2024, 2, 21, 0, 0)},
		{"day", Day, time.Monday, date(2024, 2, 14, 0, 0), date(2024, 2, 15, 0, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			start, end := Span(tt.kind, d, tt.first)
			assert.True(t, start.Equal(tt.start), "start %s", start)
			assert.True(t, end.Equal(tt.end), "end %s", end)
		})
	}
}

func TestPeriod_Classify(t *testing.T) {
	t.Parallel()

	day := date(2024, 1, 8, 0, 0)
	events := []*model.Event{
		oneOff(1, date(2024, 1, 8, 22, 0), date(2024, 1, 9, 2, 0)),
		oneOff(2, date(2024, 1, 8, 10, 0), date(2024, 1, 8, 11, 0)),
		oneOff(3, date(2024, 1, 7, 0, 0), date(2024, 1, 10, 0, 0)),
		oneOff(4, date(2024, 1, 7, 22, 0), date(2024, 1, 8, 2, 0)),
	}
	p := NewDay(events, nil, day, DefaultOptions())
	require.Equal(t, Day, p.Kind)

	want := map[int64]Class{1: StartsInside, 2: Inside, 3: Spans, 4: EndsInside}
	partials := p.Partials(testUser(true))
	require.Len(t, partials, 4)
	for _, c := range partials {
		assert.Equal(t, want[c.Occurrence.EventID], c.Class, "event %d", c.Occurrence.EventID)
		assert.False(t, c.ReadOnly)
		assert.False(t, c.Recurring)
		assert.False(t, c.Persisted)
	}

	for _, c := range p.Partials(testUser(false)) {
		assert.True(t, c.ReadOnly)
	}
	for _, c := range p.Partials(nil) {
		assert.True(t, c.ReadOnly)
	}
}

func TestPeriod_ClassifyFlags(t *testing.T) {
	t.Parallel()

	ev := weeklyEvent(1, "count:3")
	cancelled := &model.Occurrence{
		ID:            5,
		EventID:       1,
		Start:         date(2024, 1, 8, 10, 0),
		End:           date(2024, 1, 8, 11, 0),
		OriginalStart: date(2024, 1, 8, 10, 0),
		OriginalEnd:   date(2024, 1, 8, 11, 0),
		Cancelled:     true,
	}

	opts := DefaultOptions()
	opts.ShowCancelled = true
	p := NewWeek([]*model.Event{ev}, []*model.Occurrence{cancelled}, date(2024, 1, 10, 0, 0), opts)

	require.Len(t, p.Occurrences(), 1)
	c, ok := p.Classify(p.Occurrences()[0], testUser(true))
	require.True(t, ok)
	assert.True(t, c.Cancelled)
	assert.True(t, c.Persisted)
	assert.True(t, c.Recurring)
	assert.Equal(t, Inside, c.Class)

	hidden := NewWeek([]*model.Event{ev}, []*model.Occurrence{cancelled}, date(2024, 1, 10, 0, 0), DefaultOptions())
	assert.False(t, hidden.HasOccurrences())
	_, ok = hidden.Classify(cancelled, testUser(true))
	assert.False(t, ok)
}

func TestPeriod_ClassifyForeignOccurrence(t *testing.T) {
	t.Parallel()

	p := NewDay([]*model.Event{weeklyEvent(1, "")}, nil, date(2024, 1, 8, 0, 0), DefaultOptions())
	foreign := &model.Occurrence{EventID: 1, Start: date(2024, 1, 15, 10, 0), End: date(2024, 1, 15, 11, 0),
		OriginalStart: date(2024, 1, 15, 10, 0), OriginalEnd: date(2024, 1, 15, 11, 0)}

	_, ok := p.Classify(foreign, testUser(true))
	assert.False(t, ok)
}

func TestPeriod_CustomPermission(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.CheckPermission = func(obj any, _ User) bool {
		occ, ok := obj.(*model.Occurrence)
		return ok && occ.EventID == 2
	}
	events := []*model.Event{
		oneOff(1, date(2024, 1, 8, 9, 0), date(2024, 1, 8, 10, 0)),
		oneOff(2, date(2024, 1, 8, 11, 0), date(2024, 1, 8, 12, 0)),
	}

	partials := NewDay(events, nil, date(2024, 1, 8, 0, 0), opts).Partials(nil)
	require.Len(t, partials, 2)
	assert.True(t, partials[0].ReadOnly)
	assert.False(t, partials[1].ReadOnly)
}

func TestPeriod_NextPrev(t *testing.T) {
	t.Parallel()

	ev := weeklyEvent(1, "")
	week := NewWeek([]*model.Event{ev}, nil, date(2024, 1, 10, 0, 0), DefaultOptions())
	require.True(t, week.Start.Equal(date(2024, 1, 8, 0, 0)))

	next := week.Next()
	assert.Equal(t, Week, next.Kind)
	assert.True(t, next.Start.Equal(date(2024, 1, 15, 0, 0)))
	assert.True(t, next.End.Equal(date(2024, 1, 22, 0, 0)))
	require.Len(t, next.Occurrences(), 1)
	assert.True(t, next.Occurrences()[0].Start.Equal(date(2024, 1, 15, 10, 0)))

	prev := week.Prev()
	assert.True(t, prev.Start.Equal(date(2024, 1, 1, 0, 0)))

	month := NewMonth(nil, nil, date(2024, 1, 31, 0, 0), DefaultOptions())
	assert.True(t, month.Next().Start.Equal(date(2024, 2, 1, 0, 0)))
	assert.True(t, month.Next().End.Equal(date(2024, 3, 1, 0, 0)))

	custom := NewPeriod(nil, nil, date(2024, 1, 1, 0, 0), date(2024, 1, 4, 0, 0), DefaultOptions())
	assert.True(t, custom.Next().Start.Equal(date(2024, 1, 4, 0, 0)))
	assert.True(t, custom.Prev().End.Equal(date(2024, 1, 1, 0, 0)))
}

func TestPeriod_Split(t *testing.T) {
	t.Parallel()

	ev := weeklyEvent(1, "")
	month := NewMonth([]*model.Event{ev}, nil, date(2024, 2, 10, 0, 0), DefaultOptions())

	days := month.Days()
	require.Len(t, days, 29)
	with := 0
	for _, d := range days {
		if d.HasOccurrences() {
			with++
		}
	}
	assert.Equal(t, 4, with)

	year := NewYear(nil, nil, date(2024, 6, 1, 0, 0), DefaultOptions())
	assert.Len(t, year.Months(), 12)
}

func TestPeriod_OccurrencesCached(t *testing.T) {
	t.Parallel()

	p := NewMonth([]*model.Event{weeklyEvent(1, "")}, nil, date(2024, 1, 1, 0, 0), DefaultOptions())
	first := p.Occurrences()
	require.NotEmpty(t, first)
	assert.Same(t, first[0], p.Occurrences()[0])
}

func TestPeriod_ClassifyMatchesByKey(t *testing.T) {
	t.Parallel()

	hourly := &model.Event{ID: 1, Start: date(2024, 1, 1, 0, 0), End: date(2024, 1, 1, 0, 30),
		Rule: &model.Rule{Frequency: model.Hourly}}
	p := NewYear([]*model.Event{hourly}, nil, date(2024, 1, 1, 0, 0), DefaultOptions())

	// One classification per occurrence of a leap year.
	assert.Len(t, p.Partials(testUser(true)), 366*24)

	// A freshly generated copy of a held occurrence is recognised.
	copied := OccurrencesIn(hourly, date(2024, 3, 1, 12, 0), date(2024, 3, 1, 13, 0))
	require.Len(t, copied, 1)
	c, ok := p.Classify(copied[0], testUser(true))
	require.True(t, ok)
	assert.Equal(t, Inside, c.Class)

	// Same merge key but a persisted id the period never produced.
	stray := *copied[0]
	stray.ID = 99
	_, ok = p.Classify(&stray, testUser(true))
	assert.False(t, ok)
}
