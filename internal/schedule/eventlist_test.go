package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calevents/internal/model"
)

func TestEventList_OccurrencesAfterMergesInOrder(t *testing.T) {
	t.Parallel()

	weekly := weeklyEvent(1, "count:2")
	far := oneOff(2, date(2024, 6, 1, 9, 0), date(2024, 6, 1, 10, 0))

	got := NewEventList([]*model.Event{far, weekly}, nil, DefaultOptions()).
		OccurrencesAfter(date(2023, 12, 31, 0, 0)).
		Take(10)

	assert.Equal(t, []time.Time{
		date(2024, 1, 1, 10, 0),
		date(2024, 1, 8, 10, 0),
		date(2024, 6, 1, 9, 0),
	}, starts(got))
}

func TestEventList_InfiniteRulesAreLazy(t *testing.T) {
	t.Parallel()

	a := &model.Event{ID: 1, Start: date(2024, 1, 1, 8, 0), End: date(2024, 1, 1, 9, 0),
		Rule: &model.Rule{Frequency: model.Daily}}
	b := &model.Event{ID: 2, Start: date(2024, 1, 1, 12, 0), End: date(2024, 1, 1, 13, 0),
		Rule: &model.Rule{Frequency: model.Hourly, Params: "interval:6"}}

	m := NewEventList([]*model.Event{a, b}, nil, DefaultOptions()).OccurrencesAfter(date(2024, 1, 1, 0, 0))
	got := m.Take(3)

	require.Len(t, got, 3)
	assert.Equal(t, []time.Time{
		date(2024, 1, 1, 8, 0),
		date(2024, 1, 1, 12, 0),
		date(2024, 1, 1, 18, 0),
	}, starts(got))

	// The merge keeps going where it left off.
	next, ok := m.Next()
	require.True(t, ok)
	assert.True(t, next.Start.Equal(date(2024, 1, 2, 0, 0)))
}

func TestEventList_AppliesOverrides(t *testing.T) {
	t.Parallel()

	ev := weeklyEvent(1, "count:3")
	moved := movedSecond(1)
	cancelled := &model.Occurrence{
		ID:            20,
		EventID:       1,
		Start:         date(2024, 1, 15, 10, 0),
		End:           date(2024, 1, 15, 11, 0),
		OriginalStart: date(2024, 1, 15, 10, 0),
		OriginalEnd:   date(2024, 1, 15, 11, 0),
		Cancelled:     true,
	}
	persisted := []*model.Occurrence{moved, cancelled}

	got := NewEventList([]*model.Event{ev}, persisted, DefaultOptions()).
		OccurrencesAfter(date(2024, 1, 1, 0, 0)).
		Take(10)
	require.Len(t, got, 2)
	assert.Same(t, moved, got[1])

	opts := DefaultOptions()
	opts.ShowCancelled = true
	all := NewEventList([]*model.Event{ev}, persisted, opts).OccurrencesAfter(date(2024, 1, 1, 0, 0)).Take(10)
	require.Len(t, all, 3)
	assert.Same(t, cancelled, all[2])
}

func TestEventList_Empty(t *testing.T) {
	t.Parallel()

	m := NewEventList(nil, nil, DefaultOptions()).OccurrencesAfter(date(2024, 1, 1, 0, 0))
	_, ok := m.Next()
	assert.False(t, ok)
	assert.Empty(t, m.Take(5))
}

func TestMerged_All(t *testing.T) {
	t.Parallel()

	ev := &model.Event{ID: 1, Start: date(2024, 1, 1, 0, 0), End: date(2024, 1, 1, 1, 0),
		Rule: &model.Rule{Frequency: model.Daily}}
	m := NewEventList([]*model.Event{ev}, nil, DefaultOptions()).OccurrencesAfter(date(2024, 1, 1, 0, 0))

	n := 0
	for occ := range m.All() {
		assert.True(t, occ.Start.Equal(date(2024, 1, 1+n, 0, 0)))
		n++
		if n == 5 {
			break
		}
	}
	assert.Equal(t, 5, n)
}

func TestEventList_MovedOccurrenceTakesItsNewPlace(t *testing.T) {
	t.Parallel()

	ev := weeklyEvent(1, "count:4")
	forward := &model.Occurrence{
		ID:            30,
		EventID:       1,
		Start:         date(2024, 2, 1, 10, 0),
		End:           date(2024, 2, 1, 11, 0),
		OriginalStart: date(2024, 1, 8, 10, 0),
		OriginalEnd:   date(2024, 1, 8, 11, 0),
	}
	persisted := []*model.Occurrence{forward}
	list := NewEventList([]*model.Event{ev}, persisted, DefaultOptions())

	got := list.OccurrencesAfter(date(2023, 12, 31, 0, 0)).Take(10)
	assert.Equal(t, []time.Time{
		date(2024, 1, 1, 10, 0),
		date(2024, 1, 15, 10, 0),
		date(2024, 1, 22, 10, 0),
		date(2024, 2, 1, 10, 0),
	}, starts(got))
	assert.Same(t, forward, got[3])

	window := Occurrences([]*model.Event{ev}, persisted, date(2023, 12, 31, 0, 0), date(2024, 3, 1, 0, 0), DefaultOptions())
	assert.Equal(t, starts(window), starts(got))
}

func TestEventList_MovedPastAfterIsYielded(t *testing.T) {
	t.Parallel()

	ev := weeklyEvent(1, "count:4")
	late := &model.Occurrence{
		ID:            31,
		EventID:       1,
		Start:         date(2024, 1, 20, 10, 0),
		End:           date(2024, 1, 20, 11, 0),
		OriginalStart: date(2024, 1, 1, 10, 0),
		OriginalEnd:   date(2024, 1, 1, 11, 0),
	}
	// A row for an event outside the list stays out of the merge.
	other := &model.Occurrence{ID: 32, EventID: 7, Start: date(2024, 1, 10, 0, 0), End: date(2024, 1, 10, 1, 0),
		OriginalStart: date(2024, 1, 9, 0, 0), OriginalEnd: date(2024, 1, 9, 1, 0)}

	got := NewEventList([]*model.Event{ev}, []*model.Occurrence{late, other}, DefaultOptions()).
		OccurrencesAfter(date(2024, 1, 5, 0, 0)).
		Take(10)
	assert.Equal(t, []time.Time{
		date(2024, 1, 8, 10, 0),
		date(2024, 1, 15, 10, 0),
		date(2024, 1, 20, 10, 0),
		date(2024, 1, 22, 10, 0),
	}, starts(got))
}

func TestEventList_TakeEvaluatesOneHeadPerStream(t *testing.T) {
	t.Parallel()

	events := []*model.Event{
		{ID: 1, Start: date(2024, 1, 1, 8, 0), End: date(2024, 1, 1, 9, 0), Rule: &model.Rule{Frequency: model.Daily}},
		{ID: 2, Start: date(2024, 1, 1, 9, 0), End: date(2024, 1, 1, 10, 0), Rule: &model.Rule{Frequency: model.Daily}},
		{ID: 3, Start: date(2024, 1, 1, 10, 0), End: date(2024, 1, 1, 11, 0), Rule: &model.Rule{Frequency: model.Daily}},
	}
	m := NewEventList(events, nil, DefaultOptions()).OccurrencesAfter(date(2024, 1, 1, 0, 0))

	pulls := make([]int, len(m.streams))
	for i, s := range m.streams {
		next := s.next
		s.next = func() (time.Time, bool) {
			pulls[i]++
			return next()
		}
	}

	got := m.Take(1)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].EventID)
	assert.Equal(t, []int{1, 1, 1}, pulls)

	// The popped stream advances only when the next value is asked for.
	got = m.Take(1)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].EventID)
	assert.Equal(t, []int{2, 1, 1}, pulls)
}
