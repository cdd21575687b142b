package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calevents/internal/model"
)

// movedSecond overrides the 2024-01-08 instance of weeklyEvent, moving it to
// the next afternoon.
func movedSecond(eventID int64) *model.Occurrence {
	return &model.Occurrence{
		ID:            11,
		EventID:       eventID,
		Start:         date(2024, 1, 9, 14, 0),
		End:           date(2024, 1, 9, 15, 0),
		OriginalStart: date(2024, 1, 8, 10, 0),
		OriginalEnd:   date(2024, 1, 8, 11, 0),
	}
}

func TestOccurrences_MovedOverride(t *testing.T) {
	t.Parallel()

	ev := weeklyEvent(1, "count:3")
	moved := movedSecond(1)

	occs := Occurrences([]*model.Event{ev}, []*model.Occurrence{moved},
		date(2024, 1, 1, 0, 0), date(2024, 3, 1, 0, 0), DefaultOptions())

	assert.Equal(t, []time.Time{
		date(2024, 1, 1, 10, 0),
		date(2024, 1, 9, 14, 0),
		date(2024, 1, 15, 10, 0),
	}, starts(occs))
	assert.Same(t, moved, occs[1])
}

func TestOccurrences_MovedIntoWindow(t *testing.T) {
	t.Parallel()

	ev := weeklyEvent(1, "count:3")
	moved := movedSecond(1)

	occs := Occurrences([]*model.Event{ev}, []*model.Occurrence{moved},
		date(2024, 1, 9, 0, 0), date(2024, 1, 10, 0, 0), DefaultOptions())

	require.Len(t, occs, 1)
	assert.Same(t, moved, occs[0])
}

func TestOccurrences_MovedOutOfWindow(t *testing.T) {
	t.Parallel()

	ev := weeklyEvent(1, "count:3")

	occs := Occurrences([]*model.Event{ev}, []*model.Occurrence{movedSecond(1)},
		date(2024, 1, 8, 0, 0), date(2024, 1, 9, 0, 0), DefaultOptions())

	assert.Empty(t, occs)
}

func TestOccurrences_OverrideAppearsOnce(t *testing.T) {
	t.Parallel()

	ev := weeklyEvent(1, "count:3")
	moved := movedSecond(1)

	// Both the original and the moved span fall in the window.
	occs := Occurrences([]*model.Event{ev}, []*model.Occurrence{moved},
		date(2024, 1, 8, 0, 0), date(2024, 1, 10, 0, 0), DefaultOptions())

	require.Len(t, occs, 1)
	assert.Same(t, moved, occs[0])
}

func TestOccurrences_Cancelled(t *testing.T) {
	t.Parallel()

	ev := weeklyEvent(1, "count:3")
	cancelled := &model.Occurrence{
		ID:            12,
		EventID:       1,
		Start:         date(2024, 1, 8, 10, 0),
		End:           date(2024, 1, 8, 11, 0),
		OriginalStart: date(2024, 1, 8, 10, 0),
		OriginalEnd:   date(2024, 1, 8, 11, 0),
		Cancelled:     true,
	}
	from, to := date(2024, 1, 1, 0, 0), date(2024, 3, 1, 0, 0)

	hidden := Occurrences([]*model.Event{ev}, []*model.Occurrence{cancelled}, from, to, DefaultOptions())
	assert.Equal(t, []time.Time{date(2024, 1, 1, 10, 0), date(2024, 1, 15, 10, 0)}, starts(hidden))

	opts := DefaultOptions()
	opts.ShowCancelled = true
	shown := Occurrences([]*model.Event{ev}, []*model.Occurrence{cancelled}, from, to, opts)
	require.Len(t, shown, 3)
	assert.True(t, shown[1].Cancelled)
	assert.Same(t, cancelled, shown[1])
}

func TestOccurrences_OrphanedOverrideOnlySurfacesWhenInWindow(t *testing.T) {
	t.Parallel()

	ev := weeklyEvent(1, "count:3")
	// Persisted against a schedule that ran at 09:00.
	orphan := &model.Occurrence{
		ID:            13,
		EventID:       1,
		Start:         date(2024, 1, 8, 9, 0),
		End:           date(2024, 1, 8, 10, 0),
		OriginalStart: date(2024, 1, 8, 9, 0),
		OriginalEnd:   date(2024, 1, 8, 10, 0),
	}

	occs := Occurrences([]*model.Event{ev}, []*model.Occurrence{orphan},
		date(2024, 1, 8, 0, 0), date(2024, 1, 9, 0, 0), DefaultOptions())

	assert.Equal(t, []time.Time{date(2024, 1, 8, 9, 0), date(2024, 1, 8, 10, 0)}, starts(occs))
}

func TestOccurrences_MultipleEventsOrdered(t *testing.T) {
	t.Parallel()

	a := weeklyEvent(2, "count:2")
	b := &model.Event{
		ID:    1,
		Start: date(2024, 1, 1, 10, 0),
		End:   date(2024, 1, 1, 10, 30),
		Rule:  &model.Rule{Frequency: model.Daily, Params: "count:3"},
	}

	occs := Occurrences([]*model.Event{a, b, a}, nil,
		date(2024, 1, 1, 0, 0), date(2024, 2, 1, 0, 0), DefaultOptions())

	require.Len(t, occs, 5)
	assert.Equal(t, int64(1), occs[0].EventID, "ties break on event id")
	assert.Equal(t, int64(2), occs[1].EventID)
	for i := 1; i < len(occs); i++ {
		assert.False(t, occs[i].Start.Before(occs[i-1].Start))
	}
}

func TestOccurrences_IgnoresPersistedOfOtherEvents(t *testing.T) {
	t.Parallel()

	ev := weeklyEvent(1, "count:3")
	stray := movedSecond(99)

	occs := Occurrences([]*model.Event{ev}, []*model.Occurrence{stray},
		date(2024, 1, 1, 0, 0), date(2024, 3, 1, 0, 0), DefaultOptions())

	assert.Len(t, occs, 3)
	for _, o := range occs {
		assert.Equal(t, int64(1), o.EventID)
	}
}

func TestReplacer(t *testing.T) {
	t.Parallel()

	moved := movedSecond(1)
	r := NewReplacer([]*model.Occurrence{moved, nil})
	require.Equal(t, 1, r.Len())

	generated := &model.Occurrence{
		EventID:       1,
		Start:         date(2024, 1, 8, 10, 0),
		End:           date(2024, 1, 8, 11, 0),
		OriginalStart: date(2024, 1, 8, 10, 0),
		OriginalEnd:   date(2024, 1, 8, 11, 0),
	}
	other := &model.Occurrence{
		EventID:       1,
		OriginalStart: date(2024, 1, 15, 10, 0),
		OriginalEnd:   date(2024, 1, 15, 11, 0),
	}

	assert.True(t, r.Has(generated))
	assert.False(t, r.Has(other))
	assert.Same(t, other, r.Get(other))

	assert.Same(t, moved, r.Get(generated))
	assert.False(t, r.Has(generated), "claimed rows are handed out once")
	assert.Same(t, generated, r.Get(generated))
	assert.Zero(t, r.Len())
	assert.Empty(t, r.Additional(date(2024, 1, 1, 0, 0), date(2025, 1, 1, 0, 0), true))
}
