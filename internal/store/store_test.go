package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calevents/internal/model"
)

var fixedNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data.yaml"), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return s
}

func seed(t *testing.T, s *Store) (*model.Calendar, *model.Event) {
	t.Helper()
	cal := &model.Calendar{Name: "Team", Slug: "team"}
	require.NoError(t, s.AddCalendar(cal))

	ev := &model.Event{
		CalendarID: cal.ID,
		Title:      "Standup",
		Start:      time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		End:        time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC),
		Rule:       &model.Rule{Name: "Weekly x3", Frequency: model.Weekly, Params: "count:3"},
	}
	require.NoError(t, s.AddEvent(ev))
	return cal, ev
}

func TestAddEvent(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	cal, ev := seed(t, s)

	assert.Equal(t, int64(1), ev.ID)
	require.NotNil(t, ev.RuleID)
	assert.Equal(t, ev.Rule.ID, *ev.RuleID)
	assert.Equal(t, fixedNow, ev.CreatedOn)

	events, err := s.Events(context.Background(), "team")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Same(t, ev, events[0])

	_, err = s.Events(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	bad := &model.Event{CalendarID: cal.ID, Start: ev.Start, End: ev.Start}
	assert.True(t, errors.Is(s.AddEvent(bad), ErrInvalidSpan))

	allDay := &model.Event{CalendarID: cal.ID, Start: ev.Start, End: ev.Start, AllDay: true}
	assert.NoError(t, s.AddEvent(allDay))

	orphan := &model.Event{CalendarID: 42, Start: ev.Start, End: ev.End}
	assert.True(t, errors.Is(s.AddEvent(orphan), ErrNotFound))

	missingRule := int64(99)
	assert.True(t, errors.Is(s.AddEvent(&model.Event{Start: ev.Start, End: ev.End, RuleID: &missingRule}), ErrNotFound))
}

func TestAddCalendar_DuplicateSlug(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	require.NoError(t, s.AddCalendar(&model.Calendar{Slug: "a"}))
	assert.True(t, errors.Is(s.AddCalendar(&model.Calendar{Slug: "a"}), ErrDuplicateKey))
	assert.Error(t, s.AddCalendar(&model.Calendar{Slug: " "}))
}

func TestSaveOccurrence_UpsertsByOriginalSpan(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	_, ev := seed(t, s)

	start := time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC)
	occ := &model.Occurrence{EventID: ev.ID, Start: start, End: start.Add(time.Hour), OriginalStart: start, OriginalEnd: start.Add(time.Hour)}
	occ.Cancel()
	require.NoError(t, s.SaveOccurrence(occ))
	assert.Equal(t, int64(1), occ.ID)
	assert.Same(t, ev, occ.Event)

	again := &model.Occurrence{EventID: ev.ID, Start: start, End: start.Add(time.Hour), OriginalStart: start, OriginalEnd: start.Add(time.Hour)}
	again.Move(start.Add(24*time.Hour), start.Add(25*time.Hour))
	require.NoError(t, s.SaveOccurrence(again))
	assert.Equal(t, int64(1), again.ID)

	rows, err := s.PersistedOccurrences(context.Background(), []*model.Event{ev})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Cancelled)
	assert.True(t, rows[0].Moved())

	assert.True(t, errors.Is(s.SaveOccurrence(&model.Occurrence{ID: 7, EventID: ev.ID}), ErrNotFound))
	assert.True(t, errors.Is(s.SaveOccurrence(&model.Occurrence{EventID: 99}), ErrNotFound))
}

func TestSaveAndReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sub", "data.yaml")
	s, err := Open(path)
	require.NoError(t, err)
	_, ev := seed(t, s)

	start := time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveOccurrence(&model.Occurrence{
		EventID: ev.ID, Start: start, End: start.Add(time.Hour),
		OriginalStart: start, OriginalEnd: start.Add(time.Hour), Cancelled: true,
	}))
	require.NoError(t, s.AddEventRelation(&model.EventRelation{EventID: ev.ID, Object: model.ObjectRef{Type: "blog.post", ID: 3}}))
	require.NoError(t, s.Save())

	reopened, err := Open(path)
	require.NoError(t, err)

	got, err := reopened.Event(ev.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Rule)
	assert.Equal(t, "count:3", got.Rule.Params)
	assert.True(t, got.Start.Equal(ev.Start))

	rows, err := reopened.PersistedOccurrences(context.Background(), []*model.Event{got})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Cancelled)
	assert.Same(t, got, rows[0].Event)

	rels := reopened.EventRelations(ev.ID)
	require.Len(t, rels, 1)
	assert.Equal(t, "blog.post", rels[0].Object.Type)
}

func TestLoadDefaultRules(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	defaults, err := DefaultRules()
	require.NoError(t, err)
	require.NotEmpty(t, defaults)

	added, err := s.LoadDefaultRules()
	require.NoError(t, err)
	assert.Equal(t, len(defaults), added)

	added, err = s.LoadDefaultRules()
	require.NoError(t, err)
	assert.Zero(t, added)

	weekly, err := s.RuleByName("weekly")
	require.NoError(t, err)
	assert.Equal(t, model.Weekly, weekly.Frequency)

	byID, err := s.Rule(weekly.ID)
	require.NoError(t, err)
	assert.Same(t, weekly, byID)
}

func TestAddRule_RejectsUnknownFrequency(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	assert.True(t, errors.Is(s.AddRule(&model.Rule{Name: "x", Frequency: "SOMETIMES"}), ErrInvalidRule))
}

func TestWithEventsFunc(t *testing.T) {
	t.Parallel()
	s, err := Open(filepath.Join(t.TempDir(), "data.yaml"), WithEventsFunc(func(snap *Snapshot, _ *model.Calendar) []*model.Event {
		return snap.Events
	}))
	require.NoError(t, err)
	seed(t, s)
	require.NoError(t, s.AddCalendar(&model.Calendar{Slug: "other"}))

	events, err := s.Events(context.Background(), "other")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestEvents_CancelledContext(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Events(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.PersistedOccurrences(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
