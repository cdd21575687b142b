// Package store keeps calendars, rules, events and persisted occurrences in a
// single YAML snapshot file.
package store

import (
	"context"
	_ "embed"
	"io/fs"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"calevents/internal/config"
	appLog "calevents/internal/log"
	"calevents/internal/model"
	"calevents/internal/recur"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidSpan  = errors.New("end must be after start")
	ErrInvalidRule  = errors.New("unknown rule frequency")
	ErrDuplicateKey = errors.New("duplicate key")
)

//go:embed default_rules.yaml
var defaultRulesYAML []byte

// Snapshot is the on-disk layout.
type Snapshot struct {
	Calendars         []*model.Calendar         `yaml:"calendars"`
	Rules             []*model.Rule             `yaml:"rules"`
	Events            []*model.Event            `yaml:"events"`
	Occurrences       []*model.Occurrence       `yaml:"occurrences"`
	EventRelations    []*model.EventRelation    `yaml:"event_relations,omitempty"`
	CalendarRelations []*model.CalendarRelation `yaml:"calendar_relations,omitempty"`
}

// EventsFunc picks the events shown for a calendar. The default returns the
// calendar's own events. It runs with the store read-locked and must treat
// snap as read-only.
type EventsFunc func(snap *Snapshot, cal *model.Calendar) []*model.Event

// Store is safe for concurrent use. Returned pointers are shared with the
// store; callers that mutate them must call SaveOccurrence or Save.
type Store struct {
	path string

	mu   sync.RWMutex
	data Snapshot

	eventsFunc EventsFunc
	now        func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithEventsFunc replaces the per-calendar event selection.
func WithEventsFunc(fn EventsFunc) Option {
	return func(s *Store) {
		if fn != nil {
			s.eventsFunc = fn
		}
	}
}

// WithClock overrides time.Now for CreatedOn stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// CalendarEvents is the default EventsFunc.
func CalendarEvents(snap *Snapshot, cal *model.Calendar) []*model.Event {
	out := make([]*model.Event, 0)
	for _, ev := range snap.Events {
		if ev.CalendarID == cal.ID {
			out = append(out, ev)
		}
	}
	return out
}

// Open loads the snapshot at path. A missing file yields an empty store that
// is created on the first Save.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{path: path, eventsFunc: CalendarEvents, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		appLog.Debug("store: no data file yet", "path", path)
	case err != nil:
		return nil, errors.Wrapf(err, "store: read %s", path)
	default:
		if err := yaml.Unmarshal(data, &s.data); err != nil {
			return nil, errors.Wrapf(err, "store: decode %s", path)
		}
	}

	s.link()
	appLog.Debug("store: loaded", "path", path,
		"calendars", len(s.data.Calendars), "events", len(s.data.Events), "occurrences", len(s.data.Occurrences))
	return s, nil
}

// link resolves the in-memory pointers that the YAML file only stores as ids.
func (s *Store) link() {
	for _, ev := range s.data.Events {
		ev.Rule = nil
		if ev.RuleID != nil {
			ev.Rule = s.ruleLocked(*ev.RuleID)
			if ev.Rule == nil {
				appLog.Error("store: event references missing rule", ErrNotFound, "event_id", ev.ID, "rule_id", *ev.RuleID)
			}
		}
	}
	for _, occ := range s.data.Occurrences {
		occ.Event = s.eventLocked(occ.EventID)
	}
}

// Save writes the snapshot atomically.
func (s *Store) Save() error {
	s.mu.RLock()
	data, err := yaml.Marshal(&s.data)
	s.mu.RUnlock()
	if err != nil {
		return errors.Wrap(err, "store: encode")
	}
	if err := config.WriteFileAtomic(s.path, ".calevents-data-*.tmp", data); err != nil {
		return errors.Wrapf(err, "store: write %s", s.path)
	}
	return nil
}

func (s *Store) Calendars() []*model.Calendar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.data.Calendars)
}

// Calendar looks a calendar up by slug.
func (s *Store) Calendar(slug string) (*model.Calendar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calendarLocked(slug)
}

func (s *Store) calendarLocked(slug string) (*model.Calendar, error) {
	for _, c := range s.data.Calendars {
		if c.Slug == slug {
			return c, nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "calendar %q", slug)
}

// AddCalendar stores cal under a fresh id. Slugs are unique.
func (s *Store) AddCalendar(cal *model.Calendar) error {
	if strings.TrimSpace(cal.Slug) == "" {
		return errors.New("store: calendar slug is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.calendarLocked(cal.Slug); err == nil {
		return errors.Wrapf(ErrDuplicateKey, "calendar %q", cal.Slug)
	}
	cal.ID = nextID(s.data.Calendars, func(c *model.Calendar) int64 { return c.ID })
	s.data.Calendars = append(s.data.Calendars, cal)
	return nil
}

// Events returns the events shown for the calendar with the given slug, or
// every event when slug is empty.
func (s *Store) Events(ctx context.Context, slug string) ([]*model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if slug == "" {
		return slices.Clone(s.data.Events), nil
	}
	cal, err := s.calendarLocked(slug)
	if err != nil {
		return nil, err
	}
	return s.eventsFunc(&s.data, cal), nil
}

// PersistedOccurrences returns the persisted rows belonging to events.
func (s *Store) PersistedOccurrences(ctx context.Context, events []*model.Event) ([]*model.Occurrence, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids := make(map[int64]bool, len(events))
	for _, ev := range events {
		ids[ev.ID] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Occurrence, 0)
	for _, occ := range s.data.Occurrences {
		if ids[occ.EventID] {
			out = append(out, occ)
		}
	}
	return out, nil
}

func (s *Store) Event(id int64) (*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ev := s.eventLocked(id); ev != nil {
		return ev, nil
	}
	return nil, errors.Wrapf(ErrNotFound, "event %d", id)
}

func (s *Store) eventLocked(id int64) *model.Event {
	for _, ev := range s.data.Events {
		if ev.ID == id {
			return ev
		}
	}
	return nil
}

// AddEvent validates ev, links its rule and stores it under a fresh id.
// Non all-day events must end after they start.
func (s *Store) AddEvent(ev *model.Event) error {
	if ev.AllDay {
		if ev.End.Before(ev.Start) {
			return errors.Wrapf(ErrInvalidSpan, "event %q", ev.Title)
		}
	} else if !ev.End.After(ev.Start) {
		return errors.Wrapf(ErrInvalidSpan, "event %q", ev.Title)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.CalendarID != 0 && !slices.ContainsFunc(s.data.Calendars, func(c *model.Calendar) bool { return c.ID == ev.CalendarID }) {
		return errors.Wrapf(ErrNotFound, "calendar %d", ev.CalendarID)
	}
	switch {
	case ev.RuleID != nil:
		ev.Rule = s.ruleLocked(*ev.RuleID)
		if ev.Rule == nil {
			return errors.Wrapf(ErrNotFound, "rule %d", *ev.RuleID)
		}
	case ev.Rule != nil:
		if ev.Rule.ID == 0 {
			if err := s.addRuleLocked(ev.Rule); err != nil {
				return err
			}
		}
		id := ev.Rule.ID
		ev.RuleID = &id
	}

	ev.ID = nextID(s.data.Events, func(e *model.Event) int64 { return e.ID })
	if ev.CreatedOn.IsZero() {
		ev.CreatedOn = s.now()
	}
	s.data.Events = append(s.data.Events, ev)
	return nil
}

// SaveOccurrence persists occ. A row that is new to the store is matched by
// (event, original start, original end) against existing rows, so saving a
// generated occurrence twice updates the same override.
func (s *Store) SaveOccurrence(occ *model.Occurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := s.eventLocked(occ.EventID)
	if ev == nil {
		return errors.Wrapf(ErrNotFound, "event %d", occ.EventID)
	}
	occ.Event = ev

	for i, existing := range s.data.Occurrences {
		sameID := occ.ID > 0 && existing.ID == occ.ID
		sameKey := occ.ID == 0 && existing.EventID == occ.EventID &&
			existing.OriginalStart.Equal(occ.OriginalStart) && existing.OriginalEnd.Equal(occ.OriginalEnd)
		if sameID || sameKey {
			occ.ID = existing.ID
			s.data.Occurrences[i] = occ
			return nil
		}
	}
	if occ.ID > 0 {
		return errors.Wrapf(ErrNotFound, "occurrence %d", occ.ID)
	}
	occ.ID = nextID(s.data.Occurrences, func(o *model.Occurrence) int64 { return o.ID })
	s.data.Occurrences = append(s.data.Occurrences, occ)
	return nil
}

func (s *Store) Rules() []*model.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.data.Rules)
}

func (s *Store) Rule(id int64) (*model.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r := s.ruleLocked(id); r != nil {
		return r, nil
	}
	return nil, errors.Wrapf(ErrNotFound, "rule %d", id)
}

func (s *Store) ruleLocked(id int64) *model.Rule {
	for _, r := range s.data.Rules {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// RuleByName matches case-insensitively.
func (s *Store) RuleByName(name string) (*model.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.data.Rules {
		if strings.EqualFold(r.Name, name) {
			return r, nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "rule %q", name)
}

// AddRule stores r under a fresh id.
func (s *Store) AddRule(r *model.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addRuleLocked(r)
}

func (s *Store) addRuleLocked(r *model.Rule) error {
	if !recur.Valid(r) {
		return errors.Wrapf(ErrInvalidRule, "rule %q: %q", r.Name, r.Frequency)
	}
	r.ID = nextID(s.data.Rules, func(r *model.Rule) int64 { return r.ID })
	s.data.Rules = append(s.data.Rules, r)
	return nil
}

// DefaultRules returns the bundled rule set.
func DefaultRules() ([]*model.Rule, error) {
	var rules []*model.Rule
	if err := yaml.Unmarshal(defaultRulesYAML, &rules); err != nil {
		return nil, errors.Wrap(err, "store: decode default rules")
	}
	return rules, nil
}

// LoadDefaultRules adds every bundled rule whose name is not taken yet and
// reports how many were added.
func (s *Store) LoadDefaultRules() (int, error) {
	rules, err := DefaultRules()
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, r := range rules {
		taken := slices.ContainsFunc(s.data.Rules, func(existing *model.Rule) bool {
			return strings.EqualFold(existing.Name, r.Name)
		})
		if taken {
			continue
		}
		if err := s.addRuleLocked(r); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// EventRelations returns the relations attached to an event.
func (s *Store) EventRelations(eventID int64) []*model.EventRelation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.EventRelation, 0)
	for _, r := range s.data.EventRelations {
		if r.EventID == eventID {
			out = append(out, r)
		}
	}
	return out
}

// AllEventRelations returns every event relation.
func (s *Store) AllEventRelations() []*model.EventRelation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.data.EventRelations)
}

func (s *Store) AddEventRelation(r *model.EventRelation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventLocked(r.EventID) == nil {
		return errors.Wrapf(ErrNotFound, "event %d", r.EventID)
	}
	r.ID = nextID(s.data.EventRelations, func(r *model.EventRelation) int64 { return r.ID })
	s.data.EventRelations = append(s.data.EventRelations, r)
	return nil
}

// CalendarRelations returns the relations attached to a calendar.
func (s *Store) CalendarRelations(calendarID int64) []*model.CalendarRelation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.CalendarRelation, 0)
	for _, r := range s.data.CalendarRelations {
		if r.CalendarID == calendarID {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store) AddCalendarRelation(r *model.CalendarRelation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.ContainsFunc(s.data.Calendars, func(c *model.Calendar) bool { return c.ID == r.CalendarID }) {
		return errors.Wrapf(ErrNotFound, "calendar %d", r.CalendarID)
	}
	r.ID = nextID(s.data.CalendarRelations, func(r *model.CalendarRelation) int64 { return r.ID })
	s.data.CalendarRelations = append(s.data.CalendarRelations, r)
	return nil
}

func nextID[T any](items []T, id func(T) int64) int64 {
	var top int64
	for _, it := range items {
		if v := id(it); v > top {
			top = v
		}
	}
	return top + 1
}
