// Package agenda keeps a rolling list of upcoming occurrences, refreshed on a
// cron schedule.
package agenda

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	appLog "calevents/internal/log"
	"calevents/internal/model"
	"calevents/internal/schedule"
)

// Source supplies events and their persisted overrides.
type Source interface {
	Events(ctx context.Context, calendar string) ([]*model.Event, error)
	PersistedOccurrences(ctx context.Context, events []*model.Event) ([]*model.Occurrence, error)
}

// Config controls one Agenda.
type Config struct {
	// Spec is a standard 5-field cron expression.
	Spec string
	// Calendar is the slug passed to Source.Events; empty means all events.
	Calendar string
	// Upcoming is how many occurrences a refresh keeps.
	Upcoming int
	Location *time.Location
	Options  schedule.Options
}

// Snapshot is the result of one refresh.
type Snapshot struct {
	RefreshedAt time.Time
	Occurrences []*model.Occurrence
}

// Agenda refreshes the next occurrences of a calendar in the background.
type Agenda struct {
	src Source
	cfg Config
	now func() time.Time

	mu   sync.RWMutex
	last Snapshot

	// OnRefresh, when set, receives every successful snapshot.
	OnRefresh func(Snapshot)
}

// New validates cfg and returns an idle Agenda.
func New(src Source, cfg Config) (*Agenda, error) {
	if src == nil {
		return nil, errors.New("agenda: source is nil")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Upcoming <= 0 {
		cfg.Upcoming = 10
	}
	if _, err := cron.ParseStandard(cfg.Spec); err != nil {
		return nil, errors.Wrapf(err, "agenda: refresh spec %q", cfg.Spec)
	}
	return &Agenda{src: src, cfg: cfg, now: time.Now}, nil
}

// Refresh recomputes the upcoming occurrences as of now.
func (a *Agenda) Refresh(ctx context.Context) (Snapshot, error) {
	events, err := a.src.Events(ctx, a.cfg.Calendar)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "agenda: load events")
	}
	persisted, err := a.src.PersistedOccurrences(ctx, events)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "agenda: load occurrences")
	}

	now := a.now().In(a.cfg.Location)
	occs := schedule.NewEventList(events, persisted, a.cfg.Options).
		OccurrencesAfter(now).
		Take(a.cfg.Upcoming)

	snap := Snapshot{RefreshedAt: now, Occurrences: occs}
	a.mu.Lock()
	a.last = snap
	a.mu.Unlock()

	appLog.Info("agenda refreshed", "calendar", a.cfg.Calendar, "events", len(events), "upcoming", len(occs))
	for _, occ := range occs {
		appLog.Debug("agenda occurrence",
			"id", schedule.EncodeID(occ),
			"title", occ.Summary(),
			"start", occ.Start.In(a.cfg.Location).Format(time.RFC3339),
			"cancelled", occ.Cancelled)
	}
	if a.OnRefresh != nil {
		a.OnRefresh(snap)
	}
	return snap, nil
}

// Upcoming returns the latest snapshot.
func (a *Agenda) Upcoming() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.last
}

// Run refreshes once immediately, then on every cron tick until ctx ends.
func (a *Agenda) Run(ctx context.Context) error {
	if _, err := a.Refresh(ctx); err != nil {
		appLog.Error("agenda initial refresh failed", err)
	}

	c := cron.New(cron.WithLocation(a.cfg.Location))
	if _, err := c.AddFunc(a.cfg.Spec, func() {
		if _, err := a.Refresh(ctx); err != nil {
			appLog.Error("agenda refresh failed", err)
		}
	}); err != nil {
		return errors.Wrapf(err, "agenda: schedule %q", a.cfg.Spec)
	}

	c.Start()
	appLog.Info("agenda started", "spec", a.cfg.Spec, "calendar", a.cfg.Calendar)

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	appLog.Info("agenda stopped")
	return nil
}
