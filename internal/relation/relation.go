// Package relation attaches content owned elsewhere in an application to
// events and calendars, and looks that content up by schedule.
package relation

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	appLog "calevents/internal/log"
	"calevents/internal/model"
	"calevents/internal/schedule"
)

var (
	ErrNotAllowed  = errors.New("relation model not allowed")
	ErrUnknownType = errors.New("no resolver for type")
)

// Resolver loads the object an ObjectRef points at.
type Resolver interface {
	Resolve(ctx context.Context, id int64) (any, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, id int64) (any, error)

func (f ResolverFunc) Resolve(ctx context.Context, id int64) (any, error) {
	return f(ctx, id)
}

// Registry maps "app.model" type tags onto resolvers, restricted to the tags
// configured for events and calendars.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver

	eventModels    map[string]bool
	calendarModels map[string]bool
}

// NewRegistry allows the given event and calendar relation models.
func NewRegistry(eventModels, calendarModels []string) *Registry {
	return &Registry{
		resolvers:      make(map[string]Resolver),
		eventModels:    tagSet(eventModels),
		calendarModels: tagSet(calendarModels),
	}
}

func tagSet(tags []string) map[string]bool {
	out := make(map[string]bool, len(tags))
	for _, t := range tags {
		out[normalize(t)] = true
	}
	return out
}

func normalize(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// Register installs r for typeTag, replacing any previous resolver.
func (reg *Registry) Register(typeTag string, r Resolver) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.resolvers[normalize(typeTag)] = r
}

// EventModelAllowed reports whether typeTag may be attached to events.
func (reg *Registry) EventModelAllowed(typeTag string) bool {
	return reg.eventModels[normalize(typeTag)]
}

// CalendarModelAllowed reports whether typeTag may be attached to calendars.
func (reg *Registry) CalendarModelAllowed(typeTag string) bool {
	return reg.calendarModels[normalize(typeTag)]
}

func (reg *Registry) resolve(ctx context.Context, ref model.ObjectRef) (any, error) {
	reg.mu.RLock()
	r, ok := reg.resolvers[normalize(ref.Type)]
	reg.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownType, "%q", ref.Type)
	}
	obj, err := r.Resolve(ctx, ref.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s#%d", ref.Type, ref.ID)
	}
	return obj, nil
}

// ResolveEvent loads the object behind an event relation.
func (reg *Registry) ResolveEvent(ctx context.Context, rel *model.EventRelation) (any, error) {
	if !reg.EventModelAllowed(rel.Object.Type) {
		return nil, errors.Wrapf(ErrNotAllowed, "event relation %q", rel.Object.Type)
	}
	return reg.resolve(ctx, rel.Object)
}

// ResolveCalendar loads the object behind a calendar relation.
func (reg *Registry) ResolveCalendar(ctx context.Context, rel *model.CalendarRelation) (any, error) {
	if !reg.CalendarModelAllowed(rel.Object.Type) {
		return nil, errors.Wrapf(ErrNotAllowed, "calendar relation %q", rel.Object.Type)
	}
	return reg.resolve(ctx, rel.Object)
}

// Content is one resolved object scheduled on a day.
type Content struct {
	Relation *model.EventRelation
	Object   any
}

// ScheduledContent returns the objects of type typeTag related to events
// that have an occurrence starting on the day containing day. Overrides in
// persisted move or cancel occurrences as usual. Results follow event id,
// then relation id; each relation appears once however often its event
// occurs that day.
func (reg *Registry) ScheduledContent(
	ctx context.Context,
	day time.Time,
	typeTag string,
	events []*model.Event,
	persisted []*model.Occurrence,
	relations []*model.EventRelation,
	opts schedule.Options,
) ([]Content, error) {
	if !reg.EventModelAllowed(typeTag) {
		return nil, errors.Wrapf(ErrNotAllowed, "event relation %q", typeTag)
	}

	period := schedule.NewDay(events, persisted, day, opts)
	scheduled := make(map[int64]bool)
	for _, occ := range period.Occurrences() {
		if period.Contains(occ.Start) {
			scheduled[occ.EventID] = true
		}
	}

	picked := make([]*model.EventRelation, 0)
	for _, rel := range relations {
		if rel != nil && scheduled[rel.EventID] && normalize(rel.Object.Type) == normalize(typeTag) {
			picked = append(picked, rel)
		}
	}
	sort.SliceStable(picked, func(i, j int) bool {
		if picked[i].EventID != picked[j].EventID {
			return picked[i].EventID < picked[j].EventID
		}
		return picked[i].ID < picked[j].ID
	})

	out := make([]Content, 0, len(picked))
	for _, rel := range picked {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		obj, err := reg.resolve(ctx, rel.Object)
		if err != nil {
			return nil, err
		}
		out = append(out, Content{Relation: rel, Object: obj})
	}
	appLog.Debug("relation: scheduled content", "day", period.Start.Format(time.DateOnly), "type", typeTag, "count", len(out))
	return out, nil
}
