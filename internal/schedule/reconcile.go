package schedule

import (
	"slices"
	"time"

	"calevents/internal/model"
)

// occurrenceKey is the merge key of an occurrence: its event and original span.
type occurrenceKey struct {
	eventID    int64
	start, end int64
}

func keyOf(o *model.Occurrence) occurrenceKey {
	return occurrenceKey{
		eventID: o.EventID,
		start:   o.OriginalStart.UnixNano(),
		end:     o.OriginalEnd.UnixNano(),
	}
}

// Replacer swaps generated occurrences for the persisted rows that override
// them. Each persisted row is handed out at most once.
type Replacer struct {
	lookup map[occurrenceKey]*model.Occurrence
}

// NewReplacer indexes persisted by (event, original start, original end).
// A later row with the same key wins.
func NewReplacer(persisted []*model.Occurrence) *Replacer {
	lookup := make(map[occurrenceKey]*model.Occurrence, len(persisted))
	for _, p := range persisted {
		if p == nil {
			continue
		}
		lookup[keyOf(p)] = p
	}
	return &Replacer{lookup: lookup}
}

// Has reports whether an unclaimed persisted row overrides occ.
func (r *Replacer) Has(occ *model.Occurrence) bool {
	_, ok := r.lookup[keyOf(occ)]
	return ok
}

// Get returns the persisted row overriding occ and claims it, or occ itself.
func (r *Replacer) Get(occ *model.Occurrence) *model.Occurrence {
	k := keyOf(occ)
	if p, ok := r.lookup[k]; ok {
		delete(r.lookup, k)
		return p
	}
	return occ
}

// Len is the number of unclaimed rows.
func (r *Replacer) Len() int {
	return len(r.lookup)
}

// Additional returns the unclaimed rows whose current span intersects
// [start, end): occurrences moved into the window from elsewhere. Cancelled
// rows are left out unless showCancelled is set.
func (r *Replacer) Additional(start, end time.Time, showCancelled bool) []*model.Occurrence {
	out := make([]*model.Occurrence, 0)
	for _, p := range r.lookup {
		if p.Cancelled && !showCancelled {
			continue
		}
		if overlaps(p.Start, p.End, start, end) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, compareOccurrences)
	return out
}

// Reconcile merges the generated occurrences of one event over [start, end)
// with the persisted rows held by r.
//
// A matched row replaces its generated occurrence and is kept only while its
// current span still intersects the window. Unmatched rows that now fall in
// the window are appended. Original spans are never re-derived, so rows
// persisted against an older schedule stay unmatched and only surface here.
func Reconcile(generated []*model.Occurrence, r *Replacer, start, end time.Time, opts Options) []*model.Occurrence {
	out := make([]*model.Occurrence, 0, len(generated))
	for _, occ := range generated {
		if !r.Has(occ) {
			out = append(out, occ)
			continue
		}
		p := r.Get(occ)
		if p.Cancelled && !opts.ShowCancelled {
			continue
		}
		if overlaps(p.Start, p.End, start, end) {
			out = append(out, p)
		}
	}
	return append(out, r.Additional(start, end, opts.ShowCancelled)...)
}

// compareOccurrences orders by start, then event, then original start.
func compareOccurrences(a, b *model.Occurrence) int {
	if c := a.Start.Compare(b.Start); c != 0 {
		return c
	}
	switch {
	case a.EventID < b.EventID:
		return -1
	case a.EventID > b.EventID:
		return 1
	}
	if c := a.OriginalStart.Compare(b.OriginalStart); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}
