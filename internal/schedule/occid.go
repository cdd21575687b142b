package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"calevents/internal/model"
)

const occurrenceTimeLayout = "20060102150405"

// OccurrenceRef is a decoded occurrence id. Persisted occurrences are
// addressed by OccurrenceID; generated ones by their start (UTC, seconds).
type OccurrenceRef struct {
	EventID      int64
	OccurrenceID int64
	Start        time.Time
}

// Persisted reports whether the ref names a persisted row.
func (r OccurrenceRef) Persisted() bool {
	return r.OccurrenceID > 0
}

// EncodeID returns "E<event>_ID<occurrence>" for persisted occurrences and
// "E<event>_ST<yyyymmddhhmmss>" (UTC) for generated ones.
func EncodeID(occ *model.Occurrence) string {
	if occ.Persisted() {
		return fmt.Sprintf("E%d_ID%d", occ.EventID, occ.ID)
	}
	return fmt.Sprintf("E%d_ST%s", occ.EventID, occ.Start.UTC().Format(occurrenceTimeLayout))
}

// DecodeID reverses EncodeID. Malformed ids report false.
func DecodeID(id string) (OccurrenceRef, bool) {
	var ref OccurrenceRef

	eventPart, occPart, ok := strings.Cut(strings.TrimSpace(id), "_")
	if !ok {
		return ref, false
	}
	rawEvent, ok := strings.CutPrefix(eventPart, "E")
	if !ok {
		return ref, false
	}
	eventID, err := strconv.ParseInt(rawEvent, 10, 64)
	if err != nil || eventID <= 0 {
		return ref, false
	}
	ref.EventID = eventID

	if rawID, ok := strings.CutPrefix(occPart, "ID"); ok {
		occID, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil || occID <= 0 {
			return OccurrenceRef{}, false
		}
		ref.OccurrenceID = occID
		return ref, true
	}

	rawStart, ok := strings.CutPrefix(occPart, "ST")
	if !ok || len(rawStart) != len(occurrenceTimeLayout) {
		return OccurrenceRef{}, false
	}
	start, err := time.ParseInLocation(occurrenceTimeLayout, rawStart, time.UTC)
	if err != nil {
		return OccurrenceRef{}, false
	}
	ref.Start = start
	return ref, true
}

// Resolve maps ref back onto an occurrence of one of events, consulting
// persisted for overrides.
func Resolve(ref OccurrenceRef, events []*model.Event, persisted []*model.Occurrence) (*model.Occurrence, bool) {
	var ev *model.Event
	for _, e := range events {
		if e != nil && e.ID == ref.EventID {
			ev = e
			break
		}
	}
	if ev == nil {
		return nil, false
	}

	if ref.Persisted() {
		for _, p := range persisted {
			if p.ID == ref.OccurrenceID && p.EventID == ref.EventID {
				return p, true
			}
		}
		return nil, false
	}
	return OccurrenceAt(ev, persisted, ref.Start)
}
