package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"calevents/internal/model"
	"calevents/internal/schedule"
)

// ProductID is written to every exported VCALENDAR.
const ProductID = "-//calevents//calevents//EN"

// Export renders occurrences as a VCALENDAR feed named name. Each occurrence
// is its own VEVENT whose UID is the occurrence id, so re-exports of the same
// instance keep their identity. Cancelled occurrences carry STATUS:CANCELLED.
func Export(name string, occurrences []*model.Occurrence, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(ProductID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	stamp := now.UTC()
	for _, occ := range occurrences {
		if occ == nil {
			continue
		}
		ve := cal.AddEvent(UID(occ))
		ve.SetDtStampTime(stamp)

		if occ.AllDay {
			end := occ.End
			if !end.After(occ.Start) {
				end = occ.Start.AddDate(0, 0, 1)
			}
			ve.SetAllDayStartAt(occ.Start)
			ve.SetAllDayEndAt(end)
		} else {
			ve.SetStartAt(occ.Start)
			ve.SetEndAt(occ.End)
		}

		ve.SetSummary(occ.Summary())
		if desc := occ.Details(); desc != "" {
			ve.SetDescription(desc)
		}
		if occ.Cancelled {
			ve.SetStatus(ical.ObjectStatusCancelled)
		}
	}
	return cal.Serialize()
}

// UID is the VEVENT UID of an exported occurrence.
func UID(occ *model.Occurrence) string {
	return schedule.EncodeID(occ) + "@calevents"
}
