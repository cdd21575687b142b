package ics

import (
	"bytes"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/pkg/errors"

	appLog "calevents/internal/log"
	"calevents/internal/model"
	"calevents/internal/recur"
)

// ImportedEvent is one VEVENT series: the master event plus the overrides
// found for it (RECURRENCE-ID instances, EXDATEs and cancelled instances).
// Ids are left zero; the store assigns them.
type ImportedEvent struct {
	UID       string
	Event     *model.Event
	Overrides []*model.Occurrence
}

// Parse converts an ICS payload into events and overrides.
//
// Floating date-times (no TZID, no trailing Z) are read in loc. VEVENTs that
// cannot be used are logged and skipped; the rest of the payload still loads.
// An RRULE that does not map onto a rule leaves the event as a one-off.
func Parse(src Source, body []byte, loc *time.Location) ([]*ImportedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.UTC
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, errors.Wrap(err, "ics: parse calendar")
	}

	masters := make(map[string]*ImportedEvent)
	order := make([]string, 0)
	instances := make([]*ical.VEvent, 0)

	for _, ve := range cal.Events() {
		if ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")) != nil {
			instances = append(instances, ve)
			continue
		}
		imp, perr := parseMaster(ve, loc)
		if perr != nil {
			appLog.Error("ics vevent skipped", perr, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		if _, dup := masters[imp.UID]; dup {
			appLog.Debug("ics duplicate uid; keeping first", "id", src.ID, "uid", imp.UID)
			continue
		}
		masters[imp.UID] = imp
		order = append(order, imp.UID)
	}

	for _, ve := range instances {
		if perr := attachInstance(masters, ve, loc); perr != nil {
			appLog.Error("ics override skipped", perr, "id", src.ID, "url", redactURL(src.URL))
		}
	}

	out := make([]*ImportedEvent, 0, len(order))
	overrides := 0
	for _, uid := range order {
		imp := masters[uid]
		sort.SliceStable(imp.Overrides, func(i, j int) bool {
			return imp.Overrides[i].OriginalStart.Before(imp.Overrides[j].OriginalStart)
		})
		overrides += len(imp.Overrides)
		out = append(out, imp)
	}

	appLog.Info("ics parse completed", "id", src.ID, "url", redactURL(src.URL),
		"event_count", len(out), "override_count", overrides)
	return out, nil
}

func parseMaster(ve *ical.VEvent, loc *time.Location) (*ImportedEvent, error) {
	uid := propValue(ve, ical.ComponentPropertyUniqueId)
	if uid == "" {
		return nil, errors.New("missing UID")
	}

	start, allDay, err := eventTime(ve, ical.ComponentPropertyDtStart, loc)
	if err != nil {
		return nil, errors.Wrapf(err, "uid %s: DTSTART", uid)
	}
	end, _, err := eventTime(ve, ical.ComponentPropertyDtEnd, loc)
	if err != nil {
		// RFC 5545: no DTEND means one day for dates, zero length otherwise.
		end = start
		if allDay {
			end = start.AddDate(0, 0, 1)
		}
	}
	if end.Before(start) || (!allDay && !end.After(start)) {
		return nil, errors.Errorf("uid %s: end %s is not after start %s", uid, end, start)
	}

	ev := &model.Event{
		Title:       unescapeText(propValue(ve, ical.ComponentPropertySummary)),
		Description: unescapeText(propValue(ve, ical.ComponentPropertyDescription)),
		Start:       start,
		End:         end,
		AllDay:      allDay,
	}
	imp := &ImportedEvent{UID: uid, Event: ev}

	if raw := propValue(ve, ical.ComponentPropertyRrule); raw != "" {
		freq, params, until, rerr := recur.FromRRule(raw)
		if rerr != nil {
			appLog.Error("ics rrule ignored; importing as one-off", rerr, "uid", uid)
		} else {
			ev.Rule = &model.Rule{
				Name:        "Imported " + strings.ToLower(string(freq)),
				Description: raw,
				Frequency:   freq,
				Params:      params,
			}
			ev.EndRecurringPeriod = until
		}
	}

	// EXDATEs become cancelled overrides of the instances they remove.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, terr := parseICSTime(part, tzParam(p), loc)
			if terr != nil {
				appLog.Debug("ics exdate ignored", "uid", uid, "value", part, "err", terr)
				continue
			}
			occ := overrideFor(ev, t)
			occ.Cancel()
			imp.Overrides = append(imp.Overrides, occ)
		}
	}
	return imp, nil
}

// attachInstance turns a RECURRENCE-ID VEVENT into a persisted override of
// its master's instance.
func attachInstance(masters map[string]*ImportedEvent, ve *ical.VEvent, loc *time.Location) error {
	uid := propValue(ve, ical.ComponentPropertyUniqueId)
	imp, ok := masters[uid]
	if !ok {
		return errors.Errorf("uid %q: no master event", uid)
	}

	ridProp := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID"))
	rid, err := parseICSTime(ridProp.Value, tzParam(ridProp), loc)
	if err != nil {
		return errors.Wrapf(err, "uid %s: RECURRENCE-ID", uid)
	}

	occ := overrideFor(imp.Event, rid)
	if start, _, serr := eventTime(ve, ical.ComponentPropertyDtStart, loc); serr == nil {
		occ.Start = start
		occ.End = start.Add(imp.Event.Duration())
	}
	if end, _, eerr := eventTime(ve, ical.ComponentPropertyDtEnd, loc); eerr == nil && !end.Before(occ.Start) {
		occ.End = end
	}
	if title := unescapeText(propValue(ve, ical.ComponentPropertySummary)); title != imp.Event.Title {
		occ.Title = title
	}
	if desc := unescapeText(propValue(ve, ical.ComponentPropertyDescription)); desc != imp.Event.Description {
		occ.Description = desc
	}
	if strings.EqualFold(propValue(ve, ical.ComponentPropertyStatus), string(ical.ObjectStatusCancelled)) {
		occ.Cancel()
	}

	// A RECURRENCE-ID instance replaces an EXDATE on the same start.
	for i, existing := range imp.Overrides {
		if existing.OriginalStart.Equal(occ.OriginalStart) {
			imp.Overrides[i] = occ
			return nil
		}
	}
	imp.Overrides = append(imp.Overrides, occ)
	return nil
}

// overrideFor builds an override of ev's instance originally starting at t.
// Title and Description are left empty so they inherit from the event.
func overrideFor(ev *model.Event, t time.Time) *model.Occurrence {
	end := t.Add(ev.Duration())
	return &model.Occurrence{
		Start:         t,
		End:           end,
		OriginalStart: t,
		OriginalEnd:   end,
		AllDay:        ev.AllDay,
	}
}

// eventTime reads DTSTART/DTEND, reporting whether the value is a DATE.
func eventTime(ve *ical.VEvent, prop ical.ComponentProperty, loc *time.Location) (time.Time, bool, error) {
	p := ve.GetProperty(prop)
	if p == nil || strings.TrimSpace(p.Value) == "" {
		return time.Time{}, false, errors.Errorf("missing %s", prop)
	}

	allDay := !strings.Contains(p.Value, "T")
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		allDay = true
	}

	t, err := parseICSTime(p.Value, tzParam(p), loc)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, allDay, nil
}

func propValue(ve *ical.VEvent, prop ical.ComponentProperty) string {
	if p := ve.GetProperty(prop); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

func tzParam(p *ical.IANAProperty) string {
	if p == nil {
		return ""
	}
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		return tzs[0]
	}
	return ""
}

// parseICSTime parses DATE and DATE-TIME values. UTC values end in Z; a
// TZID names the zone of local values; anything else is floating and read
// in loc.
func parseICSTime(v, tzid string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		return t, errors.Wrapf(err, "time %q", v)
	}

	if tzid != "" {
		zone, err := time.LoadLocation(strings.Trim(tzid, `"`))
		if err != nil {
			appLog.Debug("ics unknown TZID; using default zone", "tzid", tzid)
		} else {
			loc = zone
		}
	}

	layout := "20060102"
	if strings.Contains(v, "T") {
		layout = "20060102T150405"
	}
	t, err := time.ParseInLocation(layout, v, loc)
	return t, errors.Wrapf(err, "time %q", v)
}

var textUnescaper = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)

func unescapeText(s string) string {
	return textUnescaper.Replace(s)
}
