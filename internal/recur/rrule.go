package recur

import (
	"time"

	"github.com/pkg/errors"
	"github.com/teambition/rrule-go"

	"calevents/internal/model"
)

// FromRRule converts an RFC 5545 RRULE value (e.g. "FREQ=WEEKLY;COUNT=3;BYDAY=MO")
// into the frequency and params of a model.Rule. UNTIL is returned separately
// because it maps onto Event.EndRecurringPeriod.
//
// WKST and per-weekday ordinals other than a single "nth weekday" have no
// equivalent in the params grammar and are dropped.
func FromRRule(value string) (model.Frequency, string, *time.Time, error) {
	opt, err := rrule.StrToROption(value)
	if err != nil {
		return "", "", nil, errors.Wrapf(err, "parse rrule %q", value)
	}

	var freq model.Frequency
	for f, rf := range frequencies {
		if rf == opt.Freq {
			freq = f
			break
		}
	}
	if freq == "" {
		return "", "", nil, errors.Wrapf(ErrUnknownFrequency, "rrule %q", value)
	}

	params := Params{}
	if opt.Interval > 1 {
		params["interval"] = []int{opt.Interval}
	}
	if opt.Count > 0 {
		params["count"] = []int{opt.Count}
	}
	set := func(name string, values []int) {
		if len(values) > 0 {
			params[name] = values
		}
	}
	set("bysetpos", opt.Bysetpos)
	set("bymonth", opt.Bymonth)
	set("bymonthday", opt.Bymonthday)
	set("byyearday", opt.Byyearday)
	set("byweekno", opt.Byweekno)
	set("byhour", opt.Byhour)
	set("byminute", opt.Byminute)
	set("bysecond", opt.Bysecond)
	set("byeaster", opt.Byeaster)

	days := make([]int, 0, len(opt.Byweekday))
	for _, wd := range opt.Byweekday {
		days = append(days, wd.Day())
	}
	set("byweekday", days)
	// "1MO" style ordinals: only a lone weekday can be expressed via bysetpos.
	if len(opt.Byweekday) == 1 && opt.Byweekday[0].N() != 0 && len(opt.Bysetpos) == 0 {
		params["bysetpos"] = []int{opt.Byweekday[0].N()}
	}

	var until *time.Time
	if !opt.Until.IsZero() {
		u := opt.Until
		until = &u
	}
	return freq, params.String(), until, nil
}
