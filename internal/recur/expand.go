package recur

import (
	"time"

	"github.com/pkg/errors"
	"github.com/teambition/rrule-go"

	appLog "calevents/internal/log"
	"calevents/internal/model"
)

// ErrUnknownFrequency is returned for rules whose frequency is not one of
// model.Frequencies. Callers treat such events as non-repeating.
var ErrUnknownFrequency = errors.New("recur: unknown frequency")

// Sequence yields start times in ascending order until ok is false.
// Each call to Expand returns a fresh Sequence.
type Sequence func() (start time.Time, ok bool)

var frequencies = map[model.Frequency]rrule.Frequency{
	model.Yearly:   rrule.YEARLY,
	model.Monthly:  rrule.MONTHLY,
	model.Weekly:   rrule.WEEKLY,
	model.Daily:    rrule.DAILY,
	model.Hourly:   rrule.HOURLY,
	model.Minutely: rrule.MINUTELY,
	model.Secondly: rrule.SECONDLY,
}

var weekdays = [...]rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}

// Expand returns the lazy start sequence of rule anchored at dtstart.
// The sequence is infinite unless the rule carries a count.
func Expand(rule *model.Rule, dtstart time.Time) (Sequence, error) {
	r, err := newRRule(rule, dtstart)
	if err != nil {
		return nil, err
	}
	return Sequence(r.Iterator()), nil
}

// After returns the first start of rule at or after t (strictly after when
// inclusive is false).
func After(rule *model.Rule, dtstart, t time.Time, inclusive bool) (time.Time, bool) {
	r, err := newRRule(rule, dtstart)
	if err != nil {
		return time.Time{}, false
	}
	next := r.After(t, inclusive)
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

// Option builds the rrule-go option set for rule. Parameters rrule-go cannot
// represent are left out.
func Option(rule *model.Rule, dtstart time.Time) (rrule.ROption, error) {
	if rule == nil {
		return rrule.ROption{}, errors.New("recur: nil rule")
	}
	freq, ok := frequencies[rule.Frequency]
	if !ok {
		return rrule.ROption{}, errors.Wrapf(ErrUnknownFrequency, "rule %q frequency %q", rule.Name, rule.Frequency)
	}

	params := ParseParams(rule.Params)
	opt := rrule.ROption{
		Freq:       freq,
		Dtstart:    dtstart,
		Bysetpos:   params["bysetpos"],
		Bymonth:    params["bymonth"],
		Bymonthday: params["bymonthday"],
		Byyearday:  params["byyearday"],
		Byweekno:   params["byweekno"],
		Byhour:     params["byhour"],
		Byminute:   params["byminute"],
		Bysecond:   params["bysecond"],
		Byeaster:   params["byeaster"],
	}
	if n, ok := params.Int("interval"); ok {
		opt.Interval = n
	}
	if n, ok := params.Int("count"); ok {
		opt.Count = n
	}
	for _, d := range params["byweekday"] {
		opt.Byweekday = append(opt.Byweekday, weekdays[d])
	}
	return opt, nil
}

func newRRule(rule *model.Rule, dtstart time.Time) (*rrule.RRule, error) {
	opt, err := Option(rule, dtstart)
	if err != nil {
		return nil, err
	}

	r, err := rrule.NewRRule(opt)
	if err == nil {
		return r, nil
	}

	// Fall back to the bare frequency rather than dropping the event.
	appLog.Error("recur: rule parameters rejected; using bare frequency", err,
		"rule", rule.Name,
		"frequency", rule.Frequency,
		"params", rule.Params,
	)
	r, err = rrule.NewRRule(rrule.ROption{Freq: opt.Freq, Dtstart: dtstart})
	if err != nil {
		return nil, errors.Wrapf(err, "rule %q", rule.Name)
	}
	return r, nil
}

// Valid reports whether rule can be expanded at all.
func Valid(rule *model.Rule) bool {
	if rule == nil {
		return false
	}
	_, ok := frequencies[rule.Frequency]
	return ok
}
