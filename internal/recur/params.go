// Package recur turns Rule definitions into lazily generated start times.
package recur

import (
	"strconv"
	"strings"
)

// Params is the parsed form of Rule.Params. Single-valued parameters
// (interval, count) hold exactly one element.
type Params map[string][]int

// ParamNames lists the recognised parameters in canonical order.
var ParamNames = []string{
	"interval",
	"count",
	"bysetpos",
	"bymonth",
	"bymonthday",
	"byyearday",
	"byweekno",
	"byweekday",
	"byhour",
	"byminute",
	"bysecond",
	"byeaster",
}

// WeekdayTokens maps RRULE weekday names onto 0 (Monday) .. 6 (Sunday).
// Tokens are upper case only.
var WeekdayTokens = map[string]int{"MO": 0, "TU": 1, "WE": 2, "TH": 3, "FR": 4, "SA": 5, "SU": 6}

var weekdayNames = [...]string{"MO", "TU", "WE", "TH", "FR", "SA", "SU"}

type paramSpec struct {
	single   bool
	min, max int
	nonZero  bool
	weekdays bool
}

var paramSpecs = map[string]paramSpec{
	"interval":   {single: true, min: 1, max: 1 << 30},
	"count":      {single: true, min: 1, max: 1 << 30},
	"bysetpos":   {min: -366, max: 366, nonZero: true},
	"bymonth":    {min: 1, max: 12},
	"bymonthday": {min: -31, max: 31, nonZero: true},
	"byyearday":  {min: -366, max: 366, nonZero: true},
	"byweekno":   {min: -53, max: 53, nonZero: true},
	"byweekday":  {min: 0, max: 6, weekdays: true},
	"byhour":     {min: 0, max: 23},
	"byminute":   {min: 0, max: 59},
	"bysecond":   {min: 0, max: 59},
	"byeaster":   {min: -366, max: 366},
}

// ParseParams parses "count:1;bysecond:1;byminute:1,2,4,5" into
// {count:[1] bysecond:[1] byminute:[1 2 4 5]}.
//
// Entries that are blank, unknown, not of the form name:value, not integers
// or out of range are skipped; a bad entry never invalidates the others.
func ParseParams(s string) Params {
	out := Params{}
	if strings.TrimSpace(s) == "" {
		return out
	}

	for _, entry := range strings.Split(s, ";") {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		kv := strings.Split(entry, ":")
		if len(kv) != 2 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(kv[0]))
		spec, ok := paramSpecs[name]
		if !ok {
			continue
		}
		values, ok := spec.parse(strings.TrimSpace(kv[1]))
		if !ok {
			continue
		}
		out[name] = values
	}
	return out
}

func (p paramSpec) parse(raw string) ([]int, bool) {
	if raw == "" {
		return nil, false
	}
	parts := strings.Split(raw, ",")
	if p.single && len(parts) != 1 {
		return nil, false
	}

	values := make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if p.weekdays {
			if n, ok := WeekdayTokens[part]; ok {
				values = append(values, n)
				continue
			}
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, false
		}
		if n < p.min || n > p.max || (p.nonZero && n == 0) {
			return nil, false
		}
		values = append(values, n)
	}
	return values, true
}

// Int returns a single-valued parameter.
func (p Params) Int(name string) (int, bool) {
	v, ok := p[name]
	if !ok || len(v) == 0 {
		return 0, false
	}
	return v[0], true
}

// String renders the params back into Rule.Params form in canonical order.
func (p Params) String() string {
	parts := make([]string, 0, len(p))
	for _, name := range ParamNames {
		values, ok := p[name]
		if !ok || len(values) == 0 {
			continue
		}
		tokens := make([]string, len(values))
		for i, v := range values {
			if name == "byweekday" && v >= 0 && v < len(weekdayNames) {
				tokens[i] = weekdayNames[v]
				continue
			}
			tokens[i] = strconv.Itoa(v)
		}
		parts = append(parts, name+":"+strings.Join(tokens, ","))
	}
	return strings.Join(parts, ";")
}
