package model

import "time"

// Frequency is the base recurrence period of a Rule.
type Frequency string

const (
	Yearly   Frequency = "YEARLY"
	Monthly  Frequency = "MONTHLY"
	Weekly   Frequency = "WEEKLY"
	Daily    Frequency = "DAILY"
	Hourly   Frequency = "HOURLY"
	Minutely Frequency = "MINUTELY"
	Secondly Frequency = "SECONDLY"
)

// Frequencies lists the supported frequencies, longest period first.
var Frequencies = []Frequency{Yearly, Monthly, Weekly, Daily, Hourly, Minutely, Secondly}

// Calendar groups events. The engine only ever needs the events of a calendar.
type Calendar struct {
	ID   int64  `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	Slug string `yaml:"slug" json:"slug"`
}

// Rule describes how an event repeats.
//
// Params is a semicolon-delimited list of key:value[,value...] pairs, for
// example "count:3;byweekday:MO,WE". See recur.ParseParams.
type Rule struct {
	ID          int64     `yaml:"id" json:"id"`
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description" json:"description"`
	Frequency   Frequency `yaml:"frequency" json:"frequency"`
	Params      string    `yaml:"params,omitempty" json:"params,omitempty"`
}

// Event is the schedulable entity. A nil Rule means a one-off event.
type Event struct {
	ID          int64  `yaml:"id" json:"id"`
	CalendarID  int64  `yaml:"calendar_id" json:"calendar_id"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	Start  time.Time `yaml:"start" json:"start"`
	End    time.Time `yaml:"end" json:"end"`
	AllDay bool      `yaml:"all_day" json:"all_day"`

	RuleID *int64 `yaml:"rule_id,omitempty" json:"rule_id,omitempty"`
	Rule   *Rule  `yaml:"-" json:"-"`

	// EndRecurringPeriod bounds expansion; ignored for one-off events.
	EndRecurringPeriod *time.Time `yaml:"end_recurring_period,omitempty" json:"end_recurring_period,omitempty"`

	CreatedOn time.Time `yaml:"created_on" json:"created_on"`
	CreatorID int64     `yaml:"creator_id,omitempty" json:"creator_id,omitempty"`
}

// Duration is the length of every occurrence of the event.
func (e *Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Recurring reports whether the event has a rule.
func (e *Event) Recurring() bool {
	return e.Rule != nil
}

// Occurrence is one concrete instance of an Event.
//
// A generated occurrence has ID 0 and exists only for the duration of a query.
// A persisted occurrence (ID > 0) overrides the generated instance whose span
// equals (OriginalStart, OriginalEnd).
type Occurrence struct {
	ID      int64  `yaml:"id" json:"id"`
	EventID int64  `yaml:"event_id" json:"event_id"`
	Event   *Event `yaml:"-" json:"-"`

	// Empty Title/Description inherit from the event.
	Title       string `yaml:"title,omitempty" json:"title,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	Start         time.Time `yaml:"start" json:"start"`
	End           time.Time `yaml:"end" json:"end"`
	OriginalStart time.Time `yaml:"original_start" json:"original_start"`
	OriginalEnd   time.Time `yaml:"original_end" json:"original_end"`

	AllDay    bool `yaml:"all_day" json:"all_day"`
	Cancelled bool `yaml:"cancelled" json:"cancelled"`
}

// Persisted reports whether the occurrence has a durable identity.
func (o *Occurrence) Persisted() bool {
	return o.ID > 0
}

// Moved reports whether the occurrence no longer sits on its original span.
func (o *Occurrence) Moved() bool {
	return !o.Start.Equal(o.OriginalStart) || !o.End.Equal(o.OriginalEnd)
}

func (o *Occurrence) Cancel() {
	o.Cancelled = true
}

func (o *Occurrence) Uncancel() {
	o.Cancelled = false
}

// Move changes the effective span. The original span is left untouched so the
// occurrence keeps matching the instance it overrides.
func (o *Occurrence) Move(start, end time.Time) {
	o.Start = start
	o.End = end
}

// Summary returns the occurrence title, falling back to the event title.
func (o *Occurrence) Summary() string {
	if o.Title != "" || o.Event == nil {
		return o.Title
	}
	return o.Event.Title
}

// Details returns the description, falling back to the event description.
func (o *Occurrence) Details() string {
	if o.Description != "" || o.Event == nil {
		return o.Description
	}
	return o.Event.Description
}

// ObjectRef points at an object owned by some other part of the application.
// Type is an "app.model" style tag resolved through relation.Registry.
type ObjectRef struct {
	Type string `yaml:"type" json:"type"`
	ID   int64  `yaml:"id" json:"id"`
}

// EventRelation attaches arbitrary content to an event.
type EventRelation struct {
	ID          int64     `yaml:"id" json:"id"`
	EventID     int64     `yaml:"event_id" json:"event_id"`
	Object      ObjectRef `yaml:"object" json:"object"`
	Distinction string    `yaml:"distinction,omitempty" json:"distinction,omitempty"`
}

// CalendarRelation attaches arbitrary content to a calendar.
type CalendarRelation struct {
	ID          int64     `yaml:"id" json:"id"`
	CalendarID  int64     `yaml:"calendar_id" json:"calendar_id"`
	Object      ObjectRef `yaml:"object" json:"object"`
	Distinction string    `yaml:"distinction,omitempty" json:"distinction,omitempty"`
	Inheritable bool      `yaml:"inheritable" json:"inheritable"`
}
