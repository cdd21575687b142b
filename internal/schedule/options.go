package schedule

import "time"

// User is whoever asks for occurrences. The engine never inspects it beyond
// handing it to the permission predicates.
type User interface {
	Authenticated() bool
}

// PermissionFunc decides whether user may edit obj. obj is an *model.Occurrence,
// *model.Event or *model.Calendar; nil obj asks about creating a new one.
type PermissionFunc func(obj any, user User) bool

// Options is the immutable configuration handed to the engine.
type Options struct {
	// ShowCancelled keeps cancelled persisted occurrences in results.
	ShowCancelled bool

	// FirstWeekday anchors NewWeek periods.
	FirstWeekday time.Weekday

	CheckPermission PermissionFunc
	CheckEvent      PermissionFunc
	CheckCalendar   PermissionFunc
}

// DefaultOptions hides cancelled occurrences, starts weeks on Monday and lets
// any authenticated user edit.
func DefaultOptions() Options {
	return Options{
		FirstWeekday:    time.Monday,
		CheckPermission: Authenticated,
		CheckEvent:      Authenticated,
		CheckCalendar:   Authenticated,
	}
}

// Authenticated is the default permission predicate.
func Authenticated(_ any, user User) bool {
	return user != nil && user.Authenticated()
}

func (o Options) canEdit(obj any, user User) bool {
	check := o.CheckPermission
	if check == nil {
		check = Authenticated
	}
	return check(obj, user)
}

// CanEditEvent applies the event and calendar predicates in that order.
// cal may be nil when the calendar is unknown.
func (o Options) CanEditEvent(ev, cal any, user User) bool {
	checkEvent, checkCal := o.CheckEvent, o.CheckCalendar
	if checkEvent == nil {
		checkEvent = Authenticated
	}
	if checkCal == nil {
		checkCal = Authenticated
	}
	return checkEvent(ev, user) && checkCal(cal, user)
}
