// Package schedule models job recurrence rules and decides when a job fires.
//
// All dates and times are evaluated in UTC. A Spec is one of Daily, Recurring
// or Custom; each kind only carries the fields that are legal for it.
package schedule

import "time"

// Kind is the recurrence discriminator, stored as the job's freq.
type Kind string

const (
	KindDaily     Kind = "daily"
	KindRecurring Kind = "recurring"
	KindCustom    Kind = "custom"
)

// Status of a job. Only active jobs are evaluated.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusPaused   Status = "paused"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusPaused:
		return true
	}
	return false
}

// Unit is the interval unit of a Recurring spec.
type Unit string

const (
	UnitMinutes Unit = "minutes"
	UnitHours   Unit = "hours"
)

const (
	maxEveryMinutes = 1440
	maxEveryHours   = 24
)

// Duration returns the length of one unit.
func (u Unit) Duration() time.Duration {
	switch u {
	case UnitMinutes:
		return time.Minute
	case UnitHours:
		return time.Hour
	}
	return 0
}

// Spec describes how a job repeats.
type Spec interface {
	Kind() Kind
	Bounds() Window
	isSpec()
}

// Daily fires every day at each of Timings.
type Daily struct {
	Window  Window
	Timings []TimeOfDay
}

// Recurring fires once at least Every units have elapsed since the last fire.
type Recurring struct {
	Window Window
	Unit   Unit
	Every  int
}

// Custom fires at Timings on days selected by Rule or listed in Overrides.
// Rule may be nil when Overrides is not empty.
type Custom struct {
	Window    Window
	Timings   []TimeOfDay
	Rule      Rule
	Overrides []Date
}

func (Daily) Kind() Kind     { return KindDaily }
func (Recurring) Kind() Kind { return KindRecurring }
func (Custom) Kind() Kind    { return KindCustom }

func (s Daily) Bounds() Window     { return s.Window }
func (s Recurring) Bounds() Window { return s.Window }
func (s Custom) Bounds() Window    { return s.Window }

func (Daily) isSpec()     {}
func (Recurring) isSpec() {}
func (Custom) isSpec()    {}

// RuleType is the day-selection rule of a Custom spec.
type RuleType string

const (
	RuleWeekly   RuleType = "weekly"
	RuleMonthly  RuleType = "monthly"
	RuleInterval RuleType = "interval"
)

// Rule selects the days a Custom spec fires on.
type Rule interface {
	Type() RuleType
	// Matches reports whether day is selected for a spec starting on start.
	Matches(day, start Date) bool
}

// Weekly selects days of the week.
type Weekly struct {
	Days []time.Weekday
}

// Monthly selects days of the month (1-31). Days that a month lacks are
// simply never matched in that month.
type Monthly struct {
	Days []int
}

// Interval selects every Every-th day counted from the start date.
type Interval struct {
	Every int
}

func (Weekly) Type() RuleType   { return RuleWeekly }
func (Monthly) Type() RuleType  { return RuleMonthly }
func (Interval) Type() RuleType { return RuleInterval }

func (r Weekly) Matches(day, _ Date) bool {
	wd := day.Weekday()
	for _, d := range r.Days {
		if d == wd {
			return true
		}
	}
	return false
}

func (r Monthly) Matches(day, _ Date) bool {
	for _, d := range r.Days {
		if d == day.Day {
			return true
		}
	}
	return false
}

func (r Interval) Matches(day, start Date) bool {
	if r.Every <= 0 {
		return false
	}
	diff := day.DaysSince(start)
	if diff < 0 {
		diff = -diff
	}
	return diff%r.Every == 0
}

var weekdayTags = []string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// WeekdayTag returns the three-letter tag (mon..sun) of wd.
func WeekdayTag(wd time.Weekday) string {
	return weekdayTags[wd]
}

func parseWeekdayTag(tag string) (time.Weekday, bool) {
	for i, t := range weekdayTags {
		if t == tag {
			return time.Weekday(i), true
		}
	}
	return 0, false
}
