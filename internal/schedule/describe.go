package schedule

import (
	"fmt"
	"strconv"
	"strings"
)

// Describe renders spec as a short human-readable summary, e.g.
// "custom: mon,fri at 09:00 from 2024-01-01".
func Describe(spec Spec) string {
	if spec == nil {
		return "invalid"
	}

	var b strings.Builder
	b.WriteString(string(spec.Kind()))
	b.WriteString(": ")

	switch s := spec.(type) {
	case Daily:
		b.WriteString("every day at ")
		b.WriteString(strings.Join(timingStrings(s.Timings), ","))
	case Recurring:
		fmt.Fprintf(&b, "every %d %s", s.Every, s.Unit)
	case Custom:
		var parts []string
		switch r := s.Rule.(type) {
		case Weekly:
			tags := make([]string, len(r.Days))
			for i, d := range r.Days {
				tags[i] = WeekdayTag(d)
			}
			parts = append(parts, strings.Join(tags, ","))
		case Monthly:
			days := make([]string, len(r.Days))
			for i, d := range r.Days {
				days[i] = strconv.Itoa(d)
			}
			parts = append(parts, "day "+strings.Join(days, ","))
		case Interval:
			parts = append(parts, fmt.Sprintf("every %d days", r.Every))
		}
		if n := len(s.Overrides); n > 0 {
			parts = append(parts, fmt.Sprintf("+%d dates", n))
		}
		b.WriteString(strings.Join(parts, " "))
		b.WriteString(" at ")
		b.WriteString(strings.Join(timingStrings(s.Timings), ","))
	}

	w := spec.Bounds()
	b.WriteString(" from ")
	b.WriteString(w.Start.String())
	if w.End != nil {
		b.WriteString(" until ")
		b.WriteString(w.End.String())
	}
	return b.String()
}
