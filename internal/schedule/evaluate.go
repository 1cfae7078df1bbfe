package schedule

import "time"

// State is the mutable part of a job that the evaluator reads.
type State struct {
	Status        Status
	LastTriggered *time.Time
}

// ShouldFire reports whether a job with the given spec and state fires at now.
//
// Daily and Custom specs match on the exact UTC minute of now, so a caller
// that skips a minute skips that fire. Recurring specs compare the elapsed
// time since the last fire against a threshold and fire late rather than
// never. A nil or malformed spec never fires.
func ShouldFire(spec Spec, state State, now time.Time) bool {
	if spec == nil || state.Status != StatusActive {
		return false
	}
	now = now.UTC()
	today := DateOf(now)
	if !spec.Bounds().Contains(today) {
		return false
	}

	switch s := spec.(type) {
	case Daily:
		return hasTiming(s.Timings, TimeOfDayOf(now))

	case Recurring:
		unit := s.Unit.Duration()
		if unit == 0 || s.Every <= 0 {
			return false
		}
		since := s.Window.Start.Time()
		if state.LastTriggered != nil {
			since = state.LastTriggered.UTC()
		}
		elapsed := now.Sub(since)
		if elapsed < 0 {
			return false
		}
		return int64(elapsed/unit) >= int64(s.Every)

	case Custom:
		if !hasTiming(s.Timings, TimeOfDayOf(now)) {
			return false
		}
		for _, d := range s.Overrides {
			if d == today {
				return true
			}
		}
		if s.Rule == nil {
			return false
		}
		return s.Rule.Matches(today, s.Window.Start)
	}
	return false
}

func hasTiming(timings []TimeOfDay, t TimeOfDay) bool {
	for _, tt := range timings {
		if tt == t {
			return true
		}
	}
	return false
}
