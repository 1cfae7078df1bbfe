package schedule

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
)

// ErrInvalidSpec is matched by every *ValidationError.
var ErrInvalidSpec = errors.New("invalid job specification")

// ValidationError lists every problem found in a job definition.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return "invalid input data: " + strings.Join(e.Details, "; ")
}

// Is makes errors.Is(err, ErrInvalidSpec) true for validation errors.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidSpec
}

// Fields is the flat external representation of a Spec, shared by the HTTP
// API and the stores. Polymorphic values are kept raw until parsed.
type Fields struct {
	Freq           string          `json:"freq"`
	StartDate      *string         `json:"start_date"`
	EndDate        *string         `json:"end_date"`
	TriggerTimings json.RawMessage `json:"trigger_timings,omitempty"`
	RuleType       *string         `json:"rule_type"`
	RuleValue      json.RawMessage `json:"rule_value,omitempty"`
	OverrideDates  json.RawMessage `json:"override_dates,omitempty"`
}

// Input is a complete job definition as submitted by a caller.
type Input struct {
	Fields
	CallbackURL *string         `json:"callback_url"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Status      *string         `json:"status"`
}

// UnmarshalJSON accepts any JSON object. A string field holding a value of
// another JSON type is kept as its JSON text, so validation reports it as
// invalid together with every other problem instead of failing the decode.
func (in *Input) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}

	*in = Input{}
	if freq := looseString(m["freq"]); freq != nil {
		in.Freq = *freq
	}
	in.StartDate = looseString(m["start_date"])
	in.EndDate = looseString(m["end_date"])
	in.TriggerTimings = m["trigger_timings"]
	in.RuleType = looseString(m["rule_type"])
	in.RuleValue = m["rule_value"]
	in.OverrideDates = m["override_dates"]
	in.CallbackURL = looseString(m["callback_url"])
	in.Metadata = m["metadata"]
	in.Status = looseString(m["status"])
	return nil
}

// looseString returns nil for an absent or null value, the string for a JSON
// string and the raw JSON text for anything else.
func looseString(raw json.RawMessage) *string {
	if !present(raw) {
		return nil
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		v = string(bytes.TrimSpace(raw))
	}
	return &v
}

// Definition is a validated job definition.
type Definition struct {
	Spec        Spec
	CallbackURL string
	Metadata    map[string]any
	Status      Status
}

// Parse validates f and builds the matching Spec. On failure the returned
// error is a *ValidationError carrying every violation.
func Parse(f Fields) (Spec, error) {
	var errs []string
	spec := parseFields(f, &errs)
	if len(errs) > 0 {
		return nil, &ValidationError{Details: errs}
	}
	return spec, nil
}

// ParseInput validates a whole job definition, spec and job attributes
// together, so that all problems are reported at once.
func ParseInput(in Input) (*Definition, error) {
	var errs []string
	spec := parseFields(in.Fields, &errs)

	def := &Definition{Spec: spec, Status: StatusActive}

	if in.CallbackURL == nil || !validCallbackURL(*in.CallbackURL) {
		errs = append(errs, "Invalid or missing callback_url")
	} else {
		def.CallbackURL = *in.CallbackURL
	}

	if present(in.Metadata) {
		var md map[string]any
		if err := json.Unmarshal(in.Metadata, &md); err != nil {
			errs = append(errs, "Invalid metadata")
		} else {
			def.Metadata = md
		}
	}

	if in.Status != nil && *in.Status != "" {
		st := Status(*in.Status)
		if !st.Valid() {
			errs = append(errs, "Invalid status")
		} else {
			def.Status = st
		}
	}

	if len(errs) > 0 {
		return nil, &ValidationError{Details: errs}
	}
	return def, nil
}

func parseFields(f Fields, errs *[]string) Spec {
	add := func(msg string) { *errs = append(*errs, msg) }

	var w Window
	startOK := false
	if f.StartDate == nil || *f.StartDate == "" {
		add("Invalid or missing start_date")
	} else if d, err := ParseDate(*f.StartDate); err != nil {
		add("Invalid or missing start_date")
	} else {
		w.Start = d
		startOK = true
	}
	if f.EndDate != nil && *f.EndDate != "" {
		if d, err := ParseDate(*f.EndDate); err != nil {
			add("Invalid end_date")
		} else {
			w.End = &d
		}
	}
	if startOK && w.End != nil && w.End.Before(w.Start) {
		add("end_date must not be before start_date")
	}

	ruleType := ""
	if f.RuleType != nil {
		ruleType = *f.RuleType
	}
	hasRuleValue := present(f.RuleValue)
	hasTimings := present(f.TriggerTimings)
	hasOverrides := present(f.OverrideDates)

	kind := Kind(f.Freq)
	if kind != KindDaily && kind != KindRecurring && kind != KindCustom {
		add("Invalid or missing freq")
	}

	var spec Spec
	switch kind {
	case KindRecurring:
		if hasTimings {
			add("trigger_timings should not be provided for recurring frequency")
		}
		if hasOverrides {
			add("override_dates should not be provided for recurring frequency")
		}
		unit := Unit(ruleType)
		if unit != UnitMinutes && unit != UnitHours {
			add("For recurring frequency, rule_type must be 'minutes' or 'hours'")
		}
		every, ok := parseEvery(f.RuleValue, unit)
		if !hasRuleValue || !ok {
			if ruleType != "" {
				add(fmt.Sprintf("Invalid rule_value for %s", ruleType))
			} else {
				add("rule_value is required for recurring frequency")
			}
		}
		spec = Recurring{Window: w, Unit: unit, Every: every}

	default:
		// An unknown freq still gets its timings checked
		timings, ok := parseTimings(f.TriggerTimings)
		if !ok {
			add("trigger_timings is required")
		}
		if kind == KindDaily {
			if ruleType != "" || hasRuleValue || hasOverrides {
				add("For daily frequency, rule_type, rule_value, and override_dates must not be provided")
			}
			spec = Daily{Window: w, Timings: timings}
			break
		}
		if kind != KindCustom {
			break
		}

		var rule Rule
		if ruleType != "" {
			r, ok := parseRule(RuleType(ruleType), f.RuleValue)
			if !ok {
				add("Invalid rule_type or rule_value for custom frequency")
			}
			rule = r
		}
		var overrides []Date
		overridesOK := true
		if hasOverrides {
			overrides, overridesOK = parseDates(f.OverrideDates)
			if !overridesOK {
				add("Invalid override_dates")
			}
		}
		if ruleType == "" && (!hasOverrides || (overridesOK && len(overrides) == 0)) {
			add("For custom frequency, either rule_type or override_dates must be provided")
		}
		spec = Custom{Window: w, Timings: timings, Rule: rule, Overrides: overrides}
	}

	if (ruleType != "") != hasRuleValue {
		add("Both rule_type and rule_value must be provided together")
	}

	return spec
}

// Encode converts spec back into its external representation.
func Encode(spec Spec) Fields {
	if spec == nil {
		return Fields{}
	}
	w := spec.Bounds()
	start := w.Start.String()
	f := Fields{Freq: string(spec.Kind()), StartDate: &start}
	if w.End != nil {
		end := w.End.String()
		f.EndDate = &end
	}

	switch s := spec.(type) {
	case Daily:
		f.TriggerTimings = mustRaw(timingStrings(s.Timings))
	case Recurring:
		rt := string(s.Unit)
		f.RuleType = &rt
		f.RuleValue = mustRaw(s.Every)
	case Custom:
		f.TriggerTimings = mustRaw(timingStrings(s.Timings))
		if s.Rule != nil {
			rt := string(s.Rule.Type())
			f.RuleType = &rt
			switch r := s.Rule.(type) {
			case Weekly:
				tags := make([]string, len(r.Days))
				for i, d := range r.Days {
					tags[i] = WeekdayTag(d)
				}
				f.RuleValue = mustRaw(tags)
			case Monthly:
				f.RuleValue = mustRaw(r.Days)
			case Interval:
				f.RuleValue = mustRaw(r.Every)
			}
		}
		if len(s.Overrides) > 0 {
			dates := make([]string, len(s.Overrides))
			for i, d := range s.Overrides {
				dates[i] = d.String()
			}
			f.OverrideDates = mustRaw(dates)
		}
	}
	return f
}

func validCallbackURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

// present reports whether a raw JSON value was supplied and is not null.
func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func decodeAny(raw json.RawMessage) (any, bool) {
	if !present(raw) {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

func asInt(v any) (int, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	if i, err := n.Int64(); err == nil {
		return int(i), true
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func asSlice(raw json.RawMessage) ([]any, bool) {
	v, ok := decodeAny(raw)
	if !ok {
		return nil, false
	}
	s, ok := v.([]any)
	return s, ok
}

func parseEvery(raw json.RawMessage, unit Unit) (int, bool) {
	v, ok := decodeAny(raw)
	if !ok {
		return 0, false
	}
	n, ok := asInt(v)
	if !ok || n <= 0 {
		return 0, false
	}
	switch unit {
	case UnitMinutes:
		return n, n <= maxEveryMinutes
	case UnitHours:
		return n, n <= maxEveryHours
	}
	return 0, false
}

func parseTimings(raw json.RawMessage) ([]TimeOfDay, bool) {
	items, ok := asSlice(raw)
	if !ok || len(items) == 0 {
		return nil, false
	}
	seen := make(map[TimeOfDay]bool, len(items))
	timings := make([]TimeOfDay, 0, len(items))
	for _, it := range items {
		s, ok := it.(string)
		if !ok {
			return nil, false
		}
		t, err := ParseTimeOfDay(s)
		if err != nil {
			return nil, false
		}
		if !seen[t] {
			seen[t] = true
			timings = append(timings, t)
		}
	}
	return timings, true
}

func parseDates(raw json.RawMessage) ([]Date, bool) {
	items, ok := asSlice(raw)
	if !ok {
		return nil, false
	}
	seen := make(map[Date]bool, len(items))
	dates := make([]Date, 0, len(items))
	for _, it := range items {
		s, ok := it.(string)
		if !ok {
			return nil, false
		}
		d, err := ParseDate(s)
		if err != nil {
			return nil, false
		}
		if !seen[d] {
			seen[d] = true
			dates = append(dates, d)
		}
	}
	return dates, true
}

func parseRule(rt RuleType, raw json.RawMessage) (Rule, bool) {
	switch rt {
	case RuleWeekly:
		items, ok := asSlice(raw)
		if !ok || len(items) == 0 {
			return nil, false
		}
		var r Weekly
		for _, it := range items {
			tag, ok := it.(string)
			if !ok {
				return nil, false
			}
			wd, ok := parseWeekdayTag(tag)
			if !ok {
				return nil, false
			}
			r.Days = append(r.Days, wd)
		}
		return r, true

	case RuleMonthly:
		items, ok := asSlice(raw)
		if !ok || len(items) == 0 {
			return nil, false
		}
		var r Monthly
		for _, it := range items {
			d, ok := asInt(it)
			if !ok || d < 1 || d > 31 {
				return nil, false
			}
			r.Days = append(r.Days, d)
		}
		return r, true

	case RuleInterval:
		v, ok := decodeAny(raw)
		if !ok {
			return nil, false
		}
		n, ok := asInt(v)
		if !ok || n <= 0 {
			return nil, false
		}
		return Interval{Every: n}, true
	}
	return nil, false
}

func timingStrings(ts []TimeOfDay) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.String()
	}
	return out
}

func mustRaw(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("schedule: marshal %T: %v", v, err))
	}
	return data
}
