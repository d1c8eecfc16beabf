package ics

import (
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// Cap on expanded instances per event, against runaway or unbounded rules.
const maxOccurrencesPerEvent = 1000

// DiagnosticOccurrencesTruncated marks a recurring event whose expansion hit
// the per-event occurrence cap.
const DiagnosticOccurrencesTruncated = "OccurrencesTruncated"

// timeForm records how a date-time value was expressed in the source so
// expanded instances can be written back in the same shape.
type timeForm struct {
	tz        *EffectiveTimezone
	dateOnly  bool
	utcSuffix bool
	floating  bool
}

// expandWindow flattens recurring events into concrete instances
// intersecting [w.Start, w.End) and drops events entirely outside the
// window. Exception dates are honored and RECURRENCE-ID overrides replace
// the instance they name. Non-event components keep their positions.
func expandWindow(doc *Document, reg *TimezoneRegistry, w Window) (*Document, []Diagnostic, error) {
	if !w.End.After(w.Start) {
		return nil, nil, malformedf("expansion window end is not after start")
	}
	out := doc.Clone()
	cal := out.Calendar()

	overrides := map[string][]*Component{}
	for _, ev := range cal.Events() {
		if ev.GetProperty(PropertyRecurrenceID) != nil {
			uid := ev.UID()
			overrides[uid] = append(overrides[uid], ev)
		}
	}

	var diags []Diagnostic
	var children []*Component
	for _, child := range cal.Children {
		if child.Name != ComponentVEvent {
			children = append(children, child)
			continue
		}
		if child.GetProperty(PropertyRecurrenceID) != nil {
			// Overrides are merged into their master's expansion below;
			// orphans are treated like plain events.
			if len(overrides[child.UID()]) > 0 && hasRecurringMaster(cal, child.UID()) {
				continue
			}
		}
		expanded, truncated, err := expandEvent(child, overrides[child.UID()], reg, w)
		if err != nil {
			return nil, nil, err
		}
		if truncated {
			diags = append(diags, Diagnostic{
				Kind:      DiagnosticOccurrencesTruncated,
				Component: child.Name,
				UID:       child.UID(),
				Property:  PropertyRrule,
			})
		}
		children = append(children, expanded...)
	}
	cal.Children = children
	return out, diags, nil
}

func hasRecurringMaster(cal *Component, uid string) bool {
	for _, ev := range cal.Events() {
		if ev.UID() == uid && ev.GetProperty(PropertyRecurrenceID) == nil && ev.GetProperty(PropertyRrule) != nil {
			return true
		}
	}
	return false
}

func expandEvent(ev *Component, overrides []*Component, reg *TimezoneRegistry, w Window) ([]*Component, bool, error) {
	startProp := ev.GetProperty(PropertyDtStart)
	if startProp == nil {
		// Nothing to anchor the window test on; pass through.
		return []*Component{ev}, false, nil
	}
	start, form, err := resolveInstant(reg, ev, startProp)
	if err != nil {
		return nil, false, err
	}
	dur, err := eventDuration(reg, ev, start, form)
	if err != nil {
		return nil, false, err
	}

	ruleProp := ev.GetProperty(PropertyRrule)
	if ruleProp == nil {
		if overlaps(start, start.Add(dur), w) {
			return []*Component{ev}, false, nil
		}
		return nil, false, nil
	}

	opt, err := rrule.StrToROption(ruleProp.Value)
	if err != nil {
		return nil, false, &Error{
			Kind: ErrMalformedInput, Component: ev.Name, UID: ev.UID(),
			Property: PropertyRrule, Detail: err.Error(),
		}
	}
	opt.Dtstart = start
	rule, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, false, &Error{
			Kind: ErrMalformedInput, Component: ev.Name, UID: ev.UID(),
			Property: PropertyRrule, Detail: err.Error(),
		}
	}

	exdates, err := collectInstants(reg, ev, PropertyExdate)
	if err != nil {
		return nil, false, err
	}
	rdates, err := collectInstants(reg, ev, PropertyRdate)
	if err != nil {
		return nil, false, err
	}

	// The window is widened backwards by the duration so occurrences that
	// started earlier but still overlap are kept.
	starts := rule.Between(w.Start.Add(-dur), w.End, true)
	for _, rd := range rdates {
		if rd.Before(w.End) && rd.After(w.Start.Add(-dur-time.Second)) {
			starts = insertSorted(starts, rd)
		}
	}

	var instances []*Component
	truncated := false
	consumed := make([]bool, len(overrides))
	for _, occ := range starts {
		if len(instances) >= maxOccurrencesPerEvent {
			truncated = true
			break
		}
		if containsInstant(exdates, occ) {
			continue
		}
		// An override replaces its slot wherever the slot falls; whether
		// the override itself is emitted depends on its own times, so a
		// moved occurrence lands in the window it moved into.
		if i := overrideIndex(reg, overrides, occ); i >= 0 {
			consumed[i] = true
			o := overrides[i]
			oStart, oEnd, err := overrideSpan(reg, o)
			if err != nil {
				return nil, false, err
			}
			if overlaps(oStart, oEnd, w) {
				instances = append(instances, o)
			}
			continue
		}
		if !overlaps(occ, occ.Add(dur), w) {
			continue
		}
		instances = append(instances, instantiate(ev, occ, occ.Add(dur), form))
	}
	// Overrides whose original slot fell outside the generated range can
	// still have moved into the window.
	for i, o := range overrides {
		if consumed[i] || len(instances) >= maxOccurrencesPerEvent {
			continue
		}
		oStart, oEnd, err := overrideSpan(reg, o)
		if err != nil {
			return nil, false, err
		}
		if overlaps(oStart, oEnd, w) {
			instances = append(instances, o)
		}
	}
	return instances, truncated, nil
}

// overrideSpan resolves the interval an override occupies from its own
// DTSTART and DTEND or DURATION, falling back to the slot it names.
func overrideSpan(reg *TimezoneRegistry, o *Component) (time.Time, time.Time, error) {
	p := o.GetProperty(PropertyDtStart)
	if p == nil {
		p = o.GetProperty(PropertyRecurrenceID)
	}
	start, form, err := resolveInstant(reg, o, p)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	dur, err := eventDuration(reg, o, start, form)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.Add(dur), nil
}

// instantiate clones the master event as one concrete occurrence: the
// recurrence machinery is stripped and DTSTART/DTEND are rewritten in the
// master's original value form.
func instantiate(ev *Component, start, end time.Time, form timeForm) *Component {
	c := ev.Clone()
	c.RemoveProperties(PropertyRrule)
	c.RemoveProperties(PropertyExdate)
	c.RemoveProperties(PropertyRdate)
	if p := c.GetProperty(PropertyDtStart); p != nil {
		p.Value = formatInstant(start, form)
	}
	if p := c.GetProperty(PropertyDtEnd); p != nil {
		p.Value = formatInstant(end, form)
	}
	if p := c.GetProperty(PropertyRecurrenceID); p == nil {
		rid := c.AddProperty(PropertyRecurrenceID, formatInstant(start, form))
		if form.tz != nil && !form.utcSuffix && !form.floating && !form.dateOnly {
			rid.SetParam(ParameterTzID, mustParamTZID(ev))
		}
		if form.dateOnly {
			rid.SetParam(ParameterValue, ValueDataTypeDate)
		}
	}
	return c
}

func mustParamTZID(ev *Component) string {
	if p := ev.GetProperty(PropertyDtStart); p != nil {
		if raw, ok := p.Param(ParameterTzID); ok {
			return raw
		}
	}
	return ""
}

func overrideIndex(reg *TimezoneRegistry, overrides []*Component, occ time.Time) int {
	for i, o := range overrides {
		rid := o.GetProperty(PropertyRecurrenceID)
		if rid == nil {
			continue
		}
		t, _, err := resolveInstant(reg, o, rid)
		if err == nil && t.Equal(occ) {
			return i
		}
	}
	return -1
}

// resolveInstant parses the first value of a date or date-time property into
// an absolute instant, recording the form it was expressed in. Floating
// values are anchored to the registry default (UTC when none is configured);
// the accompanying diagnostic is the normalizer's concern, not this one.
func resolveInstant(reg *TimezoneRegistry, ev *Component, p *Property) (time.Time, timeForm, error) {
	v := p.Value
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	if isDateOnly(p) {
		t, err := time.ParseInLocation(icalDateFormat, v, time.UTC)
		if err != nil {
			return time.Time{}, timeForm{}, &Error{
				Kind: ErrMalformedInput, Component: ev.Name, UID: ev.UID(),
				Property: p.Name, Detail: "bad date value " + strconv.Quote(v),
			}
		}
		return t, timeForm{dateOnly: true, tz: reg.UTC()}, nil
	}
	if raw, ok := p.Param(ParameterTzID); ok {
		tz, err := reg.Resolve(raw)
		if err != nil {
			if e, ok := err.(*Error); ok {
				e.Component, e.UID, e.Property = ev.Name, ev.UID(), p.Name
			}
			return time.Time{}, timeForm{}, err
		}
		wall, err := time.ParseInLocation(icalTimestampFormatLocal, v, time.UTC)
		if err != nil {
			return time.Time{}, timeForm{}, &Error{
				Kind: ErrMalformedInput, Component: ev.Name, UID: ev.UID(),
				Property: p.Name, Detail: "bad date-time value " + strconv.Quote(v),
			}
		}
		return tz.utcOf(wall), timeForm{tz: tz}, nil
	}
	if strings.HasSuffix(v, "Z") {
		t, err := time.ParseInLocation(icalTimestampFormatUTC, v, time.UTC)
		if err != nil {
			return time.Time{}, timeForm{}, &Error{
				Kind: ErrMalformedInput, Component: ev.Name, UID: ev.UID(),
				Property: p.Name, Detail: "bad date-time value " + strconv.Quote(v),
			}
		}
		return t, timeForm{tz: reg.UTC(), utcSuffix: true}, nil
	}
	tz := reg.Default
	if tz == nil {
		tz = reg.UTC()
	}
	wall, err := time.ParseInLocation(icalTimestampFormatLocal, v, time.UTC)
	if err != nil {
		return time.Time{}, timeForm{}, &Error{
			Kind: ErrMalformedInput, Component: ev.Name, UID: ev.UID(),
			Property: p.Name, Detail: "bad date-time value " + strconv.Quote(v),
		}
	}
	return tz.utcOf(wall), timeForm{tz: tz, floating: true}, nil
}

func formatInstant(t time.Time, form timeForm) string {
	switch {
	case form.dateOnly:
		return t.UTC().Format(icalDateFormat)
	case form.utcSuffix:
		return t.UTC().Format(icalTimestampFormatUTC)
	case form.tz != nil:
		return form.tz.wallOf(t.UTC()).Format(icalTimestampFormatLocal)
	default:
		return t.UTC().Format(icalTimestampFormatUTC)
	}
}

func collectInstants(reg *TimezoneRegistry, ev *Component, name string) ([]time.Time, error) {
	var r []time.Time
	for _, p := range ev.GetProperties(name) {
		if v, ok := p.Param(ParameterValue); ok && strings.EqualFold(v, ValueDataTypePeriod) {
			continue
		}
		for _, v := range strings.Split(p.Value, ",") {
			single := *p
			single.Value = v
			t, _, err := resolveInstant(reg, ev, &single)
			if err != nil {
				return nil, err
			}
			r = append(r, t)
		}
	}
	return r, nil
}

// eventDuration derives the occurrence length from DTEND, then DURATION,
// then the all-day / zero-length defaults.
func eventDuration(reg *TimezoneRegistry, ev *Component, start time.Time, form timeForm) (time.Duration, error) {
	if endProp := ev.GetProperty(PropertyDtEnd); endProp != nil {
		end, _, err := resolveInstant(reg, ev, endProp)
		if err != nil {
			return 0, err
		}
		if end.After(start) {
			return end.Sub(start), nil
		}
		return 0, nil
	}
	if durProp := ev.GetProperty(PropertyDuration); durProp != nil {
		if d, err := parseICalDuration(durProp.Value); err == nil {
			return d, nil
		}
	}
	if form.dateOnly {
		return 24 * time.Hour, nil
	}
	return 0, nil
}

// parseICalDuration parses the RFC 5545 section 3.3.6 duration subset that
// appears on events: [+/-]P[nW][nD][T[nH][nM][nS]].
func parseICalDuration(s string) (time.Duration, error) {
	orig := s
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") {
		return 0, malformedf("bad duration %q", orig)
	}
	s = s[1:]
	var d time.Duration
	inTime := false
	for len(s) > 0 {
		if s[0] == 'T' {
			inTime = true
			s = s[1:]
			continue
		}
		i := 0
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		if i == 0 || i == len(s) {
			return 0, malformedf("bad duration %q", orig)
		}
		n, err := strconv.Atoi(s[:i])
		if err != nil {
			return 0, malformedf("bad duration %q", orig)
		}
		switch s[i] {
		case 'W':
			d += time.Duration(n) * 7 * 24 * time.Hour
		case 'D':
			d += time.Duration(n) * 24 * time.Hour
		case 'H':
			if !inTime {
				return 0, malformedf("bad duration %q", orig)
			}
			d += time.Duration(n) * time.Hour
		case 'M':
			if !inTime {
				return 0, malformedf("bad duration %q", orig)
			}
			d += time.Duration(n) * time.Minute
		case 'S':
			if !inTime {
				return 0, malformedf("bad duration %q", orig)
			}
			d += time.Duration(n) * time.Second
		default:
			return 0, malformedf("bad duration %q", orig)
		}
		s = s[i+1:]
	}
	if neg {
		d = -d
	}
	return d, nil
}

func overlaps(start, end time.Time, w Window) bool {
	if !end.After(start) {
		end = start
	}
	if end.Equal(start) {
		return !start.Before(w.Start) && start.Before(w.End)
	}
	return start.Before(w.End) && end.After(w.Start)
}

func containsInstant(ts []time.Time, t time.Time) bool {
	for _, x := range ts {
		if x.Equal(t) {
			return true
		}
	}
	return false
}

func insertSorted(ts []time.Time, t time.Time) []time.Time {
	for _, x := range ts {
		if x.Equal(t) {
			return ts
		}
	}
	i := 0
	for i < len(ts) && ts[i].Before(t) {
		i++
	}
	ts = append(ts, time.Time{})
	copy(ts[i+1:], ts[i:])
	ts[i] = t
	return ts
}
