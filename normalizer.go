package ics

import (
	"strings"
	"time"
)

const (
	icalTimestampFormatUTC   = "20060102T150405Z"
	icalTimestampFormatLocal = "20060102T150405"
	icalDateFormat           = "20060102"
)

// OutputMode selects the form normalized time values are rewritten into.
type OutputMode string

const (
	// OutputModeUTC rewrites every time-bearing value to UTC with a Z
	// suffix. This is the default.
	OutputModeUTC OutputMode = "utc"
	// OutputModeCanonicalTZID keeps local wall-clock values but rewrites
	// TZID parameters to canonical timezone-database names, with matching
	// VTIMEZONE blocks.
	OutputModeCanonicalTZID OutputMode = "canonical-tzid"
)

// Diagnostic kinds reported alongside a successful normalization.
const (
	// DiagnosticFloatingTimeAssumed marks a floating time value that was
	// anchored to the configured default timezone (or UTC).
	DiagnosticFloatingTimeAssumed = "FloatingTimeAssumed"
)

// Diagnostic is a non-fatal observation made while normalizing, in document
// order of the properties that produced it.
type Diagnostic struct {
	Kind      string
	Component string
	UID       string
	Property  string
}

// timeBearing lists the event properties whose values carry a timezone.
var timeBearing = [...]string{
	PropertyDtStart,
	PropertyDtEnd,
	PropertyRecurrenceID,
	PropertyExdate,
	PropertyRdate,
}

type normalizer struct {
	reg   *TimezoneRegistry
	mode  OutputMode
	diags []Diagnostic

	// Zones referenced by rewritten properties in canonical-tzid mode, in
	// first-reference order; their VTIMEZONE blocks are (re)emitted.
	usedCanonical []*EffectiveTimezone
	usedSet       map[string]bool
	// Opaque document-local TZIDs still referenced; their original blocks
	// are the only definition a consumer can read.
	usedOpaque map[string]bool
}

// normalizeDocument rewrites every time-bearing property of every VEVENT so
// that its explicit or implied timezone is unambiguous, per the output mode.
// It returns a new document; the input tree is not touched. Any TZID that
// resolves to nothing fails the whole document: partial, silently-wrong
// output is worse than an explicit failure.
func normalizeDocument(doc *Document, reg *TimezoneRegistry, mode OutputMode) (*Document, []Diagnostic, error) {
	n := &normalizer{
		reg:        reg,
		mode:       mode,
		usedSet:    map[string]bool{},
		usedOpaque: map[string]bool{},
	}
	out := doc.Clone()
	cal := out.Calendar()
	for _, ev := range cal.Events() {
		if err := n.normalizeEvent(ev); err != nil {
			return nil, nil, err
		}
	}
	n.rewriteTimezoneBlocks(cal)
	return out, n.diags, nil
}

func (n *normalizer) normalizeEvent(ev *Component) error {
	// The event's own timezone, taken from DTSTART before any rewriting;
	// RRULE UNTIL values are interpreted in it.
	evTZ, err := n.eventTimezone(ev)
	if err != nil {
		return err
	}
	for i := range ev.Properties {
		p := &ev.Properties[i]
		switch {
		case isTimeBearing(p.Name):
			if err := n.normalizeDateTimeProperty(ev, p); err != nil {
				return err
			}
		case strings.EqualFold(p.Name, PropertyRrule):
			if err := n.normalizeRrule(ev, p, evTZ); err != nil {
				return err
			}
		}
	}
	return nil
}

func isTimeBearing(name string) bool {
	for _, tb := range timeBearing {
		if strings.EqualFold(name, tb) {
			return true
		}
	}
	return false
}

// eventTimezone resolves the timezone DTSTART is expressed in, before the
// property is rewritten. Floating starts resolve to the configured default,
// UTC otherwise.
func (n *normalizer) eventTimezone(ev *Component) (*EffectiveTimezone, error) {
	start := ev.GetProperty(PropertyDtStart)
	if start == nil || isDateOnly(start) {
		return n.reg.UTC(), nil
	}
	if raw, ok := start.Param(ParameterTzID); ok {
		tz, err := n.reg.Resolve(raw)
		if err != nil {
			return nil, n.locate(err, ev, PropertyDtStart)
		}
		return tz, nil
	}
	if strings.HasSuffix(start.Value, "Z") {
		return n.reg.UTC(), nil
	}
	if n.reg.Default != nil {
		return n.reg.Default, nil
	}
	return n.reg.UTC(), nil
}

func (n *normalizer) normalizeDateTimeProperty(ev *Component, p *Property) error {
	if isDateOnly(p) {
		// Date-only values carry no timezone ambiguity.
		return nil
	}
	if v, ok := p.Param(ParameterValue); ok && strings.EqualFold(v, ValueDataTypePeriod) {
		// RDATE periods are out of normalization scope; pass through.
		return nil
	}
	if raw, ok := p.Param(ParameterTzID); ok {
		tz, err := n.reg.Resolve(raw)
		if err != nil {
			return n.locate(err, ev, p.Name)
		}
		return n.rewriteZoned(ev, p, raw, tz)
	}
	if valuesAllUTC(p.Value) {
		// Already unambiguous in either output mode.
		return nil
	}
	// Floating time: anchor to the configured default, or UTC.
	tz := n.reg.Default
	if tz == nil {
		tz = n.reg.UTC()
	}
	n.diags = append(n.diags, Diagnostic{
		Kind:      DiagnosticFloatingTimeAssumed,
		Component: ev.Name,
		UID:       ev.UID(),
		Property:  p.Name,
	})
	switch {
	case n.mode == OutputModeUTC, tz.TZID == "UTC":
		out, err := mapDateTimeValues(p.Value, func(wall time.Time) string {
			return tz.utcOf(wall).Format(icalTimestampFormatUTC)
		})
		if err != nil {
			return n.locate(err, ev, p.Name)
		}
		p.Value = out
	case tz.Opaque():
		// The default resolved to a document-local definition; keep its
		// embedded block as the only readable source of the offset rules.
		p.SetParam(ParameterTzID, tz.TZID)
		n.usedOpaque[tz.TZID] = true
	default:
		p.SetParam(ParameterTzID, tz.TZID)
		n.markUsed(tz)
	}
	return nil
}

// rewriteZoned rewrites a property that carried a TZID parameter.
func (n *normalizer) rewriteZoned(ev *Component, p *Property, raw string, tz *EffectiveTimezone) error {
	if n.mode == OutputModeCanonicalTZID {
		if tz.Opaque() {
			// The embedded VTIMEZONE stays the only definition; keep
			// the reference intact.
			n.usedOpaque[raw] = true
			return nil
		}
		if raw != tz.TZID {
			p.SetParam(ParameterTzID, tz.TZID)
		}
		n.markUsed(tz)
		return nil
	}
	out, err := mapDateTimeValues(p.Value, func(wall time.Time) string {
		return tz.utcOf(wall).Format(icalTimestampFormatUTC)
	})
	if err != nil {
		return n.locate(err, ev, p.Name)
	}
	p.Value = out
	p.RemoveParam(ParameterTzID)
	return nil
}

// normalizeRrule rewrites the UNTIL part of a recurrence rule when it is a
// local date-time; the rule itself is not timezone-bearing. The until instant
// is interpreted in the event's timezone, the same rule applied to DTSTART.
func (n *normalizer) normalizeRrule(ev *Component, p *Property, evTZ *EffectiveTimezone) error {
	parts := strings.Split(p.Value, ";")
	changed := false
	for i, part := range parts {
		if !strings.HasPrefix(strings.ToUpper(part), "UNTIL=") {
			continue
		}
		until := part[len("UNTIL="):]
		if !strings.Contains(until, "T") || strings.HasSuffix(until, "Z") {
			continue
		}
		if n.mode == OutputModeCanonicalTZID {
			// Wall-clock until stays anchored to the (now canonical)
			// event TZID.
			continue
		}
		wall, err := time.ParseInLocation(icalTimestampFormatLocal, until, time.UTC)
		if err != nil {
			return n.locate(malformedf("bad UNTIL value %q", until), ev, p.Name)
		}
		parts[i] = "UNTIL=" + evTZ.utcOf(wall).Format(icalTimestampFormatUTC)
		changed = true
	}
	if changed {
		p.Value = strings.Join(parts, ";")
	}
	return nil
}

func (n *normalizer) markUsed(tz *EffectiveTimezone) {
	if tz.TZID == "UTC" || n.usedSet[tz.TZID] {
		return
	}
	n.usedSet[tz.TZID] = true
	n.usedCanonical = append(n.usedCanonical, tz)
}

// rewriteTimezoneBlocks brings the VTIMEZONE children in line with the
// rewritten properties. In UTC mode no property references a TZID anymore,
// so every block is dropped. In canonical-tzid mode blocks for recognized
// zones are replaced with synthesized canonical definitions, blocks for
// opaque zones still referenced are kept verbatim, and unreferenced blocks
// are dropped.
func (n *normalizer) rewriteTimezoneBlocks(cal *Component) {
	if n.mode == OutputModeUTC {
		kept := cal.Children[:0]
		for _, child := range cal.Children {
			if child.Name != ComponentVTimezone {
				kept = append(kept, child)
			}
		}
		cal.Children = kept
		return
	}

	emitted := map[string]bool{}
	var kept []*Component
	for _, child := range cal.Children {
		if child.Name != ComponentVTimezone {
			kept = append(kept, child)
			continue
		}
		idProp := child.GetProperty(PropertyTzID)
		if idProp == nil {
			continue
		}
		raw := idProp.Value
		if n.usedOpaque[raw] {
			kept = append(kept, child)
			continue
		}
		for _, tz := range n.usedCanonical {
			if (raw == tz.TZID || windowsZones[raw] == tz.TZID) && !emitted[tz.TZID] {
				kept = append(kept, canonicalVTimezone(tz.TZID, tz.Location))
				emitted[tz.TZID] = true
				break
			}
		}
		// Anything else is no longer referenced and is dropped.
	}
	// Zones referenced without a source block (aliases, assumed defaults)
	// get a fresh block ahead of the first event.
	var missing []*Component
	for _, tz := range n.usedCanonical {
		if !emitted[tz.TZID] {
			missing = append(missing, canonicalVTimezone(tz.TZID, tz.Location))
			emitted[tz.TZID] = true
		}
	}
	if len(missing) > 0 {
		insert := len(kept)
		for i, child := range kept {
			if child.Name == ComponentVEvent {
				insert = i
				break
			}
		}
		kept = append(kept[:insert], append(missing, kept[insert:]...)...)
	}
	cal.Children = kept
}

func (n *normalizer) locate(err error, ev *Component, property string) error {
	if e, ok := err.(*Error); ok {
		e.Component = ev.Name
		e.UID = ev.UID()
		e.Property = property
		return e
	}
	return err
}

// isDateOnly reports whether the property holds DATE values: an explicit
// VALUE=DATE parameter, or a value with no time component.
func isDateOnly(p *Property) bool {
	if v, ok := p.Param(ParameterValue); ok {
		return strings.EqualFold(v, ValueDataTypeDate)
	}
	first := p.Value
	if i := strings.IndexByte(first, ','); i >= 0 {
		first = first[:i]
	}
	return !strings.Contains(first, "T")
}

func valuesAllUTC(value string) bool {
	for _, v := range strings.Split(value, ",") {
		if !strings.HasSuffix(v, "Z") {
			return false
		}
	}
	return true
}

// mapDateTimeValues applies f to each date-time in a (possibly
// comma-separated, as in EXDATE/RDATE) value string. Values already in UTC
// and date-only values inside mixed lists are passed through unchanged.
func mapDateTimeValues(value string, f func(wall time.Time) string) (string, error) {
	values := strings.Split(value, ",")
	for i, v := range values {
		if strings.HasSuffix(v, "Z") || !strings.Contains(v, "T") {
			continue
		}
		wall, err := time.ParseInLocation(icalTimestampFormatLocal, v, time.UTC)
		if err != nil {
			return "", malformedf("bad date-time value %q", v)
		}
		values[i] = f(wall)
	}
	return strings.Join(values, ","), nil
}
