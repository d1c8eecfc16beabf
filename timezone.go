package ics

import (
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// EffectiveTimezone is a raw TZID resolved to an unambiguous timezone. For
// identifiers recognized by the timezone database (directly or through the
// provider alias table) Location is set and TZID is the canonical name. For
// document-local VTIMEZONE definitions whose identifier is not a database
// name, Location is nil and the offset rules extracted from the block's
// STANDARD/DAYLIGHT sub-components are used instead.
//
// Two effective timezones are equal iff their TZID values are equal.
type EffectiveTimezone struct {
	TZID     string
	Location *time.Location

	rules []tzRule
}

// Opaque reports whether the timezone is only defined by the document's own
// VTIMEZONE block and unrecognized by the timezone database.
func (tz *EffectiveTimezone) Opaque() bool {
	return tz.Location == nil
}

// utcOf converts a wall-clock time expressed in this timezone to UTC.
func (tz *EffectiveTimezone) utcOf(wall time.Time) time.Time {
	if tz.Location != nil {
		t := time.Date(wall.Year(), wall.Month(), wall.Day(),
			wall.Hour(), wall.Minute(), wall.Second(), 0, tz.Location)
		return t.UTC()
	}
	off := tz.offsetAt(wall)
	return wall.Add(-time.Duration(off) * time.Second)
}

// wallOf converts a UTC instant to this timezone's wall-clock time, the
// inverse of utcOf. The wall time is carried in the UTC location.
func (tz *EffectiveTimezone) wallOf(t time.Time) time.Time {
	if tz.Location != nil {
		local := t.In(tz.Location)
		return time.Date(local.Year(), local.Month(), local.Day(),
			local.Hour(), local.Minute(), local.Second(), 0, time.UTC)
	}
	off := tz.offsetAt(t)
	wall := t.Add(time.Duration(off) * time.Second)
	if o2 := tz.offsetAt(wall); o2 != off {
		wall = t.Add(time.Duration(o2) * time.Second)
	}
	return wall
}

// offsetAt returns the UTC offset in seconds in effect at the given wall
// time, per the extracted STANDARD/DAYLIGHT rules: the rule with the most
// recent onset at or before the wall time wins.
func (tz *EffectiveTimezone) offsetAt(wall time.Time) int {
	best := -1
	var bestOnset time.Time
	for i, r := range tz.rules {
		onset := r.lastOnsetBefore(wall)
		if onset.IsZero() {
			continue
		}
		if best == -1 || onset.After(bestOnset) {
			best = i
			bestOnset = onset
		}
	}
	if best == -1 {
		if len(tz.rules) > 0 {
			return tz.rules[0].offsetTo
		}
		return 0
	}
	return tz.rules[best].offsetTo
}

// tzRule is one STANDARD or DAYLIGHT sub-component reduced to its observance
// rule: the offset transition and when it starts.
type tzRule struct {
	offsetFrom int
	offsetTo   int
	start      time.Time
	rule       *rrule.RRule
}

func (r *tzRule) lastOnsetBefore(wall time.Time) time.Time {
	if wall.Before(r.start) {
		return time.Time{}
	}
	if r.rule == nil {
		return r.start
	}
	return r.rule.Before(wall, true)
}

func extractRules(block *Component) []tzRule {
	var rules []tzRule
	for _, sub := range block.Children {
		if sub.Name != ComponentStandard && sub.Name != ComponentDaylight {
			continue
		}
		from := sub.GetProperty(PropertyTzOffsetFrom)
		to := sub.GetProperty(PropertyTzOffsetTo)
		start := sub.GetProperty(PropertyDtStart)
		if to == nil || start == nil {
			continue
		}
		offTo, err := parseUTCOffset(to.Value)
		if err != nil {
			continue
		}
		offFrom := offTo
		if from != nil {
			if v, err := parseUTCOffset(from.Value); err == nil {
				offFrom = v
			}
		}
		// Observance DTSTART values are local wall times. They are kept
		// in the UTC location so rule arithmetic stays pure wall-clock.
		onset, err := time.ParseInLocation(icalTimestampFormatLocal, start.Value, time.UTC)
		if err != nil {
			continue
		}
		r := tzRule{offsetFrom: offFrom, offsetTo: offTo, start: onset}
		if rr := sub.GetProperty(PropertyRrule); rr != nil {
			if opt, err := rrule.StrToROption(rr.Value); err == nil {
				opt.Dtstart = onset
				if rule, err := rrule.NewRRule(*opt); err == nil {
					r.rule = rule
				}
			}
		}
		rules = append(rules, r)
	}
	return rules
}

// parseUTCOffset parses a RFC 5545 section 3.3.14 UTC-OFFSET value such as
// "+0200", "-0500" or "+013042" into seconds east of UTC.
func parseUTCOffset(s string) (int, error) {
	sign := 1
	switch {
	case strings.HasPrefix(s, "-"):
		sign = -1
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if len(s) != 4 && len(s) != 6 {
		return 0, malformedf("bad UTC offset %q", s)
	}
	h, err := strconv.Atoi(s[0:2])
	if err != nil {
		return 0, malformedf("bad UTC offset %q", s)
	}
	m, err := strconv.Atoi(s[2:4])
	if err != nil {
		return 0, malformedf("bad UTC offset %q", s)
	}
	sec := 0
	if len(s) == 6 {
		sec, err = strconv.Atoi(s[4:6])
		if err != nil {
			return 0, malformedf("bad UTC offset %q", s)
		}
	}
	return sign * (h*3600 + m*60 + sec), nil
}

// TimezoneRegistry resolves the raw TZID strings of one document to effective
// timezones. It is populated from the document's own VTIMEZONE blocks first
// (first definition of a TZID wins, later duplicates are ignored), then falls
// back to the timezone database and the static provider alias table.
// Resolution is memoized for the lifetime of the registry; a registry is
// built fresh per document and never shared.
type TimezoneRegistry struct {
	memo map[string]*EffectiveTimezone

	// Default is the timezone assumed for floating times, nil when the
	// caller configured none.
	Default *EffectiveTimezone
}

// utcTimezone is shared by every registry; UTC needs no per-document state.
var utcTimezone = &EffectiveTimezone{TZID: "UTC", Location: time.UTC}

// NewTimezoneRegistry builds the registry for one document. defaultTimezone
// may be empty; otherwise it must be a timezone-database name or a known
// provider alias.
func NewTimezoneRegistry(doc *Document, defaultTimezone string) (*TimezoneRegistry, error) {
	r := &TimezoneRegistry{memo: map[string]*EffectiveTimezone{}}
	if cal := doc.Calendar(); cal != nil {
		for _, block := range cal.Timezones() {
			idProp := block.GetProperty(PropertyTzID)
			if idProp == nil {
				continue
			}
			raw := idProp.Value
			if _, ok := r.memo[raw]; ok {
				continue
			}
			r.memo[raw] = effectiveFromBlock(raw, block)
		}
	}
	if defaultTimezone != "" {
		tz, err := r.Resolve(defaultTimezone)
		if err != nil {
			return nil, err
		}
		r.Default = tz
	}
	return r, nil
}

func effectiveFromBlock(raw string, block *Component) *EffectiveTimezone {
	if loc, err := time.LoadLocation(raw); err == nil {
		return &EffectiveTimezone{TZID: raw, Location: loc}
	}
	if canonical, ok := windowsZones[raw]; ok {
		if loc, err := time.LoadLocation(canonical); err == nil {
			return &EffectiveTimezone{TZID: canonical, Location: loc}
		}
	}
	// Opaque local definition: valid ICS, but only readable through the
	// embedded block's own offset rules.
	return &EffectiveTimezone{TZID: raw, rules: extractRules(block)}
}

// UTC returns the effective UTC timezone.
func (r *TimezoneRegistry) UTC() *EffectiveTimezone {
	return utcTimezone
}

// Resolve maps a raw TZID as it appears in the source document to its
// effective timezone. Unresolvable identifiers fail with ErrUnknownTimezone;
// guessing silently would reproduce the very bug being fixed.
func (r *TimezoneRegistry) Resolve(raw string) (*EffectiveTimezone, error) {
	if raw == "" {
		return nil, &Error{Kind: ErrUnknownTimezone, Detail: "empty TZID"}
	}
	if tz, ok := r.memo[raw]; ok {
		if tz.Opaque() && len(tz.rules) == 0 {
			return nil, &Error{Kind: ErrUnknownTimezone, Detail: "VTIMEZONE " + raw + " has no usable offset rules"}
		}
		return tz, nil
	}
	if loc, err := time.LoadLocation(raw); err == nil {
		tz := &EffectiveTimezone{TZID: raw, Location: loc}
		r.memo[raw] = tz
		return tz, nil
	}
	if canonical, ok := windowsZones[raw]; ok {
		if loc, err := time.LoadLocation(canonical); err == nil {
			tz := &EffectiveTimezone{TZID: canonical, Location: loc}
			r.memo[raw] = tz
			return tz, nil
		}
	}
	return nil, &Error{Kind: ErrUnknownTimezone, Detail: raw}
}
