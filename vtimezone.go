package ics

import (
	"fmt"
	"time"
)

// Transition rules are derived from a fixed reference year so that the
// generated block is deterministic and normalization stays idempotent.
const vtimezoneReferenceYear = 2024

var weekdayCodes = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// canonicalVTimezone synthesizes a VTIMEZONE block for a timezone-database
// zone: a STANDARD sub-component and, when the zone observes daylight saving,
// a DAYLIGHT one, each with TZOFFSETFROM/TZOFFSETTO and a yearly RRULE for
// the transition. This is the most widely understood VTIMEZONE form across
// calendar clients.
func canonicalVTimezone(tzid string, loc *time.Location) *Component {
	block := &Component{Name: ComponentVTimezone}
	block.AddProperty(PropertyTzID, tzid)

	transitions := yearTransitions(loc, vtimezoneReferenceYear)
	if len(transitions) != 2 {
		// No daylight saving (or an irregular rule set): emit a single
		// STANDARD observance with the zone's offset.
		name, off := time.Date(vtimezoneReferenceYear, 1, 1, 0, 0, 0, 0, loc).Zone()
		std := &Component{Name: ComponentStandard}
		std.AddProperty(PropertyTzOffsetFrom, formatUTCOffset(off))
		std.AddProperty(PropertyTzOffsetTo, formatUTCOffset(off))
		if name != "" {
			std.AddProperty(PropertyTzName, name)
		}
		std.AddProperty(PropertyDtStart, "19700101T000000")
		block.Children = append(block.Children, std)
		return block
	}

	for _, tr := range transitions {
		_, offBefore := tr.Add(-time.Second).In(loc).Zone()
		name, offAfter := tr.In(loc).Zone()
		sub := &Component{Name: ComponentStandard}
		if offAfter > offBefore {
			sub.Name = ComponentDaylight
		}
		sub.AddProperty(PropertyTzOffsetFrom, formatUTCOffset(offBefore))
		sub.AddProperty(PropertyTzOffsetTo, formatUTCOffset(offAfter))
		if name != "" {
			sub.AddProperty(PropertyTzName, name)
		}
		// Onset wall time is expressed in the offset in force before the
		// transition, per RFC 5545 section 3.8.2.4.
		wall := tr.UTC().Add(time.Duration(offBefore) * time.Second)
		sub.AddProperty(PropertyDtStart, wall.Format(icalTimestampFormatLocal))
		sub.AddProperty(PropertyRrule, yearlyRule(wall))
		block.Children = append(block.Children, sub)
	}
	return block
}

// yearTransitions lists the zone's offset transition instants within the
// given year, in order.
func yearTransitions(loc *time.Location, year int) []time.Time {
	var transitions []time.Time
	t := time.Date(year, 1, 1, 0, 0, 0, 0, loc)
	for i := 0; i < 8; i++ {
		_, end := t.ZoneBounds()
		if end.IsZero() || !end.After(t) {
			break
		}
		if end.Year() != year {
			break
		}
		transitions = append(transitions, end)
		t = end
	}
	return transitions
}

// yearlyRule renders the onset wall time as FREQ=YEARLY;BYMONTH=..;BYDAY=..,
// using the last-weekday-of-month form when the onset falls in the final week.
func yearlyRule(wall time.Time) string {
	nth := (wall.Day()-1)/7 + 1
	if wall.Day()+7 > daysInMonth(wall.Year(), wall.Month()) {
		nth = -1
	}
	return fmt.Sprintf("FREQ=YEARLY;BYMONTH=%d;BYDAY=%d%s",
		int(wall.Month()), nth, weekdayCodes[int(wall.Weekday())])
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func formatUTCOffset(seconds int) string {
	sign := "+"
	if seconds < 0 {
		sign = "-"
		seconds = -seconds
	}
	h := seconds / 3600
	m := seconds % 3600 / 60
	s := seconds % 60
	if s != 0 {
		return fmt.Sprintf("%s%02d%02d%02d", sign, h, m, s)
	}
	return fmt.Sprintf("%s%02d%02d", sign, h, m)
}
