package ics

import (
	"io"
	"strings"
)

// Component names from RFC 5545 section 3.6 that the normalizer inspects.
// Components with other names pass through untouched.
const (
	ComponentVCalendar = "VCALENDAR"
	ComponentVEvent    = "VEVENT"
	ComponentVTimezone = "VTIMEZONE"
	ComponentStandard  = "STANDARD"
	ComponentDaylight  = "DAYLIGHT"
)

// Property and parameter names used by the normalizer.
const (
	PropertyUID          = "UID"
	PropertyDtStart      = "DTSTART"
	PropertyDtEnd        = "DTEND"
	PropertyDuration     = "DURATION"
	PropertyRecurrenceID = "RECURRENCE-ID"
	PropertyExdate       = "EXDATE"
	PropertyRdate        = "RDATE"
	PropertyRrule        = "RRULE"
	PropertyTzID         = "TZID"
	PropertyTzOffsetFrom = "TZOFFSETFROM"
	PropertyTzOffsetTo   = "TZOFFSETTO"
	PropertyTzName       = "TZNAME"

	ParameterTzID  = "TZID"
	ParameterValue = "VALUE"

	ValueDataTypeDate   = "DATE"
	ValueDataTypePeriod = "PERIOD"
)

// Component is a named node of the document tree owning its properties and
// child components exclusively, both in source order.
type Component struct {
	Name       string
	Properties []Property
	Children   []*Component
}

// GetProperty returns the first property with the given name, or nil.
// Property names are case-insensitive.
func (c *Component) GetProperty(name string) *Property {
	for i := range c.Properties {
		if strings.EqualFold(c.Properties[i].Name, name) {
			return &c.Properties[i]
		}
	}
	return nil
}

// GetProperties returns every property with the given name in order.
func (c *Component) GetProperties(name string) []*Property {
	var r []*Property
	for i := range c.Properties {
		if strings.EqualFold(c.Properties[i].Name, name) {
			r = append(r, &c.Properties[i])
		}
	}
	return r
}

// AddProperty appends a property to the component.
func (c *Component) AddProperty(name, value string) *Property {
	c.Properties = append(c.Properties, Property{Name: name, Value: value})
	return &c.Properties[len(c.Properties)-1]
}

// RemoveProperties deletes every property with the given name.
func (c *Component) RemoveProperties(name string) {
	kept := c.Properties[:0]
	for _, p := range c.Properties {
		if !strings.EqualFold(p.Name, name) {
			kept = append(kept, p)
		}
	}
	c.Properties = kept
}

// UID returns the component's unescaped UID value, or "".
func (c *Component) UID() string {
	if p := c.GetProperty(PropertyUID); p != nil {
		return FromText(p.Value)
	}
	return ""
}

// Events returns the direct VEVENT children in order.
func (c *Component) Events() []*Component {
	var r []*Component
	for _, child := range c.Children {
		if child.Name == ComponentVEvent {
			r = append(r, child)
		}
	}
	return r
}

// Timezones returns the direct VTIMEZONE children in order.
func (c *Component) Timezones() []*Component {
	var r []*Component
	for _, child := range c.Children {
		if child.Name == ComponentVTimezone {
			r = append(r, child)
		}
	}
	return r
}

// Clone returns a deep copy of the component.
func (c *Component) Clone() *Component {
	n := &Component{Name: c.Name}
	if len(c.Properties) > 0 {
		n.Properties = make([]Property, len(c.Properties))
		for i := range c.Properties {
			n.Properties[i] = c.Properties[i].Clone()
		}
	}
	if len(c.Children) > 0 {
		n.Children = make([]*Component, len(c.Children))
		for i := range c.Children {
			n.Children[i] = c.Children[i].Clone()
		}
	}
	return n
}

func (c *Component) serializeTo(w io.Writer, cfg *SerializationConfig) {
	_, _ = io.WriteString(w, "BEGIN:"+c.Name+cfg.NewLine)
	for i := range c.Properties {
		c.Properties[i].serialize(w, cfg)
	}
	for _, child := range c.Children {
		child.serializeTo(w, cfg)
	}
	_, _ = io.WriteString(w, "END:"+c.Name+cfg.NewLine)
}

// Document is the parsed form of one iCalendar stream: an ordered sequence of
// top-level components, normally exactly one VCALENDAR.
type Document struct {
	Components []*Component
}

// Calendar returns the first top-level VCALENDAR component.
func (d *Document) Calendar() *Component {
	for _, c := range d.Components {
		if c.Name == ComponentVCalendar {
			return c
		}
	}
	return nil
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	n := &Document{Components: make([]*Component, len(d.Components))}
	for i := range d.Components {
		n.Components[i] = d.Components[i].Clone()
	}
	return n
}

// SerializationConfig controls how documents are written out. MaxLength is
// the folding width from RFC 5545 section 3.1; NewLine selects the line
// termination sequence.
type SerializationConfig struct {
	MaxLength int
	NewLine   string
}

// WithNewLine overrides the line termination used when serializing.
type WithNewLine string

// WithLineLength overrides the folding width used when serializing.
type WithLineLength int

func defaultSerializationConfig() *SerializationConfig {
	return &SerializationConfig{
		MaxLength: 75,
		NewLine:   string(NewLine),
	}
}

func parseSerializeOps(ops []any) *SerializationConfig {
	cfg := defaultSerializationConfig()
	for _, op := range ops {
		switch op := op.(type) {
		case WithNewLine:
			cfg.NewLine = string(op)
		case WithLineLength:
			cfg.MaxLength = int(op)
		case *SerializationConfig:
			return op
		}
	}
	return cfg
}

// Serialize renders the document as iCalendar text. Properties untouched
// since parsing are re-emitted byte for byte apart from re-applied folding.
func (d *Document) Serialize(ops ...any) string {
	b := &strings.Builder{}
	d.SerializeTo(b, ops...)
	return b.String()
}

// SerializeTo writes the document to w. See Serialize.
func (d *Document) SerializeTo(w io.Writer, ops ...any) {
	cfg := parseSerializeOps(ops)
	for _, c := range d.Components {
		c.serializeTo(w, cfg)
	}
}
