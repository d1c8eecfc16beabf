package ics

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Parameter is a single property parameter with its values in source order.
// Values that were double-quoted in the source are re-emitted quoted so an
// untouched property round-trips byte for byte.
type Parameter struct {
	Name   string
	Values []string
	quoted []bool
}

// Property is one content line: a name, the ordered parameters, and the raw
// value string. The value keeps the encoding it had in the source; text
// escaping is only applied or removed through ToText/FromText when a value is
// actually rewritten.
type Property struct {
	Name   string
	Params []Parameter
	Value  string
}

// Param returns the first value of the named parameter. Parameter names are
// case-insensitive per RFC 5545 section 3.2.
func (p *Property) Param(name string) (string, bool) {
	for i := range p.Params {
		if strings.EqualFold(p.Params[i].Name, name) {
			if len(p.Params[i].Values) == 0 {
				return "", true
			}
			return p.Params[i].Values[0], true
		}
	}
	return "", false
}

// SetParam replaces the named parameter in place, preserving its position, or
// appends it when absent.
func (p *Property) SetParam(name string, values ...string) {
	for i := range p.Params {
		if strings.EqualFold(p.Params[i].Name, name) {
			p.Params[i].Values = values
			p.Params[i].quoted = nil
			return
		}
	}
	p.Params = append(p.Params, Parameter{Name: name, Values: values})
}

// RemoveParam deletes every occurrence of the named parameter.
func (p *Property) RemoveParam(name string) {
	kept := p.Params[:0]
	for _, param := range p.Params {
		if !strings.EqualFold(param.Name, name) {
			kept = append(kept, param)
		}
	}
	p.Params = kept
}

// Clone returns a deep copy of the property.
func (p *Property) Clone() Property {
	c := Property{Name: p.Name, Value: p.Value}
	if len(p.Params) > 0 {
		c.Params = make([]Parameter, len(p.Params))
		for i, param := range p.Params {
			c.Params[i] = Parameter{
				Name:   param.Name,
				Values: append([]string(nil), param.Values...),
			}
			if param.quoted != nil {
				c.Params[i].quoted = append([]bool(nil), param.quoted...)
			}
		}
	}
	return c
}

// ParseContentLine splits a content line into name, parameters and value per
// the grammar in RFC 5545 section 3.1:
//
//	contentline = name *(";" param ) ":" value
//	param       = param-name "=" param-value *("," param-value)
//
// Parameter values may be double-quoted to permit ':' and ';' characters.
func ParseContentLine(line ContentLine) (*Property, error) {
	s := string(line)
	n := nameTokenLen(s)
	if n == 0 {
		return nil, malformedf("missing property name in %q", clip(s))
	}
	p := &Property{Name: s[:n]}
	pos := n
	for {
		if pos >= len(s) {
			return nil, malformedf("unterminated property %s", p.Name)
		}
		switch s[pos] {
		case ':':
			p.Value = s[pos+1:]
			return p, nil
		case ';':
			param, next, err := parseParameter(s, pos+1)
			if err != nil {
				return nil, malformedf("property %s: %v", p.Name, err)
			}
			p.Params = append(p.Params, param)
			pos = next
		default:
			return nil, malformedf("unexpected %q after name of property %s", s[pos], p.Name)
		}
	}
}

func parseParameter(s string, pos int) (Parameter, int, error) {
	n := nameTokenLen(s[pos:])
	if n == 0 {
		return Parameter{}, pos, fmt.Errorf("missing parameter name")
	}
	param := Parameter{Name: s[pos : pos+n]}
	pos += n
	if pos >= len(s) || s[pos] != '=' {
		return Parameter{}, pos, fmt.Errorf("parameter %s has no value", param.Name)
	}
	pos++
	for {
		value, quoted, next, err := parseParamValue(s, pos)
		if err != nil {
			return Parameter{}, pos, fmt.Errorf("parameter %s: %w", param.Name, err)
		}
		param.Values = append(param.Values, value)
		param.quoted = append(param.quoted, quoted)
		pos = next
		if pos < len(s) && s[pos] == ',' {
			pos++
			continue
		}
		return param, pos, nil
	}
}

func parseParamValue(s string, pos int) (value string, quoted bool, next int, err error) {
	if pos < len(s) && s[pos] == '"' {
		end := strings.IndexByte(s[pos+1:], '"')
		if end < 0 {
			return "", false, pos, fmt.Errorf("unterminated quoted value")
		}
		return s[pos+1 : pos+1+end], true, pos + end + 2, nil
	}
	for next = pos; next < len(s); next++ {
		switch s[next] {
		case ';', ':', ',':
			return s[pos:next], false, next, nil
		case '"':
			return "", false, next, fmt.Errorf("unexpected double quote")
		default:
			if s[next] < 0x20 && s[next] != '\t' {
				return "", false, next, fmt.Errorf("control character 0x%02x", s[next])
			}
		}
	}
	return s[pos:], false, next, nil
}

// nameTokenLen measures an iana-token: 1*(ALPHA / DIGIT / "-").
func nameTokenLen(s string) int {
	i := 0
	for i < len(s) {
		c := s[i]
		if c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-' {
			i++
			continue
		}
		break
	}
	return i
}

func clip(s string) string {
	if len(s) > 40 {
		return s[:40] + "..."
	}
	return s
}

func (p *Property) serialize(w io.Writer, cfg *SerializationConfig) {
	b := bytes.NewBufferString(p.Name)
	for _, param := range p.Params {
		b.WriteByte(';')
		b.WriteString(param.Name)
		b.WriteByte('=')
		for vi, v := range param.Values {
			if vi > 0 {
				b.WriteByte(',')
			}
			if (vi < len(param.quoted) && param.quoted[vi]) || strings.ContainsAny(v, ";:,") {
				b.WriteByte('"')
				b.WriteString(v)
				b.WriteByte('"')
			} else {
				b.WriteString(v)
			}
		}
	}
	b.WriteByte(':')
	b.WriteString(p.Value)
	foldLine(w, b.String(), cfg)
}

// foldLine writes a content line folded at the configured octet length per
// RFC 5545 section 3.1, breaking at the last space inside the window when one
// exists and never splitting a UTF-8 rune.
func foldLine(w io.Writer, line string, cfg *SerializationConfig) {
	max := cfg.MaxLength
	if max <= 0 {
		max = 75
	}
	if len(line) > max {
		l := foldPoint(max, line)
		fmt.Fprint(w, line[:l], cfg.NewLine)
		line = line[l:]
		for len(line) > max-1 {
			l = foldPoint(max-1, line)
			fmt.Fprint(w, " ", line[:l], cfg.NewLine)
			line = line[l:]
		}
		fmt.Fprint(w, " ")
	}
	fmt.Fprint(w, line, cfg.NewLine)
}

func foldPoint(maxOctets int, s string) int {
	length := 0
	lastSpace := -1
	for i, r := range s {
		if r == ' ' {
			lastSpace = i
		}
		next := length + utf8.RuneLen(r)
		if next > maxOctets {
			break
		}
		length = next
	}
	if length >= len(s) {
		return len(s)
	}
	if length == 0 {
		// The window is narrower than the first rune; take it whole
		// rather than stalling.
		_, l := utf8.DecodeRuneInString(s)
		return l
	}
	if lastSpace > 0 && lastSpace <= length {
		return lastSpace
	}
	return length
}

var textEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\n", `\n`,
	`;`, `\;`,
	`,`, `\,`,
)

// ToText escapes the special characters of an iCalendar TEXT value.
func ToText(s string) string {
	return textEscaper.Replace(s)
}

var textUnescaper = strings.NewReplacer(
	`\\`, `\`,
	`\n`, "\n",
	`\N`, "\n",
	`\;`, `;`,
	`\,`, `,`,
)

// FromText reverses the TEXT value escaping applied by ToText.
func FromText(s string) string {
	return textUnescaper.Replace(s)
}
