package ics

import (
	"bytes"
	"io"
	"strconv"
)

// ParseDocument reads an iCalendar object from r into a Document. It
// implements the grammar of RFC 5545 section 3.4: BEGIN lines open a
// component, END lines close the innermost open component, and every other
// content line becomes a property of the innermost open component.
//
// Structural violations fail with ErrStructure: an END naming a component
// other than the open one, an END with no open component, input ending while
// components are still open, and input with no top-level VCALENDAR.
func ParseDocument(r io.Reader) (*Document, error) {
	doc := &Document{}
	ls := NewLineStream(r)
	var stack []*Component
	for {
		l, err := ls.ReadLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(l) == 0 {
			continue
		}
		prop, err := ParseContentLine(l)
		if err != nil {
			if e, ok := err.(*Error); ok {
				e.Detail += lineContext(ls)
			}
			return nil, err
		}
		switch prop.Name {
		case "BEGIN":
			stack = append(stack, &Component{Name: prop.Value})
		case "END":
			if len(stack) == 0 {
				return nil, structuref("END:%s with no open component%s", prop.Value, lineContext(ls))
			}
			top := stack[len(stack)-1]
			if top.Name != prop.Value {
				return nil, structuref("END:%s closes BEGIN:%s%s", prop.Value, top.Name, lineContext(ls))
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				doc.Components = append(doc.Components, top)
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, top)
			}
		default:
			if len(stack) == 0 {
				return nil, structuref("property %s outside any component%s", prop.Name, lineContext(ls))
			}
			top := stack[len(stack)-1]
			top.Properties = append(top.Properties, *prop)
		}
	}
	if len(stack) > 0 {
		return nil, structuref("unterminated BEGIN:%s at end of input", stack[len(stack)-1].Name)
	}
	if doc.Calendar() == nil {
		return nil, structuref("no top-level VCALENDAR component")
	}
	return doc, nil
}

// ParseDocumentBytes is ParseDocument over a byte slice.
func ParseDocumentBytes(raw []byte) (*Document, error) {
	return ParseDocument(bytes.NewReader(raw))
}

func lineContext(ls *LineStream) string {
	return " (line " + strconv.Itoa(ls.LineNumber()) + ")"
}
