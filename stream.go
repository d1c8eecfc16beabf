package ics

import (
	"bufio"
	"io"
)

// ContentLine is a single logical (unfolded) line of an iCalendar document.
type ContentLine string

// LineStream reads content lines from an iCalendar stream. The reader handles
// line folding as described in RFC 5545 section 3.1 so that callers see
// logical lines without CRLF continuations. Lines in an iCalendar file are
// "folded" by inserting a line break followed by a single space or horizontal
// tab; this type hides that detail by returning unfolded lines. CRLF, LF and
// mixed line endings are all accepted.
type LineStream struct {
	b *bufio.Reader
	// physical line number of the first line of the logical line most
	// recently returned, 1-based. Used for error context.
	lineNo  int
	nextNo  int
	started bool
}

// NewLineStream wraps r so the caller can read unfolded content lines. The
// stream is finite and forward-only; restart by constructing a new stream over
// the same input.
func NewLineStream(r io.Reader) *LineStream {
	return &LineStream{
		b:      bufio.NewReader(r),
		nextNo: 1,
	}
}

// LineNumber reports the physical line number at which the most recently
// returned content line started.
func (ls *LineStream) LineNumber() int {
	return ls.lineNo
}

// ReadLine returns the next unfolded content line. A physical line beginning
// with a space or horizontal tab continues the previous one, with exactly one
// leading whitespace character stripped. A continuation marker on the very
// first physical line has nothing to continue and fails with
// ErrMalformedInput. io.EOF is returned after the last line.
func (ls *LineStream) ReadLine() (ContentLine, error) {
	ls.lineNo = ls.nextNo
	r := []byte{}
	read := false
	for {
		b, err := ls.b.ReadBytes('\n')
		if len(b) > 0 {
			ls.nextNo++
			line := trimLineEnding(b)
			if !ls.started && len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
				return "", malformedf("continuation line at start of document")
			}
			ls.started = true
			read = true
			r = append(r, line...)
		}
		if err != nil {
			if err == io.EOF {
				if !read {
					return "", io.EOF
				}
				return ContentLine(r), nil
			}
			return "", err
		}
		// A following space or tab marks a folded continuation of this
		// line; consume the marker and keep reading.
		p, err := ls.b.Peek(1)
		if err != nil || len(p) == 0 {
			return ContentLine(r), nil
		}
		if p[0] == ' ' || p[0] == '\t' {
			_, _ = ls.b.Discard(1)
			continue
		}
		return ContentLine(r), nil
	}
}

func trimLineEnding(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\n' {
		b = b[:len(b)-1]
	}
	if len(b) > 0 && b[len(b)-1] == '\r' {
		b = b[:len(b)-1]
	}
	return b
}
