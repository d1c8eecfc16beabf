package ics

import (
	"time"
)

// Window bounds the optional occurrence expansion: recurring events are
// expanded into concrete instances intersecting [Start, End) and events
// entirely outside the window are dropped. A nil window in Config disables
// expansion and the document passes through one-to-one.
type Window struct {
	Start time.Time
	End   time.Time
}

// Config is the caller-supplied configuration for one normalization run. The
// core never reads the environment or files; the calling service owns that.
type Config struct {
	// OutputMode defaults to OutputModeUTC when empty.
	OutputMode OutputMode
	// DefaultTimezone is the timezone-database name assumed for floating
	// times. Empty means floating times resolve to UTC with a
	// FloatingTimeAssumed diagnostic.
	DefaultTimezone string
	// Window, when non-nil, enables occurrence expansion.
	Window *Window
}

// Result is a successful normalization: the rewritten document bytes and the
// non-fatal diagnostics gathered along the way, in document order.
type Result struct {
	Bytes       []byte
	Diagnostics []Diagnostic
}

// Normalize rewrites the timezone-bearing fields of a raw iCalendar document
// into an unambiguous, portable form. It is a pure function of the input
// bytes and the configuration: no state survives the call and concurrent
// invocations need no coordination.
//
// Failures are all-or-nothing; on error no output bytes are produced and the
// returned error wraps one of ErrMalformedInput, ErrStructure or
// ErrUnknownTimezone with the offending location.
func Normalize(raw []byte, cfg Config) (*Result, error) {
	mode := cfg.OutputMode
	if mode == "" {
		mode = OutputModeUTC
	}
	if mode != OutputModeUTC && mode != OutputModeCanonicalTZID {
		return nil, malformedf("unsupported output mode %q", mode)
	}

	doc, err := ParseDocumentBytes(raw)
	if err != nil {
		return nil, err
	}
	reg, err := NewTimezoneRegistry(doc, cfg.DefaultTimezone)
	if err != nil {
		return nil, err
	}
	var expandDiags []Diagnostic
	if cfg.Window != nil {
		doc, expandDiags, err = expandWindow(doc, reg, *cfg.Window)
		if err != nil {
			return nil, err
		}
	}
	out, diags, err := normalizeDocument(doc, reg, mode)
	if err != nil {
		return nil, err
	}
	return &Result{
		Bytes:       []byte(out.Serialize(WithNewLineWindows)),
		Diagnostics: append(expandDiags, diags...),
	}, nil
}
