package ics

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContentLine(t *testing.T) {
	tests := []struct {
		Input    string
		Expected func(t *testing.T, p *Property)
		WantErr  bool
	}{
		{Input: "SUMMARY:Team Sync", Expected: func(t *testing.T, p *Property) {
			assert.Equal(t, "SUMMARY", p.Name)
			assert.Empty(t, p.Params)
			assert.Equal(t, "Team Sync", p.Value)
		}},
		{Input: "DTSTART;TZID=America/New_York:20240610T093000", Expected: func(t *testing.T, p *Property) {
			v, ok := p.Param(ParameterTzID)
			assert.True(t, ok)
			assert.Equal(t, "America/New_York", v)
			assert.Equal(t, "20240610T093000", p.Value)
		}},
		{Input: `ATTENDEE;RSVP=TRUE;ROLE=REQ-PARTICIPANT;CUTYPE=GROUP:mailto:employee-A@example.com`, Expected: func(t *testing.T, p *Property) {
			assert.Equal(t, "ATTENDEE", p.Name)
			assert.Len(t, p.Params, 3)
			assert.Equal(t, "mailto:employee-A@example.com", p.Value)
		}},
		{Input: `ORGANIZER;CN="Smith, John":mailto:john@example.com`, Expected: func(t *testing.T, p *Property) {
			v, ok := p.Param("CN")
			assert.True(t, ok)
			assert.Equal(t, "Smith, John", v)
		}},
		{Input: `EXDATE;TZID=Europe/Berlin:20240611T093000,20240618T093000`, Expected: func(t *testing.T, p *Property) {
			assert.Equal(t, "20240611T093000,20240618T093000", p.Value)
		}},
		// Parameter names are case-insensitive.
		{Input: `DTSTART;tzid=UTC:20240610T093000`, Expected: func(t *testing.T, p *Property) {
			v, ok := p.Param("TZID")
			assert.True(t, ok)
			assert.Equal(t, "UTC", v)
		}},
		{Input: "NOVALUE", WantErr: true},
		{Input: ":value without name", WantErr: true},
		{Input: `X-THING;PARAM=T"RUE":v`, WantErr: true},
		{Input: `X-THING;PARAM="unterminated:v`, WantErr: true},
		{Input: "X-THING;PARAM:v", WantErr: true},
	}
	for _, test := range tests {
		t.Run(test.Input, func(t *testing.T) {
			p, err := ParseContentLine(ContentLine(test.Input))
			if test.WantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedInput))
				return
			}
			require.NoError(t, err)
			test.Expected(t, p)
		})
	}
}

func crlfConfig() *SerializationConfig {
	return &SerializationConfig{MaxLength: 75, NewLine: "\r\n"}
}

func TestPropertyRoundTrip(t *testing.T) {
	// An untouched property re-serializes byte for byte, quoting included.
	lines := []string{
		"SUMMARY:Team Sync",
		"DTSTART;TZID=America/New_York:20240610T093000",
		`ORGANIZER;CN="Smith, John":mailto:john@example.com`,
		`ATTENDEE;MEMBER="mailto:a@example.com","mailto:b@example.com":mailto:c@example.com`,
		`RDATE;VALUE=PERIOD:19960403T020000Z/19960403T040000Z`,
	}
	for _, line := range lines {
		t.Run(line, func(t *testing.T) {
			p, err := ParseContentLine(ContentLine(line))
			require.NoError(t, err)
			b := &strings.Builder{}
			p.serialize(b, crlfConfig())
			assert.Equal(t, line+"\r\n", b.String())
		})
	}
}

func TestSetParamKeepsPosition(t *testing.T) {
	p, err := ParseContentLine("DTSTART;VALUE=DATE-TIME;TZID=Eastern Standard Time:20240610T093000")
	require.NoError(t, err)
	p.SetParam(ParameterTzID, "America/New_York")
	b := &strings.Builder{}
	p.serialize(b, crlfConfig())
	assert.Equal(t,
		"DTSTART;VALUE=DATE-TIME;TZID=America/New_York:20240610T093000\r\n",
		b.String())
}

func TestLineFolding(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		output string
	}{
		{
			name:   "short line untouched",
			input:  "SUMMARY:Short",
			output: "SUMMARY:Short\r\n",
		},
		{
			name:  "folds at last space in window",
			input: "DESCRIPTION:This is a long description that exists on a long line which should be folded",
			output: "DESCRIPTION:This is a long description that exists on a long line which\r\n" +
				"  should be folded\r\n",
		},
		{
			name:  "no space to fold at",
			input: "DESCRIPTION:" + strings.Repeat("x", 100),
			output: "DESCRIPTION:" + strings.Repeat("x", 63) + "\r\n" +
				" " + strings.Repeat("x", 37) + "\r\n",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			b := &strings.Builder{}
			foldLine(b, test.input, crlfConfig())
			assert.Equal(t, test.output, b.String())
		})
	}
}

func TestFoldingNeverSplitsRunes(t *testing.T) {
	b := &strings.Builder{}
	foldLine(b, "SUMMARY:"+strings.Repeat("ü", 80), crlfConfig())
	for _, folded := range strings.Split(b.String(), "\r\n") {
		assert.True(t, strings.ToValidUTF8(folded, "?") == folded, "line %q splits a rune", folded)
	}
}

func TestFoldingNarrowWidthMakesProgress(t *testing.T) {
	// A width smaller than one rune must still advance, taking the rune
	// whole rather than looping.
	const input = "SUMMARY:買い物リスト"
	b := &strings.Builder{}
	foldLine(b, input, &SerializationConfig{MaxLength: 2, NewLine: "\r\n"})

	lines := strings.Split(strings.TrimSuffix(b.String(), "\r\n"), "\r\n")
	unfolded := lines[0]
	for _, l := range lines[1:] {
		require.True(t, strings.HasPrefix(l, " "), "continuation %q lost its marker", l)
		assert.Equal(t, l, strings.ToValidUTF8(l, "?"), "line %q splits a rune", l)
		unfolded += l[1:]
	}
	assert.Equal(t, input, unfolded)
}

func TestTextEscaping(t *testing.T) {
	assert.Equal(t, `a\, b\; c\\d\nend`, ToText("a, b; c\\d\nend"))
	assert.Equal(t, "a, b; c\\d\nend", FromText(`a\, b\; c\\d\nend`))
}
