package ics

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineStreamUnfolding(t *testing.T) {
	input := "ATTENDEE;RSVP=TRUE;ROLE=REQ-PARTICIPANT;CUTYPE=GROUP:\r\n" +
		" mailto:employee-A@example.com\r\n" +
		"DESCRIPTION:Project XYZ\r\n" +
		"\tReview Meeting\r\n" +
		"CATEGORIES:MEETING\n" +
		"CLASS:PUBLIC"
	expected := []ContentLine{
		"ATTENDEE;RSVP=TRUE;ROLE=REQ-PARTICIPANT;CUTYPE=GROUP:mailto:employee-A@example.com",
		"DESCRIPTION:Project XYZReview Meeting",
		"CATEGORIES:MEETING",
		"CLASS:PUBLIC",
	}
	ls := NewLineStream(strings.NewReader(input))
	for i, want := range expected {
		got, err := ls.ReadLine()
		require.NoError(t, err, "line %d", i)
		assert.Equal(t, want, got, "line %d", i)
	}
	_, err := ls.ReadLine()
	assert.Equal(t, io.EOF, err)
}

func TestLineStreamLineNumbers(t *testing.T) {
	input := "FIRST:1\r\nSECOND:2\r\n part two\r\nTHIRD:3\r\n"
	ls := NewLineStream(strings.NewReader(input))

	_, err := ls.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, 1, ls.LineNumber())

	_, err = ls.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, 2, ls.LineNumber())

	_, err = ls.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, 4, ls.LineNumber())
}

func TestLineStreamLeadingContinuation(t *testing.T) {
	ls := NewLineStream(strings.NewReader(" dangling continuation\r\nSUMMARY:x\r\n"))
	_, err := ls.ReadLine()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedInput))
}

func TestLineStreamNoFinalNewline(t *testing.T) {
	ls := NewLineStream(strings.NewReader("SUMMARY:no newline at end"))
	l, err := ls.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, ContentLine("SUMMARY:no newline at end"), l)
	_, err = ls.ReadLine()
	assert.Equal(t, io.EOF, err)
}
