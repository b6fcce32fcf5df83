package streamparser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects instant signals for assertions.
type recorder struct {
	actions   []Match
	errors    []Match
	shortcuts []string
	partials  []string
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnInstantAction: func(m Match) { r.actions = append(r.actions, m) },
		OnInstantError:  func(m Match) { r.errors = append(r.errors, m) },
		OnShortcut:      func(s string) { r.shortcuts = append(r.shortcuts, s) },
		OnPartial:       func(s string) { r.partials = append(r.partials, s) },
	}
}

// feedTokens splits text into whitespace-preserving tokens roughly the way a
// model streams them.
func feedTokens(p *Parser, text string) {
	for _, tok := range strings.SplitAfter(text, " ") {
		p.Feed(tok)
	}
}

func TestStreamEndToEnd(t *testing.T) {
	rec := &recorder{}
	p := New(rec.callbacks(), nil)

	feedTokens(p, "SUMMARY: Build failed\nAPP: Xcode\n- Clean build folder\nERRORS: Build failed\nSHORTCUTS: Cmd+Shift+K\n")
	a := p.Finalize()

	assert.Equal(t, "Build failed", a.Summary)
	assert.Equal(t, "Xcode", a.ApplicationName)
	assert.Equal(t, []string{"Clean build folder"}, a.Actions)
	assert.Equal(t, []string{"Build failed"}, a.Errors)
	assert.Equal(t, []string{"Cmd+Shift+K"}, a.Shortcuts)
	assert.Len(t, rec.errors, 1, "exactly one instant-error per stream")
	assert.Equal(t, Finalized, p.State())
}

func TestInstantActionFiresOnce(t *testing.T) {
	rec := &recorder{}
	p := New(rec.callbacks(), nil)

	feedTokens(p, "You should click the Save button. Then click the Close button.")

	require.Len(t, rec.actions, 1)
	// The one-shot fires on the earliest token at which the pattern matches,
	// so the carried text may be a prefix of the full instruction.
	assert.True(t, strings.HasPrefix(strings.ToLower(rec.actions[0].Text), "click the"))
	assert.Greater(t, rec.actions[0].Confidence, 0.0)
	assert.LessOrEqual(t, rec.actions[0].Confidence, 1.0)
}

func TestInstantErrorConfidenceFixed(t *testing.T) {
	rec := &recorder{}
	p := New(rec.callbacks(), nil)

	feedTokens(p, "There is an error in the terminal output")

	require.Len(t, rec.errors, 1)
	assert.InDelta(t, 0.95, rec.errors[0].Confidence, 1e-9)
}

func TestShortcutsEmittedOncePerChord(t *testing.T) {
	rec := &recorder{}
	p := New(rec.callbacks(), nil)

	feedTokens(p, "Use Cmd+S to save. Cmd+S again does nothing. Ctrl+Z undoes.")

	assert.Equal(t, []string{"Cmd+S", "Ctrl+Z"}, rec.shortcuts)
}

func TestPartialUpdatesEveryTwentyChars(t *testing.T) {
	rec := &recorder{}
	p := New(rec.callbacks(), nil)

	// 60 chars of neutral text in 6-char tokens.
	for i := 0; i < 10; i++ {
		p.Feed("sixchr")
	}

	// Crossing 20, 40 and 60 buffered characters.
	assert.Len(t, rec.partials, 3)
	assert.Len(t, rec.partials[0], 24)
}

func TestErrorsNoneIgnored(t *testing.T) {
	p := New(Callbacks{}, nil)
	feedTokens(p, "SUMMARY: Editing a document\nAPP: Pages\nERRORS: None\nSHORTCUTS: None\n")
	a := p.Finalize()

	assert.Empty(t, a.Errors)
	assert.Empty(t, a.Shortcuts)
	assert.Equal(t, "Editing a document", a.Summary)
}

func TestShortcutsCommaSeparated(t *testing.T) {
	p := New(Callbacks{}, nil)
	p.Feed("SHORTCUTS: Cmd+S, Ctrl+Shift+P , Alt+F4\n")
	a := p.Finalize()

	assert.Equal(t, []string{"Cmd+S", "Ctrl+Shift+P", "Alt+F4"}, a.Shortcuts)
}

func TestFinalRescanAddsProseActions(t *testing.T) {
	p := New(Callbacks{}, nil)
	feedTokens(p, "SUMMARY: Form with unsaved changes\nYou should press Enter to submit the form.\n- Press Enter to submit the form\n")
	a := p.Finalize()

	// The bullet already captured the action; the prose re-scan must not
	// duplicate it.
	require.Len(t, a.Actions, 1)
	assert.Equal(t, "Press Enter to submit the form", a.Actions[0])
}

func TestFinalizeIdempotent(t *testing.T) {
	p := New(Callbacks{}, nil)
	feedTokens(p, "SUMMARY: Something\n- Do a thing\n")

	a1 := p.Finalize()
	a2 := p.Finalize()

	assert.Same(t, a1, a2)

	// Tokens after finalization are ignored.
	p.Feed("APP: Late\n")
	assert.Empty(t, p.Finalize().ApplicationName)
}

func TestEmptyStreamDegradesGracefully(t *testing.T) {
	p := New(Callbacks{}, nil)
	a := p.Finalize()

	assert.Empty(t, a.Summary)
	assert.Empty(t, a.Actions)
	assert.Empty(t, a.Errors)
	assert.Zero(t, a.ProcessingTimeMs)
}

func TestConfidenceRewardsEarlyCompleteMatches(t *testing.T) {
	lateBuf := "a lot of leading text comes first and then click the button."
	early := confidence("click the button. And then a lot of trailing text follows here", "click the button", 0)
	late := confidence(lateBuf, "click the button", strings.Index(lateBuf, "click"))

	assert.Greater(t, early, late)
	assert.InDelta(t, 1.0, early, 1e-9) // at position zero, sentence-complete
}
