package guidance

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimpsehq/glimpse/internal/clock"
	"github.com/glimpsehq/glimpse/internal/events"
	"github.com/glimpsehq/glimpse/internal/models"
)

func testEngine(t *testing.T) (*Engine, *clock.Fake, chan events.Event) {
	t.Helper()
	fake := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	ch := make(chan events.Event, 64)
	require.NoError(t, bus.Subscribe("test", ch))
	return NewEngine(Config{Clock: fake, Bus: bus}), fake, ch
}

func TestErrorsAlwaysHighPriorityErrorHelp(t *testing.T) {
	e, _, _ := testEngine(t)

	g := e.Process(&models.Analysis{
		Summary:         "Compiler output with failures",
		ApplicationName: "Xcode",
		Errors:          []string{"Build failed"},
		Actions:         []string{"Clean build folder"},
	})

	assert.Equal(t, models.PriorityHigh, g.Priority)
	assert.Equal(t, models.CategoryErrorHelp, g.Category)
	assert.NotEmpty(t, g.ID)
	assert.Equal(t, "Xcode", g.Context)
}

func TestCriticalKeywordIsHighPriority(t *testing.T) {
	e, _, _ := testEngine(t)

	g := e.Process(&models.Analysis{
		Summary:         "Confirming a payment in checkout",
		ApplicationName: "Safari",
	})

	assert.Equal(t, models.PriorityHigh, g.Priority)
	assert.Contains(t, g.Summary, "payment")
}

func TestStuckByConsecutiveIdenticalStates(t *testing.T) {
	e, _, _ := testEngine(t)

	var g models.Guidance
	for i := 0; i < 5; i++ {
		g = e.Process(&models.Analysis{
			Summary:         "Modal dialog blocking the window",
			ApplicationName: "Finder",
		})
	}

	assert.Equal(t, models.PriorityHigh, g.Priority)
	assert.Equal(t, models.CategoryNavigationHelp, g.Category)
}

func TestStuckByElapsedTime(t *testing.T) {
	e, fake, _ := testEngine(t)

	a := &models.Analysis{Summary: "Spinner on a loading page", ApplicationName: "Chrome"}
	g := e.Process(a)
	assert.Equal(t, models.PriorityLow, g.Priority)

	fake.Advance(31 * time.Second)
	g = e.Process(a)
	assert.Equal(t, models.PriorityHigh, g.Priority)
	assert.Equal(t, models.CategoryNavigationHelp, g.Category)
}

func TestRepetitiveSuggestionIsMedium(t *testing.T) {
	e, _, _ := testEngine(t)

	var g models.Guidance
	for i := 0; i < 3; i++ {
		g = e.Process(&models.Analysis{
			Summary:         fmt.Sprintf("Editing slide %d", i),
			ApplicationName: "Keynote",
			Actions:         []string{"Align the selected objects"},
		})
	}

	assert.Equal(t, models.PriorityMedium, g.Priority)
	assert.Equal(t, models.CategoryWorkflowOptimization, g.Category)
}

func TestAutomationDetectedEvent(t *testing.T) {
	e, _, ch := testEngine(t)

	for i := 0; i < 3; i++ {
		e.Process(&models.Analysis{
			Summary:         fmt.Sprintf("Renaming file %d", i),
			ApplicationName: "Finder",
			Actions:         []string{"Copy the name", "Paste into the field"},
		})
	}

	found := false
	for {
		select {
		case ev := <-ch:
			if ev.Type == events.AutomationDetected {
				found = true
			}
			continue
		default:
		}
		break
	}
	assert.True(t, found, "expected an automation-detected event")
}

func TestSuggestionsRankedDedupedTopThree(t *testing.T) {
	e, _, _ := testEngine(t)

	g := e.Process(&models.Analysis{
		Summary:         "Crowded toolbar",
		ApplicationName: "Photoshop",
		Actions: []string{
			"Use the crop tool",
			"use the crop tool", // duplicate, case-insensitive
			"Open the layers panel",
			"Zoom to fit",
			"Reset the workspace",
		},
	})

	require.Len(t, g.Suggestions, 3)
	assert.Equal(t, "Use the crop tool", g.Suggestions[0].Text)
	// Confidence must be non-increasing.
	assert.GreaterOrEqual(t, g.Suggestions[0].Confidence, g.Suggestions[1].Confidence)
	assert.GreaterOrEqual(t, g.Suggestions[1].Confidence, g.Suggestions[2].Confidence)
}

func TestShortcutAttachesToMatchingSuggestion(t *testing.T) {
	e, _, _ := testEngine(t)

	g := e.Process(&models.Analysis{
		Summary:         "Unsaved document",
		ApplicationName: "Pages",
		Actions:         []string{"Press Cmd+S to save the document"},
		Shortcuts:       []string{"Cmd+S"},
	})

	require.NotEmpty(t, g.Suggestions)
	assert.Equal(t, "Cmd+S", g.Suggestions[0].Shortcut)
}

func TestUnmatchedShortcutBecomesSuggestion(t *testing.T) {
	e, _, _ := testEngine(t)

	g := e.Process(&models.Analysis{
		Summary:         "Browsing a long page",
		ApplicationName: "Chrome",
		Shortcuts:       []string{"Cmd+F"},
	})

	require.Len(t, g.Suggestions, 1)
	assert.Equal(t, "Try Cmd+F", g.Suggestions[0].Text)
	assert.Equal(t, "Cmd+F", g.Suggestions[0].Shortcut)
	assert.Equal(t, models.CategoryEfficiencyTip, g.Category)
}

func TestRecentBacklogBounded(t *testing.T) {
	e, _, _ := testEngine(t)

	for i := 0; i < 120; i++ {
		e.Process(&models.Analysis{Summary: fmt.Sprintf("state %d", i)})
	}

	assert.Len(t, e.Recent(), 100)
}
