// Package guidance converts finalized analyses into prioritized, categorized
// recommendations. The engine keeps a short rolling context window so it can
// tell a one-off hiccup from a user who is stuck, looping, or about to do
// something irreversible.
package guidance

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/samber/lo"

	"github.com/glimpsehq/glimpse/internal/clock"
	"github.com/glimpsehq/glimpse/internal/events"
	"github.com/glimpsehq/glimpse/internal/models"
)

const (
	historyWindow   = 10
	guidanceBacklog = 100
	maxSuggestions  = 3

	// stuckConsecutive is how many identical consecutive screen states count
	// as the user being stuck, regardless of elapsed time.
	stuckConsecutive = 5
	// DefaultStuckThreshold is the wall-clock fallback for stuck detection.
	DefaultStuckThreshold = 30 * time.Second

	// repeatCount marks a suggestion as repetitive within the window.
	repeatCount = 3
	// automationCount is how many identical action sequences imply an
	// automatable workflow.
	automationCount = 3
)

// criticalKeywords flag workflows where a wrong move is expensive.
var criticalKeywords = []string{
	"save", "delete", "payment", "deploy", "production", "database",
	"commit", "push", "drop", "overwrite", "purchase",
}

// Config tunes an Engine.
type Config struct {
	StuckThreshold time.Duration
	Clock          clock.Clock
	Bus            *events.Bus // optional; automation-detected events
}

type historyEntry struct {
	analysis *models.Analysis
	at       time.Time
}

// Engine derives Guidance from a stream of analyses.
type Engine struct {
	cfg          Config
	history      []historyEntry
	recent       []models.Guidance // ring of last guidanceBacklog
	seenSuggest  *gocache.Cache    // suggestion text -> count within TTL window
	appActions   map[string]*appStats
	stateSince   time.Time
	lastStateKey string
	stateRepeats int
}

type appStats struct {
	totalActions int
	analyses     int
}

// NewEngine builds an engine with defaults applied.
func NewEngine(cfg Config) *Engine {
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = DefaultStuckThreshold
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewSystem()
	}
	return &Engine{
		cfg:         cfg,
		seenSuggest: gocache.New(5*time.Minute, 10*time.Minute),
		appActions:  make(map[string]*appStats),
	}
}

// Process ingests one finalized analysis and produces guidance for it.
func (e *Engine) Process(a *models.Analysis) models.Guidance {
	now := e.cfg.Clock.Now()
	e.push(a, now)

	stuck := e.detectStuck(a, now)
	repetitive := e.detectRepetition(a)
	critical := detectCriticalKeyword(a.Summary)
	inefficient := e.detectInefficiency(a)
	if e.detectAutomation() && e.cfg.Bus != nil {
		e.cfg.Bus.Emit(events.AutomationDetected, a.Actions)
	}

	priority := models.PriorityLow
	switch {
	case a.HasErrors() || stuck || critical != "":
		priority = models.PriorityHigh
	case repetitive || inefficient:
		priority = models.PriorityMedium
	}

	category := e.categorize(a, stuck, repetitive, inefficient)
	suggestions := e.rankSuggestions(a)

	g := models.Guidance{
		ID:          uuid.NewString(),
		Timestamp:   now,
		Title:       e.title(a, category, critical),
		Summary:     e.summarize(a, stuck, critical),
		Priority:    priority,
		Suggestions: suggestions,
		Category:    category,
		Context:     a.ApplicationName,
	}

	e.recent = append(e.recent, g)
	if len(e.recent) > guidanceBacklog {
		e.recent = e.recent[len(e.recent)-guidanceBacklog:]
	}
	return g
}

// Recent returns the retained guidance backlog, oldest first.
func (e *Engine) Recent() []models.Guidance {
	out := make([]models.Guidance, len(e.recent))
	copy(out, e.recent)
	return out
}

func (e *Engine) push(a *models.Analysis, now time.Time) {
	e.history = append(e.history, historyEntry{analysis: a, at: now})
	if len(e.history) > historyWindow {
		e.history = e.history[len(e.history)-historyWindow:]
	}

	key := stateKey(a)
	if key == e.lastStateKey {
		e.stateRepeats++
	} else {
		e.lastStateKey = key
		e.stateRepeats = 1
		e.stateSince = now
	}

	if a.ApplicationName != "" {
		st, ok := e.appActions[a.ApplicationName]
		if !ok {
			st = &appStats{}
			e.appActions[a.ApplicationName] = st
		}
		st.totalActions += len(a.Actions)
		st.analyses++
	}
}

func stateKey(a *models.Analysis) string {
	return a.ApplicationName + "\x00" + a.Summary
}

// detectStuck: identical screen state across 5+ consecutive insights, or the
// same state persisting beyond the wall-clock threshold.
func (e *Engine) detectStuck(a *models.Analysis, now time.Time) bool {
	if e.stateRepeats >= stuckConsecutive {
		return true
	}
	return e.stateRepeats > 1 && now.Sub(e.stateSince) >= e.cfg.StuckThreshold
}

// detectRepetition: any of this analysis's suggestions already appeared
// repeatCount times in the recent window.
func (e *Engine) detectRepetition(a *models.Analysis) bool {
	repetitive := false
	for _, action := range a.Actions {
		key := strings.ToLower(strings.TrimSpace(action))
		count := 1
		if v, ok := e.seenSuggest.Get(key); ok {
			count = v.(int) + 1
		}
		e.seenSuggest.SetDefault(key, count)
		if count >= repeatCount {
			repetitive = true
		}
	}
	return repetitive
}

// detectInefficiency: this frame needed noticeably more actions than the
// historical average for the same application.
func (e *Engine) detectInefficiency(a *models.Analysis) bool {
	st, ok := e.appActions[a.ApplicationName]
	if !ok || st.analyses < 3 {
		return false
	}
	avg := float64(st.totalActions) / float64(st.analyses)
	return avg > 0 && float64(len(a.Actions)) > avg*1.5
}

// detectAutomation: the same non-empty action sequence appeared
// automationCount or more times in the window.
func (e *Engine) detectAutomation() bool {
	if len(e.history) < automationCount {
		return false
	}
	counts := make(map[string]int)
	for _, h := range e.history {
		if len(h.analysis.Actions) == 0 {
			continue
		}
		seq := strings.ToLower(strings.Join(h.analysis.Actions, "|"))
		counts[seq]++
		if counts[seq] >= automationCount {
			return true
		}
	}
	return false
}

func detectCriticalKeyword(summary string) string {
	lower := strings.ToLower(summary)
	for _, kw := range criticalKeywords {
		if strings.Contains(lower, kw) {
			return kw
		}
	}
	return ""
}

// categorize picks the single most useful bucket. Errors dominate every
// other signal.
func (e *Engine) categorize(a *models.Analysis, stuck, repetitive, inefficient bool) models.GuidanceCategory {
	switch {
	case a.HasErrors():
		return models.CategoryErrorHelp
	case stuck:
		return models.CategoryNavigationHelp
	case repetitive || inefficient:
		return models.CategoryWorkflowOptimization
	case len(a.Shortcuts) > 0:
		return models.CategoryEfficiencyTip
	default:
		return models.CategoryFeatureDiscovery
	}
}

// rankSuggestions builds the deduplicated top-N suggestion list. Actions are
// scored by position (earlier model output ranks higher); shortcuts attach
// to matching suggestions and otherwise become their own entries.
func (e *Engine) rankSuggestions(a *models.Analysis) []models.Suggestion {
	suggestions := make([]models.Suggestion, 0, len(a.Actions)+len(a.Shortcuts))
	for i, action := range a.Actions {
		s := models.Suggestion{
			Text:       action,
			Confidence: 1.0 - float64(i)*0.1,
		}
		if s.Confidence < 0.5 {
			s.Confidence = 0.5
		}
		suggestions = append(suggestions, s)
	}
	for _, sc := range a.Shortcuts {
		attached := false
		for i := range suggestions {
			if suggestions[i].Shortcut == "" && strings.Contains(strings.ToLower(suggestions[i].Text), strings.ToLower(sc)) {
				suggestions[i].Shortcut = sc
				attached = true
				break
			}
		}
		if !attached {
			suggestions = append(suggestions, models.Suggestion{
				Text:       fmt.Sprintf("Try %s", sc),
				Shortcut:   sc,
				Confidence: 0.6,
			})
		}
	}

	suggestions = lo.UniqBy(suggestions, func(s models.Suggestion) string {
		return strings.ToLower(strings.TrimSpace(s.Text))
	})
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Confidence > suggestions[j].Confidence
	})
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	return suggestions
}

func (e *Engine) title(a *models.Analysis, category models.GuidanceCategory, critical string) string {
	switch {
	case a.HasErrors():
		return fmt.Sprintf("Error detected in %s", orScreen(a.ApplicationName))
	case critical != "":
		return fmt.Sprintf("Careful: %s workflow in %s", critical, orScreen(a.ApplicationName))
	case category == models.CategoryNavigationHelp:
		return fmt.Sprintf("Looks like you're stuck in %s", orScreen(a.ApplicationName))
	case category == models.CategoryWorkflowOptimization:
		return "This looks automatable"
	case category == models.CategoryEfficiencyTip:
		return fmt.Sprintf("Shortcut available in %s", orScreen(a.ApplicationName))
	default:
		return fmt.Sprintf("Tip for %s", orScreen(a.ApplicationName))
	}
}

func (e *Engine) summarize(a *models.Analysis, stuck bool, critical string) string {
	var parts []string
	if a.Summary != "" {
		parts = append(parts, a.Summary)
	}
	if len(a.Errors) > 0 {
		parts = append(parts, fmt.Sprintf("Errors: %s", strings.Join(a.Errors, "; ")))
	}
	if stuck {
		parts = append(parts, "The screen has not changed for a while.")
	}
	if critical != "" {
		parts = append(parts, fmt.Sprintf("A %q step is involved; double-check before continuing.", critical))
	}
	return strings.Join(parts, " ")
}

func orScreen(app string) string {
	if app == "" {
		return "this screen"
	}
	return app
}
