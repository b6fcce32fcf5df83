// Package budget enforces the daily spend ceiling on paid vision-model
// calls. Every frame that survives change detection and the cache passes
// through the governor, which decides whether its priority justifies the
// marginal cost and degrades capture quality as the budget drains.
package budget

import (
	"log/slog"
	"sync"
	"time"

	"github.com/glimpsehq/glimpse/internal/clock"
	"github.com/glimpsehq/glimpse/internal/events"
	"github.com/glimpsehq/glimpse/internal/models"
)

// Defaults for the gating thresholds. Medium and low priority work is
// deferred while the remaining-budget percentage is below its threshold;
// high priority always proceeds.
const (
	DefaultDailyBudget     = 5.0
	DefaultCostPerAnalysis = 0.01
	DefaultMediumThreshold = 50.0
	DefaultLowThreshold    = 80.0
	DefaultWarnEveryN      = 5

	criticalPercent = 10.0
	lowPercent      = 25.0
)

const dateLayout = "2006-01-02"

// PriorityBreakdown counts processed frames per priority for one day.
type PriorityBreakdown struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// UsageRecord is one calendar day of spend accounting. Created lazily at the
// first use of a new day and persisted after every mutation.
type UsageRecord struct {
	Date           string            `json:"date"`
	TotalCost      float64           `json:"total_cost"`
	AnalysisCount  int               `json:"analysis_count"`
	CachedHitCount int               `json:"cached_hit_count"`
	Priorities     PriorityBreakdown `json:"priorities"`
}

// CostUpdate is the payload of every cost-update event.
type CostUpdate struct {
	Date             string  `json:"date"`
	TotalCost        float64 `json:"total_cost"`
	DailyBudget      float64 `json:"daily_budget"`
	RemainingPercent float64 `json:"remaining_percent"`
	AnalysisCount    int     `json:"analysis_count"`
	CachedHitCount   int     `json:"cached_hit_count"`
}

// Config tunes a Governor. Zero values fall back to defaults.
type Config struct {
	DailyBudget     float64
	CostPerAnalysis float64
	MediumThreshold float64 // percent remaining required for medium priority
	LowThreshold    float64 // percent remaining required for low priority
	WarnEveryN      int     // throttle for budget-low/critical events
	Store           UsageStore
	Clock           clock.Clock
	Logger          *slog.Logger
	Bus             *events.Bus
}

// Governor tracks the current day's UsageRecord and gates analysis work.
type Governor struct {
	mu        sync.Mutex
	cfg       Config
	record    *UsageRecord
	stopReset func() bool
	stopped   bool
}

// New loads (or lazily creates) today's record and returns a governor. Call
// Start to arm the midnight reset timer.
func New(cfg Config) (*Governor, error) {
	if cfg.DailyBudget <= 0 {
		cfg.DailyBudget = DefaultDailyBudget
	}
	if cfg.CostPerAnalysis <= 0 {
		cfg.CostPerAnalysis = DefaultCostPerAnalysis
	}
	if cfg.MediumThreshold <= 0 {
		cfg.MediumThreshold = DefaultMediumThreshold
	}
	if cfg.LowThreshold <= 0 {
		cfg.LowThreshold = DefaultLowThreshold
	}
	if cfg.WarnEveryN <= 0 {
		cfg.WarnEveryN = DefaultWarnEveryN
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewSystem()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}

	g := &Governor{cfg: cfg}
	if err := g.loadToday(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Governor) loadToday() error {
	date := g.cfg.Clock.Now().Format(dateLayout)
	rec, err := g.cfg.Store.Load(date)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &UsageRecord{Date: date}
	}
	g.record = rec
	return nil
}

// Start arms the self-renewing local-midnight reset timer.
func (g *Governor) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armResetLocked()
}

// Stop cancels the reset timer.
func (g *Governor) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
	if g.stopReset != nil {
		g.stopReset()
	}
}

func (g *Governor) armResetLocked() {
	now := g.cfg.Clock.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	g.stopReset = g.cfg.Clock.AfterFunc(midnight.Sub(now), g.dailyReset)
}

// dailyReset rolls over to the new day's record and re-arms itself. A fired
// timer always re-arms; a silent death here would disable budget resets for
// the life of the process.
func (g *Governor) dailyReset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return
	}
	if err := g.loadToday(); err != nil {
		g.cfg.Logger.Error("daily budget reset failed to load record", "error", err)
	}
	if err := g.cfg.Store.PruneBefore(g.cfg.Clock.Now().AddDate(0, 0, -retentionDays).Format(dateLayout)); err != nil {
		g.cfg.Logger.Warn("usage history prune failed", "error", err)
	}
	if g.cfg.Bus != nil {
		g.cfg.Bus.Emit(events.DailyReset, g.record.Date)
	}
	g.armResetLocked()
}

// ShouldProcess reports whether a frame of the given priority may be sent to
// the model right now. High priority always proceeds, even over budget (with
// a budget-warning event); medium and low are gated on remaining percentage.
func (g *Governor) ShouldProcess(priority models.Priority) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	remaining := g.remainingPercentLocked()
	switch priority {
	case models.PriorityHigh:
		if remaining <= 0 && g.cfg.Bus != nil {
			g.cfg.Bus.Emit(events.BudgetWarning, CostUpdate{
				Date:             g.record.Date,
				TotalCost:        g.record.TotalCost,
				DailyBudget:      g.cfg.DailyBudget,
				RemainingPercent: remaining,
			})
		}
		return true
	case models.PriorityMedium:
		return remaining >= g.cfg.MediumThreshold
	default:
		return remaining >= g.cfg.LowThreshold
	}
}

// RecordAnalysis accounts for one frame that proceeded (or hit the cache).
// Non-cached frames accrue cost; cached hits only bump the hit counter. The
// record persists after every mutation.
func (g *Governor) RecordAnalysis(priority models.Priority, wasCached bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if wasCached {
		g.record.CachedHitCount++
	} else {
		g.record.TotalCost += g.cfg.CostPerAnalysis
		g.record.AnalysisCount++
	}
	switch priority {
	case models.PriorityHigh:
		g.record.Priorities.High++
	case models.PriorityMedium:
		g.record.Priorities.Medium++
	default:
		g.record.Priorities.Low++
	}

	if err := g.cfg.Store.Save(g.record); err != nil {
		return err
	}

	g.emitCostEventsLocked()
	return nil
}

// emitCostEventsLocked fires cost-update on every record and the budget-low/
// critical warnings throttled to every Nth analysis, so a busy pipeline does
// not storm the UI.
func (g *Governor) emitCostEventsLocked() {
	if g.cfg.Bus == nil {
		return
	}
	update := CostUpdate{
		Date:             g.record.Date,
		TotalCost:        g.record.TotalCost,
		DailyBudget:      g.cfg.DailyBudget,
		RemainingPercent: g.remainingPercentLocked(),
		AnalysisCount:    g.record.AnalysisCount,
		CachedHitCount:   g.record.CachedHitCount,
	}
	g.cfg.Bus.Emit(events.CostUpdate, update)

	if g.record.AnalysisCount == 0 || g.record.AnalysisCount%g.cfg.WarnEveryN != 0 {
		return
	}
	switch {
	case update.RemainingPercent <= criticalPercent:
		g.cfg.Bus.Emit(events.BudgetCritical, update)
	case update.RemainingPercent <= lowPercent:
		g.cfg.Bus.Emit(events.BudgetLow, update)
	}
}

func (g *Governor) remainingPercentLocked() float64 {
	remaining := (g.cfg.DailyBudget - g.record.TotalCost) / g.cfg.DailyBudget * 100.0
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CostPerAnalysis returns the configured marginal cost of one model call.
func (g *Governor) CostPerAnalysis() float64 {
	return g.cfg.CostPerAnalysis
}

// RemainingPercent returns the percentage of today's budget still unspent.
func (g *Governor) RemainingPercent() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remainingPercentLocked()
}

// Record returns a copy of today's usage record.
func (g *Governor) Record() UsageRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	return *g.record
}

// AdaptiveQualitySettings maps the remaining budget onto capture parameters.
// Four tiers; each step captures fewer, smaller, lower-quality frames and
// demands a bigger visual change before analyzing.
func (g *Governor) AdaptiveQualitySettings() models.QualitySettings {
	g.mu.Lock()
	remaining := g.remainingPercentLocked()
	g.mu.Unlock()

	switch {
	case remaining > 70:
		return models.QualitySettings{ImageQuality: 80, ResolutionScale: 1.0, CaptureRate: 5, DiffThreshold: 3}
	case remaining > 40:
		return models.QualitySettings{ImageQuality: 70, ResolutionScale: 0.85, CaptureRate: 2, DiffThreshold: 5}
	case remaining > 20:
		return models.QualitySettings{ImageQuality: 60, ResolutionScale: 0.7, CaptureRate: 1, DiffThreshold: 8}
	default:
		return models.QualitySettings{ImageQuality: 50, ResolutionScale: 0.5, CaptureRate: 0.5, DiffThreshold: 12}
	}
}
