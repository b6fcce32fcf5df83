package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimpsehq/glimpse/internal/clock"
	"github.com/glimpsehq/glimpse/internal/events"
	"github.com/glimpsehq/glimpse/internal/models"
)

func testGovernor(t *testing.T, budget, cost float64) (*Governor, *clock.Fake, chan events.Event) {
	t.Helper()
	fake := clock.NewFake(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	ch := make(chan events.Event, 128)
	require.NoError(t, bus.Subscribe("test", ch))

	g, err := New(Config{
		DailyBudget:     budget,
		CostPerAnalysis: cost,
		Clock:           fake,
		Bus:             bus,
		WarnEveryN:      1,
	})
	require.NoError(t, err)
	return g, fake, ch
}

func drain(ch chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countType(evs []events.Event, t events.Type) int {
	n := 0
	for _, ev := range evs {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func TestGatingThresholds(t *testing.T) {
	g, _, _ := testGovernor(t, 10, 1)

	// Fresh budget: everything proceeds.
	assert.True(t, g.ShouldProcess(models.PriorityHigh))
	assert.True(t, g.ShouldProcess(models.PriorityMedium))
	assert.True(t, g.ShouldProcess(models.PriorityLow))

	// Spend 9 of 10: 10% remaining.
	for i := 0; i < 9; i++ {
		require.NoError(t, g.RecordAnalysis(models.PriorityHigh, false))
	}

	assert.True(t, g.ShouldProcess(models.PriorityHigh))
	assert.False(t, g.ShouldProcess(models.PriorityMedium))
	assert.False(t, g.ShouldProcess(models.PriorityLow))

	// Spend the 10th: 0% remaining. Medium stays gated at its threshold.
	require.NoError(t, g.RecordAnalysis(models.PriorityHigh, false))
	assert.False(t, g.ShouldProcess(models.PriorityMedium))
	assert.True(t, g.ShouldProcess(models.PriorityHigh))
}

func TestLowPriorityGatesAt80Percent(t *testing.T) {
	g, _, _ := testGovernor(t, 10, 1)

	require.NoError(t, g.RecordAnalysis(models.PriorityLow, false))
	require.NoError(t, g.RecordAnalysis(models.PriorityLow, false))
	assert.InDelta(t, 80.0, g.RemainingPercent(), 1e-9)
	assert.True(t, g.ShouldProcess(models.PriorityLow))

	require.NoError(t, g.RecordAnalysis(models.PriorityLow, false))
	assert.False(t, g.ShouldProcess(models.PriorityLow))
	assert.True(t, g.ShouldProcess(models.PriorityMedium))
}

func TestOverBudgetHighEmitsWarning(t *testing.T) {
	g, _, ch := testGovernor(t, 1, 1)

	require.NoError(t, g.RecordAnalysis(models.PriorityHigh, false))
	drain(ch)

	assert.True(t, g.ShouldProcess(models.PriorityHigh))
	evs := drain(ch)
	assert.Equal(t, 1, countType(evs, events.BudgetWarning))
}

func TestCachedHitAccruesNoCost(t *testing.T) {
	g, _, _ := testGovernor(t, 10, 1)

	require.NoError(t, g.RecordAnalysis(models.PriorityMedium, true))
	rec := g.Record()
	assert.Zero(t, rec.TotalCost)
	assert.Zero(t, rec.AnalysisCount)
	assert.Equal(t, 1, rec.CachedHitCount)
	assert.Equal(t, 1, rec.Priorities.Medium)
}

func TestRecordPersistsEveryMutation(t *testing.T) {
	store := NewMemoryStore()
	fake := clock.NewFake(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	g, err := New(Config{DailyBudget: 10, CostPerAnalysis: 1, Store: store, Clock: fake})
	require.NoError(t, err)

	require.NoError(t, g.RecordAnalysis(models.PriorityHigh, false))
	require.NoError(t, g.RecordAnalysis(models.PriorityLow, true))

	rec, err := store.Load("2025-06-01")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.AnalysisCount)
	assert.Equal(t, 1, rec.CachedHitCount)
	assert.InDelta(t, 1.0, rec.TotalCost, 1e-9)

	// analysisCount + cachedHitCount equals frames that proceeded or hit.
	assert.Equal(t, 2, rec.AnalysisCount+rec.CachedHitCount)
}

func TestBudgetEventsThrottled(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	bus := events.NewBus()
	defer bus.Close()
	ch := make(chan events.Event, 256)
	require.NoError(t, bus.Subscribe("test", ch))

	g, err := New(Config{
		DailyBudget:     10,
		CostPerAnalysis: 1,
		Clock:           fake,
		Bus:             bus,
		WarnEveryN:      5,
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, g.RecordAnalysis(models.PriorityHigh, false))
	}

	evs := drain(ch)
	assert.Equal(t, 10, countType(evs, events.CostUpdate))
	// Warnings only on the 5th and 10th analyses: at count 5 there is 50%
	// left (no warning); at count 10 there is 0% left (critical).
	assert.Equal(t, 1, countType(evs, events.BudgetCritical))
	assert.Zero(t, countType(evs, events.BudgetLow))
}

func TestAdaptiveQualityMonotonic(t *testing.T) {
	g, _, _ := testGovernor(t, 100, 1)

	var prev models.QualitySettings
	first := true
	// Walk the budget down through all four tiers.
	for i := 0; i < 100; i++ {
		q := g.AdaptiveQualitySettings()
		if !first {
			assert.LessOrEqual(t, q.CaptureRate, prev.CaptureRate)
			assert.LessOrEqual(t, q.ImageQuality, prev.ImageQuality)
			assert.LessOrEqual(t, q.ResolutionScale, prev.ResolutionScale)
			assert.GreaterOrEqual(t, q.DiffThreshold, prev.DiffThreshold)
		}
		prev = q
		first = false
		require.NoError(t, g.RecordAnalysis(models.PriorityHigh, false))
	}

	assert.Equal(t, models.QualitySettings{ImageQuality: 50, ResolutionScale: 0.5, CaptureRate: 0.5, DiffThreshold: 12},
		g.AdaptiveQualitySettings())
}

func TestDailyResetRollsOverAndRearms(t *testing.T) {
	g, fake, ch := testGovernor(t, 10, 1)
	g.Start()
	defer g.Stop()

	require.NoError(t, g.RecordAnalysis(models.PriorityHigh, false))
	assert.InDelta(t, 90.0, g.RemainingPercent(), 1e-9)
	drain(ch)

	// Cross midnight: fresh record, daily-reset event.
	fake.Advance(24 * time.Hour)
	assert.Equal(t, "2025-06-02", g.Record().Date)
	assert.InDelta(t, 100.0, g.RemainingPercent(), 1e-9)
	assert.Equal(t, 1, countType(drain(ch), events.DailyReset))

	// Timer must have re-armed itself for the next midnight.
	fake.Advance(24 * time.Hour)
	assert.Equal(t, "2025-06-03", g.Record().Date)
	assert.Equal(t, 1, countType(drain(ch), events.DailyReset))
}

func TestHistoryRetention(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save(&UsageRecord{Date: "2025-01-01"}))
	require.NoError(t, store.Save(&UsageRecord{Date: "2025-05-30"}))
	require.NoError(t, store.PruneBefore("2025-03-01"))

	recs, err := store.History(0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "2025-05-30", recs[0].Date)
}
