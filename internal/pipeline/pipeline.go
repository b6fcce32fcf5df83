// Package pipeline drives the capture-to-insight loop: capture a frame,
// fingerprint it, drop unchanged frames, serve near-duplicates from cache,
// gate the rest on the budget, stream the survivors through the model, and
// hand finalized analyses to the guidance engine.
//
// One pipeline owns one capture stream. Ticks are strictly sequential: the
// next tick is scheduled only after the current one (including any model
// round trip) finishes, so there is never a second in-flight model call and
// all cache and budget mutations happen from a single goroutine.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/glimpsehq/glimpse/internal/analyzer"
	"github.com/glimpsehq/glimpse/internal/budget"
	"github.com/glimpsehq/glimpse/internal/capture"
	"github.com/glimpsehq/glimpse/internal/clock"
	"github.com/glimpsehq/glimpse/internal/events"
	"github.com/glimpsehq/glimpse/internal/framecache"
	"github.com/glimpsehq/glimpse/internal/guidance"
	"github.com/glimpsehq/glimpse/internal/models"
	"github.com/glimpsehq/glimpse/internal/phash"
	"github.com/glimpsehq/glimpse/internal/streamparser"
)

const (
	// Priority assignment thresholds, in percent of fingerprint bits changed.
	highChangePercent   = 20.0
	mediumChangePercent = 5.0

	// criticalCaptureRate is the floor the pipeline drops to after a
	// budget-critical event, until the next daily reset.
	criticalCaptureRate = 1.0

	defaultSweepInterval = 5 * time.Minute
)

// FrameProcessed is the payload of every frame-processed event.
type FrameProcessed struct {
	ContentHash   string          `json:"content_hash"`
	Priority      models.Priority `json:"priority"`
	Cached        bool            `json:"cached"`
	ChangePercent float64         `json:"change_percent"`
}

// InsightEvent pairs an analysis with its derived guidance.
type InsightEvent struct {
	Analysis *models.Analysis `json:"analysis"`
	Guidance models.Guidance  `json:"guidance"`
	Cached   bool             `json:"cached"`
}

// Config wires a pipeline's collaborators.
type Config struct {
	Source        capture.FrameSource
	Client        analyzer.StreamClient
	Cache         *framecache.Cache
	Governor      *budget.Governor
	Guidance      *guidance.Engine
	Bus           *events.Bus
	Clock         clock.Clock
	Logger        *slog.Logger
	Region        capture.Region
	Prompt        string
	SweepInterval time.Duration
}

// Pipeline sequences the capture-to-insight components.
type Pipeline struct {
	cfg Config

	mu           sync.Mutex
	running      bool
	critical     bool
	lastPrint    phash.Fingerprint
	hasLastPrint bool
	stopTick     func() bool
	stopSweep    func() bool
	cancel       context.CancelFunc
	busCh        chan events.Event
}

// New validates the wiring and returns a stopped pipeline.
func New(cfg Config) *Pipeline {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewSystem()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Prompt == "" {
		cfg.Prompt = analyzer.DefaultPrompt
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	return &Pipeline{cfg: cfg}
}

// Start arms the capture tick and TTL sweep timers. It returns immediately;
// processing happens on timer fires.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true

	ctx, p.cancel = context.WithCancel(ctx)

	// Watch for budget pressure and the daily recovery.
	p.busCh = make(chan events.Event, 16)
	if p.cfg.Bus != nil {
		if err := p.cfg.Bus.Subscribe("pipeline", p.busCh); err == nil {
			go p.watchBudget(ctx)
		}
	}

	p.armTickLocked(ctx)
	p.armSweepLocked()
}

// Stop halts further capture ticks. A tick already executing finishes its
// model call and commits (or abandons) atomically.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	if p.stopTick != nil {
		p.stopTick()
	}
	if p.stopSweep != nil {
		p.stopSweep()
	}
	if p.cancel != nil {
		p.cancel()
	}
	if p.cfg.Bus != nil {
		p.cfg.Bus.Unsubscribe("pipeline")
	}
}

func (p *Pipeline) watchBudget(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-p.busCh:
			if !ok {
				return
			}
			switch ev.Type {
			case events.BudgetCritical:
				p.mu.Lock()
				p.critical = true
				p.mu.Unlock()
			case events.DailyReset:
				p.mu.Lock()
				p.critical = false
				p.mu.Unlock()
			}
		}
	}
}

func (p *Pipeline) armTickLocked(ctx context.Context) {
	interval := p.tickIntervalLocked()
	p.stopTick = p.cfg.Clock.AfterFunc(interval, func() {
		p.tick(ctx)
	})
}

func (p *Pipeline) armSweepLocked() {
	p.stopSweep = p.cfg.Clock.AfterFunc(p.cfg.SweepInterval, func() {
		if n := p.cfg.Cache.PruneExpired(); n > 0 {
			p.cfg.Logger.Debug("cache sweep removed expired entries", "count", n)
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.running {
			p.armSweepLocked()
		}
	})
}

// tickInterval derives the capture cadence from the adaptive quality tier,
// clamped down while the budget is critical.
func (p *Pipeline) tickInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tickIntervalLocked()
}

// tickIntervalLocked is tickInterval for callers already holding p.mu.
func (p *Pipeline) tickIntervalLocked() time.Duration {
	rate := p.cfg.Governor.AdaptiveQualitySettings().CaptureRate
	if p.critical && rate > criticalCaptureRate {
		rate = criticalCaptureRate
	}
	if rate <= 0 {
		rate = criticalCaptureRate
	}
	return time.Duration(float64(time.Second) / rate)
}

// tick runs one capture cycle and re-arms the timer. Processing is inline:
// the next tick cannot start until this one (model call included) returns.
func (p *Pipeline) tick(ctx context.Context) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.processTick(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		p.armTickLocked(ctx)
	}
}

func (p *Pipeline) processTick(ctx context.Context) {
	quality := p.cfg.Governor.AdaptiveQualitySettings()

	frame, err := p.cfg.Source.CaptureFrame(ctx, p.cfg.Region)
	if err != nil {
		p.emitError(err)
		return
	}
	if frame == nil {
		// Transient capture failure: retry next tick.
		return
	}

	fp, err := phash.FromBytes(frame.Data)
	if err != nil {
		// Malformed image data: drop the frame, touch nothing.
		p.cfg.Logger.Warn("frame decode failed", "error", err)
		return
	}

	if p.hasLastPrint {
		delta := phash.Distance(p.lastPrint, fp)
		frame.ChangePercent = phash.ChangePercent(p.lastPrint, fp)
		if delta < quality.DiffThreshold {
			p.lastPrint = fp
			return
		}
	} else {
		// First frame always analyzes at full change.
		frame.ChangePercent = 100
	}
	p.lastPrint = fp
	p.hasLastPrint = true

	priority := assignPriority(frame)
	contentHash := framecache.HashContent(frame.Data)

	if entry := p.cfg.Cache.Lookup(contentHash, fp); entry != nil {
		if err := p.cfg.Governor.RecordAnalysis(priority, true); err != nil {
			p.cfg.Logger.Error("usage record failed", "error", err)
		}
		p.publishInsight(entry.Analysis, true)
		p.emitProcessed(FrameProcessed{ContentHash: contentHash, Priority: priority, Cached: true, ChangePercent: frame.ChangePercent})
		return
	}

	if !p.cfg.Governor.ShouldProcess(priority) {
		// Budget policy, not a failure: the frame is silently skipped.
		return
	}

	analysis, err := p.analyze(ctx, frame)
	if err != nil {
		p.emitError(err)
		return
	}
	if analysis == nil {
		// Abandoned mid-stream (shutdown): no partial state was committed.
		return
	}

	// Commit cache and usage together once the result is known.
	p.cfg.Cache.Store(contentHash, fp, analysis, p.analysisCost())
	if err := p.cfg.Governor.RecordAnalysis(priority, false); err != nil {
		p.cfg.Logger.Error("usage record failed", "error", err)
	}

	p.publishInsight(analysis, false)
	p.emitProcessed(FrameProcessed{ContentHash: contentHash, Priority: priority, ChangePercent: frame.ChangePercent})
}

// analyze streams one model completion through the parser. Returns the
// finalized analysis, a nil analysis when the stream was abandoned by
// cancellation, or the transport error.
func (p *Pipeline) analyze(ctx context.Context, frame *models.Frame) (*models.Analysis, error) {
	parser := streamparser.New(streamparser.Callbacks{
		OnInstantAction: func(m streamparser.Match) { p.emit(events.InstantAction, m) },
		OnInstantError:  func(m streamparser.Match) { p.emit(events.InstantError, m) },
		OnShortcut:      func(s string) { p.emit(events.ShortcutDetected, s) },
		OnPartial:       func(buf string) { p.emit(events.PartialUpdate, buf) },
	}, p.cfg.Clock)

	tokens, errs := p.cfg.Client.StreamCompletion(ctx, frame.Data, p.cfg.Prompt)
	for tok := range tokens {
		parser.Feed(tok)
	}
	if err := <-errs; err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, err
	}
	return parser.Finalize(), nil
}

func assignPriority(frame *models.Frame) models.Priority {
	switch {
	case frame.ChangePercent > highChangePercent:
		return models.PriorityHigh
	case frame.CursorRegion:
		return models.PriorityHigh
	case frame.ChangePercent > mediumChangePercent:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

func (p *Pipeline) analysisCost() float64 {
	return p.cfg.Governor.CostPerAnalysis()
}

func (p *Pipeline) publishInsight(analysis *models.Analysis, cached bool) {
	g := p.cfg.Guidance.Process(analysis)
	p.emit(events.Insight, InsightEvent{Analysis: analysis, Guidance: g, Cached: cached})
}

func (p *Pipeline) emitProcessed(fp FrameProcessed) {
	p.emit(events.FrameProcessed, fp)
}

func (p *Pipeline) emitError(err error) {
	p.cfg.Logger.Error("pipeline error", "error", err)
	p.emit(events.Error, err.Error())
}

func (p *Pipeline) emit(t events.Type, payload any) {
	if p.cfg.Bus != nil {
		p.cfg.Bus.Emit(t, payload)
	}
}
