package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/glimpsehq/glimpse/internal/analyzer"
	"github.com/glimpsehq/glimpse/internal/budget"
	"github.com/glimpsehq/glimpse/internal/capture"
	"github.com/glimpsehq/glimpse/internal/config"
	"github.com/glimpsehq/glimpse/internal/events"
	"github.com/glimpsehq/glimpse/internal/framecache"
	"github.com/glimpsehq/glimpse/internal/guidance"
	"github.com/glimpsehq/glimpse/internal/history"
	"github.com/glimpsehq/glimpse/internal/pipeline"
	"github.com/glimpsehq/glimpse/internal/settings"
	"github.com/glimpsehq/glimpse/internal/streamparser"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "glimpse",
		Short: "Watch the screen and surface guidance from a local vision model",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "glimpse.yaml", "path to config file")

	root.AddCommand(runCmd(), usageCmd(), cacheCmd(), searchCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      lvl,
			TimeFormat: "15:04:05",
		}),
	)
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the capture-to-insight loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log.Level)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, logger)
		},
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	prefs, err := settings.Open("glimpse-settings.json")
	if err != nil {
		return fmt.Errorf("open settings: %w", err)
	}

	bus := events.NewBus()
	defer bus.Close()

	ledger, err := budget.OpenSQLite(cfg.Budget.LedgerPath)
	if err != nil {
		return fmt.Errorf("open usage ledger: %w", err)
	}
	defer ledger.Close()

	retentionDays := int(cfg.Budget.Retention.Std().Hours() / 24)
	if retentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -retentionDays).Format("2006-01-02")
		if err := ledger.PruneBefore(cutoff); err != nil {
			logger.Warn("prune usage ledger", "error", err)
		}
	}

	governor, err := budget.New(budget.Config{
		DailyBudget:     prefs.GetFloat("daily_budget", cfg.Budget.DailyBudget),
		CostPerAnalysis: cfg.Budget.CostPerAnalysis,
		WarnEveryN:      cfg.Budget.ThrottleEvery,
		Store:           ledger,
		Logger:          logger,
		Bus:             bus,
	})
	if err != nil {
		return fmt.Errorf("init budget governor: %w", err)
	}
	governor.Start()
	defer governor.Stop()

	cache := framecache.New(framecache.Config{
		Capacity:            cfg.Cache.Capacity,
		TTL:                 cfg.Cache.TTL.Std(),
		SimilarityThreshold: cfg.Cache.SimilarityThreshold,
		Logger:              logger,
		Bus:                 bus,
	})
	if data, err := os.ReadFile(cfg.Cache.SnapshotPath); err == nil {
		cache.ImportSnapshot(data)
	}
	defer func() {
		if data, err := cache.ExportSnapshot(); err == nil {
			if err := os.WriteFile(cfg.Cache.SnapshotPath, data, 0o644); err != nil {
				logger.Warn("write cache snapshot", "error", err)
			}
		}
	}()

	visionAgent, err := analyzer.NewAgent(ctx, analyzer.AgentConfig{
		BaseURL: cfg.Model.Host,
		Port:    cfg.Model.Port,
		Model:   cfg.Model.Name,
	}, logger)
	if err != nil {
		return fmt.Errorf("init vision agent: %w", err)
	}

	quality := governor.AdaptiveQualitySettings()
	source := capture.NewFFmpegSource(quality.ImageQuality, logger)

	var archive *history.Store
	if cfg.History.DSN != "" {
		embedder := history.NewEmbedService(
			history.NewOllamaEmbedder(fmt.Sprintf("%s:%d", cfg.Model.Host, cfg.Model.Port), cfg.History.EmbedModel), 0)
		defer embedder.Close()

		archive, err = history.Open(ctx, cfg.History.DSN, time.Now().Format("session-2006-01-02-150405"), embedder)
		if err != nil {
			logger.Warn("history archive unavailable, continuing without it", "error", err)
			archive = nil
		} else {
			defer archive.Close()
		}
	}

	engine := guidance.NewEngine(guidance.Config{Bus: bus})

	pipe := pipeline.New(pipeline.Config{
		Source:   source,
		Client:   analyzer.NewAgentClient(visionAgent),
		Cache:    cache,
		Governor: governor,
		Guidance: engine,
		Bus:      bus,
		Logger:   logger,
		Region:   capture.Region{DisplayID: prefs.GetString("display", cfg.Capture.Display)},
	})

	evCh := make(chan events.Event, 64)
	if err := bus.Subscribe("cli", evCh); err != nil {
		return fmt.Errorf("subscribe cli: %w", err)
	}
	defer bus.Unsubscribe("cli")

	// Live preference changes: capture quality applies immediately, the rest
	// on restart.
	prefs.Watch(func(key string, value any) {
		if key == "jpeg_quality" {
			if q, ok := value.(float64); ok {
				source.SetQuality(int(q))
				return
			}
		}
		logger.Info("setting changed, applies on restart", "key", key)
	})

	pipe.Start(ctx)
	defer pipe.Stop()

	logger.Info("glimpse running", "model", cfg.Model.Name, "display", cfg.Capture.Display)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down", "cache_entries", cache.Len())
			return nil
		case ev := <-evCh:
			renderEvent(ctx, logger, archive, source, governor, ev)
		}
	}
}

// renderEvent is the CLI's view layer: insights go to stdout, everything
// else to the structured log.
func renderEvent(ctx context.Context, logger *slog.Logger, archive *history.Store, source *capture.FFmpegSource, governor *budget.Governor, ev events.Event) {
	switch ev.Type {
	case events.Insight:
		ins, ok := ev.Payload.(pipeline.InsightEvent)
		if !ok {
			return
		}
		printInsight(ins)
		if archive != nil {
			if err := archive.Save(ctx, ins.Analysis); err != nil {
				logger.Warn("archive insight", "error", err)
			}
		}
	case events.InstantAction:
		if m, ok := ev.Payload.(streamparser.Match); ok {
			logger.Info("instant action", "text", m.Text, "confidence", m.Confidence)
		}
	case events.InstantError:
		if m, ok := ev.Payload.(streamparser.Match); ok {
			logger.Warn("error on screen", "text", m.Text)
		}
	case events.ShortcutDetected:
		logger.Info("shortcut", "chord", ev.Payload)
	case events.BudgetWarning, events.BudgetLow, events.BudgetCritical:
		logger.Warn(string(ev.Type), "detail", ev.Payload)
		// Degraded tiers also lower capture quality.
		source.SetQuality(governor.AdaptiveQualitySettings().ImageQuality)
	case events.DailyReset:
		logger.Info("daily budget reset")
		source.SetQuality(governor.AdaptiveQualitySettings().ImageQuality)
	case events.AutomationDetected:
		logger.Info("repeated action sequence detected", "detail", ev.Payload)
	case events.Error:
		logger.Error("pipeline error", "error", ev.Payload)
	}
}

func printInsight(ins pipeline.InsightEvent) {
	g := ins.Guidance
	fmt.Printf("\n[%s] %s\n", strings.ToUpper(string(g.Priority)), g.Title)
	if g.Summary != "" {
		fmt.Println(g.Summary)
	}
	for _, s := range g.Suggestions {
		line := "  - " + s.Text
		if s.Shortcut != "" {
			line += " (" + s.Shortcut + ")"
		}
		fmt.Println(line)
	}
	if ins.Cached {
		fmt.Println("  (from cache)")
	}
}

func usageCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show recent daily spend from the usage ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ledger, err := budget.OpenSQLite(cfg.Budget.LedgerPath)
			if err != nil {
				return fmt.Errorf("open usage ledger: %w", err)
			}
			defer ledger.Close()

			records, err := ledger.History(days)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("no usage recorded yet")
				return nil
			}

			fmt.Printf("%-12s %10s %10s %8s\n", "DATE", "SPENT", "ANALYSES", "CACHED")
			for _, rec := range records {
				fmt.Printf("%-12s %10.4f %10d %8d\n", rec.Date, rec.TotalCost, rec.AnalysisCount, rec.CachedHitCount)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 14, "number of days to show")
	return cmd
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or prune the persisted analysis cache",
	}

	loadSnapshot := func() (*framecache.Cache, config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, cfg, err
		}
		cache := framecache.New(framecache.Config{
			Capacity:            cfg.Cache.Capacity,
			TTL:                 cfg.Cache.TTL.Std(),
			SimilarityThreshold: cfg.Cache.SimilarityThreshold,
		})
		data, err := os.ReadFile(cfg.Cache.SnapshotPath)
		if err != nil {
			return nil, cfg, fmt.Errorf("read cache snapshot: %w", err)
		}
		cache.ImportSnapshot(data)
		return cache, cfg, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cache entry count and hit statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, cfg, err := loadSnapshot()
			if err != nil {
				return err
			}
			// Live hit counters are not persisted; per-entry access counts are.
			var replays int
			var saved float64
			for _, e := range cache.Entries() {
				replays += e.AccessCount
				saved += e.Cost * float64(e.AccessCount)
			}
			fmt.Printf("entries:    %d (capacity %d, ttl %s)\n", cache.Len(), cfg.Cache.Capacity, cfg.Cache.TTL.Std())
			fmt.Printf("replays:    %d\n", replays)
			fmt.Printf("cost saved: %.4f\n", saved)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Drop expired entries and rewrite the snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, cfg, err := loadSnapshot()
			if err != nil {
				return err
			}
			removed := cache.PruneExpired()
			data, err := cache.ExportSnapshot()
			if err != nil {
				return err
			}
			if err := os.WriteFile(cfg.Cache.SnapshotPath, data, 0o644); err != nil {
				return fmt.Errorf("write cache snapshot: %w", err)
			}
			fmt.Printf("pruned %d expired entries, %d remain\n", removed, cache.Len())
			return nil
		},
	})

	return cmd
}

func searchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search archived insights by similarity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.History.DSN == "" {
				return fmt.Errorf("history.dsn is not configured")
			}
			logger := newLogger(cfg.Log.Level)

			embedder := history.NewOllamaEmbedder(fmt.Sprintf("%s:%d", cfg.Model.Host, cfg.Model.Port), cfg.History.EmbedModel)
			archive, err := history.Open(cmd.Context(), cfg.History.DSN, "search", embedder)
			if err != nil {
				return err
			}
			defer archive.Close()

			results, err := archive.SearchSimilar(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				logger.Info("no matches")
				return nil
			}
			for _, r := range results {
				fmt.Printf("%.2f  %s  [%s] %s\n", r.Similarity, r.CapturedAt.Format(time.RFC3339), r.App, r.Summary)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 5, "maximum results")
	return cmd
}
