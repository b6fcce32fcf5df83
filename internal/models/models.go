package models

import "time"

// Priority classifies how urgently a frame should be analyzed.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Frame is a single captured screen image. Frames are ephemeral: they are
// created on a capture tick and discarded once processed or cached.
type Frame struct {
	Data          []byte
	CapturedAt    time.Time
	DisplayID     string
	ChangePercent float64
	CursorRegion  bool
}

// Analysis is the finalized, structured result of running one frame through
// the vision model. Immutable once produced by the parser.
type Analysis struct {
	Summary          string   `json:"summary"`
	ApplicationName  string   `json:"application_name"`
	Actions          []string `json:"actions"`
	Errors           []string `json:"errors"`
	Shortcuts        []string `json:"shortcuts"`
	RawResponseText  string   `json:"raw_response_text"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
}

// HasErrors reports whether the model surfaced any error text.
func (a *Analysis) HasErrors() bool {
	return len(a.Errors) > 0
}

// Suggestion is a single ranked recommendation inside a Guidance.
type Suggestion struct {
	Text       string  `json:"text"`
	Shortcut   string  `json:"shortcut,omitempty"`
	Confidence float64 `json:"confidence"`
}

// GuidanceCategory buckets guidance by the kind of help it offers.
type GuidanceCategory string

const (
	CategoryErrorHelp            GuidanceCategory = "error-help"
	CategoryNavigationHelp       GuidanceCategory = "navigation-help"
	CategoryEfficiencyTip        GuidanceCategory = "efficiency-tip"
	CategoryFeatureDiscovery     GuidanceCategory = "feature-discovery"
	CategoryWorkflowOptimization GuidanceCategory = "workflow-optimization"
)

// Guidance is the user-facing recommendation derived from a completed
// Analysis plus short-term context. Consumed fire-and-forget by the UI layer.
type Guidance struct {
	ID          string           `json:"id"`
	Timestamp   time.Time        `json:"timestamp"`
	Title       string           `json:"title"`
	Summary     string           `json:"summary"`
	Priority    Priority         `json:"priority"`
	Suggestions []Suggestion     `json:"suggestions"`
	Category    GuidanceCategory `json:"category"`
	Context     string           `json:"context"`
}

// QualitySettings are the adaptive capture parameters derived from the
// remaining budget. Lower budget means fewer, cheaper frames.
type QualitySettings struct {
	ImageQuality    int     `json:"image_quality"`    // JPEG quality 1-100
	ResolutionScale float64 `json:"resolution_scale"` // 0-1 downscale factor
	CaptureRate     float64 `json:"capture_rate"`     // frames per second
	DiffThreshold   int     `json:"diff_threshold"`   // hamming bits required to analyze
}
