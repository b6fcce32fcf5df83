// Package capture abstracts where frames come from. The OS screenshot layer
// is an external collaborator; the pipeline only needs "give me the next
// frame or nil".
package capture

import (
	"context"

	"github.com/glimpsehq/glimpse/internal/models"
)

// Region selects what to capture.
type Region struct {
	DisplayID string
	X, Y      int
	Width     int // 0 means full display
	Height    int
}

// FrameSource produces frames on demand. A nil frame with a nil error means
// the capture transiently failed; the pipeline skips the tick and retries on
// the next one.
type FrameSource interface {
	CaptureFrame(ctx context.Context, region Region) (*models.Frame, error)
}
