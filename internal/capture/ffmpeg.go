package capture

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"time"

	"github.com/glimpsehq/glimpse/internal/models"
)

// FFmpegSource grabs single screen frames by shelling out to ffmpeg with the
// platform's screen-capture device. Transient grab failures are logged and
// reported as a nil frame so the pipeline retries next tick.
type FFmpegSource struct {
	binary  string
	quality int
	log     *slog.Logger
}

// NewFFmpegSource returns a source using the ffmpeg binary on PATH. quality
// is the JPEG quality hint (1-100).
func NewFFmpegSource(quality int, logger *slog.Logger) *FFmpegSource {
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegSource{binary: "ffmpeg", quality: quality, log: logger}
}

// SetQuality adjusts the JPEG quality for subsequent captures; the pipeline
// calls this when the budget governor degrades settings.
func (s *FFmpegSource) SetQuality(quality int) {
	if quality > 0 && quality <= 100 {
		s.quality = quality
	}
}

func (s *FFmpegSource) CaptureFrame(ctx context.Context, region Region) (*models.Frame, error) {
	display := region.DisplayID
	if display == "" {
		display = defaultDisplay()
	}

	// ffmpeg's JPEG quality scale is 2 (best) to 31 (worst).
	q := 2 + (100-s.quality)*29/100

	args := []string{
		"-f", grabDevice(),
		"-i", display,
		"-frames:v", "1",
		"-q:v", fmt.Sprintf("%d", q),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-",
	}

	cmd := exec.CommandContext(ctx, s.binary, args...)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Transient grab failure: skip this tick.
		s.log.Warn("screen grab failed", "error", err, "stderr", errOut.String())
		return nil, nil
	}
	if out.Len() == 0 {
		s.log.Warn("screen grab produced no data")
		return nil, nil
	}

	return &models.Frame{
		Data:       out.Bytes(),
		CapturedAt: time.Now(),
		DisplayID:  display,
	}, nil
}

func grabDevice() string {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation"
	case "windows":
		return "gdigrab"
	default:
		return "x11grab"
	}
}

func defaultDisplay() string {
	switch runtime.GOOS {
	case "darwin":
		return "1:none"
	case "windows":
		return "desktop"
	default:
		return ":0.0"
	}
}
