package capture

import (
	"context"
	"sync"
	"time"

	"github.com/glimpsehq/glimpse/internal/models"
)

// StaticSource replays a fixed sequence of frames, for tests and demos. A
// nil element in the sequence simulates a transient capture failure. Once
// the sequence is exhausted the last frame repeats.
type StaticSource struct {
	mu     sync.Mutex
	frames [][]byte
	idx    int
}

func NewStaticSource(frames ...[]byte) *StaticSource {
	return &StaticSource{frames: frames}
}

func (s *StaticSource) CaptureFrame(_ context.Context, region Region) (*models.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil, nil
	}
	data := s.frames[s.idx]
	if s.idx < len(s.frames)-1 {
		s.idx++
	}
	if data == nil {
		return nil, nil
	}
	return &models.Frame{
		Data:       data,
		CapturedAt: time.Now(),
		DisplayID:  region.DisplayID,
	}, nil
}
