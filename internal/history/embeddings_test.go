package history

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls atomic.Int64
	fail  bool
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if c.fail {
		return nil, fmt.Errorf("backend unavailable")
	}
	return []float32{float32(len(text)), 0.5}, nil
}

func TestEmbedServiceCachesByText(t *testing.T) {
	backend := &countingEmbedder{}
	svc := NewEmbedService(backend, 2)
	defer svc.Close()

	first, err := svc.Embed(context.Background(), "open the terminal")
	require.NoError(t, err)

	second, err := svc.Embed(context.Background(), "open the terminal")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), backend.calls.Load())
}

func TestEmbedServiceFailuresAreNotCached(t *testing.T) {
	backend := &countingEmbedder{fail: true}
	svc := NewEmbedService(backend, 1)
	defer svc.Close()

	_, err := svc.Embed(context.Background(), "x")
	require.Error(t, err)

	_, err = svc.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, int64(2), backend.calls.Load())
}

func TestEmbedServiceRespectsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := NewEmbedService(&countingEmbedder{}, 1)
	defer svc.Close()

	// The worker may win the race, so only assert the call does not hang
	// and returns either the vector or the cancellation error.
	emb, err := svc.Embed(ctx, "y")
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	} else {
		assert.NotEmpty(t, emb)
	}
}
