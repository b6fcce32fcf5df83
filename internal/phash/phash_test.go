package phash

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// halfSplit returns an image whose left half is dark and right half bright.
func halfSplit(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{A: 255}
			if x >= w/2 {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	return img
}

func TestFromBytesDeterministic(t *testing.T) {
	data := encodeJPEG(t, halfSplit(64, 64))

	a, err := FromBytes(data)
	require.NoError(t, err)
	b, err := FromBytes(data)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, Fingerprint(0), a)
}

func TestFromBytesRejectsGarbage(t *testing.T) {
	_, err := FromBytes([]byte("not an image"))
	assert.Error(t, err)
}

func TestSubGridNoiseIsInvisible(t *testing.T) {
	base := halfSplit(64, 64)

	// Flip a single pixel inside a bright cell. The 8x8 average pooling
	// should absorb it.
	noisy := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			noisy.Set(x, y, base.At(x, y))
		}
	}
	noisy.Set(60, 30, color.RGBA{R: 250, G: 250, B: 250, A: 255})

	assert.Equal(t, 0, Distance(FromImage(base), FromImage(noisy)))
}

func TestDistanceCountsFlippedCells(t *testing.T) {
	assert.Equal(t, 0, Distance(0xFF, 0xFF))
	assert.Equal(t, 8, Distance(0x00, 0xFF))
	assert.Equal(t, 64, Distance(0, ^Fingerprint(0)))
}

func TestChangePercent(t *testing.T) {
	assert.InDelta(t, 100.0, ChangePercent(0, ^Fingerprint(0)), 0.001)
	assert.InDelta(t, 12.5, ChangePercent(0x00, 0xFF), 0.001)
	assert.Zero(t, ChangePercent(42, 42))
}

func TestSimilarThreshold(t *testing.T) {
	a := Fingerprint(0)
	b := Fingerprint(0b11111) // 5 bits apart

	assert.True(t, Similar(a, b, DefaultSimilarityThreshold))
	assert.False(t, Similar(a, b, 4))
}

func TestDistinctContentDiffers(t *testing.T) {
	dark := image.NewRGBA(image.Rect(0, 0, 32, 32))
	split := halfSplit(32, 32)

	assert.Greater(t, Distance(FromImage(dark), FromImage(split)), DefaultSimilarityThreshold)
}

func TestStringIsFixedWidthHex(t *testing.T) {
	assert.Equal(t, "0000000000000000", Fingerprint(0).String())
	assert.Equal(t, "ffffffffffffffff", (^Fingerprint(0)).String())
}
