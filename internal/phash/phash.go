// Package phash computes perceptual fingerprints of screen frames. Two
// frames that look the same hash to the same (or nearly the same) 64-bit
// fingerprint, which makes change detection and near-duplicate cache lookups
// a single XOR+popcount instead of a pixel diff.
package phash

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math/bits"
)

// gridSize is the downsample resolution. 8x8 cells give a 64-bit fingerprint.
const gridSize = 8

// Fingerprint is a 64-bit perceptual hash: one bit per grid cell, set when
// the cell's mean intensity is above the global mean.
type Fingerprint uint64

// DefaultSimilarityThreshold is the Hamming distance at or below which two
// fingerprints are considered the same visual content.
const DefaultSimilarityThreshold = 5

// FromBytes decodes the encoded frame bytes and returns their perceptual
// hash. The only failure mode is undecodable image data.
func FromBytes(data []byte) (Fingerprint, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("decode frame: %w", err)
	}
	return FromImage(img), nil
}

// FromImage computes the fingerprint of an already decoded image. Pure
// function of pixel content: average-pool to an 8x8 grayscale grid, then
// threshold each cell against the grid mean.
func FromImage(img image.Image) Fingerprint {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return 0
	}

	var cells [gridSize * gridSize]float64
	var counts [gridSize * gridSize]int

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		cy := (y - bounds.Min.Y) * gridSize / h
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			cx := (x - bounds.Min.X) * gridSize / w
			r, g, b, _ := img.At(x, y).RGBA()
			// Rec. 601 luma, on 16-bit channel values.
			gray := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
			idx := cy*gridSize + cx
			cells[idx] += gray
			counts[idx]++
		}
	}

	var mean float64
	for i := range cells {
		if counts[i] > 0 {
			cells[i] /= float64(counts[i])
		}
		mean += cells[i]
	}
	mean /= gridSize * gridSize

	var fp Fingerprint
	for i := range cells {
		if cells[i] > mean {
			fp |= 1 << uint(i)
		}
	}
	return fp
}

// Distance returns the Hamming distance between two fingerprints: the number
// of grid cells that flipped between the two frames.
func Distance(a, b Fingerprint) int {
	return bits.OnesCount64(uint64(a ^ b))
}

// ChangePercent expresses the distance between two fingerprints as a
// percentage of the full 64-bit grid, used for frame priority assignment.
func ChangePercent(a, b Fingerprint) float64 {
	return float64(Distance(a, b)) / 64.0 * 100.0
}

// Similar reports whether two fingerprints are within threshold bits of each
// other.
func Similar(a, b Fingerprint, threshold int) bool {
	return Distance(a, b) <= threshold
}

// String renders the fingerprint as fixed-width hex, the form used in
// snapshots and logs.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%016x", uint64(f))
}
