package ai

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// obbTensor lays out anchors channel-major for a two-class model
func obbTensor(anchors [][7]float32) []float32 {
	const channels = 7
	data := make([]float32, channels*len(anchors))
	for i, a := range anchors {
		for c := 0; c < channels; c++ {
			data[c*len(anchors)+i] = a[c]
		}
	}
	return data
}

func TestDecodeOBB(t *testing.T) {
	data := obbTensor([][7]float32{
		{320, 320, 100, 40, 0.9, 0.1, 0.5},
		{100, 200, 30, 30, 0.05, 0.1, 0},  // below threshold
		{500, 100, 60, 20, 0.2, 0.75, -0.3},
	})

	dets, err := DecodeOBB(data, 7, 3, 0.25)
	require.NoError(t, err)
	require.Len(t, dets, 2)

	assert.Equal(t, 0, dets[0].ClassID)
	assert.InDelta(t, 0.9, dets[0].Confidence, 1e-6)
	assert.Equal(t, 320.0, dets[0].CenterX)
	assert.Equal(t, 100.0, dets[0].Width)
	assert.InDelta(t, 0.5, dets[0].Rotation, 1e-6)

	assert.Equal(t, 1, dets[1].ClassID)
	assert.InDelta(t, 0.75, dets[1].Confidence, 1e-6)
	assert.InDelta(t, -0.3, dets[1].Rotation, 1e-6)
}

func TestDecodeOBB_InvalidShape(t *testing.T) {
	_, err := DecodeOBB(make([]float32, 10), 5, 2, 0.25)
	assert.Error(t, err)

	_, err = DecodeOBB(make([]float32, 10), 7, 2, 0.25)
	assert.Error(t, err)
}

func TestLabelAnchor(t *testing.T) {
	d := Detection{CenterX: 100, CenterY: 100, Width: 40, Height: 40}
	x, y := LabelAnchor(d, 60, 12)
	assert.Equal(t, 70, x)
	assert.Equal(t, 75, y)

	// Clamped to the top-left corner
	edge := Detection{CenterX: 10, CenterY: 5, Width: 20, Height: 10}
	x, y = LabelAnchor(edge, 60, 12)
	assert.Equal(t, 0, x)
	assert.Equal(t, 12, y)
}

func TestRotationDegrees(t *testing.T) {
	assert.InDelta(t, 90.0, Detection{Rotation: math.Pi / 2}.RotationDegrees(), 1e-9)
}
