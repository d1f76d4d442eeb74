package ai

import (
	"fmt"
	"math"
)

// DecodeOBB reads a YOLO-OBB output tensor of shape [4+classes+1, anchors]
// laid out channel-major: cx, cy, w, h, one score per class, then the
// rotation in radians. Anchors whose best class score is below conf are
// dropped. Coordinates stay in model input space.
func DecodeOBB(data []float32, channels, anchors int, conf float64) ([]Detection, error) {
	numClasses := channels - 5
	if numClasses < 1 {
		return nil, fmt.Errorf("invalid obb output: %d channels", channels)
	}
	if len(data) < channels*anchors {
		return nil, fmt.Errorf("invalid obb output: have %d values, want %d", len(data), channels*anchors)
	}

	at := func(c, i int) float64 {
		return float64(data[c*anchors+i])
	}

	var dets []Detection
	for i := 0; i < anchors; i++ {
		best, bestScore := -1, 0.0
		for c := 0; c < numClasses; c++ {
			if s := at(4+c, i); s > bestScore {
				best, bestScore = c, s
			}
		}
		if best < 0 || bestScore < conf {
			continue
		}
		dets = append(dets, Detection{
			CenterX:    at(0, i),
			CenterY:    at(1, i),
			Width:      at(2, i),
			Height:     at(3, i),
			Rotation:   at(4+numClasses, i),
			Confidence: bestScore,
			ClassID:    best,
		})
	}
	return dets, nil
}

// LabelAnchor returns the baseline-left origin of a detection label of the
// given text size. The label is centred above the box and kept inside the
// top and left frame edges.
func LabelAnchor(d Detection, textWidth, textHeight int) (x, y int) {
	x = int(d.CenterX - float64(textWidth)/2)
	if x < 0 {
		x = 0
	}
	y = int(d.CenterY - d.Height/2 - 5)
	if y < textHeight {
		y = textHeight
	}
	return x, y
}

// RotationDegrees returns the rotation in degrees
func (d Detection) RotationDegrees() float64 {
	return d.Rotation * 180 / math.Pi
}
