package vision

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/video"
)

var overlayColor = color.RGBA{G: 255}

const (
	overlayScale     = 0.7
	overlayThickness = 2
)

// Renderer resizes frames and draws the metrics overlay
type Renderer struct{}

// NewRenderer creates a renderer
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Resize scales frame to width x height. A frame already at that size is
// returned as is.
func (r *Renderer) Resize(frame *video.Frame, width, height int) (*video.Frame, error) {
	if frame.Width == width && frame.Height == height {
		return frame, nil
	}

	src, err := frameToMat(frame)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(src, &dst, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)

	return matToFrame(dst, frame)
}

// Overlay draws fps, latency and detection time in the top-left corner
func (r *Renderer) Overlay(frame *video.Frame, snap metrics.Snapshot) (*video.Frame, error) {
	img, err := frameToMat(frame)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	for i, line := range OverlayLines(snap) {
		gocv.PutText(&img, line, image.Pt(10, 30*(i+1)), gocv.FontHersheySimplex,
			overlayScale, overlayColor, overlayThickness)
	}

	return matToFrame(img, frame)
}

// OverlayLines formats the metrics overlay text
func OverlayLines(snap metrics.Snapshot) []string {
	return []string{
		fmt.Sprintf("FPS: %.1f", snap.FPS),
		fmt.Sprintf("Latency: %.1f ms", snap.LatencyMs),
		fmt.Sprintf("Det Time: %.1f ms", snap.DetectionTimeMs),
	}
}
