package ai

import (
	"context"
	"math"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/video"
)

// Point is a position in frame pixel coordinates
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Detection is one oriented bounding box produced by a detector. Geometry is
// in the pixel space of the frame passed to Detect.
type Detection struct {
	CenterX    float64 `json:"cx"`
	CenterY    float64 `json:"cy"`
	Width      float64 `json:"w"`
	Height     float64 `json:"h"`
	Rotation   float64 `json:"rotation"` // Radians
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
}

// Corners returns the four corners of the rotated rectangle, in order
// around the perimeter
func (d Detection) Corners() [4]Point {
	sin, cos := math.Sincos(d.Rotation)
	// Half extents along the box's own axes
	ax, ay := d.Width/2*cos, d.Width/2*sin
	bx, by := -d.Height/2*sin, d.Height/2*cos

	return [4]Point{
		{d.CenterX + ax + bx, d.CenterY + ay + by},
		{d.CenterX - ax + bx, d.CenterY - ay + by},
		{d.CenterX - ax - bx, d.CenterY - ay - by},
		{d.CenterX + ax - bx, d.CenterY + ay - by},
	}
}

// Area returns the box area
func (d Detection) Area() float64 {
	return d.Width * d.Height
}

// Scale maps a detection from model input space back to frame space
func (d Detection) Scale(sx, sy float64) Detection {
	d.CenterX *= sx
	d.CenterY *= sy
	d.Width *= sx
	d.Height *= sy
	return d
}

// Detector turns frames into oriented detections and renders them
type Detector interface {
	// Detect runs inference on one frame
	Detect(ctx context.Context, frame *video.Frame) ([]Detection, error)
	// Draw returns a new frame with the detections rendered on it. Boxes
	// partly or wholly outside the frame are clipped, never rejected.
	Draw(frame *video.Frame, detections []Detection) (*video.Frame, error)
	// Close releases model resources
	Close() error
}
