package vision

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/ai"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/video"
)

const (
	boxThickness   = 2
	labelScale     = 0.6
	labelThickness = 1
)

var labelTextColor = color.RGBA{R: 255, G: 255, B: 255}

// DrawDetections returns a copy of frame with every detection drawn as a
// rotated box with a filled label. Boxes outside the frame are clipped by
// OpenCV.
func DrawDetections(frame *video.Frame, detections []ai.Detection, classes *ai.ClassTable) (*video.Frame, error) {
	if len(detections) == 0 {
		return frame, nil
	}

	img, err := frameToMat(frame)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	for _, det := range detections {
		c := classes.Color(det.ClassID)
		boxColor := color.RGBA{R: c.R, G: c.G, B: c.B}

		contour := gocv.NewPointsVectorFromPoints([][]image.Point{cornerPoints(det)})
		gocv.DrawContours(&img, contour, 0, boxColor, boxThickness)
		contour.Close()

		name := det.ClassName
		if name == "" {
			name = classes.Name(det.ClassID)
		}
		label := fmt.Sprintf("%s %.2f", name, det.Confidence)
		size := gocv.GetTextSize(label, gocv.FontHersheySimplex, labelScale, labelThickness)
		x, y := ai.LabelAnchor(det, size.X, size.Y)

		gocv.Rectangle(&img, image.Rect(x, y-size.Y, x+size.X, y), boxColor, -1)
		gocv.PutText(&img, label, image.Pt(x, y), gocv.FontHersheySimplex,
			labelScale, labelTextColor, labelThickness)
	}

	return matToFrame(img, frame)
}

func cornerPoints(det ai.Detection) []image.Point {
	corners := det.Corners()
	pts := make([]image.Point, len(corners))
	for i, p := range corners {
		pts[i] = image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
	}
	return pts
}
