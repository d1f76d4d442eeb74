// Package vision holds the OpenCV backed implementations of the capture,
// rendering and detection boundaries.
package vision

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/video"
)

// frameToMat copies a frame into a new BGR Mat. The caller closes it.
func frameToMat(frame *video.Frame) (gocv.Mat, error) {
	if err := frame.Validate(); err != nil {
		return gocv.NewMat(), err
	}
	data := make([]byte, len(frame.Data))
	copy(data, frame.Data)
	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, data)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to wrap frame: %w", err)
	}
	return mat, nil
}

// matToFrame converts a Mat to a BGR frame carrying src's metadata. Grey
// and BGRA images are converted first.
func matToFrame(mat gocv.Mat, src *video.Frame) (*video.Frame, error) {
	if mat.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	bgr := mat
	switch mat.Channels() {
	case 3:
	case 1:
		bgr = gocv.NewMat()
		defer bgr.Close()
		gocv.CvtColor(mat, &bgr, gocv.ColorGrayToBGR)
	case 4:
		bgr = gocv.NewMat()
		defer bgr.Close()
		gocv.CvtColor(mat, &bgr, gocv.ColorBGRAToBGR)
	default:
		return nil, fmt.Errorf("unsupported image with %d channels", mat.Channels())
	}

	data := bgr.ToBytes()
	if src == nil {
		src = &video.Frame{}
	}
	frame := src.WithData(bgr.Cols(), bgr.Rows(), data)
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	return frame, nil
}
