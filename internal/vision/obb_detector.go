package vision

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/ai"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/video"
)

// DetectorConfig configures the ONNX oriented box detector
type DetectorConfig struct {
	ModelPath           string
	Classes             *ai.ClassTable
	ConfidenceThreshold float64
	IoUThreshold        float64
	InputSize           int
	Backend             string // cpu or cuda
}

// OBBDetector runs a YOLO-OBB ONNX export through OpenCV's DNN module
type OBBDetector struct {
	cfg    DetectorConfig
	logger *logger.Logger

	mu     sync.Mutex
	net    gocv.Net
	closed bool
}

// NewOBBDetector loads the model
func NewOBBDetector(cfg DetectorConfig, log *logger.Logger) (*OBBDetector, error) {
	if cfg.Classes == nil {
		cfg.Classes = ai.DefaultClassTable()
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.25
	}
	if cfg.IoUThreshold <= 0 {
		cfg.IoUThreshold = 0.45
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}

	net := gocv.ReadNet(cfg.ModelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("failed to load model %s", cfg.ModelPath)
	}

	switch cfg.Backend {
	case "cuda":
		if err := net.SetPreferableBackend(gocv.NetBackendCUDA); err != nil {
			net.Close()
			return nil, fmt.Errorf("failed to select cuda backend: %w", err)
		}
		if err := net.SetPreferableTarget(gocv.NetTargetCUDA); err != nil {
			net.Close()
			return nil, fmt.Errorf("failed to select cuda target: %w", err)
		}
	default:
		_ = net.SetPreferableBackend(gocv.NetBackendDefault)
		_ = net.SetPreferableTarget(gocv.NetTargetCPU)
	}

	log.Info("Model loaded",
		"path", cfg.ModelPath,
		"backend", cfg.Backend,
		"classes", cfg.Classes.Len(),
		"input_size", cfg.InputSize,
	)

	return &OBBDetector{cfg: cfg, logger: log, net: net}, nil
}

// Detect runs inference on one frame. Boxes are returned in frame pixels
// after rotated non-maximum suppression.
func (d *OBBDetector) Detect(ctx context.Context, frame *video.Frame) ([]ai.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := frameToMat(frame)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	size := d.cfg.InputSize
	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, fmt.Errorf("detector closed")
	}
	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	d.mu.Unlock()
	defer out.Close()

	dims := out.Size()
	if len(dims) != 3 {
		return nil, fmt.Errorf("unexpected model output shape %v", dims)
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read model output: %w", err)
	}

	dets, err := ai.DecodeOBB(data, dims[1], dims[2], d.cfg.ConfidenceThreshold)
	if err != nil {
		return nil, err
	}

	sx := float64(frame.Width) / float64(size)
	sy := float64(frame.Height) / float64(size)
	for i := range dets {
		dets[i] = dets[i].Scale(sx, sy)
		dets[i].ClassName = d.cfg.Classes.Name(dets[i].ClassID)
	}

	return ai.NMS(dets, d.cfg.IoUThreshold), nil
}

// Draw renders detections with the class palette
func (d *OBBDetector) Draw(frame *video.Frame, detections []ai.Detection) (*video.Frame, error) {
	return DrawDetections(frame, detections, d.cfg.Classes)
}

// Close releases the network
func (d *OBBDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.net.Close()
}
