package vision

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/stream"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/video"
)

var errReadFailed = errors.New("unable to read from video capture")

// CaptureDialer opens sources through OpenCV's VideoCapture: RTMP, RTSP,
// files and device indices
func CaptureDialer() stream.Dialer {
	return stream.DialerFunc(openCapture)
}

type openResult struct {
	vc  *gocv.VideoCapture
	err error
}

// openCapture opens addr in the background so a slow connect can be
// abandoned through ctx
func openCapture(ctx context.Context, addr string) (stream.Conn, error) {
	result := make(chan openResult, 1)
	go func() {
		var device interface{} = addr
		if id, err := strconv.Atoi(addr); err == nil {
			device = id
		}
		vc, err := gocv.OpenVideoCapture(device)
		if err == nil && !vc.IsOpened() {
			vc.Close()
			err = fmt.Errorf("failed to open %s", addr)
		}
		result <- openResult{vc: vc, err: err}
	}()

	select {
	case r := <-result:
		if r.err != nil {
			return nil, r.err
		}
		return &captureConn{vc: r.vc, mat: gocv.NewMat()}, nil
	case <-ctx.Done():
		go func() {
			if r := <-result; r.err == nil {
				r.vc.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

type captureConn struct {
	mu  sync.Mutex
	vc  *gocv.VideoCapture
	mat gocv.Mat
}

func (c *captureConn) Read() (*video.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vc == nil {
		return nil, errors.New("capture closed")
	}
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, errReadFailed
	}
	return matToFrame(c.mat, &video.Frame{Timestamp: time.Now()})
}

func (c *captureConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vc == nil {
		return nil
	}
	err := c.vc.Close()
	c.vc = nil
	c.mat.Close()
	return err
}
