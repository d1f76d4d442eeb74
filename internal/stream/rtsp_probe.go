package stream

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
)

// ProbeResult describes an RTSP session
type ProbeResult struct {
	URL     string        `json:"url"`
	Medias  []MediaInfo   `json:"medias"`
	Elapsed time.Duration `json:"elapsed"`
}

// MediaInfo describes one media of an RTSP session
type MediaInfo struct {
	Type   string   `json:"type"`
	Codecs []string `json:"codecs"`
}

// HasVideo reports whether the session carries a video media
func (r *ProbeResult) HasVideo() bool {
	for _, m := range r.Medias {
		if m.Type == "video" {
			return true
		}
	}
	return false
}

// IsRTSP reports whether rawURL uses an RTSP scheme
func IsRTSP(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	s := strings.ToLower(u.Scheme)
	return s == "rtsp" || s == "rtsps"
}

// ProbeRTSP connects to an RTSP server and issues DESCRIBE without setting
// up any media
func ProbeRTSP(ctx context.Context, rawURL string, timeout time.Duration) (*ProbeResult, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	u, err := base.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	client := &gortsplib.Client{
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}

	type outcome struct {
		result *ProbeResult
		err    error
	}
	ch := make(chan outcome, 1)
	start := time.Now()

	go func() {
		if err := client.Start(u.Scheme, u.Host); err != nil {
			ch <- outcome{err: fmt.Errorf("failed to connect: %w", err)}
			return
		}
		defer client.Close()

		desc, _, err := client.Describe(u)
		if err != nil {
			ch <- outcome{err: fmt.Errorf("failed to describe stream: %w", err)}
			return
		}

		result := &ProbeResult{URL: rawURL}
		for _, media := range desc.Medias {
			info := MediaInfo{Type: string(media.Type)}
			for _, forma := range media.Formats {
				info.Codecs = append(info.Codecs, forma.Codec())
			}
			result.Medias = append(result.Medias, info)
		}
		result.Elapsed = time.Since(start)
		ch <- outcome{result: result}
	}()

	select {
	case o := <-ch:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
