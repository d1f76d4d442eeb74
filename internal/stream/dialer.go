package stream

import (
	"context"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/video"
)

// Conn is an open input stream
type Conn interface {
	// Read blocks until the next frame is decoded
	Read() (*video.Frame, error)
	Close() error
}

// Dialer opens input streams
type Dialer interface {
	Open(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface
type DialerFunc func(ctx context.Context, url string) (Conn, error)

// Open calls f(ctx, url)
func (f DialerFunc) Open(ctx context.Context, url string) (Conn, error) {
	return f(ctx, url)
}
