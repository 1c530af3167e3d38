// Package transport owns the bidirectional byte stream to the assistant
// CLI: either stdio pipes to a managed child process, or a TCP socket.
package transport

import (
	"context"
	"fmt"
	"io"

	"github.com/driftwire/agentcli/internal/wire"
)

// Stream is a bidirectional framed message stream with an interruptible
// close: closing from another goroutine must unblock any in-progress Read.
type Stream interface {
	Read(ctx context.Context) (*wire.Message, error)
	Write(ctx context.Context, msg *wire.Message) error
	Close() error
}

// framedStream adapts a raw io.ReadWriteCloser into a Stream using
// Content-Length framing. Both the stdio and TCP transports below route
// through this so framing logic lives in exactly one place.
type framedStream struct {
	rwc io.Closer
	r   *wire.Reader
	w   *wire.Writer
}

func newFramedStream(r io.Reader, w io.Writer, closer io.Closer) *framedStream {
	return &framedStream{
		rwc: closer,
		r:   wire.NewReader(r),
		w:   wire.NewWriter(w),
	}
}

func (f *framedStream) Read(ctx context.Context) (*wire.Message, error) {
	return f.r.Read(ctx)
}

func (f *framedStream) Write(ctx context.Context, msg *wire.Message) error {
	return f.w.Write(ctx, msg)
}

// Close closes the underlying stream. This is what makes the stream
// interruptibly closable: closing the pipe/socket from another goroutine
// causes any blocked Read on it to return an error immediately.
func (f *framedStream) Close() error {
	if f.rwc == nil {
		return nil
	}
	return f.rwc.Close()
}

// ErrClosed is not returned by the streams in this package: after Close,
// Read and Write report the underlying pipe or socket error.
var ErrClosed = fmt.Errorf("transport: closed")
