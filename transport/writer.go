package transport

import (
	"fmt"
	"io"
	"sync"

	"dcvext/codec"
	"dcvext/protocol"
)

type flusher interface {
	Flush() error
}

// Writer frames and writes messages to the output stream. Send is safe for
// concurrent use; the write lock keeps one frame from interleaving with
// another (req A's length + req B's payload = corruption).
type Writer struct {
	mu    sync.Mutex
	w     io.Writer
	codec codec.Codec
}

func NewWriter(w io.Writer, c codec.Codec) *Writer {
	if c == nil {
		c = codec.Default()
	}
	return &Writer{w: w, codec: c}
}

// Send encodes v and writes it as one frame. A failed write means the peer
// is gone and is reported as ErrTransportClosed.
func (w *Writer) Send(v any) error {
	payload, err := w.codec.Encode(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := protocol.WriteFrame(w.w, payload); err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrTransportClosed, err)
	}
	if f, ok := w.w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("%w: flush: %w", protocol.ErrTransportClosed, err)
		}
	}
	return nil
}

// Close closes the underlying stream if it is an io.Closer.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
