// Package protocol implements the frame format spoken between a DCV extension
// and the DCV process that launched it.
//
// The stream carries no magic number, version or message type: every message
// is a 4-byte little-endian length followed by exactly that many bytes of
// serialized payload. The receiver reads the length first, then reads exactly
// that many bytes, so a frame is never handed to the payload parser partially.
//
// Frame format:
//
//	0          4
//	┌──────────┬────────────────────────┐
//	│  length  │      payload ...       │
//	│ uint32LE │     length bytes       │
//	└──────────┴────────────────────────┘
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// HeaderSize is the size of the length prefix.
const HeaderSize = 4

// Encode returns the wire representation of payload: the length prefix
// followed by the payload bytes.
func Encode(payload []byte) ([]byte, error) {
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("payload of %d bytes does not fit a frame", len(payload))
	}
	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// WriteFrame writes a complete frame to w with a single Write call.
// The caller must hold a write lock if multiple goroutines share w,
// otherwise frames from different requests will interleave.
func WriteFrame(w io.Writer, payload []byte) error {
	buf, err := Encode(payload)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Reader decodes frames from a byte stream. It is not safe for concurrent
// use: a stream has exactly one reader, otherwise frame boundaries are lost.
type Reader struct {
	r            io.Reader
	maxFrameSize uint32
	header       [HeaderSize]byte
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithMaxFrameSize rejects frames whose declared length exceeds n bytes as
// malformed. Zero means no limit.
func WithMaxFrameSize(n uint32) ReaderOption {
	return func(r *Reader) { r.maxFrameSize = n }
}

// NewReader returns a Reader that decodes frames from r.
func NewReader(r io.Reader, opts ...ReaderOption) *Reader {
	reader := &Reader{r: r}
	for _, opt := range opts {
		opt(reader)
	}
	return reader
}

// ReadFrame blocks until a complete frame is available and returns its
// payload. Short reads from the underlying stream are retried until the
// declared length is satisfied (io.ReadFull).
//
// A stream that ends before any byte of a frame was read yields
// ErrTransportClosed. A stream that ends in the middle of a frame yields a
// ViolationError of kind Incomplete.
func (r *Reader) ReadFrame() ([]byte, error) {
	// Step 1: Read the 4-byte length prefix
	if _, err := io.ReadFull(r.r, r.header[:]); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return nil, ErrTransportClosed
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, newViolation(Incomplete, fmt.Errorf("read frame header: %w", err))
		default:
			return nil, fmt.Errorf("%w: read frame header: %w", ErrTransportClosed, err)
		}
	}

	length := binary.LittleEndian.Uint32(r.header[:])
	if r.maxFrameSize > 0 && length > r.maxFrameSize {
		return nil, newViolation(Malformed, fmt.Errorf("frame length %d exceeds maximum %d", length, r.maxFrameSize))
	}

	// Step 2: Read exactly length bytes
	payload := make([]byte, length)
	if length == 0 {
		return payload, nil
	}
	if _, err := io.ReadFull(r.r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, newViolation(Incomplete, fmt.Errorf("read frame payload (%d bytes declared): %w", length, io.ErrUnexpectedEOF))
		}
		return nil, fmt.Errorf("%w: read frame payload: %w", ErrTransportClosed, err)
	}
	return payload, nil
}

// Decode reads a single frame from r.
func Decode(r io.Reader) ([]byte, error) {
	return NewReader(r).ReadFrame()
}
