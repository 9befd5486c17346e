package transport

import (
	"errors"
	"fmt"
)

// Chunk marker bytes. Every chunk starts with exactly one marker byte.
const (
	// MarkerMoreData indicates more chunks of this message follow.
	MarkerMoreData = 0x01

	// MarkerLastChunk indicates this is the final (or only) chunk.
	MarkerLastChunk = 0x00
)

// Chunking errors.
var (
	// ErrInvalidChunkMarker indicates a chunk whose first byte is
	// neither MarkerMoreData nor MarkerLastChunk.
	ErrInvalidChunkMarker = errors.New("invalid chunk marker")

	// ErrEmptyChunk indicates a zero-length chunk where a marker byte
	// was expected.
	ErrEmptyChunk = errors.New("empty chunk")

	// ErrInvalidChunkSize indicates a maximum chunk payload size < 1.
	ErrInvalidChunkSize = errors.New("chunk payload size must be at least 1")
)

// SplitMessage splits a message into chunks of at most maxPayload
// payload bytes each, prefixed with a one-byte continuation marker.
//
// A nil or empty message is the shutdown sentinel and encodes to a
// single chunk containing only the final marker.
func SplitMessage(msg []byte, maxPayload int) ([][]byte, error) {
	if maxPayload < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunkSize, maxPayload)
	}

	if len(msg) == 0 {
		return [][]byte{{MarkerLastChunk}}, nil
	}

	var chunks [][]byte
	for offset := 0; offset < len(msg); offset += maxPayload {
		end := offset + maxPayload
		marker := byte(MarkerMoreData)
		if end >= len(msg) {
			end = len(msg)
			marker = MarkerLastChunk
		}

		chunk := make([]byte, 0, 1+end-offset)
		chunk = append(chunk, marker)
		chunk = append(chunk, msg[offset:end]...)
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// Reassembler accumulates received chunks into complete messages.
// One instance serves one connection; it is not safe for concurrent
// use and is only called from the connection's dispatch goroutine.
type Reassembler struct {
	buf     []byte
	started bool
}

// NewReassembler creates a reassembler with an empty accumulator.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Push appends one received chunk. When the chunk carries the final
// marker, Push returns the complete message with done=true and resets
// the accumulator for the next message. A completed zero-length
// message is the shutdown sentinel: done=true, sentinel=true, msg=nil.
//
// A chunk with an unknown marker byte, or an empty chunk, is a fatal
// protocol error for the connection.
func (r *Reassembler) Push(chunk []byte) (msg []byte, done bool, sentinel bool, err error) {
	if len(chunk) == 0 {
		return nil, false, false, ErrEmptyChunk
	}

	marker := chunk[0]
	if marker != MarkerMoreData && marker != MarkerLastChunk {
		return nil, false, false, fmt.Errorf("%w: 0x%02x", ErrInvalidChunkMarker, marker)
	}

	r.buf = append(r.buf, chunk[1:]...)
	r.started = true

	if marker == MarkerMoreData {
		return nil, false, false, nil
	}

	msg = r.buf
	r.buf = nil
	r.started = false
	if len(msg) == 0 {
		// The zero-length message is reserved as the shutdown sentinel.
		return nil, true, true, nil
	}
	return msg, true, false, nil
}

// Pending reports whether a partially reassembled message is buffered.
func (r *Reassembler) Pending() bool {
	return r.started
}

// Reset discards any partially reassembled message.
func (r *Reassembler) Reset() {
	r.buf = nil
	r.started = false
}
