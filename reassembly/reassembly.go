// Package reassembly cuts complete envelopes out of a byte stream whose chunk
// boundaries are arbitrary.
//
// A Reassembler owns one fixed-capacity buffer. Each Feed appends the chunk
// after the held-over tail, decodes every complete envelope from the front,
// and moves the unconsumed remainder back to offset 0.
//
// A Reassembler is not safe for concurrent use; the receiver serializes
// access to it.
package reassembly

import (
	"errors"
	"fmt"

	"netmodule/protocol"
	"netmodule/registry"
)

// DefaultCapacity is the per-connection buffer size.
const DefaultCapacity = 5 * 1024

var (
	ErrOverflow        = errors.New("reassembly: buffer overflow")
	ErrMalformedLength = errors.New("reassembly: malformed envelope length")
)

// Reassembler holds the unconsumed tail of one stream.
type Reassembler struct {
	buf  []byte
	tail int
}

// New returns a Reassembler with the given capacity; capacity <= 0 selects
// DefaultCapacity.
func New(capacity int) *Reassembler {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Reassembler{buf: make([]byte, capacity)}
}

// Cap returns the buffer capacity.
func (r *Reassembler) Cap() int { return len(r.buf) }

// Buffered returns the number of held-over bytes.
func (r *Reassembler) Buffered() int { return r.tail }

// Free returns how many more bytes the next Feed may carry.
func (r *Reassembler) Free() int { return len(r.buf) - r.tail }

// Reset drops any held-over bytes.
func (r *Reassembler) Reset() { r.tail = 0 }

// Feed appends chunk and returns every envelope it completed, in stream order.
//
// ErrOverflow and ErrMalformedLength are fatal: the buffer is reset and the
// stream can no longer be trusted. A single envelope that fails to decode is
// skipped; its error is returned joined with any others alongside the
// messages that did decode.
func (r *Reassembler) Feed(chunk []byte) ([]registry.Serializable, error) {
	if len(chunk) > r.Free() {
		held := r.tail
		r.Reset()
		return nil, fmt.Errorf("%w: %d held + %d new > %d", ErrOverflow, held, len(chunk), len(r.buf))
	}
	r.tail += copy(r.buf[r.tail:], chunk)

	var (
		out  []registry.Serializable
		errs []error
		pos  int
	)
	for {
		length, ok := protocol.PeekLength(r.buf[:r.tail], pos)
		if !ok {
			break
		}
		if length < protocol.MinEnvelopeSize {
			r.Reset()
			return out, errors.Join(append(errs, fmt.Errorf("%w: %d at %d", ErrMalformedLength, length, pos))...)
		}
		if length > len(r.buf) {
			r.Reset()
			return out, errors.Join(append(errs, fmt.Errorf("%w: envelope of %d bytes exceeds %d", ErrOverflow, length, len(r.buf)))...)
		}
		if length > r.tail-pos {
			break
		}

		msg, err := protocol.DecodeAt(r.buf, pos, length)
		if err != nil {
			errs = append(errs, err)
		} else {
			out = append(out, msg)
		}
		pos += length
	}

	r.tail = copy(r.buf, r.buf[pos:r.tail])
	return out, errors.Join(errs...)
}

// Fatal reports whether err means the stream must be torn down.
func Fatal(err error) bool {
	return errors.Is(err, ErrOverflow) || errors.Is(err, ErrMalformedLength)
}
