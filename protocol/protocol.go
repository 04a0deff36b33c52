// Package protocol implements the envelope that frames one payload on the wire.
//
// Every envelope is self-describing: the header carries the full envelope
// length, so a stream reader can cut envelopes out of a byte stream without
// knowing anything about the payload types.
//
// Envelope format (little-endian):
//
//	0     2     4          8           N          N+k      N+k+2
//	┌─────┬─────┬──────────┬───────────┬──────────┬────────┐
//	│ id  │ ver │ totalLen │  type id  │ payload  │  sum   │
//	│2a4f │ u16 │   u32    │ 4B × node │ InfoLen  │  u16   │
//	└─────┴─────┴──────────┴───────────┴──────────┴────────┘
//
// totalLen counts every byte from the identifier through the checksum. The
// checksum is the number of set bits over [0, N+k), kept in a uint16 that
// wraps.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"strconv"
	"strings"

	"netmodule/registry"
)

const (
	Identifier   uint16 = 0x2a4f
	HeaderSize   int    = 8 // 2 (identifier) + 2 (version) + 4 (totalLen)
	LengthOffset int    = 4
	ChecksumSize int    = 2

	// MinEnvelopeSize is the smallest valid envelope: header, one type id,
	// empty payload, checksum.
	MinEnvelopeSize = HeaderSize + registry.TypeIDSize + ChecksumSize
)

// VersionString is the protocol version this package speaks; Version is
// its packed form.
const VersionString = "1.0.0.0"

var Version = MustPackVersion(VersionString)

var (
	ErrInvalidIdentifier = errors.New("protocol: invalid identifier")
	ErrInvalidLength     = errors.New("protocol: invalid envelope length")
	ErrLengthMismatch    = errors.New("protocol: payload length mismatch")
	ErrInvalidVersion    = errors.New("protocol: invalid version string")
)

// Header is the fixed 8-byte envelope header plus the trailing checksum.
type Header struct {
	Identifier uint16
	Version    uint16
	Length     uint32 // full envelope length
	Checksum   uint16 // read but never verified by Decode
}

// PackVersion packs a dotted a.b.c.d version into 16 bits as
// ((a << (3+b)) << (2+c)) << (1+d). Shift counts use the low five bits,
// matching 32-bit shift semantics on the peers that defined the format.
func PackVersion(s string) (uint16, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	var c [4]int32
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
		}
		c[i] = int32(n)
	}
	v := c[0]
	v <<= uint32(3+c[1]) & 31
	v <<= uint32(2+c[2]) & 31
	v <<= uint32(1+c[3]) & 31
	return uint16(v), nil
}

// MustPackVersion is PackVersion that panics on a malformed string.
func MustPackVersion(s string) uint16 {
	v, err := PackVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Checksum returns the wrapping set-bit count of data.
func Checksum(data []byte) uint16 {
	var sum uint16
	for _, b := range data {
		sum += uint16(bits.OnesCount8(b))
	}
	return sum
}

// Encode frames msg into a new envelope.
func Encode(msg registry.Serializable) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", registry.ErrUnsupportedType)
	}
	t := msg.Type()
	info := msg.InfoLength()
	total := HeaderSize + registry.EncodedLen(t) + info + ChecksumSize

	buf := make([]byte, HeaderSize, total)
	binary.LittleEndian.PutUint16(buf[0:2], Identifier)
	binary.LittleEndian.PutUint16(buf[2:4], Version)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(total))

	buf, err := registry.AppendID(buf, t)
	if err != nil {
		return nil, err
	}
	payloadStart := len(buf)
	buf = buf[:total]

	n, err := msg.Serialize(buf, payloadStart)
	if err != nil {
		return nil, fmt.Errorf("protocol: serialize %s: %w", t, err)
	}
	if n != info {
		return nil, fmt.Errorf("%w: %s wrote %d bytes, InfoLength %d", ErrLengthMismatch, t, n, info)
	}

	end := total - ChecksumSize
	binary.LittleEndian.PutUint16(buf[end:], Checksum(buf[:end]))
	return buf, nil
}

// EncodeTo encodes msg and writes it to w in a single Write.
// The caller must hold the connection's write lock when w is shared, otherwise
// envelopes from different senders interleave and corrupt the stream.
func EncodeTo(w io.Writer, msg registry.Serializable) error {
	buf, err := Encode(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadHeader parses the header and checksum of the envelope that fills data.
func ReadHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize+ChecksumSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrInvalidLength, len(data))
	}
	h := Header{
		Identifier: binary.LittleEndian.Uint16(data[0:2]),
		Version:    binary.LittleEndian.Uint16(data[2:4]),
		Length:     binary.LittleEndian.Uint32(data[4:8]),
	}
	if h.Identifier != Identifier {
		return h, fmt.Errorf("%w: %#04x", ErrInvalidIdentifier, h.Identifier)
	}
	if int64(h.Length) != int64(len(data)) {
		return h, fmt.Errorf("%w: header says %d, have %d", ErrInvalidLength, h.Length, len(data))
	}
	h.Checksum = binary.LittleEndian.Uint16(data[len(data)-ChecksumSize:])
	return h, nil
}

// PeekLength returns the declared envelope length at data[offset:], or false
// when the header is not yet complete.
func PeekLength(data []byte, offset int) (int, bool) {
	if len(data)-offset < HeaderSize {
		return 0, false
	}
	return int(binary.LittleEndian.Uint32(data[offset+LengthOffset:])), true
}

// Decode parses the single envelope that fills data.
func Decode(data []byte) (registry.Serializable, error) {
	return DecodeAt(data, 0, len(data))
}

// DecodeAt parses the envelope in data[offset : offset+length].
//
// The checksum is not verified. Callers that want that check call
// VerifyChecksum on the same bytes.
func DecodeAt(data []byte, offset, length int) (registry.Serializable, error) {
	if offset < 0 || length < 0 || offset+length > len(data) {
		return nil, fmt.Errorf("%w: [%d:+%d] outside %d bytes", ErrInvalidLength, offset, length, len(data))
	}
	env := data[offset : offset+length]
	if _, err := ReadHeader(env); err != nil {
		return nil, err
	}

	end := length - ChecksumSize
	t, payloadStart, err := registry.DecodeType(env[:end], HeaderSize)
	if err != nil {
		return nil, err
	}
	msg, err := registry.NewOf(t)
	if err != nil {
		return nil, err
	}
	if err := registry.Deserialize(msg, env, payloadStart, end); err != nil {
		return nil, err
	}
	return msg, nil
}

// VerifyChecksum reports whether the trailing checksum of env matches its
// contents. Decode never calls it.
func VerifyChecksum(env []byte) bool {
	if len(env) < HeaderSize+ChecksumSize {
		return false
	}
	end := len(env) - ChecksumSize
	return binary.LittleEndian.Uint16(env[end:]) == Checksum(env[:end])
}
