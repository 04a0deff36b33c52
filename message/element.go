package message

import (
	"encoding/binary"
	"fmt"

	"netmodule/registry"
)

// lengthMode selects what an element's length field counts.
type lengthMode int

const (
	// payloadLength counts only the element payload (Pair).
	payloadLength lengthMode = iota
	// tripletLength counts length field, id and payload (List, TypedList).
	tripletLength
)

// elementLen is the wire size of one element triplet.
func elementLen(v registry.Serializable) int {
	if v == nil {
		return 4
	}
	return 4 + registry.EncodedLen(v.Type()) + v.InfoLength()
}

// writeElement writes [length:4][id][payload] at buf[offset].
func writeElement(buf []byte, offset int, v registry.Serializable, mode lengthMode) (int, error) {
	if v == nil {
		return 0, ErrNilValue
	}
	t := v.Type()
	id, err := registry.EncodeID(t)
	if err != nil {
		return 0, err
	}
	info := v.InfoLength()
	length := info
	if mode == tripletLength {
		length = 4 + len(id) + info
	}
	if offset+4+len(id)+info > len(buf) {
		return 0, fmt.Errorf("%w: element %s needs %d bytes", ErrShortPayload, t, 4+len(id)+info)
	}

	binary.LittleEndian.PutUint32(buf[offset:offset+4], uint32(length))
	pos := offset + 4
	pos += copy(buf[pos:], id)
	n, err := v.Serialize(buf, pos)
	if err != nil {
		return 0, err
	}
	if n != info {
		return 0, fmt.Errorf("%w: %s wrote %d bytes, reported %d", ErrInvalidElementLength, t, n, info)
	}
	return pos + n - offset, nil
}

// readElement decodes one triplet starting at data[pos], bounded by end. It
// returns the decoded value and the offset just past it.
func readElement(data []byte, pos, end int, mode lengthMode) (registry.Serializable, int, error) {
	if end-pos < 4 {
		return nil, pos, fmt.Errorf("%w: element header at %d", ErrShortPayload, pos)
	}
	length := int(binary.LittleEndian.Uint32(data[pos : pos+4]))
	t, payloadStart, err := registry.DecodeType(data[:end], pos+4)
	if err != nil {
		return nil, pos, err
	}

	var payloadEnd int
	switch mode {
	case tripletLength:
		payloadEnd = pos + length
		if length < payloadStart-pos {
			return nil, pos, fmt.Errorf("%w: %d at %d", ErrInvalidElementLength, length, pos)
		}
	default:
		payloadEnd = payloadStart + length
	}
	if length < 0 || payloadEnd > end {
		return nil, pos, fmt.Errorf("%w: %d at %d overruns %d", ErrInvalidElementLength, length, pos, end)
	}

	v, err := registry.NewOf(t)
	if err != nil {
		return nil, pos, err
	}
	if err := registry.Deserialize(v, data, payloadStart, payloadEnd); err != nil {
		return nil, pos, err
	}
	return v, payloadEnd, nil
}
