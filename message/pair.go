package message

import (
	"fmt"

	"netmodule/registry"
)

// Pair holds two values of fixed, possibly different types. Each side is
// written as [length:4][id][payload] where length counts the payload only.
type Pair struct {
	LeftType  registry.Type
	RightType registry.Type
	Left      registry.Serializable
	Right     registry.Serializable
}

// NewPair builds a pair whose declared types are the values' own types.
func NewPair(left, right registry.Serializable) *Pair {
	return &Pair{LeftType: left.Type(), RightType: right.Type(), Left: left, Right: right}
}

func (m *Pair) Type() registry.Type { return registry.Of(PairKind, m.LeftType, m.RightType) }

func (m *Pair) InfoLength() int {
	return elementLen(m.Left) + elementLen(m.Right)
}

func (m *Pair) Serialize(buf []byte, offset int) (int, error) {
	if m.Left == nil || m.Right == nil {
		return 0, ErrNilValue
	}
	if !m.Left.Type().Equal(m.LeftType) || !m.Right.Type().Equal(m.RightType) {
		return 0, fmt.Errorf("%w: %s holds (%s, %s)", ErrTypeMismatch, m.Type(), m.Left.Type(), m.Right.Type())
	}
	n, err := writeElement(buf, offset, m.Left, payloadLength)
	if err != nil {
		return 0, err
	}
	k, err := writeElement(buf, offset+n, m.Right, payloadLength)
	if err != nil {
		return 0, err
	}
	return n + k, nil
}

func (m *Pair) Deserialize(data []byte, start, end int) error {
	left, pos, err := readElement(data, start, end, payloadLength)
	if err == nil && !left.Type().Equal(m.LeftType) {
		err = fmt.Errorf("%w: left is %s, want %s", ErrTypeMismatch, left.Type(), m.LeftType)
	}
	if err != nil {
		return registry.WrapDeserialize(m.Type(), data, start, end, err)
	}
	right, _, err := readElement(data, pos, end, payloadLength)
	if err == nil && !right.Type().Equal(m.RightType) {
		err = fmt.Errorf("%w: right is %s, want %s", ErrTypeMismatch, right.Type(), m.RightType)
	}
	if err != nil {
		return registry.WrapDeserialize(m.Type(), data, start, end, err)
	}
	m.Left, m.Right = left, right
	return nil
}
