package message

import (
	"encoding/binary"
	"math"

	"netmodule/registry"
)

// Int32 carries one little-endian int32.
type Int32 struct {
	Value int32
}

// NewInt32 wraps v.
func NewInt32(v int32) *Int32 { return &Int32{Value: v} }

// Int returns the carried value.
func (m *Int32) Int() int32 { return m.Value }

func (m *Int32) Type() registry.Type { return registry.Of(Int32Kind) }

func (m *Int32) InfoLength() int { return 4 }

// Serialize writes the 4 payload bytes at offset; buf must have room.
func (m *Int32) Serialize(buf []byte, offset int) (int, error) {
	binary.LittleEndian.PutUint32(buf[offset:offset+4], uint32(m.Value))
	return 4, nil
}

// Deserialize reads the value from data[start:end], which must hold at
// least 4 bytes.
func (m *Int32) Deserialize(data []byte, start, end int) error {
	if end-start < 4 {
		return ErrShortPayload
	}
	m.Value = int32(binary.LittleEndian.Uint32(data[start : start+4]))
	return nil
}

// Float32 carries one IEEE-754 single, little-endian.
type Float32 struct {
	Value float32
}

// NewFloat32 wraps v.
func NewFloat32(v float32) *Float32 { return &Float32{Value: v} }

// Float returns the carried value.
func (m *Float32) Float() float32 { return m.Value }

func (m *Float32) Type() registry.Type { return registry.Of(Float32Kind) }

func (m *Float32) InfoLength() int { return 4 }

func (m *Float32) Serialize(buf []byte, offset int) (int, error) {
	binary.LittleEndian.PutUint32(buf[offset:offset+4], math.Float32bits(m.Value))
	return 4, nil
}

func (m *Float32) Deserialize(data []byte, start, end int) error {
	if end-start < 4 {
		return ErrShortPayload
	}
	m.Value = math.Float32frombits(binary.LittleEndian.Uint32(data[start : start+4]))
	return nil
}

// Float64 carries one IEEE-754 double, little-endian.
type Float64 struct {
	Value float64
}

// NewFloat64 wraps v.
func NewFloat64(v float64) *Float64 { return &Float64{Value: v} }

// Float returns the carried value.
func (m *Float64) Float() float64 { return m.Value }

func (m *Float64) Type() registry.Type { return registry.Of(Float64Kind) }

func (m *Float64) InfoLength() int { return 8 }

func (m *Float64) Serialize(buf []byte, offset int) (int, error) {
	binary.LittleEndian.PutUint64(buf[offset:offset+8], math.Float64bits(m.Value))
	return 8, nil
}

func (m *Float64) Deserialize(data []byte, start, end int) error {
	if end-start < 8 {
		return ErrShortPayload
	}
	m.Value = math.Float64frombits(binary.LittleEndian.Uint64(data[start : start+8]))
	return nil
}
