package message

import (
	"encoding/binary"
	"fmt"

	"netmodule/registry"
)

// CodePageUTF8 is the Windows code page number for UTF-8. Strings are written
// as [codePage:4][bytes].
const CodePageUTF8 = 65001

// String carries text tagged with its code page. Only UTF-8 is produced or
// accepted.
type String struct {
	Value string
}

func NewString(s string) *String { return &String{Value: s} }

func (m *String) String() string { return m.Value }

func (m *String) Type() registry.Type { return registry.Of(StringKind) }

func (m *String) InfoLength() int { return 4 + len(m.Value) }

func (m *String) Serialize(buf []byte, offset int) (int, error) {
	binary.LittleEndian.PutUint32(buf[offset:offset+4], CodePageUTF8)
	n := copy(buf[offset+4:], m.Value)
	if n != len(m.Value) {
		return 4 + n, ErrShortPayload
	}
	return 4 + n, nil
}

func (m *String) Deserialize(data []byte, start, end int) error {
	if end-start < 4 {
		return ErrShortPayload
	}
	cp := binary.LittleEndian.Uint32(data[start : start+4])
	if cp != CodePageUTF8 {
		return fmt.Errorf("%w: code page %d", ErrUnsupportedEncoding, cp)
	}
	m.Value = string(data[start+4 : end])
	return nil
}
