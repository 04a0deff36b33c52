package message

import "netmodule/registry"

// Single wraps one value of type Elem. Its payload is the wrapped value's
// payload, with no length or id prefix.
type Single struct {
	Elem  registry.Type
	Value registry.Serializable
}

// NewSingle wraps v, taking Elem from v's own type.
func NewSingle(v registry.Serializable) *Single {
	return &Single{Elem: v.Type(), Value: v}
}

func (m *Single) Type() registry.Type { return registry.Of(SingleKind, m.Elem) }

func (m *Single) InfoLength() int {
	if m.Value == nil {
		return 0
	}
	return m.Value.InfoLength()
}

func (m *Single) Serialize(buf []byte, offset int) (int, error) {
	if m.Value == nil {
		return 0, ErrNilValue
	}
	if !m.Value.Type().Equal(m.Elem) {
		return 0, ErrTypeMismatch
	}
	return m.Value.Serialize(buf, offset)
}

func (m *Single) Deserialize(data []byte, start, end int) error {
	v, err := registry.NewOf(m.Elem)
	if err != nil {
		return registry.WrapDeserialize(m.Type(), data, start, end, err)
	}
	if err := registry.Deserialize(v, data, start, end); err != nil {
		return registry.WrapDeserialize(m.Type(), data, start, end, err)
	}
	m.Value = v
	return nil
}
