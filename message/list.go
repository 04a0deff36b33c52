package message

import (
	"fmt"

	"netmodule/registry"
)

// List is a heterogeneous sequence. Every element carries its own type id, so
// a List may mix any registered payloads.
type List struct {
	Items []registry.Serializable
}

// NewList builds a List of items in order. Serialize fails on a nil item.
func NewList(items ...registry.Serializable) *List { return &List{Items: items} }

func (m *List) Type() registry.Type { return registry.Of(ListKind) }

// InfoLength is the sum of the element triplets.
func (m *List) InfoLength() int { return itemsLen(m.Items) }

func (m *List) Serialize(buf []byte, offset int) (int, error) {
	return writeItems(buf, offset, m.Items)
}

func (m *List) Deserialize(data []byte, start, end int) error {
	items, err := readItems(data, start, end, registry.Type{})
	if err != nil {
		return registry.WrapDeserialize(m.Type(), data, start, end, err)
	}
	m.Items = items
	return nil
}

// TypedList is a homogeneous sequence of Elem.
type TypedList struct {
	Elem  registry.Type
	Items []registry.Serializable
}

// NewTypedList builds a TypedList; Serialize rejects items whose type is
// not elem.
func NewTypedList(elem registry.Type, items ...registry.Serializable) *TypedList {
	return &TypedList{Elem: elem, Items: items}
}

func (m *TypedList) Type() registry.Type { return registry.Of(TypedListKind, m.Elem) }

func (m *TypedList) InfoLength() int { return itemsLen(m.Items) }

func (m *TypedList) Serialize(buf []byte, offset int) (int, error) {
	for i, v := range m.Items {
		if v != nil && !v.Type().Equal(m.Elem) {
			return 0, fmt.Errorf("%w: item %d is %s, want %s", ErrTypeMismatch, i, v.Type(), m.Elem)
		}
	}
	return writeItems(buf, offset, m.Items)
}

func (m *TypedList) Deserialize(data []byte, start, end int) error {
	items, err := readItems(data, start, end, m.Elem)
	if err != nil {
		return registry.WrapDeserialize(m.Type(), data, start, end, err)
	}
	m.Items = items
	return nil
}

func itemsLen(items []registry.Serializable) int {
	n := 0
	for _, v := range items {
		n += elementLen(v)
	}
	return n
}

func writeItems(buf []byte, offset int, items []registry.Serializable) (int, error) {
	pos := offset
	for _, v := range items {
		n, err := writeElement(buf, pos, v, tripletLength)
		if err != nil {
			return pos - offset, err
		}
		pos += n
	}
	return pos - offset, nil
}

// readItems consumes triplets until end. A non-zero want restricts every
// element to that type.
func readItems(data []byte, start, end int, want registry.Type) ([]registry.Serializable, error) {
	var items []registry.Serializable
	for pos := start; pos < end; {
		v, next, err := readElement(data, pos, end, tripletLength)
		if err != nil {
			return nil, err
		}
		if !want.IsZero() && !v.Type().Equal(want) {
			return nil, fmt.Errorf("%w: item %d is %s, want %s", ErrTypeMismatch, len(items), v.Type(), want)
		}
		items = append(items, v)
		pos = next
	}
	return items, nil
}
