package message

import "netmodule/registry"

// Empty has no payload.
type Empty struct{}

func (m *Empty) Type() registry.Type { return registry.Of(EmptyKind) }

func (m *Empty) InfoLength() int { return 0 }

func (m *Empty) Serialize(buf []byte, offset int) (int, error) { return 0, nil }

func (m *Empty) Deserialize(data []byte, start, end int) error { return nil }

// Null is the "no message" sentinel returned by receivers when nothing is
// available. It is a real payload type, so it can also travel on the wire.
type Null struct{}

func (m *Null) Type() registry.Type { return registry.Of(NullKind) }

func (m *Null) InfoLength() int { return 0 }

func (m *Null) Serialize(buf []byte, offset int) (int, error) { return 0, nil }

func (m *Null) Deserialize(data []byte, start, end int) error { return nil }

// None is the shared sentinel value.
var None registry.Serializable = &Null{}

// IsNone reports whether m is the "no message" sentinel.
func IsNone(m registry.Serializable) bool {
	_, ok := m.(*Null)
	return ok
}

// Heartbeat is the keepalive frame. Connections send it periodically and drop
// it from the decoded queue on arrival.
type Heartbeat struct{}

func (m *Heartbeat) Type() registry.Type { return registry.Of(HeartbeatKind) }

func (m *Heartbeat) InfoLength() int { return 0 }

func (m *Heartbeat) Serialize(buf []byte, offset int) (int, error) { return 0, nil }

func (m *Heartbeat) Deserialize(data []byte, start, end int) error { return nil }

// IsHeartbeat reports whether m is a keepalive frame rather than application
// data.
func IsHeartbeat(m registry.Serializable) bool {
	_, ok := m.(*Heartbeat)
	return ok
}
