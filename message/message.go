// Package message defines the payload types carried inside envelopes.
//
// Leaf payloads (Int32, Float32, Float64, String, Empty, Null, Heartbeat)
// serialize themselves directly. Composite payloads (Single, Pair, List,
// TypedList) recurse through the type registry so each element can carry its
// own dynamic type:
//
//	element := [length:4][encoded type id][payload]
//
// Builtins lists every kind this package registers, in id order. The order is
// part of the wire contract between peers built from the same source: append
// new kinds at the end.
package message

import (
	"errors"

	"netmodule/registry"
)

var (
	ErrShortPayload         = errors.New("message: short payload")
	ErrTypeMismatch         = errors.New("message: element type mismatch")
	ErrInvalidElementLength = errors.New("message: invalid element length")
	ErrUnsupportedEncoding  = errors.New("message: unsupported string encoding")
	ErrNilValue             = errors.New("message: nil element")
)

// Kinds of the builtin payloads.
var (
	EmptyKind     = &registry.Kind{Name: "Empty"}
	NullKind      = &registry.Kind{Name: "Null"}
	HeartbeatKind = &registry.Kind{Name: "Heartbeat"}
	Int32Kind     = &registry.Kind{Name: "Int32"}
	Float32Kind   = &registry.Kind{Name: "Float32"}
	Float64Kind   = &registry.Kind{Name: "Float64"}
	StringKind    = &registry.Kind{Name: "String"}
	SingleKind    = &registry.Kind{Name: "Single", Arity: 1}
	PairKind      = &registry.Kind{Name: "Pair", Arity: 2}
	ListKind      = &registry.Kind{Name: "List"}
	TypedListKind = &registry.Kind{Name: "TypedList", Arity: 1}
)

// Builtins is the checked-in registration order of the builtin kinds.
var Builtins = []*registry.Kind{
	EmptyKind,
	NullKind,
	HeartbeatKind,
	Int32Kind,
	Float32Kind,
	Float64Kind,
	StringKind,
	SingleKind,
	PairKind,
	ListKind,
	TypedListKind,
}

func init() {
	EmptyKind.New = func([]registry.Type) registry.Serializable { return &Empty{} }
	NullKind.New = func([]registry.Type) registry.Serializable { return &Null{} }
	HeartbeatKind.New = func([]registry.Type) registry.Serializable { return &Heartbeat{} }
	Int32Kind.New = func([]registry.Type) registry.Serializable { return &Int32{} }
	Float32Kind.New = func([]registry.Type) registry.Serializable { return &Float32{} }
	Float64Kind.New = func([]registry.Type) registry.Serializable { return &Float64{} }
	StringKind.New = func([]registry.Type) registry.Serializable { return &String{} }
	SingleKind.New = func(args []registry.Type) registry.Serializable { return &Single{Elem: args[0]} }
	PairKind.New = func(args []registry.Type) registry.Serializable {
		return &Pair{LeftType: args[0], RightType: args[1]}
	}
	ListKind.New = func([]registry.Type) registry.Serializable { return &List{} }
	TypedListKind.New = func(args []registry.Type) registry.Serializable { return &TypedList{Elem: args[0]} }

	registry.MustRegister(Builtins...)
}
