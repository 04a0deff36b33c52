// Package registry assigns process-local integer identities to payload types and
// encodes nested generic type graphs as byte sequences.
//
// A payload shape is described by a Kind. Non-generic kinds have arity 0; an
// open generic kind (Pair, Single, TypedList, ...) has one slot per type
// parameter. A closed Type is a kind plus concrete arguments:
//
//	Pair[Int32, Single[Float64]]
//	  └─ encoded id: [id(Pair)][id(Int32)][id(Single)][id(Float64)]  (4 bytes LE each)
//
// Ids are indexes into the ordered kind list of a Registry. They are stable for
// the lifetime of a process and are not portable across builds that register
// kinds in a different order.
package registry

import "strings"

// TypeIDSize is the width of one encoded kind index.
const TypeIDSize = 4

// Serializable is the capability every payload type implements.
//
// InfoLength is the exact payload byte length, excluding the envelope header,
// the encoded type id and the checksum. Serialize writes exactly InfoLength
// bytes at buf[offset:] and returns the count written. Deserialize initializes
// the receiver from data[start:end].
type Serializable interface {
	Type() Type
	InfoLength() int
	Serialize(buf []byte, offset int) (int, error)
	Deserialize(data []byte, start, end int) error
}

// Kind describes one registered payload shape.
type Kind struct {
	Name  string
	Arity int // number of type parameters, 0 for non-generic kinds

	// New returns a zero value of the closed type built from args. It plays the
	// role of a parameterless constructor; a nil New makes the kind
	// undecodable.
	New func(args []Type) Serializable
}

// Generic reports whether the kind is an open generic definition.
func (k *Kind) Generic() bool { return k.Arity > 0 }

// Type is a closed payload type.
type Type struct {
	Kind *Kind
	Args []Type
}

// Of builds a closed type from a kind and its arguments.
func Of(k *Kind, args ...Type) Type {
	return Type{Kind: k, Args: args}
}

// IsZero reports whether t has no kind.
func (t Type) IsZero() bool { return t.Kind == nil }

// Generic reports whether t is built from an open generic kind.
func (t Type) Generic() bool { return t.Kind != nil && t.Kind.Generic() }

// Equal reports structural equality of two closed types.
func (t Type) Equal(u Type) bool {
	if t.Kind != u.Kind || len(t.Args) != len(u.Args) {
		return false
	}
	for i := range t.Args {
		if !t.Args[i].Equal(u.Args[i]) {
			return false
		}
	}
	return true
}

// String renders t as Name[Arg,...].
func (t Type) String() string {
	var sb strings.Builder
	t.write(&sb)
	return sb.String()
}

func (t Type) write(sb *strings.Builder) {
	if t.Kind == nil {
		sb.WriteString("<nil>")
		return
	}
	sb.WriteString(t.Kind.Name)
	if len(t.Args) == 0 {
		return
	}
	sb.WriteByte('[')
	for i, arg := range t.Args {
		if i > 0 {
			sb.WriteByte(',')
		}
		arg.write(sb)
	}
	sb.WriteByte(']')
}

// EncodedLen returns the byte length of t's encoded id: one index per node of
// the type tree. It needs no registry lookup.
func EncodedLen(t Type) int {
	n := TypeIDSize
	for _, arg := range t.Args {
		n += EncodedLen(arg)
	}
	return n
}
