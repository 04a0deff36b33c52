package registry

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// stub is a payload with no content, enough to exercise constructors.
type stub struct{ t Type }

func (s *stub) Type() Type                                  { return s.t }
func (s *stub) InfoLength() int                             { return 0 }
func (s *stub) Serialize(buf []byte, offset int) (int, error) { return 0, nil }
func (s *stub) Deserialize(data []byte, start, end int) error { return nil }

func newKind(name string, arity int) *Kind {
	k := &Kind{Name: name, Arity: arity}
	k.New = func(args []Type) Serializable { return &stub{t: Of(k, args...)} }
	return k
}

func newTestRegistry(t *testing.T) (*Registry, *Kind, *Kind, *Kind, *Kind) {
	t.Helper()
	a := newKind("A", 0)
	b := newKind("B", 0)
	one := newKind("One", 1)
	two := newKind("Two", 2)
	r, err := New(a, b, one, two)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return r, a, b, one, two
}

func ids(vals ...uint32) []byte {
	out := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		out = binary.LittleEndian.AppendUint32(out, v)
	}
	return out
}

func TestIDsFollowRegistrationOrder(t *testing.T) {
	r, a, b, one, two := newTestRegistry(t)
	for want, k := range []*Kind{a, b, one, two} {
		got, err := r.IDOf(Of(k))
		if err != nil {
			t.Fatalf("IDOf(%s): %v", k.Name, err)
		}
		if got != want {
			t.Errorf("IDOf(%s) = %d, want %d", k.Name, got, want)
		}
	}
}

func TestGenericUsesOpenKindIndex(t *testing.T) {
	r, a, _, one, _ := newTestRegistry(t)
	id, err := r.IDOf(Of(one, Of(a)))
	if err != nil {
		t.Fatal(err)
	}
	if id != 2 {
		t.Fatalf("expect open kind index 2, got %d", id)
	}
}

func TestEncodeID(t *testing.T) {
	r, a, b, one, two := newTestRegistry(t)

	cases := []struct {
		name string
		typ  Type
		want []byte
	}{
		{"leaf", Of(b), ids(1)},
		{"single arg", Of(one, Of(a)), ids(2, 0)},
		{"nested", Of(two, Of(a), Of(one, Of(b))), ids(3, 0, 2, 1)},
		{"nested first", Of(two, Of(two, Of(a), Of(b)), Of(a)), ids(3, 3, 0, 1, 0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.EncodeID(tc.typ)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if !bytes.Equal(got, tc.want) {
				t.Fatalf("encode %s: got %x, want %x", tc.typ, got, tc.want)
			}
			if EncodedLen(tc.typ) != len(got) {
				t.Fatalf("EncodedLen = %d, want %d", EncodedLen(tc.typ), len(got))
			}

			decoded, end, err := r.DecodeType(append([]byte{0xee}, got...), 1)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !decoded.Equal(tc.typ) {
				t.Fatalf("decode: got %s, want %s", decoded, tc.typ)
			}
			if end != 1+len(got) {
				t.Fatalf("decode end = %d, want %d", end, 1+len(got))
			}
		})
	}
}

func TestDecodeTypeDeepNesting(t *testing.T) {
	r, _, b, one, _ := newTestRegistry(t)

	const depth = 100000
	buf := make([]byte, 0, 4*(depth+1))
	for i := 0; i < depth; i++ {
		buf = binary.LittleEndian.AppendUint32(buf, 2)
	}
	buf = binary.LittleEndian.AppendUint32(buf, 1)

	typ, end, err := r.DecodeType(buf, 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if end != len(buf) {
		t.Fatalf("end = %d, want %d", end, len(buf))
	}
	n := 0
	for typ.Kind == one {
		typ = typ.Args[0]
		n++
	}
	if n != depth || typ.Kind != b {
		t.Fatalf("unwrapped %d levels ending in %v", n, typ)
	}
}

func TestDecodeTypeErrors(t *testing.T) {
	r, _, _, _, _ := newTestRegistry(t)

	if _, _, err := r.DecodeType(ids(9), 0); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("unknown id: expected ErrUnsupportedType, got %v", err)
	}
	if _, _, err := r.DecodeType([]byte{1, 0}, 0); !errors.Is(err, ErrTruncated) {
		t.Errorf("short id: expected ErrTruncated, got %v", err)
	}
	// Two[A, <missing>]
	if _, _, err := r.DecodeType(ids(3, 0), 0); !errors.Is(err, ErrTruncated) {
		t.Errorf("missing argument: expected ErrTruncated, got %v", err)
	}
}

func TestUnregisteredType(t *testing.T) {
	r, a, _, one, _ := newTestRegistry(t)
	stranger := newKind("Stranger", 0)

	if _, err := r.IDOf(Of(stranger)); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
	if _, err := r.EncodeID(Of(one, Of(stranger))); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType for nested argument, got %v", err)
	}
	if _, err := r.EncodeID(Of(one, Of(a), Of(a))); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType for arity mismatch, got %v", err)
	}
}

func TestConstructor(t *testing.T) {
	bare := &Kind{Name: "Bare"}
	r, a, _, one, _ := newTestRegistry(t)
	r2, err := New(bare)
	if err != nil {
		t.Fatal(err)
	}

	v, err := r.New(Of(one, Of(a)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !v.Type().Equal(Of(one, Of(a))) {
		t.Fatalf("constructed %s", v.Type())
	}

	if _, err := r2.New(Of(bare)); !errors.Is(err, ErrMissingConstructor) {
		t.Fatalf("expected ErrMissingConstructor, got %v", err)
	}
}

func TestRegisterAfterUseIsRejected(t *testing.T) {
	r, a, _, _, _ := newTestRegistry(t)
	if r.Sealed() {
		t.Fatal("registry sealed before first lookup")
	}
	if _, err := r.IDOf(Of(a)); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(newKind("Late", 0)); !errors.Is(err, ErrSealed) {
		t.Fatalf("expected ErrSealed, got %v", err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	a := newKind("A", 0)
	if _, err := New(a, a); !errors.Is(err, ErrDuplicateKind) {
		t.Fatalf("expected ErrDuplicateKind, got %v", err)
	}
	if _, err := New(a, newKind("A", 0)); !errors.Is(err, ErrDuplicateKind) {
		t.Fatalf("expected ErrDuplicateKind for duplicate name, got %v", err)
	}
}

func TestWrapDeserializeBuildsChain(t *testing.T) {
	_, a, _, one, two := newTestRegistry(t)
	data := []byte{1, 2, 3, 4, 5, 6}
	cause := errors.New("boom")

	inner := Of(a)
	middle := Of(one, inner)
	outer := Of(two, middle, inner)

	err := WrapDeserialize(inner, data, 2, 4, cause)
	err = WrapDeserialize(middle, data, 0, 6, err)
	err = WrapDeserialize(outer, data, 0, 6, err)

	var de *DeserializeError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DeserializeError, got %T", err)
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause not reachable through Unwrap")
	}
	if !bytes.Equal(de.Data, []byte{3, 4}) {
		t.Fatalf("snapshot = %v", de.Data)
	}
	path := de.Path()
	if len(path) != 3 || !path[0].Equal(outer) || !path[2].Equal(inner) {
		t.Fatalf("unexpected path %v", path)
	}
	if WrapDeserialize(inner, data, 0, 1, nil) != nil {
		t.Fatal("wrapping nil must stay nil")
	}
}

func TestTypeString(t *testing.T) {
	_, a, b, one, two := newTestRegistry(t)
	got := Of(two, Of(a), Of(one, Of(b))).String()
	if got != "Two[A,One[B]]" {
		t.Fatalf("String() = %q", got)
	}
}
