package registry

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
)

// Registry maps kinds to their index in an ordered list.
//
// Kinds are appended by Register. The first lookup seals the registry: ids
// handed out to a peer must keep meaning the same kind, so the list is
// immutable from then on.
type Registry struct {
	mu     sync.RWMutex
	kinds  []*Kind
	index  map[*Kind]int
	names  map[string]int
	sealed atomic.Bool
}

// New creates a registry holding kinds in the given order.
func New(kinds ...*Kind) (*Registry, error) {
	r := &Registry{
		index: make(map[*Kind]int),
		names: make(map[string]int),
	}
	if err := r.Register(kinds...); err != nil {
		return nil, err
	}
	return r, nil
}

// Register appends kinds in order. It fails once the registry has served a
// lookup.
func (r *Registry) Register(kinds ...*Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() {
		return ErrSealed
	}
	for _, k := range kinds {
		if k == nil || k.Name == "" || k.Arity < 0 {
			return fmt.Errorf("%w: invalid kind %v", ErrUnsupportedType, k)
		}
		if _, ok := r.index[k]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateKind, k.Name)
		}
		if _, ok := r.names[k.Name]; ok {
			return fmt.Errorf("%w: name %s", ErrDuplicateKind, k.Name)
		}
		r.index[k] = len(r.kinds)
		r.names[k.Name] = len(r.kinds)
		r.kinds = append(r.kinds, k)
	}
	return nil
}

// Seal freezes the kind list.
func (r *Registry) Seal() { r.sealed.Store(true) }

// Sealed reports whether the kind list is frozen.
func (r *Registry) Sealed() bool { return r.sealed.Load() }

// Kinds returns the registered kinds in id order.
func (r *Registry) Kinds() []*Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Kind, len(r.kinds))
	copy(out, r.kinds)
	return out
}

// Lookup returns the kind registered under name.
func (r *Registry) Lookup(name string) (*Kind, bool) {
	r.Seal()
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.names[name]
	if !ok {
		return nil, false
	}
	return r.kinds[id], true
}

// IDOf returns the index of t's kind. For a generic type this is the index of
// the open definition.
func (r *Registry) IDOf(t Type) (int, error) {
	if t.Kind == nil {
		return 0, fmt.Errorf("%w: nil kind", ErrUnsupportedType)
	}
	r.Seal()
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.index[t.Kind]
	if !ok {
		return 0, fmt.Errorf("%w: %s is not registered", ErrUnsupportedType, t.Kind.Name)
	}
	return id, nil
}

// KindOf returns the kind registered under id.
func (r *Registry) KindOf(id int) (*Kind, error) {
	r.Seal()
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < 0 || id >= len(r.kinds) {
		return nil, fmt.Errorf("%w: id %d", ErrUnsupportedType, id)
	}
	return r.kinds[id], nil
}

// EncodeID returns the encoded id of t.
func (r *Registry) EncodeID(t Type) ([]byte, error) {
	return r.AppendID(make([]byte, 0, EncodedLen(t)), t)
}

// AppendID appends the encoded id of t to dst: the kind index followed by the
// encoded ids of each argument in declared order.
func (r *Registry) AppendID(dst []byte, t Type) ([]byte, error) {
	if t.Kind != nil && len(t.Args) != t.Kind.Arity {
		return nil, fmt.Errorf("%w: %s takes %d type arguments, got %d",
			ErrUnsupportedType, t.Kind.Name, t.Kind.Arity, len(t.Args))
	}
	id, err := r.IDOf(t)
	if err != nil {
		return nil, err
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(id))
	for _, arg := range t.Args {
		if dst, err = r.AppendID(dst, arg); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// frame is one open generic type whose arguments are still being collected.
type frame struct {
	kind *Kind
	args []Type
}

// DecodeType reads an encoded id starting at buf[offset] and returns the
// closed type and the offset just past the id.
//
// Nesting is tracked on an explicit stack so arbitrarily deep generic
// arguments do not grow the goroutine stack.
func (r *Registry) DecodeType(buf []byte, offset int) (Type, int, error) {
	kind, offset, err := r.readKind(buf, offset)
	if err != nil {
		return Type{}, offset, err
	}
	if !kind.Generic() {
		return Type{Kind: kind}, offset, nil
	}

	stack := []*frame{{kind: kind, args: make([]Type, 0, kind.Arity)}}
	for {
		top := stack[len(stack)-1]
		if len(top.args) == top.kind.Arity {
			stack = stack[:len(stack)-1]
			closed := Type{Kind: top.kind, Args: top.args}
			if len(stack) == 0 {
				return closed, offset, nil
			}
			parent := stack[len(stack)-1]
			parent.args = append(parent.args, closed)
			continue
		}

		kind, offset, err = r.readKind(buf, offset)
		if err != nil {
			return Type{}, offset, err
		}
		if kind.Generic() {
			stack = append(stack, &frame{kind: kind, args: make([]Type, 0, kind.Arity)})
			continue
		}
		top.args = append(top.args, Type{Kind: kind})
	}
}

func (r *Registry) readKind(buf []byte, offset int) (*Kind, int, error) {
	if offset < 0 || len(buf)-offset < TypeIDSize {
		return nil, offset, fmt.Errorf("%w at offset %d", ErrTruncated, offset)
	}
	id := binary.LittleEndian.Uint32(buf[offset : offset+TypeIDSize])
	if id > uint32(^uint32(0)>>1) {
		return nil, offset, fmt.Errorf("%w: id %d", ErrUnsupportedType, id)
	}
	kind, err := r.KindOf(int(id))
	if err != nil {
		return nil, offset, err
	}
	return kind, offset + TypeIDSize, nil
}

// ConstructorOf returns a parameterless constructor for t.
func (r *Registry) ConstructorOf(t Type) (func() Serializable, error) {
	if _, err := r.IDOf(t); err != nil {
		return nil, err
	}
	if len(t.Args) != t.Kind.Arity {
		return nil, fmt.Errorf("%w: %s takes %d type arguments, got %d",
			ErrUnsupportedType, t.Kind.Name, t.Kind.Arity, len(t.Args))
	}
	if t.Kind.New == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingConstructor, t)
	}
	args := t.Args
	newFn := t.Kind.New
	return func() Serializable { return newFn(args) }, nil
}

// New constructs a zero value of t.
func (r *Registry) New(t Type) (Serializable, error) {
	ctor, err := r.ConstructorOf(t)
	if err != nil {
		return nil, err
	}
	v := ctor()
	if v == nil {
		return nil, fmt.Errorf("%w: %s constructor returned nil", ErrMissingConstructor, t)
	}
	return v, nil
}

var defaultRegistry, _ = New()

// Default returns the process-wide registry used by the message and protocol
// packages.
func Default() *Registry { return defaultRegistry }

// Register appends kinds to the default registry. Call it from init.
func Register(kinds ...*Kind) error { return defaultRegistry.Register(kinds...) }

// MustRegister is Register that panics on error, for use in init.
func MustRegister(kinds ...*Kind) {
	if err := Register(kinds...); err != nil {
		panic(err)
	}
}

// IDOf looks t up in the default registry.
func IDOf(t Type) (int, error) { return defaultRegistry.IDOf(t) }

// EncodeID encodes t with the default registry.
func EncodeID(t Type) ([]byte, error) { return defaultRegistry.EncodeID(t) }

// AppendID appends t's encoded id using the default registry.
func AppendID(dst []byte, t Type) ([]byte, error) { return defaultRegistry.AppendID(dst, t) }

// DecodeType decodes a type id with the default registry.
func DecodeType(buf []byte, offset int) (Type, int, error) {
	return defaultRegistry.DecodeType(buf, offset)
}

// NewOf constructs a zero value of t from the default registry.
func NewOf(t Type) (Serializable, error) { return defaultRegistry.New(t) }
