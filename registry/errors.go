package registry

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedType    = errors.New("registry: unsupported type")
	ErrMissingConstructor = errors.New("registry: missing constructor")
	ErrSealed             = errors.New("registry: registration after first use")
	ErrDuplicateKind      = errors.New("registry: duplicate kind")
	ErrTruncated          = errors.New("registry: truncated type id")
)

// DeserializeError reports a failed Deserialize call together with the bytes
// it was given and the chain of payload types that enclosed it.
type DeserializeError struct {
	Cause error
	Data  []byte // copy of the failed byte range
	Start int
	End   int

	// Chain lists the enclosing payload types, innermost first. Every
	// composite that sees the error on its way up appends its own type.
	Chain []Type
}

func (e *DeserializeError) Error() string {
	return fmt.Sprintf("registry: deserialize %s [%d:%d]: %v", e.pathString(), e.Start, e.End, e.Cause)
}

func (e *DeserializeError) Unwrap() error { return e.Cause }

// Path returns the enclosing types from the outermost payload down to the one
// that failed.
func (e *DeserializeError) Path() []Type {
	out := make([]Type, len(e.Chain))
	for i, t := range e.Chain {
		out[len(e.Chain)-1-i] = t
	}
	return out
}

func (e *DeserializeError) pathString() string {
	parts := make([]string, 0, len(e.Chain))
	for _, t := range e.Path() {
		parts = append(parts, t.String())
	}
	return strings.Join(parts, " > ")
}

// WrapDeserialize attaches t to err. An existing *DeserializeError gets t
// pushed onto its chain; anything else becomes the cause of a new one that
// snapshots data[start:end].
func WrapDeserialize(t Type, data []byte, start, end int, err error) error {
	if err == nil {
		return nil
	}
	if de, ok := err.(*DeserializeError); ok {
		de.Chain = append(de.Chain, t)
		return de
	}
	return &DeserializeError{
		Cause: err,
		Data:  snapshot(data, start, end),
		Start: start,
		End:   end,
		Chain: []Type{t},
	}
}

func snapshot(data []byte, start, end int) []byte {
	if start < 0 {
		start = 0
	}
	if end > len(data) {
		end = len(data)
	}
	if start >= end {
		return nil
	}
	out := make([]byte, end-start)
	copy(out, data[start:end])
	return out
}

// Deserialize runs v.Deserialize over data[start:end] and makes sure a failure
// names v's type. Composite payloads already push their own type, so their
// errors pass through untouched. A panic inside v is recovered and reported
// as the cause.
func Deserialize(v Serializable, data []byte, start, end int) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = WrapDeserialize(v.Type(), data, start, end, fmt.Errorf("panic: %v", p))
		}
	}()
	if err = v.Deserialize(data, start, end); err == nil {
		return nil
	}
	if _, ok := err.(*DeserializeError); ok {
		return err
	}
	return WrapDeserialize(v.Type(), data, start, end, err)
}
