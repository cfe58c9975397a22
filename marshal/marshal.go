package marshal

import (
	"errors"
	"fmt"
	"io"
)

var (
	ErrIllegalState    = errors.New("marshal: illegal state")
	ErrClassNotFound   = errors.New("marshal: class not found")
	ErrInvalidObject   = errors.New("marshal: invalid object")
	ErrUnknownStrategy = errors.New("marshal: unknown strategy")
)

type Marshaller interface {
	StartWriting(w io.Writer) error
	WriteObject(v any) error
	FinishWriting() error
}

type Unmarshaller interface {
	// resolver may be nil, in which case only the default registry is consulted
	StartReading(r io.Reader, resolver TypeResolver) error
	ReadObject() (any, error)
	FinishReading() error
}

// Strategy creates per-message marshallers for one wire representation.
type Strategy interface {
	Name() string
	NewMarshaller() Marshaller
	NewUnmarshaller() Unmarshaller
}

var strategies = map[string]Strategy{
	TypedStrategyName: &typedStrategy{},
	PlainStrategyName: &plainStrategy{},
}

func Lookup(name string) (Strategy, error) {
	s, found := strategies[name]
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	return s, nil
}

// WriteObjects runs one start/write/finish cycle.
func WriteObjects(s Strategy, w io.Writer, values ...any) error {
	m := s.NewMarshaller()
	err := m.StartWriting(w)
	if err != nil {
		return err
	}
	for _, v := range values {
		err = m.WriteObject(v)
		if err != nil {
			return err
		}
	}
	return m.FinishWriting()
}

// ReadObjects runs one start/read/finish cycle for n objects.
func ReadObjects(s Strategy, r io.Reader, resolver TypeResolver, n int) ([]any, error) {
	u := s.NewUnmarshaller()
	err := u.StartReading(r, resolver)
	if err != nil {
		return nil, err
	}
	values := make([]any, 0, n)
	for i := 0; i < n; i++ {
		v, err := u.ReadObject()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, u.FinishReading()
}
