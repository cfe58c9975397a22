package marshal

import (
	"fmt"
	"io"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

const PlainStrategyName = "plain"

type plainStrategy struct{}

func (s *plainStrategy) Name() string {
	return PlainStrategyName
}

func (s *plainStrategy) NewMarshaller() Marshaller {
	return &plainMarshaller{}
}

func (s *plainStrategy) NewUnmarshaller() Unmarshaller {
	return &plainUnmarshaller{}
}

// Objects are a msgpack string naming the type followed by the msgpack value.
// An empty name means nil or an unnamed type.
type plainMarshaller struct {
	enc *msgpack.Encoder
}

func (p *plainMarshaller) StartWriting(w io.Writer) error {
	if w == nil {
		return fmt.Errorf("%w: nil output", ErrIllegalState)
	}
	p.enc = msgpack.NewEncoder(w)
	return nil
}

func (p *plainMarshaller) WriteObject(v any) error {
	if p.enc == nil {
		return fmt.Errorf("%w: write before start", ErrIllegalState)
	}

	t := reflect.TypeOf(v)
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	err := p.enc.EncodeString(TypeName(t))
	if err != nil {
		return err
	}
	err = p.enc.Encode(v)
	if err != nil {
		return fmt.Errorf("%w: %T: %w", ErrInvalidObject, v, err)
	}
	return nil
}

func (p *plainMarshaller) FinishWriting() error {
	if p.enc == nil {
		return fmt.Errorf("%w: finish before start", ErrIllegalState)
	}
	p.enc = nil
	return nil
}

type plainUnmarshaller struct {
	dec *msgpack.Decoder
}

// The resolver is ignored; names resolve only through the default registry.
func (p *plainUnmarshaller) StartReading(r io.Reader, _ TypeResolver) error {
	if r == nil {
		return fmt.Errorf("%w: nil input", ErrIllegalState)
	}
	p.dec = msgpack.NewDecoder(r)
	return nil
}

func (p *plainUnmarshaller) ReadObject() (any, error) {
	if p.dec == nil {
		return nil, fmt.Errorf("%w: read before start", ErrIllegalState)
	}

	name, err := p.dec.DecodeString()
	if err != nil {
		return nil, err
	}

	t, found := DefaultRegistry.ResolveType(name)
	if name == "" || !found {
		return p.dec.DecodeInterface()
	}

	rv := reflect.New(t)
	err = p.dec.Decode(rv.Interface())
	if err != nil {
		return nil, err
	}
	return rv.Elem().Interface(), nil
}

func (p *plainUnmarshaller) FinishReading() error {
	if p.dec == nil {
		return fmt.Errorf("%w: finish before start", ErrIllegalState)
	}
	p.dec = nil
	return nil
}
