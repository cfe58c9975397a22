package marshal

import (
	"fmt"
	"io"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Meander-Cloud/go-remote/wire"
)

const TypedStrategyName = "typed"

// object tags of the typed strategy
const (
	tagObjectIndex byte = 0x01
	tagClassIndex  byte = 0x02
	tagNamed       byte = 0x03
	tagUntyped     byte = 0x04
	tagNamedPtr    byte = 0x05
)

type typedStrategy struct{}

func (s *typedStrategy) Name() string {
	return TypedStrategyName
}

func (s *typedStrategy) NewMarshaller() Marshaller {
	return &typedMarshaller{}
}

func (s *typedStrategy) NewUnmarshaller() Unmarshaller {
	return &typedUnmarshaller{}
}

// Every object is one tag byte, then either a table index or a msgpack block
// optionally preceded by the type name.
type typedMarshaller struct {
	w *wire.Writer
}

func (p *typedMarshaller) StartWriting(w io.Writer) error {
	if w == nil {
		return fmt.Errorf("%w: nil output", ErrIllegalState)
	}
	p.w = wire.NewWriter(w)
	return nil
}

func (p *typedMarshaller) WriteObject(v any) error {
	if p.w == nil {
		return fmt.Errorf("%w: write before start", ErrIllegalState)
	}

	if i, found := objectForWrite(v); found {
		err := p.w.WriteByte(tagObjectIndex)
		if err != nil {
			return err
		}
		return p.w.WriteByte(i)
	}

	t := reflect.TypeOf(v)
	block, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %T: %w", ErrInvalidObject, v, err)
	}

	if i, found := classForWrite(t); found {
		err = p.w.WriteByte(tagClassIndex)
		if err == nil {
			err = p.w.WriteByte(i)
		}
		if err == nil {
			err = p.w.WriteBlock(block)
		}
		return err
	}

	tag := tagNamed
	if t.Kind() == reflect.Pointer && TypeName(t.Elem()) != "" {
		tag = tagNamedPtr
		t = t.Elem()
	}
	name := TypeName(t)
	if name == "" {
		err = p.w.WriteByte(tagUntyped)
		if err == nil {
			err = p.w.WriteBlock(block)
		}
		return err
	}

	err = p.w.WriteByte(tag)
	if err == nil {
		err = p.w.WriteUTF(name)
	}
	if err == nil {
		err = p.w.WriteBlock(block)
	}
	return err
}

func (p *typedMarshaller) FinishWriting() error {
	if p.w == nil {
		return fmt.Errorf("%w: finish before start", ErrIllegalState)
	}
	p.w = nil
	return nil
}

type typedUnmarshaller struct {
	r        *wire.Reader
	resolver TypeResolver
}

func (p *typedUnmarshaller) StartReading(r io.Reader, resolver TypeResolver) error {
	if r == nil {
		return fmt.Errorf("%w: nil input", ErrIllegalState)
	}
	if wr, ok := r.(*wire.Reader); ok {
		p.r = wr
	} else {
		b, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		p.r = wire.NewReader(b)
	}
	p.resolver = resolver
	return nil
}

func (p *typedUnmarshaller) ReadObject() (any, error) {
	if p.r == nil {
		return nil, fmt.Errorf("%w: read before start", ErrIllegalState)
	}

	tag, err := p.r.ReadByte()
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagObjectIndex:
		i, err := p.r.ReadByte()
		if err != nil {
			return nil, err
		}
		v, found := objectForRead(i)
		if !found {
			return nil, fmt.Errorf("%w: object index %d", wire.ErrMalformedMessage, i)
		}
		return v, nil

	case tagClassIndex:
		i, err := p.r.ReadByte()
		if err != nil {
			return nil, err
		}
		t, found := classForRead(i)
		if !found {
			return nil, fmt.Errorf("%w: class index %d", wire.ErrMalformedMessage, i)
		}
		return p.readTyped(t, false)

	case tagNamed, tagNamedPtr:
		name, err := p.r.ReadUTF()
		if err != nil {
			return nil, err
		}
		t, found := resolve(p.resolver, name)
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
		}
		return p.readTyped(t, tag == tagNamedPtr)

	case tagUntyped:
		block, err := p.r.ReadBlock()
		if err != nil {
			return nil, err
		}
		var v any
		err = msgpack.Unmarshal(block, &v)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", wire.ErrMalformedMessage, err)
		}
		return v, nil

	default:
		return nil, fmt.Errorf("%w: object tag 0x%02X", wire.ErrMalformedMessage, tag)
	}
}

func (p *typedUnmarshaller) readTyped(t reflect.Type, ptr bool) (any, error) {
	block, err := p.r.ReadBlock()
	if err != nil {
		return nil, err
	}
	rv := reflect.New(t)
	err = msgpack.Unmarshal(block, rv.Interface())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", wire.ErrMalformedMessage, t.String(), err)
	}
	if ptr {
		return rv.Interface(), nil
	}
	return rv.Elem().Interface(), nil
}

func (p *typedUnmarshaller) FinishReading() error {
	if p.r == nil {
		return fmt.Errorf("%w: finish before start", ErrIllegalState)
	}
	p.r = nil
	p.resolver = nil
	return nil
}
