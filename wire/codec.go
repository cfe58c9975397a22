package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
)

var (
	ErrMalformedMessage = errors.New("wire: malformed message")
	ErrValueOutOfRange  = errors.New("wire: value out of range")
)

const (
	// packed ints carry 7 bits per byte, low group first
	MaxPackedInt       = math.MaxInt32
	maxPackedIntBytes  = 5
	MaxUTFLength       = math.MaxUint16
	MaxAttachmentCount = math.MaxUint8

	// attachment key listing the keys an invoker is allowed to return
	ReturnedKeysAttachment uint16 = 0xFFFF
)

// Attachments is keyed by the 16-bit attachment key; encoding is ordered by key.
type Attachments map[uint16][]byte

// Clone returns a copy whose values do not alias the receiver's.
func (a Attachments) Clone() Attachments {
	if a == nil {
		return nil
	}
	c := make(Attachments, len(a))
	for k, v := range a {
		c[k] = append([]byte(nil), v...)
	}
	return c
}

func (a Attachments) keys() []uint16 {
	keys := make([]uint16, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// AppendPackedInt appends v in packed form.
func AppendPackedInt(b []byte, v int) ([]byte, error) {
	if v < 0 || v > MaxPackedInt {
		return b, fmt.Errorf("%w: packed int %d", ErrValueOutOfRange, v)
	}
	for v >= 0x80 {
		b = append(b, byte(v&0x7F)|0x80)
		v >>= 7
	}
	return append(b, byte(v)), nil
}

func PackedIntLen(v int) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// Writer encodes primitives onto an outbound message stream.
type Writer struct {
	w       io.Writer
	scratch []byte
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w:       w,
		scratch: make([]byte, 0, 16),
	}
}

// Stream exposes the underlying writer for object marshalling.
func (p *Writer) Stream() io.Writer {
	return p.w
}

func (p *Writer) flushScratch() error {
	_, err := p.w.Write(p.scratch)
	p.scratch = p.scratch[:0]
	return err
}

func (p *Writer) WriteHeader(h Header) error {
	return p.WriteByte(byte(h))
}

func (p *Writer) WriteByte(b byte) error {
	p.scratch = append(p.scratch[:0], b)
	return p.flushScratch()
}

func (p *Writer) WriteBool(v bool) error {
	if v {
		return p.WriteByte(1)
	}
	return p.WriteByte(0)
}

func (p *Writer) WriteU16(v uint16) error {
	p.scratch = binary.BigEndian.AppendUint16(p.scratch[:0], v)
	return p.flushScratch()
}

func (p *Writer) WriteI32(v int32) error {
	p.scratch = binary.BigEndian.AppendUint32(p.scratch[:0], uint32(v))
	return p.flushScratch()
}

func (p *Writer) WritePackedInt(v int) error {
	var err error
	p.scratch, err = AppendPackedInt(p.scratch[:0], v)
	if err != nil {
		p.scratch = p.scratch[:0]
		return err
	}
	return p.flushScratch()
}

func (p *Writer) WriteRaw(b []byte) error {
	_, err := p.w.Write(b)
	return err
}

func (p *Writer) WriteUTF(s string) error {
	if len(s) > MaxUTFLength {
		return fmt.Errorf("%w: utf length %d", ErrValueOutOfRange, len(s))
	}
	err := p.WriteU16(uint16(len(s)))
	if err != nil {
		return err
	}
	_, err = io.WriteString(p.w, s)
	return err
}

func (p *Writer) WriteBlock(b []byte) error {
	err := p.WritePackedInt(len(b))
	if err != nil {
		return err
	}
	return p.WriteRaw(b)
}

// WriteAttachments writes the count byte and every entry; a nil or empty set
// is a single zero byte.
func (p *Writer) WriteAttachments(a Attachments) error {
	if len(a) > MaxAttachmentCount {
		return fmt.Errorf("%w: %d attachments", ErrValueOutOfRange, len(a))
	}
	err := p.WriteByte(byte(len(a)))
	if err != nil {
		return err
	}
	for _, k := range a.keys() {
		err = p.WriteU16(k)
		if err != nil {
			return err
		}
		err = p.WriteBlock(a[k])
		if err != nil {
			return err
		}
	}
	return nil
}

// Reader decodes primitives from one complete inbound message.
type Reader struct {
	buf []byte
	off int
}

func NewReader(b []byte) *Reader {
	return &Reader{
		buf: b,
		off: 0,
	}
}

func (p *Reader) Remaining() int {
	return len(p.buf) - p.off
}

// Read implements io.Reader over the unread bytes.
func (p *Reader) Read(b []byte) (int, error) {
	if p.off >= len(p.buf) {
		if len(b) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(b, p.buf[p.off:])
	p.off += n
	return n, nil
}

func (p *Reader) take(n int) ([]byte, error) {
	if n < 0 || n > p.Remaining() {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrMalformedMessage, n, p.Remaining())
	}
	b := p.buf[p.off : p.off+n]
	p.off += n
	return b, nil
}

func (p *Reader) ReadByte() (byte, error) {
	b, err := p.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// UnreadByte makes the Reader an io.ByteScanner so decoders need no extra buffering.
func (p *Reader) UnreadByte() error {
	if p.off == 0 {
		return fmt.Errorf("%w: unread at start of message", ErrMalformedMessage)
	}
	p.off--
	return nil
}

func (p *Reader) ReadHeader() (Header, error) {
	b, err := p.ReadByte()
	return Header(b), err
}

func (p *Reader) ReadBool() (bool, error) {
	b, err := p.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func (p *Reader) ReadU16() (uint16, error) {
	b, err := p.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (p *Reader) ReadI32() (int32, error) {
	b, err := p.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (p *Reader) ReadPackedInt() (int, error) {
	v := 0
	for i := 0; i < maxPackedIntBytes; i++ {
		b, err := p.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= int(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			if v > MaxPackedInt {
				return 0, fmt.Errorf("%w: packed int overflow", ErrMalformedMessage)
			}
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: packed int longer than %d bytes", ErrMalformedMessage, maxPackedIntBytes)
}

func (p *Reader) ReadUTF() (string, error) {
	n, err := p.ReadU16()
	if err != nil {
		return "", err
	}
	b, err := p.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadRaw returns a copy of the next n bytes.
func (p *Reader) ReadRaw(n int) ([]byte, error) {
	b, err := p.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// ReadBlock returns a copy of the next length-prefixed block.
func (p *Reader) ReadBlock() ([]byte, error) {
	n, err := p.ReadPackedInt()
	if err != nil {
		return nil, err
	}
	return p.ReadRaw(n)
}

// ReadAttachments returns nil for a zero count.
func (p *Reader) ReadAttachments() (Attachments, error) {
	count, err := p.ReadByte()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	a := make(Attachments, count)
	for i := 0; i < int(count); i++ {
		k, err := p.ReadU16()
		if err != nil {
			return nil, err
		}
		v, err := p.ReadBlock()
		if err != nil {
			return nil, err
		}
		if _, found := a[k]; found {
			return nil, fmt.Errorf("%w: duplicate attachment key %d", ErrMalformedMessage, k)
		}
		a[k] = v
	}
	return a, nil
}
