package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Meander-Cloud/go-remote/remote"
)

type ChannelOptions struct {
	LogPrefix string
	LogDebug  bool

	Txid             byte
	RxidMap          map[byte]struct{}
	MaxMessageLength uint32
	WriteDeadline    time.Duration
}

// Channel carries one protocol message per frame over a stream connection.
type Channel struct {
	options    *ChannelOptions
	connID     uint32
	conn       net.Conn
	descriptor string

	// guards conn writes so frames never interleave
	writeMutex sync.Mutex
	closeOnce  sync.Once
	closeErr   error
}

func NewChannel(options *ChannelOptions, connID uint32, selfID string, conn net.Conn) *Channel {
	return &Channel{
		options: options,
		connID:  connID,
		conn:    conn,
		descriptor: fmt.Sprintf(
			"[%d]%s<-<%s>",
			connID,
			selfID,
			conn.RemoteAddr().String(),
		),

		writeMutex: sync.Mutex{},
		closeOnce:  sync.Once{},
		closeErr:   nil,
	}
}

func (c *Channel) ConnID() uint32 {
	return c.connID
}

func (c *Channel) Descriptor() string {
	return c.descriptor
}

// invoked on ReadLoop goroutine
func (c *Channel) ReadMessage() ([]byte, error) {
	// first read seven bytes
	// 0 - pre-designated bit pattern indicating valid message
	// 1 - protocol version
	// 2 - sender id
	// 3,4,5,6 - payload length of type uint32, little endian byte order
	var header [frameHeaderLen]byte
	_, err := io.ReadFull(c.conn, header[:])
	if err != nil {
		return nil, err
	}

	if header[0] != protocolPattern {
		return nil, fmt.Errorf("%w: pattern in header bytes %X", ErrInvalidFrame, header)
	}
	if header[1] != protocolVersion {
		return nil, fmt.Errorf("%w: unsupported version in header bytes %X", ErrInvalidFrame, header)
	}
	if _, found := c.options.RxidMap[header[2]]; !found {
		return nil, fmt.Errorf("%w: unrecognized sender id in header bytes %X", ErrInvalidFrame, header)
	}

	payloadLen := binary.LittleEndian.Uint32(header[3:])
	if payloadLen > c.options.MaxMessageLength {
		return nil, fmt.Errorf("%w: payloadLen=%d exceeds %d", ErrInvalidFrame, payloadLen, c.options.MaxMessageLength)
	}

	payload := make([]byte, payloadLen)
	_, err = io.ReadFull(c.conn, payload)
	if err != nil {
		return nil, err
	}
	if c.options.LogDebug {
		log.Debug().Msgf("%s: %s: read %d payload bytes", c.options.LogPrefix, c.descriptor, payloadLen)
	}
	return payload, nil
}

// OpenMessage buffers the message; nothing reaches the connection until Close.
func (c *Channel) OpenMessage() (remote.OutboundMessage, error) {
	buffer := new(bytes.Buffer)
	buffer.Grow(typicalBufferLen)
	buffer.WriteByte(protocolPattern)
	buffer.WriteByte(protocolVersion)
	buffer.WriteByte(c.options.Txid)

	// placeholder for payload length
	buffer.Write([]byte{0x00, 0x00, 0x00, 0x00})

	return &frame{
		c:      c,
		buffer: buffer,
	}, nil
}

func (c *Channel) writeFrame(buf []byte) error {
	payloadLen := len(buf) - frameHeaderLen
	if payloadLen < 0 || uint32(payloadLen) > c.options.MaxMessageLength {
		return fmt.Errorf("%s: %s: outbound payloadLen=%d exceeds %d", c.options.LogPrefix, c.descriptor, payloadLen, c.options.MaxMessageLength)
	}
	binary.LittleEndian.PutUint32(buf[3:frameHeaderLen], uint32(payloadLen))

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	c.conn.SetWriteDeadline(time.Now().UTC().Add(c.options.WriteDeadline))
	_, err := c.conn.Write(buf)
	if err != nil {
		log.Warn().Msgf("%s: %s: failed to write %d bytes, err=%s", c.options.LogPrefix, c.descriptor, len(buf), err.Error())
		return err
	}
	if c.options.LogDebug {
		log.Debug().Msgf("%s: %s: wrote %d bytes, header %X", c.options.LogPrefix, c.descriptor, len(buf), buf[:frameHeaderLen])
	}
	return nil
}

func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

type frame struct {
	c      *Channel
	buffer *bytes.Buffer
	done   bool
}

func (f *frame) Write(p []byte) (int, error) {
	if f.done {
		return 0, io.ErrClosedPipe
	}
	return f.buffer.Write(p)
}

func (f *frame) Close() error {
	if f.done {
		return io.ErrClosedPipe
	}
	f.done = true
	return f.c.writeFrame(f.buffer.Bytes())
}

func (f *frame) Abort() {
	f.done = true
	f.buffer = nil
}
