package ws

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Meander-Cloud/go-remote/remote"
)

// ErrTextMessage is returned by ReadMessage when the peer sends a text frame.
var ErrTextMessage = errors.New("ws: text message on binary channel")

// Channel carries one protocol message per binary WebSocket message.
type Channel struct {
	conn          *websocket.Conn
	descriptor    string
	marshalling   string
	writeDeadline time.Duration

	writeMutex sync.Mutex
	closeOnce  sync.Once
	closeErr   error
}

func newChannel(conn *websocket.Conn, connID uint32, selfID string, marshalling string, writeDeadline time.Duration) *Channel {
	return &Channel{
		conn: conn,
		descriptor: fmt.Sprintf(
			"[%d]%s<-ws<%s>",
			connID,
			selfID,
			conn.RemoteAddr().String(),
		),
		marshalling:   marshalling,
		writeDeadline: writeDeadline,
	}
}

func (c *Channel) Descriptor() string {
	return c.descriptor
}

// Marshalling is the strategy the client asked for, empty for the default.
func (c *Channel) Marshalling() string {
	return c.marshalling
}

func (c *Channel) ReadMessage() ([]byte, error) {
	mt, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if mt != websocket.BinaryMessage {
		return nil, fmt.Errorf("%w: type %d", ErrTextMessage, mt)
	}
	return data, nil
}

func (c *Channel) OpenMessage() (remote.OutboundMessage, error) {
	return &outbound{c: c}, nil
}

func (c *Channel) write(data []byte) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	c.conn.SetWriteDeadline(time.Now().UTC().Add(c.writeDeadline))
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

type outbound struct {
	c      *Channel
	buffer bytes.Buffer
	done   bool
}

func (m *outbound) Write(p []byte) (int, error) {
	if m.done {
		return 0, io.ErrClosedPipe
	}
	return m.buffer.Write(p)
}

func (m *outbound) Close() error {
	if m.done {
		return io.ErrClosedPipe
	}
	m.done = true
	return m.c.write(m.buffer.Bytes())
}

func (m *outbound) Abort() {
	m.done = true
	m.buffer.Reset()
}
