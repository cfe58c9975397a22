package protocol

import (
	"errors"
	"time"
)

const (
	tcpWriteDeadline time.Duration = time.Second * 3
)

const (
	typicalBufferLen int = 1024 // 1 KB
	frameHeaderLen   int = 7
)

const (
	protocolPattern byte = 0x59
	protocolVersion byte = 0x03
)

const (
	ServerSenderID byte = 0x01
	ClientSenderID byte = 0x02
)

// ErrInvalidFrame is returned by ReadMessage for a frame header that cannot
// belong to this protocol; the connection must be closed.
var ErrInvalidFrame = errors.New("protocol: invalid frame")
