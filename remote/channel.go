package remote

import (
	"io"
)

// OutboundMessage buffers one outbound protocol message. Close sends it,
// Abort discards it.
type OutboundMessage interface {
	io.Writer
	Close() error
	Abort()
}

// Channel is one ordered, message framed duplex connection.
type Channel interface {
	ReadMessage() ([]byte, error)
	OpenMessage() (OutboundMessage, error)
	Close() error
	Descriptor() string
}

// MarshallingSelector is implemented by channels that negotiated a
// marshalling strategy during connection setup.
type MarshallingSelector interface {
	Marshalling() string
}
