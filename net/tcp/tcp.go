package tcp

import (
	"time"

	"github.com/Meander-Cloud/go-transport/tcp"

	"github.com/Meander-Cloud/go-remote/config"
	tp "github.com/Meander-Cloud/go-remote/net/tcp/protocol"
	"github.com/Meander-Cloud/go-remote/remote"
)

const (
	// only dialing clients reconnect
	tcpReconnectInterval time.Duration = time.Second * 3
	tcpReconnectLogEvery uint32        = 20
)

// Listener accepts remoting connections on the configured address.
type Listener struct {
	protocol  *tp.Server
	tcpServer *tcp.TcpServer
}

func NewListener(c *config.Config, endpoint *remote.Endpoint) (*Listener, error) {
	var tcpKeepAliveInterval time.Duration
	if c.TcpKeepAliveInterval == 0 {
		tcpKeepAliveInterval = config.TcpKeepAliveInterval
	} else {
		tcpKeepAliveInterval = time.Second * time.Duration(c.TcpKeepAliveInterval)
	}

	var tcpKeepAliveCount uint16
	if c.TcpKeepAliveCount == 0 {
		tcpKeepAliveCount = config.TcpKeepAliveCount
	} else {
		tcpKeepAliveCount = c.TcpKeepAliveCount
	}

	var tcpDialTimeout time.Duration
	if c.TcpDialTimeout == 0 {
		tcpDialTimeout = config.TcpDialTimeout
	} else {
		tcpDialTimeout = time.Second * time.Duration(c.TcpDialTimeout)
	}

	var tcpWriteDeadline time.Duration
	if c.TcpWriteDeadline == 0 {
		tcpWriteDeadline = config.TcpWriteDeadline
	} else {
		tcpWriteDeadline = time.Second * time.Duration(c.TcpWriteDeadline)
	}

	var maxMessageLength uint32
	if c.MaxMessageLength == 0 {
		maxMessageLength = config.MaxMessageLength
	} else {
		maxMessageLength = c.MaxMessageLength
	}

	l := &Listener{
		protocol:  nil,
		tcpServer: nil,
	}

	var err error
	defer func() {
		if err != nil {
			l.Shutdown() // wait
		}
	}()

	l.protocol, err = tp.NewServer(
		&tp.ServerOptions{
			Options: &tcp.Options{
				Address:           c.ListenAddress,
				KeepAliveInterval: tcpKeepAliveInterval,
				KeepAliveCount:    tcpKeepAliveCount,
				DialTimeout:       tcpDialTimeout,
				ReconnectInterval: tcpReconnectInterval,
				ReconnectLogEvery: tcpReconnectLogEvery,
				Protocol:          nil,
				LogPrefix:         c.LogPrefix + "-Tcp",
				LogDebug:          c.LogDebug,
			},
			Endpoint: endpoint,
			Txid:     tp.ServerSenderID,
			RxidMap: map[byte]struct{}{
				tp.ClientSenderID: {},
			},
			MaxMessageLength: maxMessageLength,
			WriteDeadline:    tcpWriteDeadline,
			SelfID:           c.NodeName,
		},
	)
	if err != nil {
		return nil, err
	}
	l.protocol.Options().Protocol = l.protocol

	l.tcpServer, err = tcp.NewTcpServer(l.protocol.Options().Options)
	if err != nil {
		return nil, err
	}

	return l, nil
}

func (l *Listener) Shutdown() {
	if l.tcpServer != nil {
		l.tcpServer.Shutdown() // wait
	}
	if l.protocol != nil {
		l.protocol.Close()
	}
}

func (l *Listener) Server() *tp.Server {
	return l.protocol
}
