package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// defaults for when not provided in Config
	EventChannelLength   uint16        = 1024
	Workers              uint16        = 8
	MaxOutboundMessages  uint16        = 80
	MaxMessageLength     uint32        = 8 * 1024 * 1024
	Marshalling          string        = "typed"
	WebSocketPath        string        = "/remote"
	TcpKeepAliveInterval time.Duration = time.Second * 17
	TcpKeepAliveCount    uint16        = 2
	TcpDialTimeout       time.Duration = time.Second * 3
	TcpWriteDeadline     time.Duration = time.Second * 3
	LogPrefix            string        = "remote"
)

var marshallingNames = map[string]struct{}{
	"typed": {},
	"plain": {},
}

type Config struct {
	NodeName string `toml:"node_name"`

	ListenAddress    string `toml:"listen_address"`
	WebSocketAddress string `toml:"websocket_address"`
	WebSocketPath    string `toml:"websocket_path"`
	MetricsAddress   string `toml:"metrics_address"`

	// name of the marshalling strategy negotiated for every connection
	Marshalling string `toml:"marshalling"`

	// permit count of each connection's write gate
	MaxOutboundMessages uint16 `toml:"max_outbound_messages"`
	MaxMessageLength    uint32 `toml:"max_message_length"`

	Workers uint16 `toml:"workers"`
	// tasks queued or running per arbiter before dispatch is rejected
	EventChannelLength uint16 `toml:"event_channel_length"`

	// seconds
	TcpKeepAliveInterval uint16 `toml:"tcp_keepalive_interval"`
	TcpKeepAliveCount    uint16 `toml:"tcp_keepalive_count"`
	TcpDialTimeout       uint16 `toml:"tcp_dial_timeout"`
	TcpWriteDeadline     uint16 `toml:"tcp_write_deadline"`

	LogPrefix string `toml:"log_prefix"`
	LogDebug  bool   `toml:"log_debug"`
	LogLevel  string `toml:"log_level"`

	Cluster ClusterConfig `toml:"cluster"`
}

// ApplyDefaults fills every zero field with its package default.
func (c *Config) ApplyDefaults() {
	if c.Marshalling == "" {
		c.Marshalling = Marshalling
	}
	if c.MaxOutboundMessages == 0 {
		c.MaxOutboundMessages = MaxOutboundMessages
	}
	if c.MaxMessageLength == 0 {
		c.MaxMessageLength = MaxMessageLength
	}
	if c.Workers == 0 {
		c.Workers = Workers
	}
	if c.EventChannelLength == 0 {
		c.EventChannelLength = EventChannelLength
	}
	if c.TcpKeepAliveInterval == 0 {
		c.TcpKeepAliveInterval = uint16(TcpKeepAliveInterval / time.Second)
	}
	if c.TcpKeepAliveCount == 0 {
		c.TcpKeepAliveCount = TcpKeepAliveCount
	}
	if c.TcpDialTimeout == 0 {
		c.TcpDialTimeout = uint16(TcpDialTimeout / time.Second)
	}
	if c.TcpWriteDeadline == 0 {
		c.TcpWriteDeadline = uint16(TcpWriteDeadline / time.Second)
	}
	if c.WebSocketPath == "" {
		c.WebSocketPath = WebSocketPath
	}
	if c.LogPrefix == "" {
		c.LogPrefix = LogPrefix
	}
}

func (c *Config) Validate() error {
	if c == nil {
		err := fmt.Errorf("nil config")
		log.Error().Msg(err.Error())
		return err
	}

	if c.NodeName == "" {
		err := fmt.Errorf("invalid NodeName=%s", c.NodeName)
		log.Error().Msg(err.Error())
		return err
	}

	if c.ListenAddress == "" && c.WebSocketAddress == "" {
		err := fmt.Errorf("no listener configured, ListenAddress and WebSocketAddress both empty")
		log.Error().Msg(err.Error())
		return err
	}

	if _, found := marshallingNames[c.Marshalling]; !found {
		err := fmt.Errorf("invalid Marshalling=%s", c.Marshalling)
		log.Error().Msg(err.Error())
		return err
	}

	if c.MaxOutboundMessages == 0 {
		err := fmt.Errorf("invalid MaxOutboundMessages=%d", c.MaxOutboundMessages)
		log.Error().Msg(err.Error())
		return err
	}

	if c.MaxMessageLength < 64 {
		err := fmt.Errorf("invalid MaxMessageLength=%d", c.MaxMessageLength)
		log.Error().Msg(err.Error())
		return err
	}

	if c.Workers == 0 {
		err := fmt.Errorf("invalid Workers=%d", c.Workers)
		log.Error().Msg(err.Error())
		return err
	}

	if c.EventChannelLength == 0 {
		err := fmt.Errorf("invalid EventChannelLength=%d", c.EventChannelLength)
		log.Error().Msg(err.Error())
		return err
	}

	if c.TcpKeepAliveInterval == 0 {
		err := fmt.Errorf("invalid TcpKeepAliveInterval=%d", c.TcpKeepAliveInterval)
		log.Error().Msg(err.Error())
		return err
	}

	if c.TcpKeepAliveCount == 0 {
		err := fmt.Errorf("invalid TcpKeepAliveCount=%d", c.TcpKeepAliveCount)
		log.Error().Msg(err.Error())
		return err
	}

	if c.TcpDialTimeout == 0 {
		err := fmt.Errorf("invalid TcpDialTimeout=%d", c.TcpDialTimeout)
		log.Error().Msg(err.Error())
		return err
	}

	if c.TcpWriteDeadline == 0 {
		err := fmt.Errorf("invalid TcpWriteDeadline=%d", c.TcpWriteDeadline)
		log.Error().Msg(err.Error())
		return err
	}

	return c.Cluster.validate(c.NodeName)
}
