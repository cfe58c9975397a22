package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
)

// Load decodes a TOML file, fills defaults and validates the result.
func Load(path string) (*Config, error) {
	c := &Config{}
	meta, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}

	for _, key := range meta.Undecoded() {
		log.Warn().Msgf("config: %s: ignoring unknown key %s", path, key.String())
	}

	c.ApplyDefaults()

	err = c.Validate()
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Template is a commented starting point written by `go-remote -init`.
const Template = `node_name = "node-1"
listen_address = "localhost:8911"
websocket_address = ""
websocket_path = "/remote"
metrics_address = "localhost:9911"

marshalling = "typed"
max_outbound_messages = 80
max_message_length = 8388608

workers = 8
event_channel_length = 1024

tcp_keepalive_interval = 17
tcp_keepalive_count = 2
tcp_dial_timeout = 3
tcp_write_deadline = 3

log_prefix = "remote"
log_debug = false
log_level = "info"

# joins this node to a cluster; leave name empty for a singleton node
[cluster]
name = ""

# [[cluster.mappings]]
# source_network = "0.0.0.0/0"
# destination = "localhost"
# destination_port = 8911

# [[cluster.peers]]
# name = "node-2"
# [[cluster.peers.mappings]]
# source_network = "0.0.0.0/0"
# destination = "localhost"
# destination_port = 8912
`
