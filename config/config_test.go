package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "remote.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadTemplate(t *testing.T) {
	c, err := Load(writeConfig(t, Template))
	require.NoError(t, err)

	assert.Equal(t, "node-1", c.NodeName)
	assert.Equal(t, "localhost:8911", c.ListenAddress)
	assert.Equal(t, "typed", c.Marshalling)
	assert.Equal(t, uint16(80), c.MaxOutboundMessages)
	assert.Equal(t, uint16(8), c.Workers)
}

func TestLoadAppliesDefaults(t *testing.T) {
	c, err := Load(writeConfig(t, "node_name = \"a\"\nlisten_address = \":8911\"\n"))
	require.NoError(t, err)

	assert.Equal(t, Marshalling, c.Marshalling)
	assert.Equal(t, MaxOutboundMessages, c.MaxOutboundMessages)
	assert.Equal(t, MaxMessageLength, c.MaxMessageLength)
	assert.Equal(t, EventChannelLength, c.EventChannelLength)
	assert.Equal(t, uint16(TcpKeepAliveInterval/time.Second), c.TcpKeepAliveInterval)
	assert.Equal(t, WebSocketPath, c.WebSocketPath)
	assert.Equal(t, LogPrefix, c.LogPrefix)
}

func TestLoadIgnoresUnknownKeys(t *testing.T) {
	c, err := Load(writeConfig(t, "node_name = \"a\"\nlisten_address = \":1\"\nmystery = 4\n"))
	require.NoError(t, err)
	assert.Equal(t, "a", c.NodeName)
}

func TestLoadRejectsBadToml(t *testing.T) {
	_, err := Load(writeConfig(t, "node_name = "))
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{NodeName: "n", ListenAddress: ":1"}
		c.ApplyDefaults()
		return c
	}

	require.NoError(t, valid().Validate())

	var nilConfig *Config
	require.Error(t, nilConfig.Validate())

	c := valid()
	c.NodeName = ""
	assert.Error(t, c.Validate())

	c = valid()
	c.ListenAddress = ""
	assert.Error(t, c.Validate())

	c = valid()
	c.ListenAddress = ""
	c.WebSocketAddress = ":2"
	assert.NoError(t, c.Validate())

	c = valid()
	c.Marshalling = "xml"
	assert.Error(t, c.Validate())

	c = valid()
	c.Marshalling = "plain"
	assert.NoError(t, c.Validate())

	c = valid()
	c.MaxOutboundMessages = 0
	assert.Error(t, c.Validate())

	c = valid()
	c.MaxMessageLength = 10
	assert.Error(t, c.Validate())
}

const clusterConfig = `node_name = "node-1"
listen_address = ":8911"

[cluster]
name = "ejb"

[[cluster.mappings]]
source_network = "10.0.0.0/8"
destination = "10.0.0.5"
destination_port = 8911

[[cluster.peers]]
name = "node-2"

[[cluster.peers.mappings]]
source_network = "::/0"
destination = "fd00::2"
destination_port = 8912
`

func TestLoadCluster(t *testing.T) {
	c, err := Load(writeConfig(t, clusterConfig))
	require.NoError(t, err)

	assert.Equal(t, "ejb", c.Cluster.Name)
	require.Len(t, c.Cluster.Mappings, 1)
	assert.Equal(t, ClientMappingConfig{SourceNetwork: "10.0.0.0/8", Destination: "10.0.0.5", DestinationPort: 8911}, c.Cluster.Mappings[0])
	require.Len(t, c.Cluster.Peers, 1)
	assert.Equal(t, "node-2", c.Cluster.Peers[0].Name)
	assert.Equal(t, "fd00::2", c.Cluster.Peers[0].Mappings[0].Destination)
}

func TestValidateCluster(t *testing.T) {
	valid := func() *Config {
		c := &Config{NodeName: "n", ListenAddress: ":1"}
		c.ApplyDefaults()
		c.Cluster = ClusterConfig{
			Name:     "ejb",
			Mappings: []ClientMappingConfig{{SourceNetwork: "0.0.0.0/0", Destination: "localhost", DestinationPort: 1}},
			Peers: []PeerConfig{{
				Name:     "m",
				Mappings: []ClientMappingConfig{{SourceNetwork: "0.0.0.0/0", Destination: "localhost", DestinationPort: 2}},
			}},
		}
		return c
	}

	require.NoError(t, valid().Validate())

	c := valid()
	c.Cluster.Name = ""
	assert.Error(t, c.Validate())

	c = valid()
	c.Cluster.Mappings = nil
	assert.Error(t, c.Validate())

	c = valid()
	c.Cluster.Mappings[0].SourceNetwork = "10.0.0.1"
	assert.Error(t, c.Validate())

	c = valid()
	c.Cluster.Mappings[0].DestinationPort = 0
	assert.Error(t, c.Validate())

	c = valid()
	c.Cluster.Peers[0].Name = "n"
	assert.Error(t, c.Validate())

	c = valid()
	c.Cluster.Peers = append(c.Cluster.Peers, c.Cluster.Peers[0])
	assert.Error(t, c.Validate())

	c = valid()
	c.Cluster.Peers[0].Mappings = nil
	assert.Error(t, c.Validate())
}
