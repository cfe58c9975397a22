package config

import (
	"fmt"
	"net/netip"

	"github.com/rs/zerolog/log"
)

type ClientMappingConfig struct {
	SourceNetwork   string `toml:"source_network"`
	Destination     string `toml:"destination"`
	DestinationPort uint16 `toml:"destination_port"`
}

type PeerConfig struct {
	Name     string                `toml:"name"`
	Mappings []ClientMappingConfig `toml:"mappings"`
}

// ClusterConfig joins the local node to one cluster at startup. An empty
// Name leaves the node a singleton.
type ClusterConfig struct {
	Name string `toml:"name"`

	// client mappings of the local node, announced under Config.NodeName
	Mappings []ClientMappingConfig `toml:"mappings"`

	// members known before any membership events arrive
	Peers []PeerConfig `toml:"peers"`
}

func (m *ClientMappingConfig) validate(owner string) error {
	_, err := netip.ParsePrefix(m.SourceNetwork)
	if err != nil {
		err = fmt.Errorf("invalid cluster mapping of %s, SourceNetwork=%s: %w", owner, m.SourceNetwork, err)
		log.Error().Msg(err.Error())
		return err
	}

	if m.Destination == "" || m.DestinationPort == 0 {
		err := fmt.Errorf("invalid cluster mapping of %s, Destination=%s, DestinationPort=%d", owner, m.Destination, m.DestinationPort)
		log.Error().Msg(err.Error())
		return err
	}

	return nil
}

func (c *ClusterConfig) validate(nodeName string) error {
	if c.Name == "" {
		if len(c.Mappings) != 0 || len(c.Peers) != 0 {
			err := fmt.Errorf("cluster mappings or peers given without a cluster name")
			log.Error().Msg(err.Error())
			return err
		}
		return nil
	}

	if len(c.Mappings) == 0 {
		err := fmt.Errorf("cluster %s has no client mappings for node %s", c.Name, nodeName)
		log.Error().Msg(err.Error())
		return err
	}
	for i := range c.Mappings {
		err := c.Mappings[i].validate(nodeName)
		if err != nil {
			return err
		}
	}

	seen := map[string]struct{}{nodeName: {}}
	for i := range c.Peers {
		peer := &c.Peers[i]
		if _, dup := seen[peer.Name]; peer.Name == "" || dup {
			err := fmt.Errorf("invalid peer Name=%q in cluster %s", peer.Name, c.Name)
			log.Error().Msg(err.Error())
			return err
		}
		seen[peer.Name] = struct{}{}

		if len(peer.Mappings) == 0 {
			err := fmt.Errorf("peer %s of cluster %s has no client mappings", peer.Name, c.Name)
			log.Error().Msg(err.Error())
			return err
		}
		for j := range peer.Mappings {
			err := peer.Mappings[j].validate(peer.Name)
			if err != nil {
				return err
			}
		}
	}

	return nil
}
