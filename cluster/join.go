package cluster

import (
	"fmt"
	"net/netip"

	"github.com/rs/zerolog/log"

	"github.com/Meander-Cloud/go-remote/config"
	"github.com/Meander-Cloud/go-remote/message"
)

func clientMappings(cfgs []config.ClientMappingConfig) ([]message.ClientMapping, error) {
	out := make([]message.ClientMapping, 0, len(cfgs))
	for _, m := range cfgs {
		prefix, err := netip.ParsePrefix(m.SourceNetwork)
		if err != nil {
			return nil, fmt.Errorf("source network %s: %w", m.SourceNetwork, err)
		}
		out = append(out, message.ClientMapping{
			SourceNetwork:   prefix.Masked(),
			Destination:     m.Destination,
			DestinationPort: m.DestinationPort,
		})
	}
	return out, nil
}

// Join adds the local node and its configured peers to the configured
// cluster. It does nothing for a singleton node.
func (p *Registry) Join(c *config.ClusterConfig) error {
	if c.Name == "" {
		log.Info().Msgf("%s: no cluster configured, node %s stays singleton", p.LogPrefix, p.LocalNode)
		return nil
	}

	local, err := clientMappings(c.Mappings)
	if err != nil {
		err = fmt.Errorf("%s: node %s: %w", p.LogPrefix, p.LocalNode, err)
		log.Error().Msg(err.Error())
		return err
	}
	nodes := []message.NodeInfo{{Name: p.LocalNode, Mappings: local}}

	for _, peer := range c.Peers {
		mappings, err := clientMappings(peer.Mappings)
		if err != nil {
			err = fmt.Errorf("%s: peer %s: %w", p.LogPrefix, peer.Name, err)
			log.Error().Msg(err.Error())
			return err
		}
		nodes = append(nodes, message.NodeInfo{Name: peer.Name, Mappings: mappings})
	}

	return p.AddNodes(c.Name, nodes...)
}

// Leave removes the local node from cluster.
func (p *Registry) Leave(cluster string) {
	if cluster == "" {
		return
	}
	p.RemoveNodes(cluster, p.LocalNode)
}
