package remote

import (
	"net/netip"

	"github.com/rs/zerolog/log"

	"github.com/Meander-Cloud/go-remote/arbiter"
	"github.com/Meander-Cloud/go-remote/message"
	"github.com/Meander-Cloud/go-remote/wire"
)

// broadcaster forwards deployment and topology events to one connection.
// Sends are keyed by connection so events reach the client in the order
// they were raised.
type broadcaster struct {
	a *Association
}

func (a *Association) registerListeners() {
	b := &broadcaster{a: a}
	if a.options.Deployments != nil {
		a.addHandle(a.options.Deployments.RegisterModuleListener(b))
	}
	if a.options.Topology != nil {
		a.addHandle(a.options.Topology.RegisterTopologyListener(b))
	}
}

func (b *broadcaster) post(h wire.Header, body func(w *wire.Writer) error) {
	a := b.a
	if a.closed.Load() {
		return
	}
	err := a.options.Pool.DispatchKeyed(a.connID, arbiter.GroupBroadcast, func() {
		b.broadcast(h, body)
	})
	if err != nil {
		log.Warn().Msgf("%s: %s: %s dropped, err=%s", a.logPrefix, a.descriptor, h.String(), err.Error())
	}
}

// invoked on arbiter goroutine
func (b *broadcaster) broadcast(h wire.Header, body func(w *wire.Writer) error) {
	a := b.a
	if a.closed.Load() {
		return
	}
	err := a.send(h, body)
	if err != nil {
		// the next state change carries the current state again
		log.Warn().Msgf("%s: %s: %s dropped, err=%s", a.logPrefix, a.descriptor, h.String(), err.Error())
		return
	}
	if a.options.Config.LogDebug {
		log.Debug().Msgf("%s: %s: sent %s", a.logPrefix, a.descriptor, h.String())
	}
}

func (b *broadcaster) ModulesAvailable(modules []message.ModuleIdentifier) {
	b.post(wire.HeaderModuleAvailable, func(w *wire.Writer) error {
		return message.WriteModules(w, modules)
	})
}

func (b *broadcaster) ModulesUnavailable(modules []message.ModuleIdentifier) {
	b.post(wire.HeaderModuleUnavailable, func(w *wire.Writer) error {
		return message.WriteModules(w, modules)
	})
}

func (b *broadcaster) ClusterTopology(clusters []message.ClusterInfo) {
	b.warnUnspecified(clusters)
	b.post(wire.HeaderClusterTopology, func(w *wire.Writer) error {
		return message.WriteClusters(w, clusters)
	})
}

func (b *broadcaster) ClustersRemoved(names []string) {
	b.post(wire.HeaderClusterRemoved, func(w *wire.Writer) error {
		return message.WriteClusterNames(w, names)
	})
}

func (b *broadcaster) ClusterNodesAdded(clusters []message.ClusterInfo) {
	b.warnUnspecified(clusters)
	b.post(wire.HeaderClusterNodesAdded, func(w *wire.Writer) error {
		return message.WriteClusters(w, clusters)
	})
}

func (b *broadcaster) ClusterNodesRemoved(removals []message.NodeRemoval) {
	b.post(wire.HeaderClusterNodesRemoved, func(w *wire.Writer) error {
		return message.WriteNodeRemovals(w, removals)
	})
}

// Clients cannot reach a wildcard destination.
func (b *broadcaster) warnUnspecified(clusters []message.ClusterInfo) {
	for _, c := range clusters {
		for _, n := range c.Nodes {
			for _, m := range n.Mappings {
				addr, err := netip.ParseAddr(m.Destination)
				if err == nil && addr.IsUnspecified() {
					log.Warn().Msgf("%s: %s: cluster %s node %s maps %s to unspecified destination %s", b.a.logPrefix, b.a.descriptor, c.Name, n.Name, m.SourceNetwork.String(), m.Destination)
				}
			}
		}
	}
}
