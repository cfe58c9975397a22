package cluster

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Meander-Cloud/go-remote/message"
	"github.com/Meander-Cloud/go-remote/remote"
)

// Registry keeps the client mappings of every node per cluster and pushes
// changes to topology listeners.
type Registry struct {
	LogPrefix string
	LocalNode string

	mutex      sync.Mutex
	clusters   map[string]map[string][]message.ClientMapping
	listeners  map[uint64]remote.ClusterTopologyListener
	listenerID uint64
}

func NewRegistry(logPrefix string, localNode string) *Registry {
	return &Registry{
		LogPrefix: logPrefix,
		LocalNode: localNode,

		mutex:      sync.Mutex{},
		clusters:   make(map[string]map[string][]message.ClientMapping),
		listeners:  make(map[uint64]remote.ClusterTopologyListener),
		listenerID: 0,
	}
}

type listenerHandle struct {
	p    *Registry
	id   uint64
	once sync.Once
}

func (h *listenerHandle) Close() {
	h.once.Do(func() {
		h.p.mutex.Lock()
		defer h.p.mutex.Unlock()
		delete(h.p.listeners, h.id)
	})
}

// RegisterTopologyListener sends the complete topology to l before
// returning. A singleton group sends an empty topology.
func (p *Registry) RegisterTopologyListener(l remote.ClusterTopologyListener) remote.ListenerHandle {
	var clusters []message.ClusterInfo
	h := func() *listenerHandle {
		p.mutex.Lock()
		defer p.mutex.Unlock()
		p.listenerID++
		p.listeners[p.listenerID] = l
		if !p.singletonLocked() {
			clusters = p.topologyLocked()
		}
		return &listenerHandle{p: p, id: p.listenerID}
	}()

	l.ClusterTopology(clusters)
	return h
}

// Singleton reports whether no node other than the local one is known.
func (p *Registry) Singleton() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.singletonLocked()
}

func (p *Registry) singletonLocked() bool {
	for _, nodes := range p.clusters {
		for name := range nodes {
			if name != p.LocalNode {
				return false
			}
		}
	}
	return true
}

func (p *Registry) Topology() []message.ClusterInfo {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.topologyLocked()
}

func (p *Registry) topologyLocked() []message.ClusterInfo {
	names := make([]string, 0, len(p.clusters))
	for name := range p.clusters {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]message.ClusterInfo, 0, len(names))
	for _, name := range names {
		out = append(out, clusterInfo(name, p.clusters[name]))
	}
	return out
}

func clusterInfo(name string, nodes map[string][]message.ClientMapping) message.ClusterInfo {
	c := message.ClusterInfo{Name: name, Nodes: make([]message.NodeInfo, 0, len(nodes))}
	for node, mappings := range nodes {
		c.Nodes = append(c.Nodes, message.NodeInfo{Name: node, Mappings: append([]message.ClientMapping(nil), mappings...)})
	}
	sort.Slice(c.Nodes, func(i, j int) bool {
		return c.Nodes[i].Name < c.Nodes[j].Name
	})
	return c
}

func (p *Registry) snapshotListeners() []remote.ClusterTopologyListener {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	out := make([]remote.ClusterTopologyListener, 0, len(p.listeners))
	for _, l := range p.listeners {
		out = append(out, l)
	}
	return out
}

// AddNodes registers or replaces the client mappings of nodes. Replaced
// entries are announced as added nodes like new ones.
func (p *Registry) AddNodes(cluster string, nodes ...message.NodeInfo) error {
	if cluster == "" {
		err := fmt.Errorf("%s: empty cluster name", p.LogPrefix)
		log.Error().Msg(err.Error())
		return err
	}
	for _, n := range nodes {
		if n.Name == "" || len(n.Mappings) == 0 {
			err := fmt.Errorf("%s: node %q of cluster %s needs a name and client mappings", p.LogPrefix, n.Name, cluster)
			log.Error().Msg(err.Error())
			return err
		}
	}
	if len(nodes) == 0 {
		return nil
	}

	func() {
		p.mutex.Lock()
		defer p.mutex.Unlock()
		entries, found := p.clusters[cluster]
		if !found {
			entries = make(map[string][]message.ClientMapping)
			p.clusters[cluster] = entries
		}
		for _, n := range nodes {
			entries[n.Name] = append([]message.ClientMapping(nil), n.Mappings...)
		}
	}()

	added := make(map[string][]message.ClientMapping, len(nodes))
	for _, n := range nodes {
		added[n.Name] = n.Mappings
	}
	info := []message.ClusterInfo{clusterInfo(cluster, added)}

	log.Info().Msgf("%s: cluster %s, %d nodes added", p.LogPrefix, cluster, len(nodes))
	for _, l := range p.snapshotListeners() {
		l.ClusterNodesAdded(info)
	}
	return nil
}

// RemoveNodes drops nodes from a cluster. When the local node leaves as the
// last member the whole cluster is announced as removed.
func (p *Registry) RemoveNodes(cluster string, names ...string) {
	var removed []string
	var clusterGone bool
	func() {
		p.mutex.Lock()
		defer p.mutex.Unlock()
		entries, found := p.clusters[cluster]
		if !found {
			return
		}
		localLeft := false
		for _, name := range names {
			if _, present := entries[name]; !present {
				continue
			}
			delete(entries, name)
			removed = append(removed, name)
			if name == p.LocalNode {
				localLeft = true
			}
		}
		if len(entries) == 0 {
			delete(p.clusters, cluster)
			clusterGone = localLeft
		}
	}()
	if len(removed) == 0 {
		return
	}

	listeners := p.snapshotListeners()
	if clusterGone {
		log.Info().Msgf("%s: cluster %s removed, local node %s was the last member", p.LogPrefix, cluster, p.LocalNode)
		for _, l := range listeners {
			l.ClustersRemoved([]string{cluster})
		}
		return
	}

	sort.Strings(removed)
	log.Info().Msgf("%s: cluster %s, nodes removed %v", p.LogPrefix, cluster, removed)
	removals := []message.NodeRemoval{{Cluster: cluster, Nodes: removed}}
	for _, l := range listeners {
		l.ClusterNodesRemoved(removals)
	}
}

func (p *Registry) RemoveCluster(cluster string) bool {
	found := func() bool {
		p.mutex.Lock()
		defer p.mutex.Unlock()
		_, found := p.clusters[cluster]
		delete(p.clusters, cluster)
		return found
	}()
	if !found {
		return false
	}

	log.Info().Msgf("%s: cluster %s removed", p.LogPrefix, cluster)
	for _, l := range p.snapshotListeners() {
		l.ClustersRemoved([]string{cluster})
	}
	return true
}
