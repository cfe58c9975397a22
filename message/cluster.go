package message

import (
	"fmt"
	"net/netip"

	"github.com/Meander-Cloud/go-remote/wire"
)

const addressLength = 16

// ClientMapping routes clients from SourceNetwork to Destination:DestinationPort.
type ClientMapping struct {
	SourceNetwork   netip.Prefix `json:"source_network"`
	Destination     string       `json:"destination"`
	DestinationPort uint16       `json:"destination_port"`
}

func (m ClientMapping) String() string {
	return fmt.Sprintf("%s->%s:%d", m.SourceNetwork.String(), m.Destination, m.DestinationPort)
}

// WireAddress is the 16-byte source address and mask. IPv4 networks are
// carried as ::a.b.c.d with the mask widened by 96 bits.
func (m ClientMapping) WireAddress() ([addressLength]byte, uint8, error) {
	var out [addressLength]byte
	if !m.SourceNetwork.IsValid() {
		return out, 0, fmt.Errorf("%w: invalid source network %s", wire.ErrValueOutOfRange, m.SourceNetwork.String())
	}
	addr := m.SourceNetwork.Addr()
	bits := m.SourceNetwork.Bits()
	if addr.Is4() {
		v4 := addr.As4()
		copy(out[12:], v4[:])
		return out, uint8(bits + 96), nil
	}
	out = addr.Unmap().As16()
	return out, uint8(bits), nil
}

// ParseWireAddress reverses WireAddress. The wire carries no address family,
// so any prefix inside ::/96 with a mask of at least 96 decodes as IPv4. Those
// are the deprecated IPv4-compatible IPv6 addresses; a genuine IPv6 network in
// that range does not round trip.
func ParseWireAddress(raw [addressLength]byte, mask uint8) (netip.Prefix, error) {
	if mask > 128 {
		return netip.Prefix{}, fmt.Errorf("%w: mask %d", wire.ErrMalformedMessage, mask)
	}
	compat := mask >= 96
	for _, b := range raw[:12] {
		if b != 0 {
			compat = false
			break
		}
	}
	if compat {
		return netip.PrefixFrom(netip.AddrFrom4([4]byte(raw[12:])), int(mask)-96), nil
	}
	return netip.PrefixFrom(netip.AddrFrom16(raw), int(mask)), nil
}

type NodeInfo struct {
	Name     string          `json:"name"`
	Mappings []ClientMapping `json:"mappings"`
}

type ClusterInfo struct {
	Name  string     `json:"name"`
	Nodes []NodeInfo `json:"nodes"`
}

// NodeRemoval lists nodes that left one cluster.
type NodeRemoval struct {
	Cluster string   `json:"cluster"`
	Nodes   []string `json:"nodes"`
}

// WriteClusters encodes full cluster entries, used for topology and nodes added.
func WriteClusters(w *wire.Writer, clusters []ClusterInfo) error {
	err := w.WritePackedInt(len(clusters))
	if err != nil {
		return err
	}
	for _, c := range clusters {
		err = w.WriteUTF(c.Name)
		if err == nil {
			err = w.WritePackedInt(len(c.Nodes))
		}
		if err != nil {
			return err
		}
		for _, n := range c.Nodes {
			if len(n.Mappings) == 0 {
				return fmt.Errorf("%w: node %s of cluster %s has no client mappings", wire.ErrValueOutOfRange, n.Name, c.Name)
			}
			err = w.WriteUTF(n.Name)
			if err == nil {
				err = w.WritePackedInt(len(n.Mappings))
			}
			if err != nil {
				return err
			}
			for _, m := range n.Mappings {
				err = writeClientMapping(w, m)
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func writeClientMapping(w *wire.Writer, m ClientMapping) error {
	raw, mask, err := m.WireAddress()
	if err != nil {
		return err
	}
	err = w.WritePackedInt(addressLength)
	if err == nil {
		err = w.WriteRaw(raw[:])
	}
	if err == nil {
		err = w.WriteByte(mask)
	}
	if err == nil {
		err = w.WriteUTF(m.Destination)
	}
	if err == nil {
		err = w.WriteU16(m.DestinationPort)
	}
	return err
}

func ReadClusters(r *wire.Reader) ([]ClusterInfo, error) {
	n, err := r.ReadPackedInt()
	if err != nil {
		return nil, err
	}
	clusters := make([]ClusterInfo, 0, min(n, r.Remaining()))
	for i := 0; i < n; i++ {
		var c ClusterInfo
		c.Name, err = r.ReadUTF()
		if err != nil {
			return nil, err
		}
		nodeCount, err := r.ReadPackedInt()
		if err != nil {
			return nil, err
		}
		for j := 0; j < nodeCount; j++ {
			var node NodeInfo
			node.Name, err = r.ReadUTF()
			if err != nil {
				return nil, err
			}
			mappingCount, err := r.ReadPackedInt()
			if err != nil {
				return nil, err
			}
			for k := 0; k < mappingCount; k++ {
				m, err := readClientMapping(r)
				if err != nil {
					return nil, err
				}
				node.Mappings = append(node.Mappings, m)
			}
			c.Nodes = append(c.Nodes, node)
		}
		clusters = append(clusters, c)
	}
	return clusters, nil
}

func readClientMapping(r *wire.Reader) (ClientMapping, error) {
	n, err := r.ReadPackedInt()
	if err != nil {
		return ClientMapping{}, err
	}
	if n != addressLength {
		return ClientMapping{}, fmt.Errorf("%w: address length %d", wire.ErrMalformedMessage, n)
	}
	b, err := r.ReadRaw(addressLength)
	if err != nil {
		return ClientMapping{}, err
	}
	raw := [addressLength]byte(b)
	mask, err := r.ReadByte()
	if err != nil {
		return ClientMapping{}, err
	}
	prefix, err := ParseWireAddress(raw, mask)
	if err != nil {
		return ClientMapping{}, err
	}
	var m ClientMapping
	m.SourceNetwork = prefix
	m.Destination, err = r.ReadUTF()
	if err == nil {
		m.DestinationPort, err = r.ReadU16()
	}
	return m, err
}

func WriteClusterNames(w *wire.Writer, names []string) error {
	err := w.WritePackedInt(len(names))
	if err != nil {
		return err
	}
	for _, name := range names {
		err = w.WriteUTF(name)
		if err != nil {
			return err
		}
	}
	return nil
}

func ReadClusterNames(r *wire.Reader) ([]string, error) {
	n, err := r.ReadPackedInt()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, min(n, r.Remaining()))
	for i := 0; i < n; i++ {
		name, err := r.ReadUTF()
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

func WriteNodeRemovals(w *wire.Writer, removals []NodeRemoval) error {
	err := w.WritePackedInt(len(removals))
	if err != nil {
		return err
	}
	for _, removal := range removals {
		err = w.WriteUTF(removal.Cluster)
		if err == nil {
			err = WriteClusterNames(w, removal.Nodes)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func ReadNodeRemovals(r *wire.Reader) ([]NodeRemoval, error) {
	n, err := r.ReadPackedInt()
	if err != nil {
		return nil, err
	}
	removals := make([]NodeRemoval, 0, min(n, r.Remaining()))
	for i := 0; i < n; i++ {
		var removal NodeRemoval
		removal.Cluster, err = r.ReadUTF()
		if err == nil {
			removal.Nodes, err = ReadClusterNames(r)
		}
		if err != nil {
			return nil, err
		}
		removals = append(removals, removal)
	}
	return removals, nil
}
