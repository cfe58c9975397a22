package main

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Meander-Cloud/go-remote/arbiter"
	"github.com/Meander-Cloud/go-remote/cluster"
	"github.com/Meander-Cloud/go-remote/config"
	"github.com/Meander-Cloud/go-remote/logging"
	"github.com/Meander-Cloud/go-remote/message"
	"github.com/Meander-Cloud/go-remote/net/ws"
	"github.com/Meander-Cloud/go-remote/remote"
	"github.com/Meander-Cloud/go-remote/txn"
	"github.com/Meander-Cloud/go-remote/wire"
)

func init() {
	logging.ConfigureTests()
}

func TestToInt64(t *testing.T) {
	for _, v := range []any{int(7), int8(7), int16(7), int32(7), int64(7), uint8(7), uint16(7), uint32(7), uint64(7)} {
		n, err := toInt64(v)
		require.NoError(t, err)
		assert.Equal(t, int64(7), n)
	}

	_, err := toInt64("7")
	assert.Error(t, err)
}

func TestDemoRepository(t *testing.T) {
	r, err := demoRepository("test")
	require.NoError(t, err)

	calc, found := r.Resolve("", "calc", "", "Calculator")
	require.True(t, found)
	view, found := calc.View("Calc")
	require.True(t, found)

	add := message.MethodDescriptor{Name: "add", ParamTypes: []string{"long", "long"}}
	sum, err := r.Invoke(context.Background(), calc, view, add, []any{int8(2), int64(40)}, &remote.InvocationContext{})
	require.NoError(t, err)
	assert.Equal(t, int64(42), sum)

	counter, found := r.Resolve("", "counter", "", "Counter")
	require.True(t, found)
	assert.True(t, counter.Stateful())
}

func readHeader(t *testing.T, conn *websocket.Conn) (wire.Header, *wire.Reader) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, mt)
	r := wire.NewReader(data)
	h, err := r.ReadHeader()
	require.NoError(t, err)
	return h, r
}

func TestAnnounceShutdownReachesOpenConnections(t *testing.T) {
	c := &config.Config{
		NodeName:         "node-1",
		WebSocketAddress: "127.0.0.1:0",
		Workers:          2,
		Cluster: config.ClusterConfig{
			Name:     "ejb",
			Mappings: []config.ClientMappingConfig{{SourceNetwork: "0.0.0.0/0", Destination: "10.0.0.1", DestinationPort: 8911}},
		},
	}
	c.ApplyDefaults()
	require.NoError(t, c.Validate())

	pool := arbiter.NewPool(c)
	defer pool.Shutdown()
	memory := txn.NewMemory("test-txn")
	repository, err := demoRepository("test")
	require.NoError(t, err)
	registry := cluster.NewRegistry("test-cluster", c.NodeName)
	require.NoError(t, registry.Join(&c.Cluster))

	endpoint, err := remote.NewEndpoint(&remote.Options{
		Config:           c,
		Pool:             pool,
		Resolver:         repository,
		Invoker:          repository,
		Manager:          memory,
		LocalRegistry:    memory,
		ImportedRegistry: memory,
		Deployments:      repository,
		Topology:         registry,
	})
	require.NoError(t, err)
	defer endpoint.Close()

	h := ws.NewHandler(c, endpoint)
	server := httptest.NewServer(h)
	defer server.Close()
	defer h.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+c.WebSocketPath, nil)
	require.NoError(t, err)
	defer conn.Close()

	header, r := readHeader(t, conn)
	require.Equal(t, wire.HeaderModuleAvailable, header)
	modules, err := message.ReadModules(r)
	require.NoError(t, err)
	assert.Len(t, modules, 2)

	// the local node alone is a singleton group
	header, _ = readHeader(t, conn)
	require.Equal(t, wire.HeaderClusterTopology, header)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, announceShutdown(ctx, repository, registry, c.Cluster.Name, pool))

	header, r = readHeader(t, conn)
	require.Equal(t, wire.HeaderModuleUnavailable, header)
	modules, err = message.ReadModules(r)
	require.NoError(t, err)
	assert.Len(t, modules, 2)

	header, r = readHeader(t, conn)
	require.Equal(t, wire.HeaderClusterRemoved, header)
	names, err := message.ReadClusterNames(r)
	require.NoError(t, err)
	assert.Equal(t, []string{"ejb"}, names)
}
