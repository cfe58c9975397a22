package protocol

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Meander-Cloud/go-transport/tcp"

	"github.com/Meander-Cloud/go-remote/arbiter"
	"github.com/Meander-Cloud/go-remote/config"
	"github.com/Meander-Cloud/go-remote/deployment"
	"github.com/Meander-Cloud/go-remote/logging"
	"github.com/Meander-Cloud/go-remote/marshal"
	"github.com/Meander-Cloud/go-remote/message"
	"github.com/Meander-Cloud/go-remote/remote"
	"github.com/Meander-Cloud/go-remote/txn"
	"github.com/Meander-Cloud/go-remote/wire"
)

func init() {
	logging.ConfigureTests()
}

func testChannelOptions() *ChannelOptions {
	return &ChannelOptions{
		LogPrefix:        "test-tcp",
		LogDebug:         true,
		Txid:             ServerSenderID,
		RxidMap:          map[byte]struct{}{ClientSenderID: {}},
		MaxMessageLength: 64,
		WriteDeadline:    time.Second,
	}
}

func clientFrame(sender byte, payload []byte) []byte {
	buf := []byte{protocolPattern, protocolVersion, sender, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(buf[3:], uint32(len(payload)))
	return append(buf, payload...)
}

func readFrame(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	header := make([]byte, frameHeaderLen)
	_, err := io.ReadFull(conn, header)
	require.NoError(t, err)
	require.Equal(t, protocolPattern, header[0])
	require.Equal(t, protocolVersion, header[1])
	require.Equal(t, ServerSenderID, header[2])
	payload := make([]byte, binary.LittleEndian.Uint32(header[3:]))
	_, err = io.ReadFull(conn, payload)
	require.NoError(t, err)
	return payload
}

func TestChannelRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	ch := NewChannel(testChannelOptions(), 4, "node-1", server)
	defer ch.Close()
	assert.Equal(t, "[4]node-1<-<pipe>", ch.Descriptor())

	go client.Write(clientFrame(ClientSenderID, []byte{0x03, 0x01}))
	payload, err := ch.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x01}, payload)

	m, err := ch.OpenMessage()
	require.NoError(t, err)
	_, err = m.Write([]byte("abc"))
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() {
		done <- m.Close()
	}()
	assert.Equal(t, []byte("abc"), readFrame(t, client))
	require.NoError(t, <-done)

	_, err = m.Write([]byte("late"))
	require.Error(t, err)
}

func TestChannelAbortSendsNothing(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	ch := NewChannel(testChannelOptions(), 1, "node-1", server)

	m, err := ch.OpenMessage()
	require.NoError(t, err)
	_, err = m.Write([]byte("dropped"))
	require.NoError(t, err)
	m.Abort()

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	_, err = client.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)
}

func TestChannelRejectsBadFrames(t *testing.T) {
	cases := map[string][]byte{
		"pattern": {0x00, protocolVersion, ClientSenderID, 0, 0, 0, 0},
		"version": {protocolPattern, 0x01, ClientSenderID, 0, 0, 0, 0},
		"sender":  {protocolPattern, protocolVersion, ServerSenderID, 0, 0, 0, 0},
		"length":  {protocolPattern, protocolVersion, ClientSenderID, 65, 0, 0, 0},
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			server, client := net.Pipe()
			defer client.Close()
			ch := NewChannel(testChannelOptions(), 1, "node-1", server)
			defer ch.Close()

			go client.Write(header)
			_, err := ch.ReadMessage()
			require.ErrorIs(t, err, ErrInvalidFrame)
		})
	}
}

func TestChannelRejectsLargeOutbound(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	ch := NewChannel(testChannelOptions(), 1, "node-1", server)
	defer ch.Close()

	m, err := ch.OpenMessage()
	require.NoError(t, err)
	_, err = m.Write(make([]byte, 65))
	require.NoError(t, err)
	require.Error(t, m.Close())
}

func newTestServer(t *testing.T) *Server {
	c := &config.Config{NodeName: "node-1", ListenAddress: ":0", Workers: 2, EventChannelLength: 64}
	c.ApplyDefaults()

	pool := arbiter.NewPool(c)
	memory := txn.NewMemory("test-txn")
	repository := deployment.NewRepository("test-deployments")
	require.NoError(t, repository.Deploy(
		message.ModuleIdentifier{ModuleName: "calc"},
		deployment.NewComponent("Calculator", false, deployment.NewView("Calc").
			Method("echo", []string{"string"}, func(_ context.Context, call *deployment.Call) (any, error) {
				return call.Args[0], nil
			}),
		),
	))

	endpoint, err := remote.NewEndpoint(&remote.Options{
		Config:           c,
		Pool:             pool,
		Resolver:         repository,
		Invoker:          repository,
		Manager:          memory,
		LocalRegistry:    memory,
		ImportedRegistry: memory,
	})
	require.NoError(t, err)

	p, err := NewServer(&ServerOptions{
		Options:          &tcp.Options{LogPrefix: "test-tcp"},
		Endpoint:         endpoint,
		Txid:             ServerSenderID,
		RxidMap:          map[byte]struct{}{ClientSenderID: {}},
		MaxMessageLength: c.MaxMessageLength,
		SelfID:           c.NodeName,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		p.Close()
		endpoint.Close()
		pool.Shutdown()
	})
	return p
}

func TestNewServerValidates(t *testing.T) {
	_, err := NewServer(&ServerOptions{Options: &tcp.Options{LogPrefix: "x"}})
	require.Error(t, err)
}

func TestServerInvocation(t *testing.T) {
	p := newTestServer(t)
	server, client := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.ReadLoop(server)
	}()

	s, err := marshal.Lookup(marshal.TypedStrategyName)
	require.NoError(t, err)

	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	require.NoError(t, w.WriteHeader(wire.HeaderInvocationRequest))
	require.NoError(t, w.WriteU16(42))
	require.NoError(t, w.WriteUTF("echo"))
	require.NoError(t, w.WriteUTF("string"))
	require.NoError(t, message.WriteLocator(w, message.Locator{ModuleName: "calc", BeanName: "Calculator", ViewName: "Calc"}))
	require.NoError(t, w.WriteBlock(nil))
	require.NoError(t, w.WriteAttachments(nil))
	require.NoError(t, marshal.WriteObjects(s, w.Stream(), "over tcp"))

	go client.Write(clientFrame(ClientSenderID, buf.Bytes()))

	r := wire.NewReader(readFrame(t, client))
	h, err := r.ReadHeader()
	require.NoError(t, err)
	require.Equal(t, wire.HeaderInvocationResponse, h)
	id, err := r.ReadU16()
	require.NoError(t, err)
	assert.Equal(t, uint16(42), id)
	_, err = r.ReadAttachments()
	require.NoError(t, err)
	values, err := marshal.ReadObjects(s, r, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, "over tcp", values[0])
	assert.Equal(t, 1, p.Len())

	p.Close()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("read loop still running after close")
	}
	assert.Equal(t, 0, p.Len())
}
