package remote

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Meander-Cloud/go-remote/arbiter"
	"github.com/Meander-Cloud/go-remote/config"
	"github.com/Meander-Cloud/go-remote/logging"
	"github.com/Meander-Cloud/go-remote/marshal"
	"github.com/Meander-Cloud/go-remote/message"
	"github.com/Meander-Cloud/go-remote/txn"
	"github.com/Meander-Cloud/go-remote/wire"
)

func init() {
	logging.ConfigureTests()
}

type pipeChannel struct {
	in   chan []byte
	out  chan []byte
	done chan struct{}
	once sync.Once

	openErr error
	sendErr error
}

func newPipeChannel() *pipeChannel {
	return &pipeChannel{
		in:   make(chan []byte, 16),
		out:  make(chan []byte, 64),
		done: make(chan struct{}),
	}
}

func (c *pipeChannel) ReadMessage() ([]byte, error) {
	select {
	case m := <-c.in:
		return m, nil
	case <-c.done:
		return nil, io.EOF
	}
}

func (c *pipeChannel) OpenMessage() (OutboundMessage, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	return &pipeMessage{c: c}, nil
}

func (c *pipeChannel) Close() error {
	c.once.Do(func() {
		close(c.done)
	})
	return nil
}

func (c *pipeChannel) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *pipeChannel) Descriptor() string {
	return "[0]pipe<-<test>"
}

type pipeMessage struct {
	c   *pipeChannel
	buf bytes.Buffer
}

func (m *pipeMessage) Write(p []byte) (int, error) {
	return m.buf.Write(p)
}

func (m *pipeMessage) Close() error {
	if m.c.sendErr != nil {
		return m.c.sendErr
	}
	m.c.out <- m.buf.Bytes()
	return nil
}

func (m *pipeMessage) Abort() {
	m.buf.Reset()
}

type testView struct {
	name    string
	methods []message.MethodDescriptor
}

func (v *testView) ClassName() string {
	return v.name
}

func (v *testView) Methods() []message.MethodDescriptor {
	return v.methods
}

type testComponent struct {
	name     string
	stateful bool
	views    map[string]*testView
}

func (c *testComponent) Name() string {
	return c.name
}

func (c *testComponent) Stateful() bool {
	return c.stateful
}

func (c *testComponent) CreateSession() ([]byte, error) {
	return []byte{0xAB, 0xCD}, nil
}

func (c *testComponent) View(className string) (View, bool) {
	v, found := c.views[className]
	if !found {
		return nil, false
	}
	return v, true
}

func (c *testComponent) TypeResolver() marshal.TypeResolver {
	return nil
}

type testResolver map[string]*testComponent

func (r testResolver) Resolve(appName, moduleName, distinctName, beanName string) (Component, bool) {
	c, found := r[appName+"/"+moduleName+"/"+distinctName+"/"+beanName]
	if !found {
		return nil, false
	}
	return c, true
}

type invokerFunc func(ctx context.Context, component Component, view View, method message.MethodDescriptor, args []any, ic *InvocationContext) (any, error)

func (f invokerFunc) Invoke(ctx context.Context, component Component, view View, method message.MethodDescriptor, args []any, ic *InvocationContext) (any, error) {
	return f(ctx, component, view, method, args, ic)
}

var calcView = &testView{
	name: "Calc",
	methods: []message.MethodDescriptor{
		{Name: "echo", ParamTypes: []string{"string"}},
		{Name: "block"},
		{Name: "fail"},
		{Name: "gone"},
		{Name: "expired"},
		{Name: "mutate"},
		{Name: "panic"},
	},
}

var calcLocator = message.Locator{AppName: "", ModuleName: "calc", DistinctName: "", BeanName: "Calculator", ViewName: "Calc"}
var cartLocator = message.Locator{AppName: "shop", ModuleName: "cart", DistinctName: "", BeanName: "Cart", ViewName: "Calc"}

func defaultResolver() testResolver {
	return testResolver{
		"/calc//Calculator": {name: "Calculator", views: map[string]*testView{"Calc": calcView}},
		"shop/cart//Cart":   {name: "Cart", stateful: true, views: map[string]*testView{"Calc": calcView}},
	}
}

func defaultInvoker(ctx context.Context, component Component, view View, method message.MethodDescriptor, args []any, ic *InvocationContext) (any, error) {
	switch method.Name {
	case "echo":
		return args[0], nil
	case "block":
		<-ctx.Done()
		return nil, ctx.Err()
	case "gone":
		return nil, ErrComponentUnavailable
	case "expired":
		return nil, ErrSessionNotActive
	case "mutate":
		ic.Attachments[2] = []byte("two")
		ic.Attachments[3] = []byte("three")
		return "", nil
	case "panic":
		panic("kaboom")
	default:
		return nil, errors.New("boom")
	}
}

func testConfig() *config.Config {
	c := &config.Config{NodeName: "test", ListenAddress: ":0", Workers: 2, EventChannelLength: 64, LogDebug: true}
	c.ApplyDefaults()
	return c
}

type fixture struct {
	t        *testing.T
	ch       *pipeChannel
	endpoint *Endpoint
	memory   *txn.Memory
	served   chan error
}

func newFixture(t *testing.T, mutate func(o *Options)) *fixture {
	c := testConfig()
	pool := arbiter.NewPool(c)
	memory := txn.NewMemory("test-txn")
	o := &Options{
		Config:           c,
		Pool:             pool,
		Resolver:         defaultResolver(),
		Invoker:          invokerFunc(defaultInvoker),
		Manager:          memory,
		LocalRegistry:    memory,
		ImportedRegistry: memory,
	}
	if mutate != nil {
		mutate(o)
	}
	p, err := NewEndpoint(o)
	require.NoError(t, err)

	f := &fixture{
		t:        t,
		ch:       newPipeChannel(),
		endpoint: p,
		memory:   memory,
		served:   make(chan error, 1),
	}
	go func() {
		f.served <- p.Serve(f.ch)
	}()

	t.Cleanup(func() {
		p.Close()
		pool.Shutdown()
	})
	return f
}

func build(t *testing.T, h wire.Header, body func(w *wire.Writer) error) []byte {
	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	require.NoError(t, w.WriteHeader(h))
	if body != nil {
		require.NoError(t, body(w))
	}
	return buf.Bytes()
}

func (f *fixture) push(h wire.Header, body func(w *wire.Writer) error) {
	f.ch.in <- build(f.t, h, body)
}

// serveAnother opens a second connection on the same endpoint.
func (f *fixture) serveAnother() *pipeChannel {
	ch := newPipeChannel()
	go func() {
		_ = f.endpoint.Serve(ch)
	}()
	f.t.Cleanup(func() {
		ch.Close()
	})
	return ch
}

func (f *fixture) receive() (wire.Header, *wire.Reader) {
	f.t.Helper()
	return f.receiveFrom(f.ch)
}

func (f *fixture) receiveFrom(ch *pipeChannel) (wire.Header, *wire.Reader) {
	f.t.Helper()
	select {
	case m := <-ch.out:
		r := wire.NewReader(m)
		h, err := r.ReadHeader()
		require.NoError(f.t, err)
		return h, r
	case <-time.After(3 * time.Second):
		f.t.Fatal("no outbound message")
		return 0, nil
	}
}

func (f *fixture) expectNothing(d time.Duration) {
	f.t.Helper()
	select {
	case m := <-f.ch.out:
		f.t.Fatalf("unexpected outbound message % X", m)
	case <-time.After(d):
	}
}

func (f *fixture) readException(r *wire.Reader) *message.RemoteException {
	f.t.Helper()
	values, err := marshal.ReadObjects(typedStrategy(), r, nil, 1)
	require.NoError(f.t, err)
	re, ok := values[0].(*message.RemoteException)
	require.True(f.t, ok, "%T", values[0])
	return re
}

func invocation(id uint16, method string, paramTypes string, l message.Locator, session []byte, attachments wire.Attachments, args ...any) func(w *wire.Writer) error {
	return func(w *wire.Writer) error {
		err := w.WriteU16(id)
		if err == nil {
			err = w.WriteUTF(method)
		}
		if err == nil {
			err = w.WriteUTF(paramTypes)
		}
		if err == nil {
			err = message.WriteLocator(w, l)
		}
		if err == nil {
			err = w.WriteBlock(session)
		}
		if err == nil {
			err = w.WriteAttachments(attachments)
		}
		if err == nil && len(args) > 0 {
			err = marshal.WriteObjects(typedStrategy(), w.Stream(), args...)
		}
		return err
	}
}

func txRequest(id uint16, txID message.TransactionID, onePhase *bool) func(w *wire.Writer) error {
	return func(w *wire.Writer) error {
		err := w.WriteU16(id)
		if err == nil {
			err = message.WriteTransactionID(w, txID)
		}
		if err == nil && onePhase != nil {
			err = w.WriteBool(*onePhase)
		}
		return err
	}
}

func typedStrategy() marshal.Strategy {
	s, err := marshal.Lookup(marshal.TypedStrategyName)
	if err != nil {
		panic(err)
	}
	return s
}
