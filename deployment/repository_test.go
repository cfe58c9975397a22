package deployment

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Meander-Cloud/go-remote/logging"
	"github.com/Meander-Cloud/go-remote/marshal"
	"github.com/Meander-Cloud/go-remote/message"
	"github.com/Meander-Cloud/go-remote/remote"
)

func init() {
	logging.ConfigureTests()
}

type event struct {
	available bool
	modules   []message.ModuleIdentifier
}

type recorder struct {
	mutex  sync.Mutex
	events []event
}

func (r *recorder) ModulesAvailable(modules []message.ModuleIdentifier) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = append(r.events, event{true, modules})
}

func (r *recorder) ModulesUnavailable(modules []message.ModuleIdentifier) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = append(r.events, event{false, modules})
}

func (r *recorder) take() []event {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	out := r.events
	r.events = nil
	return out
}

var (
	calc = message.ModuleIdentifier{ModuleName: "calc"}
	shop = message.ModuleIdentifier{AppName: "shop", ModuleName: "cart", DistinctName: "eu"}
)

type Order struct {
	Item  string
	Count int
}

func calculator() *Component {
	return NewComponent("Calculator", false, NewView("Calc").
		Method("add", []string{"int", "int"}, func(_ context.Context, call *Call) (any, error) {
			return call.Args[0].(int) + call.Args[1].(int), nil
		}).
		Method("fail", nil, func(context.Context, *Call) (any, error) {
			return nil, errors.New("boom")
		}),
	)
}

func cart() *Component {
	return NewComponent("Cart", true, NewView("Cart").
		Method("place", []string{marshal.TypeName(typeOf(Order{}))}, func(_ context.Context, call *Call) (any, error) {
			return call.Args[0].(Order).Count, nil
		}),
	).RegisterType(Order{})
}

func TestRegisterDeliversStartedModules(t *testing.T) {
	p := NewRepository("test-deployments")
	require.NoError(t, p.Deploy(shop, cart()))
	require.NoError(t, p.Deploy(calc, calculator()))

	r := &recorder{}
	h := p.RegisterModuleListener(r)
	assert.Equal(t, []event{{true, []message.ModuleIdentifier{calc, shop}}}, r.take())

	require.NoError(t, p.Deploy(message.ModuleIdentifier{ModuleName: "late"}))
	assert.Equal(t, []event{{true, []message.ModuleIdentifier{{ModuleName: "late"}}}}, r.take())

	assert.True(t, p.Undeploy(message.ModuleIdentifier{ModuleName: "late"}))
	assert.Equal(t, []event{{false, []message.ModuleIdentifier{{ModuleName: "late"}}}}, r.take())
	assert.False(t, p.Undeploy(message.ModuleIdentifier{ModuleName: "late"}))

	h.Close()
	h.Close()
	require.NoError(t, p.Deploy(message.ModuleIdentifier{ModuleName: "unseen"}))
	assert.Empty(t, r.take())
}

func TestSuspendResume(t *testing.T) {
	p := NewRepository("test-deployments")
	require.NoError(t, p.Deploy(calc, calculator()))
	require.NoError(t, p.Deploy(shop, cart()))

	r := &recorder{}
	p.RegisterModuleListener(r)
	r.take()

	p.Suspend()
	assert.True(t, p.Suspended())
	assert.Equal(t, []event{{false, []message.ModuleIdentifier{calc, shop}}}, r.take())

	// a suspended repository announces nothing on registration
	late := &recorder{}
	p.RegisterModuleListener(late)
	assert.Empty(t, late.take())

	p.Suspend()
	assert.Empty(t, r.take())

	p.Resume()
	assert.Equal(t, []event{{true, []message.ModuleIdentifier{calc, shop}}}, r.take())
	assert.Equal(t, []event{{true, []message.ModuleIdentifier{calc, shop}}}, late.take())

	assert.True(t, p.SuspendModule(calc))
	assert.Equal(t, []event{{false, []message.ModuleIdentifier{calc}}}, r.take())
	assert.True(t, p.SuspendModule(calc))
	assert.Empty(t, r.take())
	assert.True(t, p.ResumeModule(calc))
	assert.Equal(t, []event{{true, []message.ModuleIdentifier{calc}}}, r.take())
	assert.False(t, p.ResumeModule(message.ModuleIdentifier{ModuleName: "nope"}))
}

func TestDeployRejectsDuplicates(t *testing.T) {
	p := NewRepository("test-deployments")
	require.NoError(t, p.Deploy(calc, calculator()))
	require.Error(t, p.Deploy(calc, calculator()))
	require.Error(t, p.Deploy(message.ModuleIdentifier{ModuleName: "twice"}, calculator(), calculator()))
	require.Error(t, p.Deploy(message.ModuleIdentifier{}))
}

func TestResolveAndInvoke(t *testing.T) {
	p := NewRepository("test-deployments")
	require.NoError(t, p.Deploy(calc, calculator()))
	ctx := context.Background()

	_, found := p.Resolve("", "calc", "", "Nope")
	assert.False(t, found)
	_, found = p.Resolve("x", "calc", "", "Calculator")
	assert.False(t, found)

	c, found := p.Resolve("", "calc", "", "Calculator")
	require.True(t, found)
	assert.False(t, c.Stateful())
	_, err := c.CreateSession()
	require.Error(t, err)

	_, found = c.View("Other")
	assert.False(t, found)
	v, found := c.View("Calc")
	require.True(t, found)
	require.Len(t, v.Methods(), 2)

	ic := &remote.InvocationContext{}
	result, err := p.Invoke(ctx, c, v, v.Methods()[0], []any{2, 3}, ic)
	require.NoError(t, err)
	assert.Equal(t, 5, result)

	_, err = p.Invoke(ctx, c, v, message.MethodDescriptor{Name: "missing"}, nil, ic)
	require.Error(t, err)

	_, err = p.Invoke(ctx, c, v, v.Methods()[1], nil, ic)
	require.EqualError(t, err, "boom")

	p.SuspendModule(calc)
	_, err = p.Invoke(ctx, c, v, v.Methods()[0], []any{2, 3}, ic)
	require.ErrorIs(t, err, remote.ErrComponentUnavailable)
	p.ResumeModule(calc)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = p.Invoke(cancelled, c, v, v.Methods()[0], []any{2, 3}, ic)
	require.ErrorIs(t, err, context.Canceled)
}

func TestStatefulSessions(t *testing.T) {
	p := NewRepository("test-deployments")
	require.NoError(t, p.Deploy(shop, cart()))

	c, found := p.Resolve("shop", "cart", "eu", "Cart")
	require.True(t, found)
	require.True(t, c.Stateful())
	v, _ := c.View("Cart")
	method := v.Methods()[0]

	_, err := p.Invoke(context.Background(), c, v, method, []any{Order{Count: 2}}, &remote.InvocationContext{})
	require.ErrorIs(t, err, remote.ErrSessionNotActive)

	session, err := c.CreateSession()
	require.NoError(t, err)
	require.Len(t, session, 16)

	result, err := p.Invoke(context.Background(), c, v, method, []any{Order{Count: 2}}, &remote.InvocationContext{SessionID: session})
	require.NoError(t, err)
	assert.Equal(t, 2, result)

	component := c.(*Component)
	assert.Equal(t, shop, component.Module())
	assert.True(t, component.EndSession(session))
	assert.False(t, component.EndSession(session))
	_, err = p.Invoke(context.Background(), c, v, method, []any{Order{Count: 2}}, &remote.InvocationContext{SessionID: session})
	require.ErrorIs(t, err, remote.ErrSessionNotActive)
}

func TestComponentTypeResolver(t *testing.T) {
	c := cart()
	name := marshal.TypeName(typeOf(Order{}))

	_, found := c.TypeResolver().ResolveType(name)
	assert.True(t, found)
	_, found = marshal.DefaultRegistry.ResolveType(name)
	assert.False(t, found)
}

func typeOf(v any) reflect.Type {
	return reflect.TypeOf(v)
}
