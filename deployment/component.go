package deployment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/Meander-Cloud/go-remote/marshal"
	"github.com/Meander-Cloud/go-remote/message"
	"github.com/Meander-Cloud/go-remote/remote"
)

// Call is what a Handler sees of one invocation.
type Call struct {
	Component *Component
	Method    message.MethodDescriptor
	SessionID []byte
	Args      []any
	Context   *remote.InvocationContext
}

type Handler func(ctx context.Context, call *Call) (any, error)

type View struct {
	className string
	methods   []message.MethodDescriptor
	handlers  []Handler
}

func NewView(className string) *View {
	return &View{
		className: className,
	}
}

// Method adds an operation; paramTypes are the marshalling type names.
func (v *View) Method(name string, paramTypes []string, h Handler) *View {
	v.methods = append(v.methods, message.MethodDescriptor{Name: name, ParamTypes: paramTypes})
	v.handlers = append(v.handlers, h)
	return v
}

func (v *View) ClassName() string {
	return v.className
}

func (v *View) Methods() []message.MethodDescriptor {
	return v.methods
}

func (v *View) handler(m message.MethodDescriptor) (Handler, bool) {
	for i, candidate := range v.methods {
		if candidate.Matches(m.Name, m.ParamTypes) {
			return v.handlers[i], true
		}
	}
	return nil, false
}

// Component is one deployed bean exposing one or more views.
type Component struct {
	name     string
	stateful bool
	views    map[string]*View
	types    *marshal.Registry
	module   message.ModuleIdentifier

	mutex    sync.Mutex
	sessions map[uuid.UUID]struct{}
}

func NewComponent(name string, stateful bool, views ...*View) *Component {
	c := &Component{
		name:     name,
		stateful: stateful,
		views:    make(map[string]*View, len(views)),
		types:    marshal.NewRegistry(),

		mutex:    sync.Mutex{},
		sessions: make(map[uuid.UUID]struct{}),
	}
	for _, v := range views {
		c.views[v.className] = v
	}
	return c
}

// RegisterType makes the type of v resolvable when decoding arguments for
// this component only.
func (c *Component) RegisterType(v any) *Component {
	c.types.Register(v)
	return c
}

func (c *Component) Name() string {
	return c.name
}

func (c *Component) Stateful() bool {
	return c.stateful
}

func (c *Component) Module() message.ModuleIdentifier {
	return c.module
}

func (c *Component) CreateSession() ([]byte, error) {
	if !c.stateful {
		return nil, fmt.Errorf("%s is stateless", c.name)
	}
	id := uuid.New()

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.sessions[id] = struct{}{}
	return id[:], nil
}

// EndSession reports whether the session existed.
func (c *Component) EndSession(sessionID []byte) bool {
	id, err := uuid.FromBytes(sessionID)
	if err != nil {
		return false
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	_, found := c.sessions[id]
	delete(c.sessions, id)
	return found
}

func (c *Component) sessionActive(sessionID []byte) bool {
	id, err := uuid.FromBytes(sessionID)
	if err != nil {
		return false
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	_, found := c.sessions[id]
	return found
}

func (c *Component) View(className string) (remote.View, bool) {
	v, found := c.views[className]
	if !found {
		return nil, false
	}
	return v, true
}

func (c *Component) TypeResolver() marshal.TypeResolver {
	return c.types
}
