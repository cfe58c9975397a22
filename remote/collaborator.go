package remote

import (
	"context"
	"errors"

	"github.com/Meander-Cloud/go-remote/marshal"
	"github.com/Meander-Cloud/go-remote/message"
	"github.com/Meander-Cloud/go-remote/wire"
)

var (
	// returned by invokers when the target component stopped or is stopping
	ErrComponentUnavailable = errors.New("remote: component unavailable")
	// returned by invokers when the addressed stateful session no longer exists
	ErrSessionNotActive = errors.New("remote: session not active")
)

type View interface {
	ClassName() string
	Methods() []message.MethodDescriptor
}

type Component interface {
	Name() string
	Stateful() bool
	CreateSession() ([]byte, error)
	View(className string) (View, bool)
	// resolves argument types against the component's deployment
	TypeResolver() marshal.TypeResolver
}

type ComponentResolver interface {
	Resolve(appName, moduleName, distinctName, beanName string) (Component, bool)
}

type InvocationContext struct {
	InvocationID uint16
	Locator      message.Locator
	SessionID    []byte
	Descriptor   string

	// private data of the invocation; changes are echoed back to the client
	Attachments wire.Attachments
}

type ComponentInvoker interface {
	// ctx is canceled when the client cancels the invocation or the connection closes
	Invoke(ctx context.Context, component Component, view View, method message.MethodDescriptor, args []any, ic *InvocationContext) (any, error)
}

type ListenerHandle interface {
	Close()
}

type ModuleAvailabilityListener interface {
	ModulesAvailable(modules []message.ModuleIdentifier)
	ModulesUnavailable(modules []message.ModuleIdentifier)
}

type DeploymentSource interface {
	// the listener receives the currently available modules before this returns
	RegisterModuleListener(l ModuleAvailabilityListener) ListenerHandle
}

type ClusterTopologyListener interface {
	ClusterTopology(clusters []message.ClusterInfo)
	ClustersRemoved(names []string)
	ClusterNodesAdded(clusters []message.ClusterInfo)
	ClusterNodesRemoved(removals []message.NodeRemoval)
}

type TopologySource interface {
	// the listener receives the complete topology before this returns
	RegisterTopologyListener(l ClusterTopologyListener) ListenerHandle
}
