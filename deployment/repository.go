package deployment

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Meander-Cloud/go-remote/message"
	"github.com/Meander-Cloud/go-remote/remote"
)

type module struct {
	id         message.ModuleIdentifier
	components map[string]*Component
	suspended  bool
}

// Repository holds deployed modules and notifies availability listeners.
// It resolves and invokes components for an endpoint.
type Repository struct {
	LogPrefix string

	mutex      sync.Mutex
	modules    map[message.ModuleIdentifier]*module
	suspended  bool
	listeners  map[uint64]remote.ModuleAvailabilityListener
	listenerID uint64
}

func NewRepository(logPrefix string) *Repository {
	return &Repository{
		LogPrefix: logPrefix,

		mutex:      sync.Mutex{},
		modules:    make(map[message.ModuleIdentifier]*module),
		suspended:  false,
		listeners:  make(map[uint64]remote.ModuleAvailabilityListener),
		listenerID: 0,
	}
}

type listenerHandle struct {
	p    *Repository
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

// RegisterModuleListener delivers the started modules to l before returning,
// unless the repository is suspended.
func (p *Repository) RegisterModuleListener(l remote.ModuleAvailabilityListener) remote.ListenerHandle {
	var available []message.ModuleIdentifier
	var suspended bool
	h := func() *listenerHandle {
		p.mutex.Lock()
		defer p.mutex.Unlock()
		p.listenerID++
		p.listeners[p.listenerID] = l
		suspended = p.suspended
		available = p.availableLocked()
		return &listenerHandle{p: p, id: p.listenerID}
	}()

	if !suspended {
		l.ModulesAvailable(available)
	}
	return h
}

func (p *Repository) availableLocked() []message.ModuleIdentifier {
	out := make([]message.ModuleIdentifier, 0, len(p.modules))
	for id, m := range p.modules {
		if !m.suspended {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}

func (p *Repository) snapshotListeners() []remote.ModuleAvailabilityListener {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	out := make([]remote.ModuleAvailabilityListener, 0, len(p.listeners))
	for _, l := range p.listeners {
		out = append(out, l)
	}
	return out
}

func (p *Repository) notify(available bool, modules []message.ModuleIdentifier) {
	if len(modules) == 0 {
		return
	}
	for _, l := range p.snapshotListeners() {
		if available {
			l.ModulesAvailable(modules)
		} else {
			l.ModulesUnavailable(modules)
		}
	}
}

// Deploy starts a module with its components.
func (p *Repository) Deploy(id message.ModuleIdentifier, components ...*Component) error {
	if id.ModuleName == "" {
		err := fmt.Errorf("%s: empty module name", p.LogPrefix)
		log.Error().Msg(err.Error())
		return err
	}

	m := &module{
		id:         id,
		components: make(map[string]*Component, len(components)),
	}
	for _, c := range components {
		if _, found := m.components[c.name]; found {
			err := fmt.Errorf("%s: duplicate component %s in %s", p.LogPrefix, c.name, id.String())
			log.Error().Msg(err.Error())
			return err
		}
		c.module = id
		m.components[c.name] = c
	}

	var notify bool
	err := func() error {
		p.mutex.Lock()
		defer p.mutex.Unlock()
		if _, found := p.modules[id]; found {
			return fmt.Errorf("%s: module %s already deployed", p.LogPrefix, id.String())
		}
		p.modules[id] = m
		notify = !p.suspended
		return nil
	}()
	if err != nil {
		log.Error().Msg(err.Error())
		return err
	}

	log.Info().Msgf("%s: deployed %s with %d components", p.LogPrefix, id.String(), len(components))
	if notify {
		p.notify(true, []message.ModuleIdentifier{id})
	}
	return nil
}

func (p *Repository) Undeploy(id message.ModuleIdentifier) bool {
	var wasAvailable bool
	found := func() bool {
		p.mutex.Lock()
		defer p.mutex.Unlock()
		m, found := p.modules[id]
		if !found {
			return false
		}
		wasAvailable = !m.suspended && !p.suspended
		delete(p.modules, id)
		return true
	}()
	if !found {
		return false
	}

	log.Info().Msgf("%s: undeployed %s", p.LogPrefix, id.String())
	if wasAvailable {
		p.notify(false, []message.ModuleIdentifier{id})
	}
	return true
}

// SuspendModule marks one module unavailable.
func (p *Repository) SuspendModule(id message.ModuleIdentifier) bool {
	return p.setModuleSuspended(id, true)
}

func (p *Repository) ResumeModule(id message.ModuleIdentifier) bool {
	return p.setModuleSuspended(id, false)
}

func (p *Repository) setModuleSuspended(id message.ModuleIdentifier, suspended bool) bool {
	var changed bool
	var notify bool
	found := func() bool {
		p.mutex.Lock()
		defer p.mutex.Unlock()
		m, found := p.modules[id]
		if !found {
			return false
		}
		changed = m.suspended != suspended
		m.suspended = suspended
		notify = changed && !p.suspended
		return true
	}()

	if changed {
		log.Info().Msgf("%s: %s suspended=%t", p.LogPrefix, id.String(), suspended)
	}
	if notify {
		p.notify(!suspended, []message.ModuleIdentifier{id})
	}
	return found
}

// Suspend makes every started module unavailable.
func (p *Repository) Suspend() {
	p.setSuspended(true)
}

func (p *Repository) Resume() {
	p.setSuspended(false)
}

func (p *Repository) setSuspended(suspended bool) {
	var modules []message.ModuleIdentifier
	func() {
		p.mutex.Lock()
		defer p.mutex.Unlock()
		if p.suspended == suspended {
			return
		}
		p.suspended = suspended
		modules = p.availableLocked()
	}()

	log.Info().Msgf("%s: repository suspended=%t, %d modules affected", p.LogPrefix, suspended, len(modules))
	p.notify(!suspended, modules)
}

func (p *Repository) Suspended() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.suspended
}

func (p *Repository) Resolve(appName, moduleName, distinctName, beanName string) (remote.Component, bool) {
	c, found := p.lookup(message.ModuleIdentifier{AppName: appName, ModuleName: moduleName, DistinctName: distinctName}, beanName)
	if !found {
		return nil, false
	}
	return c, true
}

func (p *Repository) lookup(id message.ModuleIdentifier, beanName string) (*Component, bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	m, found := p.modules[id]
	if !found {
		return nil, false
	}
	c, found := m.components[beanName]
	return c, found
}

func (p *Repository) available(id message.ModuleIdentifier) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	m, found := p.modules[id]
	return found && !m.suspended && !p.suspended
}

// Invoke runs the handler registered for method on the component's view.
func (p *Repository) Invoke(ctx context.Context, component remote.Component, view remote.View, method message.MethodDescriptor, args []any, ic *remote.InvocationContext) (any, error) {
	c, ok := component.(*Component)
	if !ok {
		return nil, fmt.Errorf("%s: foreign component %s", p.LogPrefix, component.Name())
	}
	v, ok := view.(*View)
	if !ok {
		return nil, fmt.Errorf("%s: foreign view %s", p.LogPrefix, view.ClassName())
	}

	if !p.available(c.module) {
		return nil, fmt.Errorf("%w: %s in %s", remote.ErrComponentUnavailable, c.name, c.module.String())
	}
	if c.stateful && !c.sessionActive(ic.SessionID) {
		return nil, fmt.Errorf("%w: %s session %X", remote.ErrSessionNotActive, c.name, ic.SessionID)
	}

	h, found := v.handler(method)
	if !found {
		return nil, fmt.Errorf("%s: %s has no handler for %s", p.LogPrefix, v.className, method.String())
	}

	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	return h(ctx, &Call{
		Component: c,
		Method:    method,
		SessionID: ic.SessionID,
		Args:      args,
		Context:   ic,
	})
}
