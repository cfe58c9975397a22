package remote

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Meander-Cloud/go-remote/arbiter"
	"github.com/Meander-Cloud/go-remote/config"
	"github.com/Meander-Cloud/go-remote/marshal"
	"github.com/Meander-Cloud/go-remote/txn"
)

type Options struct {
	Config *config.Config
	Pool   *arbiter.Pool

	Resolver         ComponentResolver
	Invoker          ComponentInvoker
	Manager          txn.Manager
	LocalRegistry    txn.LocalRegistry
	ImportedRegistry txn.ImportedRegistry

	// optional
	Deployments   DeploymentSource
	Topology      TopologySource
	Cancellations *CancellationTable
}

// Endpoint owns every association accepted by the transports feeding it.
type Endpoint struct {
	options    *Options
	logPrefix  string
	inShutdown atomic.Bool

	// if increment overflow will wrap to zero
	connIDGen atomic.Uint32

	mutex        sync.Mutex
	associations map[uint32]*Association
}

func NewEndpoint(options *Options) (*Endpoint, error) {
	if options == nil || options.Config == nil {
		err := fmt.Errorf("nil Options or Config")
		log.Error().Msg(err.Error())
		return nil, err
	}
	logPrefix := options.Config.LogPrefix

	if options.Pool == nil {
		err := fmt.Errorf("%s: nil Pool", logPrefix)
		log.Error().Msg(err.Error())
		return nil, err
	}

	if options.Resolver == nil {
		err := fmt.Errorf("%s: nil Resolver", logPrefix)
		log.Error().Msg(err.Error())
		return nil, err
	}

	if options.Invoker == nil {
		err := fmt.Errorf("%s: nil Invoker", logPrefix)
		log.Error().Msg(err.Error())
		return nil, err
	}

	if options.Manager == nil || options.LocalRegistry == nil || options.ImportedRegistry == nil {
		err := fmt.Errorf("%s: transaction Manager, LocalRegistry and ImportedRegistry are required", logPrefix)
		log.Error().Msg(err.Error())
		return nil, err
	}

	_, err := marshal.Lookup(options.Config.Marshalling)
	if err != nil {
		err = fmt.Errorf("%s: %w", logPrefix, err)
		log.Error().Msg(err.Error())
		return nil, err
	}

	if options.Cancellations == nil {
		options.Cancellations = NewCancellationTable()
	}

	p := &Endpoint{
		options:    options,
		logPrefix:  logPrefix,
		inShutdown: atomic.Bool{},

		connIDGen: atomic.Uint32{},

		mutex:        sync.Mutex{},
		associations: make(map[uint32]*Association),
	}
	return p, nil
}

func (p *Endpoint) Options() *Options {
	return p.options
}

// Serve runs the inbound message loop of ch until it fails or is closed.
// It returns nil when the association was closed locally.
func (p *Endpoint) Serve(ch Channel) error {
	if p.inShutdown.Load() {
		ch.Close()
		err := fmt.Errorf("%s: %s: endpoint in shutdown", p.logPrefix, ch.Descriptor())
		log.Warn().Msg(err.Error())
		return err
	}

	a, err := newAssociation(p, p.connIDGen.Add(1), ch)
	if err != nil {
		ch.Close()
		return err
	}

	admitted := func() bool {
		p.mutex.Lock()
		defer p.mutex.Unlock()
		// Close may have taken its snapshot since the check above
		if p.inShutdown.Load() {
			return false
		}
		p.associations[a.connID] = a
		return true
	}()
	if !admitted {
		a.cancel()
		ch.Close()
		err = fmt.Errorf("%s: %s: endpoint in shutdown", p.logPrefix, ch.Descriptor())
		log.Warn().Msg(err.Error())
		return err
	}

	return a.run()
}

func (p *Endpoint) remove(a *Association) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	delete(p.associations, a.connID)
}

func (p *Endpoint) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.associations)
}

// Close closes every association concurrently and waits for all of them.
func (p *Endpoint) Close() error {
	log.Info().Msgf("%s: endpoint closing", p.logPrefix)
	var associations []*Association
	func() {
		p.mutex.Lock()
		defer p.mutex.Unlock()
		p.inShutdown.Store(true)
		for _, a := range p.associations {
			associations = append(associations, a)
		}
	}()

	var eg errgroup.Group
	for _, a := range associations {
		scoped := a
		eg.Go(scoped.Close)
	}
	err := eg.Wait()

	log.Info().Msgf("%s: endpoint closed, %d associations", p.logPrefix, len(associations))
	return err
}
