package protocol

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Meander-Cloud/go-transport/tcp"

	"github.com/Meander-Cloud/go-remote/metrics"
	"github.com/Meander-Cloud/go-remote/remote"
)

type ServerOptions struct {
	*tcp.Options
	Endpoint *remote.Endpoint

	Txid             byte
	RxidMap          map[byte]struct{}
	MaxMessageLength uint32
	WriteDeadline    time.Duration

	SelfID string
}

// Server accepts framed connections and hands each one to the endpoint.
type Server struct {
	options        *ServerOptions
	channelOptions *ChannelOptions
	inShutdown     atomic.Bool

	// if increment overflow will wrap to zero
	connIDGen atomic.Uint32

	mutex   sync.Mutex
	connMap map[uint32]*Channel // connID -> channel
}

func NewServer(options *ServerOptions) (*Server, error) {
	if options.Endpoint == nil {
		err := fmt.Errorf("%s: nil Endpoint", options.LogPrefix)
		log.Error().Msg(err.Error())
		return nil, err
	}

	if options.SelfID == "" {
		err := fmt.Errorf("%s: invalid SelfID", options.LogPrefix)
		log.Error().Msg(err.Error())
		return nil, err
	}

	if len(options.RxidMap) == 0 {
		err := fmt.Errorf("%s: empty RxidMap", options.LogPrefix)
		log.Error().Msg(err.Error())
		return nil, err
	}

	if options.MaxMessageLength == 0 {
		err := fmt.Errorf("%s: invalid MaxMessageLength=%d", options.LogPrefix, options.MaxMessageLength)
		log.Error().Msg(err.Error())
		return nil, err
	}

	writeDeadline := options.WriteDeadline
	if writeDeadline == 0 {
		writeDeadline = tcpWriteDeadline
	}

	p := &Server{
		options: options,
		channelOptions: &ChannelOptions{
			LogPrefix:        options.LogPrefix,
			LogDebug:         options.LogDebug,
			Txid:             options.Txid,
			RxidMap:          options.RxidMap,
			MaxMessageLength: options.MaxMessageLength,
			WriteDeadline:    writeDeadline,
		},
		inShutdown: atomic.Bool{},

		connIDGen: atomic.Uint32{},

		mutex:   sync.Mutex{},
		connMap: make(map[uint32]*Channel),
	}

	return p, nil
}

func (p *Server) Options() *ServerOptions {
	return p.options
}

// Close closes every open connection; their read loops then return.
func (p *Server) Close() {
	if p.inShutdown.Swap(true) {
		return
	}
	log.Info().Msgf("%s: protocol closing", p.options.LogPrefix)

	var channels []*Channel
	func() {
		p.mutex.Lock()
		defer p.mutex.Unlock()
		for _, ch := range p.connMap {
			channels = append(channels, ch)
		}
	}()

	var eg errgroup.Group
	for _, ch := range channels {
		scoped := ch
		eg.Go(scoped.Close)
	}
	err := eg.Wait()
	if err != nil {
		log.Warn().Msgf("%s: error closing connections, err=%s", p.options.LogPrefix, err.Error())
	}

	log.Info().Msgf("%s: protocol closed, %d connections", p.options.LogPrefix, len(channels))
}

func (p *Server) ReadLoop(conn net.Conn) {
	ch := NewChannel(p.channelOptions, p.getNextConnID(), p.options.SelfID, conn)
	descriptor := ch.Descriptor()
	network := conn.RemoteAddr().Network()

	if p.inShutdown.Load() {
		log.Warn().Msgf("%s: %s: rejecting %s connection in shutdown", p.options.LogPrefix, descriptor, network)
		conn.Close()
		return
	}

	log.Info().Msgf("%s: %s: new %s connection", p.options.LogPrefix, descriptor, network)
	metrics.ConnectionOpened("tcp")

	func() {
		p.mutex.Lock()
		defer p.mutex.Unlock()
		p.connMap[ch.ConnID()] = ch
	}()

	defer func() {
		func() {
			p.mutex.Lock()
			defer p.mutex.Unlock()
			delete(p.connMap, ch.ConnID())
		}()

		ch.Close()
		metrics.ConnectionClosed("tcp")
		log.Info().Msgf("%s: %s: %s connection closed, inShutdown=%t", p.options.LogPrefix, descriptor, network, p.inShutdown.Load())
	}()

	err := p.options.Endpoint.Serve(ch)
	if err != nil && !errors.Is(err, net.ErrClosed) {
		log.Info().Msgf("%s: %s: read loop ended, err=%s", p.options.LogPrefix, descriptor, err.Error())
	}
}

// invoked on ReadLoop goroutine
func (p *Server) getNextConnID() uint32 {
	return p.connIDGen.Add(1)
}

// invoked on any goroutine
func (p *Server) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.connMap)
}
