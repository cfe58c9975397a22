package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/Meander-Cloud/go-remote/marshal"
	"github.com/Meander-Cloud/go-remote/message"
	"github.com/Meander-Cloud/go-remote/metrics"
	"github.com/Meander-Cloud/go-remote/wire"
)

// errOutboundIO marks failures of the channel itself, as opposed to failures
// encoding a message body.
var errOutboundIO = errors.New("remote: outbound i/o failed")

// MessageHandler consumes one inbound payload and produces at most one reply.
// A returned error closes the connection.
type MessageHandler interface {
	ProcessMessage(a *Association, r *wire.Reader) error
}

var handlers = map[wire.Header]MessageHandler{
	wire.HeaderSessionOpenRequest: &sessionOpenHandler{},
	wire.HeaderInvocationRequest:  &invocationHandler{},
	wire.HeaderTxCommit:           &txRequestHandler{verb: verbCommit},
	wire.HeaderTxRollback:         &txRequestHandler{verb: verbRollback},
	wire.HeaderTxPrepare:          &txRequestHandler{verb: verbPrepare},
	wire.HeaderTxForget:           &txRequestHandler{verb: verbForget},
	wire.HeaderTxBeforeCompletion: &txRequestHandler{verb: verbBeforeCompletion},
}

// Association is the protocol state of one connection.
type Association struct {
	endpoint   *Endpoint
	options    *Options
	logPrefix  string
	connID     uint32
	ch         Channel
	descriptor string
	gate       *Gate
	strategy   marshal.Strategy

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closed    atomic.Bool

	mutex   sync.Mutex
	handles []ListenerHandle
}

func newAssociation(p *Endpoint, connID uint32, ch Channel) (*Association, error) {
	name := p.options.Config.Marshalling
	if selector, ok := ch.(MarshallingSelector); ok && selector.Marshalling() != "" {
		name = selector.Marshalling()
	}
	strategy, err := marshal.Lookup(name)
	if err != nil {
		err = fmt.Errorf("%s: %s: %w", p.logPrefix, ch.Descriptor(), err)
		log.Error().Msg(err.Error())
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Association{
		endpoint:   p,
		options:    p.options,
		logPrefix:  p.logPrefix,
		connID:     connID,
		ch:         ch,
		descriptor: ch.Descriptor(),
		gate:       NewGate(ch, p.options.Config.MaxOutboundMessages),
		strategy:   strategy,

		ctx:    ctx,
		cancel: cancel,

		closeOnce: sync.Once{},
		closed:    atomic.Bool{},

		mutex:   sync.Mutex{},
		handles: nil,
	}
	return a, nil
}

func (a *Association) Descriptor() string {
	return a.descriptor
}

func (a *Association) Strategy() marshal.Strategy {
	return a.strategy
}

func (a *Association) run() error {
	log.Info().Msgf("%s: %s: association open, marshalling=%s", a.logPrefix, a.descriptor, a.strategy.Name())
	defer a.Close()

	a.registerListeners()

	for {
		msg, err := a.ch.ReadMessage()
		if err != nil {
			if a.closed.Load() {
				return nil
			}
			log.Info().Msgf("%s: %s: read failed, err=%s", a.logPrefix, a.descriptor, err.Error())
			return err
		}

		err = a.dispatch(msg)
		if err != nil {
			log.Error().Msgf("%s: %s: closing after handler failure, err=%s", a.logPrefix, a.descriptor, err.Error())
			return err
		}
	}
}

// invoked on read loop goroutine
func (a *Association) dispatch(msg []byte) error {
	r := wire.NewReader(msg)
	h, err := r.ReadHeader()
	if err != nil {
		return err
	}
	metrics.RecordReceived(h.String())

	if a.options.Config.LogDebug {
		log.Debug().Msgf("%s: %s: received %s, %d bytes", a.logPrefix, a.descriptor, h.String(), len(msg))
	}

	if h == wire.HeaderInvocationCancel {
		return a.processCancellation(r)
	}

	handler, found := handlers[h]
	if !found {
		log.Warn().Msgf("%s: %s: dropping message with unsupported header 0x%02X", a.logPrefix, a.descriptor, byte(h))
		return nil
	}
	return handler.ProcessMessage(a, r)
}

// Cancellation is fire and forget and never replies.
func (a *Association) processCancellation(r *wire.Reader) error {
	id, err := r.ReadU16()
	if err != nil {
		return err
	}
	f, found := a.options.Cancellations.Lookup(a.connID, id)
	if !found {
		if a.options.Config.LogDebug {
			log.Debug().Msgf("%s: %s: no running invocation %d to cancel", a.logPrefix, a.descriptor, id)
		}
		return nil
	}
	f.Set()
	log.Info().Msgf("%s: %s: invocation %d cancelled", a.logPrefix, a.descriptor, id)
	return nil
}

// send produces one message through the gate. Failures of the channel are
// wrapped with errOutboundIO; body failures discard the partial message.
func (a *Association) send(h wire.Header, body func(w *wire.Writer) error) error {
	m, err := a.gate.Acquire(a.ctx)
	if err != nil {
		metrics.RecordSent(h.String(), false)
		return fmt.Errorf("%w: %w", errOutboundIO, err)
	}

	w := wire.NewWriter(m)
	err = w.WriteHeader(h)
	if err == nil {
		err = body(w)
	}
	if err != nil {
		a.gate.Discard(m)
		metrics.RecordSent(h.String(), false)
		return err
	}

	err = a.gate.Release(m)
	if err != nil {
		metrics.RecordSent(h.String(), false)
		return fmt.Errorf("%w: %w", errOutboundIO, err)
	}
	metrics.RecordSent(h.String(), true)
	return nil
}

// reply sends a response for invocation id. A body that fails to encode is
// downgraded to an exception reply; any channel failure closes the connection.
func (a *Association) reply(id uint16, h wire.Header, body func(w *wire.Writer) error) {
	err := a.send(h, func(w *wire.Writer) error {
		err := w.WriteU16(id)
		if err != nil {
			return err
		}
		return body(w)
	})
	if err == nil {
		return
	}
	if errors.Is(err, errOutboundIO) {
		a.forceClose(err)
		return
	}

	log.Warn().Msgf("%s: %s: failed to encode %s for invocation %d, sending exception instead, err=%s", a.logPrefix, a.descriptor, h.String(), id, err.Error())
	a.replyException(id, message.NewRemoteException(message.KindUnexpected, err))
}

// replyException sends 0x06; failing to send it closes the connection.
func (a *Association) replyException(id uint16, err error) {
	re := message.NewRemoteException(message.KindUnexpected, err)
	sendErr := a.send(wire.HeaderInvocationException, func(w *wire.Writer) error {
		e := w.WriteU16(id)
		if e != nil {
			return e
		}
		return marshal.WriteObjects(a.strategy, w.Stream(), re)
	})
	if sendErr != nil {
		a.forceClose(sendErr)
	}
}

// replyFailure sends one of the no-such-component, no-such-method or
// session-not-active failures.
func (a *Association) replyFailure(id uint16, h wire.Header, text string) {
	err := a.send(h, func(w *wire.Writer) error {
		e := w.WriteU16(id)
		if e != nil {
			return e
		}
		return w.WriteUTF(text)
	})
	if err != nil {
		a.forceClose(err)
	}
}

func (a *Association) forceClose(cause error) {
	if a.closed.Load() {
		return
	}
	log.Error().Msgf("%s: %s: closing connection, err=%s", a.logPrefix, a.descriptor, cause.Error())
	a.Close()
}

func (a *Association) addHandle(h ListenerHandle) {
	if h == nil {
		return
	}
	a.mutex.Lock()
	if a.closed.Load() {
		a.mutex.Unlock()
		h.Close()
		return
	}
	a.handles = append(a.handles, h)
	a.mutex.Unlock()
}

// Close releases listener registrations and closes the channel. It is safe to
// call more than once.
func (a *Association) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.closed.Store(true)
		a.cancel()

		var handles []ListenerHandle
		func() {
			a.mutex.Lock()
			defer a.mutex.Unlock()
			handles = a.handles
			a.handles = nil
		}()
		for _, h := range handles {
			h.Close()
		}

		err = a.ch.Close()
		a.endpoint.remove(a)
		log.Info().Msgf("%s: %s: association closed", a.logPrefix, a.descriptor)
	})
	return err
}
