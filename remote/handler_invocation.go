package remote

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Meander-Cloud/go-remote/arbiter"
	"github.com/Meander-Cloud/go-remote/marshal"
	"github.com/Meander-Cloud/go-remote/message"
	"github.com/Meander-Cloud/go-remote/wire"
)

type invocationHandler struct{}

type invocationRequest struct {
	id          uint16
	method      string
	paramTypes  []string
	locator     message.Locator
	sessionID   []byte
	attachments wire.Attachments
}

func readInvocationRequest(r *wire.Reader) (*invocationRequest, error) {
	req := &invocationRequest{}
	var err error

	req.id, err = r.ReadU16()
	if err != nil {
		return nil, err
	}
	req.method, err = r.ReadUTF()
	if err != nil {
		return nil, err
	}
	signature, err := r.ReadUTF()
	if err != nil {
		return nil, err
	}
	req.paramTypes = message.ParseSignature(signature)

	req.locator, err = message.ReadLocator(r)
	if err != nil {
		return nil, err
	}
	req.sessionID, err = r.ReadBlock()
	if err != nil {
		return nil, err
	}
	req.attachments, err = r.ReadAttachments()
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (req *invocationRequest) describe() string {
	return fmt.Sprintf("%s on %s", message.MethodDescriptor{Name: req.method, ParamTypes: req.paramTypes}.String(), req.locator.String())
}

// invoked on read loop goroutine
func (h *invocationHandler) ProcessMessage(a *Association, r *wire.Reader) error {
	req, err := readInvocationRequest(r)
	if err != nil {
		return err
	}

	component, found := a.options.Resolver.Resolve(req.locator.AppName, req.locator.ModuleName, req.locator.DistinctName, req.locator.BeanName)
	if !found {
		a.replyFailure(req.id, wire.HeaderNoSuchComponent, "No such component: "+req.locator.String())
		return nil
	}

	view, found := component.View(req.locator.ViewName)
	if !found {
		a.replyFailure(req.id, wire.HeaderNoSuchComponent, fmt.Sprintf("View %s is not exposed by component: %s", req.locator.ViewName, req.locator.String()))
		return nil
	}

	var method message.MethodDescriptor
	found = false
	for _, candidate := range view.Methods() {
		// first match wins
		if candidate.Matches(req.method, req.paramTypes) {
			method = candidate
			found = true
			break
		}
	}
	if !found {
		log.Info().Msgf("%s: %s: invocation %d of unknown method %s", a.logPrefix, a.descriptor, req.id, req.describe())
		a.replyFailure(req.id, wire.HeaderNoSuchMethod, "No such method "+req.describe())
		return nil
	}

	var args []any
	if len(req.paramTypes) > 0 {
		args, err = marshal.ReadObjects(a.strategy, r, component.TypeResolver(), len(req.paramTypes))
		if errors.Is(err, marshal.ErrClassNotFound) {
			a.replyFailure(req.id, wire.HeaderNoSuchMethod, fmt.Sprintf("Cannot load parameters of method %s: %s", req.describe(), err.Error()))
			return nil
		}
		if err != nil {
			return err
		}
	}

	ic := &InvocationContext{
		InvocationID: req.id,
		Locator:      req.locator,
		SessionID:    req.sessionID,
		Descriptor:   a.descriptor,
		Attachments:  req.attachments.Clone(),
	}
	if ic.Attachments == nil {
		ic.Attachments = make(wire.Attachments)
	}

	ctx, flag := a.options.Cancellations.Register(a.ctx, a.connID, req.id)
	err = a.options.Pool.Dispatch(
		arbiter.GroupInvocation,
		func() {
			// invoked on arbiter goroutine
			defer a.options.Cancellations.Remove(a.connID, req.id, flag)
			a.invoke(ctx, flag, req, component, view, method, args, ic)
		},
	)
	if err != nil {
		a.options.Cancellations.Remove(a.connID, req.id, flag)
		a.replyException(req.id, &message.RemoteException{
			Kind:    message.KindRejected,
			Message: fmt.Sprintf("invocation %s rejected: %s", req.describe(), err.Error()),
		})
	}
	return nil
}

// invoked on arbiter goroutine
func (a *Association) invoke(
	ctx context.Context,
	flag *CancellationFlag,
	req *invocationRequest,
	component Component,
	view View,
	method message.MethodDescriptor,
	args []any,
	ic *InvocationContext,
) {
	result, err := func() (result any, err error) {
		defer func() {
			rec := recover()
			if rec != nil {
				err = fmt.Errorf("invocation panicked: %v", rec)
			}
		}()
		return a.options.Invoker.Invoke(ctx, component, view, method, args, ic)
	}()

	if err != nil {
		switch {
		case errors.Is(err, ErrComponentUnavailable):
			a.replyFailure(req.id, wire.HeaderNoSuchComponent, "Component unavailable: "+req.locator.String())
		case errors.Is(err, ErrSessionNotActive):
			a.replyFailure(req.id, wire.HeaderSessionNotActive, fmt.Sprintf("Session %X not active: %s", req.sessionID, req.locator.String()))
		case flag.IsSet():
			a.replyException(req.id, &message.RemoteException{
				Kind:    message.KindCancelled,
				Message: "invocation cancelled: " + req.describe(),
				Cause:   message.NewRemoteException(message.KindInvocation, err),
			})
		default:
			a.replyException(req.id, message.NewRemoteException(message.KindInvocation, err))
		}
		return
	}

	returned := returnedAttachments(req.attachments, ic.Attachments)
	a.reply(req.id, wire.HeaderInvocationResponse, func(w *wire.Writer) error {
		err := w.WriteAttachments(returned)
		if err != nil {
			return err
		}
		return marshal.WriteObjects(a.strategy, w.Stream(), result)
	})
}

// returnedAttachments applies the returned-keys attachment of the request:
// when present only the listed keys are sent back.
func returnedAttachments(request, current wire.Attachments) wire.Attachments {
	keys, found := request[wire.ReturnedKeysAttachment]
	if !found {
		out := current.Clone()
		delete(out, wire.ReturnedKeysAttachment)
		return out
	}

	out := make(wire.Attachments)
	for i := 0; i+1 < len(keys); i += 2 {
		k := binary.BigEndian.Uint16(keys[i:])
		v, present := current[k]
		if present {
			out[k] = append([]byte(nil), v...)
		}
	}
	return out
}
