package remote

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Meander-Cloud/go-remote/message"
	"github.com/Meander-Cloud/go-remote/wire"
)

type sessionOpenHandler struct{}

// invoked on read loop goroutine
func (h *sessionOpenHandler) ProcessMessage(a *Association, r *wire.Reader) error {
	id, err := r.ReadU16()
	if err != nil {
		return err
	}
	locator, err := message.ReadLocator(r)
	if err != nil {
		return err
	}
	attachments, err := r.ReadAttachments()
	if err != nil {
		return err
	}

	component, found := a.options.Resolver.Resolve(locator.AppName, locator.ModuleName, locator.DistinctName, locator.BeanName)
	if !found {
		log.Info().Msgf("%s: %s: session open %d for unknown component %s", a.logPrefix, a.descriptor, id, locator.String())
		a.replyFailure(id, wire.HeaderNoSuchComponent, "No such component: "+locator.String())
		return nil
	}

	if !component.Stateful() {
		a.replyException(id, &message.RemoteException{
			Kind:    message.KindComponentNotStateful,
			Message: fmt.Sprintf("%s is not a stateful component, cannot open session: %s", component.Name(), locator.String()),
		})
		return nil
	}

	sessionID, err := component.CreateSession()
	if err != nil {
		a.replyException(id, message.NewRemoteException(message.KindInvocation, err))
		return nil
	}

	if a.options.Config.LogDebug {
		log.Debug().Msgf("%s: %s: opened session %X on %s", a.logPrefix, a.descriptor, sessionID, locator.String())
	}

	a.reply(id, wire.HeaderSessionOpenResponse, func(w *wire.Writer) error {
		err := w.WriteBlock(sessionID)
		if err != nil {
			return err
		}
		return w.WriteAttachments(attachments)
	})
	return nil
}
