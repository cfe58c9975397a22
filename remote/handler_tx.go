package remote

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Meander-Cloud/go-remote/arbiter"
	"github.com/Meander-Cloud/go-remote/message"
	"github.com/Meander-Cloud/go-remote/txn"
	"github.com/Meander-Cloud/go-remote/wire"
)

type txVerb uint8

const (
	verbInvalid          txVerb = 0
	verbCommit           txVerb = 1
	verbRollback         txVerb = 2
	verbPrepare          txVerb = 3
	verbForget           txVerb = 4
	verbBeforeCompletion txVerb = 5
)

func (v txVerb) String() string {
	switch v {
	case verbInvalid:
		return "invalid"
	case verbCommit:
		return "commit"
	case verbRollback:
		return "rollback"
	case verbPrepare:
		return "prepare"
	case verbForget:
		return "forget"
	case verbBeforeCompletion:
		return "before-completion"
	default:
		return "unknown"
	}
}

type txRequestHandler struct {
	verb txVerb
}

// invoked on read loop goroutine
func (h *txRequestHandler) ProcessMessage(a *Association, r *wire.Reader) error {
	id, err := r.ReadU16()
	if err != nil {
		return err
	}
	txID, err := message.ReadTransactionID(r)
	if err != nil {
		return err
	}
	onePhase := false
	if h.verb == verbCommit {
		onePhase, err = r.ReadBool()
		if err != nil {
			return err
		}
	}

	task, err := newTxTask(a, id, h.verb, txID, onePhase)
	if err != nil {
		a.replyException(id, err)
		return nil
	}

	if a.options.Config.LogDebug {
		log.Debug().Msgf("%s: %s: dispatching %s of %s for invocation %d", a.logPrefix, a.descriptor, h.verb.String(), txID.String(), id)
	}

	// the outcome is reported by the task, not awaited here
	err = a.options.Pool.Dispatch(arbiter.GroupTransaction, task.run)
	if err != nil {
		a.replyException(id, &message.RemoteException{
			Kind:    message.KindRejected,
			Message: fmt.Sprintf("%s of %s rejected: %s", h.verb.String(), txID.String(), err.Error()),
		})
	}
	return nil
}

func newTxTask(a *Association, id uint16, verb txVerb, txID message.TransactionID, onePhase bool) (*txTask, error) {
	switch txID.Kind {
	case message.TransactionKindLocal:
		switch verb {
		case verbCommit:
			return localCommitTask(a, id, txID), nil
		case verbRollback:
			return localRollbackTask(a, id, txID), nil
		default:
			return nil, fmt.Errorf("%w: %s is not supported for local transaction %s", txn.ErrIllegalState, verb.String(), txID.String())
		}

	case message.TransactionKindXid:
		switch verb {
		case verbCommit:
			return xaCommitTask(a, id, txID.Xid, onePhase), nil
		case verbRollback:
			return xaRollbackTask(a, id, txID.Xid), nil
		case verbPrepare:
			return xaPrepareTask(a, id, txID.Xid), nil
		case verbForget:
			return xaForgetTask(a, id, txID.Xid), nil
		case verbBeforeCompletion:
			return xaBeforeCompletionTask(a, id, txID.Xid), nil
		}
	}
	return nil, fmt.Errorf("%w: %s of %s", txn.ErrIllegalState, verb.String(), txID.String())
}
