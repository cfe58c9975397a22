package remote

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Meander-Cloud/go-remote/message"
	"github.com/Meander-Cloud/go-remote/metrics"
	"github.com/Meander-Cloud/go-remote/txn"
	"github.com/Meander-Cloud/go-remote/wire"
)

type txOutcome struct {
	// nothing is sent when silent
	silent  bool
	hasCode bool
	code    int32
	err     error
}

func succeeded() txOutcome {
	return txOutcome{}
}

func succeededWithCode(code int32) txOutcome {
	return txOutcome{hasCode: true, code: code}
}

func failed(err error) txOutcome {
	return txOutcome{err: err}
}

func silent() txOutcome {
	return txOutcome{silent: true}
}

func (o txOutcome) label() string {
	switch {
	case o.silent:
		return "ignored"
	case o.err != nil:
		var xaErr *txn.XAError
		if errors.As(o.err, &xaErr) {
			return txn.XACodeString(xaErr.Code)
		}
		return "failed"
	case o.hasCode:
		return txn.XACodeString(o.code)
	default:
		return "ok"
	}
}

// txTask is one transaction verb. Every verb runs the same sequence and
// supplies only the hooks.
type txTask struct {
	a      *Association
	id     uint16
	verb   txVerb
	target string

	// locate finds the transaction to resume, reporting false when unknown
	locate func() (txn.Transaction, bool)
	// absent is the outcome for an unknown transaction
	absent func() txOutcome
	// perform runs the verb while the transaction is resumed on b
	perform func(b *txn.Binding) error
	// mapOutcome turns the verb's error into a reply, still resumed
	mapOutcome func(err error) txOutcome
}

// invoked on arbiter goroutine
func (t *txTask) run() {
	out := t.execute(txn.NewBinding())
	t.report(out)
}

func (t *txTask) execute(b *txn.Binding) (out txOutcome) {
	defer func() {
		rec := recover()
		if rec != nil {
			log.Error().Msgf("%s: %s: %s of %s recovered from panic: %+v", t.a.logPrefix, t.a.descriptor, t.verb.String(), t.target, rec)
			out = failed(fmt.Errorf("%s of %s failed: %v", t.verb.String(), t.target, rec))
		}
	}()

	tx, found := t.locate()
	if !found {
		return t.absent()
	}

	// the manager does not clear the association on its own
	defer t.suspend(b)

	err := t.a.options.Manager.Resume(b, tx)
	if err != nil {
		return failed(err)
	}
	return t.mapOutcome(t.perform(b))
}

func (t *txTask) suspend(b *txn.Binding) {
	_, err := t.a.options.Manager.Suspend(b)
	if err != nil {
		log.Warn().Msgf("%s: %s: failed to suspend %s after %s, err=%s", t.a.logPrefix, t.a.descriptor, t.target, t.verb.String(), err.Error())
	}
}

func (t *txTask) report(out txOutcome) {
	metrics.RecordTxOutcome(t.verb.String(), out.label())

	switch {
	case out.silent:
		return
	case out.err != nil:
		log.Info().Msgf("%s: %s: %s of %s failed, err=%s", t.a.logPrefix, t.a.descriptor, t.verb.String(), t.target, out.err.Error())
		t.a.replyException(t.id, out.err)
	case out.hasCode:
		t.a.replyTxCode(t.id, out.code)
	default:
		t.a.replyTxSuccess(t.id)
	}
}

func (a *Association) replyTxSuccess(id uint16) {
	a.reply(id, wire.HeaderTxResponse, func(w *wire.Writer) error {
		return w.WriteBool(false)
	})
}

// replyTxCode carries a result code, used by prepare.
func (a *Association) replyTxCode(id uint16, code int32) {
	a.reply(id, wire.HeaderTxResponse, func(w *wire.Writer) error {
		err := w.WriteBool(true)
		if err != nil {
			return err
		}
		return w.WritePackedInt(int(code))
	})
}

func localCommitTask(a *Association, id uint16, txID message.TransactionID) *txTask {
	return &txTask{
		a:      a,
		id:     id,
		verb:   verbCommit,
		target: txID.String(),
		locate: func() (txn.Transaction, bool) {
			return a.options.LocalRegistry.Remove(txID.Local)
		},
		absent: func() txOutcome {
			return failed(fmt.Errorf("%w: %s", txn.ErrNoSuchTransaction, txID.String()))
		},
		perform: a.options.Manager.Commit,
		mapOutcome: func(err error) txOutcome {
			if err != nil {
				return failed(err)
			}
			return succeeded()
		},
	}
}

func localRollbackTask(a *Association, id uint16, txID message.TransactionID) *txTask {
	return &txTask{
		a:      a,
		id:     id,
		verb:   verbRollback,
		target: txID.String(),
		locate: func() (txn.Transaction, bool) {
			return a.options.LocalRegistry.Remove(txID.Local)
		},
		absent: func() txOutcome {
			// may race a transaction that completed without ever being used here
			log.Debug().Msgf("%s: %s: rollback of unknown %s ignored", a.logPrefix, a.descriptor, txID.String())
			return silent()
		},
		perform: a.options.Manager.Rollback,
		mapOutcome: func(err error) txOutcome {
			if err != nil {
				return failed(err)
			}
			return succeeded()
		},
	}
}

func (a *Association) notFound(xid message.Xid) txOutcome {
	return failed(txn.NewXAError(txn.XAErrNotA, fmt.Errorf("%w: %s", txn.ErrNoSuchTransaction, xid.String())))
}

// mapCompletion maps commit and rollback errors of an imported transaction
// to XA codes, removing the transaction unless it may be retried.
func (a *Association) mapCompletion(xid message.Xid, err error) txOutcome {
	if err == nil {
		return succeeded()
	}

	var xaErr *txn.XAError
	switch {
	case errors.As(err, &xaErr):
		if !xaErr.Retry() {
			a.options.ImportedRegistry.RemoveImported(xid)
		}
		return failed(err)
	case errors.Is(err, txn.ErrRollback):
		a.options.ImportedRegistry.RemoveImported(xid)
		return failed(txn.NewXAError(txn.XARBRollback, err))
	case errors.Is(err, txn.ErrHeuristicRollback):
		return failed(txn.NewXAError(txn.XAHeurRB, err))
	case errors.Is(err, txn.ErrHeuristicMixed):
		return failed(txn.NewXAError(txn.XAHeurMix, err))
	case errors.Is(err, txn.ErrHeuristicCommit):
		return failed(txn.NewXAError(txn.XAHeurCom, err))
	case errors.Is(err, txn.ErrIllegalState), errors.Is(err, txn.ErrSystem):
		a.options.ImportedRegistry.RemoveImported(xid)
		return failed(txn.NewXAError(txn.XAErrRMErr, err))
	default:
		return failed(err)
	}
}

func locateImported(a *Association, xid message.Xid, sub *txn.Subordinate) func() (txn.Transaction, bool) {
	return func() (txn.Transaction, bool) {
		s, found := a.options.ImportedRegistry.GetImported(xid)
		if !found {
			return nil, false
		}
		*sub = s
		return s.Transaction(), true
	}
}

func xaCommitTask(a *Association, id uint16, xid message.Xid, onePhase bool) *txTask {
	var sub txn.Subordinate
	return &txTask{
		a:      a,
		id:     id,
		verb:   verbCommit,
		target: xid.String(),
		locate: locateImported(a, xid, &sub),
		absent: func() txOutcome {
			return a.notFound(xid)
		},
		perform: func(_ *txn.Binding) error {
			if !sub.Activated() {
				return nil
			}
			var err error
			if onePhase {
				err = sub.CommitOnePhase()
			} else {
				err = sub.Commit()
			}
			if err == nil {
				a.options.ImportedRegistry.RemoveImported(xid)
			}
			return err
		},
		mapOutcome: func(err error) txOutcome {
			return a.mapCompletion(xid, err)
		},
	}
}

func xaRollbackTask(a *Association, id uint16, xid message.Xid) *txTask {
	var sub txn.Subordinate
	return &txTask{
		a:      a,
		id:     id,
		verb:   verbRollback,
		target: xid.String(),
		locate: func() (txn.Transaction, bool) {
			s, found := a.options.ImportedRegistry.GetImported(xid)
			if !found {
				// rollback may arrive during recovery before the subordinate is back in memory
				s, found = a.options.ImportedRegistry.RecoverImported(xid)
			}
			if !found {
				return nil, false
			}
			sub = s
			return s.Transaction(), true
		},
		absent: func() txOutcome {
			log.Debug().Msgf("%s: %s: rollback of unknown %s, nothing to do", a.logPrefix, a.descriptor, xid.String())
			return succeeded()
		},
		perform: func(_ *txn.Binding) error {
			err := sub.Rollback()
			if err == nil {
				a.options.ImportedRegistry.RemoveImported(xid)
			}
			return err
		},
		mapOutcome: func(err error) txOutcome {
			return a.mapCompletion(xid, err)
		},
	}
}

func xaPrepareTask(a *Association, id uint16, xid message.Xid) *txTask {
	var sub txn.Subordinate
	var vote txn.Vote
	return &txTask{
		a:      a,
		id:     id,
		verb:   verbPrepare,
		target: xid.String(),
		locate: locateImported(a, xid, &sub),
		absent: func() txOutcome {
			return a.notFound(xid)
		},
		perform: func(_ *txn.Binding) error {
			var err error
			vote, err = sub.Prepare()
			return err
		},
		mapOutcome: func(err error) txOutcome {
			if err != nil {
				var xaErr *txn.XAError
				if errors.Is(err, txn.ErrInvalidTransaction) ||
					errors.Is(err, txn.ErrNoSuchTransaction) ||
					(errors.As(err, &xaErr) && xaErr.Code == txn.XAErrNotA) {
					return failed(txn.NewXAError(txn.XAErrNotA, err))
				}
				return failed(txn.NewXAError(txn.XARBOther, err))
			}

			switch vote {
			case txn.VoteReadOnly:
				a.options.ImportedRegistry.RemoveImported(xid)
				return succeededWithCode(txn.XAReadOnly)
			case txn.VoteOK:
				return succeededWithCode(txn.XAOk)
			case txn.VoteNotOK:
				code := txn.XARBRollback
				rbErr := sub.Rollback()
				switch {
				case rbErr == nil:
				case errors.Is(rbErr, txn.ErrHeuristicMixed):
					code = txn.XAHeurMix
				case errors.Is(rbErr, txn.ErrHeuristicCommit):
					code = txn.XAHeurCom
				case errors.Is(rbErr, txn.ErrHeuristicRollback):
					code = txn.XAHeurRB
				default:
					log.Warn().Msgf("%s: %s: rollback after failed prepare of %s, err=%s", a.logPrefix, a.descriptor, xid.String(), rbErr.Error())
				}
				a.options.ImportedRegistry.RemoveImported(xid)
				return failed(txn.NewXAError(code, fmt.Errorf("%w: prepare of %s voted %s", txn.ErrRollback, xid.String(), vote.String())))
			default:
				return failed(txn.NewXAError(txn.XARBOther, fmt.Errorf("prepare of %s returned %s", xid.String(), vote.String())))
			}
		},
	}
}

func xaForgetTask(a *Association, id uint16, xid message.Xid) *txTask {
	var sub txn.Subordinate
	return &txTask{
		a:      a,
		id:     id,
		verb:   verbForget,
		target: xid.String(),
		locate: locateImported(a, xid, &sub),
		absent: func() txOutcome {
			return a.notFound(xid)
		},
		perform: func(_ *txn.Binding) error {
			defer a.options.ImportedRegistry.RemoveImported(xid)
			return sub.Forget()
		},
		mapOutcome: func(err error) txOutcome {
			if err != nil {
				return failed(txn.NewXAError(txn.XAErrRMErr, err))
			}
			return succeeded()
		},
	}
}

func xaBeforeCompletionTask(a *Association, id uint16, xid message.Xid) *txTask {
	var sub txn.Subordinate
	return &txTask{
		a:      a,
		id:     id,
		verb:   verbBeforeCompletion,
		target: xid.String(),
		locate: locateImported(a, xid, &sub),
		absent: func() txOutcome {
			log.Error().Msgf("%s: %s: before completion of %s, not a registered subordinate", a.logPrefix, a.descriptor, xid.String())
			return a.notFound(xid)
		},
		perform: func(_ *txn.Binding) error {
			return sub.BeforeCompletion()
		},
		mapOutcome: func(err error) txOutcome {
			if err != nil {
				return failed(err)
			}
			return succeeded()
		},
	}
}
