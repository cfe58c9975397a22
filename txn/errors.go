package txn

import (
	"github.com/Meander-Cloud/go-remote/message"
)

// outcomeError is a sentinel that also names the exception kind sent to clients.
type outcomeError struct {
	kind string
	text string
}

func (e *outcomeError) Error() string {
	return "txn: " + e.text
}

func (e *outcomeError) ExceptionKind() string {
	return e.kind
}

var (
	ErrNoSuchTransaction  error = &outcomeError{message.KindNoSuchTransaction, "no such transaction"}
	ErrRollback           error = &outcomeError{message.KindRollback, "transaction rolled back"}
	ErrHeuristicRollback  error = &outcomeError{message.KindHeuristicRollback, "heuristic rollback"}
	ErrHeuristicMixed     error = &outcomeError{message.KindHeuristicMixed, "heuristic mixed outcome"}
	ErrHeuristicCommit    error = &outcomeError{message.KindHeuristicCommit, "heuristic commit"}
	ErrIllegalState       error = &outcomeError{message.KindIllegalState, "illegal transaction state"}
	ErrSystem             error = &outcomeError{message.KindSystem, "transaction system error"}
	ErrInvalidTransaction error = &outcomeError{message.KindNoSuchTransaction, "invalid transaction"}
)
