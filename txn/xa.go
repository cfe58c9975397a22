package txn

import (
	"fmt"

	"github.com/Meander-Cloud/go-remote/message"
)

// XA result and error codes
const (
	XAOk         int32 = 0
	XAReadOnly   int32 = 3
	XARetry      int32 = 4
	XAHeurMix    int32 = 5
	XAHeurRB     int32 = 6
	XAHeurCom    int32 = 7
	XAHeurHaz    int32 = 8
	XARBRollback int32 = 100
	XARBOther    int32 = 104

	XAErrRMErr  int32 = -3
	XAErrNotA   int32 = -4
	XAErrInval  int32 = -5
	XAErrProto  int32 = -6
	XAErrRMFail int32 = -7
)

func XACodeString(code int32) string {
	switch code {
	case XAOk:
		return "XA_OK"
	case XAReadOnly:
		return "XA_RDONLY"
	case XARetry:
		return "XA_RETRY"
	case XAHeurMix:
		return "XA_HEURMIX"
	case XAHeurRB:
		return "XA_HEURRB"
	case XAHeurCom:
		return "XA_HEURCOM"
	case XAHeurHaz:
		return "XA_HEURHAZ"
	case XARBRollback:
		return "XA_RBROLLBACK"
	case XARBOther:
		return "XA_RBOTHER"
	case XAErrRMErr:
		return "XAER_RMERR"
	case XAErrNotA:
		return "XAER_NOTA"
	case XAErrInval:
		return "XAER_INVAL"
	case XAErrProto:
		return "XAER_PROTO"
	case XAErrRMFail:
		return "XAER_RMFAIL"
	default:
		return fmt.Sprintf("XA(%d)", code)
	}
}

// XAError carries an XA code and the error that produced it.
type XAError struct {
	Code  int32
	Cause error
}

func NewXAError(code int32, cause error) *XAError {
	return &XAError{
		Code:  code,
		Cause: cause,
	}
}

func (e *XAError) Error() string {
	if e.Cause == nil {
		return "txn: " + XACodeString(e.Code)
	}
	return "txn: " + XACodeString(e.Code) + ": " + e.Cause.Error()
}

func (e *XAError) Unwrap() error {
	return e.Cause
}

func (e *XAError) ResultCode() int32 {
	return e.Code
}

func (e *XAError) ExceptionKind() string {
	return message.KindXA
}

// Retry codes leave an imported transaction registered for a later attempt.
func (e *XAError) Retry() bool {
	return e.Code == XARetry
}
