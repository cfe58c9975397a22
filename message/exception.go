package message

import (
	"errors"
	"fmt"

	"github.com/Meander-Cloud/go-remote/marshal"
)

// exception kinds carried by RemoteException
const (
	KindInvocation           = "Invocation"
	KindNoSuchTransaction    = "NoSuchTransaction"
	KindRollback             = "Rollback"
	KindHeuristicRollback    = "HeuristicRollback"
	KindHeuristicMixed       = "HeuristicMixed"
	KindHeuristicCommit      = "HeuristicCommit"
	KindIllegalState         = "IllegalState"
	KindSystem               = "System"
	KindXA                   = "XA"
	KindRejected             = "Rejected"
	KindCancelled            = "Cancelled"
	KindComponentNotStateful = "ComponentNotStateful"
	KindUnexpected           = "Unexpected"
)

// RemoteException is the serialized form of any error sent to a client.
type RemoteException struct {
	Kind    string           `json:"kind"`
	Message string           `json:"message"`
	Code    int32            `json:"code,omitempty" msgpack:",omitempty"`
	Cause   *RemoteException `json:"cause,omitempty" msgpack:",omitempty"`
}

func init() {
	marshal.Register(RemoteException{})
}

func (e *RemoteException) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s(%d): %s", e.Kind, e.Code, e.Message)
	}
	return e.Kind + ": " + e.Message
}

func (e *RemoteException) Unwrap() error {
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Coded errors expose a numeric result code, such as an XA error code.
type Coded interface {
	error
	ResultCode() int32
}

// Classified errors choose their own exception kind.
type Classified interface {
	error
	ExceptionKind() string
}

// NewRemoteException converts err and its wrapped chain. An existing
// *RemoteException is returned as is.
func NewRemoteException(kind string, err error) *RemoteException {
	if err == nil {
		return nil
	}
	if re, ok := err.(*RemoteException); ok {
		return re
	}

	e := &RemoteException{
		Kind:    kind,
		Message: err.Error(),
	}
	var classified Classified
	if errors.As(err, &classified) {
		e.Kind = classified.ExceptionKind()
	}
	var coded Coded
	if errors.As(err, &coded) {
		e.Code = coded.ResultCode()
	}

	inner := errors.Unwrap(err)
	if inner != nil {
		e.Cause = NewRemoteException(KindUnexpected, inner)
	}
	return e
}
