package txn

import (
	"sync"
	"sync/atomic"

	"github.com/Meander-Cloud/go-remote/message"
)

type Transaction interface {
	ID() message.TransactionID
}

// Binding is the execution context a transaction is resumed onto and
// suspended from. It replaces implicit per-thread association.
type Binding struct {
	ID uint64

	mutex sync.Mutex
	tx    Transaction
}

var bindingIDGen atomic.Uint64

func NewBinding() *Binding {
	return &Binding{
		ID:    bindingIDGen.Add(1),
		mutex: sync.Mutex{},
		tx:    nil,
	}
}

func (b *Binding) Current() Transaction {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.tx
}

// Associate returns false if another transaction is already associated.
func (b *Binding) Associate(tx Transaction) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.tx != nil {
		return false
	}
	b.tx = tx
	return true
}

func (b *Binding) Dissociate() Transaction {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	tx := b.tx
	b.tx = nil
	return tx
}

// Manager drives the transaction associated with a Binding.
type Manager interface {
	Resume(b *Binding, tx Transaction) error
	Suspend(b *Binding) (Transaction, error)
	Commit(b *Binding) error
	Rollback(b *Binding) error
}

type LocalRegistry interface {
	// Remove consumes a local transaction id.
	Remove(id []byte) (Transaction, bool)
}

type Vote uint8

const (
	VoteInvalid  Vote = 0
	VoteOK       Vote = 1
	VoteReadOnly Vote = 2
	VoteNotOK    Vote = 3
)

func (v Vote) String() string {
	switch v {
	case VoteInvalid:
		return "Invalid Vote"
	case VoteOK:
		return "OK"
	case VoteReadOnly:
		return "Read Only"
	case VoteNotOK:
		return "Not OK"
	default:
		return "Unknown Vote"
	}
}

// Subordinate is an imported transaction this server takes part in.
type Subordinate interface {
	Transaction() Transaction
	Activated() bool
	CommitOnePhase() error
	Commit() error
	Prepare() (Vote, error)
	Rollback() error
	Forget() error
	BeforeCompletion() error
}

type ImportedRegistry interface {
	GetImported(xid message.Xid) (Subordinate, bool)
	RemoveImported(xid message.Xid)
	// RecoverImported materializes a subordinate known only to the recovery store.
	RecoverImported(xid message.Xid) (Subordinate, bool)
}
