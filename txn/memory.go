package txn

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Meander-Cloud/go-remote/message"
)

type Status uint8

const (
	StatusInvalid    Status = 0
	StatusActive     Status = 1
	StatusPrepared   Status = 2
	StatusCommitted  Status = 3
	StatusRolledBack Status = 4
)

func (s Status) String() string {
	switch s {
	case StatusInvalid:
		return "Invalid Status"
	case StatusActive:
		return "Active"
	case StatusPrepared:
		return "Prepared"
	case StatusCommitted:
		return "Committed"
	case StatusRolledBack:
		return "Rolled Back"
	default:
		return "Unknown Status"
	}
}

type memoryTransaction struct {
	id message.TransactionID

	mutex  sync.Mutex
	status Status
}

func newMemoryTransaction(id message.TransactionID) *memoryTransaction {
	return &memoryTransaction{
		id:     id,
		mutex:  sync.Mutex{},
		status: StatusActive,
	}
}

func (t *memoryTransaction) ID() message.TransactionID {
	return t.id
}

func (t *memoryTransaction) Status() Status {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.status
}

// transition moves from any of the given states to next.
func (t *memoryTransaction) transition(next Status, from ...Status) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	for _, s := range from {
		if t.status == s {
			t.status = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s cannot move from %s to %s", ErrIllegalState, t.id.String(), t.status.String(), next.String())
}

type memorySubordinate struct {
	tx        *memoryTransaction
	activated bool
	readOnly  bool
}

func (s *memorySubordinate) Transaction() Transaction {
	return s.tx
}

func (s *memorySubordinate) Activated() bool {
	return s.activated
}

func (s *memorySubordinate) CommitOnePhase() error {
	return s.tx.transition(StatusCommitted, StatusActive, StatusPrepared)
}

func (s *memorySubordinate) Commit() error {
	err := s.tx.transition(StatusCommitted, StatusPrepared)
	if err != nil {
		return NewXAError(XAErrProto, err)
	}
	return nil
}

func (s *memorySubordinate) Prepare() (Vote, error) {
	if s.readOnly {
		err := s.tx.transition(StatusCommitted, StatusActive)
		if err != nil {
			return VoteInvalid, err
		}
		return VoteReadOnly, nil
	}
	err := s.tx.transition(StatusPrepared, StatusActive)
	if err != nil {
		return VoteInvalid, err
	}
	return VoteOK, nil
}

func (s *memorySubordinate) Rollback() error {
	return s.tx.transition(StatusRolledBack, StatusActive, StatusPrepared)
}

func (s *memorySubordinate) Forget() error {
	return nil
}

func (s *memorySubordinate) BeforeCompletion() error {
	if st := s.tx.Status(); st != StatusActive {
		return fmt.Errorf("%w: before completion in %s", ErrIllegalState, st.String())
	}
	return nil
}

// Memory is a process local transaction manager and registry.
type Memory struct {
	LogPrefix string

	mutex       sync.Mutex
	local       map[string]*memoryTransaction
	imported    map[string]*memorySubordinate
	recoverable map[string]*memorySubordinate
}

func NewMemory(logPrefix string) *Memory {
	return &Memory{
		LogPrefix: logPrefix,

		mutex:       sync.Mutex{},
		local:       make(map[string]*memoryTransaction),
		imported:    make(map[string]*memorySubordinate),
		recoverable: make(map[string]*memorySubordinate),
	}
}

// BeginLocal issues a new local transaction id.
func (p *Memory) BeginLocal() message.TransactionID {
	raw := uuid.New()
	id := message.LocalTransactionID(raw[:])

	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.local[string(id.Local)] = newMemoryTransaction(id)

	log.Debug().Msgf("%s: began %s", p.LogPrefix, id.String())
	return id
}

// Import registers an activated subordinate for xid.
func (p *Memory) Import(xid message.Xid, readOnly bool) Subordinate {
	s := &memorySubordinate{
		tx:        newMemoryTransaction(message.XidTransactionID(xid)),
		activated: true,
		readOnly:  readOnly,
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.imported[xid.Key()] = s
	return s
}

// Park moves an imported subordinate to the recovery store.
func (p *Memory) Park(xid message.Xid) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	s, found := p.imported[xid.Key()]
	if !found {
		return false
	}
	delete(p.imported, xid.Key())
	p.recoverable[xid.Key()] = s
	return true
}

func (p *Memory) Status(id message.TransactionID) (Status, bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	switch id.Kind {
	case message.TransactionKindLocal:
		tx, found := p.local[string(id.Local)]
		if found {
			return tx.Status(), true
		}
	case message.TransactionKindXid:
		s, found := p.imported[id.Xid.Key()]
		if found {
			return s.tx.Status(), true
		}
	}
	return StatusInvalid, false
}

func (p *Memory) Remove(id []byte) (Transaction, bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	tx, found := p.local[string(id)]
	if !found {
		return nil, false
	}
	delete(p.local, string(id))
	return tx, true
}

func (p *Memory) GetImported(xid message.Xid) (Subordinate, bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	s, found := p.imported[xid.Key()]
	if !found {
		return nil, false
	}
	return s, true
}

func (p *Memory) RemoveImported(xid message.Xid) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	delete(p.imported, xid.Key())
}

func (p *Memory) RecoverImported(xid message.Xid) (Subordinate, bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	s, found := p.recoverable[xid.Key()]
	if !found {
		return nil, false
	}
	delete(p.recoverable, xid.Key())
	p.imported[xid.Key()] = s
	log.Info().Msgf("%s: recovered %s", p.LogPrefix, xid.String())
	return s, true
}

func (p *Memory) Resume(b *Binding, tx Transaction) error {
	if tx == nil {
		return fmt.Errorf("%w: resume of nil transaction", ErrInvalidTransaction)
	}
	if !b.Associate(tx) {
		return fmt.Errorf("%w: binding %d already associated with %s", ErrIllegalState, b.ID, b.Current().ID().String())
	}
	return nil
}

func (p *Memory) Suspend(b *Binding) (Transaction, error) {
	return b.Dissociate(), nil
}

func (p *Memory) current(b *Binding) (*memoryTransaction, error) {
	tx := b.Current()
	if tx == nil {
		return nil, fmt.Errorf("%w: binding %d has no transaction", ErrIllegalState, b.ID)
	}
	mt, ok := tx.(*memoryTransaction)
	if !ok {
		return nil, fmt.Errorf("%w: foreign transaction %s", ErrSystem, tx.ID().String())
	}
	return mt, nil
}

func (p *Memory) Commit(b *Binding) error {
	mt, err := p.current(b)
	if err != nil {
		return err
	}
	if mt.Status() == StatusRolledBack {
		return fmt.Errorf("%w: %s", ErrRollback, mt.id.String())
	}
	return mt.transition(StatusCommitted, StatusActive)
}

func (p *Memory) Rollback(b *Binding) error {
	mt, err := p.current(b)
	if err != nil {
		return err
	}
	return mt.transition(StatusRolledBack, StatusActive, StatusPrepared)
}
