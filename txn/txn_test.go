package txn

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Meander-Cloud/go-remote/message"
)

func TestXAError(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewXAError(XAErrRMErr, ErrSystem))

	var xa *XAError
	require.True(t, errors.As(err, &xa))
	assert.Equal(t, XAErrRMErr, xa.ResultCode())
	assert.False(t, xa.Retry())
	assert.True(t, errors.Is(err, ErrSystem))
	assert.Contains(t, err.Error(), "XAER_RMERR")

	assert.True(t, NewXAError(XARetry, nil).Retry())
	assert.Equal(t, "XA(42)", XACodeString(42))
}

func TestOutcomeErrorKinds(t *testing.T) {
	re := message.NewRemoteException(message.KindUnexpected, fmt.Errorf("commit: %w", ErrHeuristicMixed))
	assert.Equal(t, message.KindHeuristicMixed, re.Kind)

	re = message.NewRemoteException(message.KindUnexpected, NewXAError(XAErrNotA, nil))
	assert.Equal(t, message.KindXA, re.Kind)
	assert.Equal(t, XAErrNotA, re.Code)
}

func TestBinding(t *testing.T) {
	b := NewBinding()
	assert.NotEqual(t, b.ID, NewBinding().ID)
	assert.Nil(t, b.Current())

	m := NewMemory("test")
	id := m.BeginLocal()
	tx, found := m.Remove(id.Local)
	require.True(t, found)

	require.True(t, b.Associate(tx))
	assert.False(t, b.Associate(tx))
	assert.Same(t, tx, b.Dissociate())
	assert.Nil(t, b.Dissociate())
}

func TestMemoryLocalCommit(t *testing.T) {
	m := NewMemory("test")
	b := NewBinding()
	id := m.BeginLocal()
	assert.Len(t, id.Local, 16)

	status, found := m.Status(id)
	require.True(t, found)
	assert.Equal(t, StatusActive, status)

	tx, found := m.Remove(id.Local)
	require.True(t, found)
	_, found = m.Remove(id.Local)
	assert.False(t, found)

	require.NoError(t, m.Resume(b, tx))
	assert.ErrorIs(t, m.Resume(b, tx), ErrIllegalState)
	require.NoError(t, m.Commit(b))
	assert.ErrorIs(t, m.Commit(b), ErrIllegalState)

	suspended, err := m.Suspend(b)
	require.NoError(t, err)
	assert.Same(t, tx, suspended)
	assert.ErrorIs(t, m.Rollback(b), ErrIllegalState)
}

func TestMemoryLocalRollbackThenCommit(t *testing.T) {
	m := NewMemory("test")
	b := NewBinding()
	tx, _ := m.Remove(m.BeginLocal().Local)

	require.NoError(t, m.Resume(b, tx))
	require.NoError(t, m.Rollback(b))
	assert.ErrorIs(t, m.Commit(b), ErrRollback)
	assert.ErrorIs(t, m.Resume(NewBinding(), nil), ErrInvalidTransaction)
}

func TestMemorySubordinateTwoPhase(t *testing.T) {
	m := NewMemory("test")
	xid := message.Xid{FormatID: 1, GlobalTransactionID: []byte("g"), BranchQualifier: []byte("b")}
	m.Import(xid, false)

	s, found := m.GetImported(xid)
	require.True(t, found)
	assert.True(t, s.Activated())
	require.NoError(t, s.BeforeCompletion())

	var xa *XAError
	require.True(t, errors.As(s.Commit(), &xa))
	assert.Equal(t, XAErrProto, xa.Code)

	vote, err := s.Prepare()
	require.NoError(t, err)
	assert.Equal(t, VoteOK, vote)
	assert.Error(t, s.BeforeCompletion())

	require.NoError(t, s.Commit())
	require.NoError(t, s.Forget())
	m.RemoveImported(xid)
	_, found = m.GetImported(xid)
	assert.False(t, found)
}

func TestMemorySubordinateReadOnly(t *testing.T) {
	m := NewMemory("test")
	xid := message.Xid{FormatID: 2, GlobalTransactionID: []byte("g"), BranchQualifier: []byte("r")}
	s := m.Import(xid, true)

	vote, err := s.Prepare()
	require.NoError(t, err)
	assert.Equal(t, VoteReadOnly, vote)
	assert.ErrorIs(t, s.Rollback(), ErrIllegalState)
}

func TestMemoryRecovery(t *testing.T) {
	m := NewMemory("test")
	xid := message.Xid{FormatID: 3, GlobalTransactionID: []byte("g"), BranchQualifier: []byte("c")}
	m.Import(xid, false)

	assert.True(t, m.Park(xid))
	assert.False(t, m.Park(xid))
	_, found := m.GetImported(xid)
	assert.False(t, found)

	s, found := m.RecoverImported(xid)
	require.True(t, found)
	require.NoError(t, s.Rollback())

	_, found = m.GetImported(xid)
	assert.True(t, found)
	_, found = m.RecoverImported(xid)
	assert.False(t, found)
}

func TestVoteAndStatusStrings(t *testing.T) {
	assert.Equal(t, "Read Only", VoteReadOnly.String())
	assert.Equal(t, "Prepared", StatusPrepared.String())
}
