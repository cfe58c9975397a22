package remote

import (
	"context"
	"sync"
	"sync/atomic"
)

// CancellationFlag is advisory; setting it cancels the invocation's context
// but does not stop the worker running it.
type CancellationFlag struct {
	cancelled atomic.Bool
	cancel    context.CancelFunc
}

func (f *CancellationFlag) Set() {
	f.cancelled.Store(true)
	f.cancel()
}

func (f *CancellationFlag) IsSet() bool {
	return f.cancelled.Load()
}

// invocation ids are only unique within one connection
type cancellationKey struct {
	connID uint32
	id     uint16
}

// CancellationTable is shared by every connection of an endpoint.
type CancellationTable struct {
	mutex sync.Mutex
	flags map[cancellationKey]*CancellationFlag
}

func NewCancellationTable() *CancellationTable {
	return &CancellationTable{
		mutex: sync.Mutex{},
		flags: make(map[cancellationKey]*CancellationFlag),
	}
}

// Register derives a cancellable context from parent for invocation id of connection connID.
func (t *CancellationTable) Register(parent context.Context, connID uint32, id uint16) (context.Context, *CancellationFlag) {
	ctx, cancel := context.WithCancel(parent)
	f := &CancellationFlag{
		cancelled: atomic.Bool{},
		cancel:    cancel,
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.flags[cancellationKey{connID: connID, id: id}] = f
	return ctx, f
}

func (t *CancellationTable) Lookup(connID uint32, id uint16) (*CancellationFlag, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	f, found := t.flags[cancellationKey{connID: connID, id: id}]
	return f, found
}

// Remove deletes the entry only if it still holds f, then releases f's context.
func (t *CancellationTable) Remove(connID uint32, id uint16, f *CancellationFlag) {
	key := cancellationKey{connID: connID, id: id}
	func() {
		t.mutex.Lock()
		defer t.mutex.Unlock()
		if t.flags[key] == f {
			delete(t.flags, key)
		}
	}()
	f.cancel()
}

func (t *CancellationTable) Len() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return len(t.flags)
}
