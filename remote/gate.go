package remote

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Meander-Cloud/go-remote/metrics"
)

// Gate bounds the number of outbound messages being produced concurrently
// on one channel.
type Gate struct {
	ch      Channel
	permits int64
	sem     *semaphore.Weighted
}

func NewGate(ch Channel, permits uint16) *Gate {
	return &Gate{
		ch:      ch,
		permits: int64(permits),
		sem:     semaphore.NewWeighted(int64(permits)),
	}
}

func (g *Gate) Permits() int64 {
	return g.permits
}

// Acquire blocks until a permit is free or ctx is done, then opens an
// outbound message. A failed open returns the permit.
func (g *Gate) Acquire(ctx context.Context) (OutboundMessage, error) {
	t0 := time.Now()
	err := g.sem.Acquire(ctx, 1)
	if err != nil {
		return nil, err
	}

	m, err := g.ch.OpenMessage()
	if err != nil {
		g.sem.Release(1)
		return nil, err
	}

	metrics.RecordGateAcquire(time.Since(t0))
	return m, nil
}

// Release sends m and returns its permit whether or not the send succeeded.
func (g *Gate) Release(m OutboundMessage) error {
	defer g.sem.Release(1)
	defer metrics.RecordGateRelease()
	return m.Close()
}

// Discard drops m and returns its permit.
func (g *Gate) Discard(m OutboundMessage) {
	defer g.sem.Release(1)
	defer metrics.RecordGateRelease()
	m.Abort()
}
