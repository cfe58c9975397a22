package arbiter

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	arb "github.com/Meander-Cloud/go-arbiter/arbiter"
	"github.com/Meander-Cloud/go-schedule/scheduler"
	"github.com/rs/zerolog/log"

	"github.com/Meander-Cloud/go-remote/config"
	"github.com/Meander-Cloud/go-remote/metrics"
)

const pendingSampleInterval = time.Second

var ErrRejected = errors.New("arbiter: pending limit reached")

type worker struct {
	name    string
	a       *arb.Arbiter[Group]
	pending atomic.Int32
}

// Pool spreads work across several arbiters. Each arbiter runs its tasks one
// at a time, so a slow task only delays work queued behind it on the same arbiter.
type Pool struct {
	logPrefix string
	logDebug  bool
	limit     int32
	workers   []*worker
	next      atomic.Uint32
}

func NewPool(c *config.Config) *Pool {
	workers := c.Workers
	if workers == 0 {
		workers = config.Workers
	}
	limit := c.EventChannelLength
	if limit == 0 {
		limit = config.EventChannelLength
	}

	p := &Pool{
		logPrefix: c.LogPrefix + "-Pool",
		logDebug:  c.LogDebug,
		limit:     int32(limit),
		workers:   make([]*worker, 0, workers),
		next:      atomic.Uint32{},
	}
	for i := uint16(0); i < workers; i++ {
		name := fmt.Sprintf("%s-Arbiter-%d", c.LogPrefix, i+1)
		w := &worker{
			name: name,
			a: arb.New(
				&arb.Options[Group]{
					LogPrefix: name,
					LogDebug:  c.LogDebug,
					LogEvent:  false,
				},
			),
		}
		p.sample(w)
		p.workers = append(p.workers, w)
	}

	log.Info().Msgf("%s: started %d arbiters, pending limit %d", p.logPrefix, workers, limit)
	return p
}

func (p *Pool) sample(w *worker) {
	w.a.Scheduler().ProcessAsync(
		&scheduler.ScheduleAsyncEvent[Group]{
			AsyncVariant: scheduler.TickerAsync(
				false,
				[]Group{GroupSample},
				pendingSampleInterval,
				func() {
					// invoked on arbiter goroutine
					metrics.RecordPending(w.name, int(w.pending.Load()))
				},
				nil,
			),
		},
	)
}

func (p *Pool) Size() int {
	return len(p.workers)
}

// Pending reports queued plus running tasks across all arbiters.
func (p *Pool) Pending() int {
	total := 0
	for _, w := range p.workers {
		total += int(w.pending.Load())
	}
	return total
}

func (p *Pool) tryDispatch(w *worker, g Group, f func()) bool {
	if w.pending.Add(1) > p.limit {
		w.pending.Add(-1)
		return false
	}

	t0 := time.Now().UTC()
	w.a.Dispatch(func() {
		// invoked on arbiter goroutine
		defer w.pending.Add(-1)

		t1 := time.Now().UTC()
		func() {
			defer func() {
				rec := recover()
				if rec != nil {
					log.Error().Msgf("%s: %s functor recovered from panic: %+v", w.name, g.String(), rec)
				}
			}()
			f()
		}()
		t2 := time.Now().UTC()

		metrics.RecordTask(g.String(), t1.Sub(t0), t2.Sub(t1))
		if p.logDebug {
			log.Debug().Msgf(
				"%s: %s event queueWait=%dus, funcElapsed=%dus",
				w.name,
				g.String(),
				t1.Sub(t0).Microseconds(),
				t2.Sub(t1).Microseconds(),
			)
		}
	})
	return true
}

// Dispatch never blocks. It tries each arbiter once, starting round robin,
// and returns ErrRejected when all of them are at the pending limit.
func (p *Pool) Dispatch(g Group, f func()) error {
	n := uint32(len(p.workers))
	start := p.next.Add(1)
	for i := uint32(0); i < n; i++ {
		if p.tryDispatch(p.workers[(start+i)%n], g, f) {
			return nil
		}
	}

	metrics.RecordTaskRejected(g.String())
	log.Warn().Msgf("%s: %s task rejected", p.logPrefix, g.String())
	return fmt.Errorf("%w: %s: all %d arbiters saturated", ErrRejected, p.logPrefix, n)
}

// DispatchKeyed always uses the same arbiter for a key, so tasks sharing a
// key run in dispatch order.
func (p *Pool) DispatchKeyed(key uint32, g Group, f func()) error {
	w := p.workers[key%uint32(len(p.workers))]
	if !p.tryDispatch(w, g, f) {
		metrics.RecordTaskRejected(g.String())
		log.Warn().Msgf("%s: %s task rejected for key %d", p.logPrefix, g.String(), key)
		return fmt.Errorf("%w: %s", ErrRejected, w.name)
	}
	return nil
}

// Flush waits until every task dispatched before the call has run. It
// bypasses the pending limit.
func (p *Pool) Flush(ctx context.Context) error {
	done := make(chan struct{}, len(p.workers))
	for _, w := range p.workers {
		w.a.Dispatch(func() {
			// invoked on arbiter goroutine
			done <- struct{}{}
		})
	}

	for range p.workers {
		select {
		case <-done:
		case <-ctx.Done():
			err := fmt.Errorf("%s: flush: %w", p.logPrefix, ctx.Err())
			log.Warn().Msg(err.Error())
			return err
		}
	}
	return nil
}

func (p *Pool) Shutdown() {
	for _, w := range p.workers {
		w.a.Shutdown() // wait
	}
	log.Info().Msgf("%s: all arbiters shut down", p.logPrefix)
}
