// Package balancer elects the lowest-scoring upstream server out of a
// fixed pool, continuously re-evaluated by per-server Probers.
package balancer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shadowrelay/shadowrelay/pkg/metrics"
	"github.com/shadowrelay/shadowrelay/pkg/prober"
	"github.com/shadowrelay/shadowrelay/pkg/registry"
)

// ErrEmptyServerList is returned by New when given no servers.
var ErrEmptyServerList = errors.New("balancer: cannot initialize without any servers")

// Balancer elects the currently "best" (lowest-scoring) server from a
// fixed pool. The pool never changes after New returns; only each
// server's score and the elected index mutate, both lock-free.
type Balancer struct {
	servers []*registry.Server
	probers []*prober.Prober
	bestIdx atomic.Uint64
}

// New constructs a Balancer over servers, probing each with kind. If only
// one server is given, no Prober or election goroutine is ever spawned —
// PickServer trivially returns that one server. Otherwise New does not
// return until the first election pass has completed, so every subsequent
// PickServer reflects real data.
func New(ctx context.Context, servers []*registry.Server, kind prober.Kind, dialer prober.Dialer) (*Balancer, error) {
	if len(servers) == 0 {
		return nil, ErrEmptyServerList
	}

	b := &Balancer{servers: servers}

	if len(servers) == 1 {
		return b, nil
	}

	b.probers = make([]*prober.Prober, len(servers))
	for i, s := range servers {
		b.probers[i] = prober.New(s, kind, dialer)
	}

	var startBarrier sync.WaitGroup
	startBarrier.Add(len(servers))
	for _, p := range b.probers {
		go p.Run(ctx, &startBarrier)
	}
	startBarrier.Wait()

	var electionBarrier sync.WaitGroup
	electionBarrier.Add(1)
	go b.runElection(ctx, kind, &electionBarrier)
	electionBarrier.Wait()

	return b, nil
}

// PickServer returns the currently-best server: an O(1), lock-free atomic
// index load into the fixed server slice.
func (b *Balancer) PickServer() *registry.Server {
	return b.servers[b.bestIdx.Load()]
}

// Total reports the number of servers in the pool.
func (b *Balancer) Total() int { return len(b.servers) }

func (b *Balancer) runElection(ctx context.Context, kind prober.Kind, firstPassDone *sync.WaitGroup) {
	primed := false

	elect := func() {
		for _, s := range b.servers {
			metrics.ServerScore.WithLabelValues(s.String()).Set(float64(s.Score()))
		}

		changed, lastIdx, newIdx := b.chooseBest()
		if changed && primed {
			last, new := b.servers[lastIdx], b.servers[newIdx]
			metrics.ElectionSwitchesTotal.Inc()
			if p90, ok := b.probers[newIdx].Window().Percentile(0.9); ok {
				log.Printf("balancer: switched %s server from %s (score: %d) to %s (score: %d, p90: %.0fms)",
					kind, last, last.Score(), new, new.Score(), p90)
			} else {
				log.Printf("balancer: switched %s server from %s (score: %d) to %s (score: %d)",
					kind, last, last.Score(), new, new.Score())
			}
		}
		if changed || !primed {
			metrics.BestServer.WithLabelValues(b.servers[lastIdx].String()).Set(0)
			metrics.BestServer.WithLabelValues(b.servers[newIdx].String()).Set(1)
		}
	}

	elect()
	primed = true
	firstPassDone.Done()

	ticker := time.NewTicker(prober.IntervalSec * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elect()
		}
	}
}

// chooseBest scans all servers for the minimum score (ties broken by
// lowest index), atomically publishing it if it differs from the current
// bestIdx. It reports whether the index changed, and the before/after
// indices.
func (b *Balancer) chooseBest() (changed bool, lastIdx, newIdx uint64) {
	chosen := 0
	for i, s := range b.servers {
		if s.Score() < b.servers[chosen].Score() {
			chosen = i
		}
	}

	last := b.bestIdx.Load()
	if uint64(chosen) == last {
		return false, last, last
	}
	b.bestIdx.Store(uint64(chosen))
	return true, last, uint64(chosen)
}

// String describes the balancer by the size of its server pool.
func (b *Balancer) String() string {
	return fmt.Sprintf("balancer(%d servers)", len(b.servers))
}
