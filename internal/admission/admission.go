package admission

import (
	"sync"
	"time"

	"github.com/n0needt0/goodies/switchyard/internal/domain"
)

// Gate enforces one frontend's connection cap and rolling 1-second rate
// limit. A zero limit disables the respective check. Admissions arrive from
// concurrent accept paths, so every mutation runs under the mutex.
type Gate struct {
	mu             sync.Mutex
	maxConnections int
	rateLimit      int
	active         int
	window         []time.Time
}

func NewGate(maxConnections, rateLimit int) *Gate {
	return &Gate{maxConnections: maxConnections, rateLimit: rateLimit}
}

// Admit reserves one active slot or reports why it cannot. The cap is
// checked first, then the rate window: timestamps older than one second are
// evicted, and the admission is recorded only when it succeeds. Callers must
// Release exactly once per successful Admit.
func (g *Gate) Admit() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.maxConnections > 0 && g.active >= g.maxConnections {
		return domain.AdmissionError{Reason: domain.ReasonMaxConnections, Limit: g.maxConnections}
	}
	if g.rateLimit > 0 {
		now := time.Now()
		cutoff := now.Add(-time.Second)
		kept := g.window[:0]
		for _, t := range g.window {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		g.window = kept
		if len(g.window) >= g.rateLimit {
			return domain.AdmissionError{Reason: domain.ReasonRateLimit, Limit: g.rateLimit}
		}
		g.window = append(g.window, now)
	}
	g.active++
	return nil
}

// Release frees one active slot.
func (g *Gate) Release() {
	g.mu.Lock()
	if g.active > 0 {
		g.active--
	}
	g.mu.Unlock()
}

// Active reports the currently admitted session count.
func (g *Gate) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}
