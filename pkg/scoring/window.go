// Package scoring implements the bounded sliding window of probe outcomes
// that the Prober folds into a single comparable score per server.
package scoring

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Tunables shared with pkg/prober: the timeout bounds both a single probe
// attempt and the worst-case latency recorded for it.
const (
	WindowMax    = 37
	TimeoutSec   = 2
	MaxLatencyMs = TimeoutSec * 1000

	// WorstScore is the score of an empty window (no probe history yet).
	WorstScore = 2 * 1000
)

// Outcome is one probe attempt's result: either a measured latency in
// milliseconds, or a failure. The zero value is a zero-latency success,
// which callers never construct directly — use Latency or Errored.
type Outcome struct {
	errored   bool
	latencyMs uint64
}

// Latency builds a successful probe outcome.
func Latency(ms uint64) Outcome { return Outcome{latencyMs: ms} }

// Errored builds a failed probe outcome.
func Errored() Outcome { return Outcome{errored: true} }

// Window is a bounded, insertion-ordered sequence of at most WindowMax
// Outcomes, with the oldest evicted on overflow. It is not safe for
// concurrent use: the Prober that owns it is its sole writer.
type Window struct {
	outcomes []Outcome
}

// NewWindow returns an empty scoring window.
func NewWindow() *Window {
	return &Window{outcomes: make([]Outcome, 0, WindowMax)}
}

// Push appends outcome, evicting the oldest entry if the window has grown
// past WindowMax, and returns the freshly recomputed score.
func (w *Window) Push(o Outcome) uint64 {
	w.outcomes = append(w.outcomes, o)
	if len(w.outcomes) > WindowMax {
		w.outcomes = w.outcomes[1:]
	}
	return w.Score()
}

// Len reports the current window size.
func (w *Window) Len() int { return len(w.outcomes) }

// Score recomputes the scalar score from the window's current contents.
// Lower is better; the result is always in [0, 2000].
//
// mid is the median of the successful-probe latencies (2000ms, the
// timeout, if there were none); the error proportion is taken over the
// whole window, including errored samples. Both terms are combined on the
// same 0-1000 scale before summing, exactly mirroring the original
// float64 arithmetic so the documented worked examples reproduce exactly.
func (w *Window) Score() uint64 {
	if len(w.outcomes) == 0 {
		return WorstScore
	}

	latencies := make([]uint64, 0, len(w.outcomes))
	errCount := 0
	for _, o := range w.outcomes {
		if o.errored {
			errCount++
		} else {
			latencies = append(latencies, o.latencyMs)
		}
	}

	var mid uint64
	if len(latencies) == 0 {
		mid = MaxLatencyMs
	} else {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		n := len(latencies)
		if n%2 == 0 {
			mid = (latencies[n/2-1] + latencies[n/2]) / 2
		} else {
			mid = latencies[n/2]
		}
	}

	normLat := float64(mid) / float64(MaxLatencyMs)
	propErr := float64(errCount) / float64(len(w.outcomes))
	return uint64((normLat + propErr) * 1000.0)
}

// Percentile is a diagnostic-only helper over the window's successful
// latencies, used by the Balancer's switch-log line to report, e.g., p90
// latency alongside the score. It never feeds Score. ok is false when the
// window holds no successful samples.
func (w *Window) Percentile(p float64) (ms float64, ok bool) {
	latencies := make([]float64, 0, len(w.outcomes))
	for _, o := range w.outcomes {
		if !o.errored {
			latencies = append(latencies, float64(o.latencyMs))
		}
	}
	if len(latencies) == 0 {
		return 0, false
	}
	sort.Float64s(latencies)
	return stat.Quantile(p, stat.Empirical, latencies, nil), true
}
