package scoring

import "testing"

func TestEmptyWindowScore(t *testing.T) {
	w := NewWindow()
	if got := w.Score(); got != WorstScore {
		t.Errorf("Score() = %d, want %d", got, WorstScore)
	}
}

func TestAllErroredWindowScore(t *testing.T) {
	w := NewWindow()
	for i := 0; i < 10; i++ {
		w.Push(Errored())
	}
	if got := w.Score(); got != 2000 {
		t.Errorf("Score() = %d, want 2000", got)
	}
}

func TestAllSuccessfulWindowScoreIndependentOfN(t *testing.T) {
	w1 := NewWindow()
	w1.Push(Latency(1000))

	w2 := NewWindow()
	for i := 0; i < 20; i++ {
		w2.Push(Latency(1000))
	}

	want := uint64(1000.0 / float64(MaxLatencyMs) * 1000.0)
	if got := w1.Score(); got != want {
		t.Errorf("w1.Score() = %d, want %d", got, want)
	}
	if got := w2.Score(); got != want {
		t.Errorf("w2.Score() = %d, want %d", got, want)
	}
}

func TestMedianOfEven(t *testing.T) {
	w := NewWindow()
	w.Push(Latency(10))
	w.Push(Latency(20))
	w.Push(Latency(30))
	got := w.Push(Latency(40))
	if got != 12 {
		t.Errorf("Score() = %d, want 12", got)
	}
}

func TestMedianOfEvenSpecExample(t *testing.T) {
	w := NewWindow()
	w.Push(Latency(100))
	w.Push(Latency(300))
	w.Push(Latency(500))
	got := w.Push(Latency(700))
	if got != 200 {
		t.Errorf("Score() = %d, want 200", got)
	}
}

func TestMonotoneInErrors(t *testing.T) {
	base := []Outcome{Latency(10), Latency(20), Latency(30), Latency(40)}

	w1 := NewWindow()
	for _, o := range base {
		w1.Push(o)
	}

	degraded := append([]Outcome{}, base[1:]...)
	degraded = append(degraded, Errored())
	w2 := NewWindow()
	for _, o := range degraded {
		w2.Push(o)
	}

	if w2.Score() < w1.Score() {
		t.Errorf("replacing a Latency with Errored decreased score: %d -> %d", w1.Score(), w2.Score())
	}
}

func TestWindowCap(t *testing.T) {
	w := NewWindow()
	for i := uint64(0); i < 50; i++ {
		w.Push(Latency(i))
	}
	if w.Len() != WindowMax {
		t.Fatalf("Len() = %d, want %d", w.Len(), WindowMax)
	}
	// last 37 pushes were latencies 13..49 in insertion order.
	if w.outcomes[0].latencyMs != 13 {
		t.Errorf("oldest retained latency = %d, want 13", w.outcomes[0].latencyMs)
	}
	if w.outcomes[len(w.outcomes)-1].latencyMs != 49 {
		t.Errorf("newest latency = %d, want 49", w.outcomes[len(w.outcomes)-1].latencyMs)
	}
}

func TestScoreBoundsFuzz(t *testing.T) {
	w := NewWindow()
	outcomes := []Outcome{Latency(0), Latency(5000), Errored(), Latency(2000), Errored(), Latency(1)}
	for i := 0; i < 100; i++ {
		score := w.Push(outcomes[i%len(outcomes)])
		if score > 2000 {
			t.Fatalf("score %d exceeds 2000", score)
		}
	}
}
