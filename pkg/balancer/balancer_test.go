package balancer

import (
	"context"
	"net"
	"testing"

	"github.com/shadowrelay/shadowrelay/pkg/config"
	"github.com/shadowrelay/shadowrelay/pkg/prober"
	"github.com/shadowrelay/shadowrelay/pkg/registry"
)

// errorDialer fails every dial immediately, so Probers spawned against it
// settle on Errored outcomes without touching the real network.
type errorDialer struct{}

func (errorDialer) DialTCP(ctx context.Context, _ config.ServerConfig) (net.Conn, error) {
	return nil, context.DeadlineExceeded
}

func (errorDialer) DialUDP(ctx context.Context, _ config.ServerConfig) (net.Conn, error) {
	return nil, context.DeadlineExceeded
}

func TestSingleServerBypass(t *testing.T) {
	s := registry.New(config.ServerConfig{Addr: "10.0.0.1:8388"})

	b, err := New(context.Background(), []*registry.Server{s}, prober.KindTCP, errorDialer{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if b.probers != nil {
		t.Errorf("single-server balancer spawned %d probers, want none", len(b.probers))
	}
	if got := b.Total(); got != 1 {
		t.Errorf("Total() = %d, want 1", got)
	}
	if got := b.PickServer(); got != s {
		t.Errorf("PickServer() = %v, want the sole configured server", got)
	}
}

func TestEmptyServerListIsFatal(t *testing.T) {
	_, err := New(context.Background(), nil, prober.KindTCP, errorDialer{})
	if err != ErrEmptyServerList {
		t.Fatalf("New() error = %v, want ErrEmptyServerList", err)
	}
}

func TestElectionPicksMinimumScoreTiesToLowestIndex(t *testing.T) {
	a := registry.New(config.ServerConfig{Addr: "a:1"})
	bs := registry.New(config.ServerConfig{Addr: "b:1"})
	c := registry.New(config.ServerConfig{Addr: "c:1"})
	a.SetScore(50)
	bs.SetScore(10)
	c.SetScore(10)

	bal := &Balancer{servers: []*registry.Server{a, bs, c}}
	changed, _, newIdx := bal.chooseBest()
	if !changed || newIdx != 1 {
		t.Fatalf("chooseBest() = (%v, _, %d), want (true, _, 1)", changed, newIdx)
	}
	if got := bal.PickServer(); got != bs {
		t.Errorf("PickServer() = %v, want server b (tie broken to lowest index)", got)
	}
}

func TestElectionSwitchesOnDegradation(t *testing.T) {
	a := registry.New(config.ServerConfig{Addr: "a:1"}) // fast
	b2 := registry.New(config.ServerConfig{Addr: "b:1"}) // slow
	a.SetScore(5)   // ~20 successful 10ms probes
	b2.SetScore(100) // ~20 successful 200ms probes

	bal := &Balancer{servers: []*registry.Server{a, b2}}
	changed, _, newIdx := bal.chooseBest()
	if !changed || newIdx != 0 {
		t.Fatalf("first election = (%v, _, %d), want a (index 0) to win", changed, newIdx)
	}

	// Inject 20 Errored samples into a's window: the 37-slot window now holds
	// 17 10ms probes and 20 errors, so a scores 5 + 20/37*1000 -> 545, past b2's.
	a.SetScore(545)
	changed, _, newIdx = bal.chooseBest()
	if !changed || newIdx != 1 {
		t.Fatalf("second election = (%v, _, %d), want b2 (index 1) to win after a degrades", changed, newIdx)
	}
}

func TestNewBlocksUntilFirstElectionPass(t *testing.T) {
	a := registry.New(config.ServerConfig{Addr: "a:1"})
	b2 := registry.New(config.ServerConfig{Addr: "b:1"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bal, err := New(ctx, []*registry.Server{a, b2}, prober.KindTCP, errorDialer{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// New must not return before the first probe round and first election
	// pass have both completed. With an always-failing dialer every probe
	// settles on an Errored outcome, so both servers converge on the same
	// score — PickServer must still resolve to a real pool member.
	if got := bal.Total(); got != 2 {
		t.Errorf("Total() = %d, want 2", got)
	}
	picked := bal.PickServer()
	if picked != a && picked != b2 {
		t.Errorf("PickServer() returned a server not in the pool")
	}
}
