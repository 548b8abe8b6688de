package association

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/shadowrelay/shadowrelay/pkg/config"
	"github.com/shadowrelay/shadowrelay/pkg/registry"
)

// loopbackDialer always dials a fixed local address, regardless of the
// target ServerConfig, so tests never touch the real network.
type loopbackDialer struct{ addr string }

func (d loopbackDialer) DialTCP(ctx context.Context, _ config.ServerConfig) (net.Conn, error) {
	var dialer net.Dialer
	return dialer.DialContext(ctx, "tcp", d.addr)
}

func (d loopbackDialer) DialUDP(ctx context.Context, _ config.ServerConfig) (net.Conn, error) {
	var dialer net.Dialer
	return dialer.DialContext(ctx, "udp", d.addr)
}

func newTestAssociation(t *testing.T) (*Association, func()) {
	t.Helper()

	udpLn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}

	server := registry.New(config.ServerConfig{Addr: "unused:0", Method: "aes-256-gcm", Key: "0123456789abcdef0123456789abcdef"})
	src := netip.MustParseAddrPort("10.1.1.1:40000")
	replyTx := make(chan ReplyPacket, 8)

	a, err := Associate(context.Background(), server, src, replyTx, loopbackDialer{addr: udpLn.LocalAddr().String()})
	if err != nil {
		udpLn.Close()
		t.Fatalf("Associate() error = %v", err)
	}
	return a, func() { a.Close(); udpLn.Close() }
}

func TestTableInsertAndEntryHit(t *testing.T) {
	a, cleanup := newTestAssociation(t)
	defer cleanup()

	table := NewTable(time.Minute)
	table.Insert("10.1.1.1:40000", a)

	got, existed := table.Entry("10.1.1.1:40000")
	if !existed {
		t.Fatal("Entry() existed = false, want true")
	}
	if got != a {
		t.Errorf("Entry() returned a different Association than was inserted")
	}
}

func TestTableEntryMissOnUnknownKey(t *testing.T) {
	table := NewTable(time.Minute)
	_, existed := table.Entry("no-such-flow:1")
	if existed {
		t.Error("Entry() existed = true for a key never inserted")
	}
}

func TestTableIdleEntryExpiresAndIsPurgedByIter(t *testing.T) {
	a, cleanup := newTestAssociation(t)
	defer cleanup()

	table := NewTable(20 * time.Millisecond)
	table.Insert("10.1.1.1:40000", a)

	time.Sleep(50 * time.Millisecond)

	var visited []string
	table.Iter(func(key string, _ *Association) { visited = append(visited, key) })
	if len(visited) != 0 {
		t.Errorf("Iter() visited %v after idle expiry, want none", visited)
	}

	// The purge is a side effect of the Iter call above: a fresh lookup
	// must now report a miss.
	if _, existed := table.Entry("10.1.1.1:40000"); existed {
		t.Error("Entry() found an association Iter should already have purged")
	}
}

func TestTableEntryRefreshesTTLOnHit(t *testing.T) {
	a, cleanup := newTestAssociation(t)
	defer cleanup()

	table := NewTable(60 * time.Millisecond)
	table.Insert("10.1.1.1:40000", a)

	// Touch the entry twice within its TTL window; each touch should push
	// expiry back out, so it must still be alive after the original TTL
	// would otherwise have elapsed.
	time.Sleep(40 * time.Millisecond)
	if _, existed := table.Entry("10.1.1.1:40000"); !existed {
		t.Fatal("Entry() missed an association well within its TTL")
	}
	time.Sleep(40 * time.Millisecond)
	if _, existed := table.Entry("10.1.1.1:40000"); !existed {
		t.Fatal("Entry() on a read-refreshed association reported a miss")
	}
}

func TestTableRemoveClosesAssociation(t *testing.T) {
	a, cleanup := newTestAssociation(t)
	defer cleanup()

	table := NewTable(time.Minute)
	table.Insert("10.1.1.1:40000", a)
	table.Remove("10.1.1.1:40000")

	if _, existed := table.Entry("10.1.1.1:40000"); existed {
		t.Error("Entry() found an association after explicit Remove")
	}

	select {
	case <-a.live:
	default:
		t.Error("Remove() did not close the association's liveness channel")
	}

	// Close is idempotent; calling it again (as cleanup will) must not panic.
	a.Close()
}
