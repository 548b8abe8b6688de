// Package prober periodically exercises one upstream server through a
// tunneled TCP or UDP probe and feeds the result into a scoring.Window.
package prober

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"github.com/shadowrelay/shadowrelay/pkg/config"
	"github.com/shadowrelay/shadowrelay/pkg/crypto"
	"github.com/shadowrelay/shadowrelay/pkg/registry"
	"github.com/shadowrelay/shadowrelay/pkg/resolver"
	"github.com/shadowrelay/shadowrelay/pkg/scoring"
	"github.com/shadowrelay/shadowrelay/pkg/socks5"
)

var errPacketTooShort = errors.New("prober: reply ciphertext too short")

// Kind selects which transport a Prober exercises.
type Kind int

const (
	KindTCP Kind = iota
	KindUDP
)

func (k Kind) String() string {
	if k == KindTCP {
		return "tcp"
	}
	return "udp"
}

// IntervalSec is the steady-state delay between probes, shared with the
// Balancer's election loop.
const IntervalSec = 6

// Probe destinations and payloads, fixed so every probe exercises the exact
// same request regardless of which upstream server answers it.
const (
	tcpProbeHost = "dl.google.com"
	tcpProbePort = 80
	udpProbeAddr = "8.8.8.8:53"
)

var tcpProbeRequest = []byte("GET /generate_204 HTTP/1.1\r\nHost: dl.google.com\r\nConnection: close\r\nAccept: */*\r\n\r\n")

var udpProbeQuery = []byte{
	0x12, 0x34, 0x01, 0x00, 0x00, 0x01, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x05, 0x62, 0x61, 0x69,
	0x64, 0x75, 0x03, 0x63, 0x6f, 0x6d, 0x00, 0x00,
	0x01, 0x00, 0x01,
}

// Dialer is the narrow contract a Prober needs to reach the upstream
// server's encrypted transport. The association and prober packages share
// it so a probe and a real relay flow open sockets identically.
type Dialer interface {
	DialTCP(ctx context.Context, cfg config.ServerConfig) (net.Conn, error)
	DialUDP(ctx context.Context, cfg config.ServerConfig) (net.Conn, error)
}

// defaultDialer resolves domain-named servers via resolver.Resolver and
// opens a plain TCP/UDP socket to the result. Encrypting whatever is
// subsequently written over that socket is the caller's responsibility
// (pkg/crypto); this dialer only establishes the raw transport.
type defaultDialer struct {
	resolver *resolver.Resolver
}

// NewDefaultDialer builds the default Dialer, resolving domains with r.
func NewDefaultDialer(r *resolver.Resolver) Dialer {
	return &defaultDialer{resolver: r}
}

func (d *defaultDialer) resolveAddr(ctx context.Context, cfg config.ServerConfig) (string, error) {
	if !cfg.IsDomain() {
		return cfg.Addr, nil
	}
	ip, err := d.resolver.Resolve(ctx, cfg.Host)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(ip.String(), itoa(cfg.DomainPort)), nil
}

func (d *defaultDialer) DialTCP(ctx context.Context, cfg config.ServerConfig) (net.Conn, error) {
	addr, err := d.resolveAddr(ctx, cfg)
	if err != nil {
		return nil, err
	}
	var dialer net.Dialer
	return dialer.DialContext(ctx, "tcp", addr)
}

func (d *defaultDialer) DialUDP(ctx context.Context, cfg config.ServerConfig) (net.Conn, error) {
	addr, err := d.resolveAddr(ctx, cfg)
	if err != nil {
		return nil, err
	}
	var dialer net.Dialer
	return dialer.DialContext(ctx, "udp", addr)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Prober periodically exercises one server, pushing outcomes into win and
// publishing the result onto server.
type Prober struct {
	server *registry.Server
	win    *scoring.Window
	kind   Kind
	dialer Dialer
}

// New builds a Prober for one server.
func New(server *registry.Server, kind Kind, dialer Dialer) *Prober {
	return &Prober{server: server, win: scoring.NewWindow(), kind: kind, dialer: dialer}
}

// Window returns the prober's scoring window, for callers (the Balancer's
// election log) that want to report a diagnostic percentile alongside the
// raw score.
func (p *Prober) Window() *scoring.Window { return p.win }

// Run performs an immediate probe, signals startBarrier that it has data,
// waits for its siblings, then loops on IntervalSec until ctx is canceled.
func (p *Prober) Run(ctx context.Context, startBarrier *sync.WaitGroup) {
	p.checkAndUpdate(ctx)

	startBarrier.Done()
	startBarrier.Wait()

	ticker := time.NewTicker(IntervalSec * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkAndUpdate(ctx)
		}
	}
}

func (p *Prober) checkAndUpdate(ctx context.Context) {
	outcome, elapsedMs := p.check(ctx)
	score := p.win.Push(outcome)
	p.server.SetScore(score)
	log.Printf("prober: updated %s server %s score=%d (last probe %dms)", p.kind, p.server, score, elapsedMs)
}

// check performs one bounded probe attempt and classifies its outcome:
// success -> Latency(elapsed), timeout -> Latency(timeout) (still eligible,
// just slow), any other error -> Errored (server considered down for this
// sample).
func (p *Prober) check(ctx context.Context) (scoring.Outcome, uint64) {
	timeoutCtx, cancel := context.WithTimeout(ctx, scoring.TimeoutSec*time.Second)
	defer cancel()

	start := time.Now()
	err := p.probeOnce(timeoutCtx)
	elapsed := time.Since(start)
	elapsedMs := uint64(elapsed.Milliseconds())

	switch {
	case err == nil:
		return scoring.Latency(elapsedMs), elapsedMs
	case timeoutCtx.Err() == context.DeadlineExceeded:
		return scoring.Latency(uint64(scoring.MaxLatencyMs)), uint64(scoring.MaxLatencyMs)
	default:
		return scoring.Errored(), elapsedMs
	}
}

func (p *Prober) probeOnce(ctx context.Context) error {
	if p.kind == KindTCP {
		return p.probeTCP(ctx)
	}
	return p.probeUDP(ctx)
}

// probeTCP tunnels the fixed generate_204 request through the upstream's
// encrypted TCP transport: the destination address and request are framed
// and sealed exactly as relayL2R frames a client datagram, so the upstream
// is expected to decrypt, connect to dl.google.com:80, forward the request,
// and relay the response back encrypted.
func (p *Prober) probeTCP(ctx context.Context) error {
	conn, err := p.dialer.DialTCP(ctx, p.server.Config())
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	dstAddr := socks5.NewDomainAddress(tcpProbeHost, tcpProbePort)
	frame := dstAddr.WriteTo(nil)
	frame = append(frame, tcpProbeRequest...)

	cfg := p.server.Config()
	sealed, err := crypto.EncryptPayload(cfg.Method, cfg.Key, frame)
	if err != nil {
		return err
	}
	if _, err := conn.Write(sealed); err != nil {
		return err
	}

	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	if err != nil {
		return err
	}

	plaintext, ok, err := crypto.DecryptPayload(cfg.Method, cfg.Key, buf[:n])
	if err != nil {
		return err
	}
	if !ok {
		return errPacketTooShort
	}
	if len(plaintext) == 0 {
		return errPacketTooShort
	}
	return nil
}

// probeUDP tunnels the fixed DNS query through the upstream's encrypted UDP
// transport, the same address||payload framing association.Association uses for
// real client flows: the upstream is expected to decrypt, forward to
// 8.8.8.8:53, and relay the reply back encrypted.
//
// probeTCP above mirrors this exact address-frame-then-encrypt shape over a
// TCP socket instead of UDP.
func (p *Prober) probeUDP(ctx context.Context) error {
	conn, err := p.dialer.DialUDP(ctx, p.server.Config())
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	dnsServerIP, _, err := net.SplitHostPort(udpProbeAddr)
	if err != nil {
		return err
	}
	dstAddr := socks5.NewIPAddress(net.ParseIP(dnsServerIP), 53)

	frame := dstAddr.WriteTo(nil)
	frame = append(frame, udpProbeQuery...)

	cfg := p.server.Config()
	sealed, err := crypto.EncryptPayload(cfg.Method, cfg.Key, frame)
	if err != nil {
		return err
	}
	if _, err := conn.Write(sealed); err != nil {
		return err
	}

	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	if err != nil {
		return err
	}

	plaintext, ok, err := crypto.DecryptPayload(cfg.Method, cfg.Key, buf[:n])
	if err != nil {
		return err
	}
	if !ok {
		return errPacketTooShort
	}
	_ = plaintext
	return nil
}
