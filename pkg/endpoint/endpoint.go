// Package endpoint implements the client-facing UDP listener: it accepts
// datagrams from local applications, multiplexes them onto per-flow
// Associations, and drains replies back to the clients that are waiting
// for them.
package endpoint

import (
	"context"
	"errors"
	"log"
	"net"
	"net/netip"
	"time"

	"github.com/shadowrelay/shadowrelay/pkg/association"
	"github.com/shadowrelay/shadowrelay/pkg/balancer"
	"github.com/shadowrelay/shadowrelay/pkg/config"
	"github.com/shadowrelay/shadowrelay/pkg/prober"
)

// replyQueueCap bounds the shared channel the reply drainer consumes;
// every Association's R→L task is a producer onto it.
const replyQueueCap = 1024

// Endpoint is the local UDP listener multiplexing client flows over the
// Balancer's elected upstream.
type Endpoint struct {
	conn       *net.UDPConn
	table      *association.Table
	bal        *balancer.Balancer
	dialer     prober.Dialer
	udpTimeout time.Duration
	replyTx    chan association.ReplyPacket
}

// New binds the client-facing UDP socket at cfg.LocalAddr and wires it to
// bal. The Balancer must already have completed construction (New returns
// only after its first election pass).
func New(cfg *config.Config, bal *balancer.Balancer, dialer prober.Dialer) (*Endpoint, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", cfg.LocalAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}

	return &Endpoint{
		conn:       conn,
		table:      association.NewTable(cfg.Timeout()),
		bal:        bal,
		dialer:     dialer,
		udpTimeout: cfg.Timeout(),
		replyTx:    make(chan association.ReplyPacket, replyQueueCap),
	}, nil
}

// Close releases the listening socket.
func (e *Endpoint) Close() error { return e.conn.Close() }

// Run spawns the reply drainer and runs the main receive loop until ctx is
// canceled or the listening socket fails. A listening-socket failure is
// the endpoint's only fatal outcome; every per-flow error is logged and
// swallowed.
func (e *Endpoint) Run(ctx context.Context) error {
	go e.drainReplies()
	return e.recvLoop(ctx)
}

// drainReplies writes relayed replies back to the client socket, first
// confirming the destination association is still live so that replies
// for abandoned flows never leak and never resurrect an evicted entry.
func (e *Endpoint) drainReplies() {
	for pkt := range e.replyTx {
		if _, existed := e.table.Entry(pkt.Dst.String()); !existed {
			continue
		}
		udpAddr := net.UDPAddrFromAddrPort(pkt.Dst)
		if _, err := e.conn.WriteToUDP(pkt.Data, udpAddr); err != nil {
			log.Printf("endpoint: reply write failed, stopping drainer: %v", err)
			return
		}
	}
}

func (e *Endpoint) recvLoop(ctx context.Context) error {
	buf := make([]byte, 64*1024)

	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := e.conn.SetReadDeadline(deadlineFrom(e.udpTimeout)); err != nil {
			return err
		}

		n, raddr, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				e.table.Iter(func(string, *association.Association) {})
				continue
			}
			return err
		}

		if n == 0 {
			continue
		}

		src := raddr.AddrPort()
		e.dispatch(ctx, src, append([]byte(nil), buf[:n]...))
	}
}

// dispatch looks up or creates the Association for src and enqueues pkt on
// it. Creation binds the flow to whatever server the Balancer currently
// elects; that choice does not change for the flow's lifetime.
func (e *Endpoint) dispatch(ctx context.Context, src netip.AddrPort, pkt []byte) {
	key := src.String()

	assoc, existed := e.table.Entry(key)
	if !existed {
		server := e.bal.PickServer()
		a, err := association.Associate(ctx, server, src, e.replyTx, e.dialer)
		if err != nil {
			log.Printf("endpoint: failed to associate %s via %s: %v", src, server, err)
			return
		}
		e.table.Insert(key, a)
		assoc = a
	}

	assoc.Send(pkt)
}
