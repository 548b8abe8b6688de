// Package association implements the per-client-flow UDP relay: one
// Association pairs a client's source address with a dedicated outbound
// socket to the currently-elected upstream server, relaying datagrams in
// both directions under the server's AEAD cipher.
package association

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/shadowrelay/shadowrelay/pkg/crypto"
	"github.com/shadowrelay/shadowrelay/pkg/metrics"
	"github.com/shadowrelay/shadowrelay/pkg/prober"
	"github.com/shadowrelay/shadowrelay/pkg/registry"
	"github.com/shadowrelay/shadowrelay/pkg/scoring"
	"github.com/shadowrelay/shadowrelay/pkg/socks5"
)

// outboundQueueCap bounds the backlog of client-to-server datagrams an
// Association will buffer before Send blocks the caller.
const outboundQueueCap = 1024

// maxUDPPayloadSize bounds a single reply datagram read from the upstream;
// anything larger is truncated by the transport itself.
const maxUDPPayloadSize = 64 * 1024

// ReplyPacket is one server-to-client datagram ready to be written back to
// the local UDP socket the client originally sent from.
type ReplyPacket struct {
	Dst  netip.AddrPort
	Data []byte
}

// Association relays UDP datagrams between one client flow and the
// upstream server elected for it at construction time. The server binding
// does not change mid-flow: it is fixed at construction, not re-resolved on
// every packet.
type Association struct {
	server  *registry.Server
	src     netip.AddrPort
	conn    net.Conn
	replyTx chan<- ReplyPacket

	outbound chan []byte
	live     chan struct{}
	closeOnce sync.Once
}

// Associate binds a fresh outbound UDP socket to server and starts the
// L→R and R→L relay goroutines. The caller is responsible for inserting
// the returned Association into the Table and calling Close when it is
// evicted.
func Associate(ctx context.Context, server *registry.Server, src netip.AddrPort, replyTx chan<- ReplyPacket, dialer prober.Dialer) (*Association, error) {
	conn, err := dialer.DialUDP(ctx, server.Config())
	if err != nil {
		return nil, err
	}

	a := &Association{
		server:   server,
		src:      src,
		conn:     conn,
		replyTx:  replyTx,
		outbound: make(chan []byte, outboundQueueCap),
		live:     make(chan struct{}),
	}

	go a.runL2R()
	go a.runR2L()

	return a, nil
}

// Send enqueues a client-originated datagram for relay to the upstream.
// It blocks if the outbound queue is full, propagating back-pressure to
// the caller rather than dropping the datagram.
func (a *Association) Send(pkt []byte) {
	select {
	case a.outbound <- pkt:
	case <-a.live:
	}
}

// Close releases the association's liveness signal and closes its socket,
// unblocking both relay goroutines. Safe to call more than once.
func (a *Association) Close() {
	a.closeOnce.Do(func() {
		close(a.live)
		_ = a.conn.Close()
	})
}

func (a *Association) runL2R() {
	for {
		select {
		case <-a.live:
			return
		case pkt := <-a.outbound:
			if err := a.relayL2R(pkt); err != nil {
				metrics.PacketsDroppedTotal.WithLabelValues(dropReason(err)).Inc()
				log.Printf("association: l2r %s->%s: %v", a.src, a.server, err)
			}
		}
	}
}

// relayL2R parses a client datagram as UdpAssociateHeader + payload,
// re-frames it as address||payload, encrypts it under the server's cipher,
// and forwards it over the association's outbound socket.
func (a *Association) relayL2R(pkt []byte) error {
	header, payload, err := socks5.ReadUDPHeader(pkt)
	if err != nil {
		return err
	}

	frame := header.Addr.WriteTo(make([]byte, 0, len(payload)+32))
	frame = append(frame, payload...)

	cfg := a.server.Config()
	sealed, err := crypto.EncryptPayload(cfg.Method, cfg.Key, frame)
	if err != nil {
		return err
	}

	_ = a.conn.SetWriteDeadline(time.Now().Add(scoring.TimeoutSec * time.Second))
	_, err = a.conn.Write(sealed)
	return err
}

// runR2L loops receiving reply datagrams until the socket itself fails or
// the association is closed. A single corrupt or undersized reply (bad
// decrypt, short ciphertext, malformed address prefix) is logged and
// swallowed — it never tears down the association, only a genuine read
// error on the underlying socket does.
func (a *Association) runR2L() {
	for {
		err := a.relayR2L()
		if err == nil {
			continue
		}

		select {
		case <-a.live:
			return
		default:
		}

		metrics.PacketsDroppedTotal.WithLabelValues(dropReason(err)).Inc()
		log.Printf("association: r2l %s<-%s: %v", a.src, a.server, err)

		var sockErr *socketReadError
		if errors.As(err, &sockErr) {
			return
		}
	}
}

// relayR2L receives one reply datagram from the upstream, decrypts it,
// discards its leading address (the client already knows its peer), and
// enqueues a client-bound datagram on the shared reply channel.
func (a *Association) relayR2L() error {
	buf := make([]byte, maxUDPPayloadSize)
	n, err := a.conn.Read(buf)
	if err != nil {
		return &socketReadError{err}
	}

	cfg := a.server.Config()
	plaintext, ok, err := crypto.DecryptPayload(cfg.Method, cfg.Key, buf[:n])
	if err != nil {
		return err
	}
	if !ok {
		return ErrPacketTooShort
	}

	_, rest, err := readAddressPrefix(plaintext)
	if err != nil {
		return err
	}

	header := socks5.UDPHeader{Frag: 0, Addr: socks5.NewAddrPortAddress(a.src)}
	datagram := header.WriteTo(make([]byte, 0, len(rest)+32))
	datagram = append(datagram, rest...)

	select {
	case a.replyTx <- ReplyPacket{Dst: a.src, Data: datagram}:
	case <-a.live:
	}
	return nil
}

func readAddressPrefix(plaintext []byte) (socks5.Address, []byte, error) {
	r := bytes.NewReader(plaintext)
	addr, err := socks5.ReadAddress(r)
	if err != nil {
		return socks5.Address{}, nil, err
	}
	rest := make([]byte, r.Len())
	_, _ = r.Read(rest)
	return addr, rest, nil
}
