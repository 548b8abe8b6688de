package socks5

import (
	"bytes"
	"errors"
	"io"
)

// ErrUnsupportedFragmentation is returned when a client's UDP-associate
// header carries a nonzero FRAG field. Shadowsocks does not reassemble
// fragmented datagrams.
var ErrUnsupportedFragmentation = errors.New("socks5: unsupported UDP fragmentation")

// UDPHeader is the RFC 1928 §7 UDP request header: RSV(2) + FRAG(1) + ATYP +
// DST.ADDR + DST.PORT. RSV is always zero on the wire and is not modeled
// here.
type UDPHeader struct {
	Frag byte
	Addr Address
}

// ReadUDPHeader decodes a UDPHeader from the front of pkt, returning the
// header and the remaining payload bytes.
func ReadUDPHeader(pkt []byte) (UDPHeader, []byte, error) {
	r := bytes.NewReader(pkt)

	var rsvFrag [3]byte
	if _, err := io.ReadFull(r, rsvFrag[:]); err != nil {
		return UDPHeader{}, nil, err
	}

	addr, err := ReadAddress(r)
	if err != nil {
		return UDPHeader{}, nil, err
	}

	h := UDPHeader{Frag: rsvFrag[2], Addr: addr}
	if h.Frag != 0 {
		return h, nil, ErrUnsupportedFragmentation
	}

	payload := make([]byte, r.Len())
	_, _ = io.ReadFull(r, payload)
	return h, payload, nil
}

// WriteTo appends the wire encoding of the header (RSV + FRAG + ADDR) to buf.
func (h UDPHeader) WriteTo(buf []byte) []byte {
	buf = append(buf, 0x00, 0x00, h.Frag)
	return h.Addr.WriteTo(buf)
}
