package socks5

import (
	"bytes"
	"net"
	"testing"
)

func TestUDPHeaderRoundTrip(t *testing.T) {
	addr := NewIPAddress(net.IPv4(192, 168, 1, 7), 9000)
	h := UDPHeader{Frag: 0, Addr: addr}

	var buf []byte
	buf = h.WriteTo(buf)
	buf = append(buf, []byte("payload")...)

	gotHeader, payload, err := ReadUDPHeader(buf)
	if err != nil {
		t.Fatalf("ReadUDPHeader() error = %v", err)
	}
	if gotHeader.Frag != 0 {
		t.Errorf("Frag = %d, want 0", gotHeader.Frag)
	}
	if gotHeader.Addr.Port != 9000 {
		t.Errorf("Port = %d, want 9000", gotHeader.Addr.Port)
	}
	if !bytes.Equal(payload, []byte("payload")) {
		t.Errorf("payload = %q, want %q", payload, "payload")
	}
}

func TestUDPHeaderRejectsFragmentation(t *testing.T) {
	addr := NewDomainAddress("example.com", 53)
	h := UDPHeader{Frag: 1, Addr: addr}

	var buf []byte
	buf = h.WriteTo(buf)
	buf = append(buf, []byte("x")...)

	_, _, err := ReadUDPHeader(buf)
	if err != ErrUnsupportedFragmentation {
		t.Fatalf("ReadUDPHeader() error = %v, want ErrUnsupportedFragmentation", err)
	}
}

func TestDomainAddressRoundTrip(t *testing.T) {
	addr := NewDomainAddress("dl.google.com", 80)
	buf := addr.WriteTo(nil)

	got, err := ReadAddress(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("ReadAddress() error = %v", err)
	}
	if got.Domain != "dl.google.com" || got.Port != 80 {
		t.Errorf("got %+v, want domain=dl.google.com port=80", got)
	}
}
