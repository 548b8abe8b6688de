// Package socks5 implements the address and UDP-associate framing used by
// the client-facing and upstream protocols (RFC 1928 §5, §7).
package socks5

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
)

// Address type tags (ATYP), same wire values as RFC 1928.
const (
	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04
)

// ErrUnsupportedAddressType is returned when a decoded ATYP byte is not one
// of the three defined types.
var ErrUnsupportedAddressType = errors.New("socks5: unsupported address type")

// Address is a SOCKS5 destination: an IPv4 address, an IPv6 address, or a
// domain name plus port. Exactly one of Domain or IP is meaningful,
// discriminated by atyp.
type Address struct {
	IP     net.IP // set when atyp is ipv4 or ipv6
	Domain string // set when atyp is domain
	Port   uint16
	atyp   byte
}

// NewIPAddress builds an Address from a net.IP (4 or 16 bytes) and port.
func NewIPAddress(ip net.IP, port uint16) Address {
	a := Address{IP: ip, Port: port}
	if ip4 := ip.To4(); ip4 != nil {
		a.IP = ip4
		a.atyp = atypIPv4
	} else {
		a.atyp = atypIPv6
	}
	return a
}

// NewDomainAddress builds a domain-name Address.
func NewDomainAddress(host string, port uint16) Address {
	return Address{Domain: host, Port: port, atyp: atypDomain}
}

// NewAddrPortAddress builds an Address from a netip.AddrPort, used when
// framing a client-bound reply around the client's own source address.
func NewAddrPortAddress(ap netip.AddrPort) Address {
	addr := ap.Addr()
	if addr.Is4() || addr.Is4In6() {
		a4 := addr.As4()
		return NewIPAddress(net.IP(a4[:]), ap.Port())
	}
	a16 := addr.As16()
	return NewIPAddress(net.IP(a16[:]), ap.Port())
}

// IsDomain reports whether the address carries a domain name rather than a
// literal IP.
func (a Address) IsDomain() bool { return a.atyp == atypDomain }

// String renders the address the way log lines expect it: host:port.
func (a Address) String() string {
	if a.IsDomain() {
		return fmt.Sprintf("%s:%d", a.Domain, a.Port)
	}
	return net.JoinHostPort(a.IP.String(), fmt.Sprint(a.Port))
}

// UDPAddr resolves the Address to a *net.UDPAddr. It only succeeds for
// literal IP addresses; domain names must go through pkg/resolver first.
func (a Address) UDPAddr() (*net.UDPAddr, error) {
	if a.IsDomain() {
		return nil, fmt.Errorf("socks5: cannot convert domain address %q directly, resolve first", a.Domain)
	}
	return &net.UDPAddr{IP: a.IP, Port: int(a.Port)}, nil
}

// AddrPort mirrors UDPAddr but returns a netip.AddrPort.
func (a Address) AddrPort() (netip.AddrPort, error) {
	udp, err := a.UDPAddr()
	if err != nil {
		return netip.AddrPort{}, err
	}
	ip, ok := netip.AddrFromSlice(udp.IP)
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("socks5: invalid IP %v", udp.IP)
	}
	return netip.AddrPortFrom(ip.Unmap(), uint16(udp.Port)), nil
}

// WriteTo appends the wire encoding of the address (ATYP + ADDR + PORT) to
// buf, returning the extended slice.
func (a Address) WriteTo(buf []byte) []byte {
	switch a.atyp {
	case atypIPv4:
		buf = append(buf, atypIPv4)
		ip4 := a.IP.To4()
		buf = append(buf, ip4...)
	case atypIPv6:
		buf = append(buf, atypIPv6)
		ip16 := a.IP.To16()
		buf = append(buf, ip16...)
	case atypDomain:
		buf = append(buf, atypDomain, byte(len(a.Domain)))
		buf = append(buf, a.Domain...)
	default:
		// Zero-value Address; treat as IPv4 0.0.0.0 to avoid emitting a
		// malformed frame.
		buf = append(buf, atypIPv4, 0, 0, 0, 0)
	}
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], a.Port)
	return append(buf, portBuf[:]...)
}

// ReadAddress decodes one ATYP + ADDR + PORT sequence from r.
func ReadAddress(r io.Reader) (Address, error) {
	var atyp [1]byte
	if _, err := io.ReadFull(r, atyp[:]); err != nil {
		return Address{}, err
	}

	var a Address
	a.atyp = atyp[0]
	switch a.atyp {
	case atypIPv4:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Address{}, err
		}
		a.IP = net.IP(b[:])
	case atypIPv6:
		var b [16]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Address{}, err
		}
		a.IP = net.IP(b[:])
	case atypDomain:
		var l [1]byte
		if _, err := io.ReadFull(r, l[:]); err != nil {
			return Address{}, err
		}
		domain := make([]byte, l[0])
		if _, err := io.ReadFull(r, domain); err != nil {
			return Address{}, err
		}
		a.Domain = string(domain)
	default:
		return Address{}, ErrUnsupportedAddressType
	}

	var portBuf [2]byte
	if _, err := io.ReadFull(r, portBuf[:]); err != nil {
		return Address{}, err
	}
	a.Port = binary.BigEndian.Uint16(portBuf[:])
	return a, nil
}
