// Package resolver implements DNS resolution of upstream server domain
// names, consumed wherever a config.ServerConfig is addressed by name rather
// than literal IP.
package resolver

import (
	"context"
	"fmt"
	"net"

	"github.com/miekg/dns"
)

// DefaultServer is used when the system resolver configuration cannot be
// read (e.g. no /etc/resolv.conf), and happens to be the same address the
// UDP prober itself probes against.
const DefaultServer = "8.8.8.8:53"

// Resolver resolves domain names to IP addresses via a configured upstream
// DNS server, holding a single shared *dns.Client for the lifetime of the
// process rather than dialing a fresh one per lookup.
type Resolver struct {
	client *dns.Client
	server string
}

// New builds a Resolver. If server is empty, the system's resolv.conf is
// consulted, falling back to DefaultServer.
func New(server string) *Resolver {
	if server == "" {
		server = systemResolver()
	}
	return &Resolver{client: new(dns.Client), server: server}
}

func systemResolver() string {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cfg.Servers) == 0 {
		return DefaultServer
	}
	return net.JoinHostPort(cfg.Servers[0], cfg.Port)
}

// Resolve looks up the first A record for host. Only IPv4 is resolved; AAAA
// records are never queried.
func (r *Resolver) Resolve(ctx context.Context, host string) (net.IP, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)

	resp, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		return nil, fmt.Errorf("resolver: exchange %s: %w", host, err)
	}
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			return a.A, nil
		}
	}
	return nil, fmt.Errorf("resolver: no A record for %q", host)
}
