// Package config loads the local endpoint's configuration: the pool of
// upstream servers, the local bind address, and the idle timeout applied to
// UDP associations.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultTimeout is the product-wide default association idle timeout,
// used whenever a config file omits udp_timeout.
const DefaultTimeout = 5 * time.Minute

// ServerConfig describes one upstream Shadowsocks-compatible server.
type ServerConfig struct {
	// Addr is either "host:port" (resolved immediately, treated as a
	// literal address) or a bare domain in Host with Port set separately
	// when DomainPort != 0. Config files name hosts plainly; IsDomain
	// reports which case applies.
	Addr       string `toml:"addr"`
	Host       string `toml:"host"`
	DomainPort int    `toml:"port"`
	Method     string `toml:"method"`
	Key        string `toml:"key"`
}

// IsDomain reports whether this server is addressed by domain name rather
// than a literal socket address.
func (s ServerConfig) IsDomain() bool { return s.Addr == "" && s.Host != "" }

// Config is the top-level configuration for the local endpoint.
type Config struct {
	LocalAddr  string         `toml:"local_addr"`
	UDPTimeout duration       `toml:"udp_timeout"`
	Servers    []ServerConfig `toml:"server"`
	ProbeKind  string         `toml:"probe_kind"` // "tcp" or "udp"
	AdminAddr  string         `toml:"admin_addr"`
}

// duration lets TOML files write udp_timeout as "30s", "5m", etc.
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", text, err)
	}
	*d = duration(parsed)
	return nil
}

// Timeout returns the configured UDP idle timeout, or DefaultTimeout if
// unset.
func (c Config) Timeout() time.Duration {
	if c.UDPTimeout == 0 {
		return DefaultTimeout
	}
	return time.Duration(c.UDPTimeout)
}

// Load reads and decodes a TOML config file at path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("config: no upstream servers configured")
	}
	if cfg.LocalAddr == "" {
		cfg.LocalAddr = "127.0.0.1:1080"
	}
	return &cfg, nil
}

// LoadFromEnv loads the TOML config file named by the SHADOWRELAY_CONFIG
// environment variable, used by cmd/shadowrelay when no -config flag is
// given. It fails if the variable is unset.
func LoadFromEnv() (*Config, error) {
	path := os.Getenv("SHADOWRELAY_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("config: SHADOWRELAY_CONFIG not set and no -config flag given")
	}
	return Load(path)
}
