// Package registry holds the fixed set of upstream servers a Balancer
// chooses among, publishing each server's score lock-free.
package registry

import (
	"sync/atomic"

	"github.com/shadowrelay/shadowrelay/pkg/config"
)

// Server pairs an immutable upstream config with an atomically published
// score. The config never changes after construction; only the score
// mutates, via SetScore from the Prober that owns this server.
type Server struct {
	cfg   config.ServerConfig
	score atomic.Uint64
}

// New wraps a ServerConfig in a Server with an initial score of 0.
func New(cfg config.ServerConfig) *Server {
	return &Server{cfg: cfg}
}

// Config returns the server's immutable configuration.
func (s *Server) Config() config.ServerConfig { return s.cfg }

// Score reads the current score with acquire semantics.
func (s *Server) Score() uint64 { return s.score.Load() }

// SetScore publishes a new score with release semantics.
func (s *Server) SetScore(v uint64) { s.score.Store(v) }

// String identifies the server for log lines, preferring the literal
// address and falling back to the domain form.
func (s *Server) String() string {
	if s.cfg.IsDomain() {
		return s.cfg.Host
	}
	return s.cfg.Addr
}
