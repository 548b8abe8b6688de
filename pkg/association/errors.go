package association

import (
	"errors"

	"github.com/shadowrelay/shadowrelay/pkg/socks5"
)

// ErrPacketTooShort is returned by relayR2L when the upstream's reply
// ciphertext is shorter than the configured cipher's minimum overhead.
var ErrPacketTooShort = errors.New("association: reply ciphertext too short")

// socketReadError wraps a failure reading from the association's own UDP
// socket, distinguishing it from a corrupt-but-otherwise-live upstream
// reply: socketReadError is the only relayR2L failure that tears down the
// R→L task, so a single bad decrypt or malformed frame never ends the
// association.
type socketReadError struct {
	err error
}

func (e *socketReadError) Error() string { return e.err.Error() }
func (e *socketReadError) Unwrap() error { return e.err }

// dropReason classifies an association-layer error for the
// shadowrelay_packets_dropped_total metric.
func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrPacketTooShort):
		return "packet_too_short"
	case errors.Is(err, socks5.ErrUnsupportedFragmentation):
		return "unsupported_fragmentation"
	default:
		var sockErr *socketReadError
		if errors.As(err, &sockErr) {
			return "socket_read"
		}
		return "decrypt_or_parse"
	}
}
