// Package ingress polls an external packet source and hands raw
// datagrams to the PacketRing, the producer side of spec.md §4.7's
// ingress/emitter split.
package ingress

import (
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/doismellburning/osc2dmx/internal/ring"
)

// pollTimeout bounds each PacketSource.ReadPacket call so the ingress
// loop can observe the stop flag promptly, per spec.md §4.7's "~1 ms".
const pollTimeout = time.Millisecond

// maxDatagramSize is large enough for any OSC bundle this bridge is
// expected to receive; UDP datagrams above this are truncated by the
// kernel before ReadPacket ever sees them.
const maxDatagramSize = 4096

// PacketSource is the external transport the IngressLoop polls.
// ReadPacket blocks for at most timeout and returns the datagram
// received, if any.
type PacketSource interface {
	// ReadPacket waits up to timeout for one datagram. ok is false on
	// a plain timeout (not an error); err is non-nil only on a genuine
	// transport failure, which the caller logs and continues past.
	ReadPacket(timeout time.Duration) (data []byte, ok bool, err error)

	Close() error
}

// UDPSource is the default PacketSource: OSC-over-UDP, per spec.md §6
// (`osc.udp://:6666`).
type UDPSource struct {
	conn *net.UDPConn
	buf  [maxDatagramSize]byte
}

// ListenUDP opens a UDP socket on addr (e.g. ":6666").
func ListenUDP(addr string) (*UDPSource, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}

	return &UDPSource{conn: conn}, nil
}

// ReadPacket implements PacketSource.
func (s *UDPSource) ReadPacket(timeout time.Duration) ([]byte, bool, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, false, err
	}

	n, _, err := s.conn.ReadFromUDP(s.buf[:])
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, false, nil
		}

		return nil, false, err
	}

	return s.buf[:n], true, nil
}

// Close implements PacketSource.
func (s *UDPSource) Close() error {
	return s.conn.Close()
}

// LocalAddr reports the socket's bound address, useful when ListenUDP
// was given port 0 and the caller needs to find out what was assigned.
func (s *UDPSource) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Loop repeatedly polls source and copies arrived datagrams into r,
// until stop is set. It runs on the calling goroutine (spec.md §4.8
// has the Supervisor run it directly rather than spawning a separate
// goroutine for it).
type Loop struct {
	source PacketSource
	ring   *ring.Ring
	logger *log.Logger
}

// New returns a Loop reading from source and writing into r.
func New(source PacketSource, r *ring.Ring, logger *log.Logger) *Loop {
	return &Loop{source: source, ring: r, logger: logger}
}

// Run blocks until stop.Load() is true, polling the source and
// forwarding datagrams to the ring.
func (l *Loop) Run(stop *atomic.Bool) {
	for !stop.Load() {
		data, ok, err := l.source.ReadPacket(pollTimeout)
		if err != nil {
			l.logger.Warn("ingress: transport error", "err", err)
			continue
		}

		if !ok {
			continue
		}

		l.forward(data)
	}
}

func (l *Loop) forward(data []byte) {
	buf, ok := l.ring.WriteRequest(len(data))
	if !ok {
		l.logger.Warn("ingress: ring full, dropping datagram", "bytes", len(data))
		return
	}

	copy(buf, data)
	l.ring.WriteCommit(len(data))
}
