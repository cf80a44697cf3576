// Package socket wraps the UDP endpoint the Receiver polls. It replaces
// the original design's poll(2)-then-non-blocking-recvfrom loop with the
// Go idiom of a fixed read deadline plus a blocking read: SetReadDeadline
// followed by ReadFrom naturally yields "no datagram within this window"
// as an ordinary timeout error instead of a separate poll step.
package socket

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/opd-ai/rtpflow/internal/logging"
)

// PollTimeout bounds how long one ReadFrom call blocks before returning
// a timeout Result, mirroring the 100ms poll() timeout of the original
// receiver loop.
const PollTimeout = 100 * time.Millisecond

// Result tags the outcome of one RecvFrom call.
type Result int

const (
	// Ready means n bytes were read into the caller's buffer.
	Ready Result = iota
	// TimedOut means no datagram arrived within PollTimeout; the
	// receiver loop should simply poll again.
	TimedOut
	// Closed means the underlying connection was closed.
	Closed
	// Failed means a read error occurred that the receiver should treat
	// as fatal.
	Failed
)

// Endpoint wraps a net.PacketConn with the fixed-deadline read pattern
// used by the receiver loop.
type Endpoint struct {
	conn net.PacketConn
	log  *logging.Helper
}

// Listen opens a UDP endpoint on addr (host:port, or ":0" for an
// ephemeral port).
func Listen(addr string) (*Endpoint, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("socket: listen %s: %w", addr, err)
	}
	return &Endpoint{conn: conn, log: logging.New("socket")}, nil
}

// Wrap adapts an already-open net.PacketConn (e.g. from net.ListenUDP, or
// a test fake) into an Endpoint.
func Wrap(conn net.PacketConn) *Endpoint {
	return &Endpoint{conn: conn, log: logging.New("socket")}
}

// LocalAddr returns the endpoint's bound address.
func (e *Endpoint) LocalAddr() net.Addr {
	return e.conn.LocalAddr()
}

// RecvFrom blocks for up to PollTimeout waiting for one datagram. On
// Ready, n and addr describe what was read into buf.
func (e *Endpoint) RecvFrom(buf []byte) (n int, addr net.Addr, result Result) {
	if err := e.conn.SetReadDeadline(time.Now().Add(PollTimeout)); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return 0, nil, Closed
		}
		e.log.WithError(err).Warn("failed to set read deadline")
		return 0, nil, Failed
	}

	n, addr, err := e.conn.ReadFrom(buf)
	if err == nil {
		return n, addr, Ready
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return 0, nil, TimedOut
	}
	if errors.Is(err, net.ErrClosed) {
		return 0, nil, Closed
	}

	e.log.WithError(err).Warn("read error")
	return 0, nil, Failed
}

// SendTo writes a datagram to addr.
func (e *Endpoint) SendTo(buf []byte, addr net.Addr) (int, error) {
	n, err := e.conn.WriteTo(buf, addr)
	if err != nil {
		return n, fmt.Errorf("socket: write: %w", err)
	}
	return n, nil
}

// Close shuts the endpoint down. Subsequent RecvFrom calls return Closed.
func (e *Endpoint) Close() error {
	return e.conn.Close()
}
