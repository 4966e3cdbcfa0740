package sensors

import (
	"context"
	"net"
	"time"
)

const (
	DefaultPingTarget  = "8.8.8.8:53"
	DefaultPingTimeout = 400 * time.Millisecond
)

// TCPPinger times a TCP handshake to a well known host. It needs no raw
// socket privileges, unlike ICMP.
type TCPPinger struct {
	Target  string
	Timeout time.Duration
}

func NewTCPPinger(target string, timeout time.Duration) *TCPPinger {
	if target == "" {
		target = DefaultPingTarget
	}
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}

	return &TCPPinger{Target: target, Timeout: timeout}
}

func (p *TCPPinger) Ping(ctx context.Context) float32 {
	dialer := net.Dialer{Timeout: p.Timeout}

	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", p.Target)
	if err != nil {
		return 0
	}
	elapsed := time.Since(start)
	_ = conn.Close()

	ms := float32(elapsed.Microseconds()) / 1000
	if ms <= 0 {
		// A successful handshake always counts as a measurement.
		ms = 0.001
	}

	return ms
}
