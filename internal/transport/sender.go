package transport

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/hwtelemetry/internal/errors"
	"codeberg.org/mutker/hwtelemetry/internal/logger"
	"codeberg.org/mutker/hwtelemetry/internal/protocol"
	"codeberg.org/mutker/hwtelemetry/internal/telemetry"
)

const (
	ModeBroadcast = "broadcast"
	ModeUnicast   = "unicast"

	DefaultPort     = 5005
	DefaultInterval = 500 * time.Millisecond
)

var limitedBroadcast = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// Collector produces the record for one cycle.
type Collector interface {
	Collect(ctx context.Context) telemetry.Record
}

type SenderConfig struct {
	Mode     string
	DestIP   string
	Port     int
	Interval time.Duration
	BindIP   string
}

// Sender periodically collects, encodes and sends one datagram per cycle.
type Sender struct {
	cfg       SenderConfig
	collector Collector
	conn      net.PacketConn
	dest      *net.UDPAddr

	sent   atomic.Uint64
	failed atomic.Uint64
}

// NewSender binds the outgoing socket. A bind failure is returned since the
// sender cannot do anything useful without one.
func NewSender(ctx context.Context, cfg SenderConfig, collector Collector) (*Sender, error) {
	errFactory := errors.New()

	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	dest, err := resolveDestination(cfg)
	if err != nil {
		return nil, err
	}

	lc := net.ListenConfig{Control: broadcastControl}
	conn, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort(cfg.BindIP, "0"))
	if err != nil {
		return nil, errFactory.Wrap(ErrBind, err)
	}

	logger.Info().
		Str("mode", cfg.Mode).
		Str("dest", dest.String()).
		Str("local", conn.LocalAddr().String()).
		Dur("interval", cfg.Interval).
		Msg("Sender ready")

	return &Sender{
		cfg:       cfg,
		collector: collector,
		conn:      conn,
		dest:      dest,
	}, nil
}

func resolveDestination(cfg SenderConfig) (*net.UDPAddr, error) {
	errFactory := errors.New()

	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, errFactory.WithData(ErrInvalidDestination, "port "+strconv.Itoa(cfg.Port))
	}

	var ip netip.Addr
	switch cfg.Mode {
	case ModeBroadcast, "":
		ip = limitedBroadcast
		if cfg.DestIP != "" {
			parsed, err := netip.ParseAddr(cfg.DestIP)
			if err != nil {
				return nil, errFactory.Wrap(ErrInvalidDestination, err)
			}
			ip = parsed
		}
	case ModeUnicast:
		parsed, err := netip.ParseAddr(cfg.DestIP)
		if err != nil {
			return nil, errFactory.Wrap(ErrInvalidDestination, err)
		}
		ip = parsed
	default:
		return nil, errFactory.WithData(ErrInvalidDestination, "mode "+cfg.Mode)
	}

	return net.UDPAddrFromAddrPort(netip.AddrPortFrom(ip.Unmap(), uint16(cfg.Port))), nil
}

// Run sends until ctx is cancelled. Each cycle sleeps for whatever is left
// of the interval; an overrunning cycle is followed immediately by the next
// one without catching up on missed cycles.
func (s *Sender) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Uint64("sent", s.sent.Load()).Uint64("failed", s.failed.Load()).Msg("Sender stopped")
			return nil
		case <-timer.C:
		}

		start := time.Now()
		if err := s.SendOnce(ctx); err != nil {
			s.failed.Add(1)
			logger.Warn().Err(err).Msg("Telemetry send failed")
		}

		timer.Reset(max(s.cfg.Interval-time.Since(start), 0))
	}
}

// SendOnce collects and sends a single record.
func (s *Sender) SendOnce(ctx context.Context) error {
	errFactory := errors.New()

	rec := s.collector.Collect(ctx)

	frame, err := protocol.Encode(rec)
	if err != nil {
		return err
	}
	if len(frame) > protocol.MaxDatagramSize {
		return errFactory.WithData(ErrFrameTooLarge, len(frame))
	}

	if _, err := s.conn.WriteTo(frame, s.dest); err != nil {
		return errFactory.Wrap(ErrSend, err)
	}
	s.sent.Add(1)

	logger.Debug().Int("bytes", len(frame)).Str("dest", s.dest.String()).Msg("Frame sent")

	return nil
}

// Destination is where datagrams are sent.
func (s *Sender) Destination() *net.UDPAddr {
	return s.dest
}

func (s *Sender) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Sent returns how many datagrams were handed to the network.
func (s *Sender) Sent() uint64 {
	return s.sent.Load()
}

func (s *Sender) Close() error {
	return s.conn.Close()
}
