package transport

import (
	"context"
	"net"
	"net/netip"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/hwtelemetry/internal/errors"
	"codeberg.org/mutker/hwtelemetry/internal/logger"
	"codeberg.org/mutker/hwtelemetry/internal/protocol"
	"codeberg.org/mutker/hwtelemetry/internal/telemetry"
	"golang.org/x/time/rate"
)

const (
	// DefaultQueueSize absorbs a few seconds of consumer stall at the default
	// send interval without adding noticeable latency.
	DefaultQueueSize = 64

	DefaultReadTimeout = time.Second
	DefaultBindRetry   = 2 * time.Second
)

// Message is one decoded datagram.
type Message struct {
	Record telemetry.Record
	Source netip.AddrPort
	Size   int
}

type ReceiverConfig struct {
	BindIP string
	Port   int
	// SenderIP, when set, drops datagrams from any other source address.
	SenderIP    string
	ReadTimeout time.Duration
	BindRetry   time.Duration
	QueueSize   int
}

// Stats are cumulative receiver counters.
type Stats struct {
	Received     uint64
	Decoded      uint64
	Filtered     uint64
	Malformed    uint64
	Dropped      uint64
	BindFailures uint64
	// Rebinds counts sockets reopened after a hard read error.
	Rebinds uint64
}

// Receiver reads datagrams and hands decoded records to a single consumer
// through a bounded queue. When the queue is full the newest message is
// dropped; the network loop never blocks on the consumer.
type Receiver struct {
	cfg    ReceiverConfig
	filter netip.Addr
	queue  chan Message

	running atomic.Bool
	conn    atomic.Pointer[net.UDPConn]

	received     atomic.Uint64
	decoded      atomic.Uint64
	filtered     atomic.Uint64
	malformed    atomic.Uint64
	dropped      atomic.Uint64
	bindFailures atomic.Uint64
	rebinds      atomic.Uint64

	dropLog      *rate.Limiter
	malformedLog *rate.Limiter
}

func NewReceiver(cfg ReceiverConfig) (*Receiver, error) {
	errFactory := errors.New()

	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, errFactory.WithData(errors.ErrInvalidArgument, "port "+strconv.Itoa(cfg.Port))
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.BindRetry <= 0 {
		cfg.BindRetry = DefaultBindRetry
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	r := &Receiver{
		cfg:          cfg,
		queue:        make(chan Message, cfg.QueueSize),
		dropLog:      rate.NewLimiter(rate.Every(5*time.Second), 1),
		malformedLog: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}

	if cfg.SenderIP != "" {
		addr, err := netip.ParseAddr(cfg.SenderIP)
		if err != nil {
			return nil, errFactory.Wrap(ErrInvalidFilter, err)
		}
		r.filter = addr.Unmap()
	}

	return r, nil
}

// Messages is the receive side of the queue. It is closed when Run returns.
func (r *Receiver) Messages() <-chan Message {
	return r.queue
}

// Run binds and reads until ctx is cancelled, which is observed at least
// once per read timeout. Bind failures are retried after a fixed backoff, so
// Run only returns an error when called twice.
func (r *Receiver) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return errors.New().New(errors.ErrAlreadyRunning)
	}
	defer close(r.queue)

	buf := make([]byte, protocol.MaxDatagramSize)
	for ctx.Err() == nil {
		conn, ok := r.bindWithRetry(ctx)
		if !ok {
			break
		}

		failed := r.serve(ctx, conn, buf)
		r.conn.Store(nil)
		_ = conn.Close()
		if failed {
			r.rebinds.Add(1)
		}
	}

	logger.Info().
		Uint64("received", r.received.Load()).
		Uint64("dropped", r.dropped.Load()).
		Msg("Receiver stopped")

	return nil
}

func (r *Receiver) bindWithRetry(ctx context.Context) (*net.UDPConn, bool) {
	addr := net.JoinHostPort(r.cfg.BindIP, strconv.Itoa(r.cfg.Port))
	lc := net.ListenConfig{Control: reuseAddrControl}

	for {
		pc, err := lc.ListenPacket(ctx, "udp4", addr)
		if err == nil {
			conn := pc.(*net.UDPConn)
			r.conn.Store(conn)
			logger.Info().Str("addr", conn.LocalAddr().String()).Msg("Receiver listening")

			return conn, true
		}

		r.bindFailures.Add(1)
		logger.Warn().
			Err(errors.New().Wrap(ErrBind, err)).
			Str("addr", addr).
			Dur("retry_in", r.cfg.BindRetry).
			Msg("Receiver bind failed")

		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(r.cfg.BindRetry):
		}
	}
}

// serve reads from conn until ctx is cancelled or the socket fails. It
// reports a failure so the caller rebinds.
func (r *Receiver) serve(ctx context.Context, conn *net.UDPConn, buf []byte) bool {
	for ctx.Err() == nil {
		if err := conn.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout)); err != nil {
			logger.Warn().Err(err).Msg("Receiver set read deadline")
			return ctx.Err() == nil
		}

		n, from, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return false
			}
			logger.Warn().Err(err).Msg("Receiver read failed, rebinding")
			return true
		}

		r.handle(buf[:n], from)
	}

	return false
}

// handle filters and decodes one datagram and offers it to the queue.
func (r *Receiver) handle(frame []byte, from netip.AddrPort) {
	r.received.Add(1)

	if r.filter.IsValid() && from.Addr().Unmap() != r.filter {
		r.filtered.Add(1)
		return
	}

	rec, err := protocol.Decode(frame)
	if err != nil {
		r.malformed.Add(1)
		if r.malformedLog.Allow() {
			logger.Debug().Err(err).Str("from", from.String()).Int("bytes", len(frame)).Msg("Discarding malformed frame")
		}
		return
	}
	r.decoded.Add(1)

	r.offer(Message{Record: rec, Source: from, Size: len(frame)})
}

// offer never blocks. It reports whether msg was queued.
func (r *Receiver) offer(msg Message) bool {
	select {
	case r.queue <- msg:
		return true
	default:
		total := r.dropped.Add(1)
		if r.dropLog.Allow() {
			logger.Warn().Uint64("dropped_total", total).Msg("Consumer behind, dropping newest telemetry")
		}
		return false
	}
}

// LocalAddr is the bound address, or nil while not bound.
func (r *Receiver) LocalAddr() *net.UDPAddr {
	conn := r.conn.Load()
	if conn == nil {
		return nil
	}

	addr, _ := conn.LocalAddr().(*net.UDPAddr)
	return addr
}

func (r *Receiver) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Receiver) Stats() Stats {
	return Stats{
		Received:     r.received.Load(),
		Decoded:      r.decoded.Load(),
		Filtered:     r.filtered.Load(),
		Malformed:    r.malformed.Load(),
		Dropped:      r.dropped.Load(),
		BindFailures: r.bindFailures.Load(),
		Rebinds:      r.rebinds.Load(),
	}
}
