package transport

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/mutker/hwtelemetry/internal/errors"
	"codeberg.org/mutker/hwtelemetry/internal/protocol"
	"codeberg.org/mutker/hwtelemetry/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCollector struct {
	calls atomic.Int64
}

func (f *fakeCollector) Collect(context.Context) telemetry.Record {
	n := f.calls.Add(1)
	return telemetry.Record{
		CPU:     telemetry.CPU{Usage: float32(n), Temp: 55},
		Storage: []telemetry.Storage{{Name: "C:", Health: 100, UsedSpace: 42}},
	}
}

func startReceiver(t *testing.T, cfg ReceiverConfig) (*Receiver, context.CancelFunc, <-chan error) {
	t.Helper()

	if cfg.BindIP == "" {
		cfg.BindIP = "127.0.0.1"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 50 * time.Millisecond
	}

	r, err := NewReceiver(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return r.LocalAddr() != nil }, 2*time.Second, 10*time.Millisecond)
	t.Cleanup(cancel)

	return r, cancel, done
}

func sendRaw(t *testing.T, to *net.UDPAddr, payload []byte) {
	t.Helper()

	conn, err := net.DialUDP("udp4", nil, to)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(payload)
	require.NoError(t, err)
}

func TestSenderToReceiverLoopback(t *testing.T) {
	r, cancel, done := startReceiver(t, ReceiverConfig{})

	collector := &fakeCollector{}
	s, err := NewSender(context.Background(), SenderConfig{
		Mode:     ModeUnicast,
		DestIP:   "127.0.0.1",
		Port:     r.LocalAddr().Port,
		Interval: 20 * time.Millisecond,
		BindIP:   "127.0.0.1",
	}, collector)
	require.NoError(t, err)
	defer s.Close()

	sctx, scancel := context.WithCancel(context.Background())
	sdone := make(chan error, 1)
	go func() { sdone <- s.Run(sctx) }()

	var msg Message
	select {
	case msg = <-r.Messages():
	case <-time.After(2 * time.Second):
		t.Fatal("no telemetry received")
	}

	assert.InDelta(t, 55, msg.Record.CPU.Temp, 0.001)
	assert.Equal(t, []telemetry.Storage{{Name: "C:", Health: 100, UsedSpace: 42}}, msg.Record.Storage)
	assert.Equal(t, s.LocalAddr().(*net.UDPAddr).Port, int(msg.Source.Port()))
	assert.Greater(t, msg.Size, protocol.HeaderSize)

	scancel()
	require.NoError(t, <-sdone)
	assert.Positive(t, s.Sent())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not stop")
	}

	// The queue is closed once Run returns, so draining terminates.
	for range r.Messages() {
	}
}

func TestSenderPacesToInterval(t *testing.T) {
	r, _, _ := startReceiver(t, ReceiverConfig{})

	collector := &fakeCollector{}
	s, err := NewSender(context.Background(), SenderConfig{
		Mode:     ModeUnicast,
		DestIP:   "127.0.0.1",
		Port:     r.LocalAddr().Port,
		Interval: 100 * time.Millisecond,
	}, collector)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 350*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	// One immediate cycle plus one per elapsed interval.
	calls := collector.calls.Load()
	assert.GreaterOrEqual(t, calls, int64(3))
	assert.LessOrEqual(t, calls, int64(5))
}

func TestReceiverDiscardsMalformed(t *testing.T) {
	r, _, _ := startReceiver(t, ReceiverConfig{})

	sendRaw(t, r.LocalAddr(), []byte{0x00})
	sendRaw(t, r.LocalAddr(), []byte{0x00, protocol.Version, 0x80})

	frame, err := protocol.Encode(telemetry.Record{CPU: telemetry.CPU{Temp: 50}})
	require.NoError(t, err)
	sendRaw(t, r.LocalAddr(), frame)

	select {
	case msg := <-r.Messages():
		assert.InDelta(t, 50, msg.Record.CPU.Temp, 0.001)
		assert.Equal(t, len(frame), msg.Size)
	case <-time.After(2 * time.Second):
		t.Fatal("valid frame not delivered")
	}

	stats := r.Stats()
	assert.Equal(t, uint64(2), stats.Malformed)
	assert.Equal(t, uint64(1), stats.Decoded)
	assert.Equal(t, uint64(3), stats.Received)
}

func TestReceiverRebindsAfterReadError(t *testing.T) {
	r, cancel, done := startReceiver(t, ReceiverConfig{})

	first := r.conn.Load()
	require.NotNil(t, first)
	require.NoError(t, first.Close())

	require.Eventually(t, func() bool {
		conn := r.conn.Load()
		return conn != nil && conn != first
	}, 2*time.Second, 10*time.Millisecond)
	require.NotNil(t, r.LocalAddr())
	assert.Equal(t, uint64(1), r.Stats().Rebinds)

	frame, err := protocol.Encode(telemetry.Record{CPU: telemetry.CPU{Usage: 12}})
	require.NoError(t, err)
	sendRaw(t, r.LocalAddr(), frame)

	select {
	case msg := <-r.Messages():
		assert.InDelta(t, 12, msg.Record.CPU.Usage, 0.001)
	case <-time.After(2 * time.Second):
		t.Fatal("rebound socket did not deliver")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not stop")
	}
	assert.Nil(t, r.LocalAddr())
	assert.Equal(t, uint64(1), r.Stats().Rebinds, "cancellation is not a rebind")
}

func TestReceiverSourceFilter(t *testing.T) {
	r, _, _ := startReceiver(t, ReceiverConfig{SenderIP: "192.0.2.10"})

	frame, err := protocol.Encode(telemetry.Record{})
	require.NoError(t, err)
	sendRaw(t, r.LocalAddr(), frame)

	require.Eventually(t, func() bool { return r.Stats().Filtered == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, r.Messages())
	assert.Zero(t, r.Stats().Decoded)
}

func TestReceiverSourceFilterAccepts(t *testing.T) {
	r, _, _ := startReceiver(t, ReceiverConfig{SenderIP: "127.0.0.1"})

	frame, err := protocol.Encode(telemetry.Record{})
	require.NoError(t, err)
	sendRaw(t, r.LocalAddr(), frame)

	select {
	case <-r.Messages():
	case <-time.After(2 * time.Second):
		t.Fatal("matching source was filtered")
	}
}

func TestOfferDropsNewestWhenFull(t *testing.T) {
	r, err := NewReceiver(ReceiverConfig{QueueSize: 4})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 10 {
			r.offer(Message{Size: i})
		}
	}()

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("offer blocked on a full queue")
	}

	assert.Len(t, r.queue, 4)
	assert.Equal(t, uint64(6), r.Dropped())

	// The earliest arrivals are kept, later ones were dropped.
	for i := range 4 {
		msg := <-r.queue
		assert.Equal(t, i, msg.Size)
	}
}

func TestReceiverDefaults(t *testing.T) {
	r, err := NewReceiver(ReceiverConfig{})
	require.NoError(t, err)

	assert.Equal(t, DefaultQueueSize, cap(r.queue))
	assert.Equal(t, DefaultReadTimeout, r.cfg.ReadTimeout)
	assert.Equal(t, DefaultBindRetry, r.cfg.BindRetry)
	assert.Nil(t, r.LocalAddr())
}

func TestNewReceiverRejectsBadFilter(t *testing.T) {
	_, err := NewReceiver(ReceiverConfig{SenderIP: "not-an-ip"})
	assert.True(t, errors.HasCode(err, ErrInvalidFilter))
}

func TestRunTwice(t *testing.T) {
	r, _, _ := startReceiver(t, ReceiverConfig{})

	err := r.Run(context.Background())
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyRunning))
}

func TestResolveDestination(t *testing.T) {
	tests := []struct {
		name string
		cfg  SenderConfig
		want string
		code errors.ErrorCode
	}{
		{"broadcast default", SenderConfig{Mode: ModeBroadcast, Port: 5005}, "255.255.255.255:5005", ""},
		{"empty mode is broadcast", SenderConfig{Port: 5005}, "255.255.255.255:5005", ""},
		{"directed broadcast", SenderConfig{Mode: ModeBroadcast, DestIP: "192.168.1.255", Port: 6000}, "192.168.1.255:6000", ""},
		{"unicast", SenderConfig{Mode: ModeUnicast, DestIP: "10.0.0.7", Port: 5005}, "10.0.0.7:5005", ""},
		{"unicast needs ip", SenderConfig{Mode: ModeUnicast, Port: 5005}, "", ErrInvalidDestination},
		{"bad ip", SenderConfig{Mode: ModeBroadcast, DestIP: "x", Port: 5005}, "", ErrInvalidDestination},
		{"bad mode", SenderConfig{Mode: "multicast", DestIP: "239.0.0.1", Port: 5005}, "", ErrInvalidDestination},
		{"bad port", SenderConfig{Mode: ModeBroadcast, Port: 70000}, "", ErrInvalidDestination},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveDestination(tt.cfg)
			if tt.code != "" {
				assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestMessageSourceIsAddrPort(t *testing.T) {
	r, err := NewReceiver(ReceiverConfig{QueueSize: 1})
	require.NoError(t, err)

	frame, err := protocol.Encode(telemetry.Record{})
	require.NoError(t, err)

	from := netip.MustParseAddrPort("[::ffff:10.1.2.3]:4000")
	r.handle(frame, from)

	msg := <-r.queue
	assert.Equal(t, from, msg.Source)
	assert.Equal(t, len(frame), msg.Size)
}
