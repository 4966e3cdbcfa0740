// Package monitor is the receive side consumer. On every tick it drains the
// receiver queue, keeps the newest record as current, feeds every record
// into the rolling history and evaluates alerts.
package monitor

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"codeberg.org/mutker/hwtelemetry/internal/alerts"
	"codeberg.org/mutker/hwtelemetry/internal/logger"
	"codeberg.org/mutker/hwtelemetry/internal/telemetry"
	"codeberg.org/mutker/hwtelemetry/internal/transport"
)

const (
	DefaultTick        = 250 * time.Millisecond
	DefaultStaleAfter  = 3 * time.Second
	DefaultStatusEvery = 5 * time.Second
)

type LinkStatus int

const (
	Waiting LinkStatus = iota
	Connected
	Stale
)

func (s LinkStatus) String() string {
	switch s {
	case Connected:
		return "connected"
	case Stale:
		return "stale"
	default:
		return "waiting"
	}
}

type Config struct {
	Tick        time.Duration
	StaleAfter  time.Duration
	StatusEvery time.Duration
	HistorySize int
	Thresholds  alerts.Thresholds
}

// Snapshot is a consistent view of the monitor state.
type Snapshot struct {
	Current  telemetry.Record
	Source   netip.AddrPort
	Size     int
	HasData  bool
	Status   LinkStatus
	LastSeen time.Time
	Alerts   []alerts.Event
	Received uint64
}

type Monitor struct {
	cfg      Config
	msgs     <-chan transport.Message
	notifier alerts.Notifier
	history  *History
	now      func() time.Time

	mu         sync.RWMutex
	snap       Snapshot
	lastStatus time.Time
}

func New(cfg Config, msgs <-chan transport.Message, notifier alerts.Notifier) *Monitor {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.StatusEvery <= 0 {
		cfg.StatusEvery = DefaultStatusEvery
	}
	if notifier == nil {
		notifier = alerts.NewNotifier(alerts.NotifyConfig{})
	}

	return &Monitor{
		cfg:      cfg,
		msgs:     msgs,
		notifier: notifier,
		history:  NewHistory(cfg.HistorySize),
		now:      time.Now,
	}
}

// Run ticks until ctx is cancelled or the message queue is closed.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, open := m.Tick(ctx); !open {
				logger.Info().Msg("Telemetry queue closed, monitor stopping")
				return nil
			}
		}
	}
}

// Tick drains every queued message and updates state. It reports how many
// messages were consumed and whether the queue is still open.
func (m *Monitor) Tick(ctx context.Context) (int, bool) {
	now := m.now()
	n, open := m.drain(now)

	m.mu.Lock()
	prev := m.snap.Status
	m.snap.Status = m.statusAt(now)
	status := m.snap.Status
	var current telemetry.Record
	if n > 0 {
		current = m.snap.Current
	}
	m.mu.Unlock()

	if status != prev {
		m.logTransition(prev, status)
	}

	if n > 0 {
		events := alerts.Evaluate(current, m.cfg.Thresholds)
		m.mu.Lock()
		m.snap.Alerts = events
		m.mu.Unlock()
		m.notifier.Notify(ctx, events)
	}

	if now.Sub(m.lastStatus) >= m.cfg.StatusEvery {
		m.lastStatus = now
		m.logStatus()
	}

	return n, open
}

func (m *Monitor) drain(now time.Time) (int, bool) {
	n := 0
	for {
		select {
		case msg, ok := <-m.msgs:
			if !ok {
				return n, false
			}
			m.apply(msg, now)
			n++
		default:
			return n, true
		}
	}
}

// apply records msg as the newest snapshot; earlier messages of the same
// tick only reach the history.
func (m *Monitor) apply(msg transport.Message, now time.Time) {
	m.history.Push(sampleOf(msg.Record, now))

	m.mu.Lock()
	defer m.mu.Unlock()

	m.snap.Current = msg.Record
	m.snap.Source = msg.Source
	m.snap.Size = msg.Size
	m.snap.HasData = true
	m.snap.LastSeen = now
	m.snap.Received++
}

func (m *Monitor) statusAt(now time.Time) LinkStatus {
	switch {
	case !m.snap.HasData:
		return Waiting
	case now.Sub(m.snap.LastSeen) > m.cfg.StaleAfter:
		return Stale
	default:
		return Connected
	}
}

func (m *Monitor) logTransition(from, to LinkStatus) {
	m.mu.RLock()
	source := m.snap.Source
	lastSeen := m.snap.LastSeen
	m.mu.RUnlock()

	switch to {
	case Connected:
		logger.Info().Str("source", source.String()).Str("was", from.String()).Msg("Telemetry link connected")
	case Stale:
		logger.Warn().Time("last_seen", lastSeen).Msg("Telemetry link stale")
	}
}

func (m *Monitor) logStatus() {
	snap := m.Snapshot()
	if !snap.HasData {
		logger.Info().Msg("Waiting for telemetry")
		return
	}

	rec := snap.Current
	logger.Info().
		Str("status", snap.Status.String()).
		Float32("cpu_pct", rec.CPU.Usage).
		Float32("cpu_c", rec.CPU.Temp).
		Float32("gpu_pct", rec.GPU.Load).
		Float32("gpu_c", rec.GPU.Temp).
		Float32("ram_pct", rec.RAM.Percent).
		Float32("down_kbps", rec.Network.DownKBps).
		Float32("up_kbps", rec.Network.UpKBps).
		Float32("ping_ms", rec.Network.PingMs).
		Float32("cpu_avg", m.history.Average(func(s Sample) float32 { return s.CPUUsage })).
		Int("alerts", len(snap.Alerts)).
		Msg("Telemetry")
}

// Snapshot returns a copy of the current state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snap
	s.Alerts = append([]alerts.Event(nil), m.snap.Alerts...)

	return s
}

func (m *Monitor) History() *History {
	return m.history
}
