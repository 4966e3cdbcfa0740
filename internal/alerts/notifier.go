package alerts

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/hwtelemetry/internal/logger"
)

const (
	DefaultCooldown = 5 * time.Minute
	sendTimeout     = 10 * time.Second
)

// Notifier receives the events of every evaluation.
type Notifier interface {
	Notify(ctx context.Context, events []Event)
	Close() error
}

// Sink delivers a single event somewhere.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// NotifyConfig controls notification delivery.
type NotifyConfig struct {
	Enabled           bool
	Cooldown          time.Duration
	MinLevel          Level
	DiscordWebhookURL string
	NtfyServer        string
	NtfyTopic         string
}

// NewNotifier returns a dispatcher over the configured sinks, or a notifier
// that does nothing when notifications are disabled.
func NewNotifier(cfg NotifyConfig) Notifier {
	if !cfg.Enabled {
		return noopNotifier{}
	}

	sinks := []Sink{LogSink{}}
	if cfg.DiscordWebhookURL != "" {
		sinks = append(sinks, NewDiscordSink(cfg.DiscordWebhookURL))
	}
	if cfg.NtfyTopic != "" {
		sinks = append(sinks, NewNtfySink(cfg.NtfyServer, cfg.NtfyTopic))
	}

	return NewDispatcher(cfg.Cooldown, cfg.MinLevel, sinks...)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, []Event) {}

func (noopNotifier) Close() error { return nil }

// Dispatcher forwards events at or above a minimum level to its sinks,
// at most once per metric per cooldown. Delivery happens in the background
// so a slow webhook never stalls the caller.
type Dispatcher struct {
	cooldown time.Duration
	minLevel Level
	sinks    []Sink
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
	wg   sync.WaitGroup
}

func NewDispatcher(cooldown time.Duration, minLevel Level, sinks ...Sink) *Dispatcher {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if minLevel == Normal {
		minLevel = Warning
	}

	return &Dispatcher{
		cooldown: cooldown,
		minLevel: minLevel,
		sinks:    sinks,
		now:      time.Now,
		last:     make(map[string]time.Time),
	}
}

func (d *Dispatcher) Notify(ctx context.Context, events []Event) {
	for _, ev := range events {
		if !d.admit(ev) {
			continue
		}

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.deliver(context.WithoutCancel(ctx), ev)
		}()
	}
}

// admit applies the level filter and the per-metric cooldown.
func (d *Dispatcher) admit(ev Event) bool {
	if ev.Level < d.minLevel {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.last[ev.Metric]; ok && now.Sub(last) < d.cooldown {
		return false
	}
	d.last[ev.Metric] = now

	return true
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	for _, sink := range d.sinks {
		if err := sink.Send(ctx, ev); err != nil {
			logger.Warn().Err(err).Str("sink", sink.Name()).Str("metric", ev.Metric).Msg("Alert delivery failed")
		}
	}
}

// Close waits for in-flight deliveries.
func (d *Dispatcher) Close() error {
	d.wg.Wait()
	return nil
}

// LogSink writes events to the application log.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Send(_ context.Context, ev Event) error {
	e := logger.Warn()
	if ev.Level == Critical {
		e = logger.Error()
	}
	e.Str("metric", ev.Metric).
		Str("level", ev.Level.String()).
		Float32("value", ev.Value).
		Str("unit", ev.Unit).
		Msg(ev.Label + " threshold exceeded")

	return nil
}
