package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (*recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) metrics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return metrics(s.events)
}

func TestDispatcherCooldown(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(time.Minute, Warning, sink)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	hot := []Event{{Metric: "cpu_temp", Level: Critical}, {Metric: "ram", Level: Warning}}

	d.Notify(context.Background(), hot)
	now = now.Add(30 * time.Second)
	d.Notify(context.Background(), hot)
	now = now.Add(31 * time.Second)
	d.Notify(context.Background(), hot[:1])
	require.NoError(t, d.Close())

	assert.ElementsMatch(t, []string{"cpu_temp", "ram", "cpu_temp"}, sink.metrics())
}

func TestDispatcherMinLevel(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(time.Minute, Critical, sink)

	d.Notify(context.Background(), []Event{
		{Metric: "ram", Level: Warning},
		{Metric: "gpu_temp", Level: Critical},
	})
	require.NoError(t, d.Close())

	assert.Equal(t, []string{"gpu_temp"}, sink.metrics())
}

func TestDispatcherDefaults(t *testing.T) {
	d := NewDispatcher(0, Normal)
	assert.Equal(t, DefaultCooldown, d.cooldown)
	assert.Equal(t, Warning, d.minLevel)
}

func TestDispatcherSinkFailureDoesNotStopOthers(t *testing.T) {
	failing := &recordingSink{err: fmt.Errorf("unreachable")}
	ok := &recordingSink{}
	d := NewDispatcher(time.Minute, Warning, failing, ok)

	d.Notify(context.Background(), []Event{{Metric: "ping", Level: Warning}})
	require.NoError(t, d.Close())

	assert.Equal(t, []string{"ping"}, ok.metrics())
}

func TestNewNotifierDisabled(t *testing.T) {
	n := NewNotifier(NotifyConfig{Enabled: false, DiscordWebhookURL: "http://example.invalid"})
	assert.IsType(t, noopNotifier{}, n)
	n.Notify(context.Background(), []Event{{Metric: "cpu_temp", Level: Critical}})
	assert.NoError(t, n.Close())
}

func TestNewNotifierSinks(t *testing.T) {
	n := NewNotifier(NotifyConfig{
		Enabled:           true,
		DiscordWebhookURL: "http://example.invalid/hook",
		NtfyTopic:         "rig",
	})

	d, ok := n.(*Dispatcher)
	require.True(t, ok)

	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	assert.Equal(t, []string{"log", "discord", "ntfy"}, names)
}

func TestDiscordSink(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewDiscordSink(srv.URL).Send(context.Background(),
		Event{Metric: "cpu_temp", Label: "CPU Temp", Value: 95, Unit: "°C", Level: Critical})
	require.NoError(t, err)

	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "CRITICAL CPU Temp = 95.0°C", got.Embeds[0].Description)
	assert.Equal(t, levelColors[Critical], got.Embeds[0].Color)
}

func TestDiscordSinkErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSink(srv.URL).Send(context.Background(), Event{Level: Warning})
	assert.Error(t, err)
}

func TestNtfySink(t *testing.T) {
	var path, body, priority string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		priority = r.Header.Get("Priority")
		b, _ := io.ReadAll(r.Body)
		body = string(b)
	}))
	defer srv.Close()

	err := NewNtfySink(srv.URL+"/", "rig-alerts").Send(context.Background(),
		Event{Label: "RAM", Value: 92, Unit: "%", Level: Critical})
	require.NoError(t, err)

	assert.Equal(t, "/rig-alerts", path)
	assert.Equal(t, "5", priority)
	assert.Equal(t, "CRITICAL RAM = 92.0%", body)
}
