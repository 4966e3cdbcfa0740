package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"codeberg.org/mutker/hwtelemetry/internal/errors"
)

const embedTitle = "Telemetry alert"

// Discord embed colours.
var levelColors = map[Level]int{
	Normal:   3447003,
	Warning:  16776960,
	Critical: 15158332,
}

type discordEmbed struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Color       int    `json:"color,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// DiscordSink posts events to a Discord webhook.
type DiscordSink struct {
	url    string
	client *http.Client
}

func NewDiscordSink(url string) *DiscordSink {
	return &DiscordSink{url: url, client: &http.Client{Timeout: 8 * time.Second}}
}

func (*DiscordSink) Name() string { return "discord" }

func (s *DiscordSink) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(discordPayload{Embeds: []discordEmbed{{
		Title:       embedTitle,
		Description: ev.String(),
		Color:       levelColors[ev.Level],
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}}})
	if err != nil {
		return errors.New().Wrap(ErrDelivery, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return errors.New().Wrap(ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")

	return doPost(s.client, req)
}

// NtfySink publishes events to an ntfy topic.
type NtfySink struct {
	url    string
	client *http.Client
}

func NewNtfySink(server, topic string) *NtfySink {
	if server == "" {
		server = "https://ntfy.sh"
	}

	return &NtfySink{
		url:    strings.TrimRight(server, "/") + "/" + topic,
		client: &http.Client{Timeout: 8 * time.Second},
	}
}

func (*NtfySink) Name() string { return "ntfy" }

func (s *NtfySink) Send(ctx context.Context, ev Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, strings.NewReader(ev.String()))
	if err != nil {
		return errors.New().Wrap(ErrDelivery, err)
	}
	req.Header.Set("Title", embedTitle)

	switch ev.Level {
	case Critical:
		req.Header.Set("Priority", "5")
		req.Header.Set("Tags", "rotating_light")
	default:
		req.Header.Set("Priority", "4")
		req.Header.Set("Tags", "warning")
	}

	return doPost(s.client, req)
}

func doPost(client *http.Client, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return errors.New().Wrap(ErrDelivery, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.New().WithData(ErrDelivery, fmt.Sprintf("status %d", resp.StatusCode))
	}

	return nil
}
