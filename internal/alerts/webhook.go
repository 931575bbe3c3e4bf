package alerts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/httpclient"
)

// WebhookSink posts the full alert as JSON to a generic receiver.
type WebhookSink struct {
	client      *httpclient.Client
	url         string
	minSeverity string
}

// NewWebhookSink builds a generic webhook sink.
func NewWebhookSink(client *httpclient.Client, url, minSeverity string) *WebhookSink {
	return &WebhookSink{client: client, url: url, minSeverity: minSeverity}
}

func (s *WebhookSink) Deliver(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("alerts: marshal webhook payload: %w", err)
	}
	resp, err := s.client.PostJSON(ctx, s.url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("alerts: webhook returned %d", resp.StatusCode)
	}
	return nil
}

func (s *WebhookSink) Name() string        { return "webhook" }
func (s *WebhookSink) MinSeverity() string { return s.minSeverity }

// ChatSink posts a compact text message in the shape chat webhooks
// (Slack-compatible) expect.
type ChatSink struct {
	client      *httpclient.Client
	url         string
	minSeverity string
}

// NewChatSink builds a chat webhook sink.
func NewChatSink(client *httpclient.Client, url, minSeverity string) *ChatSink {
	return &ChatSink{client: client, url: url, minSeverity: minSeverity}
}

type chatPayload struct {
	Text string `json:"text"`
}

func (s *ChatSink) Deliver(ctx context.Context, a Alert) error {
	body, err := json.Marshal(chatPayload{
		Text: fmt.Sprintf("[%s] %s\n%s", a.Severity, a.Title, a.Message),
	})
	if err != nil {
		return fmt.Errorf("alerts: marshal chat payload: %w", err)
	}
	resp, err := s.client.PostJSON(ctx, s.url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("alerts: chat webhook returned %d", resp.StatusCode)
	}
	return nil
}

func (s *ChatSink) Name() string        { return "chat" }
func (s *ChatSink) MinSeverity() string { return s.minSeverity }
