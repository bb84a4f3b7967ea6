package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sublease-marketplace/backend/internal/auth"
	"github.com/sublease-marketplace/backend/internal/events"
)

// NotifyClient delivers agreement events to the external notification sink
// over HTTP. Each body is signed with auth.SignPayload.
type NotifyClient struct {
	url        string
	secret     string
	httpClient *http.Client
	log        *zap.Logger
	now        func() time.Time
}

func NewNotifyClient(url, secret string, log *zap.Logger) *NotifyClient {
	return &NotifyClient{
		url:    url,
		secret: secret,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
		now: time.Now,
	}
}

type notification struct {
	Type       string         `json:"type"`
	Recipients []string       `json:"recipients"`
	Payload    map[string]any `json:"payload"`
	SentAt     time.Time      `json:"sent_at"`
}

func (c *NotifyClient) Send(ctx context.Context, ev events.Event) error {
	now := c.now()
	body, err := json.Marshal(notification{
		Type:       ev.Type,
		Recipients: ev.Recipients(),
		Payload:    ev.Payload,
		SentAt:     now.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set(auth.SignatureHeader, auth.SignPayload(body, c.secret, now))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notification sink unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("notification sink returned %d: %s", resp.StatusCode, string(b))
	}

	c.log.Debug("notification delivered",
		zap.String("type", ev.Type),
		zap.Strings("recipients", ev.Recipients()))
	return nil
}
