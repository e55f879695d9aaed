// Package notify reports failed runs to an HTTP endpoint.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Message is the fixed text sent for every failure.
const Message = "Backup process failed."

// DefaultTimeout bounds a single notification attempt.
const DefaultTimeout = 10 * time.Second

// Payload is the JSON body posted to the endpoint.
type Payload struct {
	Message string `json:"message"`
	Reason  string `json:"reason"`
	Stage   string `json:"stage,omitempty"`
	Host    string `json:"host,omitempty"`
	Project string `json:"project,omitempty"`
	RunID   string `json:"runId,omitempty"`
}

// Notifier posts failure payloads. A Notifier with an empty URL does nothing.
type Notifier struct {
	URL        string
	httpClient *http.Client
	logger     zerolog.Logger
}

func New(url string, logger zerolog.Logger) *Notifier {
	return &Notifier{
		URL:        url,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     logger.With().Str("component", "notify").Logger(),
	}
}

// Enabled reports whether an endpoint is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.URL != ""
}

// Notify sends p and logs any failure. It never returns an error to the
// caller; the run outcome is already decided.
func (n *Notifier) Notify(ctx context.Context, p Payload) {
	if !n.Enabled() {
		return
	}
	if p.Message == "" {
		p.Message = Message
	}
	if err := n.send(ctx, p); err != nil {
		n.logger.Warn().Err(err).Str("url", n.URL).Msg("failure notification not delivered")
		return
	}
	n.logger.Info().Str("url", n.URL).Msg("failure notification sent")
}

func (n *Notifier) send(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
