// Package emailer delivers post-call summary emails. The HTTP sender talks
// to the mail provider's REST endpoint; the log sender simulates delivery
// for development and tests.
package emailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Sender delivers one call summary email.
type Sender interface {
	SendSummary(ctx context.Context, to, subject, summary, callID string) error
}

// LogSender simulates delivery by logging the email instead of sending it.
type LogSender struct {
	Log *slog.Logger
}

var _ Sender = (*LogSender)(nil)

func (s *LogSender) SendSummary(ctx context.Context, to, subject, summary, callID string) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "email.simulated",
		slog.String("to", to),
		slog.String("subject", subject),
		slog.String("call_id", callID),
		slog.String("summary", summary))
	return nil
}

// HTTPSender posts the summary to a mail provider REST endpoint.
type HTTPSender struct {
	Endpoint string
	APIKey   string
	From     string

	// Client defaults to a client with a 10s timeout.
	Client *http.Client
}

var _ Sender = (*HTTPSender)(nil)

type sendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	CallID  string `json:"call_id,omitempty"`
}

func (s *HTTPSender) SendSummary(ctx context.Context, to, subject, summary, callID string) error {
	body, err := json.Marshal(sendRequest{
		From:    s.From,
		To:      to,
		Subject: subject,
		Body:    summary,
		CallID:  callID,
	})
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.APIKey)

	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		return fmt.Errorf("email provider returned %s", res.Status)
	}
	return nil
}
