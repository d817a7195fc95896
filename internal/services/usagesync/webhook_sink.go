package usagesync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/haoran127/costix/internal/config"
	"github.com/haoran127/costix/internal/models"
)

// WebhookSink delivers sync outcomes to arbitrary HTTP endpoints.
type WebhookSink struct {
	client     *http.Client
	urls       []string
	maxRetries int
	logger     *slog.Logger
}

func NewWebhookSink(cfg config.AlertConfig, logger *slog.Logger) AlertSink {
	if len(cfg.Webhooks) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Webhook.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	maxRetries := cfg.Webhook.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return &WebhookSink{
		client:     &http.Client{Timeout: timeout},
		urls:       cfg.Webhooks,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

func (s *WebhookSink) Notify(ctx context.Context, alert SyncAlert) error {
	if s == nil {
		return nil
	}
	body, err := json.Marshal(webhookPayload{
		AccountID:   alert.AccountID.String(),
		AccountName: alert.AccountName,
		Platform:    string(alert.Platform),
		Trigger:     string(alert.Trigger),
		State:       string(alert.State),
		Summary:     alert.Summary,
		Error:       alert.Error,
		Timestamp:   alert.Timestamp.UTC(),
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, target := range s.urls {
		if strings.TrimSpace(target) == "" {
			continue
		}
		if err := s.postWithRetries(ctx, target, body); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", target, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (s *WebhookSink) postWithRetries(ctx context.Context, url string, body []byte) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if err := s.post(ctx, url, body); err != nil {
			lastErr = err
			delay := time.Duration(attempt) * 250 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		return nil
	}
	return lastErr
}

func (s *WebhookSink) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

type webhookPayload struct {
	AccountID   string              `json:"account_id"`
	AccountName string              `json:"account_name"`
	Platform    string              `json:"platform"`
	Trigger     string              `json:"trigger"`
	State       string              `json:"state"`
	Summary     *models.SyncSummary `json:"summary,omitempty"`
	Error       string              `json:"error,omitempty"`
	Timestamp   time.Time           `json:"timestamp"`
}
