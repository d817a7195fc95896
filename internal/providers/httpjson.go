package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/haoran127/costix/internal/models"
)

const maxResponseBytes = 8 << 20

// GetJSON performs an authenticated GET and decodes the JSON body into out.
// Non-2xx responses are converted to *ProviderError, with the message taken
// from the payload's error object when one is present.
func GetJSON(ctx context.Context, client *http.Client, platform models.Platform, endpoint string, query url.Values, headers map[string]string, out any) error {
	target := endpoint
	if len(query) > 0 {
		target = endpoint + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", platform, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", platform, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s response: %w", platform, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ProviderError{
			Platform: platform,
			Status:   resp.StatusCode,
			Message:  errorMessageFromBody(body),
		}
	}

	if embedded := embeddedError(body); embedded != "" {
		return &ProviderError{Platform: platform, Status: resp.StatusCode, Message: embedded}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", platform, err)
	}
	return nil
}

type errorEnvelope struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
	Message string `json:"message"`
}

func errorMessageFromBody(body []byte) string {
	if msg := embeddedError(body); msg != "" {
		return msg
	}
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Message != "" {
		return envelope.Message
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 240 {
		text = text[:240] + "..."
	}
	if text == "" {
		return "empty response body"
	}
	return text
}

func embeddedError(body []byte) string {
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	if envelope.Error == nil {
		return ""
	}
	if envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	if envelope.Error.Type != "" {
		return envelope.Error.Type
	}
	return "provider returned an error payload"
}
