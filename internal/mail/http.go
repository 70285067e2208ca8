package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 15 * time.Second

// HTTPSender posts messages as JSON to a mail relay (e.g. a transactional email API).
type HTTPSender struct {
	APIKey     string
	URL        string
	HTTPClient *http.Client
}

// NewHTTPSender returns a sender for the relay at url.
func NewHTTPSender(url, apiKey string) *HTTPSender {
	return &HTTPSender{
		APIKey:     apiKey,
		URL:        url,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Deliver sends msg. Any non-2xx response is an error. Does not log the body.
func (s *HTTPSender) Deliver(ctx context.Context, msg Message) error {
	if s.URL == "" {
		return ErrNotConfigured
	}
	raw, err := json.Marshal(map[string]string{
		"from":    msg.From,
		"to":      msg.To,
		"subject": msg.Subject,
		"html":    msg.HTML,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}
	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mail: relay failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}
