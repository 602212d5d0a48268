// internal/common/http/client.go
package http

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"propiq-billing/internal/common/logger"
)

// previewBytes bounds how much of a failed provider response is logged.
const previewBytes = 512

// NewClient returns the client used for provider calls (Stripe, OpenAI). Error
// responses are logged with a truncated body preview; the body handed back to
// the caller is unchanged.
func NewClient(provider string, timeout time.Duration, log logger.Logger) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &previewTransport{
			next:     http.DefaultTransport,
			provider: provider,
			logger:   log,
		},
	}
}

type previewTransport struct {
	next     http.RoundTripper
	provider string
	logger   logger.Logger
}

func (t *previewTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		t.logger.Warn("provider request failed", map[string]interface{}{
			"provider": t.provider,
			"method":   req.Method,
			"path":     req.URL.Path,
			"error":    err.Error(),
		})
		return nil, err
	}
	if resp.StatusCode < 400 {
		return resp, nil
	}

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, previewBytes))
	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(preview), resp.Body), resp.Body}

	t.logger.Warn("provider returned error status", map[string]interface{}{
		"provider":   t.provider,
		"method":     req.Method,
		"path":       req.URL.Path,
		"status":     resp.StatusCode,
		"durationMs": time.Since(start).Milliseconds(),
		"preview":    string(preview),
	})
	return resp, nil
}
