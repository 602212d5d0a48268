package analysis

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "propiq-billing/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completion(content string) string {
	body, _ := json.Marshal(map[string]interface{}{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4o-mini-2024-07-18",
		"choices": []map[string]interface{}{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	})
	return string(body)
}

func newTestAnalyzer(t *testing.T, handler http.HandlerFunc) *OpenAIAnalyzer {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a, err := NewOpenAIAnalyzer(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"}, srv.Client())
	require.NoError(t, err)
	return a
}

func TestOpenAIAnalyzer_Analyze(t *testing.T) {
	a := newTestAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Contains(t, req.Messages[1].Content, "12 Elm St")
		assert.NotContains(t, req.Messages[1].Content, "user-1")

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completion(`{"verdict":"hold","capRate":5.1}`))
	})

	report, err := a.Analyze(context.Background(), &Request{UserID: "user-1", Address: "12 Elm St"})

	require.NoError(t, err)
	assert.JSONEq(t, `{"verdict":"hold","capRate":5.1}`, string(report.Content))
	assert.Equal(t, "gpt-4o-mini-2024-07-18", report.Model)
}

func TestOpenAIAnalyzer_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		notLeak string
	}{
		{"server error", http.StatusInternalServerError, `{"error":{"message":"secret upstream detail","type":"server_error"}}`, "secret upstream detail"},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down account acct_9","type":"rate_limit"}}`, "acct_9"},
		{"non-json answer", http.StatusOK, completion("I think you should buy it."), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAnalyzer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := a.Analyze(context.Background(), &Request{UserID: "u", Address: "1 Main St"})

			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrAnalysisFailed)
			if tt.notLeak != "" {
				assert.NotContains(t, err.Error(), tt.notLeak)
			}
		})
	}
}

func TestNewOpenAIAnalyzer_RequiresKey(t *testing.T) {
	_, err := NewOpenAIAnalyzer(OpenAIConfig{}, nil)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}
