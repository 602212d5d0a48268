package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	apperrors "propiq-billing/internal/common/errors"

	"github.com/sashabaranov/go-openai"
)

const systemPrompt = `You are a real-estate investment analyst. Given a property, reply with a single JSON object with keys:
"summary" (string), "estimatedMonthlyCashFlow" (number), "capRate" (number, percent), "risks" (array of strings),
"verdict" (one of "buy", "hold", "pass"). Use only the facts provided and state assumptions in the summary.`

// Report is the analyzer's answer for one property.
type Report struct {
	Content json.RawMessage
	Model   string
}

// Analyzer produces an investment analysis for a property.
type Analyzer interface {
	Analyze(ctx context.Context, req *Request) (*Report, error)
}

// OpenAIConfig selects the model endpoint. BaseURL may point at any
// OpenAI-compatible gateway.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIAnalyzer asks a chat completion model for a JSON analysis.
type OpenAIAnalyzer struct {
	client *openai.Client
	model  string
}

// NewOpenAIAnalyzer builds the analyzer on httpClient, which carries the call
// timeout and provider error logging.
func NewOpenAIAnalyzer(cfg OpenAIConfig, httpClient *http.Client) (*OpenAIAnalyzer, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.NewConfigurationError("openai api key is not set")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIAnalyzer{client: openai.NewClientWithConfig(clientCfg), model: model}, nil
}

func (a *OpenAIAnalyzer) Analyze(ctx context.Context, req *Request) (*Report, error) {
	facts, err := json.Marshal(req.facts())
	if err != nil {
		return nil, apperrors.NewAnalysisFailedError(err)
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(facts)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0.2,
	})
	if err != nil {
		return nil, apperrors.NewAnalysisFailedError(providerError(err))
	}
	if len(resp.Choices) == 0 {
		return nil, apperrors.NewAnalysisFailedError(fmt.Errorf("model returned no choices"))
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if !json.Valid([]byte(content)) {
		return nil, apperrors.NewAnalysisFailedError(fmt.Errorf("model returned non-JSON content (%d bytes)", len(content)))
	}
	model := resp.Model
	if model == "" {
		model = a.model
	}
	return &Report{Content: json.RawMessage(content), Model: model}, nil
}

// providerError keeps the status and error type but drops the provider's
// message body, which was already logged by the HTTP client.
func providerError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("openai status %d (%s)", apiErr.HTTPStatusCode, apiErr.Type)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("openai status %d", reqErr.HTTPStatusCode)
	}
	return err
}
