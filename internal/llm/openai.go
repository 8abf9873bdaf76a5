// Package llm provides the LLM clients the DMAs call through. The OpenAI
// client speaks any chat-completions-compatible endpoint and always asks for
// structured JSON output.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/emooreatx/cirisagent/internal/config"
	ciriserrors "github.com/emooreatx/cirisagent/internal/errors"
	"github.com/emooreatx/cirisagent/internal/logging"
	"github.com/emooreatx/cirisagent/internal/ports"
	"github.com/emooreatx/cirisagent/internal/telemetry"
)

const defaultBaseURL = "https://api.openai.com/v1"

// OpenAIClient calls an OpenAI-compatible chat completions endpoint and
// decodes the reply into the caller's response model.
type OpenAIClient struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	metrics    *telemetry.Collector
	logger     logging.Logger
}

// NewOpenAIClient builds a client from the LLM config section.
func NewOpenAIClient(cfg config.LLMConfig, metrics *telemetry.Collector, logger logging.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: api key is required for the openai provider")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &OpenAIClient{
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout() + 10*time.Second},
		metrics:    metrics,
		logger:     logging.OrNop(logger),
	}, nil
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// CallStructured implements ports.LLMClient: one chat completion whose
// content must unmarshal into responseModel. Malformed JSON is repaired
// before giving up.
func (c *OpenAIClient) CallStructured(ctx context.Context, messages []ports.Message, responseModel any, opts ports.StructuredOptions) (ports.ResourceUsage, error) {
	var usage ports.ResourceUsage

	req := map[string]any{
		"model":           c.model,
		"messages":        messages,
		"temperature":     opts.Temperature,
		"response_format": map[string]string{"type": "json_object"},
		"stream":          false,
	}
	if opts.MaxTokens > 0 {
		req["max_tokens"] = opts.MaxTokens
	}
	body, err := json.Marshal(req)
	if err != nil {
		return usage, ciriserrors.NewPermanentError(err, "llm: marshal request")
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return usage, ciriserrors.NewPermanentError(err, "llm: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug("LLM: POST %s model=%s messages=%d", endpoint, c.model, len(messages))
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return usage, ciriserrors.NewTransientError(err, "llm: request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return usage, ciriserrors.NewTransientError(err, "llm: read response")
	}
	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("llm: status %d: %s", resp.StatusCode, truncate(string(respBody), 300))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return usage, ciriserrors.NewTransientError(nil, msg)
		}
		return usage, ciriserrors.NewPermanentError(nil, msg)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return usage, ciriserrors.NewTransientError(err, "llm: decode response envelope")
	}
	if parsed.Error != nil {
		return usage, ciriserrors.NewPermanentError(nil, fmt.Sprintf("llm: api error: %s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return usage, ciriserrors.NewTransientError(nil, "llm: empty choices")
	}

	usage.PromptTokens = parsed.Usage.PromptTokens
	usage.CompletionTokens = parsed.Usage.CompletionTokens
	c.metrics.RecordLLMUsage(ctx, usage.PromptTokens, usage.CompletionTokens, usage.CostUSD)

	content := parsed.Choices[0].Message.Content
	if err := decodeStructured(content, responseModel); err != nil {
		// A syntactically broken reply from an otherwise healthy endpoint
		// is worth one retry.
		return usage, ciriserrors.NewTransientError(err, "llm: structured decode")
	}
	return usage, nil
}

// decodeStructured unmarshals content into out, repairing near-JSON (code
// fences, trailing commas, single quotes) first when a strict parse fails.
func decodeStructured(content string, out any) error {
	trimmed := strings.TrimSpace(content)
	if err := json.Unmarshal([]byte(trimmed), out); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(trimmed)
	if err != nil {
		return fmt.Errorf("unrepairable model output: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("repaired output still undecodable: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ ports.LLMClient = (*OpenAIClient)(nil)
