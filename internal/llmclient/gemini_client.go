// internal/llmclient/gemini_client.go
package llmclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/voyager-cli/api/schemas"
	"github.com/xkilldash9x/voyager-cli/internal/config"
)

// GeminiClient implements schemas.DecisionClient against the Google Gemini
// generateContent API. The full trimmed conversation is sent on every call;
// screenshots travel as inline PNG parts.
type GeminiClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
	cfg        config.LLMConfig
	limiter    *rate.Limiter
}

var _ schemas.DecisionClient = (*GeminiClient)(nil)

// -- Gemini API Request/Response Structures (Internal to this file) --

type geminiBlob struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *geminiBlob `json:"inline_data,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiSystemInstruction struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"response_mime_type,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequestPayload struct {
	Contents          []geminiContent          `json:"contents"`
	SystemInstruction *geminiSystemInstruction `json:"system_instruction,omitempty"`
	GenerationConfig  geminiGenerationConfig   `json:"generationConfig"`
}

type geminiResponsePayload struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// NewGeminiClient initializes the client.
func NewGeminiClient(cfg config.LLMConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", cfg.Model)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}

	return &GeminiClient{
		apiKey:   cfg.APIKey,
		endpoint: endpoint,
		cfg:      cfg,
		httpClient: &http.Client{
			Timeout: cfg.APITimeout,
		},
		logger:  logger.Named("llm_client.gemini"),
		limiter: limiter,
	}, nil
}

// Decide sends the conversation and returns the schema-validated decision.
// A decode failure is never retried; transport failures are retried only when
// llm.retry is enabled.
func (c *GeminiClient) Decide(ctx context.Context, conv schemas.Conversation) (*schemas.Decision, error) {
	raw, err := c.generate(ctx, conv)
	if err != nil {
		return nil, err
	}

	decision, err := DecodeDecision(raw)
	if err != nil {
		return nil, err
	}
	return decision, nil
}

// generate performs the HTTP round-trip, wrapping transient failures in a
// backoff envelope.
func (c *GeminiClient) generate(ctx context.Context, conv schemas.Conversation) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait aborted: %w", err)
	}

	payload := c.buildRequestPayload(conv)
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = c.cfg.MaxElapsedRetry
	if !c.cfg.Retry {
		// Fail-fast mode: one attempt, no retry envelope.
		b.MaxElapsedTime = time.Nanosecond
	}

	var responseContent string

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", c.apiKey)

		startTime := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		duration := time.Since(startTime)

		if err != nil {
			c.logger.Warn("Network error during decision request.", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return c.handleAPIError(resp.StatusCode, respBody)
		}

		var responsePayload geminiResponsePayload
		if err := json.Unmarshal(respBody, &responsePayload); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}

		if len(responsePayload.Candidates) == 0 {
			return backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
		}

		candidate := responsePayload.Candidates[0]
		if len(candidate.Content.Parts) == 0 {
			if candidate.FinishReason == "SAFETY" || candidate.FinishReason == "BLOCKLIST" {
				return backoff.Permanent(fmt.Errorf("gemini API blocked the request (reason: %s)", candidate.FinishReason))
			}
			return fmt.Errorf("gemini API returned empty content parts (reason: %s)", candidate.FinishReason)
		}

		c.logger.Info("Decision round-trip complete.",
			zap.Duration("duration", duration),
			zap.Int("prompt_tokens", responsePayload.UsageMetadata.PromptTokenCount),
			zap.Int("completion_tokens", responsePayload.UsageMetadata.CandidatesTokenCount),
		)

		responseContent = candidate.Content.Parts[0].Text
		return nil
	}

	if err = backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return responseContent, nil
}

// buildRequestPayload maps the conversation onto the Gemini wire format.
// The system message becomes the system instruction; assistant messages map to
// the "model" role; live screenshots become inline_data parts and placeholder
// text survives as plain text.
func (c *GeminiClient) buildRequestPayload(conv schemas.Conversation) geminiRequestPayload {
	payload := geminiRequestPayload{
		GenerationConfig: geminiGenerationConfig{
			Temperature:      c.cfg.Temperature,
			ResponseMimeType: "application/json",
			MaxOutputTokens:  c.cfg.MaxTokens,
		},
	}

	for _, msg := range conv.Messages {
		parts := make([]geminiPart, 0, len(msg.Parts))
		for _, p := range msg.Parts {
			switch {
			case len(p.Image) > 0:
				parts = append(parts, geminiPart{InlineData: &geminiBlob{
					MimeType: "image/png",
					Data:     base64.StdEncoding.EncodeToString(p.Image),
				}})
			case p.Text != "":
				parts = append(parts, geminiPart{Text: p.Text})
			}
		}
		if len(parts) == 0 {
			continue
		}

		switch msg.Role {
		case schemas.RoleSystem:
			payload.SystemInstruction = &geminiSystemInstruction{Parts: parts}
		case schemas.RoleAssistant:
			payload.Contents = append(payload.Contents, geminiContent{Role: "model", Parts: parts})
		default:
			payload.Contents = append(payload.Contents, geminiContent{Role: "user", Parts: parts})
		}
	}
	return payload
}

func (c *GeminiClient) handleAPIError(statusCode int, body []byte) error {
	c.logger.Error("Gemini API returned error status.", zap.Int("status", statusCode), zap.ByteString("response", body))
	err := fmt.Errorf("gemini API error: status %d, body: %s", statusCode, string(body))

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
		return err // Transient, retryable.
	default:
		return backoff.Permanent(err)
	}
}
