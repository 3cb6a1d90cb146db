package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/scrapewatch/internal/domain"
	"github.com/timmy/scrapewatch/internal/logger"
	"github.com/timmy/scrapewatch/internal/prompts"
)

// SchemaSynthesizer turns a natural-language instruction into a candidate
// extraction schema for a page.
type SchemaSynthesizer interface {
	Synthesize(ctx context.Context, pageURL, instruction string) (*domain.ExtractionSchema, error)
}

// LLMSynthesizer asks an OpenAI-compatible chat completion endpoint for the schema.
type LLMSynthesizer struct {
	client    *resty.Client
	model     string
	endpoint  string
	maxTokens int
	logger    *logger.Logger
}

// SynthesizerConfig holds configuration for the LLM synthesizer.
type SynthesizerConfig struct {
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int
	Timeout   time.Duration
}

// NewLLMSynthesizer creates a new LLM-backed schema synthesizer.
// Parameters:
//   - cfg: model, credentials and endpoint of the chat completion API.
//   - log: fallback logger when the context carries none.
//
// Returns:
//   - *LLMSynthesizer: initialized synthesizer.
func NewLLMSynthesizer(cfg *SynthesizerConfig, log *logger.Logger) *LLMSynthesizer {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client.SetTimeout(timeout)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1200
	}

	return &LLMSynthesizer{
		client:    client,
		model:     cfg.Model,
		endpoint:  strings.TrimRight(baseURL, "/") + "/chat/completions",
		maxTokens: maxTokens,
		logger:    log,
	}
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Synthesize generates a schema for pageURL following instruction. A schema
// that fails structural validation gets one repair round trip.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - pageURL: the page the schema targets.
//   - instruction: what the user wants extracted.
//
// Returns:
//   - *domain.ExtractionSchema: structurally valid schema.
//   - error: SynthesisError on any failure.
func (s *LLMSynthesizer) Synthesize(ctx context.Context, pageURL, instruction string) (*domain.ExtractionSchema, error) {
	messages := []chatMessage{
		{Role: "system", Content: prompts.SchemaSystemPrompt},
		{Role: "user", Content: prompts.SchemaUserPrompt(pageURL, instruction)},
	}

	raw, err := s.complete(ctx, messages)
	if err != nil {
		return nil, domain.NewSynthesisError("complete", err)
	}

	schema, parseErr := ParseSchemaResponse(raw)
	if parseErr == nil {
		return schema, nil
	}

	logger.FromContextOr(ctx, s.logger).WithError(parseErr).Warn("Synthesized schema rejected, asking for a repair")

	messages = append(messages,
		chatMessage{Role: "assistant", Content: raw},
		chatMessage{Role: "user", Content: prompts.SchemaRepairPrompt(parseErr.Error())},
	)
	raw, err = s.complete(ctx, messages)
	if err != nil {
		return nil, domain.NewSynthesisError("repair", err)
	}
	schema, err = ParseSchemaResponse(raw)
	if err != nil {
		return nil, domain.NewSynthesisError("parse", err)
	}
	return schema, nil
}

func (s *LLMSynthesizer) complete(ctx context.Context, messages []chatMessage) (string, error) {
	req := chatRequest{
		Model:          s.model,
		Messages:       messages,
		MaxTokens:      s.maxTokens,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	var resp chatResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(s.endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to call synthesis API: %w", err)
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		if resp.Error != nil {
			return "", fmt.Errorf("synthesis API returned HTTP %d: %s", httpResp.StatusCode(), resp.Error.Message)
		}
		return "", fmt.Errorf("synthesis API returned HTTP %d: %s", httpResp.StatusCode(), string(httpResp.Body()))
	}
	if resp.Error != nil {
		return "", fmt.Errorf("synthesis API error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in synthesis response")
	}
	return resp.Choices[0].Message.Content, nil
}

// ParseSchemaResponse decodes a model reply into a schema, tolerating
// markdown code fences around the JSON.
func ParseSchemaResponse(text string) (*domain.ExtractionSchema, error) {
	text = stripCodeFence(text)
	if text == "" {
		return nil, errors.New("empty response")
	}

	var schema domain.ExtractionSchema
	if err := json.Unmarshal([]byte(text), &schema); err != nil {
		return nil, fmt.Errorf("response is not a schema: %w", err)
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return &schema, nil
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	end := len(lines)
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			end = i
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines[1:end], "\n"))
}
