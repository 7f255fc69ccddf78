package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/slidefix/internal/domain"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai-compatible"

	anthropicVersion = "2023-06-01"
)

// Completer sends one system+user prompt pair to a text completion service.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// LLMConfig holds configuration for the completion client.
type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// ServiceError is a completion call that reached the service but did not
// produce a usable answer.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.StatusCode == 0 {
		return "completion service: " + e.Message
	}
	return fmt.Sprintf("completion service returned HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *ServiceError) Unwrap() error { return domain.ErrExternalService }

// transient reports whether the failure says something about service
// health rather than about one request.
func (e *ServiceError) transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// isTransportFailure reports whether err should count against the circuit
// breaker: the request never completed, or the service itself is failing.
func isTransportFailure(err error) bool {
	if err == nil {
		return false
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se.transient()
	}
	return true
}

// LLMService is a Completer for either the Anthropic messages API or an
// OpenAI-compatible chat completions endpoint.
type LLMService struct {
	client      *resty.Client
	provider    string
	model       string
	endpoint    string
	maxTokens   int
	temperature float64
}

// NewLLMService creates a new completion client.
// Parameters:
//   - cfg: provider, model, credentials and sampling settings.
//
// Returns:
//   - *LLMService: initialized client wrapper.
func NewLLMService(cfg *LLMConfig) *LLMService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 500
	}

	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(timeout)

	provider := cfg.Provider
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	var endpoint string
	switch provider {
	case ProviderAnthropic:
		if baseURL == "" {
			baseURL = "https://api.anthropic.com"
		}
		endpoint = baseURL + "/v1/messages"
		client.SetHeader("x-api-key", cfg.APIKey)
		client.SetHeader("anthropic-version", anthropicVersion)
	default:
		provider = ProviderOpenAI
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		endpoint = baseURL + "/chat/completions"
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}

	return &LLMService{
		client:      client,
		provider:    provider,
		model:       cfg.Model,
		endpoint:    endpoint,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}
}

// GetModel returns the model name being used.
func (s *LLMService) GetModel() string {
	return s.model
}

// Anthropic messages API structures
type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// OpenAI-compatible Chat Completion API structures
type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
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

// Complete sends one prompt and returns the text of the reply.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - system: system prompt.
//   - user: user prompt.
//
// Returns:
//   - string: reply text.
//   - error: wraps domain.ErrExternalService; a *ServiceError when the
//     service answered but the answer is unusable.
func (s *LLMService) Complete(ctx context.Context, system, user string) (string, error) {
	if s.provider == ProviderAnthropic {
		return s.completeAnthropic(ctx, system, user)
	}
	return s.completeOpenAI(ctx, system, user)
}

func (s *LLMService) completeAnthropic(ctx context.Context, system, user string) (string, error) {
	req := anthropicRequest{
		Model:       s.model,
		System:      system,
		Messages:    []anthropicMessage{{Role: "user", Content: user}},
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	}

	var resp anthropicResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(s.endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: failed to call completion API: %w", domain.ErrExternalService, err)
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		msg := string(httpResp.Body())
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return "", &ServiceError{StatusCode: httpResp.StatusCode(), Message: msg}
	}
	if resp.Error != nil {
		return "", &ServiceError{Message: resp.Error.Message}
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "" || block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", &ServiceError{Message: "empty response content"}
	}
	return b.String(), nil
}

func (s *LLMService) completeOpenAI(ctx context.Context, system, user string) (string, error) {
	req := openAIRequest{
		Model: s.model,
		Messages: []openAIMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	}

	var resp openAIResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(s.endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: failed to call completion API: %w", domain.ErrExternalService, err)
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		msg := string(httpResp.Body())
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return "", &ServiceError{StatusCode: httpResp.StatusCode(), Message: msg}
	}
	if resp.Error != nil {
		return "", &ServiceError{Message: resp.Error.Message}
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", &ServiceError{Message: fmt.Sprintf("no choices in response (status: %d)", httpResp.StatusCode())}
	}
	return resp.Choices[0].Message.Content, nil
}
