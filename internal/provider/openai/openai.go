// Package openai implements the provider boundary against any
// OpenAI-compatible chat completions endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/manyfutures/foresight/internal/config"
	"github.com/manyfutures/foresight/internal/provider"
	"github.com/oklog/ulid/v2"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "openai"
}

func (f *Factory) NewProvider(cfg config.ProviderConfig) (provider.Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, provider.ErrInvalidConfig
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, provider.ErrInvalidConfig
	}

	return &Adapter{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		model:   model,
		client:  &http.Client{Timeout: 5 * time.Minute},
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}, nil
}

type Adapter struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	entropy io.Reader
}

func (a *Adapter) Name() string { return "openai" }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (a *Adapter) Generate(ctx context.Context, req provider.GenerationRequest) (*provider.Completion, error) {
	requestID := ulid.MustNew(ulid.Timestamp(time.Now()), a.entropy).String()

	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       a.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	httpReq.Header.Set("X-Request-Id", requestID)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", provider.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, a.classifyHTTPError(resp.StatusCode, payload)
	}

	var parsed chatResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrMalformedOutput, err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", provider.ErrMalformedOutput)
	}
	choice := parsed.Choices[0]
	if choice.FinishReason == "content_filter" {
		return nil, provider.ErrContentPolicy
	}

	model := parsed.Model
	if model == "" {
		model = a.model
	}

	return &provider.Completion{
		Text:             choice.Message.Content,
		Model:            model,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		RequestID:        requestID,
	}, nil
}

func (a *Adapter) classifyHTTPError(status int, payload []byte) error {
	var parsed apiError
	_ = json.Unmarshal(payload, &parsed)
	message := parsed.Error.Message
	if message == "" {
		message = http.StatusText(status)
	}

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", provider.ErrRateLimited, message)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s", provider.ErrTimeout, message)
	case status >= 500:
		return fmt.Errorf("%w: %s", provider.ErrUnavailable, message)
	case parsed.Error.Code == "content_policy_violation" || parsed.Error.Type == "content_filter":
		return fmt.Errorf("%w: %s", provider.ErrContentPolicy, message)
	default:
		return fmt.Errorf("%w: status %d: %s", provider.ErrMalformedOutput, status, message)
	}
}
