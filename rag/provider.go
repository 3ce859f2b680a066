package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultProviderTimeout = 60 * time.Second

// ChatRequest is a single text-generation request.
type ChatRequest struct {
	Model       string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// ChatProvider is the capability interface for one generation-model provider.
type ChatProvider interface {
	Name() string
	Generate(ctx context.Context, req ChatRequest) (string, error)
}

// OpenAIChatProvider implements ChatProvider against an OpenAI-compatible
// chat-completions endpoint. DeepSeek and Clarin expose the same wire format
// under a different base URL.
type OpenAIChatProvider struct {
	ProviderName string
	BaseURL      string
	APIKey       string
	HTTPClient   *http.Client
}

// NewOpenAIChatProvider creates a provider with optional overrides.
func NewOpenAIChatProvider(name, baseURL, apiKey string) *OpenAIChatProvider {
	trimmedBaseURL := strings.TrimSpace(baseURL)
	if trimmedBaseURL == "" {
		trimmedBaseURL = "https://api.openai.com/v1"
	}
	return &OpenAIChatProvider{
		ProviderName: name,
		BaseURL:      trimmedBaseURL,
		APIKey:       apiKey,
	}
}

func (p *OpenAIChatProvider) Name() string { return p.ProviderName }

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate performs one chat-completion call and returns the raw assistant
// text. Callers must treat the output as untrusted and pass it through the
// query safety guard before use.
func (p *OpenAIChatProvider) Generate(ctx context.Context, req ChatRequest) (string, error) {
	payload, err := json.Marshal(chatCompletionRequest{
		Model:       req.Model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	endpoint := strings.TrimRight(p.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("chat request to %s: %w", p.ProviderName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if len(body) == 0 {
			return "", fmt.Errorf("chat request to %s failed with status %d", p.ProviderName, resp.StatusCode)
		}
		return "", fmt.Errorf("chat request to %s failed with status %d: %s", p.ProviderName, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode chat response from %s: %w", p.ProviderName, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat response from %s contained no choices", p.ProviderName)
	}
	return parsed.Choices[0].Message.Content, nil
}

// ProviderChain tries providers in configured order with a per-provider
// timeout and returns the first successful result. Exhausting the list is a
// terminal failure reported as *ProviderExhaustedError.
type ProviderChain struct {
	Providers []ChatProvider
	Timeout   time.Duration
	Logger    *slog.Logger
}

func (c *ProviderChain) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultProviderTimeout
}

func (c *ProviderChain) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Generate runs req through the chain.
func (c *ProviderChain) Generate(ctx context.Context, req ChatRequest) (string, error) {
	if len(c.Providers) == 0 {
		return "", ErrNoProviders
	}

	var failures []ProviderFailure
	for _, provider := range c.Providers {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout())
		out, err := provider.Generate(callCtx, req)
		cancel()
		if err == nil {
			return out, nil
		}
		failures = append(failures, ProviderFailure{Provider: provider.Name(), Err: err})
		c.logger().WarnContext(ctx, "chat provider failed, trying next",
			"provider", provider.Name(),
			"model", req.Model,
			"error", err,
		)
		if ctx.Err() != nil {
			break
		}
	}
	return "", &ProviderExhaustedError{Failures: failures}
}
