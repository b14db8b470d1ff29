package ai

import (
	"context"
	"strings"
	"time"
)

// Provider names.
const (
	ProviderDeepSeek = "deepseek"
	ProviderGigaChat = "gigachat"
	ProviderMock     = "mock"
)

const (
	DefaultDeepSeekBaseURL = "https://api.deepseek.com"
	DefaultDeepSeekModel   = "deepseek-chat"
)

// DeepSeekConfig configures the key-based provider.
type DeepSeekConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	// Timeout bounds connecting, the response headers and each gap between
	// streamed chunks. A long answer that keeps streaming is not cut.
	Timeout time.Duration
}

// DeepSeekProvider calls DeepSeek's OpenAI-compatible API with a static key.
type DeepSeekProvider struct {
	client compatClient
	apiKey string
	model  string
}

// NewDeepSeekProvider builds a DeepSeek provider.
func NewDeepSeekProvider(cfg DeepSeekConfig) *DeepSeekProvider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultDeepSeekBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultDeepSeekModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &DeepSeekProvider{
		client: newCompatClient(baseURL, timeout, false),
		apiKey: strings.TrimSpace(cfg.APIKey),
		model:  model,
	}
}

func (p *DeepSeekProvider) Name() string { return ProviderDeepSeek }

// DefaultModel returns the configured model name.
func (p *DeepSeekProvider) DefaultModel() string { return p.model }

// StreamChat implements Provider.
func (p *DeepSeekProvider) StreamChat(ctx context.Context, req ChatRequest) (ChatStream, error) {
	if p.apiKey == "" {
		return nil, ErrMissingSecret
	}
	if req.Model == "" {
		req.Model = p.model
	}
	return p.client.stream(ctx, p.apiKey, req)
}
