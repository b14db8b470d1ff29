package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultGigaChatOAuthURL = "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"
	DefaultGigaChatBaseURL  = "https://gigachat.devices.sberbank.ru/api/v1"
	DefaultGigaChatModel    = "GigaChat"
	DefaultGigaChatScope    = "GIGACHAT_API_PERS"
	gigaChatTimeout         = 30 * time.Second
)

// GigaChatConfig configures the token-exchange provider.
type GigaChatConfig struct {
	OAuthURL string
	BaseURL  string
	Scope    string
	Model    string
	// InsecureTLS disables certificate verification for both endpoints.
	InsecureTLS bool
	// Timeout is the total limit for the token exchange. For chat it bounds
	// connecting, the response headers and each gap between chunks.
	Timeout time.Duration
}

func (cfg GigaChatConfig) withDefaults() GigaChatConfig {
	if strings.TrimSpace(cfg.OAuthURL) == "" {
		cfg.OAuthURL = DefaultGigaChatOAuthURL
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGigaChatBaseURL
	}
	if strings.TrimSpace(cfg.Scope) == "" {
		cfg.Scope = DefaultGigaChatScope
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultGigaChatModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = gigaChatTimeout
	}
	return cfg
}

// gigaChatAuthClient serves the short OAuth exchange, so a total timeout
// applies there.
func gigaChatAuthClient(cfg GigaChatConfig) *http.Client {
	return &http.Client{Timeout: cfg.Timeout, Transport: streamingTransport(cfg.Timeout, cfg.InsecureTLS)}
}

// GigaChatAuth exchanges the GigaChat authorization key for access tokens.
type GigaChatAuth struct {
	oauthURL   string
	scope      string
	httpClient *http.Client
}

// NewGigaChatAuth builds the OAuth exchanger.
func NewGigaChatAuth(cfg GigaChatConfig) *GigaChatAuth {
	cfg = cfg.withDefaults()
	return &GigaChatAuth{
		oauthURL:   cfg.OAuthURL,
		scope:      cfg.Scope,
		httpClient: gigaChatAuthClient(cfg),
	}
}

type gigaChatTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
}

// ExchangeCredential implements CredentialExchanger.
func (a *GigaChatAuth) ExchangeCredential(ctx context.Context, secret string) (Credential, error) {
	form := url.Values{"scope": {a.scope}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.oauthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Credential{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("RqUID", uuid.NewString())
	req.Header.Set("Authorization", "Basic "+secret)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("oauth request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Credential{}, &APIError{Status: resp.StatusCode, Body: string(raw)}
	}
	var out gigaChatTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Credential{}, fmt.Errorf("decode oauth response: %w", err)
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return Credential{}, errEmptyToken
	}
	cred := Credential{Token: out.AccessToken, IssuedAt: time.Now().UTC()}
	switch {
	case out.ExpiresAt > 1e12:
		cred.ExpiresAt = time.UnixMilli(out.ExpiresAt).UTC()
	case out.ExpiresAt > 0:
		cred.ExpiresAt = time.Unix(out.ExpiresAt, 0).UTC()
	}
	return cred, nil
}

// GigaChatProvider streams from GigaChat using cached access tokens.
type GigaChatProvider struct {
	client compatClient
	tokens *CredentialCache
	model  string
}

// NewGigaChatProvider builds the provider around a process-wide token cache.
func NewGigaChatProvider(cfg GigaChatConfig, tokens *CredentialCache) *GigaChatProvider {
	cfg = cfg.withDefaults()
	return &GigaChatProvider{
		client: newCompatClient(cfg.BaseURL, cfg.Timeout, cfg.InsecureTLS),
		tokens: tokens,
		model:  cfg.Model,
	}
}

func (p *GigaChatProvider) Name() string { return ProviderGigaChat }

// DefaultModel returns the configured model name.
func (p *GigaChatProvider) DefaultModel() string { return p.model }

// StreamChat implements Provider. A rejected token is dropped from the cache
// so the next request exchanges a fresh one.
func (p *GigaChatProvider) StreamChat(ctx context.Context, req ChatRequest) (ChatStream, error) {
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	if req.Model == "" {
		req.Model = p.model
	}
	stream, err := p.client.stream(ctx, token, req)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		p.tokens.Invalidate()
	}
	return stream, err
}
