package ai

import (
	"context"
	"time"
)

// ChatMessage is one turn sent to the model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a streaming chat completion request.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
}

// Usage is the token count reported by a provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Delta is one increment of a streamed completion. Either field may be empty.
type Delta struct {
	Content string
	Usage   *Usage
}

// ChatStream yields deltas until Recv returns io.EOF.
type ChatStream interface {
	Recv() (Delta, error)
	Close() error
}

// Provider streams chat completions from a language model.
type Provider interface {
	Name() string
	StreamChat(ctx context.Context, req ChatRequest) (ChatStream, error)
}

// Credential is a short-lived bearer token issued by a provider.
type Credential struct {
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
	IssuedAt  time.Time `json:"issuedAt"`
}

// Expired reports whether the credential should no longer be used at now.
// A credential counts as expired buffer before its real expiry.
func (c Credential) Expired(now time.Time, buffer time.Duration) bool {
	return !now.Before(c.ExpiresAt.Add(-buffer))
}

// CredentialExchanger trades a long-lived secret for a short-lived credential.
// Only providers with token-based auth implement it.
type CredentialExchanger interface {
	ExchangeCredential(ctx context.Context, secret string) (Credential, error)
}
