package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrMissingSecret means the provider's key or auth secret is not configured.
var ErrMissingSecret = errors.New("provider secret is not configured")

// APIError is a non-2xx response from a provider endpoint.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("provider returned %d", e.Status)
	}
	return fmt.Sprintf("provider returned %d: %s", e.Status, body)
}

// CredentialError wraps a failed credential exchange.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string {
	return "get access token: " + e.Err.Error()
}

func (e *CredentialError) Unwrap() error { return e.Err }

// ErrorClass is the category of an upstream failure.
type ErrorClass string

const (
	ClassNone                ErrorClass = ""
	ClassInsufficientBalance ErrorClass = "insufficient_balance"
	ClassUnauthorized        ErrorClass = "unauthorized"
	ClassRateLimited         ErrorClass = "rate_limited"
	ClassConnection          ErrorClass = "connection"
	ClassCredential          ErrorClass = "credential"
	ClassGeneric             ErrorClass = "generic"
)

// Classify maps an upstream error to a class by inspecting its text.
// Providers do not share structured error codes, so the order of the checks
// matters.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	var credErr *CredentialError
	if errors.As(err, &credErr) || errors.Is(err, ErrMissingSecret) {
		return ClassCredential
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "Insufficient Balance") || strings.Contains(msg, "402"):
		return ClassInsufficientBalance
	case strings.Contains(msg, "401") || strings.Contains(msg, "Unauthorized"):
		return ClassUnauthorized
	case strings.Contains(msg, "429") || strings.Contains(lower, "rate limit"):
		return ClassRateLimited
	case isTimeout(err) || strings.Contains(msg, "Connection error") || strings.Contains(lower, "connection"):
		return ClassConnection
	default:
		return ClassGeneric
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// FailureMessage is the user-facing text for a failed response.
func FailureMessage(provider string, class ErrorClass, err error) string {
	gigachat := provider == ProviderGigaChat
	switch class {
	case ClassInsufficientBalance:
		if gigachat {
			return "❌ **API Error**: Insufficient balance on your GigaChat account. Please:\n\n1. Check your GigaChat account balance at https://developers.sber.ru\n2. Add credits to your account\n3. Verify your API key is correct"
		}
		return "❌ **API Error**: Insufficient balance on your DeepSeek account. Please:\n\n1. Check your DeepSeek account balance at https://platform.deepseek.com\n2. Add credits to your account\n3. Verify your API key is correct\n\nIf you need a new API key, get one from https://platform.deepseek.com/api_keys"
	case ClassUnauthorized:
		if gigachat {
			return "❌ **API Error**: Invalid GigaChat authorization key. Please check your `GIGACHAT_AUTH_KEY` in the server configuration."
		}
		return "❌ **API Error**: Invalid DeepSeek API key. Please check your `DEEPSEEK_API_KEY` in the server configuration."
	case ClassRateLimited:
		return "❌ **API Error**: Rate limit exceeded. Please wait a moment and try again."
	case ClassConnection:
		if gigachat {
			return "❌ **Connection Error**: Unable to connect to GigaChat API. This might be due to:\n\n1. Network connectivity issues\n2. GigaChat API server maintenance\n3. Firewall or proxy restrictions\n\nPlease try again in a few moments."
		}
		return fmt.Sprintf("❌ **Connection Error**: %v", err)
	case ClassCredential:
		if gigachat {
			return "❌ **GigaChat Error**: Failed to get access token. Please check your GIGACHAT_AUTH_KEY."
		}
		return FailureMessage(provider, ClassUnauthorized, err)
	default:
		return fmt.Sprintf("❌ **Error**: %v", err)
	}
}
