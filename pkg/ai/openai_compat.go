package ai

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const maxErrorBody = 4 << 10

// errStreamIdle cancels a stream whose upstream went quiet for longer than
// the idle timeout. It classifies as a connection failure.
var errStreamIdle = fmt.Errorf("upstream stream idle: %w", context.DeadlineExceeded)

// streamingTransport bounds dialing, the TLS handshake and the wait for
// response headers. The body itself has no total deadline; compatClient
// enforces an idle gap between reads instead.
func streamingTransport(timeout time.Duration, insecureTLS bool) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = timeout
	transport.ResponseHeaderTimeout = timeout
	if insecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return transport
}

// compatClient streams /chat/completions from an OpenAI-compatible API.
type compatClient struct {
	baseURL    string
	httpClient *http.Client
	// idleTimeout is the longest gap allowed between stream reads.
	idleTimeout time.Duration
}

func newCompatClient(baseURL string, timeout time.Duration, insecureTLS bool) compatClient {
	return compatClient{
		baseURL:     baseURL,
		httpClient:  &http.Client{Transport: streamingTransport(timeout, insecureTLS)},
		idleTimeout: timeout,
	}
}

type oaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type oaiChatRequest struct {
	Model         string            `json:"model"`
	Messages      []ChatMessage     `json:"messages"`
	Stream        bool              `json:"stream"`
	Temperature   float64           `json:"temperature"`
	MaxTokens     int               `json:"max_tokens,omitempty"`
	StreamOptions *oaiStreamOptions `json:"stream_options,omitempty"`
}

type oaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

func (c *compatClient) stream(ctx context.Context, bearer string, req ChatRequest) (ChatStream, error) {
	body, err := json.Marshal(oaiChatRequest{
		Model:         req.Model,
		Messages:      req.Messages,
		Stream:        true,
		Temperature:   req.Temperature,
		MaxTokens:     req.MaxTokens,
		StreamOptions: &oaiStreamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancelCause(ctx)
	idle := newIdleTimer(c.idleTimeout, cancel)
	fail := func(err error) (ChatStream, error) {
		idle.stop()
		cancel(nil)
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fail(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fail(fmt.Errorf("chat request: %w", idleCause(ctx, err)))
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fail(&APIError{Status: resp.StatusCode, Body: string(raw)})
	}
	idle.reset()
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	return &sseStream{ctx: ctx, cancel: cancel, idle: idle, body: resp.Body, scanner: scanner}, nil
}

// idleTimer cancels a request when it is not reset within timeout.
// A zero timeout never fires.
type idleTimer struct {
	timeout time.Duration
	timer   *time.Timer
}

func newIdleTimer(timeout time.Duration, cancel context.CancelCauseFunc) *idleTimer {
	t := &idleTimer{timeout: timeout}
	if timeout > 0 {
		t.timer = time.AfterFunc(timeout, func() { cancel(errStreamIdle) })
	}
	return t
}

func (t *idleTimer) reset() {
	if t.timer != nil {
		t.timer.Reset(t.timeout)
	}
}

func (t *idleTimer) stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

// idleCause reports errStreamIdle in place of the transport's generic
// cancellation error when the idle timer fired.
func idleCause(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), errStreamIdle) {
		return errStreamIdle
	}
	return err
}

// sseStream decodes "data:" lines of a server-sent event stream.
type sseStream struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	idle    *idleTimer
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func (s *sseStream) Recv() (Delta, error) {
	for !s.done && s.scanner.Scan() {
		s.idle.reset()
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			s.done = true
			break
		}
		var chunk oaiStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return Delta{}, fmt.Errorf("decode stream chunk: %w", err)
		}
		var d Delta
		if len(chunk.Choices) > 0 {
			d.Content = chunk.Choices[0].Delta.Content
		}
		d.Usage = chunk.Usage
		if d.Content == "" && d.Usage == nil {
			continue
		}
		return d, nil
	}
	if err := s.scanner.Err(); err != nil && !s.done {
		return Delta{}, fmt.Errorf("read stream: %w", idleCause(s.ctx, err))
	}
	return Delta{}, io.EOF
}

func (s *sseStream) Close() error {
	s.idle.stop()
	err := s.body.Close()
	s.cancel(nil)
	return err
}
