package ai

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// MockProvider answers offline with a canned reply, one word at a time.
type MockProvider struct {
	Delay time.Duration
}

// NewMockProvider returns a mock that waits delay between words.
func NewMockProvider(delay time.Duration) *MockProvider {
	return &MockProvider{Delay: delay}
}

func (p *MockProvider) Name() string { return ProviderMock }

// StreamChat implements Provider.
func (p *MockProvider) StreamChat(ctx context.Context, req ChatRequest) (ChatStream, error) {
	question := ""
	prompt := 0
	for _, m := range req.Messages {
		prompt += len(strings.Fields(m.Content))
		if m.Role == "user" {
			question = m.Content
		}
	}
	answer := mockAnswer(question, len(req.Messages) > 0 && req.Messages[0].Role == "system")
	words := strings.SplitAfter(answer, " ")
	return &mockStream{
		ctx:    ctx,
		delay:  p.Delay,
		words:  words,
		prompt: prompt,
	}, nil
}

func mockAnswer(question string, hasContext bool) string {
	question = strings.TrimSpace(question)
	if len(question) > 80 {
		question = question[:80] + "..."
	}
	var b strings.Builder
	if question == "" {
		b.WriteString("Hello! I am ready to help you with this document. ")
	} else {
		fmt.Fprintf(&b, "You asked: %q. ", question)
	}
	if hasContext {
		b.WriteString("Judging by the pages in view, the text covers the main ideas of this section. ")
	} else {
		b.WriteString("I have no document pages in view for this question. ")
	}
	b.WriteString("This reply comes from the mock provider.")
	return b.String()
}

type mockStream struct {
	ctx    context.Context
	delay  time.Duration
	words  []string
	pos    int
	prompt int
	done   bool
}

func (s *mockStream) Recv() (Delta, error) {
	if s.done {
		return Delta{}, io.EOF
	}
	if s.pos >= len(s.words) {
		s.done = true
		return Delta{Usage: &Usage{PromptTokens: s.prompt, CompletionTokens: len(s.words)}}, nil
	}
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return Delta{}, s.ctx.Err()
		case <-timer.C:
		}
	}
	word := s.words[s.pos]
	s.pos++
	return Delta{Content: word}, nil
}

func (s *mockStream) Close() error { return nil }
