package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2000
)

// EventKind tags an Event.
type EventKind string

const (
	EventChunk EventKind = "chunk"
	EventUsage EventKind = "usage"
)

// Event is either a text chunk or the final token usage of a response.
type Event struct {
	Kind EventKind
	Text string
	// Failure is set on the chunk that replaces a failed response.
	Failure ErrorClass

	PromptTokens     int
	CompletionTokens int
}

// Total is prompt plus completion tokens.
func (e Event) Total() int {
	return e.PromptTokens + e.CompletionTokens
}

// PromptContext is the document text shown to the model.
type PromptContext struct {
	Description string
	Pages       []int
	Text        string
}

// StreamRequest is one assistant reply to produce.
type StreamRequest struct {
	Messages []ChatMessage
	Context  *PromptContext
}

// GeneratorConfig tunes completion parameters.
type GeneratorConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Generator streams assistant replies from a provider.
type Generator struct {
	provider Provider
	cfg      GeneratorConfig
}

// NewGenerator wraps provider with completion defaults.
func NewGenerator(provider Provider, cfg GeneratorConfig) *Generator {
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return &Generator{provider: provider, cfg: cfg}
}

// ProviderName returns the wrapped provider's name.
func (g *Generator) ProviderName() string {
	return g.provider.Name()
}

// Stream starts the reply and returns its events. Chunks arrive in upstream
// order; a usage event, when the provider reports one, is always last.
// Upstream failures end the stream with a single chunk carrying a readable
// message and Failure set. The channel closes when the reply ends or ctx is
// cancelled.
func (g *Generator) Stream(ctx context.Context, req StreamRequest) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		send := func(ev Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		fail := func(err error) {
			if ctx.Err() != nil {
				return
			}
			class := Classify(err)
			slog.Error("ai response failed", "provider", g.provider.Name(), "class", string(class), "err", err)
			send(Event{Kind: EventChunk, Text: FailureMessage(g.provider.Name(), class, err), Failure: class})
		}

		stream, err := g.provider.StreamChat(ctx, ChatRequest{
			Model:       g.cfg.Model,
			Messages:    BuildMessages(req),
			Temperature: g.cfg.Temperature,
			MaxTokens:   g.cfg.MaxTokens,
		})
		if err != nil {
			fail(err)
			return
		}
		defer stream.Close()

		var usage *Usage
		for {
			delta, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				fail(err)
				return
			}
			if delta.Usage != nil {
				usage = delta.Usage
			}
			if delta.Content != "" {
				if !send(Event{Kind: EventChunk, Text: delta.Content}) {
					return
				}
			}
		}
		if usage != nil {
			send(Event{Kind: EventUsage, PromptTokens: usage.PromptTokens, CompletionTokens: usage.CompletionTokens})
		}
	}()
	return out
}

// BuildMessages prepends the document system prompt, if any, to the
// conversation.
func BuildMessages(req StreamRequest) []ChatMessage {
	msgs := make([]ChatMessage, 0, len(req.Messages)+1)
	if req.Context != nil {
		msgs = append(msgs, ChatMessage{Role: "system", Content: SystemPrompt(*req.Context)})
	}
	return append(msgs, req.Messages...)
}

// SystemPrompt renders the reading-assistant instructions around pc.
func SystemPrompt(pc PromptContext) string {
	pages := joinInts(pc.Pages)
	var b strings.Builder
	b.WriteString("You are an AI reading assistant helping users understand PDF documents.\n\n")
	fmt.Fprintf(&b, "Current context: %s\n\n", pc.Description)
	fmt.Fprintf(&b, "Document content from pages %s:\n%s\n\n", pages, pc.Text)
	b.WriteString("Instructions:\n")
	b.WriteString("- Answer questions about the document content\n")
	b.WriteString("- Provide explanations and insights\n")
	b.WriteString("- Help users understand complex topics\n")
	b.WriteString("- Reference specific pages when relevant\n")
	b.WriteString("- Be concise but thorough\n")
	fmt.Fprintf(&b, "- If asked about content not in the current context, mention that you can only see pages %s", pages)
	return b.String()
}

// PageDescription describes single-page context.
func PageDescription(current, total int) string {
	return fmt.Sprintf("You are viewing page %d of %d pages.", current, total)
}

// ChapterDescription describes chapter or section context.
func ChapterDescription(title string, from, to, total int) string {
	return fmt.Sprintf("You are reading the chapter %q (pages %d-%d) of a %d-page document.", title, from, to, total)
}

// DocumentDescription describes whole-document context.
func DocumentDescription(shown, total int) string {
	return fmt.Sprintf("You are looking at the whole document (first %d of %d pages).", shown, total)
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}
