package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"pdfreader/internal/util"
	"pdfreader/pkg/ai"
	"pdfreader/pkg/domain"
	"pdfreader/pkg/events"
	"pdfreader/pkg/pages"
	"pdfreader/pkg/usage"
)

const (
	defaultThreadTitle = "New conversation"
	maxThreadTitle     = 120
	maxQuestionRunes   = 8000
)

// AskInput is one user question and what the reader is looking at.
type AskInput struct {
	Content     string `json:"content"`
	PageContext *int   `json:"pageContext"`
	ContextType string `json:"contextType"`
	ChapterID   string `json:"chapterId"`
	// TotalPages overrides the stored page count when positive.
	TotalPages int `json:"totalPages"`
}

// AskResult is what Ask persisted.
type AskResult struct {
	UserMessage      domain.Message
	AssistantMessage domain.Message
	Failure          ai.ErrorClass
}

// CreateThread starts a conversation about a document the user owns.
func (a *App) CreateThread(userID, documentID, title string) (domain.Thread, error) {
	doc, err := a.ownedDocument(userID, documentID)
	if err != nil {
		return domain.Thread{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultThreadTitle
	}
	if utf8.RuneCountInString(title) > maxThreadTitle {
		title = string([]rune(title)[:maxThreadTitle])
	}
	now := a.now().UTC()
	thread := domain.Thread{
		ID:         util.NewID(),
		DocumentID: doc.ID,
		OwnerID:    userID,
		Title:      title,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := a.store.CreateThread(thread); err != nil {
		return domain.Thread{}, fmt.Errorf("create thread: %w", err)
	}
	return thread, nil
}

// ListThreads returns the user's threads for a document.
func (a *App) ListThreads(userID, documentID string) ([]domain.Thread, error) {
	doc, err := a.ownedDocument(userID, documentID)
	if err != nil {
		return nil, err
	}
	return a.store.ListThreads(doc.ID, userID)
}

// GetThread returns a thread the user owns.
func (a *App) GetThread(userID, id string) (domain.Thread, error) {
	return a.ownedThread(userID, id)
}

// DeleteThread removes a thread and its messages.
func (a *App) DeleteThread(userID, id string) error {
	thread, err := a.ownedThread(userID, id)
	if err != nil {
		return err
	}
	return a.store.DeleteThread(thread.ID)
}

// ListMessages returns up to limit of the latest messages, oldest first.
func (a *App) ListMessages(userID, threadID string, limit int) ([]domain.Message, error) {
	thread, err := a.ownedThread(userID, threadID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	return a.store.ListMessages(thread.ID, limit)
}

// Ask answers a question in a thread. Model output is passed to emit as it
// arrives. An error returned before the first emit means nothing was
// streamed; quota denials are such errors.
func (a *App) Ask(ctx context.Context, userID, threadID string, in AskInput, emit func(ai.Event)) (AskResult, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return AskResult{}, ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > maxQuestionRunes {
		return AskResult{}, invalid(fmt.Sprintf("message must be at most %d characters", maxQuestionRunes))
	}
	thread, err := a.ownedThread(userID, threadID)
	if err != nil {
		return AskResult{}, err
	}
	doc, err := a.ownedDocument(userID, thread.DocumentID)
	if err != nil {
		return AskResult{}, err
	}
	estimate := estimateTokens(content)
	if err := a.enforce(ctx, userID,
		func() (usage.Decision, error) { return a.ledger.CheckQuestions(userID) },
		func() (usage.Decision, error) { return a.ledger.CheckTokens(userID, estimate) },
	); err != nil {
		return AskResult{}, err
	}

	history, err := a.store.ListMessages(thread.ID, a.historyLimit)
	if err != nil {
		return AskResult{}, fmt.Errorf("load history: %w", err)
	}
	turn := a.buildContext(ctx, doc, in)

	now := a.now().UTC()
	userMsg := domain.Message{
		ID:           util.NewSortableID(),
		ThreadID:     thread.ID,
		Role:         domain.RoleUser,
		Content:      content,
		PageContext:  turn.page,
		ContextType:  turn.contextType,
		ChapterID:    turn.chapterID,
		ContextPages: turn.pages,
		CreatedAt:    now,
	}
	if err := a.store.AppendMessage(userMsg); err != nil {
		return AskResult{}, fmt.Errorf("save question: %w", err)
	}

	messages := make([]ai.ChatMessage, 0, len(history)+1)
	for _, m := range history {
		if m.Role != domain.RoleUser && m.Role != domain.RoleAssistant {
			continue
		}
		messages = append(messages, ai.ChatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, ai.ChatMessage{Role: domain.RoleUser, Content: content})

	var (
		answer  strings.Builder
		failure ai.ErrorClass
		final   ai.Event
	)
	for ev := range a.generator.Stream(ctx, ai.StreamRequest{Messages: messages, Context: turn.prompt}) {
		switch ev.Kind {
		case ai.EventChunk:
			answer.WriteString(ev.Text)
			if ev.Failure != ai.ClassNone {
				failure = ev.Failure
			}
		case ai.EventUsage:
			final = ev
		}
		emit(ev)
	}

	// The client may be gone; what was produced is still stored and metered.
	persistCtx := context.WithoutCancel(ctx)
	assistant := domain.Message{
		ID:               util.NewSortableID(),
		ThreadID:         thread.ID,
		Role:             domain.RoleAssistant,
		Content:          answer.String(),
		PageContext:      turn.page,
		ContextType:      turn.contextType,
		ChapterID:        turn.chapterID,
		ContextPages:     turn.pages,
		PromptTokens:     final.PromptTokens,
		CompletionTokens: final.CompletionTokens,
		CreatedAt:        a.now().UTC(),
	}
	result := AskResult{UserMessage: userMsg, AssistantMessage: assistant, Failure: failure}
	if assistant.Content != "" {
		if err := a.store.AppendMessage(assistant); err != nil {
			return result, fmt.Errorf("save answer: %w", err)
		}
	}
	if err := a.store.TouchThread(thread.ID, assistant.CreatedAt); err != nil {
		slog.Warn("touch thread failed", "thread_id", thread.ID, "err", err)
	}
	if failure != ai.ClassNone {
		return result, nil
	}
	a.record(userID, domain.UsageDelta{Questions: 1, Tokens: int64(final.Total())})
	events.Emit(persistCtx, a.events, events.ChatCompleted, map[string]any{
		"userId":           userID,
		"documentId":       doc.ID,
		"threadId":         thread.ID,
		"messageId":        assistant.ID,
		"provider":         a.generator.ProviderName(),
		"promptTokens":     final.PromptTokens,
		"completionTokens": final.CompletionTokens,
	})
	return result, nil
}

// chatTurn is the resolved document context of one question.
type chatTurn struct {
	prompt      *ai.PromptContext
	contextType domain.ContextType
	page        *int
	chapterID   string
	pages       []int
}

// buildContext resolves which pages the model sees and extracts their text.
// Without a known page count the question is sent without document context.
func (a *App) buildContext(ctx context.Context, doc domain.Document, in AskInput) chatTurn {
	turn := chatTurn{contextType: domain.ParseContextType(in.ContextType)}
	if in.PageContext != nil {
		page := *in.PageContext
		turn.page = &page
	}
	if turn.contextType == domain.ContextNone {
		return turn
	}
	total := in.TotalPages
	if total <= 0 {
		total = doc.PageCount
	}
	if total < 1 {
		return turn
	}
	current := 1
	if turn.page != nil {
		current = min(max(*turn.page, 1), total)
	}

	var chapter *pages.Chapter
	if (turn.contextType == domain.ContextChapter || turn.contextType == domain.ContextSection) && in.ChapterID != "" {
		if entry, ok := a.chapterEntry(doc.ID, in.ChapterID); ok {
			chapter = &pages.Chapter{Title: entry.Title, PageFrom: entry.PageFrom, PageTo: entry.PageTo}
			turn.chapterID = entry.ID
		}
	}
	turn.pages = pages.ContextPages(pages.Request{
		CurrentPage: current,
		TotalPages:  total,
		ContextType: turn.contextType,
		Chapter:     chapter,
	}, a.pageOptions)

	var description string
	switch {
	case chapter != nil:
		description = ai.ChapterDescription(chapter.Title, chapter.PageFrom, min(chapter.PageTo, total), total)
	case turn.contextType == domain.ContextDocument:
		description = ai.DocumentDescription(len(turn.pages), total)
	default:
		description = ai.PageDescription(current, total)
	}
	turn.prompt = &ai.PromptContext{
		Description: description,
		Pages:       turn.pages,
		Text:        a.pageText(ctx, doc, turn.pages),
	}
	return turn
}

// chapterEntry looks up an outline entry of documentID. Stale or foreign ids
// resolve to nothing.
func (a *App) chapterEntry(documentID, entryID string) (domain.OutlineEntry, bool) {
	entry, ok, err := a.store.GetOutlineEntry(strings.TrimSpace(entryID))
	if err != nil {
		slog.Warn("outline entry lookup failed", "document_id", documentID, "entry_id", entryID, "err", err)
		return domain.OutlineEntry{}, false
	}
	if !ok || entry.DocumentID != documentID || entry.PageFrom < 1 || entry.PageTo < entry.PageFrom {
		return domain.OutlineEntry{}, false
	}
	return entry, true
}

func (a *App) pageText(ctx context.Context, doc domain.Document, pageList []int) string {
	url, err := a.objects.PresignGet(ctx, doc.StorageKey, a.presignExpiry)
	if err != nil {
		return pages.ExtractionFailure(pageList, err)
	}
	data, err := a.fetcher.Fetch(ctx, url)
	if err != nil {
		slog.Warn("document download failed", "document_id", doc.ID, "err", err)
		return pages.ExtractionFailure(pageList, err)
	}
	return a.extractor.ContextText(ctx, data, pageList)
}

func (a *App) ownedThread(userID, id string) (domain.Thread, error) {
	if !util.ValidID(id) {
		return domain.Thread{}, ErrThreadNotFound
	}
	thread, ok, err := a.store.GetThread(id)
	if err != nil {
		return domain.Thread{}, fmt.Errorf("get thread: %w", err)
	}
	if !ok {
		return domain.Thread{}, ErrThreadNotFound
	}
	if thread.OwnerID != userID {
		return domain.Thread{}, ErrForbidden
	}
	return thread, nil
}

// estimateTokens is a rough pre-flight count of four characters per token.
func estimateTokens(text string) int64 {
	return int64(utf8.RuneCountInString(text)/4 + 1)
}
