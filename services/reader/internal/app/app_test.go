package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pdfreader/internal/pdftest"
	"pdfreader/internal/util"
	"pdfreader/pkg/ai"
	"pdfreader/pkg/domain"
	"pdfreader/pkg/events"
	"pdfreader/pkg/queue"
	"pdfreader/pkg/storage"
	"pdfreader/pkg/store"
	"pdfreader/pkg/usage"
)

const (
	alice = "user-alice"
	bob   = "user-bob"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeOutline struct {
	mu   sync.Mutex
	docs []string
	err  error
}

func (f *fakeOutline) Enqueue(_ context.Context, documentID string) (queue.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return queue.JobStatus{}, f.err
	}
	f.docs = append(f.docs, documentID)
	return queue.JobStatus{ID: "job-" + documentID, DocumentID: documentID, Kind: queue.KindOutline, Status: queue.StatusQueued}, nil
}

// scriptedProvider replies with fixed chunks and records every request.
type scriptedProvider struct {
	mu       sync.Mutex
	requests []ai.ChatRequest
	chunks   []string
	usage    *ai.Usage
	err      error
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) StreamChat(_ context.Context, req ai.ChatRequest) (ai.ChatStream, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return &sliceStream{chunks: p.chunks, usage: p.usage}, nil
}

func (p *scriptedProvider) lastRequest(t *testing.T) ai.ChatRequest {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		t.Fatal("provider was not called")
	}
	return p.requests[len(p.requests)-1]
}

type sliceStream struct {
	chunks []string
	usage  *ai.Usage
	pos    int
	done   bool
}

func (s *sliceStream) Recv() (ai.Delta, error) {
	if s.pos < len(s.chunks) {
		s.pos++
		return ai.Delta{Content: s.chunks[s.pos-1]}, nil
	}
	if !s.done && s.usage != nil {
		s.done = true
		return ai.Delta{Usage: s.usage}, nil
	}
	return ai.Delta{}, io.EOF
}

func (s *sliceStream) Close() error { return nil }

type testEnv struct {
	app      *App
	store    *store.MemoryStore
	objects  *storage.MemoryStore
	outline  *fakeOutline
	events   *events.Recorder
	provider *scriptedProvider
	clock    *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	objects := storage.NewMemoryStore("")
	blobs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := objects.Get(strings.TrimPrefix(r.URL.Path, "/"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(data)
	}))
	t.Cleanup(blobs.Close)
	objects.BaseURL = blobs.URL

	env := &testEnv{
		store:   store.NewMemoryStore(),
		objects: objects,
		outline: &fakeOutline{},
		events:  &events.Recorder{},
		provider: &scriptedProvider{
			chunks: []string{"Chapter two ", "explains ", "the idea."},
			usage:  &ai.Usage{PromptTokens: 30, CompletionTokens: 12},
		},
		clock: &testClock{now: time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)},
	}
	a, err := New(Config{
		Store:         env.store,
		Objects:       objects,
		Outline:       env.outline,
		Events:        env.events,
		Provider:      env.provider,
		ContextRadius: 1,
		Now:           env.clock.Now,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	env.app = a
	return env
}

func (e *testEnv) upload(t *testing.T, userID string, data []byte) string {
	t.Helper()
	key := buildStorageKey(userID, util.NewID(), "book.pdf")
	if err := e.objects.Put(context.Background(), key, bytes.NewReader(data), int64(len(data)), pdfMime); err != nil {
		t.Fatalf("put object: %v", err)
	}
	return key
}

func (e *testEnv) createDocument(t *testing.T, userID string, data []byte) domain.Document {
	t.Helper()
	key := e.upload(t, userID, data)
	doc, err := e.app.CreateDocument(context.Background(), userID, CreateDocumentInput{StorageKey: key, Mime: pdfMime})
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	return doc
}

func fourPagePDF() []byte {
	return pdftest.Build(pdftest.Doc{Pages: []string{"Alpha intro", "Beta methods", "Gamma results", "Delta summary"}})
}

func TestCreateDocumentQueuesOutlineAndMeters(t *testing.T) {
	env := newTestEnv(t)
	data := fourPagePDF()
	doc := env.createDocument(t, alice, data)

	if doc.Status != domain.StatusUploaded {
		t.Fatalf("status = %s, want %s", doc.Status, domain.StatusUploaded)
	}
	if doc.Title != "book" || doc.SizeBytes != int64(len(data)) || doc.Mime != pdfMime {
		t.Fatalf("document = %+v", doc)
	}
	if len(env.outline.docs) != 1 || env.outline.docs[0] != doc.ID {
		t.Fatalf("enqueued = %v, want [%s]", env.outline.docs, doc.ID)
	}
	summary, err := env.app.Usage(alice)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if summary.Period.FilesUsed != 1 || summary.Period.StorageBytesUsed != int64(len(data)) {
		t.Fatalf("period = %+v", summary.Period)
	}
	got := strings.Join(env.events.Types(), ",")
	if got != events.DocumentCreated+","+events.OutlineRequested {
		t.Fatalf("events = %s", got)
	}
}

func TestCreateDocumentValidation(t *testing.T) {
	env := newTestEnv(t)
	key := env.upload(t, alice, fourPagePDF())
	cases := []struct {
		name string
		user string
		in   CreateDocumentInput
		want string
	}{
		{"missing key", alice, CreateDocumentInput{}, "storageKey required"},
		{"foreign key", bob, CreateDocumentInput{StorageKey: key}, "invalid storage key"},
		{"not pdf", alice, CreateDocumentInput{StorageKey: key, Mime: "text/plain"}, "unsupported file type"},
		{"bad checksum", alice, CreateDocumentInput{StorageKey: key, ChecksumSHA256: "abc"}, "checksumSha256"},
		{"size mismatch", alice, CreateDocumentInput{StorageKey: key, SizeBytes: 1}, "does not match"},
		{"no blob", alice, CreateDocumentInput{StorageKey: ownerPrefix(alice) + "x/missing.pdf"}, "uploaded file not found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.app.CreateDocument(context.Background(), tc.user, tc.in)
			var inputErr *InputError
			if !errors.As(err, &inputErr) || !strings.Contains(inputErr.Message, tc.want) {
				t.Fatalf("err = %v, want input error %q", err, tc.want)
			}
		})
	}
}

func TestCreateDocumentRejectsSecondRegistration(t *testing.T) {
	env := newTestEnv(t)
	data := fourPagePDF()
	key := env.upload(t, alice, data)
	in := CreateDocumentInput{StorageKey: key, Mime: pdfMime}
	if _, err := env.app.CreateDocument(context.Background(), alice, in); err != nil {
		t.Fatalf("create document: %v", err)
	}
	if _, err := env.app.CreateDocument(context.Background(), alice, in); !errors.Is(err, ErrDocumentExists) {
		t.Fatalf("second create err = %v, want %v", err, ErrDocumentExists)
	}
	summary, err := env.app.Usage(alice)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if summary.Period.FilesUsed != 1 || summary.Period.StorageBytesUsed != int64(len(data)) {
		t.Fatalf("period = %+v, want one file metered once", summary.Period)
	}
	if len(env.outline.docs) != 1 {
		t.Fatalf("enqueued = %v, want one job", env.outline.docs)
	}
}

func TestCreateDocumentEnqueueFailureMarksFailed(t *testing.T) {
	env := newTestEnv(t)
	env.outline.err = errors.New("outline service down")
	doc := env.createDocument(t, alice, fourPagePDF())
	if doc.Status != domain.StatusFailed || !strings.Contains(doc.ErrorMessage, "outline service down") {
		t.Fatalf("document = %+v, want failed", doc)
	}
	stored, err := env.app.GetDocument(alice, doc.ID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if stored.Status != domain.StatusFailed {
		t.Fatalf("stored status = %s, want failed", stored.Status)
	}
}

func TestCreateDocumentFileQuota(t *testing.T) {
	env := newTestEnv(t)
	if err := env.app.Ledger().Increment(alice, domain.UsageDelta{Files: 20}); err != nil {
		t.Fatalf("increment: %v", err)
	}
	key := env.upload(t, alice, fourPagePDF())
	_, err := env.app.CreateDocument(context.Background(), alice, CreateDocumentInput{StorageKey: key})
	var quotaErr *usage.QuotaExceededError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("err = %v, want quota error", err)
	}
	if quotaErr.Kind != usage.QuotaFiles || quotaErr.Limit != 20 {
		t.Fatalf("quota = %+v", quotaErr)
	}
	types := env.events.Types()
	if len(types) != 1 || types[0] != events.QuotaExceeded {
		t.Fatalf("events = %v", types)
	}
}

func TestCreateUploadURL(t *testing.T) {
	env := newTestEnv(t)
	up, err := env.app.CreateUploadURL(context.Background(), alice, "My Book (draft).PDF", 1024)
	if err != nil {
		t.Fatalf("upload url: %v", err)
	}
	if !strings.HasPrefix(up.StorageKey, ownerPrefix(alice)) || !strings.HasSuffix(up.StorageKey, "/My_Book_draft_.PDF") {
		t.Fatalf("storage key = %q", up.StorageKey)
	}
	if !strings.Contains(up.URL, "method=put") {
		t.Fatalf("url = %q", up.URL)
	}
	if _, err := env.app.CreateUploadURL(context.Background(), alice, "notes.txt", 10); err == nil {
		t.Fatal("expected error for non-pdf")
	}
	_, err = env.app.CreateUploadURL(context.Background(), alice, "huge.pdf", 60<<20)
	var quotaErr *usage.QuotaExceededError
	if !errors.As(err, &quotaErr) || quotaErr.Kind != usage.QuotaFileSize {
		t.Fatalf("err = %v, want file size quota", err)
	}
}

func TestDocumentOwnership(t *testing.T) {
	env := newTestEnv(t)
	doc := env.createDocument(t, alice, fourPagePDF())
	if _, err := env.app.GetDocument(bob, doc.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	if _, err := env.app.GetDocument(alice, "not-a-uuid"); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("err = %v, want ErrDocumentNotFound", err)
	}
	if err := env.app.DeleteDocument(context.Background(), alice, doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := env.objects.Get(doc.StorageKey); ok {
		t.Fatal("blob still present after delete")
	}
	if _, err := env.app.GetDocument(alice, doc.ID); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("err = %v, want ErrDocumentNotFound", err)
	}
}

func readyDocument(t *testing.T, env *testEnv) (domain.Document, domain.Thread) {
	t.Helper()
	doc := env.createDocument(t, alice, fourPagePDF())
	if err := env.store.SetDocumentInfo(doc.ID, 4, nil); err != nil {
		t.Fatalf("set info: %v", err)
	}
	thread, err := env.app.CreateThread(alice, doc.ID, "")
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	return doc, thread
}

func systemPrompt(t *testing.T, req ai.ChatRequest) string {
	t.Helper()
	if len(req.Messages) == 0 || req.Messages[0].Role != "system" {
		t.Fatalf("messages = %+v, want system prompt first", req.Messages)
	}
	return req.Messages[0].Content
}

func TestAskStreamsPersistsAndMeters(t *testing.T) {
	env := newTestEnv(t)
	_, thread := readyDocument(t, env)
	page := 2

	var streamed []ai.Event
	res, err := env.app.Ask(context.Background(), alice, thread.ID, AskInput{
		Content:     "What does this page say?",
		PageContext: &page,
		ContextType: "page",
	}, func(ev ai.Event) { streamed = append(streamed, ev) })
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if len(streamed) != 4 || streamed[3].Kind != ai.EventUsage {
		t.Fatalf("streamed = %+v", streamed)
	}
	if res.AssistantMessage.Content != "Chapter two explains the idea." {
		t.Fatalf("answer = %q", res.AssistantMessage.Content)
	}
	if got := res.UserMessage.ContextPages; len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("context pages = %v, want [1 2 3]", got)
	}

	prompt := systemPrompt(t, env.provider.lastRequest(t))
	for _, want := range []string{"You are viewing page 2 of 4 pages.", "--- Page 2 ---", "Beta methods", "pages 1, 2, 3"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("system prompt missing %q:\n%s", want, prompt)
		}
	}

	msgs, err := env.app.ListMessages(alice, thread.ID, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != domain.RoleUser || msgs[1].Role != domain.RoleAssistant {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[1].PromptTokens != 30 || msgs[1].CompletionTokens != 12 {
		t.Fatalf("assistant tokens = %d/%d", msgs[1].PromptTokens, msgs[1].CompletionTokens)
	}
	summary, err := env.app.Usage(alice)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if summary.Period.QuestionsUsed != 1 || summary.Period.TokensUsed != 42 {
		t.Fatalf("period = %+v, want 1 question and 42 tokens", summary.Period)
	}
}

func TestAskChapterContext(t *testing.T) {
	env := newTestEnv(t)
	doc, thread := readyDocument(t, env)
	entries := []domain.OutlineEntry{
		{ID: "ch-1", Title: "Opening", Level: 1, PageFrom: 1, PageTo: 2, OrderIndex: 0},
		{ID: "ch-2", Title: "Findings", Level: 1, PageFrom: 3, PageTo: 4, OrderIndex: 1},
	}
	if err := env.store.ReplaceOutline(doc.ID, entries); err != nil {
		t.Fatalf("replace outline: %v", err)
	}
	page := 1
	res, err := env.app.Ask(context.Background(), alice, thread.ID, AskInput{
		Content:     "Summarize",
		PageContext: &page,
		ContextType: "chapter",
		ChapterID:   "ch-2",
	}, func(ai.Event) {})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if res.UserMessage.ChapterID != "ch-2" {
		t.Fatalf("chapter id = %q, want ch-2", res.UserMessage.ChapterID)
	}
	prompt := systemPrompt(t, env.provider.lastRequest(t))
	if !strings.Contains(prompt, `chapter "Findings" (pages 3-4)`) || !strings.Contains(prompt, "Delta summary") {
		t.Fatalf("system prompt:\n%s", prompt)
	}

	res, err = env.app.Ask(context.Background(), alice, thread.ID, AskInput{
		Content:     "And this?",
		PageContext: &page,
		ContextType: "chapter",
		ChapterID:   "stale-id",
	}, func(ai.Event) {})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if res.UserMessage.ChapterID != "" {
		t.Fatalf("chapter id = %q, want empty", res.UserMessage.ChapterID)
	}
	if got := res.UserMessage.ContextPages; len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("context pages = %v, want [1 2]", got)
	}
}

func TestAskWithoutPageCountSendsConversationOnly(t *testing.T) {
	env := newTestEnv(t)
	doc := env.createDocument(t, alice, fourPagePDF())
	thread, err := env.app.CreateThread(alice, doc.ID, "Notes")
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	if _, err := env.app.Ask(context.Background(), alice, thread.ID, AskInput{Content: "hello"}, func(ai.Event) {}); err != nil {
		t.Fatalf("ask: %v", err)
	}
	req := env.provider.lastRequest(t)
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Fatalf("messages = %+v, want only the question", req.Messages)
	}
}

func TestAskQuestionQuotaDeniesBeforeStreaming(t *testing.T) {
	env := newTestEnv(t)
	_, thread := readyDocument(t, env)
	if err := env.app.Ledger().Increment(alice, domain.UsageDelta{Questions: 100}); err != nil {
		t.Fatalf("increment: %v", err)
	}
	emitted := 0
	_, err := env.app.Ask(context.Background(), alice, thread.ID, AskInput{Content: "one more"}, func(ai.Event) { emitted++ })
	var quotaErr *QuotaError
	if !errors.As(err, &quotaErr) || quotaErr.Decision.Exceeded.Kind != usage.QuotaQuestions {
		t.Fatalf("err = %v, want questions quota", err)
	}
	if emitted != 0 {
		t.Fatalf("emitted = %d, want 0", emitted)
	}
	env.provider.mu.Lock()
	calls := len(env.provider.requests)
	env.provider.mu.Unlock()
	if calls != 0 {
		t.Fatalf("provider calls = %d, want 0", calls)
	}
}

func TestAskProviderFailureIsNotMetered(t *testing.T) {
	env := newTestEnv(t)
	_, thread := readyDocument(t, env)
	env.provider.err = errors.New("status 401 Unauthorized")

	var chunks []ai.Event
	res, err := env.app.Ask(context.Background(), alice, thread.ID, AskInput{Content: "hi", ContextType: "none"},
		func(ev ai.Event) { chunks = append(chunks, ev) })
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if res.Failure != ai.ClassUnauthorized {
		t.Fatalf("failure = %q, want unauthorized", res.Failure)
	}
	if len(chunks) != 1 || !strings.Contains(chunks[0].Text, "API Error") {
		t.Fatalf("chunks = %+v", chunks)
	}
	summary, err := env.app.Usage(alice)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if summary.Period.QuestionsUsed != 0 || summary.Period.TokensUsed != 0 {
		t.Fatalf("period = %+v, want nothing metered", summary.Period)
	}
}

func TestAskRejectsEmptyAndForeignThread(t *testing.T) {
	env := newTestEnv(t)
	_, thread := readyDocument(t, env)
	if _, err := env.app.Ask(context.Background(), alice, thread.ID, AskInput{Content: "   "}, func(ai.Event) {}); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
	if _, err := env.app.Ask(context.Background(), bob, thread.ID, AskInput{Content: "hi"}, func(ai.Event) {}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestShareLifecycle(t *testing.T) {
	env := newTestEnv(t)
	doc := env.createDocument(t, alice, fourPagePDF())
	share, err := env.app.CreateShare(alice, doc.ID, CreateShareInput{Password: "open sesame", ExpiresInHours: 2})
	if err != nil {
		t.Fatalf("create share: %v", err)
	}
	if !share.HasPassword || !share.Active || share.PasswordHash == "" {
		t.Fatalf("share = %+v", share)
	}

	ctx := context.Background()
	if _, err := env.app.ResolveShare(ctx, share.Token, "wrong"); !errors.Is(err, ErrSharePassword) {
		t.Fatalf("err = %v, want ErrSharePassword", err)
	}
	shared, err := env.app.ResolveShare(ctx, share.Token, "open sesame")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if shared.Document.ID != doc.ID || shared.Document.StorageKey != "" || !strings.Contains(shared.Download.URL, "method=get") {
		t.Fatalf("shared = %+v", shared)
	}

	env.clock.Advance(3 * time.Hour)
	if _, err := env.app.ResolveShare(ctx, share.Token, "open sesame"); !errors.Is(err, ErrShareNotFound) {
		t.Fatalf("err = %v, want ErrShareNotFound after expiry", err)
	}

	open, err := env.app.CreateShare(alice, doc.ID, CreateShareInput{})
	if err != nil {
		t.Fatalf("create share: %v", err)
	}
	if err := env.app.RevokeShare(bob, open.Token); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	if err := env.app.RevokeShare(alice, open.Token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := env.app.RevokeShare(alice, open.Token); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	if _, err := env.app.ResolveShare(ctx, open.Token, ""); !errors.Is(err, ErrShareNotFound) {
		t.Fatalf("err = %v, want ErrShareNotFound after revoke", err)
	}
	links, err := env.app.ListShares(alice, doc.ID)
	if err != nil {
		t.Fatalf("list shares: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("links = %d, want 2", len(links))
	}
}

func TestSetPlan(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.app.SetPlan(context.Background(), alice, "platinum", false)
	var inputErr *InputError
	if !errors.As(err, &inputErr) {
		t.Fatalf("err = %v, want input error", err)
	}
	plan, err := env.app.SetPlan(context.Background(), alice, "Pro", false)
	if err != nil {
		t.Fatalf("set plan: %v", err)
	}
	if plan.PlanType != usage.PlanPro || plan.Status != domain.PlanActive {
		t.Fatalf("plan = %+v", plan)
	}
	types := env.events.Types()
	if len(types) != 1 || types[0] != events.PlanChanged {
		t.Fatalf("events = %v", types)
	}
}

func TestSetPlanTrial(t *testing.T) {
	env := newTestEnv(t)
	plan, err := env.app.SetPlan(context.Background(), alice, "team", true)
	if err != nil {
		t.Fatalf("start trial: %v", err)
	}
	if plan.PlanType != usage.PlanTeam || plan.Status != domain.PlanTrial {
		t.Fatalf("plan = %+v, want team trial", plan)
	}
	summary, err := env.app.Usage(alice)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if summary.Plan.ID != plan.ID || summary.Limits.MaxQuestionsPerMonth != 10_000 {
		t.Fatalf("summary = %+v, want trial plan limits", summary)
	}
	evs := env.events.Events()
	if len(evs) != 1 {
		t.Fatalf("events = %d, want 1", len(evs))
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(evs[0].Payload, &payload); err != nil || payload.Status != "trial" {
		t.Fatalf("event payload = %s, %v", evs[0].Payload, err)
	}
}
