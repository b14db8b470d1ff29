package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pdfreader/pkg/ai"
	"pdfreader/pkg/domain"
	"pdfreader/pkg/events"
	"pdfreader/pkg/pages"
	"pdfreader/pkg/queue"
	"pdfreader/pkg/storage"
	"pdfreader/pkg/store"
	"pdfreader/pkg/usage"
)

const (
	defaultHistoryLimit   = 20
	defaultPresignExpiry  = 15 * time.Minute
	defaultFetchTimeout   = 60 * time.Second
	defaultExtractWorkers = 4
)

// OutlineQueue schedules outline extraction for a document.
type OutlineQueue interface {
	Enqueue(ctx context.Context, documentID string) (queue.JobStatus, error)
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Objects     storage.ObjectStore
	Outline     OutlineQueue
	Events      events.Publisher

	Provider    ai.Provider
	Model       string
	Temperature float64
	MaxTokens   int

	// ContextRadius is the page window on each side of the current page.
	// Negative selects the default; 0 means the current page only.
	ContextRadius      int
	HistoryLimit       int
	PresignExpiry      time.Duration
	FetchTimeout       time.Duration
	ExtractConcurrency int
	Now                func() time.Time
}

// App is the core application service wiring together storage, the
// usage ledger and the language model.
type App struct {
	store         store.Store
	objects       storage.ObjectStore
	outline       OutlineQueue
	events        events.Publisher
	ledger        *usage.Ledger
	generator     *ai.Generator
	fetcher       *pages.Fetcher
	extractor     *pages.TextExtractor
	pageOptions   pages.Options
	historyLimit  int
	presignExpiry time.Duration
	now           func() time.Time
}

// New constructs the application, seeding plan limits on the way.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	if cfg.Objects == nil {
		return nil, fmt.Errorf("object store required")
	}
	if cfg.Outline == nil {
		return nil, fmt.Errorf("outline queue required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("ai provider required")
	}
	publisher := cfg.Events
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	opts := pages.NewOptions()
	if cfg.ContextRadius >= 0 {
		opts.Radius = cfg.ContextRadius
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	presignExpiry := cfg.PresignExpiry
	if presignExpiry <= 0 {
		presignExpiry = defaultPresignExpiry
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}
	workers := cfg.ExtractConcurrency
	if workers <= 0 {
		workers = defaultExtractWorkers
	}

	ledger := usage.NewLedger(dataStore, usage.WithClock(now))
	if err := ledger.Seed(); err != nil {
		return nil, fmt.Errorf("seed plan limits: %w", err)
	}
	slog.Info("reader app ready", "provider", cfg.Provider.Name(), "context_radius", opts.Radius)

	return &App{
		store:   dataStore,
		objects: cfg.Objects,
		outline: cfg.Outline,
		events:  publisher,
		ledger:  ledger,
		generator: ai.NewGenerator(cfg.Provider, ai.GeneratorConfig{
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}),
		fetcher:       pages.NewFetcher(fetchTimeout),
		extractor:     pages.NewTextExtractor(workers),
		pageOptions:   opts,
		historyLimit:  historyLimit,
		presignExpiry: presignExpiry,
		now:           now,
	}, nil
}

// Ledger exposes the usage ledger for read-only endpoints.
func (a *App) Ledger() *usage.Ledger {
	return a.ledger
}

// enforce runs limit checks in order and stops at the first denial.
func (a *App) enforce(ctx context.Context, userID string, checks ...func() (usage.Decision, error)) error {
	for _, check := range checks {
		decision, err := check()
		if err != nil {
			return fmt.Errorf("check quota: %w", err)
		}
		if decision.Allowed {
			continue
		}
		payload := map[string]any{"userId": userID, "message": decision.Message}
		if decision.Exceeded != nil {
			payload["kind"] = decision.Exceeded.Kind
			payload["limit"] = decision.Exceeded.Limit
			payload["used"] = decision.Exceeded.Used
		}
		events.Emit(ctx, a.events, events.QuotaExceeded, payload)
		return &QuotaError{Decision: decision}
	}
	return nil
}

func (a *App) record(userID string, delta domain.UsageDelta) {
	if err := a.ledger.Increment(userID, delta); err != nil {
		slog.Error("usage increment failed", "user_id", userID, "err", err)
	}
}
