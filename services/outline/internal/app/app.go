// Package app runs outline extraction jobs: it downloads an uploaded PDF,
// reads its page count, metadata, and outline, and marks the document ready.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pdfreader/internal/util"
	"pdfreader/pkg/domain"
	"pdfreader/pkg/events"
	"pdfreader/pkg/outline"
	"pdfreader/pkg/pages"
	"pdfreader/pkg/queue"
	"pdfreader/pkg/storage"
	"pdfreader/pkg/store"
)

const (
	defaultMaxRetries    = 3
	defaultPresignExpiry = 10 * time.Minute
	defaultFetchTimeout  = 2 * time.Minute
)

var (
	// ErrDocumentNotFound is returned when a job names an unknown document.
	ErrDocumentNotFound   = errors.New("document not found")
	ErrDocumentIDRequired = errors.New("documentId required")
)

// Jobs is the durable job queue backing the worker.
type Jobs interface {
	Enqueue(ctx context.Context, documentID, kind string) (queue.JobStatus, error)
	GetJob(ctx context.Context, jobID string) (queue.JobStatus, bool, error)
}

// Config holds runtime configuration.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Objects     storage.ObjectStore
	Jobs        Jobs
	Events      events.Publisher

	// MaxRetries must match the queue's retry budget so the document is
	// only marked failed on the last attempt.
	MaxRetries    int
	PresignExpiry time.Duration
	FetchTimeout  time.Duration
}

// App processes outline jobs.
type App struct {
	store      store.Store
	objects    storage.ObjectStore
	jobs       Jobs
	events     events.Publisher
	fetcher    *pages.Fetcher
	extractor  outline.Extractor
	maxRetries int
	expiry     time.Duration
}

// permanentError marks failures that another attempt cannot fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// New constructs the outline service with persistence.
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
	if cfg.Jobs == nil {
		return nil, fmt.Errorf("job queue required")
	}
	publisher := cfg.Events
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = defaultPresignExpiry
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}
	return &App{
		store:      dataStore,
		objects:    cfg.Objects,
		jobs:       cfg.Jobs,
		events:     publisher,
		fetcher:    pages.NewFetcher(fetchTimeout),
		extractor:  outline.Extractor{NewID: util.NewID},
		maxRetries: maxRetries,
		expiry:     expiry,
	}, nil
}

// Enqueue schedules outline extraction for an existing document.
func (a *App) Enqueue(ctx context.Context, documentID string) (queue.JobStatus, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return queue.JobStatus{}, ErrDocumentIDRequired
	}
	if !util.ValidID(documentID) {
		return queue.JobStatus{}, ErrDocumentNotFound
	}
	if _, ok, err := a.store.GetDocument(documentID); err != nil {
		return queue.JobStatus{}, err
	} else if !ok {
		return queue.JobStatus{}, ErrDocumentNotFound
	}
	return a.jobs.Enqueue(ctx, documentID, queue.KindOutline)
}

// GetJob returns a job by ID.
func (a *App) GetJob(ctx context.Context, id string) (queue.JobStatus, bool, error) {
	return a.jobs.GetJob(ctx, id)
}

// Process is the queue handler. A nil return acknowledges the job.
func (a *App) Process(ctx context.Context, job queue.JobStatus) error {
	logger := slog.With("job_id", job.ID, "document_id", job.DocumentID, "attempt", job.Attempts)
	if job.Kind != "" && job.Kind != queue.KindOutline {
		logger.Warn("outline job skipped", "kind", job.Kind)
		return nil
	}
	doc, ok, err := a.store.GetDocument(job.DocumentID)
	if err != nil {
		return err
	}
	if !ok {
		logger.Info("outline job dropped: document deleted")
		return nil
	}
	if err := a.store.SetDocumentStatus(doc.ID, domain.StatusProcessing, ""); err != nil {
		return err
	}

	info, err := a.inspect(ctx, doc)
	if err == nil {
		err = a.save(doc.ID, info)
	}
	if err != nil {
		var perm permanentError
		permanent := errors.As(err, &perm)
		if permanent || job.Attempts >= a.maxRetries {
			a.fail(ctx, doc.ID, err)
		}
		if permanent {
			logger.Warn("outline job failed", "err", err)
			return nil
		}
		return err
	}

	logger.Info("outline ready", "pages", info.PageCount, "entries", len(info.Outline))
	events.Emit(ctx, a.events, events.OutlineReady, map[string]any{
		"documentId": doc.ID,
		"ownerId":    doc.OwnerID,
		"pageCount":  info.PageCount,
		"entries":    len(info.Outline),
	})
	return nil
}

func (a *App) inspect(ctx context.Context, doc domain.Document) (outline.Info, error) {
	url, err := a.objects.PresignGet(ctx, doc.StorageKey, a.expiry)
	if err != nil {
		return outline.Info{}, fmt.Errorf("presign download: %w", err)
	}
	data, err := a.fetcher.Fetch(ctx, url)
	if errors.Is(err, pages.ErrDocumentTooLarge) {
		return outline.Info{}, permanentError{err}
	}
	if err != nil {
		return outline.Info{}, fmt.Errorf("download pdf: %w", err)
	}
	info, err := a.extractor.Inspect(doc.ID, data)
	if err != nil {
		return outline.Info{}, permanentError{err}
	}
	if info.PageCount < 1 {
		return outline.Info{}, permanentError{errors.New("pdf has no pages")}
	}
	return info, nil
}

// save replaces the outline before publishing the page count so a ready
// document never shows a stale outline.
func (a *App) save(documentID string, info outline.Info) error {
	if err := a.store.ReplaceOutline(documentID, info.Outline); err != nil {
		return fmt.Errorf("save outline: %w", err)
	}
	if err := a.store.SetDocumentInfo(documentID, info.PageCount, info.Metadata); err != nil {
		return fmt.Errorf("save document info: %w", err)
	}
	return a.store.SetDocumentStatus(documentID, domain.StatusReady, "")
}

func (a *App) fail(ctx context.Context, documentID string, cause error) {
	if err := a.store.SetDocumentStatus(documentID, domain.StatusFailed, cause.Error()); err != nil {
		slog.Error("mark document failed", "document_id", documentID, "err", err)
	}
	events.Emit(ctx, a.events, events.OutlineFailed, map[string]any{
		"documentId": documentID,
		"error":      cause.Error(),
	})
}
