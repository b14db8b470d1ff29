package app

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"pdfreader/internal/util"
	"pdfreader/pkg/domain"
	"pdfreader/pkg/events"
	"pdfreader/pkg/outline"
	"pdfreader/pkg/pages"
	"pdfreader/pkg/storage"
	"pdfreader/pkg/store"
	"pdfreader/pkg/usage"
)

const (
	pdfMime          = "application/pdf"
	defaultListLimit = 50
	maxListLimit     = 200
)

// UploadURL is a presigned PUT target for a new PDF.
type UploadURL struct {
	StorageKey string    `json:"storageKey"`
	URL        string    `json:"url"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// DownloadURL is a presigned GET for a stored PDF.
type DownloadURL struct {
	URL       string    `json:"url"`
	Filename  string    `json:"filename"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CreateDocumentInput describes a blob that has already been uploaded.
type CreateDocumentInput struct {
	Title          string `json:"title"`
	StorageKey     string `json:"storageKey"`
	SizeBytes      int64  `json:"sizeBytes"`
	Mime           string `json:"mime"`
	ChecksumSHA256 string `json:"checksumSha256"`
}

// OutlineView is the flat and nested outline of a document.
type OutlineView struct {
	DocumentID string                `json:"documentId"`
	Status     domain.DocumentStatus `json:"status"`
	Entries    []domain.OutlineEntry `json:"entries"`
	Tree       []outline.NestedEntry `json:"tree"`
}

// CreateUploadURL checks the plan limits for a file of sizeBytes and returns
// where to PUT it.
func (a *App) CreateUploadURL(ctx context.Context, userID, filename string, sizeBytes int64) (UploadURL, error) {
	if strings.TrimSpace(filename) == "" {
		return UploadURL{}, invalid("filename required")
	}
	if !strings.EqualFold(path.Ext(filename), ".pdf") {
		return UploadURL{}, invalid("unsupported file type: only PDF documents are accepted")
	}
	if err := validateSize(sizeBytes); err != nil {
		return UploadURL{}, err
	}
	if err := a.enforce(ctx, userID, a.uploadChecks(userID, sizeBytes)...); err != nil {
		return UploadURL{}, err
	}
	key := buildStorageKey(userID, util.NewID(), filename)
	url, err := a.objects.PresignPut(ctx, key, a.presignExpiry)
	if err != nil {
		return UploadURL{}, fmt.Errorf("presign upload: %w", err)
	}
	return UploadURL{StorageKey: key, URL: url, ExpiresAt: a.now().UTC().Add(a.presignExpiry)}, nil
}

// CreateDocument registers an uploaded PDF, meters it and queues outline
// extraction. A failed enqueue leaves the document in the failed state
// rather than failing the request.
func (a *App) CreateDocument(ctx context.Context, userID string, in CreateDocumentInput) (domain.Document, error) {
	key := strings.TrimSpace(in.StorageKey)
	if key == "" {
		return domain.Document{}, invalid("storageKey required")
	}
	if !strings.HasPrefix(key, ownerPrefix(userID)) {
		return domain.Document{}, invalid("invalid storage key")
	}
	mime := strings.ToLower(strings.TrimSpace(in.Mime))
	if mime == "" {
		mime = pdfMime
	}
	if mime != pdfMime {
		return domain.Document{}, invalid("unsupported file type: only PDF documents are accepted")
	}
	checksum := strings.ToLower(strings.TrimSpace(in.ChecksumSHA256))
	if checksum != "" {
		if raw, err := hex.DecodeString(checksum); err != nil || len(raw) != 32 {
			return domain.Document{}, invalid("checksumSha256 must be 64 hex characters")
		}
	}
	info, err := a.objects.Stat(ctx, key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return domain.Document{}, invalid("uploaded file not found")
	}
	if err != nil {
		return domain.Document{}, fmt.Errorf("stat upload: %w", err)
	}
	if in.SizeBytes > 0 && in.SizeBytes != info.Size {
		return domain.Document{}, invalid("sizeBytes does not match the uploaded file")
	}
	if err := validateSize(info.Size); err != nil {
		return domain.Document{}, err
	}
	if err := a.enforce(ctx, userID, a.uploadChecks(userID, info.Size)...); err != nil {
		return domain.Document{}, err
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = titleFromName(key)
	}
	now := a.now().UTC()
	doc := domain.Document{
		ID:             util.NewID(),
		OwnerID:        userID,
		Title:          title,
		StorageKey:     key,
		SizeBytes:      info.Size,
		Mime:           pdfMime,
		ChecksumSHA256: checksum,
		Status:         domain.StatusUploaded,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := a.store.SaveDocument(doc); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.Document{}, ErrDocumentExists
		}
		return domain.Document{}, fmt.Errorf("save document: %w", err)
	}
	a.record(userID, domain.UsageDelta{StorageBytes: doc.SizeBytes, Files: 1})
	events.Emit(ctx, a.events, events.DocumentCreated, map[string]any{
		"documentId": doc.ID,
		"ownerId":    userID,
		"sizeBytes":  doc.SizeBytes,
	})
	doc, err = a.requestOutline(ctx, doc)
	if err != nil {
		slog.Warn("outline enqueue failed", "document_id", doc.ID, "err", err)
	}
	return doc, nil
}

func (a *App) uploadChecks(userID string, sizeBytes int64) []func() (usage.Decision, error) {
	return []func() (usage.Decision, error){
		func() (usage.Decision, error) { return a.ledger.CheckFileSize(userID, sizeBytes) },
		func() (usage.Decision, error) { return a.ledger.CheckFileCount(userID) },
		func() (usage.Decision, error) { return a.ledger.CheckStorage(userID, sizeBytes) },
	}
}

// ListDocuments pages through the user's documents, newest first.
func (a *App) ListDocuments(userID string, limit, offset int) ([]domain.Document, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return a.store.ListDocumentsByOwner(userID, limit, offset)
}

// GetDocument returns a document the user owns.
func (a *App) GetDocument(userID, id string) (domain.Document, error) {
	return a.ownedDocument(userID, id)
}

// DeleteDocument removes the document row, its outline and threads, and the blob.
// Usage counters are not decremented.
func (a *App) DeleteDocument(ctx context.Context, userID, id string) error {
	doc, err := a.ownedDocument(userID, id)
	if err != nil {
		return err
	}
	if err := a.store.DeleteDocument(doc.ID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if err := a.objects.Delete(ctx, doc.StorageKey); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	events.Emit(ctx, a.events, events.DocumentDeleted, map[string]any{"documentId": doc.ID, "ownerId": userID})
	return nil
}

// GetDownloadURL returns a short-lived link to the user's PDF.
func (a *App) GetDownloadURL(ctx context.Context, userID, id string) (DownloadURL, error) {
	doc, err := a.ownedDocument(userID, id)
	if err != nil {
		return DownloadURL{}, err
	}
	return a.downloadURL(ctx, doc)
}

func (a *App) downloadURL(ctx context.Context, doc domain.Document) (DownloadURL, error) {
	url, err := a.objects.PresignGet(ctx, doc.StorageKey, a.presignExpiry)
	if err != nil {
		return DownloadURL{}, fmt.Errorf("presign download: %w", err)
	}
	return DownloadURL{
		URL:       url,
		Filename:  path.Base(doc.StorageKey),
		ExpiresAt: a.now().UTC().Add(a.presignExpiry),
	}, nil
}

// GetOutline returns the stored outline of a document.
func (a *App) GetOutline(userID, id string) (OutlineView, error) {
	doc, err := a.ownedDocument(userID, id)
	if err != nil {
		return OutlineView{}, err
	}
	return a.outlineView(doc)
}

func (a *App) outlineView(doc domain.Document) (OutlineView, error) {
	entries, err := a.store.ListOutline(doc.ID)
	if err != nil {
		return OutlineView{}, fmt.Errorf("list outline: %w", err)
	}
	if entries == nil {
		entries = []domain.OutlineEntry{}
	}
	return OutlineView{
		DocumentID: doc.ID,
		Status:     doc.Status,
		Entries:    entries,
		Tree:       outline.NewTree(entries).Nested(),
	}, nil
}

// RequestOutline re-queues outline extraction.
func (a *App) RequestOutline(ctx context.Context, userID, id string) (domain.Document, error) {
	doc, err := a.ownedDocument(userID, id)
	if err != nil {
		return domain.Document{}, err
	}
	if doc.Status == domain.StatusProcessing {
		return doc, nil
	}
	if err := a.store.SetDocumentStatus(doc.ID, domain.StatusUploaded, ""); err != nil {
		return domain.Document{}, fmt.Errorf("reset status: %w", err)
	}
	doc.Status = domain.StatusUploaded
	doc.ErrorMessage = ""
	return a.requestOutline(ctx, doc)
}

func (a *App) requestOutline(ctx context.Context, doc domain.Document) (domain.Document, error) {
	job, err := a.outline.Enqueue(ctx, doc.ID)
	if err != nil {
		msg := "enqueue outline: " + err.Error()
		if serr := a.store.SetDocumentStatus(doc.ID, domain.StatusFailed, msg); serr != nil {
			slog.Error("mark document failed", "document_id", doc.ID, "err", serr)
		}
		doc.Status = domain.StatusFailed
		doc.ErrorMessage = msg
		return doc, fmt.Errorf("%w: %v", ErrOutlineUnavailable, err)
	}
	events.Emit(ctx, a.events, events.OutlineRequested, map[string]any{"documentId": doc.ID, "jobId": job.ID})
	return doc, nil
}

func (a *App) ownedDocument(userID, id string) (domain.Document, error) {
	if !util.ValidID(id) {
		return domain.Document{}, ErrDocumentNotFound
	}
	doc, ok, err := a.store.GetDocument(id)
	if err != nil {
		return domain.Document{}, fmt.Errorf("get document: %w", err)
	}
	if !ok {
		return domain.Document{}, ErrDocumentNotFound
	}
	if doc.OwnerID != userID {
		return domain.Document{}, ErrForbidden
	}
	return doc, nil
}

func validateSize(sizeBytes int64) error {
	if sizeBytes <= 0 {
		return invalid("sizeBytes must be positive")
	}
	if sizeBytes > pages.MaxDocumentBytes {
		return invalid("file too large")
	}
	return nil
}

func ownerPrefix(userID string) string {
	return "documents/" + userID + "/"
}

func buildStorageKey(userID, id, filename string) string {
	name := sanitizeFilename(path.Base(filename))
	if name == "" {
		name = "document.pdf"
	}
	return ownerPrefix(userID) + id + "/" + name
}

func titleFromName(key string) string {
	base := path.Base(key)
	title := strings.TrimSpace(strings.TrimSuffix(base, path.Ext(base)))
	if title == "" {
		return "Untitled document"
	}
	return title
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if r <= 0x7f {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
				b.WriteRune(r)
				lastUnderscore = false
				continue
			}
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
