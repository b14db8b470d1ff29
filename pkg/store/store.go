package store

import (
	"errors"
	"time"

	"pdfreader/pkg/domain"
)

var (
	// ErrDuplicate is returned when a unique constraint rejects an insert.
	ErrDuplicate = errors.New("duplicate record")
	// ErrNotFound is returned by updates that matched no row.
	ErrNotFound = errors.New("record not found")
)

// DocumentStore persists uploaded PDF documents.
type DocumentStore interface {
	// SaveDocument upserts by ID and returns ErrDuplicate when another
	// document already holds the storage key.
	SaveDocument(domain.Document) error
	GetDocument(id string) (domain.Document, bool, error)
	ListDocumentsByOwner(ownerID string, limit, offset int) ([]domain.Document, error)
	SetDocumentStatus(id string, status domain.DocumentStatus, errMsg string) error
	SetDocumentInfo(id string, pageCount int, metadata map[string]string) error
	DeleteDocument(id string) error
}

// OutlineStore persists extracted outlines. Outlines are only ever replaced
// as a whole.
type OutlineStore interface {
	ReplaceOutline(documentID string, entries []domain.OutlineEntry) error
	ListOutline(documentID string) ([]domain.OutlineEntry, error)
	GetOutlineEntry(id string) (domain.OutlineEntry, bool, error)
}

// ThreadStore persists chat threads and their messages.
type ThreadStore interface {
	CreateThread(domain.Thread) error
	GetThread(id string) (domain.Thread, bool, error)
	ListThreads(documentID, ownerID string) ([]domain.Thread, error)
	TouchThread(id string, lastMessageAt time.Time) error
	DeleteThread(id string) error
	AppendMessage(domain.Message) error
	ListMessages(threadID string, limit int) ([]domain.Message, error)
}

// LedgerStore persists plans, plan limits, and usage periods.
type LedgerStore interface {
	SeedPlanLimits(limits []domain.PlanLimits) error
	GetPlanLimits(planType string) (domain.PlanLimits, bool, error)
	ListPlanLimits() ([]domain.PlanLimits, error)

	GetActivePlan(userID string) (domain.Plan, bool, error)
	// CreatePlan inserts plan only while the user has no current plan and
	// returns ErrDuplicate otherwise.
	CreatePlan(plan domain.Plan) error
	// ReplaceActivePlan expires the user's current plan and inserts plan in
	// one step.
	ReplaceActivePlan(plan domain.Plan, expiredAt time.Time) error

	GetUsagePeriod(userID string, periodStart time.Time) (domain.UsagePeriod, bool, error)
	// CreateUsagePeriod returns ErrDuplicate when a row for the same user and
	// period start already exists.
	CreateUsagePeriod(domain.UsagePeriod) error
	// IncrementUsage adds delta to the period counters without reading them.
	IncrementUsage(periodID string, delta domain.UsageDelta) error
}

// ShareStore persists read-only share links.
type ShareStore interface {
	CreateShareLink(domain.ShareLink) error
	GetShareLink(token string) (domain.ShareLink, bool, error)
	ListShareLinks(documentID string) ([]domain.ShareLink, error)
	RevokeShareLink(token string, at time.Time) error
}

// Store defines all persistence operations used by the services.
type Store interface {
	DocumentStore
	OutlineStore
	ThreadStore
	LedgerStore
	ShareStore
}
