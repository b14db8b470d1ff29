package domain

import (
	"strings"
	"time"
)

type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusFailed     DocumentStatus = "failed"
)

type Document struct {
	ID             string            `json:"id"`
	OwnerID        string            `json:"ownerId"`
	Title          string            `json:"title"`
	StorageKey     string            `json:"storageKey"`
	SizeBytes      int64             `json:"sizeBytes"`
	Mime           string            `json:"mime"`
	ChecksumSHA256 string            `json:"checksumSha256,omitempty"`
	Status         DocumentStatus    `json:"status"`
	ErrorMessage   string            `json:"errorMessage,omitempty"`
	PageCount      int               `json:"pageCount"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// OutlineEntry is one node of a document's table of contents.
// ParentID is empty for top-level entries.
type OutlineEntry struct {
	ID         string `json:"id"`
	DocumentID string `json:"documentId"`
	Title      string `json:"title"`
	Level      int    `json:"level"`
	PageFrom   int    `json:"pageFrom"`
	PageTo     int    `json:"pageTo"`
	ParentID   string `json:"parentId,omitempty"`
	OrderIndex int    `json:"orderIndex"`
}

// ContextType selects which pages are fed to the model with a question.
type ContextType string

const (
	ContextPage     ContextType = "page"
	ContextChapter  ContextType = "chapter"
	ContextSection  ContextType = "section"
	ContextDocument ContextType = "document"
	ContextNone     ContextType = "none"
)

// ParseContextType maps free-form input to a ContextType, defaulting to page.
func ParseContextType(raw string) ContextType {
	switch ContextType(strings.ToLower(strings.TrimSpace(raw))) {
	case ContextChapter:
		return ContextChapter
	case ContextSection:
		return ContextSection
	case ContextDocument:
		return ContextDocument
	case ContextNone:
		return ContextNone
	default:
		return ContextPage
	}
}

type Thread struct {
	ID            string     `json:"id"`
	DocumentID    string     `json:"documentId"`
	OwnerID       string     `json:"ownerId"`
	Title         string     `json:"title"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type Message struct {
	ID               string      `json:"id"`
	ThreadID         string      `json:"threadId"`
	Role             string      `json:"role"`
	Content          string      `json:"content"`
	PageContext      *int        `json:"pageContext,omitempty"`
	ContextType      ContextType `json:"contextType"`
	ChapterID        string      `json:"chapterId,omitempty"`
	ContextPages     []int       `json:"contextPages,omitempty"`
	PromptTokens     int         `json:"promptTokens,omitempty"`
	CompletionTokens int         `json:"completionTokens,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
}

type PlanStatus string

const (
	PlanActive  PlanStatus = "active"
	PlanExpired PlanStatus = "expired"
	PlanTrial   PlanStatus = "trial"
)

type Plan struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	PlanType  string     `json:"planType"`
	Status    PlanStatus `json:"status"`
	StartedAt time.Time  `json:"startedAt"`
	ExpiredAt *time.Time `json:"expiredAt,omitempty"`
}

// Unlimited marks a limit that is never enforced.
const Unlimited int64 = -1

type PlanLimits struct {
	PlanType             string `json:"planType"`
	MaxStorageBytes      int64  `json:"maxStorageBytes"`
	MaxFiles             int64  `json:"maxFiles"`
	MaxFileSizeBytes     int64  `json:"maxFileSizeBytes"`
	MaxTokensPerMonth    int64  `json:"maxTokensPerMonth"`
	MaxQuestionsPerMonth int64  `json:"maxQuestionsPerMonth"`
}

// UsagePeriod is the ledger row for one user and one billing period.
// PeriodEnd is inclusive.
type UsagePeriod struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	PlanID           string    `json:"planId"`
	PeriodStart      time.Time `json:"periodStart"`
	PeriodEnd        time.Time `json:"periodEnd"`
	StorageBytesUsed int64     `json:"storageBytesUsed"`
	FilesUsed        int64     `json:"filesUsed"`
	TokensUsed       int64     `json:"tokensUsed"`
	QuestionsUsed    int64     `json:"questionsUsed"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type UsageDelta struct {
	StorageBytes int64 `json:"storageBytes,omitempty"`
	Files        int64 `json:"files,omitempty"`
	Tokens       int64 `json:"tokens,omitempty"`
	Questions    int64 `json:"questions,omitempty"`
}

func (d UsageDelta) IsZero() bool {
	return d.StorageBytes == 0 && d.Files == 0 && d.Tokens == 0 && d.Questions == 0
}

type ShareLink struct {
	Token        string     `json:"token"`
	DocumentID   string     `json:"documentId"`
	OwnerID      string     `json:"ownerId"`
	PasswordHash string     `json:"-"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	RevokedAt    *time.Time `json:"revokedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

func (s ShareLink) HasPassword() bool {
	return s.PasswordHash != ""
}

// Active reports whether the link can still be resolved at now.
func (s ShareLink) Active(now time.Time) bool {
	if s.RevokedAt != nil {
		return false
	}
	return s.ExpiresAt == nil || now.Before(*s.ExpiresAt)
}
