package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type DocumentModel struct {
	ID             string `gorm:"primaryKey"`
	OwnerID        string `gorm:"not null;index"`
	Title          string
	StorageKey     string `gorm:"not null;uniqueIndex"`
	SizeBytes      int64  `gorm:"not null"`
	Mime           string
	ChecksumSHA256 string
	Status         string `gorm:"not null"`
	ErrorMessage   string
	PageCount      int               `gorm:"not null;default:0"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time         `gorm:"not null;index"`
	UpdatedAt      time.Time         `gorm:"not null"`
}

type OutlineEntryModel struct {
	ID         string  `gorm:"primaryKey"`
	DocumentID string  `gorm:"not null;index:idx_outline_document_order,priority:1"`
	OrderIndex int     `gorm:"not null;index:idx_outline_document_order,priority:2"`
	Title      string  `gorm:"type:text;not null"`
	Level      int     `gorm:"not null"`
	PageFrom   int     `gorm:"not null"`
	PageTo     int     `gorm:"not null"`
	ParentID   *string `gorm:"index"`
}

type ThreadModel struct {
	ID            string `gorm:"primaryKey"`
	DocumentID    string `gorm:"not null;index"`
	OwnerID       string `gorm:"not null;index"`
	Title         string
	LastMessageAt *time.Time
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

type MessageModel struct {
	ID               string `gorm:"primaryKey"`
	ThreadID         string `gorm:"not null;index"`
	Role             string `gorm:"not null"`
	Content          string `gorm:"type:text;not null"`
	PageContext      *int
	ContextType      string `gorm:"not null;default:'none'"`
	ChapterID        *string
	ContextPages     datatypes.JSON `gorm:"type:jsonb"`
	PromptTokens     int
	CompletionTokens int
	CreatedAt        time.Time `gorm:"not null;index"`
}

type PlanModel struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;index"`
	PlanType  string    `gorm:"not null"`
	Status    string    `gorm:"not null;index"`
	StartedAt time.Time `gorm:"not null"`
	ExpiredAt *time.Time
}

type PlanLimitModel struct {
	PlanType             string `gorm:"primaryKey"`
	MaxStorageBytes      int64  `gorm:"not null"`
	MaxFiles             int64  `gorm:"not null"`
	MaxFileSizeBytes     int64  `gorm:"not null"`
	MaxTokensPerMonth    int64  `gorm:"not null"`
	MaxQuestionsPerMonth int64  `gorm:"not null"`
}

type UsagePeriodModel struct {
	ID               string    `gorm:"primaryKey"`
	UserID           string    `gorm:"not null;uniqueIndex:ux_usage_user_period,priority:1"`
	PeriodStart      time.Time `gorm:"type:date;not null;uniqueIndex:ux_usage_user_period,priority:2"`
	PeriodEnd        time.Time `gorm:"type:date;not null"`
	PlanID           string    `gorm:"not null;index"`
	StorageBytesUsed int64     `gorm:"not null;default:0"`
	FilesUsed        int64     `gorm:"not null;default:0"`
	TokensUsed       int64     `gorm:"not null;default:0"`
	QuestionsUsed    int64     `gorm:"not null;default:0"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

type ShareLinkModel struct {
	Token        string `gorm:"primaryKey"`
	DocumentID   string `gorm:"not null;index"`
	OwnerID      string `gorm:"not null"`
	PasswordHash string
	ExpiresAt    *time.Time
	RevokedAt    *time.Time
	CreatedAt    time.Time `gorm:"not null"`
}
