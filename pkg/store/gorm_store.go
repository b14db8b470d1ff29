package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"pdfreader/pkg/domain"
)

const migrateLockID int64 = 58120417

const dateLayout = "2006-01-02"

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, migrate); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func migrate(tx *gorm.DB) error {
	if err := tx.AutoMigrate(
		&DocumentModel{},
		&OutlineEntryModel{},
		&ThreadModel{},
		&MessageModel{},
		&PlanModel{},
		&PlanLimitModel{},
		&UsagePeriodModel{},
		&ShareLinkModel{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := tx.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS ux_plan_models_current_user
		ON plan_models (user_id)
		WHERE status IN ('active', 'trial');
	`).Error; err != nil {
		return fmt.Errorf("ensure current plan index: %w", err)
	}
	if err := tx.Exec(`
		DO $$
		BEGIN
			DELETE FROM outline_entry_models o
			WHERE NOT EXISTS (SELECT 1 FROM document_models d WHERE d.id = o.document_id);
			DELETE FROM thread_models t
			WHERE NOT EXISTS (SELECT 1 FROM document_models d WHERE d.id = t.document_id);
			DELETE FROM message_models m
			WHERE NOT EXISTS (SELECT 1 FROM thread_models t WHERE t.id = m.thread_id);
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = 'outline_entry_models'
				AND constraint_name = 'outline_entry_models_document_id_fkey'
			) THEN
				ALTER TABLE outline_entry_models
				ADD CONSTRAINT outline_entry_models_document_id_fkey
				FOREIGN KEY (document_id) REFERENCES document_models(id) ON DELETE CASCADE;
			END IF;
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = 'thread_models'
				AND constraint_name = 'thread_models_document_id_fkey'
			) THEN
				ALTER TABLE thread_models
				ADD CONSTRAINT thread_models_document_id_fkey
				FOREIGN KEY (document_id) REFERENCES document_models(id) ON DELETE CASCADE;
			END IF;
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = 'message_models'
				AND constraint_name = 'message_models_thread_id_fkey'
			) THEN
				ALTER TABLE message_models
				ADD CONSTRAINT message_models_thread_id_fkey
				FOREIGN KEY (thread_id) REFERENCES thread_models(id) ON DELETE CASCADE;
			END IF;
		END $$;
	`).Error; err != nil {
		return fmt.Errorf("ensure document foreign keys: %w", err)
	}
	return nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// documents

// SaveDocument stores or updates a document.
func (s *GormStore) SaveDocument(d domain.Document) error {
	model := documentToModel(d)
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "storage_key", "size_bytes", "mime", "checksum_sha256", "status", "error_message", "page_count", "metadata", "updated_at"}),
	}).Create(&model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

// GetDocument retrieves a document.
func (s *GormStore) GetDocument(id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// ListDocumentsByOwner returns a page of the owner's documents, newest first.
func (s *GormStore) ListDocumentsByOwner(ownerID string, limit, offset int) ([]domain.Document, error) {
	if limit <= 0 {
		return []domain.Document{}, nil
	}
	if offset < 0 {
		offset = 0
	}
	var models []DocumentModel
	if err := s.db.Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res, nil
}

// SetDocumentStatus updates document status/error.
func (s *GormStore) SetDocumentStatus(id string, status domain.DocumentStatus, errMsg string) error {
	return s.db.Model(&DocumentModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        string(status),
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// SetDocumentInfo records the page count and PDF metadata found on extraction.
func (s *GormStore) SetDocumentInfo(id string, pageCount int, metadata map[string]string) error {
	return s.db.Model(&DocumentModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"page_count": pageCount,
			"metadata":   toJSONMap(metadata),
			"updated_at": time.Now().UTC(),
		}).Error
}

// DeleteDocument removes the document with its outline, threads, messages,
// and share links.
func (s *GormStore) DeleteDocument(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("thread_id IN (?)", tx.Model(&ThreadModel{}).Select("id").Where("document_id = ?", id)).
			Delete(&MessageModel{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ThreadModel{}, "document_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&OutlineEntryModel{}, "document_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ShareLinkModel{}, "document_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&DocumentModel{}, "id = ?", id).Error
	})
}

// outline

// ReplaceOutline replaces all outline entries of a document.
func (s *GormStore) ReplaceOutline(documentID string, entries []domain.OutlineEntry) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&OutlineEntryModel{}, "document_id = ?", documentID).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		models := make([]OutlineEntryModel, 0, len(entries))
		for _, entry := range entries {
			model := outlineToModel(entry)
			model.DocumentID = documentID
			models = append(models, model)
		}
		return tx.CreateInBatches(&models, 200).Error
	})
}

// ListOutline returns outline entries in document order.
func (s *GormStore) ListOutline(documentID string) ([]domain.OutlineEntry, error) {
	var models []OutlineEntryModel
	if err := s.db.Where("document_id = ?", documentID).Order("order_index ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	entries := make([]domain.OutlineEntry, 0, len(models))
	for _, m := range models {
		entries = append(entries, outlineFromModel(m))
	}
	return entries, nil
}

// GetOutlineEntry returns one outline entry.
func (s *GormStore) GetOutlineEntry(id string) (domain.OutlineEntry, bool, error) {
	var model OutlineEntryModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.OutlineEntry{}, false, nil
		}
		return domain.OutlineEntry{}, false, err
	}
	return outlineFromModel(model), true, nil
}

// threads

// CreateThread creates a chat thread.
func (s *GormStore) CreateThread(t domain.Thread) error {
	model := threadToModel(t)
	return s.db.Create(&model).Error
}

// GetThread returns a thread by ID.
func (s *GormStore) GetThread(id string) (domain.Thread, bool, error) {
	var model ThreadModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Thread{}, false, nil
		}
		return domain.Thread{}, false, err
	}
	return threadFromModel(model), true, nil
}

// ListThreads returns the owner's threads for a document, most recent first.
func (s *GormStore) ListThreads(documentID, ownerID string) ([]domain.Thread, error) {
	var models []ThreadModel
	if err := s.db.Where("document_id = ? AND owner_id = ?", documentID, ownerID).
		Order("last_message_at DESC NULLS LAST").
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Thread, 0, len(models))
	for _, m := range models {
		items = append(items, threadFromModel(m))
	}
	return items, nil
}

// TouchThread records the time of the latest message.
func (s *GormStore) TouchThread(id string, lastMessageAt time.Time) error {
	return s.db.Model(&ThreadModel{}).Where("id = ?", id).Updates(map[string]any{
		"last_message_at": lastMessageAt.UTC(),
		"updated_at":      time.Now().UTC(),
	}).Error
}

// DeleteThread removes a thread and its messages.
func (s *GormStore) DeleteThread(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&MessageModel{}, "thread_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&ThreadModel{}, "id = ?", id).Error
	})
}

// AppendMessage records a message.
func (s *GormStore) AppendMessage(msg domain.Message) error {
	model := messageToModel(msg)
	return s.db.Create(&model).Error
}

// ListMessages returns the latest limit messages of a thread in chronological
// order. A non-positive limit returns all messages.
func (s *GormStore) ListMessages(threadID string, limit int) ([]domain.Message, error) {
	query := s.db.Where("thread_id = ?", threadID).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []MessageModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		msgs = append(msgs, messageFromModel(models[i]))
	}
	return msgs, nil
}

// plans and usage

// SeedPlanLimits inserts missing plan tiers without touching existing rows.
func (s *GormStore) SeedPlanLimits(limits []domain.PlanLimits) error {
	if len(limits) == 0 {
		return nil
	}
	models := make([]PlanLimitModel, 0, len(limits))
	for _, l := range limits {
		models = append(models, planLimitsToModel(l))
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&models).Error
}

// GetPlanLimits returns the static limits of a plan tier.
func (s *GormStore) GetPlanLimits(planType string) (domain.PlanLimits, bool, error) {
	var model PlanLimitModel
	if err := s.db.First(&model, "plan_type = ?", planType).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.PlanLimits{}, false, nil
		}
		return domain.PlanLimits{}, false, err
	}
	return planLimitsFromModel(model), true, nil
}

// ListPlanLimits returns all plan tiers ordered by token allowance.
func (s *GormStore) ListPlanLimits() ([]domain.PlanLimits, error) {
	var models []PlanLimitModel
	if err := s.db.Order("max_tokens_per_month ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.PlanLimits, 0, len(models))
	for _, m := range models {
		res = append(res, planLimitsFromModel(m))
	}
	return res, nil
}

// GetActivePlan returns the user's current active or trial plan.
func (s *GormStore) GetActivePlan(userID string) (domain.Plan, bool, error) {
	var model PlanModel
	if err := s.db.Where("user_id = ? AND status IN ?", userID, []string{string(domain.PlanActive), string(domain.PlanTrial)}).
		Order("started_at DESC").
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Plan{}, false, nil
		}
		return domain.Plan{}, false, err
	}
	return planFromModel(model), true, nil
}

// CreatePlan relies on ux_plan_models_current_user to reject a second
// current plan.
func (s *GormStore) CreatePlan(plan domain.Plan) error {
	model := planToModel(plan)
	if err := s.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// ReplaceActivePlan expires any current plan of plan.UserID and inserts plan.
func (s *GormStore) ReplaceActivePlan(plan domain.Plan, expiredAt time.Time) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&PlanModel{}).
			Where("user_id = ? AND status IN ?", plan.UserID, []string{string(domain.PlanActive), string(domain.PlanTrial)}).
			Updates(map[string]any{
				"status":     string(domain.PlanExpired),
				"expired_at": expiredAt.UTC(),
			}).Error; err != nil {
			return err
		}
		model := planToModel(plan)
		if err := tx.Create(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicate
			}
			return err
		}
		return nil
	})
}

// GetUsagePeriod returns the user's ledger row starting on periodStart.
func (s *GormStore) GetUsagePeriod(userID string, periodStart time.Time) (domain.UsagePeriod, bool, error) {
	var model UsagePeriodModel
	if err := s.db.Where("user_id = ? AND period_start = ?", userID, periodStart.UTC().Format(dateLayout)).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.UsagePeriod{}, false, nil
		}
		return domain.UsagePeriod{}, false, err
	}
	return usagePeriodFromModel(model), true, nil
}

// CreateUsagePeriod inserts a ledger row, reporting ErrDuplicate when another
// writer created the same (user, period start) row first.
func (s *GormStore) CreateUsagePeriod(p domain.UsagePeriod) error {
	model := usagePeriodToModel(p)
	if err := s.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// IncrementUsage applies delta as in-database additions.
func (s *GormStore) IncrementUsage(periodID string, delta domain.UsageDelta) error {
	if delta.IsZero() {
		return nil
	}
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if delta.StorageBytes != 0 {
		updates["storage_bytes_used"] = gorm.Expr("storage_bytes_used + ?", delta.StorageBytes)
	}
	if delta.Files != 0 {
		updates["files_used"] = gorm.Expr("files_used + ?", delta.Files)
	}
	if delta.Tokens != 0 {
		updates["tokens_used"] = gorm.Expr("tokens_used + ?", delta.Tokens)
	}
	if delta.Questions != 0 {
		updates["questions_used"] = gorm.Expr("questions_used + ?", delta.Questions)
	}
	res := s.db.Model(&UsagePeriodModel{}).Where("id = ?", periodID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// share links

// CreateShareLink stores a new share link.
func (s *GormStore) CreateShareLink(link domain.ShareLink) error {
	model := shareToModel(link)
	if err := s.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetShareLink looks up a link by token.
func (s *GormStore) GetShareLink(token string) (domain.ShareLink, bool, error) {
	var model ShareLinkModel
	if err := s.db.First(&model, "token = ?", token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ShareLink{}, false, nil
		}
		return domain.ShareLink{}, false, err
	}
	return shareFromModel(model), true, nil
}

// ListShareLinks returns a document's links, newest first.
func (s *GormStore) ListShareLinks(documentID string) ([]domain.ShareLink, error) {
	var models []ShareLinkModel
	if err := s.db.Where("document_id = ?", documentID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ShareLink, 0, len(models))
	for _, m := range models {
		res = append(res, shareFromModel(m))
	}
	return res, nil
}

// RevokeShareLink marks a link revoked.
func (s *GormStore) RevokeShareLink(token string, at time.Time) error {
	res := s.db.Model(&ShareLinkModel{}).
		Where("token = ? AND revoked_at IS NULL", token).
		Update("revoked_at", at.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func documentToModel(d domain.Document) DocumentModel {
	return DocumentModel{
		ID:             d.ID,
		OwnerID:        d.OwnerID,
		Title:          d.Title,
		StorageKey:     d.StorageKey,
		SizeBytes:      d.SizeBytes,
		Mime:           d.Mime,
		ChecksumSHA256: d.ChecksumSHA256,
		Status:         string(d.Status),
		ErrorMessage:   d.ErrorMessage,
		PageCount:      d.PageCount,
		Metadata:       toJSONMap(d.Metadata),
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	var meta map[string]string
	if len(m.Metadata) > 0 {
		meta = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			if s, ok := v.(string); ok {
				meta[k] = s
			}
		}
	}
	return domain.Document{
		ID:             m.ID,
		OwnerID:        m.OwnerID,
		Title:          m.Title,
		StorageKey:     m.StorageKey,
		SizeBytes:      m.SizeBytes,
		Mime:           m.Mime,
		ChecksumSHA256: m.ChecksumSHA256,
		Status:         domain.DocumentStatus(m.Status),
		ErrorMessage:   m.ErrorMessage,
		PageCount:      m.PageCount,
		Metadata:       meta,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func toJSONMap(meta map[string]string) datatypes.JSONMap {
	if len(meta) == 0 {
		return nil
	}
	out := make(datatypes.JSONMap, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

func outlineToModel(e domain.OutlineEntry) OutlineEntryModel {
	return OutlineEntryModel{
		ID:         e.ID,
		DocumentID: e.DocumentID,
		OrderIndex: e.OrderIndex,
		Title:      e.Title,
		Level:      e.Level,
		PageFrom:   e.PageFrom,
		PageTo:     e.PageTo,
		ParentID:   optionalString(e.ParentID),
	}
}

func outlineFromModel(m OutlineEntryModel) domain.OutlineEntry {
	return domain.OutlineEntry{
		ID:         m.ID,
		DocumentID: m.DocumentID,
		Title:      m.Title,
		Level:      m.Level,
		PageFrom:   m.PageFrom,
		PageTo:     m.PageTo,
		ParentID:   derefString(m.ParentID),
		OrderIndex: m.OrderIndex,
	}
}

func threadToModel(t domain.Thread) ThreadModel {
	return ThreadModel{
		ID:            t.ID,
		DocumentID:    t.DocumentID,
		OwnerID:       t.OwnerID,
		Title:         t.Title,
		LastMessageAt: t.LastMessageAt,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

func threadFromModel(m ThreadModel) domain.Thread {
	return domain.Thread{
		ID:            m.ID,
		DocumentID:    m.DocumentID,
		OwnerID:       m.OwnerID,
		Title:         m.Title,
		LastMessageAt: m.LastMessageAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	var pages datatypes.JSON
	if len(msg.ContextPages) > 0 {
		pages, _ = json.Marshal(msg.ContextPages)
	}
	contextType := string(msg.ContextType)
	if contextType == "" {
		contextType = string(domain.ContextNone)
	}
	return MessageModel{
		ID:               msg.ID,
		ThreadID:         msg.ThreadID,
		Role:             msg.Role,
		Content:          msg.Content,
		PageContext:      msg.PageContext,
		ContextType:      contextType,
		ChapterID:        optionalString(msg.ChapterID),
		ContextPages:     pages,
		PromptTokens:     msg.PromptTokens,
		CompletionTokens: msg.CompletionTokens,
		CreatedAt:        msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	var pages []int
	if len(m.ContextPages) > 0 {
		_ = json.Unmarshal(m.ContextPages, &pages)
	}
	return domain.Message{
		ID:               m.ID,
		ThreadID:         m.ThreadID,
		Role:             m.Role,
		Content:          m.Content,
		PageContext:      m.PageContext,
		ContextType:      domain.ContextType(m.ContextType),
		ChapterID:        derefString(m.ChapterID),
		ContextPages:     pages,
		PromptTokens:     m.PromptTokens,
		CompletionTokens: m.CompletionTokens,
		CreatedAt:        m.CreatedAt,
	}
}

func planToModel(p domain.Plan) PlanModel {
	return PlanModel{
		ID:        p.ID,
		UserID:    p.UserID,
		PlanType:  p.PlanType,
		Status:    string(p.Status),
		StartedAt: p.StartedAt,
		ExpiredAt: p.ExpiredAt,
	}
}

func planFromModel(m PlanModel) domain.Plan {
	return domain.Plan{
		ID:        m.ID,
		UserID:    m.UserID,
		PlanType:  m.PlanType,
		Status:    domain.PlanStatus(m.Status),
		StartedAt: m.StartedAt,
		ExpiredAt: m.ExpiredAt,
	}
}

func planLimitsToModel(l domain.PlanLimits) PlanLimitModel {
	return PlanLimitModel{
		PlanType:             l.PlanType,
		MaxStorageBytes:      l.MaxStorageBytes,
		MaxFiles:             l.MaxFiles,
		MaxFileSizeBytes:     l.MaxFileSizeBytes,
		MaxTokensPerMonth:    l.MaxTokensPerMonth,
		MaxQuestionsPerMonth: l.MaxQuestionsPerMonth,
	}
}

func planLimitsFromModel(m PlanLimitModel) domain.PlanLimits {
	return domain.PlanLimits{
		PlanType:             m.PlanType,
		MaxStorageBytes:      m.MaxStorageBytes,
		MaxFiles:             m.MaxFiles,
		MaxFileSizeBytes:     m.MaxFileSizeBytes,
		MaxTokensPerMonth:    m.MaxTokensPerMonth,
		MaxQuestionsPerMonth: m.MaxQuestionsPerMonth,
	}
}

func usagePeriodToModel(p domain.UsagePeriod) UsagePeriodModel {
	return UsagePeriodModel{
		ID:               p.ID,
		UserID:           p.UserID,
		PeriodStart:      p.PeriodStart,
		PeriodEnd:        p.PeriodEnd,
		PlanID:           p.PlanID,
		StorageBytesUsed: p.StorageBytesUsed,
		FilesUsed:        p.FilesUsed,
		TokensUsed:       p.TokensUsed,
		QuestionsUsed:    p.QuestionsUsed,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func usagePeriodFromModel(m UsagePeriodModel) domain.UsagePeriod {
	return domain.UsagePeriod{
		ID:               m.ID,
		UserID:           m.UserID,
		PlanID:           m.PlanID,
		PeriodStart:      m.PeriodStart.UTC(),
		PeriodEnd:        m.PeriodEnd.UTC(),
		StorageBytesUsed: m.StorageBytesUsed,
		FilesUsed:        m.FilesUsed,
		TokensUsed:       m.TokensUsed,
		QuestionsUsed:    m.QuestionsUsed,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func shareToModel(l domain.ShareLink) ShareLinkModel {
	return ShareLinkModel{
		Token:        l.Token,
		DocumentID:   l.DocumentID,
		OwnerID:      l.OwnerID,
		PasswordHash: l.PasswordHash,
		ExpiresAt:    l.ExpiresAt,
		RevokedAt:    l.RevokedAt,
		CreatedAt:    l.CreatedAt,
	}
}

func shareFromModel(m ShareLinkModel) domain.ShareLink {
	return domain.ShareLink{
		Token:        m.Token,
		DocumentID:   m.DocumentID,
		OwnerID:      m.OwnerID,
		PasswordHash: m.PasswordHash,
		ExpiresAt:    m.ExpiresAt,
		RevokedAt:    m.RevokedAt,
		CreatedAt:    m.CreatedAt,
	}
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}
