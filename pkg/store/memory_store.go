package store

import (
	"sort"
	"sync"
	"time"

	"pdfreader/pkg/domain"
)

// MemoryStore keeps everything in-process. It backs tests and local runs
// without Postgres.
type MemoryStore struct {
	mu        sync.RWMutex
	docs      map[string]domain.Document
	docOrder  []string
	outlines  map[string][]domain.OutlineEntry
	threads   map[string]domain.Thread
	messages  map[string][]domain.Message
	limits    map[string]domain.PlanLimits
	plans     []domain.Plan
	periods   map[string]domain.UsagePeriod // key: period ID
	periodKey map[string]string             // user|start -> period ID
	shares    map[string]domain.ShareLink

	// BeforeCreatePeriod runs before CreateUsagePeriod checks for an
	// existing row, outside the lock. Tests use it to interleave writers.
	BeforeCreatePeriod func(domain.UsagePeriod)
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:      make(map[string]domain.Document),
		outlines:  make(map[string][]domain.OutlineEntry),
		threads:   make(map[string]domain.Thread),
		messages:  make(map[string][]domain.Message),
		limits:    make(map[string]domain.PlanLimits),
		periods:   make(map[string]domain.UsagePeriod),
		periodKey: make(map[string]string),
		shares:    make(map[string]domain.ShareLink),
	}
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*GormStore)(nil)

// SaveDocument stores or replaces a document and tracks insertion order.
func (m *MemoryStore) SaveDocument(d domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, other := range m.docs {
		if d.StorageKey != "" && id != d.ID && other.StorageKey == d.StorageKey {
			return ErrDuplicate
		}
	}
	if _, exists := m.docs[d.ID]; !exists {
		m.docOrder = append(m.docOrder, d.ID)
	}
	m.docs[d.ID] = d
	return nil
}

func (m *MemoryStore) GetDocument(id string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	return d, ok, nil
}

// ListDocumentsByOwner returns the owner's documents, newest first.
func (m *MemoryStore) ListDocumentsByOwner(ownerID string, limit, offset int) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Document, 0)
	for i := len(m.docOrder) - 1; i >= 0; i-- {
		if d, ok := m.docs[m.docOrder[i]]; ok && d.OwnerID == ownerID {
			res = append(res, d)
		}
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(res) || limit <= 0 {
		return []domain.Document{}, nil
	}
	end := offset + limit
	if end > len(res) {
		end = len(res)
	}
	return res[offset:end], nil
}

func (m *MemoryStore) SetDocumentStatus(id string, status domain.DocumentStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil
	}
	d.Status = status
	d.ErrorMessage = errMsg
	d.UpdatedAt = time.Now().UTC()
	m.docs[id] = d
	return nil
}

func (m *MemoryStore) SetDocumentInfo(id string, pageCount int, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil
	}
	d.PageCount = pageCount
	d.Metadata = metadata
	d.UpdatedAt = time.Now().UTC()
	m.docs[id] = d
	return nil
}

func (m *MemoryStore) DeleteDocument(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	for i, docID := range m.docOrder {
		if docID == id {
			m.docOrder = append(m.docOrder[:i], m.docOrder[i+1:]...)
			break
		}
	}
	delete(m.outlines, id)
	for tid, t := range m.threads {
		if t.DocumentID == id {
			delete(m.threads, tid)
			delete(m.messages, tid)
		}
	}
	for token, s := range m.shares {
		if s.DocumentID == id {
			delete(m.shares, token)
		}
	}
	return nil
}

func (m *MemoryStore) ReplaceOutline(documentID string, entries []domain.OutlineEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]domain.OutlineEntry, len(entries))
	for i, e := range entries {
		e.DocumentID = documentID
		cp[i] = e
	}
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].OrderIndex < cp[j].OrderIndex })
	m.outlines[documentID] = cp
	return nil
}

func (m *MemoryStore) ListOutline(documentID string) ([]domain.OutlineEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.outlines[documentID]
	out := make([]domain.OutlineEntry, len(src))
	copy(out, src)
	return out, nil
}

func (m *MemoryStore) GetOutlineEntry(id string) (domain.OutlineEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, entries := range m.outlines {
		for _, e := range entries {
			if e.ID == id {
				return e, true, nil
			}
		}
	}
	return domain.OutlineEntry{}, false, nil
}

func (m *MemoryStore) CreateThread(t domain.Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.threads[t.ID]; exists {
		return ErrDuplicate
	}
	m.threads[t.ID] = t
	return nil
}

func (m *MemoryStore) GetThread(id string) (domain.Thread, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.threads[id]
	return t, ok, nil
}

// ListThreads returns threads most recently active first.
func (m *MemoryStore) ListThreads(documentID, ownerID string) ([]domain.Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Thread, 0)
	for _, t := range m.threads {
		if t.DocumentID == documentID && t.OwnerID == ownerID {
			res = append(res, t)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return threadActivity(res[i]).After(threadActivity(res[j]))
	})
	return res, nil
}

func threadActivity(t domain.Thread) time.Time {
	if t.LastMessageAt != nil {
		return *t.LastMessageAt
	}
	return t.CreatedAt
}

func (m *MemoryStore) TouchThread(id string, lastMessageAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[id]
	if !ok {
		return nil
	}
	at := lastMessageAt.UTC()
	t.LastMessageAt = &at
	t.UpdatedAt = time.Now().UTC()
	m.threads[id] = t
	return nil
}

func (m *MemoryStore) DeleteThread(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, id)
	delete(m.messages, id)
	return nil
}

func (m *MemoryStore) AppendMessage(msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ThreadID] = append(m.messages[msg.ThreadID], msg)
	return nil
}

// ListMessages returns up to limit of the latest messages, oldest first.
func (m *MemoryStore) ListMessages(threadID string, limit int) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[threadID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *MemoryStore) SeedPlanLimits(limits []domain.PlanLimits) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range limits {
		if _, exists := m.limits[l.PlanType]; !exists {
			m.limits[l.PlanType] = l
		}
	}
	return nil
}

func (m *MemoryStore) GetPlanLimits(planType string) (domain.PlanLimits, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.limits[planType]
	return l, ok, nil
}

func (m *MemoryStore) ListPlanLimits() ([]domain.PlanLimits, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.PlanLimits, 0, len(m.limits))
	for _, l := range m.limits {
		res = append(res, l)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].MaxTokensPerMonth < res[j].MaxTokensPerMonth
	})
	return res, nil
}

func (m *MemoryStore) GetActivePlan(userID string) (domain.Plan, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.plans) - 1; i >= 0; i-- {
		p := m.plans[i]
		if p.UserID == userID && (p.Status == domain.PlanActive || p.Status == domain.PlanTrial) {
			return p, true, nil
		}
	}
	return domain.Plan{}, false, nil
}

func (m *MemoryStore) CreatePlan(plan domain.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.plans {
		if p.UserID == plan.UserID && (p.Status == domain.PlanActive || p.Status == domain.PlanTrial) {
			return ErrDuplicate
		}
	}
	m.plans = append(m.plans, plan)
	return nil
}

func (m *MemoryStore) ReplaceActivePlan(plan domain.Plan, expiredAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	at := expiredAt.UTC()
	for i, p := range m.plans {
		if p.UserID == plan.UserID && (p.Status == domain.PlanActive || p.Status == domain.PlanTrial) {
			p.Status = domain.PlanExpired
			p.ExpiredAt = &at
			m.plans[i] = p
		}
	}
	m.plans = append(m.plans, plan)
	return nil
}

func periodLookupKey(userID string, start time.Time) string {
	return userID + "|" + start.UTC().Format(dateLayout)
}

func (m *MemoryStore) GetUsagePeriod(userID string, periodStart time.Time) (domain.UsagePeriod, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.periodKey[periodLookupKey(userID, periodStart)]
	if !ok {
		return domain.UsagePeriod{}, false, nil
	}
	return m.periods[id], true, nil
}

func (m *MemoryStore) CreateUsagePeriod(p domain.UsagePeriod) error {
	if hook := m.BeforeCreatePeriod; hook != nil {
		hook(p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := periodLookupKey(p.UserID, p.PeriodStart)
	if _, exists := m.periodKey[key]; exists {
		return ErrDuplicate
	}
	m.periods[p.ID] = p
	m.periodKey[key] = p.ID
	return nil
}

func (m *MemoryStore) IncrementUsage(periodID string, delta domain.UsageDelta) error {
	if delta.IsZero() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.periods[periodID]
	if !ok {
		return ErrNotFound
	}
	p.StorageBytesUsed += delta.StorageBytes
	p.FilesUsed += delta.Files
	p.TokensUsed += delta.Tokens
	p.QuestionsUsed += delta.Questions
	p.UpdatedAt = time.Now().UTC()
	m.periods[periodID] = p
	return nil
}

func (m *MemoryStore) CreateShareLink(link domain.ShareLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.shares[link.Token]; exists {
		return ErrDuplicate
	}
	m.shares[link.Token] = link
	return nil
}

func (m *MemoryStore) GetShareLink(token string) (domain.ShareLink, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.shares[token]
	return l, ok, nil
}

func (m *MemoryStore) ListShareLinks(documentID string) ([]domain.ShareLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ShareLink, 0)
	for _, l := range m.shares {
		if l.DocumentID == documentID {
			res = append(res, l)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (m *MemoryStore) RevokeShareLink(token string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.shares[token]
	if !ok || l.RevokedAt != nil {
		return ErrNotFound
	}
	revoked := at.UTC()
	l.RevokedAt = &revoked
	m.shares[token] = l
	return nil
}
