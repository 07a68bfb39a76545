package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/igm-service/internal/domain"
)

// MemoryIssueRepository keeps issue documents in process memory. It backs the
// service when no POSTGRES_DSN is configured and is used throughout the tests.
type MemoryIssueRepository struct {
	mu     sync.RWMutex
	issues map[string]*domain.IssueRecord
	now    func() time.Time
}

// NewMemoryIssueRepository creates an empty store.
func NewMemoryIssueRepository() *MemoryIssueRepository {
	return &MemoryIssueRepository{issues: make(map[string]*domain.IssueRecord), now: time.Now}
}

func (m *MemoryIssueRepository) Create(_ context.Context, record *domain.IssueRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	record.CreatedAt, record.UpdatedAt = now, now
	m.issues[record.TransactionID()] = cloneRecord(record)
	return nil
}

func (m *MemoryIssueRepository) GetByTransactionID(_ context.Context, transactionID string) (*domain.IssueRecord, error) {
	return m.find(func(r *domain.IssueRecord) bool { return r.TransactionID() == transactionID })
}

func (m *MemoryIssueRepository) GetByIssueID(_ context.Context, issueID string) (*domain.IssueRecord, error) {
	return m.find(func(r *domain.IssueRecord) bool { return r.Issue.ID == issueID })
}

func (m *MemoryIssueRepository) GetByLogisticsTransactionID(_ context.Context, logisticsTransactionID string) (*domain.IssueRecord, error) {
	return m.find(func(r *domain.IssueRecord) bool {
		return logisticsTransactionID != "" && r.LogisticsTransactionID == logisticsTransactionID
	})
}

func (m *MemoryIssueRepository) List(_ context.Context, filter IssueFilter) ([]domain.IssueRecord, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []domain.IssueRecord
	for _, record := range m.issues {
		if filter.ProviderID != nil && record.ProviderID() != *filter.ProviderID {
			continue
		}
		matched = append(matched, *cloneRecord(record))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Issue.CreatedAt.After(matched[j].Issue.CreatedAt)
	})
	total := len(matched)
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	start := filter.Offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (m *MemoryIssueRepository) UpdateComplainantState(_ context.Context, transactionID string, state ComplainantState) error {
	return m.mutate(transactionID, func(r *domain.IssueRecord) {
		r.Issue.IssueType = state.IssueType
		r.Issue.Status = state.Status
		r.Issue.Rating = state.Rating
		r.Issue.IssueActions.ComplainantActions = state.ComplainantActions
		r.Issue.UpdatedAt = state.UpdatedAt
	})
}

func (m *MemoryIssueRepository) UpdateActions(_ context.Context, transactionID string, actions domain.IssueActions, updatedAt time.Time) error {
	return m.mutate(transactionID, func(r *domain.IssueRecord) {
		r.Issue.IssueActions = actions
		r.Issue.UpdatedAt = updatedAt
	})
}

func (m *MemoryIssueRepository) UpdateRespondentOutcome(_ context.Context, transactionID string, outcome RespondentOutcome) error {
	return m.mutate(transactionID, func(r *domain.IssueRecord) {
		r.Issue.IssueActions.RespondentActions = outcome.RespondentActions
		r.Issue.UpdatedAt = outcome.UpdatedAt
		if outcome.Resolution != nil {
			r.Issue.Resolution = outcome.Resolution
			r.Issue.ResolutionProvider = outcome.ResolutionProvider
		}
	})
}

func (m *MemoryIssueRepository) UpdateCascade(_ context.Context, transactionID, logisticsTransactionID string, actions []domain.RespondentAction) error {
	return m.mutate(transactionID, func(r *domain.IssueRecord) {
		r.LogisticsTransactionID = logisticsTransactionID
		r.Issue.IssueActions.RespondentActions = actions
	})
}

func (m *MemoryIssueRepository) UpdateMessageID(_ context.Context, issueID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.issues {
		if record.Issue.ID == issueID {
			record.Context.MessageID = messageID
			record.UpdatedAt = m.now().UTC()
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (m *MemoryIssueRepository) Replace(_ context.Context, record *domain.IssueRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.issues[record.TransactionID()]
	if !ok {
		return pgx.ErrNoRows
	}
	replaced := cloneRecord(record)
	replaced.CreatedAt = existing.CreatedAt
	replaced.UpdatedAt = m.now().UTC()
	m.issues[record.TransactionID()] = replaced
	return nil
}

func (m *MemoryIssueRepository) find(match func(*domain.IssueRecord) bool) (*domain.IssueRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, record := range m.issues {
		if match(record) {
			return cloneRecord(record), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *MemoryIssueRepository) mutate(transactionID string, apply func(*domain.IssueRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.issues[transactionID]
	if !ok {
		return pgx.ErrNoRows
	}
	apply(record)
	record.UpdatedAt = m.now().UTC()
	m.issues[transactionID] = cloneRecord(record)
	return nil
}

// cloneRecord deep-copies through JSON, matching what a document store hands back.
func cloneRecord(record *domain.IssueRecord) *domain.IssueRecord {
	raw, err := json.Marshal(record)
	if err != nil {
		panic(err)
	}
	var out domain.IssueRecord
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	out.CreatedAt, out.UpdatedAt = record.CreatedAt, record.UpdatedAt
	return &out
}

// MemorySelectedLogisticsRepository keeps logistics selections in process memory.
type MemorySelectedLogisticsRepository struct {
	mu         sync.RWMutex
	selections []domain.SelectedLogistics
}

// NewMemorySelectedLogisticsRepository creates an empty store.
func NewMemorySelectedLogisticsRepository() *MemorySelectedLogisticsRepository {
	return &MemorySelectedLogisticsRepository{}
}

func (m *MemorySelectedLogisticsRepository) Create(_ context.Context, selection *domain.SelectedLogistics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if selection.ID == "" {
		selection.ID = uuid.NewString()
	}
	if selection.CreatedAt.IsZero() {
		selection.CreatedAt = time.Now().UTC()
	}
	m.selections = append(m.selections, *selection)
	return nil
}

func (m *MemorySelectedLogisticsRepository) GetLatest(_ context.Context, transactionID, providerID string) (*domain.SelectedLogistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *domain.SelectedLogistics
	for i := range m.selections {
		s := &m.selections[i]
		if s.TransactionID != transactionID || s.ProviderID != providerID {
			continue
		}
		if latest == nil || !s.CreatedAt.Before(latest.CreatedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, pgx.ErrNoRows
	}
	found := *latest
	return &found, nil
}
