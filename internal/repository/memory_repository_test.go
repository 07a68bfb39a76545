package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/igm-service/internal/domain"
)

func newRecord(transactionID, issueID, providerID string, createdAt time.Time) *domain.IssueRecord {
	return &domain.IssueRecord{
		Context: domain.Context{TransactionID: transactionID},
		Issue: domain.Issue{
			ID:           issueID,
			Status:       domain.IssueStatusOpen,
			OrderDetails: &domain.OrderDetails{ID: "O-" + issueID, ProviderID: providerID},
			CreatedAt:    createdAt,
		},
	}
}

func TestMemoryIssueRepositoryLookups(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryIssueRepository()
	if err := repo.Create(ctx, newRecord("T1", "ISS-1", "P1", time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}

	byTx, err := repo.GetByTransactionID(ctx, "T1")
	if err != nil || byTx.Issue.ID != "ISS-1" {
		t.Fatalf("by transaction: %v %+v", err, byTx)
	}
	if _, err := repo.GetByIssueID(ctx, "ISS-1"); err != nil {
		t.Fatalf("by issue id: %v", err)
	}
	if _, err := repo.GetByTransactionID(ctx, "missing"); err != pgx.ErrNoRows {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}
	if _, err := repo.GetByLogisticsTransactionID(ctx, ""); err != pgx.ErrNoRows {
		t.Fatalf("empty logistics id must never match, got %v", err)
	}
}

func TestMemoryIssueRepositoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryIssueRepository()
	_ = repo.Create(ctx, newRecord("T1", "ISS-1", "P1", time.Now()))

	first, _ := repo.GetByTransactionID(ctx, "T1")
	first.Issue.Status = domain.IssueStatusClosed
	first.Issue.OrderDetails.ProviderID = "changed"

	second, _ := repo.GetByTransactionID(ctx, "T1")
	if second.Issue.Status != domain.IssueStatusOpen || second.ProviderID() != "P1" {
		t.Fatalf("stored record was mutated through a returned copy")
	}
}

func TestMemoryIssueRepositoryFieldGroupUpdates(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryIssueRepository()
	_ = repo.Create(ctx, newRecord("T1", "ISS-1", "P1", time.Now()))
	now := time.Now().UTC()

	err := repo.UpdateComplainantState(ctx, "T1", ComplainantState{
		IssueType: domain.IssueTypeGrievance,
		Status:    domain.IssueStatusEscalate,
		ComplainantActions: []domain.ComplainantAction{
			{ComplainantAction: domain.ComplainantActionEscalate, UpdatedAt: now},
		},
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("complainant state: %v", err)
	}

	resolution := &domain.Resolution{ActionTriggered: domain.ResolutionRefund, RefundAmount: "100"}
	err = repo.UpdateRespondentOutcome(ctx, "T1", RespondentOutcome{
		RespondentActions: []domain.RespondentAction{{RespondentAction: domain.RespondentActionResolved, CascadedLevel: 1}},
		Resolution:        resolution,
		UpdatedAt:         now,
	})
	if err != nil {
		t.Fatalf("respondent outcome: %v", err)
	}
	if err := repo.UpdateCascade(ctx, "T1", "L1", []domain.RespondentAction{
		{RespondentAction: domain.RespondentActionResolved, CascadedLevel: 1},
		{RespondentAction: domain.RespondentActionCascaded, CascadedLevel: 2},
	}); err != nil {
		t.Fatalf("cascade: %v", err)
	}
	if err := repo.UpdateMessageID(ctx, "ISS-1", "M2"); err != nil {
		t.Fatalf("message id: %v", err)
	}

	got, err := repo.GetByLogisticsTransactionID(ctx, "L1")
	if err != nil {
		t.Fatalf("by logistics id: %v", err)
	}
	if got.Issue.Status != domain.IssueStatusEscalate || got.Issue.IssueType != domain.IssueTypeGrievance {
		t.Fatalf("complainant fields not applied: %+v", got.Issue)
	}
	if len(got.Issue.IssueActions.ComplainantActions) != 1 || len(got.Issue.IssueActions.RespondentActions) != 2 {
		t.Fatalf("unexpected logs: %+v", got.Issue.IssueActions)
	}
	if got.Issue.Resolution == nil || got.Issue.Resolution.RefundAmount != "100" {
		t.Fatalf("resolution not stored")
	}
	if got.Context.MessageID != "M2" {
		t.Fatalf("message id = %s", got.Context.MessageID)
	}
	if err := repo.UpdateActions(ctx, "missing", domain.IssueActions{}, now); err != pgx.ErrNoRows {
		t.Fatalf("expected ErrNoRows for unknown transaction, got %v", err)
	}
}

func TestMemoryIssueRepositoryListFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryIssueRepository()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = repo.Create(ctx, newRecord("T1", "ISS-1", "P1", base))
	_ = repo.Create(ctx, newRecord("T2", "ISS-2", "P1", base.Add(time.Hour)))
	_ = repo.Create(ctx, newRecord("T3", "ISS-3", "P2", base.Add(2*time.Hour)))

	provider := "P1"
	records, total, err := repo.List(ctx, IssueFilter{ProviderID: &provider, Limit: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(records) != 1 || records[0].Issue.ID != "ISS-2" {
		t.Fatalf("unexpected page total=%d records=%+v", total, records)
	}

	records, total, _ = repo.List(ctx, IssueFilter{Limit: 10, Offset: 2})
	if total != 3 || len(records) != 1 || records[0].Issue.ID != "ISS-1" {
		t.Fatalf("unexpected offset page total=%d records=%d", total, len(records))
	}
}

func TestMemorySelectedLogisticsLatestWins(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySelectedLogisticsRepository()
	base := time.Now().UTC()
	_ = repo.Create(ctx, &domain.SelectedLogistics{TransactionID: "T1", ProviderID: "P1", LogisticsTransactionID: "L-old", CreatedAt: base})
	_ = repo.Create(ctx, &domain.SelectedLogistics{TransactionID: "T1", ProviderID: "P1", LogisticsTransactionID: "L-new", CreatedAt: base.Add(time.Minute)})
	_ = repo.Create(ctx, &domain.SelectedLogistics{TransactionID: "T1", ProviderID: "P2", LogisticsTransactionID: "L-other", CreatedAt: base.Add(time.Hour)})

	latest, err := repo.GetLatest(ctx, "T1", "P1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.LogisticsTransactionID != "L-new" || latest.ID == "" {
		t.Fatalf("unexpected selection %+v", latest)
	}
	if _, err := repo.GetLatest(ctx, "T9", "P1"); err != pgx.ErrNoRows {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}
}
