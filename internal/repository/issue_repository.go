package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/igm-service/internal/domain"
)

// IssueFilter captures listing parameters.
type IssueFilter struct {
	ProviderID *string
	Limit      int
	Offset     int
}

// ComplainantState is the field group a complainant submission may change.
type ComplainantState struct {
	IssueType          domain.IssueType
	Status             domain.IssueStatus
	Rating             string
	ComplainantActions []domain.ComplainantAction
	UpdatedAt          time.Time
}

// RespondentOutcome is the field group a provider response changes.
type RespondentOutcome struct {
	RespondentActions  []domain.RespondentAction
	Resolution         *domain.Resolution
	ResolutionProvider *domain.ResolutionProvider
	UpdatedAt          time.Time
}

// IssueRepository encapsulates issue document persistence.
type IssueRepository interface {
	Create(ctx context.Context, record *domain.IssueRecord) error
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.IssueRecord, error)
	GetByIssueID(ctx context.Context, issueID string) (*domain.IssueRecord, error)
	GetByLogisticsTransactionID(ctx context.Context, logisticsTransactionID string) (*domain.IssueRecord, error)
	List(ctx context.Context, filter IssueFilter) ([]domain.IssueRecord, int, error)
	UpdateComplainantState(ctx context.Context, transactionID string, state ComplainantState) error
	UpdateActions(ctx context.Context, transactionID string, actions domain.IssueActions, updatedAt time.Time) error
	UpdateRespondentOutcome(ctx context.Context, transactionID string, outcome RespondentOutcome) error
	UpdateCascade(ctx context.Context, transactionID, logisticsTransactionID string, actions []domain.RespondentAction) error
	UpdateMessageID(ctx context.Context, issueID, messageID string) error
	Replace(ctx context.Context, record *domain.IssueRecord) error
}

type issueRepository struct {
	pool *pgxpool.Pool
}

// NewIssueRepository instantiates repository.
func NewIssueRepository(pool *pgxpool.Pool) IssueRepository {
	return &issueRepository{pool: pool}
}

const issueColumns = `document, created_at, updated_at`

func (r *issueRepository) Create(ctx context.Context, record *domain.IssueRecord) error {
	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode issue: %w", err)
	}
	const query = `
        INSERT INTO issues (transaction_id, issue_id, provider_id, logistics_transaction_id, document)
        VALUES ($1,$2,$3,NULLIF($4,''),$5::jsonb)
        RETURNING created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		record.TransactionID(),
		record.Issue.ID,
		record.ProviderID(),
		record.LogisticsTransactionID,
		string(doc),
	).Scan(&record.CreatedAt, &record.UpdatedAt)
}

func (r *issueRepository) GetByTransactionID(ctx context.Context, transactionID string) (*domain.IssueRecord, error) {
	return r.fetchSingle(ctx, `SELECT `+issueColumns+` FROM issues WHERE transaction_id=$1`, transactionID)
}

func (r *issueRepository) GetByIssueID(ctx context.Context, issueID string) (*domain.IssueRecord, error) {
	return r.fetchSingle(ctx, `SELECT `+issueColumns+` FROM issues WHERE issue_id=$1 ORDER BY created_at DESC LIMIT 1`, issueID)
}

func (r *issueRepository) GetByLogisticsTransactionID(ctx context.Context, logisticsTransactionID string) (*domain.IssueRecord, error) {
	return r.fetchSingle(ctx, `SELECT `+issueColumns+` FROM issues WHERE logistics_transaction_id=$1`, logisticsTransactionID)
}

func (r *issueRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.IssueRecord, error) {
	return scanIssue(r.pool.QueryRow(ctx, query, arg))
}

func (r *issueRepository) List(ctx context.Context, filter IssueFilter) ([]domain.IssueRecord, int, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if filter.ProviderID != nil {
		args = append(args, *filter.ProviderID)
		clauses = append(clauses, fmt.Sprintf("provider_id=$%d", len(args)))
	}
	where := strings.Join(clauses, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM issues WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf(`SELECT %s FROM issues WHERE %s ORDER BY document->'issue'->>'created_at' DESC LIMIT %d OFFSET %d`,
		issueColumns, where, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []domain.IssueRecord
	for rows.Next() {
		record, err := scanIssue(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *record)
	}
	return result, total, rows.Err()
}

func (r *issueRepository) UpdateComplainantState(ctx context.Context, transactionID string, state ComplainantState) error {
	return r.patch(ctx, transactionID, []jsonPatch{
		{path: "{issue,issue_type}", value: state.IssueType},
		{path: "{issue,status}", value: state.Status},
		{path: "{issue,rating}", value: state.Rating},
		{path: "{issue,issue_actions,complainant_actions}", value: nonNil(state.ComplainantActions)},
		{path: "{issue,updated_at}", value: state.UpdatedAt},
	}, nil)
}

func (r *issueRepository) UpdateActions(ctx context.Context, transactionID string, actions domain.IssueActions, updatedAt time.Time) error {
	return r.patch(ctx, transactionID, []jsonPatch{
		{path: "{issue,issue_actions,complainant_actions}", value: nonNil(actions.ComplainantActions)},
		{path: "{issue,issue_actions,respondent_actions}", value: nonNil(actions.RespondentActions)},
		{path: "{issue,updated_at}", value: updatedAt},
	}, nil)
}

func (r *issueRepository) UpdateRespondentOutcome(ctx context.Context, transactionID string, outcome RespondentOutcome) error {
	patches := []jsonPatch{
		{path: "{issue,issue_actions,respondent_actions}", value: nonNil(outcome.RespondentActions)},
		{path: "{issue,updated_at}", value: outcome.UpdatedAt},
	}
	if outcome.Resolution != nil {
		patches = append(patches,
			jsonPatch{path: "{issue,resolution}", value: outcome.Resolution},
			jsonPatch{path: "{issue,resolution_provider}", value: outcome.ResolutionProvider},
		)
	}
	return r.patch(ctx, transactionID, patches, nil)
}

func (r *issueRepository) UpdateCascade(ctx context.Context, transactionID, logisticsTransactionID string, actions []domain.RespondentAction) error {
	return r.patch(ctx, transactionID, []jsonPatch{
		{path: "{issue,issue_actions,respondent_actions}", value: nonNil(actions)},
		{path: "{logistics_transaction_id}", value: logisticsTransactionID},
	}, &logisticsTransactionID)
}

func (r *issueRepository) UpdateMessageID(ctx context.Context, issueID, messageID string) error {
	value, err := json.Marshal(messageID)
	if err != nil {
		return err
	}
	cmd, err := r.pool.Exec(ctx,
		`UPDATE issues SET document=jsonb_set(document,'{context,message_id}',$1::jsonb), updated_at=NOW() WHERE issue_id=$2`,
		string(value), issueID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *issueRepository) Replace(ctx context.Context, record *domain.IssueRecord) error {
	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode issue: %w", err)
	}
	const query = `
        UPDATE issues SET document=$1::jsonb, issue_id=$2, logistics_transaction_id=NULLIF($3,''), updated_at=NOW()
        WHERE transaction_id=$4`
	cmd, err := r.pool.Exec(ctx, query, string(doc), record.Issue.ID, record.LogisticsTransactionID, record.TransactionID())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

type jsonPatch struct {
	path  string
	value any
}

// patch applies jsonb_set for each field group; a non-nil logisticsTransactionID also updates the lookup column.
func (r *issueRepository) patch(ctx context.Context, transactionID string, patches []jsonPatch, logisticsTransactionID *string) error {
	expr := "document"
	args := []any{}
	for _, p := range patches {
		encoded, err := json.Marshal(p.value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", p.path, err)
		}
		args = append(args, string(encoded))
		expr = fmt.Sprintf("jsonb_set(%s,'%s',$%d::jsonb,true)", expr, p.path, len(args))
	}
	sets := []string{"document=" + expr, "updated_at=NOW()"}
	if logisticsTransactionID != nil {
		args = append(args, *logisticsTransactionID)
		sets = append(sets, fmt.Sprintf("logistics_transaction_id=NULLIF($%d,'')", len(args)))
	}
	args = append(args, transactionID)
	query := fmt.Sprintf("UPDATE issues SET %s WHERE transaction_id=$%d", strings.Join(sets, ", "), len(args))

	cmd, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanIssue(row pgx.Row) (*domain.IssueRecord, error) {
	var (
		doc    []byte
		record domain.IssueRecord
	)
	if err := row.Scan(&doc, &record.CreatedAt, &record.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(doc, &record); err != nil {
		return nil, fmt.Errorf("decode issue: %w", err)
	}
	return &record, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
