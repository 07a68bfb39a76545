package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/igm-service/internal/domain"
)

// SelectedLogisticsRepository resolves the logistics counterparty chosen for an order.
type SelectedLogisticsRepository interface {
	Create(ctx context.Context, selection *domain.SelectedLogistics) error
	GetLatest(ctx context.Context, transactionID, providerID string) (*domain.SelectedLogistics, error)
}

type selectedLogisticsRepository struct {
	pool *pgxpool.Pool
}

// NewSelectedLogisticsRepository instantiates repository.
func NewSelectedLogisticsRepository(pool *pgxpool.Pool) SelectedLogisticsRepository {
	return &selectedLogisticsRepository{pool: pool}
}

func (r *selectedLogisticsRepository) Create(ctx context.Context, selection *domain.SelectedLogistics) error {
	payload, err := json.Marshal(selection.Selected)
	if err != nil {
		return fmt.Errorf("encode selected logistics: %w", err)
	}
	const query = `
        INSERT INTO selected_logistics (transaction_id, provider_id, logistics_transaction_id, selected_logistics)
        VALUES ($1,$2,NULLIF($3,''),$4::jsonb)
        RETURNING id::text, created_at`
	return r.pool.QueryRow(ctx, query,
		selection.TransactionID,
		selection.ProviderID,
		selection.LogisticsTransactionID,
		string(payload),
	).Scan(&selection.ID, &selection.CreatedAt)
}

func (r *selectedLogisticsRepository) GetLatest(ctx context.Context, transactionID, providerID string) (*domain.SelectedLogistics, error) {
	const query = `
        SELECT id::text, transaction_id, COALESCE(provider_id,''), COALESCE(logistics_transaction_id,''), selected_logistics, created_at
        FROM selected_logistics
        WHERE transaction_id=$1 AND provider_id=$2
        ORDER BY created_at DESC LIMIT 1`
	var (
		selection domain.SelectedLogistics
		payload   []byte
	)
	if err := r.pool.QueryRow(ctx, query, transactionID, providerID).Scan(
		&selection.ID,
		&selection.TransactionID,
		&selection.ProviderID,
		&selection.LogisticsTransactionID,
		&payload,
		&selection.CreatedAt,
	); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		selection.Selected = &domain.SelectedLogisticsPayload{}
		if err := json.Unmarshal(payload, selection.Selected); err != nil {
			return nil, fmt.Errorf("decode selected logistics: %w", err)
		}
	}
	return &selection, nil
}
