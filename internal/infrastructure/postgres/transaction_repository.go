package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"finsync/internal/domain/transaction"
)

// TransactionRepository implements the transaction.Repository interface for PostgreSQL
type TransactionRepository struct {
	db *DB
}

// NewTransactionRepository creates a new PostgreSQL transaction repository
func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `
	id, account_id, external_id, amount, currency, date, posted_date, pending,
	description, category, merchant_name, raw_payload, created_at, updated_at
`

// GetByExternalID retrieves a transaction by its provider ID within one
// account. Returns (nil, nil) when no such row exists.
func (r *TransactionRepository) GetByExternalID(ctx context.Context, accountID, externalID string) (*transaction.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE account_id = $1 AND external_id = $2`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, accountID, externalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// Upsert creates or updates a transaction keyed by (account ID, external ID).
// Identity fields stay untouched on update; only mutable fields move.
func (r *TransactionRepository) Upsert(ctx context.Context, params transaction.UpsertParams) (*transaction.Transaction, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO transactions (
			id, account_id, external_id, amount, currency, date, posted_date,
			pending, description, category, merchant_name, raw_payload
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (account_id, external_id) DO UPDATE SET
			amount = EXCLUDED.amount,
			date = EXCLUDED.date,
			posted_date = EXCLUDED.posted_date,
			pending = EXCLUDED.pending,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			merchant_name = EXCLUDED.merchant_name,
			raw_payload = EXCLUDED.raw_payload,
			updated_at = NOW()
		RETURNING ` + transactionColumns

	var rawPayload any
	if len(params.RawPayload) > 0 {
		rawPayload = []byte(params.RawPayload)
	}

	row := r.db.QueryRowContext(
		ctx, query,
		uuid.New().String(), params.AccountID, params.ExternalID,
		params.Amount, params.Currency, params.Date, params.PostedDate,
		params.Pending, params.Description, params.Category, params.MerchantName,
		rawPayload,
	)

	tx, err := scanTransaction(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert transaction: %w", err)
	}
	return tx, nil
}

// ListByAccountID retrieves the most recent transactions for an account
func (r *TransactionRepository) ListByAccountID(ctx context.Context, accountID string, limit int) ([]*transaction.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE account_id = $1
		ORDER BY date DESC, created_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*transaction.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func scanTransaction(row rowScanner) (*transaction.Transaction, error) {
	var tx transaction.Transaction
	var postedDate sql.NullTime
	var category, merchantName sql.NullString
	var rawPayload []byte

	err := row.Scan(
		&tx.ID, &tx.AccountID, &tx.ExternalID, &tx.Amount, &tx.Currency,
		&tx.Date, &postedDate, &tx.Pending,
		&tx.Description, &category, &merchantName, &rawPayload,
		&tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if postedDate.Valid {
		tx.PostedDate = &postedDate.Time
	}
	if category.Valid {
		tx.Category = &category.String
	}
	if merchantName.Valid {
		tx.MerchantName = &merchantName.String
	}
	tx.RawPayload = rawPayload

	return &tx, nil
}
