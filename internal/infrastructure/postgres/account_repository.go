package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"finsync/internal/aggregator"
	"finsync/internal/domain/account"
	"finsync/internal/infrastructure/crypto"
)

// AccountRepository implements the account.Repository interface for
// PostgreSQL. Access tokens are encrypted at rest; the repository owns the
// encryptor so decrypted credentials never appear outside a loaded Account.
type AccountRepository struct {
	db        *DB
	encryptor *crypto.Encryptor
}

// NewAccountRepository creates a new PostgreSQL account repository
func NewAccountRepository(db *DB, encryptor *crypto.Encryptor) *AccountRepository {
	return &AccountRepository{db: db, encryptor: encryptor}
}

const accountColumns = `
	id, user_id, provider, item_id, external_account_id, institution_id, institution_name,
	name, account_type, subtype, mask, currency,
	balance_current, balance_available, balance_limit,
	access_token, sync_status,
	last_error_code, last_error_message, last_error_retryable,
	last_synced_at, removed, created_at, updated_at
`

// Upsert creates or refreshes an account keyed by provider + external account ID
func (r *AccountRepository) Upsert(ctx context.Context, params account.UpsertParams) (*account.Account, error) {
	encryptedToken, err := r.encryptor.Encrypt(params.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}

	query := `
		INSERT INTO accounts (
			id, user_id, provider, item_id, external_account_id, institution_id, institution_name,
			name, account_type, subtype, mask, currency,
			balance_current, balance_available, balance_limit,
			access_token, sync_status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 'pending')
		ON CONFLICT (provider, external_account_id) DO UPDATE SET
			institution_id = EXCLUDED.institution_id,
			institution_name = EXCLUDED.institution_name,
			name = EXCLUDED.name,
			account_type = EXCLUDED.account_type,
			subtype = EXCLUDED.subtype,
			mask = EXCLUDED.mask,
			currency = EXCLUDED.currency,
			balance_current = EXCLUDED.balance_current,
			balance_available = EXCLUDED.balance_available,
			balance_limit = EXCLUDED.balance_limit,
			access_token = EXCLUDED.access_token,
			removed = FALSE,
			updated_at = NOW()
		RETURNING ` + accountColumns

	row := r.db.QueryRowContext(
		ctx, query,
		uuid.New().String(), params.UserID, params.Provider, params.ItemID,
		params.ExternalAccountID, nullString(params.InstitutionID), nullString(params.InstitutionName),
		params.Name, params.AccountType, nullString(params.Subtype), nullString(params.Mask),
		params.Currency, params.BalanceCurrent, nullDecimal(params.BalanceAvailable),
		nullDecimal(params.BalanceLimit), encryptedToken,
	)

	acc, err := r.scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert account: %w", err)
	}
	return acc, nil
}

// GetByID retrieves an account by its ID
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	acc, err := r.scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, account.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}

// ListByItemID retrieves the accounts linked under one provider item
func (r *AccountRepository) ListByItemID(ctx context.Context, provider, itemID string) ([]*account.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts
		WHERE provider = $1 AND item_id = $2 AND removed = FALSE
		ORDER BY created_at`

	return r.list(ctx, query, provider, itemID)
}

// ListByUserID retrieves all accounts linked by one user
func (r *AccountRepository) ListByUserID(ctx context.Context, userID int64) ([]*account.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts
		WHERE user_id = $1 AND removed = FALSE
		ORDER BY created_at`

	return r.list(ctx, query, userID)
}

// ListSyncable retrieves accounts eligible for a scheduled sync: not removed
// and not awaiting reauthorization.
func (r *AccountRepository) ListSyncable(ctx context.Context) ([]*account.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts
		WHERE removed = FALSE AND sync_status != 'reauth_required'
		ORDER BY last_synced_at NULLS FIRST`

	return r.list(ctx, query)
}

// UpdateSyncState persists the outcome of a sync run
func (r *AccountRepository) UpdateSyncState(ctx context.Context, id string, state account.SyncState) error {
	query := `
		UPDATE accounts
		SET sync_status = $2,
		    last_error_code = $3,
		    last_error_message = $4,
		    last_error_retryable = $5,
		    last_synced_at = $6,
		    updated_at = NOW()
		WHERE id = $1
	`

	var code, message sql.NullString
	var retryable sql.NullBool
	if state.Error != nil {
		code = sql.NullString{String: string(state.Error.Code), Valid: true}
		message = sql.NullString{String: state.Error.Message, Valid: true}
		retryable = sql.NullBool{Bool: state.Error.Retryable, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query, id, string(state.Status), code, message, retryable, state.SyncedAt)
	if err != nil {
		return fmt.Errorf("failed to update sync state: %w", err)
	}
	return requireRowAffected(result, account.ErrAccountNotFound)
}

// UpdateBalances persists freshly fetched balance fields
func (r *AccountRepository) UpdateBalances(ctx context.Context, id string, current decimal.Decimal, available, limit *decimal.Decimal) error {
	query := `
		UPDATE accounts
		SET balance_current = $2,
		    balance_available = $3,
		    balance_limit = $4,
		    updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, current, nullDecimal(available), nullDecimal(limit))
	if err != nil {
		return fmt.Errorf("failed to update balances: %w", err)
	}
	return requireRowAffected(result, account.ErrAccountNotFound)
}

// UpdateAccessToken replaces the stored provider credential
func (r *AccountRepository) UpdateAccessToken(ctx context.Context, id, accessToken string) error {
	encryptedToken, err := r.encryptor.Encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	query := `UPDATE accounts SET access_token = $2, updated_at = NOW() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, encryptedToken)
	if err != nil {
		return fmt.Errorf("failed to update access token: %w", err)
	}
	return requireRowAffected(result, account.ErrAccountNotFound)
}

// SoftDelete marks an account as removed without dropping its history
func (r *AccountRepository) SoftDelete(ctx context.Context, id string) error {
	query := `UPDATE accounts SET removed = TRUE, updated_at = NOW() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to soft delete account: %w", err)
	}
	return requireRowAffected(result, account.ErrAccountNotFound)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *AccountRepository) scanAccount(row rowScanner) (*account.Account, error) {
	var acc account.Account
	var institutionID, institutionName, subtype, mask sql.NullString
	var available, limit decimal.NullDecimal
	var encryptedToken string
	var errCode, errMessage sql.NullString
	var errRetryable sql.NullBool
	var lastSyncedAt sql.NullTime

	err := row.Scan(
		&acc.ID, &acc.UserID, &acc.Provider, &acc.ItemID, &acc.ExternalAccountID, &institutionID, &institutionName,
		&acc.Name, &acc.AccountType, &subtype, &mask, &acc.Currency,
		&acc.BalanceCurrent, &available, &limit,
		&encryptedToken, &acc.SyncStatus,
		&errCode, &errMessage, &errRetryable,
		&lastSyncedAt, &acc.Removed, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	token, err := r.encryptor.Decrypt(encryptedToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token for account %s: %w", acc.ID, err)
	}
	acc.AccessToken = token

	if institutionID.Valid {
		acc.InstitutionID = institutionID.String
	}
	if institutionName.Valid {
		acc.InstitutionName = institutionName.String
	}
	if subtype.Valid {
		acc.Subtype = subtype.String
	}
	if mask.Valid {
		acc.Mask = mask.String
	}
	if available.Valid {
		acc.BalanceAvailable = &available.Decimal
	}
	if limit.Valid {
		acc.BalanceLimit = &limit.Decimal
	}
	if errCode.Valid {
		acc.LastSyncError = &account.SyncError{
			Code:      aggregator.ErrorCode(errCode.String),
			Message:   errMessage.String,
			Retryable: errRetryable.Bool,
		}
	}
	if lastSyncedAt.Valid {
		acc.LastSyncedAt = &lastSyncedAt.Time
	}

	return &acc, nil
}

func (r *AccountRepository) list(ctx context.Context, query string, args ...any) ([]*account.Account, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*account.Account
	for rows.Next() {
		acc, err := r.scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}
