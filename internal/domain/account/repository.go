package account

import (
	"context"

	"github.com/shopspring/decimal"
)

// Repository defines the interface for account data access
// This interface is defined in the domain layer, but implemented in the infrastructure layer
type Repository interface {
	// Upsert creates or refreshes an account keyed by provider + external account ID
	Upsert(ctx context.Context, params UpsertParams) (*Account, error)

	// GetByID retrieves an account by its ID
	GetByID(ctx context.Context, id string) (*Account, error)

	// ListByItemID retrieves the accounts linked under one provider item/enrollment
	ListByItemID(ctx context.Context, provider, itemID string) ([]*Account, error)

	// ListByUserID retrieves all accounts linked by one user
	ListByUserID(ctx context.Context, userID int64) ([]*Account, error)

	// ListSyncable retrieves accounts eligible for a scheduled sync
	ListSyncable(ctx context.Context) ([]*Account, error)

	// UpdateSyncState persists the outcome of a sync run
	UpdateSyncState(ctx context.Context, id string, state SyncState) error

	// UpdateBalances persists freshly fetched balance fields
	UpdateBalances(ctx context.Context, id string, current decimal.Decimal, available, limit *decimal.Decimal) error

	// UpdateAccessToken replaces the stored provider credential
	UpdateAccessToken(ctx context.Context, id, accessToken string) error

	// SoftDelete marks an account as removed without dropping its history
	SoftDelete(ctx context.Context, id string) error
}
