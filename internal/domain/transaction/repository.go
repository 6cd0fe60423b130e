package transaction

import "context"

// Repository defines the interface for transaction data access
// This interface is defined in the domain layer, but implemented in the infrastructure layer
type Repository interface {
	// GetByExternalID retrieves a transaction by its provider ID within one
	// account. Returns (nil, nil) when no such row exists.
	GetByExternalID(ctx context.Context, accountID, externalID string) (*Transaction, error)

	// Upsert creates or updates a transaction keyed by (account ID, external ID)
	Upsert(ctx context.Context, params UpsertParams) (*Transaction, error)

	// ListByAccountID retrieves the most recent transactions for an account
	ListByAccountID(ctx context.Context, accountID string, limit int) ([]*Transaction, error)
}
