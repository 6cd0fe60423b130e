package account

import (
	"context"
	"errors"
)

// Service contains the business logic for account operations
type Service struct {
	repo Repository
}

// NewService creates a new account service
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// LinkAccount creates or refreshes an account from provider data
func (s *Service) LinkAccount(ctx context.Context, params UpsertParams) (*Account, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	return s.repo.Upsert(ctx, params)
}

// GetAccount retrieves an account by ID and verifies user ownership
func (s *Service) GetAccount(ctx context.Context, accountID string, userID int64) (*Account, error) {
	account, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if account.UserID != userID {
		return nil, ErrAccountNotFound
	}

	return account, nil
}

// ListAccounts retrieves all accounts linked by a user
func (s *Service) ListAccounts(ctx context.Context, userID int64) ([]*Account, error) {
	if userID <= 0 {
		return nil, errors.New("valid user ID is required")
	}

	return s.repo.ListByUserID(ctx, userID)
}

// ListByItemID retrieves the accounts linked under one provider item
func (s *Service) ListByItemID(ctx context.Context, provider, itemID string) ([]*Account, error) {
	if itemID == "" {
		return nil, errors.New("item ID is required")
	}

	return s.repo.ListByItemID(ctx, provider, itemID)
}

// UnlinkAccount soft-deletes an account after verifying ownership
func (s *Service) UnlinkAccount(ctx context.Context, accountID string, userID int64) error {
	if _, err := s.GetAccount(ctx, accountID, userID); err != nil {
		return err
	}

	return s.repo.SoftDelete(ctx, accountID)
}

// MarkReauthorized records a fresh credential for an account and returns it to
// the pending state. This is the only path out of reauth_required: the sync
// engine never clears that status on its own.
func (s *Service) MarkReauthorized(ctx context.Context, accountID string, userID int64, accessToken string) error {
	if accessToken == "" {
		return errors.New("access token is required")
	}

	account, err := s.GetAccount(ctx, accountID, userID)
	if err != nil {
		return err
	}

	if err := s.repo.UpdateAccessToken(ctx, account.ID, accessToken); err != nil {
		return err
	}

	return s.repo.UpdateSyncState(ctx, account.ID, SyncState{
		Status:   SyncStatusPending,
		Error:    nil,
		SyncedAt: account.LastSyncedAt,
	})
}
