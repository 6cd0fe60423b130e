package account

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"finsync/internal/aggregator"
)

// Providers this app links accounts through.
var validProviders = map[string]struct{}{
	"plaid":  {},
	"teller": {},
}

// Domain errors
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrInvalidProvider = errors.New("invalid aggregation provider")
	ErrInvalidInput    = errors.New("invalid input")
	ErrReauthRequired  = errors.New("account requires reauthorization")
)

// SyncStatus is the account's position in the sync lifecycle.
type SyncStatus string

const (
	SyncStatusPending        SyncStatus = "pending"
	SyncStatusSynced         SyncStatus = "synced"
	SyncStatusError          SyncStatus = "error"
	SyncStatusReauthRequired SyncStatus = "reauth_required"
)

// Valid reports whether s is a known status.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusPending, SyncStatusSynced, SyncStatusError, SyncStatusReauthRequired:
		return true
	}
	return false
}

// severity ranks outcomes so partial failures resolve to the worst one.
// reauth_required outranks error outranks synced.
func (s SyncStatus) severity() int {
	switch s {
	case SyncStatusReauthRequired:
		return 3
	case SyncStatusError:
		return 2
	case SyncStatusSynced:
		return 1
	default:
		return 0
	}
}

// MergeStatus returns the more severe of two sync outcomes.
func MergeStatus(a, b SyncStatus) SyncStatus {
	if b.severity() > a.severity() {
		return b
	}
	return a
}

// Syncable reports whether the sync engine may process this account. Accounts
// stuck in reauth_required leave the state only through MarkReauthorized.
func (s SyncStatus) Syncable() bool {
	return s != SyncStatusReauthRequired
}

// SyncError is the persisted record of why the last sync failed.
type SyncError struct {
	Code      aggregator.ErrorCode `json:"code"`
	Message   string               `json:"message"`
	Retryable bool                 `json:"retryable"`
}

// Account represents a linked financial account.
type Account struct {
	ID                string           `json:"id"`
	UserID            int64            `json:"userId"`
	Provider          string           `json:"provider"`
	ItemID            string           `json:"itemId"`
	ExternalAccountID string           `json:"externalAccountId"`
	InstitutionID     string           `json:"institutionId"`
	InstitutionName   string           `json:"institutionName"`
	Name              string           `json:"name"`
	AccountType       string           `json:"accountType"`
	Subtype           string           `json:"subtype"`
	Mask              string           `json:"mask"`
	Currency          string           `json:"currency"`
	BalanceCurrent    decimal.Decimal  `json:"balanceCurrent"`
	BalanceAvailable  *decimal.Decimal `json:"balanceAvailable"`
	BalanceLimit      *decimal.Decimal `json:"balanceLimit"`
	AccessToken       string           `json:"-"`
	SyncStatus        SyncStatus       `json:"syncStatus"`
	LastSyncError     *SyncError       `json:"lastSyncError"`
	LastSyncedAt      *time.Time       `json:"lastSyncedAt"`
	Removed           bool             `json:"removed"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// Credential returns the adapter credential for this account.
func (a *Account) Credential() aggregator.Credential {
	return aggregator.Credential{Token: a.AccessToken}
}

// UpsertParams contains parameters for linking or refreshing an account.
type UpsertParams struct {
	UserID            int64
	Provider          string
	ItemID            string
	ExternalAccountID string
	InstitutionID     string
	InstitutionName   string
	Name              string
	AccountType       string
	Subtype           string
	Mask              string
	Currency          string
	AccessToken       string
	BalanceCurrent    decimal.Decimal
	BalanceAvailable  *decimal.Decimal
	BalanceLimit      *decimal.Decimal
}

// Validate validates the upsert parameters
func (p UpsertParams) Validate() error {
	if p.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if _, ok := validProviders[p.Provider]; !ok {
		return ErrInvalidProvider
	}
	if p.ItemID == "" {
		return errors.New("item ID is required")
	}
	if p.ExternalAccountID == "" {
		return errors.New("external account ID is required")
	}
	if p.Name == "" {
		return errors.New("account name is required")
	}
	if len(p.Currency) != 3 {
		return errors.New("valid ISO 4217 currency is required")
	}
	if p.AccessToken == "" {
		return errors.New("access token is required")
	}
	return nil
}

// SyncState bundles the fields the sync engine writes back after a run.
type SyncState struct {
	Status   SyncStatus
	Error    *SyncError
	SyncedAt *time.Time
}
