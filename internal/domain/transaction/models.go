package transaction

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"finsync/internal/aggregator"
)

// Domain errors
var (
	ErrTransactionNotFound = errors.New("transaction not found")
)

// Transaction represents one normalized provider transaction. Amounts follow
// the app-wide sign convention: negative means money leaving the account.
type Transaction struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"accountId"`
	ExternalID   string          `json:"externalId"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Date         time.Time       `json:"date"`
	PostedDate   *time.Time      `json:"postedDate"`
	Pending      bool            `json:"pending"`
	Description  string          `json:"description"`
	Category     *string         `json:"category"`
	MerchantName *string         `json:"merchantName"`
	RawPayload   json.RawMessage `json:"-"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// UpsertParams contains parameters for ingesting a transaction. The row is
// keyed by (account ID, external ID), so re-delivery of the same provider
// transaction updates in place instead of duplicating.
type UpsertParams struct {
	AccountID    string
	ExternalID   string
	Amount       decimal.Decimal
	Currency     string
	Date         time.Time
	PostedDate   *time.Time
	Pending      bool
	Description  string
	Category     *string
	MerchantName *string
	RawPayload   json.RawMessage
}

// Validate validates the upsert parameters
func (p UpsertParams) Validate() error {
	if p.AccountID == "" {
		return errors.New("account ID is required")
	}
	if p.ExternalID == "" {
		return errors.New("external transaction ID is required")
	}
	if p.Date.IsZero() {
		return errors.New("transaction date is required")
	}
	return nil
}

// ParamsFromProvider builds upsert parameters from a normalized provider
// transaction. currency fills in providers that omit it per transaction.
func ParamsFromProvider(accountID, currency string, tx aggregator.Transaction) UpsertParams {
	if tx.Currency != "" {
		currency = tx.Currency
	}
	return UpsertParams{
		AccountID:    accountID,
		ExternalID:   tx.ExternalID,
		Amount:       tx.Amount,
		Currency:     currency,
		Date:         tx.Date,
		PostedDate:   tx.PostedDate,
		Pending:      tx.Pending,
		Description:  tx.Description,
		Category:     tx.Category,
		MerchantName: tx.MerchantName,
		RawPayload:   tx.RawPayload,
	}
}

// Changed reports whether applying params would modify this row's mutable
// fields. Unchanged re-deliveries skip the write entirely, which keeps sync
// runs idempotent.
func (t *Transaction) Changed(p UpsertParams) bool {
	if !t.Amount.Equal(p.Amount) {
		return true
	}
	if t.Pending != p.Pending {
		return true
	}
	if t.Description != p.Description {
		return true
	}
	if !t.Date.Equal(p.Date) {
		return true
	}
	if !timePtrEqual(t.PostedDate, p.PostedDate) {
		return true
	}
	if !strPtrEqual(t.Category, p.Category) {
		return true
	}
	if !strPtrEqual(t.MerchantName, p.MerchantName) {
		return true
	}
	return false
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
