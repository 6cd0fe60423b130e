package aggregator

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Balance is a point-in-time balance snapshot for one account.
// Available and Limit are nil when the provider does not report them;
// absent values are never replaced with synthetic zeros.
type Balance struct {
	Current   decimal.Decimal
	Available *decimal.Decimal
	Limit     *decimal.Decimal
	Currency  string
}

// Transaction is a provider transaction normalized to the internal shape.
// Amounts are signed decimals, negative = outflow. ExternalID is unique per
// account and is the dedup key for ingestion.
type Transaction struct {
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

// AccountDetails describes one linked account as the provider reports it.
type AccountDetails struct {
	ExternalAccountID string
	ExternalItemID    string
	InstitutionID     string
	Name              string
	Type              string
	Subtype           string
	Mask              string
	Currency          string
	Balance           *Balance
}

// Institution is a financial institution as the provider reports it.
type Institution struct {
	ID           string
	Name         string
	URL          *string
	PrimaryColor *string
}
