// Package aggregator defines the capability set shared by bank-data providers
// and the normalized shapes their responses are mapped into. Each provider
// (Plaid, Teller) implements Adapter in its own subpackage; new providers are
// added by implementing the same capability set.
package aggregator

import (
	"context"
	"time"
)

// Credential is the opaque per-item credential material an adapter needs to
// call the provider on behalf of a linked account. For Plaid this is the item
// access token; for Teller it is the enrollment access token (the mTLS client
// certificate is transport configuration owned by the adapter itself).
type Credential struct {
	Token string
}

// Window bounds a transaction fetch.
type Window struct {
	Since time.Time
	Count int
}

// Adapter is the capability set every provider variant implements. All calls
// are blocking network I/O with an enforced client timeout; cancelling ctx
// abandons the call.
type Adapter interface {
	// Provider returns the provider slug ("plaid", "teller").
	Provider() string

	FetchBalance(ctx context.Context, cred Credential, accountRef string) (*Balance, error)
	FetchTransactions(ctx context.Context, cred Credential, accountRef string, window Window) ([]Transaction, error)
	FetchAccountDetails(ctx context.Context, cred Credential, accountRef string) (*AccountDetails, error)
	FetchInstitution(ctx context.Context, institutionRef string) (*Institution, error)
}
