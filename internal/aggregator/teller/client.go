// Package teller implements the aggregator capability set against the Teller
// API: REST-style GET endpoints authenticated with the enrollment access token
// (HTTP basic auth) over a mutual-TLS client certificate.
package teller

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"finsync/internal/aggregator"
)

const defaultTimeout = 30 * time.Second

// Config holds Teller transport configuration. The client certificate is the
// opaque credential material for the mTLS channel; per-enrollment access
// tokens travel as basic auth on each request.
type Config struct {
	BaseURL     string
	Certificate *tls.Certificate
}

// Client calls the Teller API and normalizes its responses.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

var _ aggregator.Adapter = (*Client)(nil)

// NewClient creates a Teller client. A nil certificate skips mTLS setup
// (tests against plain-HTTP servers).
func NewClient(cfg Config) *Client {
	httpClient := &http.Client{Timeout: defaultTimeout}
	if cfg.Certificate != nil {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				Certificates: []tls.Certificate{*cfg.Certificate},
				MinVersion:   tls.VersionTLS12,
			},
		}
	}

	return &Client{httpClient: httpClient, baseURL: cfg.BaseURL}
}

// NewClientFromFiles creates a Teller client loading the mTLS certificate
// from PEM files.
func NewClientFromFiles(baseURL, certFile, keyFile string) (*Client, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load teller client certificate: %w", err)
	}
	return NewClient(Config{BaseURL: baseURL, Certificate: &cert}), nil
}

func (c *Client) Provider() string { return "teller" }

// apiError is Teller's error envelope.
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// classify maps Teller error codes and HTTP statuses into the shared taxonomy.
func classify(status int, e *apiError) *aggregator.Error {
	switch e.Error.Code {
	case "enrollment.disconnected", "enrollment.disconnected.user_action.mfa_required",
		"enrollment.disconnected.user_action.credentials_required":
		return aggregator.NewError(aggregator.CodeLoginRequired, e.Error.Message)
	case "enrollment.disconnected.user_action.web_login_required", "enrollment.incomplete":
		return aggregator.NewError(aggregator.CodeSetupRequired, e.Error.Message)
	case "institution.unavailable", "bad_gateway":
		return aggregator.NewError(aggregator.CodeInstitutionDown, e.Error.Message)
	case "too_many_requests":
		return aggregator.NewError(aggregator.CodeRateLimited, e.Error.Message)
	case "account.unsupported", "not_implemented":
		return aggregator.NewError(aggregator.CodeNotSupported, e.Error.Message)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return aggregator.NewError(aggregator.CodeLoginRequired, e.Error.Message)
	case status == http.StatusTooManyRequests:
		return aggregator.NewError(aggregator.CodeRateLimited, e.Error.Message)
	case status == http.StatusNotFound:
		return aggregator.NewError(aggregator.CodeNotSupported, e.Error.Message)
	case status >= 500:
		return aggregator.NewError(aggregator.CodeInstitutionDown, e.Error.Message)
	}
	return aggregator.NewError(aggregator.CodeUnknown, fmt.Sprintf("%s (status %d)", e.Error.Code, status))
}

// get performs an authenticated GET and decodes the response into out.
func (c *Client) get(ctx context.Context, path, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(token, "")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return aggregator.NewTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return aggregator.NewTransportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if err := json.Unmarshal(raw, &apiErr); err != nil {
			return aggregator.NewTransportError(fmt.Errorf("status %d: %s", resp.StatusCode, raw))
		}
		return classify(resp.StatusCode, &apiErr)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

type apiBalance struct {
	AccountID string  `json:"account_id"`
	Ledger    *string `json:"ledger"`
	Available *string `json:"available"`
}

// FetchBalance returns the ledger/available balances for one account. Teller
// reports amounts as decimal strings and never reports a credit limit, so
// Limit stays nil.
func (c *Client) FetchBalance(ctx context.Context, cred aggregator.Credential, accountRef string) (*aggregator.Balance, error) {
	var resp apiBalance
	if err := c.get(ctx, "/accounts/"+accountRef+"/balances", cred.Token, &resp); err != nil {
		return nil, err
	}

	balance := &aggregator.Balance{}
	if resp.Ledger != nil {
		current, err := decimal.NewFromString(*resp.Ledger)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ledger balance %q: %w", *resp.Ledger, err)
		}
		balance.Current = current
	}
	if resp.Available != nil {
		available, err := decimal.NewFromString(*resp.Available)
		if err != nil {
			return nil, fmt.Errorf("failed to parse available balance %q: %w", *resp.Available, err)
		}
		balance.Available = &available
	}

	// Teller omits the currency on balance responses; the account record
	// carries it.
	return balance, nil
}

type apiTransaction struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id"`
	Amount      string `json:"amount"`
	Date        string `json:"date"`
	Description string `json:"description"`
	Status      string `json:"status"` // posted or pending
	Details     struct {
		Category     *string `json:"category"`
		Counterparty struct {
			Name *string `json:"name"`
		} `json:"counterparty"`
	} `json:"details"`
}

// FetchTransactions returns transactions for one account. Teller amounts are
// already signed with negative = outflow, so no sign normalization is needed.
func (c *Client) FetchTransactions(ctx context.Context, cred aggregator.Credential, accountRef string, window aggregator.Window) ([]aggregator.Transaction, error) {
	count := window.Count
	if count <= 0 {
		count = 100
	}

	var resp []apiTransaction
	path := fmt.Sprintf("/accounts/%s/transactions?count=%d", accountRef, count)
	if err := c.get(ctx, path, cred.Token, &resp); err != nil {
		return nil, err
	}

	normalized := make([]aggregator.Transaction, 0, len(resp))
	for _, tx := range resp {
		date, err := time.Parse("2006-01-02", tx.Date)
		if err != nil {
			return nil, fmt.Errorf("failed to parse date %q for transaction %s: %w", tx.Date, tx.ID, err)
		}
		if date.Before(window.Since) {
			continue
		}

		amount, err := decimal.NewFromString(tx.Amount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse amount %q for transaction %s: %w", tx.Amount, tx.ID, err)
		}

		raw, err := json.Marshal(tx)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal raw payload: %w", err)
		}

		nt := aggregator.Transaction{
			ExternalID:   tx.ID,
			Amount:       amount,
			Date:         date,
			Pending:      tx.Status == "pending",
			Description:  tx.Description,
			Category:     tx.Details.Category,
			MerchantName: tx.Details.Counterparty.Name,
			RawPayload:   raw,
		}
		if !nt.Pending {
			posted := date
			nt.PostedDate = &posted
		}
		normalized = append(normalized, nt)
	}
	return normalized, nil
}

type apiAccount struct {
	ID           string `json:"id"`
	EnrollmentID string `json:"enrollment_id"`
	Institution  struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"institution"`
	LastFour string `json:"last_four"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
	Type     string `json:"type"`
	Subtype  string `json:"subtype"`
}

// FetchAccountDetails returns the provider's view of one account. Teller does
// not include balances here, so Balance stays nil.
func (c *Client) FetchAccountDetails(ctx context.Context, cred aggregator.Credential, accountRef string) (*aggregator.AccountDetails, error) {
	var resp apiAccount
	if err := c.get(ctx, "/accounts/"+accountRef, cred.Token, &resp); err != nil {
		return nil, err
	}

	return &aggregator.AccountDetails{
		ExternalAccountID: resp.ID,
		ExternalItemID:    resp.EnrollmentID,
		InstitutionID:     resp.Institution.ID,
		Name:              resp.Name,
		Type:              resp.Type,
		Subtype:           resp.Subtype,
		Mask:              resp.LastFour,
		Currency:          resp.Currency,
	}, nil
}

type apiInstitution struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FetchInstitution looks up one institution in Teller's public institution
// directory. The directory endpoint is unauthenticated.
func (c *Client) FetchInstitution(ctx context.Context, institutionRef string) (*aggregator.Institution, error) {
	var resp []apiInstitution
	if err := c.get(ctx, "/institutions", "", &resp); err != nil {
		return nil, err
	}

	for _, inst := range resp {
		if inst.ID == institutionRef {
			return &aggregator.Institution{ID: inst.ID, Name: inst.Name}, nil
		}
	}
	return nil, aggregator.NewError(aggregator.CodeUnknown, fmt.Sprintf("institution %s not found", institutionRef))
}
