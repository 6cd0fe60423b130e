// Package plaid implements the aggregator capability set against the Plaid
// API: JSON-over-POST endpoints with client credentials and the item access
// token carried in the request body.
package plaid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"finsync/internal/aggregator"
)

const (
	defaultTimeout   = 30 * time.Second
	balancePath      = "/accounts/balance/get"
	accountsPath     = "/accounts/get"
	transactionsPath = "/transactions/get"
	institutionPath  = "/institutions/get_by_id"
)

var envBaseURLs = map[string]string{
	"sandbox":     "https://sandbox.plaid.com",
	"development": "https://development.plaid.com",
	"production":  "https://production.plaid.com",
}

// Config holds Plaid API credentials. BaseURL overrides the
// environment-derived URL when set (tests, proxies).
type Config struct {
	ClientID    string
	Secret      string
	Environment string
	BaseURL     string
}

// Client calls the Plaid API and normalizes its responses.
type Client struct {
	httpClient *http.Client
	baseURL    string
	clientID   string
	secret     string
}

var _ aggregator.Adapter = (*Client)(nil)

// NewClient creates a Plaid client for the configured environment.
func NewClient(cfg Config) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		url, ok := envBaseURLs[cfg.Environment]
		if !ok {
			return nil, fmt.Errorf("unknown plaid environment %q", cfg.Environment)
		}
		baseURL = url
	}

	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    baseURL,
		clientID:   cfg.ClientID,
		secret:     cfg.Secret,
	}, nil
}

func (c *Client) Provider() string { return "plaid" }

// apiError is Plaid's error envelope.
type apiError struct {
	ErrorType      string `json:"error_type"`
	ErrorCode      string `json:"error_code"`
	ErrorMessage   string `json:"error_message"`
	DisplayMessage string `json:"display_message"`
	RequestID      string `json:"request_id"`
}

// classify maps Plaid's error_type/error_code pairs into the shared taxonomy.
func classify(status int, e *apiError) *aggregator.Error {
	switch e.ErrorType {
	case "RATE_LIMIT_EXCEEDED":
		return aggregator.NewError(aggregator.CodeRateLimited, e.ErrorMessage)
	case "INSTITUTION_ERROR":
		return aggregator.NewError(aggregator.CodeInstitutionDown, e.ErrorMessage)
	}

	switch e.ErrorCode {
	case "ITEM_LOGIN_REQUIRED", "INVALID_CREDENTIALS", "INVALID_ACCESS_TOKEN", "ITEM_LOCKED", "PENDING_EXPIRATION":
		return aggregator.NewError(aggregator.CodeLoginRequired, e.ErrorMessage)
	case "USER_SETUP_REQUIRED":
		return aggregator.NewError(aggregator.CodeSetupRequired, e.ErrorMessage)
	case "PRODUCTS_NOT_SUPPORTED", "ITEM_NOT_SUPPORTED", "MFA_NOT_SUPPORTED", "NO_ACCOUNTS":
		return aggregator.NewError(aggregator.CodeNotSupported, e.ErrorMessage)
	case "INSTITUTION_DOWN", "INSTITUTION_NOT_RESPONDING", "INSTITUTION_NOT_AVAILABLE":
		return aggregator.NewError(aggregator.CodeInstitutionDown, e.ErrorMessage)
	case "RATE_LIMIT":
		return aggregator.NewError(aggregator.CodeRateLimited, e.ErrorMessage)
	}

	if status >= 500 {
		return aggregator.NewError(aggregator.CodeInstitutionDown, e.ErrorMessage)
	}
	return aggregator.NewError(aggregator.CodeUnknown, fmt.Sprintf("%s/%s: %s", e.ErrorType, e.ErrorCode, e.ErrorMessage))
}

// post sends a Plaid request with client credentials merged into the body and
// decodes the response into out. Provider failures come back classified.
func (c *Client) post(ctx context.Context, path string, body map[string]any, out any) error {
	body["client_id"] = c.clientID
	body["secret"] = c.secret

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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
		if err := json.Unmarshal(raw, &apiErr); err != nil || apiErr.ErrorType == "" && apiErr.ErrorCode == "" {
			return aggregator.NewTransportError(fmt.Errorf("status %d: %s", resp.StatusCode, raw))
		}
		return classify(resp.StatusCode, &apiErr)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

type balances struct {
	Available       *float64 `json:"available"`
	Current         *float64 `json:"current"`
	Limit           *float64 `json:"limit"`
	ISOCurrencyCode string   `json:"iso_currency_code"`
}

type apiAccount struct {
	AccountID    string   `json:"account_id"`
	Balances     balances `json:"balances"`
	Mask         string   `json:"mask"`
	Name         string   `json:"name"`
	OfficialName string   `json:"official_name"`
	Type         string   `json:"type"`
	Subtype      string   `json:"subtype"`
}

type apiItem struct {
	ItemID        string `json:"item_id"`
	InstitutionID string `json:"institution_id"`
}

type accountsResponse struct {
	Accounts []apiAccount `json:"accounts"`
	Item     apiItem      `json:"item"`
}

func normalizeBalance(b balances) *aggregator.Balance {
	nb := &aggregator.Balance{Currency: b.ISOCurrencyCode}
	if b.Current != nil {
		nb.Current = decimal.NewFromFloat(*b.Current)
	}
	if b.Available != nil {
		v := decimal.NewFromFloat(*b.Available)
		nb.Available = &v
	}
	if b.Limit != nil {
		v := decimal.NewFromFloat(*b.Limit)
		nb.Limit = &v
	}
	return nb
}

// FetchBalance returns the current balance snapshot for one account.
func (c *Client) FetchBalance(ctx context.Context, cred aggregator.Credential, accountRef string) (*aggregator.Balance, error) {
	var resp accountsResponse
	body := map[string]any{
		"access_token": cred.Token,
		"options":      map[string]any{"account_ids": []string{accountRef}},
	}
	if err := c.post(ctx, balancePath, body, &resp); err != nil {
		return nil, err
	}

	for _, acct := range resp.Accounts {
		if acct.AccountID == accountRef {
			return normalizeBalance(acct.Balances), nil
		}
	}
	return nil, aggregator.NewError(aggregator.CodeUnknown, fmt.Sprintf("account %s not present in balance response", accountRef))
}

type apiTransaction struct {
	TransactionID   string   `json:"transaction_id"`
	AccountID       string   `json:"account_id"`
	Amount          float64  `json:"amount"`
	ISOCurrencyCode string   `json:"iso_currency_code"`
	Date            string   `json:"date"`
	AuthorizedDate  *string  `json:"authorized_date"`
	Pending         bool     `json:"pending"`
	Name            string   `json:"name"`
	MerchantName    *string  `json:"merchant_name"`
	Category        []string `json:"category"`
}

type transactionsResponse struct {
	Transactions      []apiTransaction `json:"transactions"`
	TotalTransactions int              `json:"total_transactions"`
}

// FetchTransactions returns transactions for one account within the window,
// normalized to signed decimals with negative = outflow (Plaid reports
// outflows as positive, so amounts are negated).
func (c *Client) FetchTransactions(ctx context.Context, cred aggregator.Credential, accountRef string, window aggregator.Window) ([]aggregator.Transaction, error) {
	count := window.Count
	if count <= 0 {
		count = 100
	}

	var resp transactionsResponse
	body := map[string]any{
		"access_token": cred.Token,
		"start_date":   window.Since.Format("2006-01-02"),
		"end_date":     time.Now().Format("2006-01-02"),
		"options": map[string]any{
			"account_ids": []string{accountRef},
			"count":       count,
		},
	}
	if err := c.post(ctx, transactionsPath, body, &resp); err != nil {
		return nil, err
	}

	normalized := make([]aggregator.Transaction, 0, len(resp.Transactions))
	for _, tx := range resp.Transactions {
		nt, err := normalizeTransaction(tx)
		if err != nil {
			return nil, fmt.Errorf("failed to normalize transaction %s: %w", tx.TransactionID, err)
		}
		normalized = append(normalized, nt)
	}
	return normalized, nil
}

func normalizeTransaction(tx apiTransaction) (aggregator.Transaction, error) {
	postedDate, err := time.Parse("2006-01-02", tx.Date)
	if err != nil {
		return aggregator.Transaction{}, fmt.Errorf("failed to parse date %q: %w", tx.Date, err)
	}

	date := postedDate
	if tx.AuthorizedDate != nil && *tx.AuthorizedDate != "" {
		if d, err := time.Parse("2006-01-02", *tx.AuthorizedDate); err == nil {
			date = d
		}
	}

	nt := aggregator.Transaction{
		ExternalID:   tx.TransactionID,
		Amount:       decimal.NewFromFloat(tx.Amount).Neg(),
		Currency:     tx.ISOCurrencyCode,
		Date:         date,
		Pending:      tx.Pending,
		Description:  tx.Name,
		MerchantName: tx.MerchantName,
	}
	if !tx.Pending {
		nt.PostedDate = &postedDate
	}
	if len(tx.Category) > 0 {
		category := tx.Category[0]
		nt.Category = &category
	}

	raw, err := json.Marshal(tx)
	if err != nil {
		return aggregator.Transaction{}, fmt.Errorf("failed to marshal raw payload: %w", err)
	}
	nt.RawPayload = raw

	return nt, nil
}

// FetchAccountDetails returns the provider's view of one linked account.
func (c *Client) FetchAccountDetails(ctx context.Context, cred aggregator.Credential, accountRef string) (*aggregator.AccountDetails, error) {
	var resp accountsResponse
	body := map[string]any{
		"access_token": cred.Token,
		"options":      map[string]any{"account_ids": []string{accountRef}},
	}
	if err := c.post(ctx, accountsPath, body, &resp); err != nil {
		return nil, err
	}

	for _, acct := range resp.Accounts {
		if acct.AccountID != accountRef {
			continue
		}
		name := acct.Name
		if acct.OfficialName != "" {
			name = acct.OfficialName
		}
		return &aggregator.AccountDetails{
			ExternalAccountID: acct.AccountID,
			ExternalItemID:    resp.Item.ItemID,
			InstitutionID:     resp.Item.InstitutionID,
			Name:              name,
			Type:              acct.Type,
			Subtype:           acct.Subtype,
			Mask:              acct.Mask,
			Currency:          acct.Balances.ISOCurrencyCode,
			Balance:           normalizeBalance(acct.Balances),
		}, nil
	}
	return nil, aggregator.NewError(aggregator.CodeUnknown, fmt.Sprintf("account %s not present in accounts response", accountRef))
}

type institutionResponse struct {
	Institution struct {
		InstitutionID string  `json:"institution_id"`
		Name          string  `json:"name"`
		URL           *string `json:"url"`
		PrimaryColor  *string `json:"primary_color"`
	} `json:"institution"`
}

// FetchInstitution looks up institution metadata by Plaid institution id.
func (c *Client) FetchInstitution(ctx context.Context, institutionRef string) (*aggregator.Institution, error) {
	var resp institutionResponse
	body := map[string]any{
		"institution_id": institutionRef,
		"country_codes":  []string{"US"},
		"options":        map[string]any{"include_optional_metadata": true},
	}
	if err := c.post(ctx, institutionPath, body, &resp); err != nil {
		return nil, err
	}

	return &aggregator.Institution{
		ID:           resp.Institution.InstitutionID,
		Name:         resp.Institution.Name,
		URL:          resp.Institution.URL,
		PrimaryColor: resp.Institution.PrimaryColor,
	}, nil
}
