package teller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"finsync/internal/aggregator"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{BaseURL: srv.URL})
}

func TestFetchBalance_StringAmounts(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, _, ok := r.BasicAuth()
		if !ok || user != "token-123" {
			t.Errorf("basic auth user = %q, want token-123", user)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"account_id": "acc-1",
			"ledger":     "1050.25",
			"available":  nil,
		})
	})

	balance, err := client.FetchBalance(context.Background(), aggregator.Credential{Token: "token-123"}, "acc-1")
	if err != nil {
		t.Fatalf("FetchBalance() failed: %v", err)
	}

	if !balance.Current.Equal(decimal.RequireFromString("1050.25")) {
		t.Errorf("Current = %s, want 1050.25", balance.Current)
	}
	if balance.Available != nil {
		t.Errorf("Available = %v, want nil for null field", balance.Available)
	}
	if balance.Limit != nil {
		t.Errorf("Limit = %v, want nil (teller never reports a limit)", balance.Limit)
	}
}

func TestFetchBalance_UnparsableAmount(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"account_id": "acc-1", "ledger": "not-a-number"})
	})

	if _, err := client.FetchBalance(context.Background(), aggregator.Credential{Token: "t"}, "acc-1"); err == nil {
		t.Error("FetchBalance() accepted unparsable ledger amount")
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		code          string
		wantCode      aggregator.ErrorCode
		wantRetryable bool
	}{
		{"disconnected enrollment", http.StatusUnauthorized, "enrollment.disconnected", aggregator.CodeLoginRequired, false},
		{"mfa required", http.StatusUnauthorized, "enrollment.disconnected.user_action.mfa_required", aggregator.CodeLoginRequired, false},
		{"incomplete enrollment", http.StatusUnprocessableEntity, "enrollment.incomplete", aggregator.CodeSetupRequired, false},
		{"rate limited", http.StatusTooManyRequests, "too_many_requests", aggregator.CodeRateLimited, true},
		{"institution unavailable", http.StatusBadGateway, "institution.unavailable", aggregator.CodeInstitutionDown, true},
		{"unsupported account", http.StatusNotFound, "account.unsupported", aggregator.CodeNotSupported, false},
		{"bare 401", http.StatusUnauthorized, "", aggregator.CodeLoginRequired, false},
		{"bare 500", http.StatusInternalServerError, "", aggregator.CodeInstitutionDown, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{"code": tt.code, "message": "provider says no"},
				})
			})

			_, err := client.FetchBalance(context.Background(), aggregator.Credential{Token: "t"}, "acc-1")
			if err == nil {
				t.Fatal("FetchBalance() succeeded, want error")
			}

			var aggErr *aggregator.Error
			if !errors.As(err, &aggErr) {
				t.Fatalf("error is %T, want *aggregator.Error", err)
			}
			if aggErr.Code != tt.wantCode {
				t.Errorf("Code = %s, want %s", aggErr.Code, tt.wantCode)
			}
			if aggErr.Retryable != tt.wantRetryable {
				t.Errorf("Retryable = %v, want %v", aggErr.Retryable, tt.wantRetryable)
			}
		})
	}
}

func TestFetchTransactions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{
				"id":          "txn-1",
				"account_id":  "acc-1",
				"amount":      "-18.99", // already negative = outflow
				"date":        "2026-08-22",
				"description": "GROCERY STORE",
				"status":      "posted",
				"details": map[string]any{
					"category":     "groceries",
					"counterparty": map[string]any{"name": "Grocery Store"},
				},
			},
			{
				"id":          "txn-old",
				"account_id":  "acc-1",
				"amount":      "-5.00",
				"date":        "2026-07-01", // before window
				"description": "OLD",
				"status":      "posted",
				"details":     map[string]any{"counterparty": map[string]any{}},
			},
		})
	})

	window := aggregator.Window{Since: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}
	txs, err := client.FetchTransactions(context.Background(), aggregator.Credential{Token: "t"}, "acc-1", window)
	if err != nil {
		t.Fatalf("FetchTransactions() failed: %v", err)
	}

	if len(txs) != 1 {
		t.Fatalf("got %d transactions, want 1 (window filters the old one)", len(txs))
	}
	tx := txs[0]
	if !tx.Amount.Equal(decimal.RequireFromString("-18.99")) {
		t.Errorf("Amount = %s, want -18.99 (no sign change)", tx.Amount)
	}
	if tx.Pending {
		t.Error("Pending = true for posted transaction")
	}
	if tx.Category == nil || *tx.Category != "groceries" {
		t.Errorf("Category = %v, want groceries", tx.Category)
	}
	if tx.MerchantName == nil || *tx.MerchantName != "Grocery Store" {
		t.Errorf("MerchantName = %v, want Grocery Store", tx.MerchantName)
	}
}

func TestFetchAccountDetails(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/acc-1" {
			t.Errorf("path = %q, want /accounts/acc-1", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":            "acc-1",
			"enrollment_id": "enr-1",
			"institution":   map[string]any{"id": "chase", "name": "Chase"},
			"last_four":     "4321",
			"name":          "Everyday Checking",
			"currency":      "USD",
			"type":          "depository",
			"subtype":       "checking",
		})
	})

	details, err := client.FetchAccountDetails(context.Background(), aggregator.Credential{Token: "t"}, "acc-1")
	if err != nil {
		t.Fatalf("FetchAccountDetails() failed: %v", err)
	}
	if details.ExternalItemID != "enr-1" {
		t.Errorf("ExternalItemID = %q, want enr-1", details.ExternalItemID)
	}
	if details.InstitutionID != "chase" {
		t.Errorf("InstitutionID = %q, want chase", details.InstitutionID)
	}
	if details.Mask != "4321" {
		t.Errorf("Mask = %q, want 4321", details.Mask)
	}
	if details.Balance != nil {
		t.Error("Balance should be nil: teller account details carry no balances")
	}
}
