package http

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"finsync/internal/aggregator"
	"finsync/internal/domain/account"
	"finsync/internal/domain/sync"
	"finsync/internal/interfaces/scheduler"
	"finsync/internal/webhook"
)

const verificationHeader = "Plaid-Verification"

// stubAccountRepo serves a fixed account list for one item.
type stubAccountRepo struct {
	account.Repository
	accounts []*account.Account
}

func (r *stubAccountRepo) ListByItemID(ctx context.Context, provider, itemID string) ([]*account.Account, error) {
	return r.accounts, nil
}

type stubAdapter struct{}

func (stubAdapter) Provider() string { return "plaid" }
func (stubAdapter) FetchBalance(ctx context.Context, cred aggregator.Credential, accountRef string) (*aggregator.Balance, error) {
	return nil, nil
}
func (stubAdapter) FetchTransactions(ctx context.Context, cred aggregator.Credential, accountRef string, window aggregator.Window) ([]aggregator.Transaction, error) {
	return nil, nil
}
func (stubAdapter) FetchAccountDetails(ctx context.Context, cred aggregator.Credential, accountRef string) (*aggregator.AccountDetails, error) {
	return nil, nil
}
func (stubAdapter) FetchInstitution(ctx context.Context, institutionRef string) (*aggregator.Institution, error) {
	return nil, nil
}

func newTestWebhookHandler(t *testing.T, key *rsa.PrivateKey, keyID string, accounts []*account.Account) *WebhookHandler {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		doc := map[string]any{
			"keys": []map[string]any{{
				"kty": "RSA",
				"use": "sig",
				"alg": "RS256",
				"kid": keyID,
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
			}},
		}
		json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(srv.Close)

	verifier := webhook.NewVerifier(webhook.NewKeyCache(srv.URL, 5*time.Second), 300*time.Second, false)

	repo := &stubAccountRepo{accounts: accounts}
	engine := sync.NewEngine(repo, nil, nil, sync.Config{})
	adapters := map[string]aggregator.Adapter{"plaid": stubAdapter{}}

	// Jobs land in the queue but the pool is never started; the handler only
	// needs submission to succeed.
	pool := scheduler.NewWorkerPool(1, 0, 16)
	dispatcher := scheduler.NewDispatcher(repo, engine, adapters, pool)

	return NewWebhookHandler(verifier, dispatcher, "plaid", verificationHeader)
}

func signWebhookToken(t *testing.T, key *rsa.PrivateKey, keyID string, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = keyID
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

func TestHandleWebhook_MethodNotAllowed(t *testing.T) {
	key, _ := rsa.GenerateKey(rand.Reader, 2048)
	handler := newTestWebhookHandler(t, key, "kid-1", nil)

	rec := httptest.NewRecorder()
	handler.HandleWebhook(rec, httptest.NewRequest(http.MethodGet, "/webhooks/plaid", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleWebhook_MissingHeader(t *testing.T) {
	key, _ := rsa.GenerateKey(rand.Reader, 2048)
	handler := newTestWebhookHandler(t, key, "kid-1", nil)

	rec := httptest.NewRecorder()
	handler.HandleWebhook(rec, httptest.NewRequest(http.MethodPost, "/webhooks/plaid", strings.NewReader("{}")))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestHandleWebhook_InvalidTokenGetsGenericBody(t *testing.T) {
	key, _ := rsa.GenerateKey(rand.Reader, 2048)
	handler := newTestWebhookHandler(t, key, "kid-1", nil)

	for _, token := range []string{
		"garbage",
		"a.b.c",
		signWebhookToken(t, key, "kid-unknown", jwt.MapClaims{"iat": time.Now().Unix()}),
		signWebhookToken(t, key, "kid-1", jwt.MapClaims{"iat": time.Now().Add(-time.Hour).Unix()}),
	} {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/plaid", strings.NewReader("{}"))
		req.Header.Set(verificationHeader, token)
		rec := httptest.NewRecorder()
		handler.HandleWebhook(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}

		// The body must not leak which check failed.
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("response is not JSON: %v", err)
		}
		if body["error"] != "unauthorized" {
			t.Errorf("body = %v, want generic unauthorized", body)
		}
	}
}

func TestHandleWebhook_ValidTokenDispatchesItem(t *testing.T) {
	key, _ := rsa.GenerateKey(rand.Reader, 2048)
	accounts := []*account.Account{
		{ID: "acc-1", Provider: "plaid", ItemID: "item-9", SyncStatus: account.SyncStatusSynced},
		{ID: "acc-2", Provider: "plaid", ItemID: "item-9", SyncStatus: account.SyncStatusReauthRequired},
	}
	handler := newTestWebhookHandler(t, key, "kid-1", accounts)

	token := signWebhookToken(t, key, "kid-1", jwt.MapClaims{
		"iat":          time.Now().Unix(),
		"item_id":      "item-9",
		"webhook_type": "TRANSACTIONS",
	})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/plaid", strings.NewReader("{}"))
	req.Header.Set(verificationHeader, token)
	rec := httptest.NewRecorder()
	handler.HandleWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body: %s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	// The reauth-required account must not be queued.
	if queued, ok := body["accounts_queued"].(float64); !ok || int(queued) != 1 {
		t.Errorf("accounts_queued = %v, want 1", body["accounts_queued"])
	}
}

func TestHandleWebhook_VerifiedPingWithoutItemID(t *testing.T) {
	key, _ := rsa.GenerateKey(rand.Reader, 2048)
	handler := newTestWebhookHandler(t, key, "kid-1", nil)

	token := signWebhookToken(t, key, "kid-1", jwt.MapClaims{"iat": time.Now().Unix()})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/plaid", strings.NewReader("{}"))
	req.Header.Set(verificationHeader, token)
	rec := httptest.NewRecorder()
	handler.HandleWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
