package webhook

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	return key
}

// jwksJSON renders a single-key JWK set for the given RSA public key.
func jwksJSON(t *testing.T, keyID string, pub *rsa.PublicKey) []byte {
	t.Helper()

	doc := map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"use": "sig",
			"alg": "RS256",
			"kid": keyID,
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("failed to marshal test JWK set: %v", err)
	}
	return raw
}

func signToken(t *testing.T, key *rsa.PrivateKey, keyID string, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if keyID != "" {
		token.Header["kid"] = keyID
	}
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

func TestKeyCache_RefreshOnMiss(t *testing.T) {
	key := generateTestKey(t)
	jwks := jwksJSON(t, "kid-1", &key.PublicKey)

	var fetches atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Write(jwks)
	}))
	defer srv.Close()

	cache := NewKeyCache(srv.URL, 5*time.Second)

	got, err := cache.Get(context.Background(), "kid-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Algorithm != "RS256" {
		t.Errorf("Algorithm = %q, want RS256", got.Algorithm)
	}
	if got.Key == nil {
		t.Error("Key material is nil")
	}
	if fetches.Load() != 1 {
		t.Errorf("fetches = %d, want 1", fetches.Load())
	}

	// Second lookup is a pure cache hit.
	if _, err := cache.Get(context.Background(), "kid-1"); err != nil {
		t.Fatalf("second Get() failed: %v", err)
	}
	if fetches.Load() != 1 {
		t.Errorf("fetches after hit = %d, want 1", fetches.Load())
	}
}

func TestKeyCache_UnknownKeyAfterRefresh(t *testing.T) {
	key := generateTestKey(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(jwksJSON(t, "kid-1", &key.PublicKey))
	}))
	defer srv.Close()

	cache := NewKeyCache(srv.URL, 5*time.Second)

	_, err := cache.Get(context.Background(), "kid-nope")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get(unknown kid) = %v, want ErrKeyNotFound", err)
	}
}

func TestKeyCache_CoalescesConcurrentRefreshes(t *testing.T) {
	key := generateTestKey(t)
	jwks := jwksJSON(t, "kid-1", &key.PublicKey)

	var fetches atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		time.Sleep(100 * time.Millisecond) // hold the fetch open so callers pile up
		w.Write(jwks)
	}))
	defer srv.Close()

	cache := NewKeyCache(srv.URL, 5*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Get(context.Background(), "kid-1"); err != nil {
				t.Errorf("concurrent Get() failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if fetches.Load() != 1 {
		t.Errorf("fetches = %d, want 1 coalesced fetch for 10 concurrent misses", fetches.Load())
	}
}

func TestKeyCache_FailedRefreshKeepsEntries(t *testing.T) {
	key := generateTestKey(t)
	var failing atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write(jwksJSON(t, "kid-1", &key.PublicKey))
	}))
	defer srv.Close()

	cache := NewKeyCache(srv.URL, 5*time.Second)
	if _, err := cache.Get(context.Background(), "kid-1"); err != nil {
		t.Fatalf("initial Get() failed: %v", err)
	}

	failing.Store(true)

	// A miss now fails to refresh and reports the transport problem.
	if _, err := cache.Get(context.Background(), "kid-other"); err == nil {
		t.Error("Get() during outage succeeded, want error")
	}

	// But the previously cached key is still served.
	if _, err := cache.Get(context.Background(), "kid-1"); err != nil {
		t.Errorf("cached key lost after failed refresh: %v", err)
	}
}

func TestKeyCache_InvalidateForcesRefetch(t *testing.T) {
	key := generateTestKey(t)
	jwks := jwksJSON(t, "kid-1", &key.PublicKey)

	var fetches atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Write(jwks)
	}))
	defer srv.Close()

	cache := NewKeyCache(srv.URL, 5*time.Second)
	if _, err := cache.Get(context.Background(), "kid-1"); err != nil {
		t.Fatalf("Get() failed: %v", err)
	}

	cache.Invalidate("kid-1")

	if _, err := cache.Get(context.Background(), "kid-1"); err != nil {
		t.Fatalf("Get() after Invalidate failed: %v", err)
	}
	if fetches.Load() != 2 {
		t.Errorf("fetches = %d, want 2 after invalidation", fetches.Load())
	}
}
