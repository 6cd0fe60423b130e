package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const replayWindow = 300 * time.Second

// fakeKeyStore counts lookups so tests can assert which verification failures
// short-circuit before touching the cache.
type fakeKeyStore struct {
	key         SigningKey
	err         error
	getCalls    int
	invalidated []string
}

func (f *fakeKeyStore) Get(ctx context.Context, keyID string) (SigningKey, error) {
	f.getCalls++
	if f.err != nil {
		return SigningKey{}, f.err
	}
	return f.key, nil
}

func (f *fakeKeyStore) Invalidate(keyID string) {
	f.invalidated = append(f.invalidated, keyID)
}

func TestVerify_ValidToken(t *testing.T) {
	key := generateTestKey(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(jwksJSON(t, "kid-1", &key.PublicKey))
	}))
	defer srv.Close()

	now := time.Now()
	token := signToken(t, key, "kid-1", jwt.MapClaims{
		"iat":          now.Unix(),
		"webhook_type": "TRANSACTIONS",
		"item_id":      "item-1",
	})

	verifier := NewVerifier(NewKeyCache(srv.URL, 5*time.Second), replayWindow, false)
	claim, err := verifier.Verify(context.Background(), token, now)
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}

	if claim.KeyID != "kid-1" {
		t.Errorf("KeyID = %q, want kid-1", claim.KeyID)
	}
	if claim.Payload["item_id"] != "item-1" {
		t.Errorf("Payload[item_id] = %v, want item-1", claim.Payload["item_id"])
	}
	if got := claim.IssuedAt.Unix(); got != now.Unix() {
		t.Errorf("IssuedAt = %d, want %d", got, now.Unix())
	}
}

func TestVerify_MalformedTokenNeverHitsKeyStore(t *testing.T) {
	store := &fakeKeyStore{}
	verifier := NewVerifier(store, replayWindow, false)

	for _, raw := range []string{"", "one", "a.b", "a.b.c.d", "not a token at all"} {
		if _, err := verifier.Verify(context.Background(), raw, time.Now()); !errors.Is(err, ErrMalformedToken) {
			t.Errorf("Verify(%q) = %v, want ErrMalformedToken", raw, err)
		}
	}
	if store.getCalls != 0 {
		t.Errorf("key store hit %d times for malformed tokens, want 0", store.getCalls)
	}
}

func TestVerify_MissingKeyID(t *testing.T) {
	key := generateTestKey(t)
	store := &fakeKeyStore{}
	verifier := NewVerifier(store, replayWindow, false)

	token := signToken(t, key, "", jwt.MapClaims{"iat": time.Now().Unix()})
	if _, err := verifier.Verify(context.Background(), token, time.Now()); !errors.Is(err, ErrMissingKeyID) {
		t.Errorf("Verify() = %v, want ErrMissingKeyID", err)
	}
	if store.getCalls != 0 {
		t.Errorf("key store hit %d times, want 0 when kid is absent", store.getCalls)
	}
}

func TestVerify_UnknownKey(t *testing.T) {
	key := generateTestKey(t)
	store := &fakeKeyStore{err: ErrKeyNotFound}
	verifier := NewVerifier(store, replayWindow, false)

	token := signToken(t, key, "kid-gone", jwt.MapClaims{"iat": time.Now().Unix()})
	if _, err := verifier.Verify(context.Background(), token, time.Now()); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("Verify() = %v, want ErrUnknownKey", err)
	}
}

func TestVerify_BadSignatureInvalidatesKey(t *testing.T) {
	signingKey := generateTestKey(t)
	otherKey := generateTestKey(t)

	store := &fakeKeyStore{key: SigningKey{KeyID: "kid-1", Algorithm: "RS256", Key: &otherKey.PublicKey}}
	verifier := NewVerifier(store, replayWindow, false)

	token := signToken(t, signingKey, "kid-1", jwt.MapClaims{"iat": time.Now().Unix()})
	if _, err := verifier.Verify(context.Background(), token, time.Now()); !errors.Is(err, ErrBadSignature) {
		t.Errorf("Verify() = %v, want ErrBadSignature", err)
	}
	if len(store.invalidated) != 1 || store.invalidated[0] != "kid-1" {
		t.Errorf("invalidated = %v, want [kid-1] after signature mismatch", store.invalidated)
	}
}

func TestVerify_RejectsWrongAlgorithm(t *testing.T) {
	key := generateTestKey(t)
	store := &fakeKeyStore{key: SigningKey{KeyID: "kid-1", Algorithm: "RS256", Key: &key.PublicKey}}
	verifier := NewVerifier(store, replayWindow, false)

	// HS256 token claiming the RS256 key's kid must not pass.
	hsToken := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"iat": time.Now().Unix()})
	hsToken.Header["kid"] = "kid-1"
	signed, err := hsToken.SignedString([]byte("shared-secret"))
	if err != nil {
		t.Fatalf("failed to sign HS256 token: %v", err)
	}

	if _, err := verifier.Verify(context.Background(), signed, time.Now()); !errors.Is(err, ErrBadSignature) {
		t.Errorf("Verify(HS256 token) = %v, want ErrBadSignature", err)
	}
}

func TestVerify_MissingTimestamp(t *testing.T) {
	key := generateTestKey(t)
	store := &fakeKeyStore{key: SigningKey{KeyID: "kid-1", Algorithm: "RS256", Key: &key.PublicKey}}
	verifier := NewVerifier(store, replayWindow, false)

	token := signToken(t, key, "kid-1", jwt.MapClaims{"webhook_type": "TRANSACTIONS"})
	if _, err := verifier.Verify(context.Background(), token, time.Now()); !errors.Is(err, ErrMissingTimestamp) {
		t.Errorf("Verify() = %v, want ErrMissingTimestamp", err)
	}
}

func TestVerify_ReplayWindow(t *testing.T) {
	key := generateTestKey(t)
	store := &fakeKeyStore{key: SigningKey{KeyID: "kid-1", Algorithm: "RS256", Key: &key.PublicKey}}
	verifier := NewVerifier(store, replayWindow, false)
	now := time.Now()

	tests := []struct {
		name     string
		issuedAt time.Time
		wantOK   bool
	}{
		{"fresh", now, true},
		{"at the stale boundary", now.Add(-300 * time.Second), true},
		{"one second past stale", now.Add(-301 * time.Second), false},
		{"at the future boundary", now.Add(300 * time.Second), true},
		{"one second past future", now.Add(301 * time.Second), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := signToken(t, key, "kid-1", jwt.MapClaims{"iat": tt.issuedAt.Unix()})
			_, err := verifier.Verify(context.Background(), token, now)
			if tt.wantOK && err != nil {
				t.Errorf("Verify() = %v, want success", err)
			}
			if !tt.wantOK && !errors.Is(err, ErrStaleTimestamp) {
				t.Errorf("Verify() = %v, want ErrStaleTimestamp", err)
			}
		})
	}
}

func TestVerify_InsecureSkipBypassesEverything(t *testing.T) {
	store := &fakeKeyStore{}
	verifier := NewVerifier(store, replayWindow, true)

	// A garbage token still passes through; the payload is just empty.
	claim, err := verifier.Verify(context.Background(), "garbage", time.Now())
	if err != nil {
		t.Fatalf("Verify() in bypass mode failed: %v", err)
	}
	if len(claim.Payload) != 0 {
		t.Errorf("Payload = %v, want empty for undecodable token", claim.Payload)
	}

	// An unsigned but well-formed token gets its payload decoded.
	key := generateTestKey(t)
	token := signToken(t, key, "kid-x", jwt.MapClaims{"item_id": "item-9"})
	claim, err = verifier.Verify(context.Background(), token, time.Now())
	if err != nil {
		t.Fatalf("Verify() in bypass mode failed: %v", err)
	}
	if claim.Payload["item_id"] != "item-9" {
		t.Errorf("Payload[item_id] = %v, want item-9", claim.Payload["item_id"])
	}

	if store.getCalls != 0 {
		t.Errorf("key store hit %d times in bypass mode, want 0", store.getCalls)
	}
}

func TestIsVerificationError(t *testing.T) {
	for _, err := range []error{
		ErrMalformedToken, ErrMissingKeyID, ErrUnknownKey,
		ErrBadSignature, ErrMissingTimestamp, ErrStaleTimestamp,
	} {
		if !IsVerificationError(err) {
			t.Errorf("IsVerificationError(%v) = false, want true", err)
		}
	}
	if IsVerificationError(errors.New("connection refused")) {
		t.Error("IsVerificationError(infra error) = true, want false")
	}
}
