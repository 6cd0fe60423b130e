// Package webhook authenticates inbound aggregator webhooks: a key cache for
// the provider's published JWK set and a verifier that checks each delivery's
// signature and freshness before the payload is trusted.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"golang.org/x/sync/singleflight"
)

// ErrKeyNotFound is returned by Get when a key id is absent even after a
// refresh of the remote key set.
var ErrKeyNotFound = errors.New("signing key not found")

// SigningKey is one entry of the provider's JWK set: the parsed public key
// material plus the algorithm it is declared for. Entries are immutable once
// fetched.
type SigningKey struct {
	KeyID     string
	Algorithm string
	Key       any
}

// KeyCache holds the provider's webhook signing keys, keyed by key id.
// Lookups that miss trigger a refresh of the full remote set; concurrent
// misses coalesce into a single fetch. Keys have no expiry of their own, they
// are evicted only by a refresh that no longer lists them or by an explicit
// Invalidate after a failed verification.
type KeyCache struct {
	url        string
	httpClient *http.Client
	group      singleflight.Group

	mu   sync.RWMutex
	keys map[string]SigningKey
}

// NewKeyCache creates an empty cache backed by the given JWKS endpoint.
func NewKeyCache(url string, fetchTimeout time.Duration) *KeyCache {
	return &KeyCache{
		url:        url,
		httpClient: &http.Client{Timeout: fetchTimeout},
		keys:       make(map[string]SigningKey),
	}
}

// Get returns the signing key for keyID. On a miss it refreshes the remote
// key set once and retries; a key still absent after that yields
// ErrKeyNotFound.
func (c *KeyCache) Get(ctx context.Context, keyID string) (SigningKey, error) {
	if key, ok := c.lookup(keyID); ok {
		return key, nil
	}

	if err := c.Refresh(ctx); err != nil {
		return SigningKey{}, err
	}

	if key, ok := c.lookup(keyID); ok {
		return key, nil
	}
	return SigningKey{}, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
}

func (c *KeyCache) lookup(keyID string) (SigningKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	key, ok := c.keys[keyID]
	return key, ok
}

// Refresh fetches the full key set from the configured endpoint and replaces
// the cached entries. Concurrent callers share a single in-flight fetch. On
// failure the previous entries stay intact.
func (c *KeyCache) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		return nil, c.refresh(ctx)
	})
	return err
}

// jwksDocument mirrors the metadata fields of a JWK set; the key material
// itself is parsed by keyfunc.
type jwksDocument struct {
	Keys []struct {
		KeyID     string `json:"kid"`
		Algorithm string `json:"alg"`
	} `json:"keys"`
}

func (c *KeyCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create key set request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch key set: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("key set endpoint returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read key set response: %w", err)
	}

	jwks, err := keyfunc.NewJSON(raw)
	if err != nil {
		return fmt.Errorf("failed to parse key set: %w", err)
	}

	var doc jwksDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to decode key set metadata: %w", err)
	}

	algorithms := make(map[string]string, len(doc.Keys))
	for _, k := range doc.Keys {
		algorithms[k.KeyID] = k.Algorithm
	}

	keys := make(map[string]SigningKey)
	for keyID, material := range jwks.ReadOnlyKeys() {
		keys[keyID] = SigningKey{
			KeyID:     keyID,
			Algorithm: algorithms[keyID],
			Key:       material,
		}
	}

	c.mu.Lock()
	c.keys = keys
	c.mu.Unlock()
	return nil
}

// Invalidate drops one key so the next lookup refetches the set. Called after
// a verification failed against a cached key that may have rotated.
func (c *KeyCache) Invalidate(keyID string) {
	c.mu.Lock()
	delete(c.keys, keyID)
	c.mu.Unlock()
}
