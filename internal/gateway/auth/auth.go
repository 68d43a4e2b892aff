package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"github.com/pulseops/ai-gateway/internal/gateway/apierror"
	"github.com/pulseops/ai-gateway/internal/shared/database"
	"github.com/pulseops/ai-gateway/internal/shared/models"
)

const (
	cacheSize = 4096
	cacheTTL  = 30 * time.Second
)

// KeyStore is the slice of the store the authenticator needs.
type KeyStore interface {
	GetKeyByHash(ctx context.Context, keyHash string) (*models.GatewayKey, error)
	TouchKeyLastUsed(ctx context.Context, keyID string) error
}

// Authenticator resolves presented secrets to gateway key records via a
// keyed-hash index. A short-TTL cache sits in front of the store so hot keys
// don't hit Postgres on every request. The store query filters on lifecycle
// state, so revoking or disabling a key takes effect within cacheTTL of the
// change; expiry is re-checked on every call and is never stale.
type Authenticator struct {
	store      KeyStore
	hashSecret []byte
	cache      *lru.LRU[string, *models.GatewayKey]
	clock      func() time.Time
}

func New(store KeyStore, hashSecret []byte, clock func() time.Time) *Authenticator {
	return newWithTTL(store, hashSecret, clock, cacheTTL)
}

func newWithTTL(store KeyStore, hashSecret []byte, clock func() time.Time, ttl time.Duration) *Authenticator {
	if clock == nil {
		clock = time.Now
	}
	return &Authenticator{
		store:      store,
		hashSecret: hashSecret,
		cache:      lru.NewLRU[string, *models.GatewayKey](cacheSize, nil, ttl),
		clock:      clock,
	}
}

// HashKey computes the HMAC-SHA256 index of a presented secret. The plaintext
// is discarded by every caller immediately after hashing.
func (a *Authenticator) HashKey(secret string) string {
	mac := hmac.New(sha256.New, a.hashSecret)
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

// ExtractSecret pulls the caller credential from Authorization: Bearer or the
// x-api-key header.
func ExtractSecret(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(r.Header.Get("x-api-key"))
}

// Authenticate validates a presented secret and returns the key record.
// On success the last_used_at touch runs in the background; its failure is
// logged and never affects the request.
func (a *Authenticator) Authenticate(ctx context.Context, secret string) (*models.GatewayKey, error) {
	if secret == "" {
		return nil, apierror.Auth("missing API key")
	}

	keyHash := a.HashKey(secret)

	key, ok := a.cache.Get(keyHash)
	if !ok {
		var err error
		key, err = a.store.GetKeyByHash(ctx, keyHash)
		if errors.Is(err, database.ErrKeyNotFound) {
			return nil, apierror.Auth("invalid API key")
		}
		if err != nil {
			log.Error().Err(err).Msg("key lookup failed")
			return nil, apierror.Internal()
		}
		a.cache.Add(keyHash, key)
	}

	if key.ExpiresAt != nil && key.ExpiresAt.Before(a.clock()) {
		return nil, apierror.Auth("API key expired")
	}

	go func(keyID string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.store.TouchKeyLastUsed(ctx, keyID); err != nil {
			log.Warn().Err(err).Str("key_id", keyID).Msg("failed to update key last_used_at")
		}
	}(key.ID)

	return key, nil
}
