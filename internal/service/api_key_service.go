package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chudeemeke/stealth-learning-auth-core/internal/domain"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/keystore"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/observability"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/security"
)

const (
	apiKeyPrefix     = "slk_"
	apiKeySecretHex  = 64 // 32 random bytes
	apiKeyBindingHex = 16
	apiKeyShownChars = 12
)

// APIKeyService issues and validates opaque long-lived API keys. Only the
// SHA-256 hash of a key is ever stored; a lost key cannot be recovered.
type APIKeyService struct {
	store        keystore.APIKeyStore
	storeTimeout time.Duration
	now          func() time.Time
}

func NewAPIKeyService(store keystore.APIKeyStore, storeTimeout time.Duration) *APIKeyService {
	return &APIKeyService{
		store:        store,
		storeTimeout: storeTimeout,
		now:          time.Now,
	}
}

// GenerateAPIKey mints a new key for the user and returns the raw token. The
// token body is random material plus a short binding digest of the user,
// scope, and that material, so a key cannot be reassembled for a different
// principal.
func (s *APIKeyService) GenerateAPIKey(ctx context.Context, userID string, scope []string) (string, error) {
	secret, err := security.RandomHex(apiKeySecretHex / 2)
	if err != nil {
		return "", fmt.Errorf("generate api key material: %w", err)
	}
	raw := apiKeyPrefix + secret + bindingDigest(userID, scope, secret)

	key := &domain.APIKey{
		KeyHash:   security.HashToken(raw),
		KeyPrefix: raw[:apiKeyShownChars],
		UserID:    userID,
		Scope:     append([]string(nil), scope...),
		IsActive:  true,
		CreatedAt: s.now(),
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.store.Save(storeCtx, key); err != nil {
		return "", fmt.Errorf("persist api key: %w", err)
	}

	observability.Audit(ctx, "api_key_issued",
		"user_id", userID, "key_prefix", key.KeyPrefix, "scope", strings.Join(scope, " "))
	return raw, nil
}

// ValidateAPIKey checks a presented key. Unknown and revoked keys both come
// back Valid=false; only logs and metrics tell them apart.
func (s *APIKeyService) ValidateAPIKey(ctx context.Context, raw string) (*APIKeyValidation, error) {
	if !strings.HasPrefix(raw, apiKeyPrefix) || len(raw) != len(apiKeyPrefix)+apiKeySecretHex+apiKeyBindingHex {
		observability.RecordAPIKeyValidation("malformed")
		return &APIKeyValidation{Valid: false}, nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	key, err := s.store.FindByHash(storeCtx, security.HashToken(raw))
	if errors.Is(err, keystore.ErrAPIKeyNotFound) {
		observability.RecordAPIKeyValidation("unknown")
		return &APIKeyValidation{Valid: false}, nil
	}
	if err != nil {
		observability.RecordAPIKeyValidation("error")
		return nil, fmt.Errorf("look up api key: %w", err)
	}
	if !key.IsActive {
		observability.RecordAPIKeyValidation("revoked")
		return &APIKeyValidation{Valid: false}, nil
	}

	if err := s.store.TouchLastUsed(storeCtx, key.KeyHash); err != nil {
		slog.WarnContext(ctx, "failed to touch api key usage",
			"key_prefix", key.KeyPrefix, "error", err)
	}

	observability.RecordAPIKeyValidation("success")
	return &APIKeyValidation{
		Valid:  true,
		UserID: key.UserID,
		Scope:  key.Scope,
	}, nil
}

// RevokeAPIKey deactivates the key with the given raw value or stored hash.
func (s *APIKeyService) RevokeAPIKey(ctx context.Context, raw string) error {
	hash := raw
	if strings.HasPrefix(raw, apiKeyPrefix) {
		hash = security.HashToken(raw)
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.store.Revoke(storeCtx, hash); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	observability.Audit(ctx, "api_key_revoked")
	return nil
}

func bindingDigest(userID string, scope []string, secret string) string {
	sum := sha256.Sum256([]byte(userID + "\x00" + strings.Join(scope, ",") + "\x00" + secret))
	return hex.EncodeToString(sum[:])[:apiKeyBindingHex]
}
