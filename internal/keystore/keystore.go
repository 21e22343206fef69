package keystore

import (
	"context"
	"errors"

	"github.com/chudeemeke/stealth-learning-auth-core/internal/domain"
)

var (
	ErrKeyNotFound = errors.New("key not found")
	// ErrKeyIntegrity means a stored record's checksum no longer matches its
	// material. The key is presumed compromised; callers must not use it and
	// must not retry.
	ErrKeyIntegrity        = errors.New("key integrity check failed")
	ErrKeyStoreUnavailable = errors.New("key store unavailable")
)

// KeyStore is durable storage for encrypted key material. Implementations
// verify the record checksum on every load and return ErrKeyIntegrity on
// mismatch; they never repair or silently skip a corrupt record.
type KeyStore interface {
	Save(ctx context.Context, key *domain.EncryptedKey) error
	Load(ctx context.Context, keyID string) (*domain.EncryptedKey, error)
	UpdateMetadata(ctx context.Context, meta domain.KeyMetadata) error
	ListByType(ctx context.Context, keyType domain.KeyType, activeOnly bool) ([]domain.EncryptedKey, error)
}

// APIKeyStore persists API key metadata addressed by the key's hash.
type APIKeyStore interface {
	Save(ctx context.Context, key *domain.APIKey) error
	FindByHash(ctx context.Context, hash string) (*domain.APIKey, error)
	TouchLastUsed(ctx context.Context, hash string) error
	Revoke(ctx context.Context, hash string) error
}
