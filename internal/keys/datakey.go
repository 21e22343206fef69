package keys

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chudeemeke/stealth-learning-auth-core/internal/domain"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/keystore"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/observability"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	dataKeySize        = 32
	defaultSigningBits = 4096

	signingPassphraseInfo = "stealth-learning.jwt-signing.passphrase.v1"
	publicPEMTag          = "public_pem"
)

// DataKey is a freshly generated data key: the caller gets the plaintext, the
// store keeps only the wrapped form.
type DataKey struct {
	KeyID     string
	Plaintext []byte
	Encrypted domain.EncryptedKey
}

// SigningKeyPair is an RSA signing key pair for JWTs. The private key is
// passphrase-protected (key derived from the master) before being wrapped and
// persisted.
type SigningKeyPair struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey
	PublicPEM  string
}

// DataKeyService produces, caches, and retrieves purpose-scoped data keys.
// Cache misses are collapsed through singleflight so a hot key is loaded and
// unwrapped once regardless of request concurrency.
type DataKeyService struct {
	store    keystore.KeyStore
	master   *MasterKeyManager
	provider Provider
	cache    *KeyCache
	group    singleflight.Group

	signingBits int
	now         func() time.Time
}

func NewDataKeyService(store keystore.KeyStore, master *MasterKeyManager, provider Provider, cache *KeyCache) *DataKeyService {
	return &DataKeyService{
		store:       store,
		master:      master,
		provider:    provider,
		cache:       cache,
		signingBits: defaultSigningBits,
		now:         time.Now,
	}
}

// GenerateDataKey creates a new random key of the given type, wraps it under
// the master key, persists the wrapped form, and seeds the cache.
func (s *DataKeyService) GenerateDataKey(ctx context.Context, keyType domain.KeyType) (*DataKey, error) {
	material, err := s.provider.GenerateKeyMaterial(ctx, dataKeySize)
	if err != nil {
		observability.RecordKeyOperation(ctx, string(keyType), "generate", "error")
		return nil, err
	}
	return s.persistDataKey(ctx, keyType, material, 1, nil)
}

// GetKey returns the plaintext for keyID. Cache hits increment the usage
// counter in place; misses load from the store (checksum verified), unwrap
// under the master, and repopulate the cache.
func (s *DataKeyService) GetKey(ctx context.Context, keyID string) ([]byte, error) {
	if plaintext, _, ok := s.cache.Get(keyID); ok {
		s.cache.Touch(keyID)
		observability.RecordKeyOperation(ctx, "data", "get", "cache_hit")
		return plaintext, nil
	}

	v, err, _ := s.group.Do(keyID, func() (any, error) {
		return s.loadKey(ctx, keyID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (s *DataKeyService) loadKey(ctx context.Context, keyID string) ([]byte, error) {
	record, err := s.store.Load(ctx, keyID)
	if err != nil {
		status := "error"
		if errors.Is(err, keystore.ErrKeyNotFound) {
			status = "not_found"
		}
		observability.RecordKeyOperation(ctx, "data", "get", status)
		return nil, err
	}
	plaintext, err := s.master.Unwrap(record.Material)
	if err != nil {
		observability.RecordKeyOperation(ctx, string(record.Metadata.KeyType), "get", "unwrap_error")
		return nil, err
	}

	now := s.now().UTC()
	record.Metadata.UsageCount++
	record.Metadata.LastUsed = &now
	if err := s.store.UpdateMetadata(ctx, record.Metadata); err != nil {
		// Usage accounting is best effort; the key itself is fine.
		slog.WarnContext(ctx, "key usage update failed", "key_id", keyID, "error", err)
	}

	s.cache.Put(keyID, plaintext, record.Metadata)
	observability.RecordKeyOperation(ctx, string(record.Metadata.KeyType), "get", "loaded")
	return plaintext, nil
}

// Metadata returns the stored metadata for a key without unwrapping it.
func (s *DataKeyService) Metadata(ctx context.Context, keyID string) (*domain.KeyMetadata, error) {
	record, err := s.store.Load(ctx, keyID)
	if err != nil {
		return nil, err
	}
	meta := record.Metadata
	return &meta, nil
}

// ListKeys returns metadata for every stored key of the given type.
func (s *DataKeyService) ListKeys(ctx context.Context, keyType domain.KeyType, activeOnly bool) ([]domain.KeyMetadata, error) {
	records, err := s.store.ListByType(ctx, keyType, activeOnly)
	if err != nil {
		return nil, err
	}
	metas := make([]domain.KeyMetadata, 0, len(records))
	for _, r := range records {
		metas = append(metas, r.Metadata)
	}
	return metas, nil
}

// RotateKey generates a replacement for keyID and marks the old key inactive.
// The old record is retained so historical ciphertext can still be decrypted
// through GetKey; only the cache entry is evicted. Callers must switch to the
// returned id.
func (s *DataKeyService) RotateKey(ctx context.Context, keyID string) (string, error) {
	old, err := s.store.Load(ctx, keyID)
	if err != nil {
		observability.RecordKeyOperation(ctx, "data", "rotate", "error")
		return "", err
	}

	material, err := s.provider.GenerateKeyMaterial(ctx, dataKeySize)
	if err != nil {
		observability.RecordKeyOperation(ctx, string(old.Metadata.KeyType), "rotate", "error")
		return "", err
	}
	replacement, err := s.persistDataKey(ctx, old.Metadata.KeyType, material, old.Metadata.Version+1, old.Metadata.Tags)
	if err != nil {
		return "", err
	}

	now := s.now().UTC()
	old.Metadata.IsActive = false
	old.Metadata.RotatedAt = &now
	if err := s.store.UpdateMetadata(ctx, old.Metadata); err != nil {
		observability.RecordKeyOperation(ctx, string(old.Metadata.KeyType), "rotate", "error")
		return "", fmt.Errorf("retire key %s: %w", keyID, err)
	}
	s.cache.Evict(keyID)

	observability.RecordKeyOperation(ctx, string(old.Metadata.KeyType), "rotate", "success")
	slog.InfoContext(ctx, "data key rotated", "old_key_id", keyID, "new_key_id", replacement.KeyID)
	return replacement.KeyID, nil
}

func (s *DataKeyService) persistDataKey(ctx context.Context, keyType domain.KeyType, material []byte, version int, tags map[string]string) (*DataKey, error) {
	wrapped, err := s.master.Wrap(material)
	if err != nil {
		observability.RecordKeyOperation(ctx, string(keyType), "generate", "error")
		return nil, err
	}
	meta := domain.KeyMetadata{
		KeyID:     uuid.NewString(),
		KeyType:   keyType,
		Algorithm: "AES-256-GCM",
		CreatedAt: s.now().UTC(),
		Version:   version,
		IsActive:  true,
		Tags:      tags,
	}
	encrypted := domain.EncryptedKey{
		Material: wrapped,
		Checksum: keystore.ChecksumMaterial(wrapped),
		Metadata: meta,
	}
	if err := s.store.Save(ctx, &encrypted); err != nil {
		observability.RecordKeyOperation(ctx, string(keyType), "generate", "error")
		return nil, err
	}
	s.cache.Put(meta.KeyID, material, meta)
	observability.RecordKeyOperation(ctx, string(keyType), "generate", "success")
	return &DataKey{KeyID: meta.KeyID, Plaintext: material, Encrypted: encrypted}, nil
}

// GenerateSigningKeyPair creates an RSA key pair for JWT signing. The private
// key PEM goes through two layers at rest: AES-GCM under a passphrase key
// derived from the master (HKDF), then the ordinary master wrap. The public
// key rides along unencrypted in the record tags.
func (s *DataKeyService) GenerateSigningKeyPair(ctx context.Context) (*SigningKeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, s.signingBits)
	if err != nil {
		observability.RecordKeyOperation(ctx, string(domain.KeyTypeJWTSigning), "generate", "error")
		return nil, fmt.Errorf("generate signing key: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	passKey, err := s.master.DeriveKey(signingPassphraseInfo)
	if err != nil {
		return nil, err
	}
	sealedPriv, err := sealWithKey(passKey, privPEM)
	if err != nil {
		return nil, fmt.Errorf("encrypt private key: %w", err)
	}
	wrapped, err := s.master.Wrap(sealedPriv)
	if err != nil {
		return nil, err
	}

	version := 1
	if existing, err := s.store.ListByType(ctx, domain.KeyTypeJWTSigning, false); err == nil {
		version = len(existing) + 1
	}

	meta := domain.KeyMetadata{
		KeyID:     uuid.NewString(),
		KeyType:   domain.KeyTypeJWTSigning,
		Algorithm: "RS256",
		CreatedAt: s.now().UTC(),
		Version:   version,
		IsActive:  true,
		Tags:      map[string]string{publicPEMTag: string(pubPEM)},
	}
	encrypted := domain.EncryptedKey{
		Material: wrapped,
		Checksum: keystore.ChecksumMaterial(wrapped),
		Metadata: meta,
	}
	if err := s.store.Save(ctx, &encrypted); err != nil {
		observability.RecordKeyOperation(ctx, string(domain.KeyTypeJWTSigning), "generate", "error")
		return nil, err
	}
	observability.RecordKeyOperation(ctx, string(domain.KeyTypeJWTSigning), "generate", "success")
	return &SigningKeyPair{KeyID: meta.KeyID, PrivateKey: priv, PublicPEM: string(pubPEM)}, nil
}

// LoadSigningPrivateKey reverses GenerateSigningKeyPair's at-rest layers.
func (s *DataKeyService) LoadSigningPrivateKey(ctx context.Context, keyID string) (*rsa.PrivateKey, error) {
	record, err := s.store.Load(ctx, keyID)
	if err != nil {
		return nil, err
	}
	sealedPriv, err := s.master.Unwrap(record.Material)
	if err != nil {
		return nil, err
	}
	passKey, err := s.master.DeriveKey(signingPassphraseInfo)
	if err != nil {
		return nil, err
	}
	privPEM, err := openWithKey(passKey, sealedPriv)
	if err != nil {
		return nil, fmt.Errorf("decrypt private key %s: %w", keyID, err)
	}
	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, fmt.Errorf("invalid private key PEM for %s", keyID)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", keyID, err)
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing key %s is not RSA", keyID)
	}
	return priv, nil
}

// ParseSigningPublicKey extracts the public key stored in a signing record's
// tags. Works for retired records too, which is what keeps in-flight tokens
// verifiable across rotations.
func ParseSigningPublicKey(meta domain.KeyMetadata) (*rsa.PublicKey, error) {
	pubPEM, ok := meta.Tags[publicPEMTag]
	if !ok {
		return nil, fmt.Errorf("signing key %s has no public key tag", meta.KeyID)
	}
	block, _ := pem.Decode([]byte(pubPEM))
	if block == nil {
		return nil, fmt.Errorf("invalid public key PEM for %s", meta.KeyID)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key %s: %w", meta.KeyID, err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("signing key %s is not RSA", meta.KeyID)
	}
	return pub, nil
}

func sealWithKey(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return append(nonce, aead.Seal(nil, nonce, plaintext, nil)...), nil
}

func openWithKey(key, sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("%w: sealed data too short", ErrKeyDecryption)
	}
	plaintext, err := aead.Open(nil, sealed[:aead.NonceSize()], sealed[aead.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDecryption, err)
	}
	return plaintext, nil
}
