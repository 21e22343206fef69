package keys

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/chudeemeke/stealth-learning-auth-core/internal/domain"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/keystore"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/observability"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	masterKeySize = 32
	gcmNonceSize  = 12
	gcmTagSize    = 16
)

// CacheFlusher is anything holding plaintext key material in memory.
// Registered flushers are cleared on emergency rotation.
type CacheFlusher interface {
	Flush()
}

type masterKey struct {
	id      string
	version int
	raw     []byte
	aead    cipher.AEAD
}

// MasterKeyManager owns the root symmetric key. The master key only ever
// wraps and unwraps data keys; it is never used to encrypt application data.
//
// Rotation does not re-wrap existing data keys: retired master keys are
// retained (inactive) in the key store and tried in turn on unwrap, so
// material wrapped under a previous master stays readable.
type MasterKeyManager struct {
	store    keystore.KeyStore
	provider Provider

	mu       sync.RWMutex
	active   *masterKey
	retired  []*masterKey
	flushers []CacheFlusher
}

func NewMasterKeyManager(store keystore.KeyStore, provider Provider) *MasterKeyManager {
	return &MasterKeyManager{store: store, provider: provider}
}

// Initialize loads the master key set from the key store, generating a fresh
// key on first run. Failure here is fatal: the process must not start without
// a usable master key.
func (m *MasterKeyManager) Initialize(ctx context.Context) error {
	records, err := m.store.ListByType(ctx, domain.KeyTypeMaster, false)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMasterKeyUninitialized, err)
	}

	var active *masterKey
	var retired []*masterKey
	for i := range records {
		mk, err := masterFromRecord(&records[i])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMasterKeyUninitialized, err)
		}
		if records[i].Metadata.IsActive {
			if active != nil {
				return fmt.Errorf("%w: multiple active master keys", ErrMasterKeyUninitialized)
			}
			active = mk
		} else {
			retired = append(retired, mk)
		}
	}

	if active == nil {
		if len(retired) > 0 {
			return fmt.Errorf("%w: retired masters present but none active", ErrMasterKeyUninitialized)
		}
		active, err = m.generateAndPersist(ctx, 1)
		if err != nil {
			return err
		}
		slog.Info("master key generated", "key_id", active.id)
	}

	m.mu.Lock()
	m.active = active
	m.retired = retired
	m.mu.Unlock()
	observability.RecordKeyOperation(ctx, string(domain.KeyTypeMaster), "initialize", "success")
	return nil
}

// Wrap encrypts plaintext key material under the active master key with
// AES-256-GCM and a fresh random nonce. Output layout is
// base64(nonce || tag || ciphertext); a nonce is never reused.
func (m *MasterKeyManager) Wrap(plaintext []byte) (string, error) {
	m.mu.RLock()
	active := m.active
	m.mu.RUnlock()
	if active == nil {
		return "", ErrMasterKeyUninitialized
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := active.aead.Seal(nil, nonce, plaintext, nil)
	ct, tag := sealed[:len(sealed)-gcmTagSize], sealed[len(sealed)-gcmTagSize:]

	out := make([]byte, 0, gcmNonceSize+gcmTagSize+len(ct))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ct...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Unwrap decrypts material produced by Wrap. The active master key is tried
// first, then retained retired masters, so data keys wrapped before a master
// rotation remain readable. Authentication failure against every held master
// is ErrKeyDecryption.
func (m *MasterKeyManager) Unwrap(wrapped string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid encoding", ErrKeyDecryption)
	}
	if len(raw) < gcmNonceSize+gcmTagSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrKeyDecryption)
	}
	nonce := raw[:gcmNonceSize]
	tag := raw[gcmNonceSize : gcmNonceSize+gcmTagSize]
	ct := raw[gcmNonceSize+gcmTagSize:]

	sealed := make([]byte, 0, len(ct)+gcmTagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	m.mu.RLock()
	candidates := make([]*masterKey, 0, 1+len(m.retired))
	if m.active != nil {
		candidates = append(candidates, m.active)
	}
	candidates = append(candidates, m.retired...)
	m.mu.RUnlock()

	if len(candidates) == 0 {
		return nil, ErrMasterKeyUninitialized
	}
	for _, mk := range candidates {
		if plaintext, err := mk.aead.Open(nil, nonce, sealed, nil); err == nil {
			return plaintext, nil
		}
	}
	return nil, ErrKeyDecryption
}

// DeriveKey derives a purpose-bound 32-byte key from the active master via
// HKDF-SHA256. Used for the signing key passphrase layer; the info string
// gives domain separation.
func (m *MasterKeyManager) DeriveKey(info string) ([]byte, error) {
	m.mu.RLock()
	active := m.active
	m.mu.RUnlock()
	if active == nil {
		return nil, ErrMasterKeyUninitialized
	}
	reader := hkdf.New(sha256.New, active.raw, nil, []byte(info))
	derived := make([]byte, masterKeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return derived, nil
}

// Rotate generates and activates a new master key. Existing wrapped data keys
// are not re-wrapped; the outgoing master is retained for unwrapping them.
func (m *MasterKeyManager) Rotate(ctx context.Context) error {
	m.mu.RLock()
	old := m.active
	m.mu.RUnlock()
	if old == nil {
		return ErrMasterKeyUninitialized
	}

	now := time.Now().UTC()
	oldMeta := domain.KeyMetadata{
		KeyID:     old.id,
		KeyType:   domain.KeyTypeMaster,
		Algorithm: "AES-256-GCM",
		Version:   old.version,
		IsActive:  false,
		RotatedAt: &now,
	}
	if err := m.store.UpdateMetadata(ctx, oldMeta); err != nil {
		observability.RecordKeyOperation(ctx, string(domain.KeyTypeMaster), "rotate", "error")
		return fmt.Errorf("retire master key: %w", err)
	}

	next, err := m.generateAndPersist(ctx, old.version+1)
	if err != nil {
		observability.RecordKeyOperation(ctx, string(domain.KeyTypeMaster), "rotate", "error")
		return err
	}

	m.mu.Lock()
	m.retired = append(m.retired, old)
	m.active = next
	m.mu.Unlock()

	observability.RecordKeyOperation(ctx, string(domain.KeyTypeMaster), "rotate", "success")
	slog.Info("master key rotated", "old_key_id", old.id, "new_key_id", next.id, "version", next.version)
	return nil
}

// EmergencyRotate rotates the master key and flushes every registered
// in-process cache. Only for suspected compromise; scheduled rotation never
// drops caches.
func (m *MasterKeyManager) EmergencyRotate(ctx context.Context) error {
	if err := m.Rotate(ctx); err != nil {
		return err
	}
	m.mu.RLock()
	flushers := append([]CacheFlusher(nil), m.flushers...)
	m.mu.RUnlock()
	for _, f := range flushers {
		f.Flush()
	}
	observability.Audit(ctx, "master_key_emergency_rotation", "caches_flushed", len(flushers))
	return nil
}

// RegisterCacheFlusher registers a cache to be cleared on emergency rotation.
func (m *MasterKeyManager) RegisterCacheFlusher(f CacheFlusher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushers = append(m.flushers, f)
}

func (m *MasterKeyManager) generateAndPersist(ctx context.Context, version int) (*masterKey, error) {
	material, err := m.provider.GenerateKeyMaterial(ctx, masterKeySize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMasterKeyUninitialized, err)
	}
	id := uuid.NewString()
	encoded := base64.StdEncoding.EncodeToString(material)
	record := &domain.EncryptedKey{
		// The master record is the root of the wrap chain, so its material is
		// stored unwrapped; integrity is still covered by the checksum.
		Material: encoded,
		Checksum: keystore.ChecksumMaterial(encoded),
		Metadata: domain.KeyMetadata{
			KeyID:     id,
			KeyType:   domain.KeyTypeMaster,
			Algorithm: "AES-256-GCM",
			CreatedAt: time.Now().UTC(),
			Version:   version,
			IsActive:  true,
		},
	}
	if err := m.store.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMasterKeyUninitialized, err)
	}
	return newMasterKey(id, version, material)
}

func masterFromRecord(record *domain.EncryptedKey) (*masterKey, error) {
	material, err := base64.StdEncoding.DecodeString(record.Material)
	if err != nil {
		return nil, fmt.Errorf("decode master key %s: %w", record.Metadata.KeyID, err)
	}
	return newMasterKey(record.Metadata.KeyID, record.Metadata.Version, material)
}

func newMasterKey(id string, version int, material []byte) (*masterKey, error) {
	if len(material) != masterKeySize {
		return nil, fmt.Errorf("master key %s has %d bytes, want %d", id, len(material), masterKeySize)
	}
	block, err := aes.NewCipher(material)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &masterKey{id: id, version: version, raw: material, aead: aead}, nil
}
