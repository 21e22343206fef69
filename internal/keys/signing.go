package keys

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chudeemeke/stealth-learning-auth-core/internal/domain"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/keystore"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/observability"
)

// SigningKeyManager keeps the signing key ring in step with the key store:
// it bootstraps the ring at startup, rotates the active pair, and retires
// retained public keys once their retention window lapses.
type SigningKeyManager struct {
	dataKeys  *DataKeyService
	store     keystore.KeyStore
	ring      *SigningKeyRing
	retention time.Duration
	now       func() time.Time
}

func NewSigningKeyManager(dataKeys *DataKeyService, store keystore.KeyStore, ring *SigningKeyRing, retention time.Duration) *SigningKeyManager {
	return &SigningKeyManager{
		dataKeys:  dataKeys,
		store:     store,
		ring:      ring,
		retention: retention,
		now:       time.Now,
	}
}

// Initialize loads all stored signing keys into the ring, generating the
// first pair on a fresh store. Retired keys still inside their retention
// window are added verification-only; anything past retention is skipped.
func (m *SigningKeyManager) Initialize(ctx context.Context) error {
	records, err := m.store.ListByType(ctx, domain.KeyTypeJWTSigning, false)
	if err != nil {
		return fmt.Errorf("load signing keys: %w", err)
	}

	now := m.now().UTC()
	activeKid := ""
	for i := range records {
		meta := records[i].Metadata
		if meta.IsActive {
			if activeKid != "" {
				return fmt.Errorf("multiple active signing keys (%s, %s)", activeKid, meta.KeyID)
			}
			activeKid = meta.KeyID
			continue
		}
		if meta.ExpiresAt != nil && meta.ExpiresAt.Before(now) {
			continue
		}
		pub, err := ParseSigningPublicKey(meta)
		if err != nil {
			return err
		}
		m.ring.AddPublic(meta.KeyID, pub)
	}

	if activeKid == "" {
		pair, err := m.dataKeys.GenerateSigningKeyPair(ctx)
		if err != nil {
			return fmt.Errorf("bootstrap signing key: %w", err)
		}
		m.ring.SetActive(pair.KeyID, pair.PrivateKey)
		slog.Info("signing key generated", "kid", pair.KeyID)
		return nil
	}

	priv, err := m.dataKeys.LoadSigningPrivateKey(ctx, activeKid)
	if err != nil {
		return fmt.Errorf("load active signing key %s: %w", activeKid, err)
	}
	m.ring.SetActive(activeKid, priv)
	return nil
}

// Rotate generates and activates a new signing pair. The outgoing key is
// marked inactive with an expiry one retention window out and stays in the
// ring for verification until then, so in-flight tokens keep verifying.
func (m *SigningKeyManager) Rotate(ctx context.Context) (string, error) {
	oldKid, _, err := m.ring.Signer()
	if err != nil {
		return "", err
	}

	pair, err := m.dataKeys.GenerateSigningKeyPair(ctx)
	if err != nil {
		observability.RecordKeyOperation(ctx, string(domain.KeyTypeJWTSigning), "rotate", "error")
		return "", err
	}
	m.ring.SetActive(pair.KeyID, pair.PrivateKey)

	old, err := m.store.Load(ctx, oldKid)
	if err != nil {
		return "", fmt.Errorf("load outgoing signing key %s: %w", oldKid, err)
	}
	now := m.now().UTC()
	expires := now.Add(m.retention)
	old.Metadata.IsActive = false
	old.Metadata.RotatedAt = &now
	old.Metadata.ExpiresAt = &expires
	if err := m.store.UpdateMetadata(ctx, old.Metadata); err != nil {
		observability.RecordKeyOperation(ctx, string(domain.KeyTypeJWTSigning), "rotate", "error")
		return "", fmt.Errorf("retire signing key %s: %w", oldKid, err)
	}

	observability.RecordKeyOperation(ctx, string(domain.KeyTypeJWTSigning), "rotate", "success")
	slog.InfoContext(ctx, "signing key rotated", "old_kid", oldKid, "new_kid", pair.KeyID)
	return pair.KeyID, nil
}

// RetireExpired drops ring entries whose retention window has passed. Tokens
// signed with a fully retired key stop verifying, by design.
func (m *SigningKeyManager) RetireExpired(ctx context.Context) error {
	records, err := m.store.ListByType(ctx, domain.KeyTypeJWTSigning, false)
	if err != nil {
		return err
	}
	now := m.now().UTC()
	for i := range records {
		meta := records[i].Metadata
		if meta.IsActive || meta.ExpiresAt == nil || meta.ExpiresAt.After(now) {
			continue
		}
		m.ring.Retire(meta.KeyID)
	}
	return nil
}

// ActiveKid returns the currently signing kid.
func (m *SigningKeyManager) ActiveKid() (string, error) {
	kid, _, err := m.ring.Signer()
	return kid, err
}
