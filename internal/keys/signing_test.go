package keys

import (
	"context"
	"testing"
	"time"

	"github.com/chudeemeke/stealth-learning-auth-core/internal/domain"
)

func newTestSigningManager(t *testing.T) (*SigningKeyManager, *SigningKeyRing, *memKeyStore) {
	t.Helper()
	svc, store, _ := newTestDataKeyService(t)
	ring := NewSigningKeyRing()
	mgr := NewSigningKeyManager(svc, store, ring, 30*24*time.Hour)
	if err := mgr.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return mgr, ring, store
}

func TestSigningInitializeBootstrapsFirstPair(t *testing.T) {
	mgr, ring, store := newTestSigningManager(t)

	kid, err := mgr.ActiveKid()
	if err != nil {
		t.Fatalf("ActiveKid: %v", err)
	}
	if _, ok := ring.Public(kid); !ok {
		t.Errorf("active kid %s not resolvable in the ring", kid)
	}

	records, err := store.ListByType(context.Background(), domain.KeyTypeJWTSigning, true)
	if err != nil {
		t.Fatalf("ListByType: %v", err)
	}
	if len(records) != 1 || records[0].Metadata.KeyID != kid {
		t.Errorf("stored signing records = %+v", records)
	}
}

func TestSigningInitializeLoadsPersistedRing(t *testing.T) {
	mgr, _, store := newTestSigningManager(t)
	ctx := context.Background()

	firstKid, _ := mgr.ActiveKid()
	secondKid, err := mgr.Rotate(ctx)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	// A fresh process over the same store rebuilds the same ring: the new
	// key signs, the retained one still verifies.
	master := NewMasterKeyManager(store, NewLocalProvider())
	if err := master.Initialize(ctx); err != nil {
		t.Fatalf("Initialize master: %v", err)
	}
	svc := NewDataKeyService(store, master, NewLocalProvider(), NewKeyCache(time.Hour))
	ring := NewSigningKeyRing()
	reloaded := NewSigningKeyManager(svc, store, ring, 30*24*time.Hour)
	if err := reloaded.Initialize(ctx); err != nil {
		t.Fatalf("reload Initialize: %v", err)
	}

	kid, err := reloaded.ActiveKid()
	if err != nil {
		t.Fatalf("ActiveKid: %v", err)
	}
	if kid != secondKid {
		t.Errorf("reloaded active kid = %s, want %s", kid, secondKid)
	}
	if _, ok := ring.Public(firstKid); !ok {
		t.Errorf("retained kid %s missing from reloaded ring", firstKid)
	}
}

func TestSigningRotateRetainsOldForVerification(t *testing.T) {
	mgr, ring, store := newTestSigningManager(t)
	ctx := context.Background()

	oldKid, _ := mgr.ActiveKid()
	newKid, err := mgr.Rotate(ctx)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if newKid == oldKid {
		t.Fatalf("rotation kept the same kid")
	}

	if kid, _ := mgr.ActiveKid(); kid != newKid {
		t.Errorf("ActiveKid = %s, want %s", kid, newKid)
	}
	if _, ok := ring.Public(oldKid); !ok {
		t.Errorf("old kid %s dropped from the ring before retention lapsed", oldKid)
	}

	old, err := store.Load(ctx, oldKid)
	if err != nil {
		t.Fatalf("Load old record: %v", err)
	}
	if old.Metadata.IsActive || old.Metadata.ExpiresAt == nil || old.Metadata.RotatedAt == nil {
		t.Errorf("old record metadata = %+v", old.Metadata)
	}
}

func TestRetireExpiredDropsLapsedKeys(t *testing.T) {
	mgr, ring, _ := newTestSigningManager(t)
	ctx := context.Background()

	oldKid, _ := mgr.ActiveKid()
	if _, err := mgr.Rotate(ctx); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	// Within retention nothing is retired.
	if err := mgr.RetireExpired(ctx); err != nil {
		t.Fatalf("RetireExpired: %v", err)
	}
	if _, ok := ring.Public(oldKid); !ok {
		t.Fatalf("old kid retired before its window lapsed")
	}

	mgr.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }
	if err := mgr.RetireExpired(ctx); err != nil {
		t.Fatalf("RetireExpired: %v", err)
	}
	if _, ok := ring.Public(oldKid); ok {
		t.Errorf("old kid %s still verifiable past retention", oldKid)
	}
}

func TestRotationSchedulerSweepRotatesDueKeys(t *testing.T) {
	svc, store, _ := newTestDataKeyService(t)
	ctx := context.Background()

	// Backdate a data key past the rotation age.
	svc.now = func() time.Time { return time.Now().Add(-91 * 24 * time.Hour) }
	old, err := svc.GenerateDataKey(ctx, domain.KeyTypeDataEncryption)
	if err != nil {
		t.Fatalf("GenerateDataKey: %v", err)
	}
	svc.now = time.Now

	ring := NewSigningKeyRing()
	signing := NewSigningKeyManager(svc, store, ring, 30*24*time.Hour)
	if err := signing.Initialize(ctx); err != nil {
		t.Fatalf("Initialize signing: %v", err)
	}

	scheduler := NewRotationScheduler(svc, signing, 90*24*time.Hour, time.Hour)
	scheduler.Sweep(ctx)

	meta, err := svc.Metadata(ctx, old.KeyID)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta.IsActive {
		t.Errorf("due data key not rotated by sweep")
	}
	active, err := svc.ListKeys(ctx, domain.KeyTypeDataEncryption, true)
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("active data keys after sweep = %d, want 1", len(active))
	}
}
