package keystore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/chudeemeke/stealth-learning-auth-core/internal/domain"
)

func newDBForTest(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := OpenDB("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func testEncryptedKey(keyID string) *domain.EncryptedKey {
	material := "wrapped-material-for-" + keyID
	return &domain.EncryptedKey{
		Material: material,
		Checksum: ChecksumMaterial(material),
		Metadata: domain.KeyMetadata{
			KeyID:     keyID,
			KeyType:   domain.KeyTypeDataEncryption,
			Algorithm: "AES-256-GCM",
			CreatedAt: time.Now().UTC(),
			Version:   1,
			IsActive:  true,
			Tags:      map[string]string{"purpose": "test"},
		},
	}
}

func TestGormKeyStoreSaveLoad(t *testing.T) {
	store := NewGormKeyStore(newDBForTest(t))
	ctx := context.Background()

	key := testEncryptedKey("k1")
	if err := store.Save(ctx, key); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load(ctx, "k1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Material != key.Material || got.Checksum != key.Checksum {
		t.Errorf("loaded key = %+v", got)
	}
	if got.Metadata.Tags["purpose"] != "test" {
		t.Errorf("tags not round-tripped: %+v", got.Metadata.Tags)
	}

	if _, err := store.Load(ctx, "missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Load missing = %v, want ErrKeyNotFound", err)
	}
}

func TestGormKeyStoreChecksumMismatch(t *testing.T) {
	db := newDBForTest(t)
	store := NewGormKeyStore(db)
	ctx := context.Background()

	if err := store.Save(ctx, testEncryptedKey("k1")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Corrupt the stored material behind the store's back.
	if err := db.Model(&keyRecord{}).Where("key_id = ?", "k1").
		Update("material", "tampered").Error; err != nil {
		t.Fatalf("corrupt record: %v", err)
	}

	if _, err := store.Load(ctx, "k1"); !errors.Is(err, ErrKeyIntegrity) {
		t.Errorf("Load corrupted = %v, want ErrKeyIntegrity", err)
	}
}

func TestGormKeyStoreUpdateMetadata(t *testing.T) {
	store := NewGormKeyStore(newDBForTest(t))
	ctx := context.Background()

	key := testEncryptedKey("k1")
	if err := store.Save(ctx, key); err != nil {
		t.Fatalf("Save: %v", err)
	}

	now := time.Now().UTC()
	meta := key.Metadata
	meta.IsActive = false
	meta.RotatedAt = &now
	meta.UsageCount = 7
	if err := store.UpdateMetadata(ctx, meta); err != nil {
		t.Fatalf("UpdateMetadata: %v", err)
	}

	got, err := store.Load(ctx, "k1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Metadata.IsActive || got.Metadata.RotatedAt == nil || got.Metadata.UsageCount != 7 {
		t.Errorf("metadata after update = %+v", got.Metadata)
	}

	meta.KeyID = "missing"
	if err := store.UpdateMetadata(ctx, meta); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("UpdateMetadata missing = %v, want ErrKeyNotFound", err)
	}
}

func TestGormKeyStoreListByType(t *testing.T) {
	store := NewGormKeyStore(newDBForTest(t))
	ctx := context.Background()

	active := testEncryptedKey("k-active")
	if err := store.Save(ctx, active); err != nil {
		t.Fatalf("Save: %v", err)
	}
	retired := testEncryptedKey("k-retired")
	retired.Metadata.IsActive = false
	if err := store.Save(ctx, retired); err != nil {
		t.Fatalf("Save: %v", err)
	}
	other := testEncryptedKey("k-master")
	other.Metadata.KeyType = domain.KeyTypeMaster
	if err := store.Save(ctx, other); err != nil {
		t.Fatalf("Save: %v", err)
	}

	all, err := store.ListByType(ctx, domain.KeyTypeDataEncryption, false)
	if err != nil {
		t.Fatalf("ListByType: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all data keys = %d, want 2", len(all))
	}

	activeOnly, err := store.ListByType(ctx, domain.KeyTypeDataEncryption, true)
	if err != nil {
		t.Fatalf("ListByType active: %v", err)
	}
	if len(activeOnly) != 1 || activeOnly[0].Metadata.KeyID != "k-active" {
		t.Errorf("active data keys = %+v", activeOnly)
	}
}

func TestOpenDBRejectsUnknownDriver(t *testing.T) {
	if _, err := OpenDB("oracle", ""); err == nil {
		t.Errorf("OpenDB accepted an unsupported driver")
	}
}
