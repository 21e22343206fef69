package keystore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chudeemeke/stealth-learning-auth-core/internal/domain"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/observability"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB opens the key store database. driver is "sqlite" or "postgres";
// which one is purely a deployment choice.
func OpenDB(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported key store driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open key store: %w", err)
	}
	if err := db.AutoMigrate(&keyRecord{}, &apiKeyRecord{}); err != nil {
		return nil, fmt.Errorf("migrate key store: %w", err)
	}
	return db, nil
}

// ChecksumMaterial computes the integrity checksum stored alongside key
// material: hex SHA-256 over the (already encrypted) material string.
func ChecksumMaterial(material string) string {
	h := sha256.Sum256([]byte(material))
	return hex.EncodeToString(h[:])
}

type keyRecord struct {
	KeyID      string `gorm:"primaryKey;size:64"`
	KeyType    string `gorm:"index;size:32;not null"`
	Algorithm  string `gorm:"size:32"`
	Material   string `gorm:"type:text;not null"`
	Checksum   string `gorm:"size:64;not null"`
	Version    int
	IsActive   bool `gorm:"index"`
	UsageCount int64
	CreatedAt  time.Time
	RotatedAt  *time.Time
	ExpiresAt  *time.Time
	LastUsed   *time.Time
	Tags       string `gorm:"type:text"`
}

type GormKeyStore struct{ db *gorm.DB }

func NewGormKeyStore(db *gorm.DB) *GormKeyStore { return &GormKeyStore{db: db} }

func (s *GormKeyStore) Save(ctx context.Context, key *domain.EncryptedKey) error {
	rec, err := toRecord(key)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		observability.RecordStoreOperation(ctx, "keystore", "save", "error")
		return fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, err)
	}
	observability.RecordStoreOperation(ctx, "keystore", "save", "success")
	return nil
}

func (s *GormKeyStore) Load(ctx context.Context, keyID string) (*domain.EncryptedKey, error) {
	var rec keyRecord
	err := s.db.WithContext(ctx).Where("key_id = ?", keyID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordStoreOperation(ctx, "keystore", "load", "not_found")
			return nil, ErrKeyNotFound
		}
		observability.RecordStoreOperation(ctx, "keystore", "load", "error")
		return nil, fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, err)
	}
	key, err := fromRecord(&rec)
	if err != nil {
		observability.RecordStoreOperation(ctx, "keystore", "load", "integrity_error")
		return nil, err
	}
	observability.RecordStoreOperation(ctx, "keystore", "load", "success")
	return key, nil
}

func (s *GormKeyStore) UpdateMetadata(ctx context.Context, meta domain.KeyMetadata) error {
	tags, err := marshalTags(meta.Tags)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&keyRecord{}).
		Where("key_id = ?", meta.KeyID).
		Updates(map[string]any{
			"is_active":   meta.IsActive,
			"version":     meta.Version,
			"usage_count": meta.UsageCount,
			"rotated_at":  meta.RotatedAt,
			"expires_at":  meta.ExpiresAt,
			"last_used":   meta.LastUsed,
			"tags":        tags,
		})
	if res.Error != nil {
		observability.RecordStoreOperation(ctx, "keystore", "update_metadata", "error")
		return fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		observability.RecordStoreOperation(ctx, "keystore", "update_metadata", "not_found")
		return ErrKeyNotFound
	}
	observability.RecordStoreOperation(ctx, "keystore", "update_metadata", "success")
	return nil
}

func (s *GormKeyStore) ListByType(ctx context.Context, keyType domain.KeyType, activeOnly bool) ([]domain.EncryptedKey, error) {
	q := s.db.WithContext(ctx).Where("key_type = ?", string(keyType))
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var recs []keyRecord
	if err := q.Order("created_at ASC").Find(&recs).Error; err != nil {
		observability.RecordStoreOperation(ctx, "keystore", "list_by_type", "error")
		return nil, fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, err)
	}
	keys := make([]domain.EncryptedKey, 0, len(recs))
	for i := range recs {
		key, err := fromRecord(&recs[i])
		if err != nil {
			observability.RecordStoreOperation(ctx, "keystore", "list_by_type", "integrity_error")
			return nil, err
		}
		keys = append(keys, *key)
	}
	observability.RecordStoreOperation(ctx, "keystore", "list_by_type", "success")
	return keys, nil
}

func toRecord(key *domain.EncryptedKey) (*keyRecord, error) {
	tags, err := marshalTags(key.Metadata.Tags)
	if err != nil {
		return nil, err
	}
	return &keyRecord{
		KeyID:      key.Metadata.KeyID,
		KeyType:    string(key.Metadata.KeyType),
		Algorithm:  key.Metadata.Algorithm,
		Material:   key.Material,
		Checksum:   key.Checksum,
		Version:    key.Metadata.Version,
		IsActive:   key.Metadata.IsActive,
		UsageCount: key.Metadata.UsageCount,
		CreatedAt:  key.Metadata.CreatedAt,
		RotatedAt:  key.Metadata.RotatedAt,
		ExpiresAt:  key.Metadata.ExpiresAt,
		LastUsed:   key.Metadata.LastUsed,
		Tags:       tags,
	}, nil
}

func fromRecord(rec *keyRecord) (*domain.EncryptedKey, error) {
	if ChecksumMaterial(rec.Material) != rec.Checksum {
		return nil, fmt.Errorf("%w: key %s", ErrKeyIntegrity, rec.KeyID)
	}
	tags, err := unmarshalTags(rec.Tags)
	if err != nil {
		return nil, fmt.Errorf("decode tags for key %s: %w", rec.KeyID, err)
	}
	return &domain.EncryptedKey{
		Material: rec.Material,
		Checksum: rec.Checksum,
		Metadata: domain.KeyMetadata{
			KeyID:      rec.KeyID,
			KeyType:    domain.KeyType(rec.KeyType),
			Algorithm:  rec.Algorithm,
			CreatedAt:  rec.CreatedAt,
			RotatedAt:  rec.RotatedAt,
			ExpiresAt:  rec.ExpiresAt,
			Version:    rec.Version,
			IsActive:   rec.IsActive,
			UsageCount: rec.UsageCount,
			LastUsed:   rec.LastUsed,
			Tags:       tags,
		},
	}, nil
}

func marshalTags(tags map[string]string) (string, error) {
	if len(tags) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalTags(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var tags map[string]string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, err
	}
	return tags, nil
}
