package keystore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chudeemeke/stealth-learning-auth-core/internal/domain"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/observability"

	"gorm.io/gorm"
)

var ErrAPIKeyNotFound = errors.New("api key not found")

type apiKeyRecord struct {
	KeyHash   string `gorm:"primaryKey;size:64"`
	KeyPrefix string `gorm:"size:16;index"`
	UserID    string `gorm:"size:64;index;not null"`
	Scope     string `gorm:"type:text"`
	IsActive  bool   `gorm:"index"`
	CreatedAt time.Time
	LastUsed  *time.Time
}

type GormAPIKeyStore struct{ db *gorm.DB }

func NewGormAPIKeyStore(db *gorm.DB) *GormAPIKeyStore { return &GormAPIKeyStore{db: db} }

func (s *GormAPIKeyStore) Save(ctx context.Context, key *domain.APIKey) error {
	rec := &apiKeyRecord{
		KeyHash:   key.KeyHash,
		KeyPrefix: key.KeyPrefix,
		UserID:    key.UserID,
		Scope:     strings.Join(key.Scope, " "),
		IsActive:  key.IsActive,
		CreatedAt: key.CreatedAt,
		LastUsed:  key.LastUsed,
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		observability.RecordStoreOperation(ctx, "apikeys", "save", "error")
		return fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, err)
	}
	observability.RecordStoreOperation(ctx, "apikeys", "save", "success")
	return nil
}

func (s *GormAPIKeyStore) FindByHash(ctx context.Context, hash string) (*domain.APIKey, error) {
	var rec apiKeyRecord
	err := s.db.WithContext(ctx).Where("key_hash = ?", hash).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordStoreOperation(ctx, "apikeys", "find_by_hash", "not_found")
			return nil, ErrAPIKeyNotFound
		}
		observability.RecordStoreOperation(ctx, "apikeys", "find_by_hash", "error")
		return nil, fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, err)
	}
	observability.RecordStoreOperation(ctx, "apikeys", "find_by_hash", "success")
	var scope []string
	if rec.Scope != "" {
		scope = strings.Split(rec.Scope, " ")
	}
	return &domain.APIKey{
		KeyHash:   rec.KeyHash,
		KeyPrefix: rec.KeyPrefix,
		UserID:    rec.UserID,
		Scope:     scope,
		IsActive:  rec.IsActive,
		CreatedAt: rec.CreatedAt,
		LastUsed:  rec.LastUsed,
	}, nil
}

func (s *GormAPIKeyStore) TouchLastUsed(ctx context.Context, hash string) error {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Model(&apiKeyRecord{}).
		Where("key_hash = ?", hash).
		Update("last_used", now).Error
	if err != nil {
		observability.RecordStoreOperation(ctx, "apikeys", "touch_last_used", "error")
		return fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, err)
	}
	observability.RecordStoreOperation(ctx, "apikeys", "touch_last_used", "success")
	return nil
}

func (s *GormAPIKeyStore) Revoke(ctx context.Context, hash string) error {
	res := s.db.WithContext(ctx).Model(&apiKeyRecord{}).
		Where("key_hash = ? AND is_active = ?", hash, true).
		Update("is_active", false)
	if res.Error != nil {
		observability.RecordStoreOperation(ctx, "apikeys", "revoke", "error")
		return fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		observability.RecordStoreOperation(ctx, "apikeys", "revoke", "not_found")
		return ErrAPIKeyNotFound
	}
	observability.RecordStoreOperation(ctx, "apikeys", "revoke", "success")
	return nil
}
