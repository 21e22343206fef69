package keys

import (
	"context"
	"sync"

	"github.com/chudeemeke/stealth-learning-auth-core/internal/domain"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/keystore"
)

// memKeyStore mirrors the durable store's contract, including the checksum
// verification on load.
type memKeyStore struct {
	mu      sync.Mutex
	records map[string]*domain.EncryptedKey
}

func newMemKeyStore() *memKeyStore {
	return &memKeyStore{records: make(map[string]*domain.EncryptedKey)}
}

func (s *memKeyStore) Save(_ context.Context, key *domain.EncryptedKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *key
	s.records[key.Metadata.KeyID] = &cp
	return nil
}

func (s *memKeyStore) Load(_ context.Context, keyID string) (*domain.EncryptedKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[keyID]
	if !ok {
		return nil, keystore.ErrKeyNotFound
	}
	if keystore.ChecksumMaterial(record.Material) != record.Checksum {
		return nil, keystore.ErrKeyIntegrity
	}
	cp := *record
	return &cp, nil
}

func (s *memKeyStore) UpdateMetadata(_ context.Context, meta domain.KeyMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[meta.KeyID]
	if !ok {
		return keystore.ErrKeyNotFound
	}
	record.Metadata = meta
	return nil
}

func (s *memKeyStore) ListByType(_ context.Context, keyType domain.KeyType, activeOnly bool) ([]domain.EncryptedKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.EncryptedKey
	for _, record := range s.records {
		if record.Metadata.KeyType != keyType {
			continue
		}
		if activeOnly && !record.Metadata.IsActive {
			continue
		}
		out = append(out, *record)
	}
	return out, nil
}

// corrupt flips the stored material of a record without fixing its checksum.
func (s *memKeyStore) corrupt(keyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.records[keyID]; ok {
		record.Material = "tampered" + record.Material
	}
}
