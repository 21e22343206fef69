package domain

import "time"

// KeyType names the purpose a key is allowed to serve. Keys are never shared
// across purposes.
type KeyType string

const (
	KeyTypeMaster         KeyType = "master"
	KeyTypeDataEncryption KeyType = "data_encryption"
	KeyTypeJWTSigning     KeyType = "jwt_signing"
	KeyTypeAPIKey         KeyType = "api_key"
)

// KeyMetadata describes one key version. Rotation supersedes a record
// (IsActive=false) but never deletes it: retired keys are retained so
// historical ciphertext stays decryptable and in-flight tokens stay
// verifiable.
type KeyMetadata struct {
	KeyID     string            `json:"key_id"`
	KeyType   KeyType           `json:"key_type"`
	Algorithm string            `json:"algorithm"`
	CreatedAt time.Time         `json:"created_at"`
	RotatedAt *time.Time        `json:"rotated_at,omitempty"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	Version   int               `json:"version"`
	IsActive  bool              `json:"is_active"`
	UsageCount int64            `json:"usage_count"`
	LastUsed  *time.Time        `json:"last_used,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// EncryptedKey is the persisted form of a key: master-wrapped material plus a
// checksum over the ciphertext. The checksum must hold on every load; a
// mismatch means the stored material was corrupted or tampered with and the
// key must never be used.
//
// The distinguished master record is the one exception: its material is not
// wrapped (there is nothing above it to wrap with), but it is checksummed the
// same way.
type EncryptedKey struct {
	Material string      `json:"encrypted_key_material"`
	Metadata KeyMetadata `json:"metadata"`
	Checksum string      `json:"checksum"`
}
