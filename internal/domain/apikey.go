package domain

import "time"

// APIKey is the stored metadata for one opaque long-lived API key. The raw
// key is never persisted, only its SHA-256 hash; the short prefix exists so
// operators can identify a key without revealing it.
type APIKey struct {
	KeyHash   string     `json:"-"`
	KeyPrefix string     `json:"key_prefix"`
	UserID    string     `json:"user_id"`
	Scope     []string   `json:"scope"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
}
