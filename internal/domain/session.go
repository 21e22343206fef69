package domain

import "time"

// Session is the server-side record behind one issued token pair. It is owned
// exclusively by the session store; the token service holds only session ids.
//
// RefreshTokenFamily and CurrentRefreshID together form the rotation pointer:
// exactly one refresh token (identified by its jti) is ever redeemable for a
// session, and the pointer is replaced wholesale on every successful rotation.
type Session struct {
	SessionID             string    `json:"session_id"`
	UserID                string    `json:"user_id"`
	UserType              UserType  `json:"user_type"`
	DeviceID              string    `json:"device_id"`
	DeviceFingerprintHash string    `json:"device_fingerprint_hash"`
	IPAddress             string    `json:"ip_address"`
	UserAgent             string    `json:"user_agent"`
	CreatedAt             time.Time `json:"created_at"`
	ExpiresAt             time.Time `json:"expires_at"`
	LastActivity          time.Time `json:"last_activity"`
	IsActive              bool      `json:"is_active"`

	// Claim snapshot taken at issuance so rotation can re-sign an access
	// token without consulting the account layer.
	Permissions []string `json:"permissions,omitempty"`
	ParentID    string   `json:"parent_id,omitempty"`
	ChildrenIDs []string `json:"children_ids,omitempty"`

	RefreshTokenFamily string `json:"refresh_token_family"`
	CurrentRefreshID   string `json:"current_refresh_id"`

	// Hashes of the currently outstanding pair, kept so revocation can
	// blacklist them without ever storing raw tokens.
	RefreshTokenHash string `json:"refresh_token_hash"`
	AccessTokenHash  string `json:"access_token_hash"`
}

// Expired reports whether the session's refresh window has passed.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Live reports whether the session can still back token verification.
func (s *Session) Live(now time.Time) bool {
	return s.IsActive && !s.Expired(now)
}
