package service

import (
	"context"
	"time"

	"github.com/chudeemeke/stealth-learning-auth-core/internal/domain"
)

// TokenType selects which claim shape Verify expects. Tokens carry no type
// claim of their own, so the caller's expectation is authoritative.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// TokenPair is the result of issuing or rotating credentials.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	SessionID    string `json:"session_id"`
	ExpiresIn    int64  `json:"expires_in"`
}

// TokenPayload is what a verified token asserts about its bearer.
type TokenPayload struct {
	UserID      string          `json:"user_id"`
	UserType    domain.UserType `json:"user_type"`
	SessionID   string          `json:"session_id"`
	DeviceID    string          `json:"device_id"`
	Permissions []string        `json:"permissions,omitempty"`
	ParentID    string          `json:"parent_id,omitempty"`
	ChildrenIDs []string        `json:"children_ids,omitempty"`
	ExpiresAt   time.Time       `json:"expires_at"`
	TokenType   TokenType       `json:"token_type"`
}

// APIKeyValidation is the outcome of checking an opaque API key. Unknown and
// revoked keys produce the same Valid=false result.
type APIKeyValidation struct {
	Valid  bool     `json:"valid"`
	UserID string   `json:"user_id,omitempty"`
	Scope  []string `json:"scope,omitempty"`
}

// AuthCore is the complete credential surface consumed by account and auth
// flow layers. Nothing else of this package is part of the contract.
type AuthCore interface {
	Issue(ctx context.Context, user *domain.User, device domain.DeviceInfo) (*TokenPair, error)
	Verify(ctx context.Context, raw string, expected TokenType) (*TokenPayload, error)
	Refresh(ctx context.Context, raw string, device domain.DeviceInfo) (*TokenPair, error)
	RevokeSession(ctx context.Context, sessionID string) error
	RevokeAllSessions(ctx context.Context, userID string) error

	GenerateAPIKey(ctx context.Context, userID string, scope []string) (string, error)
	ValidateAPIKey(ctx context.Context, raw string) (*APIKeyValidation, error)
}

// Core bundles the token and API key services behind the AuthCore contract.
type Core struct {
	*TokenService
	*APIKeyService
}

var _ AuthCore = (*Core)(nil)

func NewCore(tokens *TokenService, apiKeys *APIKeyService) *Core {
	return &Core{TokenService: tokens, APIKeyService: apiKeys}
}
