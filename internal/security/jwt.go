package security

import (
	"errors"
	"fmt"

	"github.com/chudeemeke/stealth-learning-auth-core/internal/keys"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformedToken = errors.New("malformed token")
	ErrExpiredToken   = errors.New("expired token")
)

// AccessClaims is the signed payload of an access token. There is no explicit
// type claim; access and refresh tokens differ only in payload shape, so the
// verifier must always be told which shape it expects.
type AccessClaims struct {
	UserType    string   `json:"user_type"`
	SessionID   string   `json:"session_id"`
	DeviceID    string   `json:"device_id"`
	Permissions []string `json:"permissions,omitempty"`
	ParentID    string   `json:"parent_id,omitempty"`
	ChildrenIDs []string `json:"children_ids,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims is the signed payload of a refresh token. TokenFamily plus
// the jti is the rotation lineage the token service checks on redemption.
type RefreshClaims struct {
	SessionID   string `json:"session_id"`
	DeviceID    string `json:"device_id"`
	TokenFamily string `json:"token_family"`
	jwt.RegisteredClaims
}

// JWTManager signs RS256 tokens with the ring's active key, embedding its kid
// in the header, and verifies against whichever ring key the kid names. That
// indirection is what makes verification survive signing-key rotation.
type JWTManager struct {
	ring     *keys.SigningKeyRing
	issuer   string
	audience string
}

func NewJWTManager(ring *keys.SigningKeyRing, issuer, audience string) *JWTManager {
	return &JWTManager{ring: ring, issuer: issuer, audience: audience}
}

func (m *JWTManager) Issuer() string   { return m.issuer }
func (m *JWTManager) Audience() string { return m.audience }

func (m *JWTManager) SignAccess(claims AccessClaims) (string, error) {
	return m.sign(claims)
}

func (m *JWTManager) SignRefresh(claims RefreshClaims) (string, error) {
	return m.sign(claims)
}

func (m *JWTManager) sign(claims jwt.Claims) (string, error) {
	kid, private, err := m.ring.Signer()
	if err != nil {
		return "", err
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	return token.SignedString(private)
}

func (m *JWTManager) ParseAccess(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.parse(raw, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (m *JWTManager) ParseRefresh(raw string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := m.parse(raw, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (m *JWTManager) parse(raw string, claims jwt.Claims) error {
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodRS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("missing kid header")
		}
		pub, ok := m.ring.Public(kid)
		if !ok {
			return nil, fmt.Errorf("unknown signing key %q", kid)
		}
		return pub, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithAudience(m.audience), jwt.WithIssuedAt())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if !tok.Valid {
		return ErrMalformedToken
	}
	return nil
}
