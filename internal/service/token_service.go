package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/chudeemeke/stealth-learning-auth-core/internal/domain"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/observability"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/security"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/sessionstore"
)

var (
	ErrTokenBlacklisted          = errors.New("token is blacklisted")
	ErrSessionNotActive          = errors.New("session is not active")
	ErrDeviceFingerprintMismatch = errors.New("device fingerprint mismatch")
	// ErrRefreshTokenReuseDetected covers every replay shape: a blacklisted
	// refresh token, a rotated-out family member, and a lost rotation race.
	// By the time a caller sees it the whole family has been revoked.
	ErrRefreshTokenReuseDetected = errors.New("refresh token reuse detected")
	// ErrVerificationUnavailable means the session store could not answer in
	// time. Verification fails closed rather than trusting a token it cannot
	// cross-check.
	ErrVerificationUnavailable = errors.New("verification unavailable")
)

// TokenTTLs holds per account class token lifetimes.
type TokenTTLs struct {
	Access       time.Duration
	Refresh      time.Duration
	ChildAccess  time.Duration
	ChildRefresh time.Duration
}

func (t TokenTTLs) forUser(userType domain.UserType) (access, refresh time.Duration) {
	if userType.IsChild() {
		return t.ChildAccess, t.ChildRefresh
	}
	return t.Access, t.Refresh
}

// TokenService issues, verifies, and rotates the session-bound token pairs.
type TokenService struct {
	store        sessionstore.Store
	jwt          *security.JWTManager
	ttls         TokenTTLs
	storeTimeout time.Duration
	locks        *sessionLocks
	now          func() time.Time
}

func NewTokenService(store sessionstore.Store, jwtManager *security.JWTManager, ttls TokenTTLs, storeTimeout time.Duration) *TokenService {
	return &TokenService{
		store:        store,
		jwt:          jwtManager,
		ttls:         ttls,
		storeTimeout: storeTimeout,
		locks:        newSessionLocks(),
		now:          time.Now,
	}
}

func (s *TokenService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// Issue creates a fresh session for the user on the presented device and
// returns its first token pair.
func (s *TokenService) Issue(ctx context.Context, user *domain.User, device domain.DeviceInfo) (*TokenPair, error) {
	now := s.now()
	accessTTL, refreshTTL := s.ttls.forUser(user.Type)

	sessionID := uuid.NewString()
	familyID := uuid.NewString()
	refreshID := uuid.NewString()

	accessToken, err := s.signAccess(user, sessionID, device.DeviceID, now, accessTTL)
	if err != nil {
		observability.RecordTokenIssue("failure", string(user.Type))
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refreshToken, err := s.signRefresh(user.ID, sessionID, device.DeviceID, familyID, refreshID, now, refreshTTL)
	if err != nil {
		observability.RecordTokenIssue("failure", string(user.Type))
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	session := &domain.Session{
		SessionID:             sessionID,
		UserID:                user.ID,
		UserType:              user.Type,
		DeviceID:              device.DeviceID,
		DeviceFingerprintHash: security.FingerprintDevice(device),
		IPAddress:             device.IPAddress,
		UserAgent:             device.UserAgent,
		CreatedAt:             now,
		ExpiresAt:             now.Add(refreshTTL),
		LastActivity:          now,
		IsActive:              true,
		Permissions:           user.Permissions,
		ParentID:              user.ParentID,
		ChildrenIDs:           user.ChildrenIDs,
		RefreshTokenFamily:    familyID,
		CurrentRefreshID:      refreshID,
		RefreshTokenHash:      security.HashToken(refreshToken),
		AccessTokenHash:       security.HashToken(accessToken),
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.Put(storeCtx, session); err != nil {
		observability.RecordTokenIssue("failure", string(user.Type))
		return nil, fmt.Errorf("persist session: %w", err)
	}
	if err := s.store.TouchTrustedDevice(storeCtx, user.ID, device.DeviceID); err != nil {
		slog.WarnContext(ctx, "failed to record trusted device",
			"user_id", user.ID, "device_id", device.DeviceID, "error", err)
	}

	observability.RecordTokenIssue("success", string(user.Type))
	observability.Audit(ctx, "session_issued",
		"user_id", user.ID, "session_id", sessionID, "device_id", device.DeviceID)

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		SessionID:    sessionID,
		ExpiresIn:    int64(accessTTL.Seconds()),
	}, nil
}

// Verify validates a raw token of the expected shape against its signature,
// registered claims, the blacklist, and the backing session.
func (s *TokenService) Verify(ctx context.Context, raw string, expected TokenType) (*TokenPayload, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	blacklisted, err := s.store.IsBlacklisted(storeCtx, security.HashToken(raw))
	if err != nil {
		observability.RecordTokenVerify("failure", "store_unavailable")
		return nil, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	if blacklisted {
		observability.RecordTokenVerify("failure", "blacklisted")
		return nil, ErrTokenBlacklisted
	}

	switch expected {
	case TokenTypeAccess:
		return s.verifyAccess(ctx, storeCtx, raw)
	case TokenTypeRefresh:
		return s.verifyRefresh(storeCtx, raw)
	default:
		return nil, fmt.Errorf("unknown token type %q", expected)
	}
}

func (s *TokenService) verifyAccess(ctx, storeCtx context.Context, raw string) (*TokenPayload, error) {
	claims, err := s.jwt.ParseAccess(raw)
	if err != nil {
		observability.RecordTokenVerify("failure", verifyFailureReason(err))
		return nil, err
	}

	session, err := s.liveSession(storeCtx, claims.SessionID)
	if err != nil {
		observability.RecordTokenVerify("failure", "session_not_active")
		return nil, err
	}

	session.LastActivity = s.now()
	if err := s.store.Update(storeCtx, session); err != nil {
		slog.WarnContext(ctx, "failed to touch session activity",
			"session_id", session.SessionID, "error", err)
	}

	observability.RecordTokenVerify("success", "")
	return &TokenPayload{
		UserID:      claims.Subject,
		UserType:    domain.UserType(claims.UserType),
		SessionID:   claims.SessionID,
		DeviceID:    claims.DeviceID,
		Permissions: claims.Permissions,
		ParentID:    claims.ParentID,
		ChildrenIDs: claims.ChildrenIDs,
		ExpiresAt:   claims.ExpiresAt.Time,
		TokenType:   TokenTypeAccess,
	}, nil
}

func (s *TokenService) verifyRefresh(storeCtx context.Context, raw string) (*TokenPayload, error) {
	claims, err := s.jwt.ParseRefresh(raw)
	if err != nil {
		observability.RecordTokenVerify("failure", verifyFailureReason(err))
		return nil, err
	}

	session, err := s.liveSession(storeCtx, claims.SessionID)
	if err != nil {
		observability.RecordTokenVerify("failure", "session_not_active")
		return nil, err
	}

	// A refresh token must be the session's current family member. Anything
	// else is a rotated-out copy; Verify reports it without side effects and
	// Refresh handles the revocation.
	if claims.TokenFamily != session.RefreshTokenFamily || claims.ID != session.CurrentRefreshID {
		observability.RecordTokenVerify("failure", "stale_refresh")
		return nil, ErrRefreshTokenReuseDetected
	}

	observability.RecordTokenVerify("success", "")
	return &TokenPayload{
		UserID:    claims.Subject,
		UserType:  session.UserType,
		SessionID: claims.SessionID,
		DeviceID:  claims.DeviceID,
		ExpiresAt: claims.ExpiresAt.Time,
		TokenType: TokenTypeRefresh,
	}, nil
}

// Refresh redeems a refresh token for a brand-new pair under a brand-new
// family. Exactly one concurrent redemption per session can succeed; every
// other outcome revokes the session.
func (s *TokenService) Refresh(ctx context.Context, raw string, device domain.DeviceInfo) (*TokenPair, error) {
	claims, err := s.jwt.ParseRefresh(raw)
	if err != nil {
		observability.RecordTokenRefresh("failure")
		return nil, err
	}

	unlock := s.locks.lock(claims.SessionID)
	defer unlock()

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	presentedHash := security.HashToken(raw)
	blacklisted, err := s.store.IsBlacklisted(storeCtx, presentedHash)
	if err != nil {
		observability.RecordTokenRefresh("failure")
		return nil, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	if blacklisted {
		// A rotated-out token came back. The legitimate holder already moved
		// on, so whoever presented this one stole it.
		s.revokeFamily(ctx, storeCtx, claims.SessionID, "refresh_token_replay")
		observability.RecordTokenRefresh("reuse_detected")
		return nil, ErrRefreshTokenReuseDetected
	}

	session, err := s.liveSession(storeCtx, claims.SessionID)
	if err != nil {
		observability.RecordTokenRefresh("failure")
		return nil, err
	}

	if claims.TokenFamily != session.RefreshTokenFamily || claims.ID != session.CurrentRefreshID {
		s.revokeSession(ctx, storeCtx, session, "refresh_token_reuse")
		observability.RecordTokenRefresh("reuse_detected")
		return nil, ErrRefreshTokenReuseDetected
	}

	if security.FingerprintDevice(device) != session.DeviceFingerprintHash {
		s.revokeSession(ctx, storeCtx, session, "device_fingerprint_mismatch")
		observability.RecordTokenRefresh("fingerprint_mismatch")
		return nil, ErrDeviceFingerprintMismatch
	}

	now := s.now()
	accessTTL, refreshTTL := s.ttls.forUser(session.UserType)
	newFamily := uuid.NewString()
	newRefreshID := uuid.NewString()

	user := &domain.User{
		ID:          session.UserID,
		Type:        session.UserType,
		Permissions: session.Permissions,
		ParentID:    session.ParentID,
		ChildrenIDs: session.ChildrenIDs,
	}
	accessToken, err := s.signAccess(user, session.SessionID, session.DeviceID, now, accessTTL)
	if err != nil {
		observability.RecordTokenRefresh("failure")
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refreshToken, err := s.signRefresh(session.UserID, session.SessionID, session.DeviceID, newFamily, newRefreshID, now, refreshTTL)
	if err != nil {
		observability.RecordTokenRefresh("failure")
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	updated := *session
	updated.RefreshTokenFamily = newFamily
	updated.CurrentRefreshID = newRefreshID
	updated.RefreshTokenHash = security.HashToken(refreshToken)
	updated.AccessTokenHash = security.HashToken(accessToken)
	updated.LastActivity = now

	err = s.store.ReplaceFamily(storeCtx, session.SessionID, claims.ID, &updated)
	if errors.Is(err, sessionstore.ErrFamilyConflict) {
		// Another rotation won between our read and the swap. Two parties
		// holding the same refresh token is theft, not a retry case.
		s.revokeFamily(ctx, storeCtx, session.SessionID, "concurrent_refresh_conflict")
		observability.RecordTokenRefresh("reuse_detected")
		return nil, ErrRefreshTokenReuseDetected
	}
	if err != nil {
		observability.RecordTokenRefresh("failure")
		return nil, fmt.Errorf("rotate refresh family: %w", err)
	}

	if ttl := claims.ExpiresAt.Time.Sub(now); ttl > 0 {
		if err := s.store.Blacklist(storeCtx, presentedHash, ttl); err != nil {
			slog.WarnContext(ctx, "failed to blacklist rotated refresh token",
				"session_id", session.SessionID, "error", err)
		}
	}

	observability.RecordTokenRefresh("success")
	observability.Audit(ctx, "refresh_rotated",
		"user_id", session.UserID, "session_id", session.SessionID)

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		SessionID:    session.SessionID,
		ExpiresIn:    int64(accessTTL.Seconds()),
	}, nil
}

// RevokeSession deactivates one session and blacklists its outstanding pair.
func (s *TokenService) RevokeSession(ctx context.Context, sessionID string) error {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	session, err := s.store.Get(storeCtx, sessionID)
	if errors.Is(err, sessionstore.ErrSessionNotFound) {
		return ErrSessionNotActive
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	s.revokeSession(ctx, storeCtx, session, "explicit_revocation")
	return nil
}

// RevokeAllSessions revokes every live session of the user.
func (s *TokenService) RevokeAllSessions(ctx context.Context, userID string) error {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	sessions, err := s.store.ListByUser(storeCtx, userID)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	for _, session := range sessions {
		s.revokeSession(ctx, storeCtx, session, "revoke_all")
	}
	observability.Audit(ctx, "all_sessions_revoked", "user_id", userID, "count", len(sessions))
	return nil
}

func (s *TokenService) liveSession(storeCtx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.store.Get(storeCtx, sessionID)
	if errors.Is(err, sessionstore.ErrSessionNotFound) {
		return nil, ErrSessionNotActive
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	if !session.Live(s.now()) {
		return nil, ErrSessionNotActive
	}
	return session, nil
}

func (s *TokenService) revokeFamily(ctx, storeCtx context.Context, sessionID, reason string) {
	session, err := s.store.Get(storeCtx, sessionID)
	if err != nil {
		slog.WarnContext(ctx, "failed to load session for family revocation",
			"session_id", sessionID, "reason", reason, "error", err)
		return
	}
	s.revokeSession(ctx, storeCtx, session, reason)
}

func (s *TokenService) revokeSession(ctx, storeCtx context.Context, session *domain.Session, reason string) {
	session.IsActive = false
	if err := s.store.Update(storeCtx, session); err != nil {
		slog.WarnContext(ctx, "failed to deactivate session",
			"session_id", session.SessionID, "reason", reason, "error", err)
	}

	// Blacklisting outlives the session record itself, so the remaining
	// session lifetime bounds both hashes.
	if ttl := session.ExpiresAt.Sub(s.now()); ttl > 0 {
		for _, hash := range []string{session.RefreshTokenHash, session.AccessTokenHash} {
			if hash == "" {
				continue
			}
			if err := s.store.Blacklist(storeCtx, hash, ttl); err != nil {
				slog.WarnContext(ctx, "failed to blacklist revoked token",
					"session_id", session.SessionID, "error", err)
			}
		}
	}

	observability.RecordSessionRevocation(reason)
	observability.Audit(ctx, "session_revoked",
		"user_id", session.UserID, "session_id", session.SessionID, "reason", reason)
}

func (s *TokenService) signAccess(user *domain.User, sessionID, deviceID string, now time.Time, ttl time.Duration) (string, error) {
	return s.jwt.SignAccess(security.AccessClaims{
		UserType:    string(user.Type),
		SessionID:   sessionID,
		DeviceID:    deviceID,
		Permissions: user.Permissions,
		ParentID:    user.ParentID,
		ChildrenIDs: user.ChildrenIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.jwt.Issuer(),
			Audience:  jwt.ClaimStrings{s.jwt.Audience()},
			Subject:   user.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
}

func (s *TokenService) signRefresh(userID, sessionID, deviceID, family, refreshID string, now time.Time, ttl time.Duration) (string, error) {
	return s.jwt.SignRefresh(security.RefreshClaims{
		SessionID:   sessionID,
		DeviceID:    deviceID,
		TokenFamily: family,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.jwt.Issuer(),
			Audience:  jwt.ClaimStrings{s.jwt.Audience()},
			Subject:   userID,
			ID:        refreshID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
}

func verifyFailureReason(err error) string {
	switch {
	case errors.Is(err, security.ErrExpiredToken):
		return "expired"
	default:
		return "malformed"
	}
}
