package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chudeemeke/stealth-learning-auth-core/internal/domain"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/keys"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/security"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/sessionstore"
)

var testTTLs = TokenTTLs{
	Access:       15 * time.Minute,
	Refresh:      7 * 24 * time.Hour,
	ChildAccess:  5 * time.Minute,
	ChildRefresh: 2 * time.Hour,
}

func newTestRing(t *testing.T, kid string) (*keys.SigningKeyRing, *rsa.PrivateKey) {
	t.Helper()
	private, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate test key: %v", err)
	}
	ring := keys.NewSigningKeyRing()
	ring.SetActive(kid, private)
	return ring, private
}

func newTestTokenService(t *testing.T) (*TokenService, *sessionstore.MemoryStore, *keys.SigningKeyRing) {
	t.Helper()
	ring, _ := newTestRing(t, "kid-1")
	jwtManager := security.NewJWTManager(ring, "test-issuer", "test-audience")
	store := sessionstore.NewMemoryStore()
	return NewTokenService(store, jwtManager, testTTLs, 3*time.Second), store, ring
}

func testUser() *domain.User {
	return &domain.User{
		ID:          "user-1",
		Type:        domain.UserTypeParent,
		Permissions: []string{"games:play", "reports:read"},
		ChildrenIDs: []string{"child-1"},
	}
}

func testDevice() domain.DeviceInfo {
	return domain.DeviceInfo{
		DeviceID:            "device-1",
		IPAddress:           "10.0.0.1",
		UserAgent:           "test-agent",
		AcceptLanguage:      "en-GB",
		AcceptEncoding:      "gzip",
		ScreenResolution:    "1920x1080",
		Timezone:            "Europe/London",
		Platform:            "MacIntel",
		HardwareConcurrency: 8,
		DeviceMemory:        16,
	}
}

func TestIssueThenVerifyAccess(t *testing.T) {
	svc, _, _ := newTestTokenService(t)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, testUser(), testDevice())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.SessionID == "" {
		t.Fatalf("incomplete pair: %+v", pair)
	}
	if pair.ExpiresIn != int64(testTTLs.Access.Seconds()) {
		t.Errorf("ExpiresIn = %d, want %d", pair.ExpiresIn, int64(testTTLs.Access.Seconds()))
	}

	payload, err := svc.Verify(ctx, pair.AccessToken, TokenTypeAccess)
	if err != nil {
		t.Fatalf("Verify access: %v", err)
	}
	if payload.UserID != "user-1" {
		t.Errorf("payload.UserID = %s, want user-1", payload.UserID)
	}
	if payload.SessionID != pair.SessionID {
		t.Errorf("payload.SessionID = %s, want %s", payload.SessionID, pair.SessionID)
	}
	if len(payload.Permissions) != 2 {
		t.Errorf("payload.Permissions = %v", payload.Permissions)
	}
	if payload.TokenType != TokenTypeAccess {
		t.Errorf("payload.TokenType = %s", payload.TokenType)
	}

	if _, err := svc.Verify(ctx, pair.RefreshToken, TokenTypeRefresh); err != nil {
		t.Errorf("Verify refresh: %v", err)
	}
}

func TestVerifyRejectsWrongShape(t *testing.T) {
	svc, _, _ := newTestTokenService(t)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, testUser(), testDevice())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// A refresh token parsed as an access token lacks the access claim set.
	// It parses as a JWT but the session family check cannot match it, and
	// the caller asked for the wrong shape anyway; verification must fail.
	if _, err := svc.Verify(ctx, pair.AccessToken, TokenTypeRefresh); err == nil {
		t.Errorf("access token accepted as refresh token")
	}
}

func TestVerifyAccessTouchesLastActivity(t *testing.T) {
	svc, store, _ := newTestTokenService(t)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, testUser(), testDevice())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	before, err := store.Get(ctx, pair.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(time.Minute) }
	if _, err := svc.Verify(ctx, pair.AccessToken, TokenTypeAccess); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	after, err := store.Get(ctx, pair.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !after.LastActivity.After(before.LastActivity) {
		t.Errorf("LastActivity not touched: %v -> %v", before.LastActivity, after.LastActivity)
	}
}

func TestChildAccountGetsShorterTTLs(t *testing.T) {
	svc, store, _ := newTestTokenService(t)
	ctx := context.Background()

	child := &domain.User{ID: "child-1", Type: domain.UserTypeChild, ParentID: "user-1"}
	pair, err := svc.Issue(ctx, child, testDevice())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if pair.ExpiresIn != int64(testTTLs.ChildAccess.Seconds()) {
		t.Errorf("child ExpiresIn = %d, want %d", pair.ExpiresIn, int64(testTTLs.ChildAccess.Seconds()))
	}

	payload, err := svc.Verify(ctx, pair.AccessToken, TokenTypeAccess)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if d := time.Until(payload.ExpiresAt); d > testTTLs.ChildAccess+time.Minute {
		t.Errorf("child access token lives %v, want about %v", d, testTTLs.ChildAccess)
	}

	session, err := store.Get(ctx, pair.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if d := time.Until(session.ExpiresAt); d > testTTLs.ChildRefresh+time.Minute {
		t.Errorf("child session lives %v, want about %v", d, testTTLs.ChildRefresh)
	}

	adultPair, err := svc.Issue(ctx, testUser(), testDevice())
	if err != nil {
		t.Fatalf("Issue adult: %v", err)
	}
	if adultPair.ExpiresIn != int64(testTTLs.Access.Seconds()) {
		t.Errorf("adult ExpiresIn = %d, want %d", adultPair.ExpiresIn, int64(testTTLs.Access.Seconds()))
	}
}

func TestRefreshRotatesFamilyAndKeepsClaims(t *testing.T) {
	svc, store, _ := newTestTokenService(t)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, testUser(), testDevice())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	oldSession, err := store.Get(ctx, pair.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	rotated, err := svc.Refresh(ctx, pair.RefreshToken, testDevice())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.SessionID != pair.SessionID {
		t.Errorf("rotation changed session id")
	}
	if rotated.RefreshToken == pair.RefreshToken {
		t.Errorf("rotation returned the same refresh token")
	}

	newSession, err := store.Get(ctx, pair.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if newSession.RefreshTokenFamily == oldSession.RefreshTokenFamily {
		t.Errorf("rotation kept the old family")
	}

	payload, err := svc.Verify(ctx, rotated.AccessToken, TokenTypeAccess)
	if err != nil {
		t.Fatalf("Verify rotated access: %v", err)
	}
	if len(payload.Permissions) != 2 || len(payload.ChildrenIDs) != 1 {
		t.Errorf("rotated access token lost claims: %+v", payload)
	}
}

func TestRefreshIsSingleUse(t *testing.T) {
	svc, store, _ := newTestTokenService(t)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, testUser(), testDevice())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svc.Refresh(ctx, pair.RefreshToken, testDevice()); err != nil {
		t.Fatalf("first Refresh: %v", err)
	}

	// Replaying the rotated-out token is theft: the call fails and the whole
	// session is revoked, cutting off the legitimate holder too.
	if _, err := svc.Refresh(ctx, pair.RefreshToken, testDevice()); !errors.Is(err, ErrRefreshTokenReuseDetected) {
		t.Fatalf("replayed Refresh = %v, want ErrRefreshTokenReuseDetected", err)
	}

	session, err := store.Get(ctx, pair.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if session.IsActive {
		t.Errorf("session still active after refresh token replay")
	}
}

func TestRefreshFingerprintMismatchRevokesSession(t *testing.T) {
	svc, store, _ := newTestTokenService(t)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, testUser(), testDevice())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	attacker := testDevice()
	attacker.Timezone = "America/New_York"
	attacker.Platform = "Win32"
	if _, err := svc.Refresh(ctx, pair.RefreshToken, attacker); !errors.Is(err, ErrDeviceFingerprintMismatch) {
		t.Fatalf("Refresh from foreign device = %v, want ErrDeviceFingerprintMismatch", err)
	}

	session, err := store.Get(ctx, pair.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if session.IsActive {
		t.Errorf("session still active after fingerprint mismatch")
	}

	// The stolen-but-otherwise-valid pair is now blacklisted.
	if _, err := svc.Verify(ctx, pair.AccessToken, TokenTypeAccess); !errors.Is(err, ErrTokenBlacklisted) {
		t.Errorf("Verify after revoke = %v, want ErrTokenBlacklisted", err)
	}
}

func TestConcurrentRefreshExactlyOneWins(t *testing.T) {
	svc, store, _ := newTestTokenService(t)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, testUser(), testDevice())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	const racers = 8
	var wg sync.WaitGroup
	results := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Refresh(ctx, pair.RefreshToken, testDevice())
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var won, reuse int
	for err := range results {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrRefreshTokenReuseDetected):
			reuse++
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	if won != 1 {
		t.Errorf("winners = %d, want exactly 1 (reuse losers %d)", won, reuse)
	}
	if reuse != racers-1 {
		t.Errorf("reuse losers = %d, want %d", reuse, racers-1)
	}

	// At least one loser ran after the winner, so the family was revoked.
	session, err := store.Get(ctx, pair.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if session.IsActive {
		t.Errorf("session survived a refresh race with losers")
	}
}

func TestRevokeSessionBlacklistsCurrentPair(t *testing.T) {
	svc, store, _ := newTestTokenService(t)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, testUser(), testDevice())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := svc.RevokeSession(ctx, pair.SessionID); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}

	session, err := store.Get(ctx, pair.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if session.IsActive {
		t.Errorf("session still active")
	}
	if _, err := svc.Verify(ctx, pair.AccessToken, TokenTypeAccess); !errors.Is(err, ErrTokenBlacklisted) {
		t.Errorf("access Verify = %v, want ErrTokenBlacklisted", err)
	}
	if _, err := svc.Verify(ctx, pair.RefreshToken, TokenTypeRefresh); !errors.Is(err, ErrTokenBlacklisted) {
		t.Errorf("refresh Verify = %v, want ErrTokenBlacklisted", err)
	}

	if err := svc.RevokeSession(ctx, "missing"); !errors.Is(err, ErrSessionNotActive) {
		t.Errorf("RevokeSession(missing) = %v, want ErrSessionNotActive", err)
	}
}

func TestRevokeAllSessions(t *testing.T) {
	svc, store, _ := newTestTokenService(t)
	ctx := context.Background()

	var pairs []*TokenPair
	for i := 0; i < 3; i++ {
		device := testDevice()
		pair, err := svc.Issue(ctx, testUser(), device)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		pairs = append(pairs, pair)
	}

	if err := svc.RevokeAllSessions(ctx, "user-1"); err != nil {
		t.Fatalf("RevokeAllSessions: %v", err)
	}

	for _, pair := range pairs {
		session, err := store.Get(ctx, pair.SessionID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if session.IsActive {
			t.Errorf("session %s still active", pair.SessionID)
		}
		if _, err := svc.Verify(ctx, pair.AccessToken, TokenTypeAccess); !errors.Is(err, ErrTokenBlacklisted) {
			t.Errorf("access token for %s not blacklisted: %v", pair.SessionID, err)
		}
		if _, err := svc.Verify(ctx, pair.RefreshToken, TokenTypeRefresh); !errors.Is(err, ErrTokenBlacklisted) {
			t.Errorf("refresh token for %s not blacklisted: %v", pair.SessionID, err)
		}
	}
}

func TestVerifySurvivesSigningKeyRotationUntilRetirement(t *testing.T) {
	svc, _, ring := newTestTokenService(t)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, testUser(), testDevice())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Rotate the signing key; the old public key stays in the ring.
	next, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ring.SetActive("kid-2", next)

	if _, err := svc.Verify(ctx, pair.AccessToken, TokenTypeAccess); err != nil {
		t.Fatalf("Verify with retained old key: %v", err)
	}

	// Retirement removes the old key entirely; in-flight tokens die with it.
	ring.Retire("kid-1")
	if _, err := svc.Verify(ctx, pair.AccessToken, TokenTypeAccess); !errors.Is(err, security.ErrMalformedToken) {
		t.Errorf("Verify after retirement = %v, want signature failure", err)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	svc, _, _ := newTestTokenService(t)
	ctx := context.Background()

	svc.now = func() time.Time { return time.Now().Add(-time.Hour) }
	pair, err := svc.Issue(ctx, testUser(), testDevice())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	svc.now = time.Now
	if _, err := svc.Verify(ctx, pair.AccessToken, TokenTypeAccess); !errors.Is(err, security.ErrExpiredToken) {
		t.Errorf("Verify expired = %v, want ErrExpiredToken", err)
	}
}

func TestIssueRecordsTrustedDevice(t *testing.T) {
	svc, store, _ := newTestTokenService(t)
	ctx := context.Background()

	if _, err := svc.Issue(ctx, testUser(), testDevice()); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	devices, err := store.TrustedDevices(ctx, "user-1")
	if err != nil {
		t.Fatalf("TrustedDevices: %v", err)
	}
	if len(devices) != 1 || devices[0] != "device-1" {
		t.Errorf("TrustedDevices = %v, want [device-1]", devices)
	}
}
