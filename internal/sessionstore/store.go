package sessionstore

import (
	"context"
	"errors"
	"time"

	"github.com/chudeemeke/stealth-learning-auth-core/internal/domain"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	// ErrFamilyConflict means a ReplaceFamily lost the race: another rotation
	// moved the family pointer after the caller read it.
	ErrFamilyConflict = errors.New("refresh family pointer changed")
)

const maxTrustedDevices = 10

// Store holds session records, the token blacklist, and the per-user trusted
// device list. The memory and redis implementations satisfy identical
// semantics; which one backs a deployment is invisible to the token service.
//
// ReplaceFamily is the rotation linearization point: it installs the updated
// session iff the stored session's current refresh id still equals
// expectRefreshID, so two racing rotations cannot both succeed.
type Store interface {
	Put(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	Update(ctx context.Context, s *domain.Session) error
	ReplaceFamily(ctx context.Context, sessionID, expectRefreshID string, updated *domain.Session) error
	ListByUser(ctx context.Context, userID string) ([]*domain.Session, error)

	Blacklist(ctx context.Context, tokenHash string, ttl time.Duration) error
	IsBlacklisted(ctx context.Context, tokenHash string) (bool, error)

	TouchTrustedDevice(ctx context.Context, userID, deviceID string) error
	TrustedDevices(ctx context.Context, userID string) ([]string, error)
}
