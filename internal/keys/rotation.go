package keys

import (
	"context"
	"log/slog"
	"time"

	"github.com/chudeemeke/stealth-learning-auth-core/internal/domain"
)

// RotationScheduler rotates every active key once it reaches the configured
// age. It runs independently of request handling and never touches the cache
// lock for longer than a single evict; per-key failures are logged and do not
// stop the sweep.
type RotationScheduler struct {
	dataKeys *DataKeyService
	signing  *SigningKeyManager
	maxAge   time.Duration
	every    time.Duration
	now      func() time.Time
}

func NewRotationScheduler(dataKeys *DataKeyService, signing *SigningKeyManager, maxAge, every time.Duration) *RotationScheduler {
	return &RotationScheduler{
		dataKeys: dataKeys,
		signing:  signing,
		maxAge:   maxAge,
		every:    every,
		now:      time.Now,
	}
}

// Run blocks until ctx is cancelled, sweeping on every tick.
func (s *RotationScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one rotation pass: due data keys, the signing pair if due,
// and retention cleanup of retired signing keys.
func (s *RotationScheduler) Sweep(ctx context.Context) {
	cutoff := s.now().UTC().Add(-s.maxAge)

	metas, err := s.dataKeys.ListKeys(ctx, domain.KeyTypeDataEncryption, true)
	if err != nil {
		slog.ErrorContext(ctx, "rotation sweep: list data keys", "error", err)
	} else {
		for _, meta := range metas {
			if meta.CreatedAt.After(cutoff) {
				continue
			}
			if _, err := s.dataKeys.RotateKey(ctx, meta.KeyID); err != nil {
				slog.ErrorContext(ctx, "rotation sweep: rotate data key", "key_id", meta.KeyID, "error", err)
			}
		}
	}

	signingMetas, err := s.dataKeys.ListKeys(ctx, domain.KeyTypeJWTSigning, true)
	if err != nil {
		slog.ErrorContext(ctx, "rotation sweep: list signing keys", "error", err)
	} else {
		for _, meta := range signingMetas {
			if meta.CreatedAt.After(cutoff) {
				continue
			}
			if _, err := s.signing.Rotate(ctx); err != nil {
				slog.ErrorContext(ctx, "rotation sweep: rotate signing key", "kid", meta.KeyID, "error", err)
			}
		}
	}

	if err := s.signing.RetireExpired(ctx); err != nil {
		slog.ErrorContext(ctx, "rotation sweep: retire expired signing keys", "error", err)
	}
}
