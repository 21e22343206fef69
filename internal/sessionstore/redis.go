package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chudeemeke/stealth-learning-auth-core/internal/domain"
)

// RedisStore keeps sessions in Redis with native TTLs. Expiry is enforced by
// Redis itself, so there is no sweeper.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "auth"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *RedisStore) sessionKey(sessionID string) string {
	return s.prefix + ":session:" + sessionID
}

func (s *RedisStore) userKey(userID string) string {
	return s.prefix + ":user:" + userID
}

func (s *RedisStore) blacklistKey(tokenHash string) string {
	return s.prefix + ":blacklist:" + tokenHash
}

func (s *RedisStore) devicesKey(userID string) string {
	return s.prefix + ":devices:" + userID
}

func (s *RedisStore) Put(ctx context.Context, session *domain.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", session.SessionID)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.sessionKey(session.SessionID), payload, ttl)
	pipe.SAdd(ctx, s.userKey(session.UserID), session.SessionID)
	pipe.Expire(ctx, s.userKey(session.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if session.Expired(s.now()) {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

func (s *RedisStore) Update(ctx context.Context, session *domain.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ok, err := s.client.SetXX(ctx, s.sessionKey(session.SessionID), payload, redis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

// ReplaceFamily swaps the session document only if its current refresh token
// id still matches expectRefreshID. A concurrent rotation that wins the race
// surfaces as ErrFamilyConflict to the loser.
func (s *RedisStore) ReplaceFamily(ctx context.Context, sessionID, expectRefreshID string, updated *domain.Session) error {
	key := s.sessionKey(sessionID)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		var current domain.Session
		if err := json.Unmarshal(raw, &current); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		if current.Expired(s.now()) {
			return ErrSessionNotFound
		}
		if current.CurrentRefreshID != expectRefreshID {
			return ErrFamilyConflict
		}
		payload, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, redis.KeepTTL)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrFamilyConflict
	}
	return err
}

func (s *RedisStore) ListByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	ids, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var sessions []*domain.Session
	var stale []interface{}
	for _, id := range ids {
		session, err := s.Get(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			stale = append(stale, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if len(stale) > 0 {
		_ = s.client.SRem(ctx, s.userKey(userID), stale...).Err()
	}
	return sessions, nil
}

func (s *RedisStore) Blacklist(ctx context.Context, tokenHash string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.blacklistKey(tokenHash), "1", ttl).Err(); err != nil {
		return fmt.Errorf("blacklist token: %w", err)
	}
	return nil
}

func (s *RedisStore) IsBlacklisted(ctx context.Context, tokenHash string) (bool, error) {
	n, err := s.client.Exists(ctx, s.blacklistKey(tokenHash)).Result()
	if err != nil {
		return false, fmt.Errorf("check blacklist: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) TouchTrustedDevice(ctx context.Context, userID, deviceID string) error {
	key := s.devicesKey(userID)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(s.now().Unix()), Member: deviceID})
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-maxTrustedDevices-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("touch trusted device: %w", err)
	}
	return nil
}

func (s *RedisStore) TrustedDevices(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.client.ZRevRange(ctx, s.devicesKey(userID), 0, maxTrustedDevices-1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("list trusted devices: %w", err)
	}
	return ids, nil
}
