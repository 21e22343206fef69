package sessionstore

import (
	"context"
	"sync"
	"time"

	"github.com/chudeemeke/stealth-learning-auth-core/internal/domain"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/observability"
)

type trustedDevice struct {
	deviceID string
	lastSeen time.Time
}

// MemoryStore is the in-process session store. It has no native TTLs, so a
// periodic sweep removes expired sessions and lapsed blacklist entries.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*domain.Session
	byUser    map[string]map[string]struct{}
	blacklist map[string]time.Time
	devices   map[string][]trustedDevice
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]*domain.Session),
		byUser:    make(map[string]map[string]struct{}),
		blacklist: make(map[string]time.Time),
		devices:   make(map[string][]trustedDevice),
		now:       time.Now,
	}
}

func (s *MemoryStore) Put(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	s.sessions[cp.SessionID] = &cp
	ids, ok := s.byUser[cp.UserID]
	if !ok {
		ids = make(map[string]struct{})
		s.byUser[cp.UserID] = ids
	}
	ids[cp.SessionID] = struct{}{}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok || session.Expired(s.now()) {
		return nil, ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

func (s *MemoryStore) Update(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.SessionID]; !ok {
		return ErrSessionNotFound
	}
	cp := *session
	s.sessions[cp.SessionID] = &cp
	return nil
}

func (s *MemoryStore) ReplaceFamily(_ context.Context, sessionID, expectRefreshID string, updated *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[sessionID]
	if !ok || current.Expired(s.now()) {
		return ErrSessionNotFound
	}
	if current.CurrentRefreshID != expectRefreshID {
		return ErrFamilyConflict
	}
	cp := *updated
	s.sessions[sessionID] = &cp
	return nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	var sessions []*domain.Session
	for id := range s.byUser[userID] {
		session, ok := s.sessions[id]
		if !ok || session.Expired(now) {
			continue
		}
		cp := *session
		sessions = append(sessions, &cp)
	}
	return sessions, nil
}

func (s *MemoryStore) Blacklist(_ context.Context, tokenHash string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blacklist[tokenHash] = s.now().Add(ttl)
	return nil
}

func (s *MemoryStore) IsBlacklisted(_ context.Context, tokenHash string) (bool, error) {
	s.mu.RLock()
	expiresAt, ok := s.blacklist[tokenHash]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if s.now().After(expiresAt) {
		s.mu.Lock()
		delete(s.blacklist, tokenHash)
		s.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) TouchTrustedDevice(_ context.Context, userID, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.devices[userID]
	out := make([]trustedDevice, 0, len(list)+1)
	out = append(out, trustedDevice{deviceID: deviceID, lastSeen: s.now()})
	for _, d := range list {
		if d.deviceID != deviceID {
			out = append(out, d)
		}
	}
	if len(out) > maxTrustedDevices {
		out = out[:maxTrustedDevices]
	}
	s.devices[userID] = out
	return nil
}

func (s *MemoryStore) TrustedDevices(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.devices[userID]
	ids := make([]string, 0, len(list))
	for _, d := range list {
		ids = append(ids, d.deviceID)
	}
	return ids, nil
}

// Sweep removes expired sessions and lapsed blacklist entries. Returns how
// many of each were dropped.
func (s *MemoryStore) Sweep() (sessions, blacklisted int) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, session := range s.sessions {
		if !session.Expired(now) {
			continue
		}
		delete(s.sessions, id)
		if ids, ok := s.byUser[session.UserID]; ok {
			delete(ids, id)
			if len(ids) == 0 {
				delete(s.byUser, session.UserID)
			}
		}
		sessions++
	}
	for hash, expiresAt := range s.blacklist {
		if now.After(expiresAt) {
			delete(s.blacklist, hash)
			blacklisted++
		}
	}
	return sessions, blacklisted
}

// Run sweeps on the given interval until ctx is cancelled.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, lapsed := s.Sweep()
			if swept > 0 || lapsed > 0 {
				observability.RecordStoreOperation(ctx, "session_memory", "sweep", "success")
			}
		}
	}
}
