package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRedisStorePutGetUpdate(t *testing.T) {
	server, client := newRedisClientForTest(t)
	store := NewRedisStore(client, "authtest")
	ctx := context.Background()

	session := testSession("s1", "u1", time.Hour)
	if err := store.Put(ctx, session); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserID != "u1" || got.CurrentRefreshID != "jti-1" {
		t.Errorf("got session %+v", got)
	}

	got.LastActivity = got.LastActivity.Add(time.Minute)
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// Update must keep the TTL that Put established.
	ttl := server.TTL(store.sessionKey("s1"))
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("session TTL after Update = %v", ttl)
	}

	if err := store.Update(ctx, testSession("missing", "u1", time.Hour)); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Update missing = %v, want ErrSessionNotFound", err)
	}
}

func TestRedisStoreExpiry(t *testing.T) {
	server, client := newRedisClientForTest(t)
	store := NewRedisStore(client, "authtest")
	ctx := context.Background()

	if err := store.Put(ctx, testSession("s1", "u1", time.Minute)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	server.FastForward(2 * time.Minute)
	if _, err := store.Get(ctx, "s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get expired = %v, want ErrSessionNotFound", err)
	}

	expired := testSession("s2", "u1", -time.Minute)
	if err := store.Put(ctx, expired); err == nil {
		t.Errorf("Put of an already expired session should fail")
	}
}

func TestRedisStoreReplaceFamily(t *testing.T) {
	_, client := newRedisClientForTest(t)
	store := NewRedisStore(client, "authtest")
	ctx := context.Background()

	session := testSession("s1", "u1", time.Hour)
	if err := store.Put(ctx, session); err != nil {
		t.Fatalf("Put: %v", err)
	}

	updated := *session
	updated.RefreshTokenFamily = "family-2"
	updated.CurrentRefreshID = "jti-2"
	if err := store.ReplaceFamily(ctx, "s1", "jti-1", &updated); err != nil {
		t.Fatalf("ReplaceFamily: %v", err)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.RefreshTokenFamily != "family-2" || got.CurrentRefreshID != "jti-2" {
		t.Errorf("rotation pointer not replaced: %+v", got)
	}

	stale := *session
	stale.CurrentRefreshID = "jti-3"
	if err := store.ReplaceFamily(ctx, "s1", "jti-1", &stale); !errors.Is(err, ErrFamilyConflict) {
		t.Errorf("stale ReplaceFamily = %v, want ErrFamilyConflict", err)
	}

	if err := store.ReplaceFamily(ctx, "missing", "jti-1", &updated); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("ReplaceFamily missing = %v, want ErrSessionNotFound", err)
	}
}

func TestRedisStoreListByUserDropsStaleIndexEntries(t *testing.T) {
	server, client := newRedisClientForTest(t)
	store := NewRedisStore(client, "authtest")
	ctx := context.Background()

	if err := store.Put(ctx, testSession("keep", "u1", time.Hour)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(ctx, testSession("drop", "u1", time.Minute)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	server.FastForward(2 * time.Minute)

	sessions, err := store.ListByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != "keep" {
		t.Errorf("ListByUser = %+v, want only the live session", sessions)
	}

	members, _ := client.SMembers(ctx, store.userKey("u1")).Result()
	for _, m := range members {
		if m == "drop" {
			t.Errorf("stale index entry was not pruned")
		}
	}
}

func TestRedisStoreBlacklist(t *testing.T) {
	server, client := newRedisClientForTest(t)
	store := NewRedisStore(client, "authtest")
	ctx := context.Background()

	if err := store.Blacklist(ctx, "hash-1", time.Minute); err != nil {
		t.Fatalf("Blacklist: %v", err)
	}
	listed, err := store.IsBlacklisted(ctx, "hash-1")
	if err != nil || !listed {
		t.Errorf("IsBlacklisted = %v, %v; want true, nil", listed, err)
	}

	server.FastForward(2 * time.Minute)
	listed, err = store.IsBlacklisted(ctx, "hash-1")
	if err != nil || listed {
		t.Errorf("IsBlacklisted after expiry = %v, %v; want false, nil", listed, err)
	}
}

func TestRedisStoreTrustedDevices(t *testing.T) {
	_, client := newRedisClientForTest(t)
	store := NewRedisStore(client, "authtest")
	ctx := context.Background()

	base := time.Now()
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for i := 0; i < maxTrustedDevices+3; i++ {
		if err := store.TouchTrustedDevice(ctx, "u1", fmt.Sprintf("device-%d", i)); err != nil {
			t.Fatalf("TouchTrustedDevice: %v", err)
		}
	}

	devices, err := store.TrustedDevices(ctx, "u1")
	if err != nil {
		t.Fatalf("TrustedDevices: %v", err)
	}
	if len(devices) != maxTrustedDevices {
		t.Fatalf("kept %d devices, want %d", len(devices), maxTrustedDevices)
	}
	if devices[0] != fmt.Sprintf("device-%d", maxTrustedDevices+2) {
		t.Errorf("devices[0] = %s", devices[0])
	}
	for _, d := range devices {
		if d == "device-0" || d == "device-1" || d == "device-2" {
			t.Errorf("evicted device %s still present", d)
		}
	}
}
