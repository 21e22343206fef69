package config

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("unexpected access TTL %v", cfg.AccessTokenTTL)
	}
	if cfg.ChildAccessTokenTTL != 5*time.Minute {
		t.Fatalf("unexpected child access TTL %v", cfg.ChildAccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 7*24*time.Hour {
		t.Fatalf("unexpected refresh TTL %v", cfg.RefreshTokenTTL)
	}
	if cfg.ChildRefreshTokenTTL != 2*time.Hour {
		t.Fatalf("unexpected child refresh TTL %v", cfg.ChildRefreshTokenTTL)
	}
	if cfg.KeyRotationInterval != 90*24*time.Hour {
		t.Fatalf("unexpected rotation interval %v", cfg.KeyRotationInterval)
	}
	if cfg.SessionStoreBackend != "memory" {
		t.Fatalf("unexpected session store backend %q", cfg.SessionStoreBackend)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AUTH_ACCESS_TOKEN_TTL", "30m")
	t.Setenv("SESSION_STORE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AccessTokenTTL != 30*time.Minute {
		t.Fatalf("env override ignored, got %v", cfg.AccessTokenTTL)
	}
	if cfg.SessionStoreBackend != "redis" || cfg.RedisAddr != "redis:6379" {
		t.Fatal("redis backend override ignored")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad backend", map[string]string{"SESSION_STORE_BACKEND": "dynamo"}, "SESSION_STORE_BACKEND"},
		{"bad driver", map[string]string{"KEYSTORE_DRIVER": "mysql"}, "KEYSTORE_DRIVER"},
		{"bad provider", map[string]string{"KEY_PROVIDER": "vault"}, "KEY_PROVIDER"},
		{"child access longer than adult", map[string]string{"AUTH_CHILD_ACCESS_TOKEN_TTL": "1h"}, "child access"},
		{"child refresh longer than adult", map[string]string{"AUTH_CHILD_REFRESH_TOKEN_TTL": "200h"}, "child refresh"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load(context.Background())
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
