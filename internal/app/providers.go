package app

import (
	"context"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/chudeemeke/stealth-learning-auth-core/internal/config"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/keys"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/keystore"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/security"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/service"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/sessionstore"
)

func provideDB(cfg *config.Config) (*gorm.DB, error) {
	return keystore.OpenDB(cfg.KeyStoreDriver, cfg.KeyStoreDSN)
}

func provideKeyProvider(cfg *config.Config) (keys.Provider, error) {
	return keys.NewProvider(cfg.KeyProvider)
}

func provideKeyCache(cfg *config.Config) *keys.KeyCache {
	return keys.NewKeyCache(cfg.KeyCacheTTL)
}

func provideMasterKeyManager(ctx context.Context, store keystore.KeyStore, provider keys.Provider, cache *keys.KeyCache) (*keys.MasterKeyManager, error) {
	master := keys.NewMasterKeyManager(store, provider)
	if err := master.Initialize(ctx); err != nil {
		return nil, err
	}
	master.RegisterCacheFlusher(cache)
	return master, nil
}

func provideSigningKeyManager(ctx context.Context, dataKeys *keys.DataKeyService, store keystore.KeyStore, ring *keys.SigningKeyRing, cfg *config.Config) (*keys.SigningKeyManager, error) {
	signing := keys.NewSigningKeyManager(dataKeys, store, ring, cfg.SigningKeyRetention)
	if err := signing.Initialize(ctx); err != nil {
		return nil, err
	}
	return signing, nil
}

func provideRotationScheduler(dataKeys *keys.DataKeyService, signing *keys.SigningKeyManager, cfg *config.Config) *keys.RotationScheduler {
	return keys.NewRotationScheduler(dataKeys, signing, cfg.KeyRotationInterval, cfg.KeyRotationCheckEvery)
}

func provideSessionStore(cfg *config.Config) (sessionstore.Store, func(), error) {
	switch cfg.SessionStoreBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return sessionstore.NewRedisStore(client, "auth"), func() { _ = client.Close() }, nil
	default:
		return sessionstore.NewMemoryStore(), func() {}, nil
	}
}

func provideJWTManager(ring *keys.SigningKeyRing, cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(ring, cfg.Issuer, cfg.Audience)
}

func provideTokenTTLs(cfg *config.Config) service.TokenTTLs {
	return service.TokenTTLs{
		Access:       cfg.AccessTokenTTL,
		Refresh:      cfg.RefreshTokenTTL,
		ChildAccess:  cfg.ChildAccessTokenTTL,
		ChildRefresh: cfg.ChildRefreshTokenTTL,
	}
}

func provideTokenService(sessions sessionstore.Store, jwtManager *security.JWTManager, ttls service.TokenTTLs, cfg *config.Config) *service.TokenService {
	return service.NewTokenService(sessions, jwtManager, ttls, cfg.StoreTimeout)
}

func provideAPIKeyService(store keystore.APIKeyStore, cfg *config.Config) *service.APIKeyService {
	return service.NewAPIKeyService(store, cfg.StoreTimeout)
}
