//go:build wireinject
// +build wireinject

package app

import (
	"context"

	"github.com/google/wire"

	"github.com/chudeemeke/stealth-learning-auth-core/internal/config"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/keys"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/keystore"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/observability"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/service"
)

func InitializeApp(ctx context.Context) (*App, func(), error) {
	wire.Build(
		config.Load,
		observability.InitRuntime,
		wire.FieldsOf(new(*observability.Runtime), "Logger"),
		provideDB,
		keystore.NewGormKeyStore,
		wire.Bind(new(keystore.KeyStore), new(*keystore.GormKeyStore)),
		keystore.NewGormAPIKeyStore,
		wire.Bind(new(keystore.APIKeyStore), new(*keystore.GormAPIKeyStore)),
		provideKeyProvider,
		provideKeyCache,
		provideMasterKeyManager,
		keys.NewDataKeyService,
		keys.NewSigningKeyRing,
		provideSigningKeyManager,
		provideRotationScheduler,
		provideSessionStore,
		provideJWTManager,
		provideTokenTTLs,
		provideTokenService,
		provideAPIKeyService,
		service.NewCore,
		New,
	)
	return nil, nil, nil
}
