package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/chudeemeke/stealth-learning-auth-core/internal/config"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/keys"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/observability"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/service"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/sessionstore"
)

// App is the fully wired auth core: every service constructed, initialized,
// and ready. Background loops start on Start and stop when its context is
// cancelled.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Observability *observability.Runtime

	Master    *keys.MasterKeyManager
	DataKeys  *keys.DataKeyService
	Signing   *keys.SigningKeyManager
	Scheduler *keys.RotationScheduler
	Sessions  sessionstore.Store
	Auth      *service.Core

	wg sync.WaitGroup
}

func New(
	cfg *config.Config,
	logger *slog.Logger,
	runtime *observability.Runtime,
	master *keys.MasterKeyManager,
	dataKeys *keys.DataKeyService,
	signing *keys.SigningKeyManager,
	scheduler *keys.RotationScheduler,
	sessions sessionstore.Store,
	auth *service.Core,
) *App {
	return &App{
		Config:        cfg,
		Logger:        logger,
		Observability: runtime,
		Master:        master,
		DataKeys:      dataKeys,
		Signing:       signing,
		Scheduler:     scheduler,
		Sessions:      sessions,
		Auth:          auth,
	}
}

// Start launches the rotation scheduler and, for the in-memory session store,
// the expiry sweeper. Both exit when ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Scheduler.Run(ctx)
	}()

	if mem, ok := a.Sessions.(*sessionstore.MemoryStore); ok {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			mem.Run(ctx, a.Config.SessionSweepInterval)
		}()
	}

	a.Logger.InfoContext(ctx, "auth core started",
		"session_backend", a.Config.SessionStoreBackend,
		"keystore_driver", a.Config.KeyStoreDriver,
		"key_provider", a.Config.KeyProvider)
}

// Wait blocks until every background loop has exited.
func (a *App) Wait() {
	a.wg.Wait()
}
