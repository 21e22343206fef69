package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chudeemeke/stealth-learning-auth-core/internal/app"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/tools/common"
)

// authcored runs the auth core's background maintenance: scheduled key
// rotation, signing key retirement, and session store sweeping. Request
// traffic reaches the core through the service interfaces, not this process.
func main() {
	if err := common.LoadEnvFile(".env"); err != nil {
		fmt.Fprintln(os.Stderr, "load env:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := app.InitializeApp(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "initialize auth core:", err)
		os.Exit(1)
	}
	defer cleanup()

	a.Start(ctx)
	<-ctx.Done()
	a.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Observability.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("observability shutdown", "error", err)
	}
}
