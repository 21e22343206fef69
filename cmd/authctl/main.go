package main

import (
	"fmt"
	"os"

	"github.com/chudeemeke/stealth-learning-auth-core/internal/tools/authctl"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/tools/ui"
)

func main() {
	if err := authctl.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.Error(err.Error()))
		os.Exit(1)
	}
}
