// File: cmd/voyager/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/voyager-cli/cmd"
	"github.com/xkilldash9x/voyager-cli/internal/observability"
)

func main() {
	// Interrupt signals cancel the context so in-flight tasks unwind and
	// release their sessions before exit.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
