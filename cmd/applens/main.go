package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/applens/cmd"
	"github.com/xkilldash9x/applens/internal/observability"
)

func main() {
	// Interrupt signals cancel the context so in-flight scans shut down
	// cleanly instead of persisting a partial graph.
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
