package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dunamismax/pixelgate/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand(cli.DefaultApp()).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
