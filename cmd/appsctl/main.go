package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(dialBackend)
	if err := a.rootCmd().ExecuteContext(ctx); err != nil {
		// Cobra prints the error, we just exit non-zero
		stop()
		os.Exit(1)
	}
}
