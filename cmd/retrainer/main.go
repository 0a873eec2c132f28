package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "embed"

	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

// embeddedConfig embeds the default application configuration. --config replaces it.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// main is the entry point of the application.
// It installs signal handling and runs the command line.
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handling for graceful shutdown (e.g., Ctrl+C)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Warnf("Received signal '%v'. Attempting to stop the job...", sig)
		cancel()
	}()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		cancel()
		os.Exit(1)
	}
}
