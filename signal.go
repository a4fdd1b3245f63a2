package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// forceExitCode is used when a second signal arrives during shutdown.
const forceExitCode = 130

// shutdownContext returns a context cancelled by the first SIGINT or SIGTERM.
// In-flight uploads then return to pending and the feed closes its
// subscribers; a second signal exits at once.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("shutting down", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("second signal, exiting without cleanup", slog.String("signal", sig.String()))
			os.Exit(forceExitCode)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}
