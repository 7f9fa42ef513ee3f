package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// shutdownContext cancels the returned context on SIGINT or SIGTERM so
// the server can drain requests and the flush loop can finish its pass.
// A second signal skips the drain and exits immediately.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-ctx.Done()
		stop()
		if parent.Err() != nil {
			return
		}
		logger.Info("shutdown requested, draining")

		// stop released the NotifyContext registration, so a fresh
		// channel observes the second signal.
		force := make(chan os.Signal, 1)
		signal.Notify(force, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(force)

		select {
		case sig := <-force:
			logger.Warn("second signal, exiting without drain", slog.String("signal", sig.String()))
			os.Exit(1)
		case <-parent.Done():
		}
	}()

	return ctx
}
