package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gridstone/gridstone/internal/ctxlog"
	"github.com/gridstone/gridstone/internal/timeline"
)

// Run executes the application in the mode the CLI selected: one-shot
// resolution when a project id was given, otherwise the HTTP server.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	if a.appCfg.ResolveProjectID != 0 {
		return a.runResolve(ctx)
	}
	return a.serve(ctx)
}

// runResolve performs a single resolution run and prints the summary as
// JSON to stdout. A validate-only failure exits non-zero but still
// prints the summary so the operator sees what was wrong.
func (a *App) runResolve(ctx context.Context) error {
	summary, err := a.runner.Run(ctx, a.appCfg.ResolveProjectID, timeline.Options{
		DryRun:       a.appCfg.DryRun,
		ValidateOnly: a.appCfg.ValidateOnly,
	})
	if summary != nil {
		encoder := json.NewEncoder(a.outW)
		encoder.SetIndent("", "  ")
		if encodeErr := encoder.Encode(summary); encodeErr != nil {
			return encodeErr
		}
	}
	return err
}

// serve runs the HTTP server until the context is cancelled or a
// termination signal arrives, then shuts down gracefully.
func (a *App) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:        a.cfg.Server.ListenAddr,
		Handler:     a.server.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errChan := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting", "address", a.cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down.", "timeout", a.cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
