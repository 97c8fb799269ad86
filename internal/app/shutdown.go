package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"file-server-go/internal/sentryx"
)

const (
	ReadTimeout   = 30 * time.Second
	IdleTimeout   = 120 * time.Second
	PruneInterval = time.Minute

	// WriteTimeout is unset: downloads and event streams have no fixed end.
	WriteTimeout = 0
)

// Handler returns the routed handler wrapped in panic recovery and starts
// background maintenance.
func (a *ServerApp) Handler() (http.Handler, error) {
	router, err := a.Router()
	if err != nil {
		return nil, err
	}
	go a.pruneLoop()
	return a.withPanicRecovery(router), nil
}

// Run starts serving HTTP traffic and handles graceful shutdown.
func (a *ServerApp) Run() error {
	handler, err := a.Handler()
	if err != nil {
		a.cleanup()
		return err
	}

	addr := fmt.Sprintf(":%d", a.Config.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  ReadTimeout,
		WriteTimeout: WriteTimeout,
		IdleTimeout:  IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		a.Logger.Info("File server starting on http://localhost%s", addr)
		if listenErr := server.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			serverErr <- listenErr
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case runErr = <-serverErr:
		a.Logger.Error("Server error: %v", runErr)
		sentryx.CaptureError(runErr, "server listen error")
	case sig := <-quit:
		a.Logger.Info("Received signal %v, initiating graceful shutdown...", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
	defer cancel()

	a.Logger.Info("Closing event streams...")
	a.Hub.Shutdown(ctx)

	a.Logger.Info("Shutting down HTTP server...")
	if shutdownErr := server.Shutdown(ctx); shutdownErr != nil {
		a.Logger.Error("Server shutdown error: %v", shutdownErr)
		sentryx.CaptureError(shutdownErr, "server shutdown error")
		if runErr == nil {
			runErr = shutdownErr
		}
	}

	a.cleanup()
	if runErr == nil {
		a.Logger.Info("Server stopped gracefully")
	}
	return runErr
}

func (a *ServerApp) pruneLoop() {
	ticker := time.NewTicker(PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := a.APILimiter.Prune(); n > 0 {
				a.Logger.Debug("Pruned %d idle rate limit buckets", n)
			}
		case <-a.stopPrune:
			return
		}
	}
}

func (a *ServerApp) withPanicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				a.Logger.Error("panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				sentryx.CaptureMessage(
					sentry.LevelFatal,
					"http panic method=%s path=%s panic=%v stack=%s",
					r.Method,
					r.URL.Path,
					rec,
					string(debug.Stack()),
				)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Close releases every resource without serving. Safe to call more than once.
func (a *ServerApp) Close() {
	a.cleanup()
}

func (a *ServerApp) cleanup() {
	if a == nil {
		return
	}
	a.closeOnce.Do(func() {
		close(a.stopPrune)
		if a.Limiter != nil {
			a.Limiter.Stop()
		}
		if a.Sessions != nil {
			a.Sessions.Stop()
		}
		if a.Identities != nil {
			if err := a.Identities.Close(); err != nil {
				a.Logger.Error("Close identity store: %v", err)
			}
		}
		sentryx.Flush(2 * time.Second)
	})
}
