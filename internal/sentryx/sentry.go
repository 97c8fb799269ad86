package sentryx

import (
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
)

// Options configures error reporting.
type Options struct {
	DSN         string
	Environment string
	Service     string
	Release     string
}

var (
	initOnce sync.Once
	enabled  bool
)

// Init enables Sentry reporting. Without a DSN every capture is a no-op.
func Init(opts Options) error {
	var initErr error
	initOnce.Do(func() {
		if opts.DSN == "" {
			return
		}

		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              opts.DSN,
			Environment:      opts.Environment,
			ServerName:       opts.Service,
			Release:          opts.Release,
			AttachStacktrace: true,
		}); err != nil {
			initErr = fmt.Errorf("sentry init: %w", err)
			return
		}
		enabled = true
	})
	return initErr
}

// Enabled reports whether captures are sent.
func Enabled() bool {
	return enabled
}

func CaptureError(err error, message string, args ...any) {
	if !enabled {
		return
	}
	if err == nil {
		return
	}

	msg := message
	if len(args) > 0 {
		msg = fmt.Sprintf(message, args...)
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		if msg != "" {
			scope.SetTag("log_message", msg)
		}
		sentry.CaptureException(err)
	})
}

func CaptureMessage(level sentry.Level, message string, args ...any) {
	if !enabled {
		return
	}
	if len(args) > 0 {
		message = fmt.Sprintf(message, args...)
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)
		sentry.CaptureMessage(message)
	})
}

func RecoverPanicAndCapture() {
	if !enabled {
		return
	}
	if rec := recover(); rec != nil {
		sentry.CurrentHub().Recover(rec)
		sentry.Flush(2 * time.Second)
		panic(rec)
	}
}

func Flush(timeout time.Duration) {
	if !enabled {
		return
	}
	sentry.Flush(timeout)
}
