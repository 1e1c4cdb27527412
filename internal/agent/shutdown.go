package agent

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"
)

var shutdownFlag atomic.Bool

// IsShuttingDown reports whether a shutdown signal has been observed.
func IsShuttingDown() bool { return shutdownFlag.Load() }

// RequestShutdown flips the process-wide shutdown flag. Exposed for tests
// and for callers that want to trigger a cooperative shutdown
// programmatically in addition to signal delivery.
func RequestShutdown() { shutdownFlag.Store(true) }

// WatchSignals registers SIGTERM/SIGINT handlers that flip the shutdown
// flag and cancel cancel() once observed. A monitor goroutine polls the
// flag every 100ms, following the signal-to-cancellation bridge described
// in spec §4.4. It returns a stop function that unregisters the handlers.
func WatchSignals(ctx context.Context, cancel context.CancelFunc) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	monitorCtx, monitorCancel := context.WithCancel(ctx)

	go func() {
		select {
		case <-sigCh:
			shutdownFlag.Store(true)
		case <-monitorCtx.Done():
			return
		}
	}()

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if shutdownFlag.Load() {
					cancel()
					return
				}
			case <-monitorCtx.Done():
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		monitorCancel()
	}
}
