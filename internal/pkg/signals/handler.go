package signals

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/endorses/fpengine/internal/pkg/constants"
	"github.com/endorses/fpengine/internal/pkg/logger"
)

// SetupHandler cancels the provided context on SIGINT or SIGTERM.
// Returns a cleanup function that should be called when the signal handler is no longer needed
func SetupHandler(ctx context.Context, cancel context.CancelFunc) (cleanup func()) {
	sigCh := make(chan os.Signal, constants.SignalChannelBuffer)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case sig, ok := <-sigCh:
			if !ok {
				return
			}
			logger.Info("Received signal, initiating shutdown", "signal", sig.String())
			cancel()
		case <-ctx.Done():
			// Context already cancelled, clean up
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(sigCh)
		<-done
	}
}

// OnHangup calls onHangup for every SIGHUP until ctx is done or cleanup runs.
// SIGHUP requests a reload of the fingerprint set and never stops the process.
func OnHangup(ctx context.Context, onHangup func()) (cleanup func()) {
	sigCh := make(chan os.Signal, constants.SignalChannelBuffer)
	signal.Notify(sigCh, syscall.SIGHUP)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case _, ok := <-sigCh:
				if !ok {
					return
				}
				logger.Info("Received SIGHUP, reloading fingerprints")
				onHangup()
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(sigCh)
		<-done
	}
}
