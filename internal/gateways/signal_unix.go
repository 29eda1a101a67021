//go:build unix

package gateways

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// HandleReloadSignal reloads set from path every time the process receives
// SIGUSR1, until ctx is done.
func HandleReloadSignal(ctx context.Context, path string, set *Set, logger *zap.Logger) {
	logger = logger.Named("gateways")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1)
	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigCh:
				logger.Info("received SIGUSR1, reloading gateway IDs", zap.String("path", path))
				reload(path, set, logger, "SIGUSR1")
			}
		}
	}()
	logger.Info("started signal handler, send SIGUSR1 to reload list of gateways")
}
