//go:build !unix

package gateways

import (
	"context"

	"go.uber.org/zap"
)

// HandleReloadSignal is a no-op without SIGUSR1; use the file watch instead.
func HandleReloadSignal(ctx context.Context, path string, set *Set, logger *zap.Logger) {
	logger.Named("gateways").Warn("reload signal not supported on this platform", zap.String("path", path))
}
