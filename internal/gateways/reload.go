package gateways

import (
	"go.uber.org/zap"
)

// reload swaps in the file contents and reports the outcome. A failed reload
// keeps the previous set.
func reload(path string, set *Set, logger *zap.Logger, trigger string) {
	before := set.Len()
	n, err := set.Reload(path)
	if err != nil {
		logger.Error("unable to reload gateway IDs, keeping previous set",
			zap.String("path", path), zap.String("trigger", trigger), zap.Int("current", before), zap.Error(err))
		return
	}
	logger.Info("reloaded gateway IDs",
		zap.String("path", path), zap.String("trigger", trigger), zap.Int("previous", before), zap.Int("current", n))
}
