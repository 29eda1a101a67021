package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrUnexpectedExit is returned by Coordinator.Run when a task returned or
// panicked before shutdown was requested.
var ErrUnexpectedExit = errors.New("task exited unexpectedly")

// Task is a long-running unit of work that returns once its context is done.
type Task interface {
	Run(ctx context.Context) error
	String() string
}

// Coordinator runs tasks until the first of: a shutdown signal, the parent
// context ending, or any task exiting on its own.
type Coordinator struct {
	Signals []os.Signal
	logger  *zap.Logger
}

// NewCoordinator returns a coordinator that stops on SIGINT and SIGTERM.
func NewCoordinator(logger *zap.Logger) *Coordinator {
	return &Coordinator{
		Signals: []os.Signal{os.Interrupt, syscall.SIGTERM},
		logger:  logger.Named("coordinator"),
	}
}

// Run starts every task and waits for all of them to return. The returned
// error is nil for a requested shutdown and wraps ErrUnexpectedExit if a
// task ended the run.
func (c *Coordinator) Run(ctx context.Context, tasks []Task) error {
	if len(c.Signals) > 0 {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, c.Signals...)
		defer stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("task panicked", zap.Stringer("task", task), zap.Any("panic", r))
					err = fmt.Errorf("%w: %s panicked: %v", ErrUnexpectedExit, task, r)
				}
			}()
			err = task.Run(gctx)
			if gctx.Err() == nil {
				c.logger.Error("task exited unexpectedly, shutting down", zap.Stringer("task", task), zap.Error(err))
				if err == nil {
					return fmt.Errorf("%w: %s", ErrUnexpectedExit, task)
				}
				return fmt.Errorf("%w: %s: %w", ErrUnexpectedExit, task, err)
			}
			return nil
		})
	}
	c.logger.Info("started tasks", zap.Int("count", len(tasks)))

	err := g.Wait()
	if ctx.Err() != nil {
		c.logger.Info("shutdown requested")
	}
	c.logger.Info("all tasks exited")
	return err
}
