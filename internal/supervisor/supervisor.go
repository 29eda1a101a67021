// Package supervisor keeps one subscription per monitor alive and coordinates
// process shutdown.
package supervisor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mrd0ll4r/ipfs-tools/internal/disklog"
	"github.com/mrd0ll4r/ipfs-tools/internal/dispatch"
	"github.com/mrd0ll4r/ipfs-tools/internal/monitoring"
)

// DefaultBackoff is the pause between two connection attempts.
const DefaultBackoff = time.Second

// Source identifies one monitor on one broker.
type Source struct {
	BrokerAddress string
	Monitor       string
}

func (s Source) String() string {
	return fmt.Sprintf("%s@%s", s.Monitor, s.BrokerAddress)
}

// Stream delivers event batches until it fails or is closed.
type Stream interface {
	Next(ctx context.Context) ([]monitoring.Event, error)
	Close() error
}

// SubscribeFunc opens a stream for keys on the broker at address.
type SubscribeFunc func(ctx context.Context, address string, keys []monitoring.RoutingKey) (Stream, error)

// Dispatcher consumes event batches.
type Dispatcher interface {
	Dispatch(events []monitoring.Event, el dispatch.EventLogger) error
}

// Scope is a disk log scope, open for exactly one connection.
type Scope interface {
	dispatch.EventLogger
	Path() string
	Close() error
}

// OpenScopeFunc opens a disk log scope for monitor under dir.
type OpenScopeFunc func(dir, monitor string) (Scope, error)

// Archiver takes finalized disk logs for upload. Submit must not block on
// the upload itself.
type Archiver interface {
	Submit(path string)
}

// Deps are the collaborators of a Supervisor.
type Deps struct {
	Subscribe  SubscribeFunc
	Dispatcher Dispatcher
	// DiskLogDir enables disk logging when non-empty.
	DiskLogDir string
	OpenScope  OpenScopeFunc
	Archive    Archiver
	Backoff    time.Duration
	Logger     *zap.Logger
}

// Supervisor runs the subscribe/receive/dispatch cycle for one Source until
// its context is cancelled.
type Supervisor struct {
	source     Source
	keys       []monitoring.RoutingKey
	deps       Deps
	logger     *zap.Logger
	iterations atomic.Int64
	events     atomic.Int64
}

// New creates a supervisor. Zero values in deps fall back to defaults.
func New(source Source, deps Deps) *Supervisor {
	if deps.Backoff <= 0 {
		deps.Backoff = DefaultBackoff
	}
	if deps.OpenScope == nil {
		deps.OpenScope = openDiskLog
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Supervisor{
		source: source,
		keys:   monitoring.RoutingKeysFor(source.Monitor),
		deps:   deps,
		logger: deps.Logger.Named("supervisor").With(
			zap.String("amqp_server", source.BrokerAddress),
			zap.String("monitor", source.Monitor)),
	}
}

func openDiskLog(dir, monitor string) (Scope, error) {
	l, err := disklog.Open(dir, monitor)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (s *Supervisor) String() string { return s.source.String() }

// Source returns the source the supervisor is bound to.
func (s *Supervisor) Source() Source { return s.source }

// Iterations returns the number of connection cycles started so far.
func (s *Supervisor) Iterations() int64 { return s.iterations.Load() }

// Events returns the number of events received so far.
func (s *Supervisor) Events() int64 { return s.events.Load() }

// Run loops until ctx is done and then returns nil. Upstream failures never
// end the loop; they are logged and retried after the backoff.
func (s *Supervisor) Run(ctx context.Context) error {
	timer := time.NewTimer(s.deps.Backoff)
	timer.Stop()
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			s.logger.Info("shutting down")
			return nil
		}

		s.iterations.Add(1)
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			if err != nil {
				s.logger.Debug("connection ended during shutdown", zap.Error(err))
			}
			s.logger.Info("shutting down")
			return nil
		}
		if err != nil {
			s.logger.Error("connection failed", zap.Error(err))
		} else {
			s.logger.Warn("connection ended")
		}

		s.logger.Info("sleeping before reconnect", zap.Duration("backoff", s.deps.Backoff))
		timer.Reset(s.deps.Backoff)
		select {
		case <-ctx.Done():
			s.logger.Info("shutting down")
			return nil
		case <-timer.C:
		}
	}
}

// runOnce is one connection cycle. A disk log scope opened here is closed on
// every return path.
func (s *Supervisor) runOnce(ctx context.Context) error {
	s.logger.Info("connecting", zap.Stringers("routing_keys", s.keys))
	stream, err := s.deps.Subscribe(ctx, s.source.BrokerAddress, s.keys)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			s.logger.Debug("close subscription", zap.Error(err))
		}
	}()
	s.logger.Info("subscribed, receiving events")

	var el dispatch.EventLogger
	if s.deps.DiskLogDir != "" {
		scope, err := s.deps.OpenScope(s.deps.DiskLogDir, s.source.Monitor)
		if err != nil {
			return fmt.Errorf("set up disk logging: %w", err)
		}
		s.logger.Info("logging events to disk", zap.String("path", scope.Path()))
		defer s.finalize(scope)
		el = scope
	}

	for {
		events, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		s.events.Add(int64(len(events)))
		if err := s.deps.Dispatcher.Dispatch(events, el); err != nil {
			return fmt.Errorf("dispatch: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *Supervisor) finalize(scope Scope) {
	s.logger.Info("finalizing disk log", zap.String("path", scope.Path()))
	if err := scope.Close(); err != nil {
		s.logger.Error("unable to finalize disk log", zap.String("path", scope.Path()), zap.Error(err))
		return
	}
	if s.deps.Archive == nil {
		return
	}
	s.deps.Archive.Submit(scope.Path())
}
