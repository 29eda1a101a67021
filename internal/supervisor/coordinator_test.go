package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type blockingTask struct {
	name    string
	exited  atomic.Bool
	started chan struct{}
}

func newBlockingTask(name string) *blockingTask {
	return &blockingTask{name: name, started: make(chan struct{})}
}

func (b *blockingTask) Run(ctx context.Context) error {
	close(b.started)
	<-ctx.Done()
	b.exited.Store(true)
	return nil
}

func (b *blockingTask) String() string { return b.name }

type funcTask func(ctx context.Context) error

func (f funcTask) Run(ctx context.Context) error { return f(ctx) }
func (f funcTask) String() string                { return "func" }

func newTestCoordinator() *Coordinator {
	c := NewCoordinator(zap.NewNop())
	c.Signals = nil
	return c
}

func runCoordinator(t *testing.T, ctx context.Context, c *Coordinator, tasks []Task) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, tasks) }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not return")
		return nil
	}
}

func TestCoordinatorStopsOnCancel(t *testing.T) {
	a, b := newBlockingTask("a"), newBlockingTask("b")
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-a.started
		<-b.started
		cancel()
	}()

	require.NoError(t, runCoordinator(t, ctx, newTestCoordinator(), []Task{a, b}))
	assert.True(t, a.exited.Load())
	assert.True(t, b.exited.Load())
}

func TestCoordinatorStopsOnUnexpectedExit(t *testing.T) {
	a := newBlockingTask("a")
	quitter := funcTask(func(ctx context.Context) error { return nil })

	err := runCoordinator(t, context.Background(), newTestCoordinator(), []Task{a, quitter})
	require.ErrorIs(t, err, ErrUnexpectedExit)
	assert.True(t, a.exited.Load())
}

func TestCoordinatorKeepsTaskError(t *testing.T) {
	boom := errors.New("boom")
	a := newBlockingTask("a")
	failing := funcTask(func(ctx context.Context) error { return boom })

	err := runCoordinator(t, context.Background(), newTestCoordinator(), []Task{a, failing})
	require.ErrorIs(t, err, ErrUnexpectedExit)
	require.ErrorIs(t, err, boom)
	assert.True(t, a.exited.Load())
}

func TestCoordinatorRecoversPanics(t *testing.T) {
	a := newBlockingTask("a")
	panicking := funcTask(func(ctx context.Context) error { panic("bad state") })

	err := runCoordinator(t, context.Background(), newTestCoordinator(), []Task{a, panicking})
	require.ErrorIs(t, err, ErrUnexpectedExit)
	assert.Contains(t, err.Error(), "bad state")
	assert.True(t, a.exited.Load())
}

func TestCoordinatorStopsSupervisors(t *testing.T) {
	broker := &fakeBroker{}
	var tasks []Task
	var sups []*Supervisor
	for _, m := range []string{"a", "b", "c"} {
		s := New(Source{BrokerAddress: "amqp://localhost", Monitor: m}, Deps{
			Subscribe:  broker.subscribe,
			Dispatcher: &fakeDispatcher{},
			Backoff:    time.Hour,
			Logger:     zap.NewNop(),
		})
		sups = append(sups, s)
		tasks = append(tasks, s)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for broker.callCount() < 3 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	require.NoError(t, runCoordinator(t, ctx, newTestCoordinator(), tasks))
	for _, s := range sups {
		assert.Equal(t, int64(1), s.Iterations())
	}
}
