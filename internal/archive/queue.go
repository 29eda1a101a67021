package archive

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// UploadTimeout bounds the upload of one disk log.
const UploadTimeout = 2 * time.Minute

// DrainTimeout bounds how long shutdown waits for queued uploads.
const DrainTimeout = 10 * time.Second

// Uploader stores one file.
type Uploader interface {
	Upload(ctx context.Context, path string) error
}

// Queue uploads finalized disk logs in the background, one at a time, in
// submission order. Files that are not uploaded stay on disk.
type Queue struct {
	uploader Uploader
	logger   *zap.Logger
	paths    chan string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewQueue starts a queue holding up to size pending files.
func NewQueue(u Uploader, size int, logger *zap.Logger) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		uploader: u,
		logger:   logger.Named("archive"),
		paths:    make(chan string, size),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go q.loop()
	return q
}

// Submit enqueues path without waiting. If the queue is full or shut down the
// file is left unarchived.
func (q *Queue) Submit(path string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("archive queue closed, leaving disk log unarchived", zap.String("path", path))
		return
	}
	select {
	case q.paths <- path:
	default:
		q.logger.Warn("archive queue full, leaving disk log unarchived", zap.String("path", path))
	}
}

func (q *Queue) loop() {
	defer close(q.done)
	for path := range q.paths {
		if q.ctx.Err() != nil {
			q.logger.Warn("shutdown deadline passed, leaving disk log unarchived", zap.String("path", path))
			continue
		}
		ctx, cancel := context.WithTimeout(q.ctx, UploadTimeout)
		err := q.uploader.Upload(ctx, path)
		cancel()
		if err != nil {
			q.logger.Error("unable to archive disk log", zap.String("path", path), zap.Error(err))
		}
	}
}

// Shutdown stops accepting files and waits for the queued ones. When ctx ends
// first, the running upload is cancelled, the rest are skipped and ctx's
// error is returned.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.paths)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.done
		return ctx.Err()
	}
}
