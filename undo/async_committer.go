package undo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrCommitQueueFull is returned by Submit when the queue is at capacity.
	ErrCommitQueueFull = errors.New("async commit queue is full")
	// ErrCommitterClosed is returned by Submit after Close.
	ErrCommitterClosed = errors.New("async committer is closed")
)

// BatchDeleter is the part of Manager the committer drives.
type BatchDeleter interface {
	BatchDeleteUndoLogs(ctx context.Context, xids []string, branchIDs []int64) (int64, error)
}

type commitRequest struct {
	xid      string
	branchID int64
	done     chan error
}

// AsyncCommitter deletes the undo logs of globally committed branches in the
// background. Requests are grouped into one batch delete when batchSize of
// them are queued or flushInterval elapses, whichever comes first. A failed
// batch leaves its rows for the retention purge.
type AsyncCommitter struct {
	deleter       BatchDeleter
	queue         chan *commitRequest
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger

	mu        sync.RWMutex
	closed    bool
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewAsyncCommitter starts the committer goroutine.
func NewAsyncCommitter(deleter BatchDeleter, queueSize, batchSize int, flushInterval time.Duration, logger *slog.Logger) (*AsyncCommitter, error) {
	if deleter == nil {
		return nil, errors.New("async committer requires a batch deleter")
	}
	if queueSize <= 0 || batchSize <= 0 || flushInterval <= 0 {
		return nil, errors.New("queue size, batch size and flush interval must be positive")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &AsyncCommitter{
		deleter:       deleter,
		queue:         make(chan *commitRequest, queueSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger.With("component", "AsyncCommitter"),
		stop:          make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run()
	return c, nil
}

// Submit queues the branch for deletion without blocking. The returned
// channel receives the result of the batch that carried it.
func (c *AsyncCommitter) Submit(xid string, branchID int64) (<-chan error, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrCommitterClosed
	}
	req := &commitRequest{xid: xid, branchID: branchID, done: make(chan error, 1)}
	select {
	case c.queue <- req:
		return req.done, nil
	default:
		c.logger.Warn("Async commit queue full, branch rejected", "xid", xid, "branch_id", branchID)
		return nil, ErrCommitQueueFull
	}
}

// Commit submits the branch and waits for its batch.
func (c *AsyncCommitter) Commit(ctx context.Context, xid string, branchID int64) error {
	done, err := c.Submit(xid, branchID)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting requests, deletes everything already queued and waits
// for the committer goroutine to exit.
func (c *AsyncCommitter) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.stop)
	})
	c.wg.Wait()
	return nil
}

func (c *AsyncCommitter) run() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	batch := make([]*commitRequest, 0, c.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		c.commit(batch)
		batch = make([]*commitRequest, 0, c.batchSize)
	}

	for {
		select {
		case req := <-c.queue:
			batch = append(batch, req)
			if len(batch) >= c.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-c.stop:
			for {
				select {
				case req := <-c.queue:
					batch = append(batch, req)
					if len(batch) >= c.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// commit deletes one batch and reports the result to every waiter in it.
func (c *AsyncCommitter) commit(records []*commitRequest) {
	xids := make([]string, 0, len(records))
	branchIDs := make([]int64, 0, len(records))
	seenXID := make(map[string]struct{}, len(records))
	seenBranch := make(map[int64]struct{}, len(records))
	for _, rec := range records {
		if _, ok := seenXID[rec.xid]; !ok {
			seenXID[rec.xid] = struct{}{}
			xids = append(xids, rec.xid)
		}
		if _, ok := seenBranch[rec.branchID]; !ok {
			seenBranch[rec.branchID] = struct{}{}
			branchIDs = append(branchIDs, rec.branchID)
		}
	}

	deleted, err := c.deleter.BatchDeleteUndoLogs(context.Background(), xids, branchIDs)
	if err != nil {
		c.logger.Error("Async undo log delete failed", "branches", len(records), "error", err)
	} else {
		c.logger.Debug("Async undo log delete", "branches", len(records), "deleted", deleted)
	}
	for _, rec := range records {
		rec.done <- err
	}
}
