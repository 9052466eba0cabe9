package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"voicecall-server/pkg/errors"
)

// Processor handles a single job payload
type Processor[T any] func(ctx context.Context, payload T) (interface{}, error)

// outcome carries a job's individual result back to its submitter
type outcome struct {
	value interface{}
	err   error
}

// job is one unit of pending work
type job[T any] struct {
	id         string
	payload    T
	priority   int
	enqueuedAt time.Time
	ctx        context.Context
	result     chan outcome
}

// Queue is a priority-ordered, concurrency-bounded work queue. Pending
// jobs are drained in batches of at most `concurrency`; a batch runs
// concurrently and completes in full before the next batch starts.
// Every submission receives its own result, including submissions that
// shared a batch.
type Queue[T any] struct {
	processor   Processor[T]
	concurrency int
	logger      *logrus.Logger

	mu       sync.Mutex
	pending  []*job[T]
	draining bool
	closed   bool
}

// New creates a queue that runs processor over submitted payloads
func New[T any](processor Processor[T], concurrency int, logger *logrus.Logger) *Queue[T] {
	if concurrency < 1 {
		concurrency = 1
	}

	return &Queue[T]{
		processor:   processor,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Submit enqueues a job and blocks until its result is available, the
// queue is cleared, or ctx is done. A higher priority drains first; equal
// priorities keep arrival order. A ctx expiry abandons the wait but does
// not cancel the job once its batch has started.
func (q *Queue[T]) Submit(ctx context.Context, id string, payload T, priority int) (interface{}, error) {
	j := &job[T]{
		id:         id,
		payload:    payload,
		priority:   priority,
		enqueuedAt: time.Now(),
		ctx:        ctx,
		result:     make(chan outcome, 1),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, errors.Wrap(errors.ErrQueueClosed, "submit rejected").WithField("job_id", id)
	}

	q.pending = append(q.pending, j)
	// Stable sort keeps arrival order for equal priorities.
	sort.SliceStable(q.pending, func(a, b int) bool {
		return q.pending[a].priority > q.pending[b].priority
	})

	start := !q.draining
	if start {
		q.draining = true
	}
	q.mu.Unlock()

	q.logger.WithFields(logrus.Fields{
		"job_id":   id,
		"priority": priority,
	}).Debug("Job enqueued")

	if start {
		go q.drain()
	}

	select {
	case out := <-j.result:
		return out.value, out.err
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "abandoned wait for job result").WithField("job_id", id)
	}
}

// drain pulls batches off the pending list until it is empty. Only one
// drain loop runs at a time.
func (q *Queue[T]) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}

		n := q.concurrency
		if n > len(q.pending) {
			n = len(q.pending)
		}
		batch := make([]*job[T], n)
		copy(batch, q.pending[:n])
		q.pending = append(q.pending[:0], q.pending[n:]...)
		q.mu.Unlock()

		var wg sync.WaitGroup
		for _, j := range batch {
			wg.Add(1)
			go func(j *job[T]) {
				defer wg.Done()
				q.run(j)
			}(j)
		}
		wg.Wait()
	}
}

// run executes one job and delivers its outcome. A panic in the
// processor is converted to a job error so sibling jobs keep running.
func (q *Queue[T]) run(j *job[T]) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.WithFields(logrus.Fields{
				"job_id": j.id,
				"panic":  r,
			}).Error("Job processor panicked")
			j.result <- outcome{err: errors.Wrap(errors.ErrInternalError,
				fmt.Sprintf("job processor panicked: %v", r)).WithField("job_id", j.id)}
		}
	}()

	value, err := q.processor(j.ctx, j.payload)
	if err != nil {
		q.logger.WithFields(logrus.Fields{
			"job_id":  j.id,
			"wait_ms": time.Since(j.enqueuedAt).Milliseconds(),
		}).WithError(err).Warn("Job failed")
	}

	j.result <- outcome{value: value, err: err}
}

// Len returns the number of jobs waiting to be drained
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending)
}

// Clear drops all pending jobs. Their submitters receive ErrQueueCleared.
// Jobs already running are unaffected.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	dropped := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, j := range dropped {
		j.result <- outcome{err: errors.Wrap(errors.ErrQueueCleared, "job dropped").WithField("job_id", j.id)}
	}

	if len(dropped) > 0 {
		q.logger.WithField("dropped", len(dropped)).Info("Cleared pending jobs")
	}
}

// Close rejects further submissions and clears the pending list
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.Clear()
}
