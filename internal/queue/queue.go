// Package queue serializes access-tag mutations. The chat platform enforces
// per-route rate limits on tag changes, so every mutation goes through one
// FIFO backlog drained by a single worker with a fixed pause between
// operations. Congestion control is spacing, not retry: a failed operation
// is logged and the worker moves on.
package queue

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind labels a mutation for logging.
type Kind string

const (
	KindAddTag    Kind = "add_tag"
	KindRemoveTag Kind = "remove_tag"
)

// Operation is one queued unit of work. Run carries the whole side-effect
// chain for the mutation (tag change, settle wait, audit emission).
type Operation struct {
	ID     string
	UserID int64
	Kind   Kind
	Reason string
	Run    func(ctx context.Context) error
}

// Queue is an unbounded FIFO with exactly one consumer. The backlog lives
// only in memory: queued-but-unexecuted operations are dropped at process
// shutdown, which is acceptable because the tag state on the platform is
// the source of truth.
type Queue struct {
	mu      sync.Mutex
	backlog []Operation
	busy    bool
	kick    chan struct{}
	delay   func() time.Duration
}

// New creates a queue. delay is read before each inter-operation pause so a
// config change takes effect without a restart.
func New(delay func() time.Duration) *Queue {
	if delay == nil {
		delay = func() time.Duration { return 800 * time.Millisecond }
	}
	return &Queue{kick: make(chan struct{}, 1), delay: delay}
}

// Enqueue appends an operation and returns its assigned id. Never blocks.
func (q *Queue) Enqueue(op Operation) string {
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	q.mu.Lock()
	q.backlog = append(q.backlog, op)
	q.mu.Unlock()

	select {
	case q.kick <- struct{}{}:
	default:
	}
	return op.ID
}

// Pending returns the number of operations not yet completed, including any
// in-flight one.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.backlog)
	if q.busy {
		n++
	}
	return n
}

// Idle reports whether the backlog is empty and no operation is in flight.
func (q *Queue) Idle() bool {
	return q.Pending() == 0
}

// Run drains the queue until ctx is cancelled. It is the only consumer and
// must be started exactly once. An in-flight operation completes before
// shutdown; the remaining backlog is dropped.
func (q *Queue) Run(ctx context.Context) {
	log.Printf("[Queue] Worker started")
	for {
		op, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				q.logDrop()
				return
			case <-q.kick:
				continue
			}
		}

		q.execute(ctx, op)
		q.setBusy(false)

		select {
		case <-ctx.Done():
			q.logDrop()
			return
		case <-time.After(q.delay()):
		}
	}
}

func (q *Queue) pop() (Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.backlog) == 0 {
		return Operation{}, false
	}
	op := q.backlog[0]
	q.backlog = q.backlog[1:]
	q.busy = true
	return op, true
}

func (q *Queue) setBusy(b bool) {
	q.mu.Lock()
	q.busy = b
	q.mu.Unlock()
}

// execute runs one operation. No operation is allowed to take down the
// worker: errors are logged, panics are recovered, and there is no retry.
func (q *Queue) execute(ctx context.Context, op Operation) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Queue] Operation %s (%s, user %d) panicked: %v", op.ID, op.Kind, op.UserID, r)
		}
	}()
	if op.Run == nil {
		return
	}
	if err := op.Run(ctx); err != nil {
		log.Printf("[Queue] Operation %s (%s, user %d) failed: %v", op.ID, op.Kind, op.UserID, err)
	}
}

func (q *Queue) logDrop() {
	q.mu.Lock()
	n := len(q.backlog)
	q.mu.Unlock()
	if n > 0 {
		log.Printf("[Queue] Shutting down, dropping %d queued operations", n)
	} else {
		log.Printf("[Queue] Shutting down")
	}
}
