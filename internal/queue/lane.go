// Package queue serializes work per lane. The router gives every channel its
// own lane so turns of one conversation never overlap.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrEmptyLaneID = errors.New("queue: lane ID must not be empty")
	ErrClosed      = errors.New("queue: closed")
)

// DefaultCapacity is how many submissions a lane buffers before Do blocks.
const DefaultCapacity = 4096

type task struct {
	ctx    context.Context
	fn     func() error
	result chan error
}

// lane owns one worker goroutine that drains tasks in submission order.
type lane struct {
	tasks chan task
	quit  chan struct{}
}

func (l *lane) serve(wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-l.quit:
			return
		case t := <-l.tasks:
			if l.stopped() {
				t.result <- ErrClosed
				return
			}
			if err := t.ctx.Err(); err != nil {
				t.result <- err
				continue
			}
			t.result <- call(t.fn)
		}
	}
}

func (l *lane) stopped() bool {
	select {
	case <-l.quit:
		return true
	default:
		return false
	}
}

// call turns a panic in fn into an error so one bad turn cannot kill the lane.
func call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue: panic: %v", r)
		}
	}()
	return fn()
}

// Option configures a LaneQueue.
type Option func(*LaneQueue)

// WithCapacity sets the per-lane buffer. Values below 1 are ignored.
func WithCapacity(n int) Option {
	return func(q *LaneQueue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// LaneQueue runs work serially within a lane and concurrently across lanes.
// Lanes are created on first use.
type LaneQueue struct {
	capacity int

	mu      sync.Mutex
	lanes   map[string]*lane
	closed  bool
	workers sync.WaitGroup
}

func NewLaneQueue(opts ...Option) *LaneQueue {
	q := &LaneQueue{capacity: DefaultCapacity, lanes: make(map[string]*lane)}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Do submits fn to laneID and waits for its result. It returns early with
// ctx's error if ctx ends first, and with ErrClosed once Close is called.
// Work whose ctx ended while queued is skipped.
func (q *LaneQueue) Do(ctx context.Context, laneID string, fn func() error) error {
	if laneID == "" {
		return ErrEmptyLaneID
	}
	l, err := q.lane(laneID)
	if err != nil {
		return err
	}
	t := task{ctx: ctx, fn: fn, result: make(chan error, 1)}

	select {
	case l.tasks <- t:
	case <-l.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-t.result:
		return err
	case <-l.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *LaneQueue) lane(id string) (*lane, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	if l, ok := q.lanes[id]; ok {
		return l, nil
	}
	l := &lane{tasks: make(chan task, q.capacity), quit: make(chan struct{})}
	q.lanes[id] = l
	q.workers.Add(1)
	go l.serve(&q.workers)
	return l, nil
}

// LaneCount reports how many lanes have been created.
func (q *LaneQueue) LaneCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}

// Close stops every lane and waits for running work to return. Queued work
// that has not started fails with ErrClosed. Close is idempotent.
func (q *LaneQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		for _, l := range q.lanes {
			close(l.quit)
		}
	}
	q.mu.Unlock()
	q.workers.Wait()
}
