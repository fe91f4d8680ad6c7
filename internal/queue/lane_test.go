package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newQueue(t *testing.T, opts ...Option) *LaneQueue {
	t.Helper()
	q := NewLaneQueue(opts...)
	t.Cleanup(q.Close)
	return q
}

// block occupies laneID until the returned release func is called.
func block(t *testing.T, q *LaneQueue, laneID string) (release func(), done <-chan error) {
	t.Helper()
	started, gate := make(chan struct{}), make(chan struct{})
	out := make(chan error, 1)
	go func() {
		out <- q.Do(context.Background(), laneID, func() error {
			close(started)
			<-gate
			return nil
		})
	}()
	<-started
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }, out
}

// =============================================================================
// Do
// =============================================================================

func TestDo_ShouldReturnWorkResult(t *testing.T) {
	q := newQueue(t)
	boom := errors.New("provider down")
	cases := map[string]error{"nil": nil, "error": boom}
	for name, want := range cases {
		t.Run(name, func(t *testing.T) {
			if err := q.Do(context.Background(), "cli", func() error { return want }); err != want {
				t.Errorf("want %v, got %v", want, err)
			}
		})
	}
}

func TestDo_WhenLaneIDEmpty_ShouldRejectWithoutRunning(t *testing.T) {
	q := newQueue(t)
	ran := false
	err := q.Do(context.Background(), "", func() error { ran = true; return nil })
	if !errors.Is(err, ErrEmptyLaneID) || ran {
		t.Errorf("err=%v ran=%v", err, ran)
	}
	if q.LaneCount() != 0 {
		t.Error("no lane should be created")
	}
}

func TestDo_WhenSameLane_ShouldRunOneAtATimeInOrder(t *testing.T) {
	q := newQueue(t)
	release, first := block(t, q, "ws:1")

	var (
		mu     sync.Mutex
		order  []int
		inside atomic.Int32
		peak   atomic.Int32
		wg     sync.WaitGroup
	)
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Do(context.Background(), "ws:1", func() error {
				if n := inside.Add(1); n > peak.Load() {
					peak.Store(n)
				}
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				inside.Add(-1)
				return nil
			})
		}()
		time.Sleep(5 * time.Millisecond)
	}
	release()
	wg.Wait()

	if err := <-first; err != nil {
		t.Fatal(err)
	}
	if peak.Load() != 1 {
		t.Errorf("peak concurrency %d", peak.Load())
	}
	if fmt.Sprint(order) != "[0 1 2 3 4]" {
		t.Errorf("order %v", order)
	}
}

func TestDo_WhenDifferentLanes_ShouldRunConcurrently(t *testing.T) {
	q := newQueue(t)
	release, _ := block(t, q, "ws:1")
	defer release()

	done := make(chan error, 1)
	go func() { done <- q.Do(context.Background(), "ws:2", func() error { return nil }) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("ws:2 waited on ws:1")
	}
	if q.LaneCount() != 2 {
		t.Errorf("lanes: %d", q.LaneCount())
	}
}

func TestDo_WhenContextEnds_ShouldReturnContextError(t *testing.T) {
	t.Run("already cancelled", func(t *testing.T) {
		q := newQueue(t)
		release, _ := block(t, q, "cli")
		defer release()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := q.Do(ctx, "cli", func() error { t.Error("ran"); return nil }); !errors.Is(err, context.Canceled) {
			t.Errorf("got %v", err)
		}
	})
	t.Run("while waiting", func(t *testing.T) {
		q := newQueue(t)
		release, _ := block(t, q, "cli")
		defer release()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := q.Do(ctx, "cli", func() error { t.Error("ran"); return nil }); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("got %v", err)
		}
	})
	t.Run("buffer full", func(t *testing.T) {
		q := newQueue(t, WithCapacity(1))
		release, _ := block(t, q, "cli")
		defer release()
		go func() { _ = q.Do(context.Background(), "cli", func() error { return nil }) }()
		time.Sleep(20 * time.Millisecond)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := q.Do(ctx, "cli", func() error { t.Error("ran"); return nil }); !errors.Is(err, context.Canceled) {
			t.Errorf("got %v", err)
		}
	})
}

func TestDo_WhenWorkPanics_ShouldReportAndKeepLane(t *testing.T) {
	q := newQueue(t)
	if err := q.Do(context.Background(), "cli", func() error { panic("boom") }); err == nil {
		t.Fatal("expected error from panicking work")
	}
	if err := q.Do(context.Background(), "cli", func() error { return nil }); err != nil {
		t.Errorf("lane unusable after panic: %v", err)
	}
}

func TestDo_WhenManyCallers_ShouldRunEveryItem(t *testing.T) {
	q := newQueue(t)
	var total atomic.Int64
	var wg sync.WaitGroup
	for i := range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Do(context.Background(), fmt.Sprintf("ch-%d", i%7), func() error {
				total.Add(1)
				return nil
			})
		}()
	}
	wg.Wait()
	if total.Load() != 200 || q.LaneCount() != 7 {
		t.Errorf("total=%d lanes=%d", total.Load(), q.LaneCount())
	}
}

func TestWithCapacity_WhenNotPositive_ShouldKeepDefault(t *testing.T) {
	q := newQueue(t, WithCapacity(0))
	if q.capacity != DefaultCapacity {
		t.Errorf("capacity %d", q.capacity)
	}
}

// =============================================================================
// Close
// =============================================================================

func TestClose_ShouldRejectNewWork(t *testing.T) {
	q := NewLaneQueue()
	_ = q.Do(context.Background(), "cli", func() error { return nil })
	q.Close()

	err := q.Do(context.Background(), "cli", func() error { t.Error("ran after Close"); return nil })
	if !errors.Is(err, ErrClosed) {
		t.Errorf("want ErrClosed, got %v", err)
	}
	q.Close()
}

func TestClose_ShouldWaitForRunningWorkAndFailQueued(t *testing.T) {
	q := NewLaneQueue()
	release, first := block(t, q, "cli")

	queued := make(chan error, 1)
	go func() { queued <- q.Do(context.Background(), "cli", func() error { return nil }) }()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		q.Close()
		close(closed)
	}()

	if err := <-queued; !errors.Is(err, ErrClosed) {
		t.Errorf("queued work: want ErrClosed, got %v", err)
	}
	select {
	case <-closed:
		t.Fatal("Close returned while work was still running")
	case <-time.After(20 * time.Millisecond):
	}
	release()
	<-closed
	<-first
}
