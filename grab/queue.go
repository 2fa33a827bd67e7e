package grab

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrQueueClosed is returned by Pop once the queue is closed and empty
var ErrQueueClosed = errors.New("output queue is closed")

// Strategy decides how arriving results populate the output queue
type Strategy int

const (
	// OneByOne keeps every result, delivered in arrival order
	OneByOne Strategy = iota

	// LatestImageOnly keeps a single result; a newer one replaces it
	LatestImageOnly

	// LatestImages keeps the newest OutputQueueSize results
	LatestImages

	// UpcomingImage queues a buffer only when the consumer asks for a result,
	// so the result is always the next frame received after the request
	UpcomingImage
)

func (s Strategy) String() string {
	switch s {
	case OneByOne:
		return "OneByOne"
	case LatestImageOnly:
		return "LatestImageOnly"
	case LatestImages:
		return "LatestImages"
	case UpcomingImage:
		return "UpcomingImage"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy is the inverse of String
func ParseStrategy(s string) (Strategy, error) {
	for _, st := range []Strategy{OneByOne, LatestImageOnly, LatestImages, UpcomingImage} {
		if st.String() == s {
			return st, nil
		}
	}
	return OneByOne, fmt.Errorf("unknown grab strategy %q", s)
}

// QueueCapacity returns the output queue bound for this strategy; 0 means
// unbounded.  LatestImages with a size of 1 behaves as LatestImageOnly, and
// with a size equal to the pool size it behaves as OneByOne, since no more
// results than buffers can exist.
func (s Strategy) QueueCapacity(outputQueueSize int) int {
	switch s {
	case LatestImageOnly:
		return 1
	case LatestImages:
		if outputQueueSize < 1 {
			return 1
		}
		return outputQueueSize
	}
	return 0
}

// Queue is the output queue between the grab engine and the consumer.  When
// bounded and full, Push drops the oldest result, releases it, and counts it
// as skipped; the count is reported on the next result popped.
type Queue struct {
	mu       sync.Mutex
	items    []*Result
	capacity int
	skipped  int    // drops not reported yet
	total    uint64 // lifetime drops
	notify   chan struct{}
	done     chan struct{}
	closed   bool
}

// NewQueue returns a queue bounded to capacity results, or unbounded if capacity is 0
func NewQueue(capacity int) *Queue {
	return &Queue{capacity: capacity, notify: make(chan struct{}, 1), done: make(chan struct{})}
}

// Push appends a result and returns the number of older results dropped to
// make room.  Pushing to a closed queue releases the result immediately.
func (q *Queue) Push(r *Result) int {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		r.Release()
		return 0
	}
	q.items = append(q.items, r)
	dropped := q.trim()
	q.mu.Unlock()
	q.wake()
	release(dropped)
	return len(dropped)
}

// trim drops from the head until the capacity is respected.  q.mu must be held.
func (q *Queue) trim() []*Result {
	if q.capacity <= 0 || len(q.items) <= q.capacity {
		return nil
	}
	n := len(q.items) - q.capacity
	dropped := make([]*Result, n)
	copy(dropped, q.items[:n])
	q.items = append(q.items[:0], q.items[n:]...)
	q.skipped += n
	q.total += uint64(n)
	return dropped
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes the oldest result, waiting until one arrives, the queue is
// closed (ErrQueueClosed), or ctx is done (ctx.Err())
func (q *Queue) Pop(ctx context.Context) (*Result, error) {
	for {
		if r, ok := q.TryPop(); ok {
			return r, nil
		}
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, ErrQueueClosed
		}
		select {
		case <-q.notify:
		case <-q.done:
		case <-ctx.Done():
			// one last look, a result may have raced the deadline
			if r, ok := q.TryPop(); ok {
				return r, nil
			}
			return nil, ctx.Err()
		}
	}
}

// TryPop removes the oldest result if there is one
func (q *Queue) TryPop() (*Result, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	r := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	r.skipped += q.skipped
	q.skipped = 0
	if len(q.items) > 0 {
		q.wake()
	}
	return r, true
}

// Len is the number of results waiting
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity returns the current bound, 0 for unbounded
func (q *Queue) Capacity() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity
}

// SetCapacity changes the bound.  Shrinking below the number of waiting
// results drops the oldest ones as skipped.  The number dropped is returned.
func (q *Queue) SetCapacity(n int) int {
	q.mu.Lock()
	q.capacity = n
	dropped := q.trim()
	q.mu.Unlock()
	release(dropped)
	return len(dropped)
}

// Flush drops every waiting result as skipped and returns how many there were
func (q *Queue) Flush() int {
	q.mu.Lock()
	dropped := q.items
	q.items = nil
	q.skipped += len(dropped)
	q.total += uint64(len(dropped))
	q.mu.Unlock()
	release(dropped)
	return len(dropped)
}

// Skipped is the lifetime count of dropped results
func (q *Queue) Skipped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.total
}

// Close wakes every waiter and releases the results still waiting.
// Results pushed afterwards are released on arrival.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	items := q.items
	q.items = nil
	close(q.done)
	q.mu.Unlock()
	release(items)
}

// Closed reports whether Close has been called
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func release(rs []*Result) {
	for _, r := range rs {
		r.Release()
	}
}
