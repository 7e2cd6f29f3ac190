package dispatch

import "sync"

// fifo is an unbounded queue with a blocking pop. Producers never block and
// never drop (enqueue-side backpressure is a non-goal: the host fires
// notifications and moves on). close wakes any blocked pop; items still
// queued at close time are discarded, matching the fire-and-forget contract.
type fifo struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Item
	closed bool
}

func newFIFO() *fifo {
	q := &fifo{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends an item and reports the resulting depth.
// It returns false without queuing when the queue is closed.
func (q *fifo) push(it Item) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return len(q.items), false
	}
	q.items = append(q.items, it)
	q.cond.Signal()
	return len(q.items), true
}

// pop blocks until an item is available or the queue is closed.
// A closed queue returns ok=false even if items remain.
func (q *fifo) pop() (Item, int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return Item{}, len(q.items), false
	}
	it := q.items[0]
	q.items = q.items[1:]
	return it, len(q.items), true
}

func (q *fifo) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *fifo) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
