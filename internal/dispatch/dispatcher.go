// Package dispatch owns the rate-limited delivery path: an unbounded FIFO
// queue drained by a single background worker, and the shared Sender used by
// both the queued and synchronous paths.
package dispatch

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"qqbridge/internal/metrics"
	"qqbridge/pkg/logx"
)

// Dispatcher runs the queued delivery loop. Exactly one worker drains the
// queue; lastSend is owned by that worker and nothing else touches it.
//
// Lifecycle: Start is idempotent and may be called again after Shutdown.
// Shutdown stops intake and wakes the worker; the item being processed at
// that moment is allowed to finish, anything still queued is discarded.
type Dispatcher struct {
	log     logx.Logger
	sender  *Sender
	metrics *metrics.Metrics

	// Injectable time for tests.
	now   func() time.Time
	sleep func(time.Duration)

	target atomic.Pointer[Target]

	mu   sync.Mutex
	q    *fifo
	done chan struct{}

	// Worker-owned; the zero value means "never sent".
	lastSend time.Time
}

func New(sender *Sender, log logx.Logger, m *metrics.Metrics) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		log:     log,
		sender:  sender,
		metrics: m,
		now:     time.Now,
		sleep:   time.Sleep,
	}
}

// Apply swaps the delivery target snapshot. nil means "not configured";
// queued items arriving before a usable target are dropped with a log.
func (d *Dispatcher) Apply(t *Target) {
	d.target.Store(t)
}

// Start launches the worker. It does nothing if the worker is already running.
func (d *Dispatcher) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.Lock()
	if d.q != nil {
		d.mu.Unlock()
		return
	}
	q := newFIFO()
	done := make(chan struct{})
	d.q = q
	d.done = done
	d.mu.Unlock()

	go d.run(ctx, q, done)
}

// Enqueue adds an item to the queue. It never blocks. Items offered to a
// stopped dispatcher are dropped: there is no durability guarantee to honor.
func (d *Dispatcher) Enqueue(item Item) bool {
	d.mu.Lock()
	q := d.q
	d.mu.Unlock()

	if q == nil {
		d.log.Debug("enqueue on stopped dispatcher; message dropped", logx.String("title", item.Title))
		return false
	}
	depth, ok := q.push(item)
	if !ok {
		d.log.Debug("enqueue on stopped dispatcher; message dropped", logx.String("title", item.Title))
		return false
	}
	d.metrics.SetQueueDepth(depth)
	return true
}

// Shutdown stops intake and wakes the worker. It does not wait for the
// in-flight send; use Done to observe worker exit when needed.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	q := d.q
	d.q = nil
	d.mu.Unlock()

	if q != nil {
		q.close()
	}
}

// Done reports worker exit after a Shutdown. It returns a closed channel if
// the dispatcher never started.
func (d *Dispatcher) Done() <-chan struct{} {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return done
}

func (d *Dispatcher) run(ctx context.Context, q *fifo, done chan struct{}) {
	defer close(done)
	for {
		item, depth, ok := q.pop()
		if !ok {
			return
		}
		d.metrics.SetQueueDepth(depth)
		d.process(ctx, item)
	}
}

// process handles one queued item. Nothing in here may take down the worker:
// every failure is terminal for this item only and the loop continues.
func (d *Dispatcher) process(ctx context.Context, item Item) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in dispatch worker",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	t := d.target.Load()
	if t == nil || !t.Complete() {
		d.log.Debug("queued message dropped; bridge not configured", logx.String("title", item.Title))
		return
	}

	// Pace before the attempt. The wait lands on the worker, never on the
	// producer, and throttled messages are delayed, not dropped.
	if t.MinInterval > 0 && !d.lastSend.IsZero() {
		if elapsed := d.now().Sub(d.lastSend); elapsed < t.MinInterval {
			d.sleep(t.MinInterval - elapsed)
		}
	}

	out := d.sender.Send(ctx, *t, item)

	// Skips don't consume pacing budget; actual attempts do, success or not.
	if out.Status.Attempted() {
		d.lastSend = d.now()
	}
}
