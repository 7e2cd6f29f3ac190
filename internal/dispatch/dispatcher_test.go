package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qqbridge/internal/onebot"
	"qqbridge/pkg/logx"
)

// fakeClock drives the dispatcher's pacing without real sleeps.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func queuedTarget(url string) *Target {
	return &Target{
		URL:         url,
		UserID:      "12345",
		AccessToken: "tok",
		Dialect:     onebot.DialectQueuedOneBot,
		TitleStyle:  onebot.TitleStyleBracket,
		MinInterval: 5 * time.Second,
	}
}

func startDispatcher(t *testing.T, clock *fakeClock, target *Target) *Dispatcher {
	t.Helper()
	d := New(NewSender(nil, logx.Nop(), nil, nil, nil), logx.Nop(), nil)
	d.now = clock.Now
	d.sleep = func(dur time.Duration) { clock.Advance(dur) }
	d.Apply(target)
	d.Start(context.Background())
	t.Cleanup(d.Shutdown)
	return d
}

func TestWorkerPacesBurst(t *testing.T) {
	const burst = 100
	clock := newFakeClock()

	var mu sync.Mutex
	var attempts []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts = append(attempts, clock.Now())
		mu.Unlock()
		w.Write([]byte(`{"retcode":0}`))
	}))
	defer srv.Close()

	d := startDispatcher(t, clock, queuedTarget(srv.URL))
	for i := 0; i < burst; i++ {
		require.True(t, d.Enqueue(Item{Title: "T", Body: fmt.Sprintf("msg %d", i)}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(attempts) == burst
	}, 10*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(attempts); i++ {
		gap := attempts[i].Sub(attempts[i-1])
		assert.GreaterOrEqual(t, gap, 5*time.Second, "attempts %d and %d too close", i-1, i)
	}
}

func TestSkippedItemsDoNotConsumePacingBudget(t *testing.T) {
	clock := newFakeClock()

	var mu sync.Mutex
	var attempts []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts = append(attempts, clock.Now())
		mu.Unlock()
		w.Write([]byte(`{"retcode":0}`))
	}))
	defer srv.Close()

	target := queuedTarget(srv.URL)
	target.Categories = map[string]struct{}{"download": {}}
	d := startDispatcher(t, clock, target)

	d.Enqueue(Item{Title: "A", Body: "b", Category: "download"})
	d.Enqueue(Item{Title: "filtered", Body: "b", Category: "system"})
	d.Enqueue(Item{Title: "B", Body: "b", Category: "download"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(attempts) == 2
	}, 10*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// The filtered item in between neither delayed things further nor reset
	// the pacing clock: B goes out exactly one interval after A.
	assert.Equal(t, 5*time.Second, attempts[1].Sub(attempts[0]))
}

func TestFailedAttemptStillConsumesPacingBudget(t *testing.T) {
	clock := newFakeClock()

	var mu sync.Mutex
	var attempts []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts = append(attempts, clock.Now())
		mu.Unlock()
		// Always rejected; a flaky endpoint must not be hammered.
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	d := startDispatcher(t, clock, queuedTarget(srv.URL))
	d.Enqueue(Item{Title: "A", Body: "b"})
	d.Enqueue(Item{Title: "B", Body: "b"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(attempts) == 2
	}, 10*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, attempts[1].Sub(attempts[0]), 5*time.Second)
}

func TestShutdownStopsAfterInFlightItem(t *testing.T) {
	clock := newFakeClock()

	var calls atomic.Int64
	entered := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		close(entered)
		<-release
		w.Write([]byte(`{"retcode":0}`))
	}))
	defer srv.Close()

	target := queuedTarget(srv.URL)
	target.MinInterval = 0
	d := startDispatcher(t, clock, target)

	for i := 0; i < 5; i++ {
		require.True(t, d.Enqueue(Item{Title: "T", Body: fmt.Sprintf("msg %d", i)}))
	}

	// Wait for the worker to be mid-send, then shut down.
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never started sending")
	}
	d.Shutdown()
	close(release)

	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit after shutdown")
	}

	// Only the in-flight item was processed; the rest were discarded.
	assert.Equal(t, int64(1), calls.Load())

	// Enqueue after shutdown is a silent no-op.
	assert.False(t, d.Enqueue(Item{Title: "late", Body: "b"}))
}

func TestUnconfiguredTargetDropsItems(t *testing.T) {
	clock := newFakeClock()
	d := New(NewSender(nil, logx.Nop(), nil, nil, nil), logx.Nop(), nil)
	d.now = clock.Now
	d.sleep = func(time.Duration) {}
	d.Start(context.Background())
	t.Cleanup(d.Shutdown)

	// No target applied: the item is consumed and dropped, nothing panics.
	require.True(t, d.Enqueue(Item{Title: "T", Body: "B"}))

	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.q.len() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStartIsIdempotent(t *testing.T) {
	d := New(NewSender(nil, logx.Nop(), nil, nil, nil), logx.Nop(), nil)
	d.Start(context.Background())
	d.Start(context.Background())
	t.Cleanup(d.Shutdown)

	d.mu.Lock()
	q := d.q
	d.mu.Unlock()
	require.NotNil(t, q)
}
