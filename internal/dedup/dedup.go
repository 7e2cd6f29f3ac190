// Package dedup suppresses repeated notifications inside a sliding time window.
//
// The cache is tiny by construction: every call sweeps expired entries before
// looking up the fingerprint, so it never grows past the set of distinct
// messages seen within one window.
package dedup

import (
	"sync"
	"time"
)

// DefaultWindow matches the upstream bridge plugins: a burst of identical
// notifications within 10 seconds is forwarded once.
const DefaultWindow = 10 * time.Second

// Fingerprint derives the dedup key for a notification.
//
// The key is the exact concatenation of title and body. No whitespace or case
// normalization is applied on purpose: the two sides of the bridge are
// expected to produce byte-identical repeats.
func Fingerprint(title, body string) string {
	return title + "|" + body
}

// Deduplicator is a bounded, time-windowed seen-set.
// It is safe for concurrent use.
type Deduplicator struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
}

func New(window time.Duration) *Deduplicator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Deduplicator{
		window: window,
		seen:   map[string]time.Time{},
	}
}

// SetWindow adjusts the window for subsequent calls.
// Entries already recorded keep their original timestamps.
func (d *Deduplicator) SetWindow(window time.Duration) {
	if window <= 0 {
		window = DefaultWindow
	}
	d.mu.Lock()
	d.window = window
	d.mu.Unlock()
}

// ShouldForward reports whether a notification with the given fingerprint is
// new within the window, recording it as seen when it is.
//
// Expired entries are swept on every call regardless of outcome. A duplicate
// does NOT refresh its timestamp, so a burst of identical messages cannot
// extend the suppression window indefinitely.
func (d *Deduplicator) ShouldForward(fingerprint string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, at := range d.seen {
		if now.Sub(at) > d.window {
			delete(d.seen, key)
		}
	}

	if _, ok := d.seen[fingerprint]; ok {
		return false
	}
	d.seen[fingerprint] = now
	return true
}

// Len reports the number of live entries. For tests and status pages.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
