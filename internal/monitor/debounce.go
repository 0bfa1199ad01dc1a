package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/inksight/inksync/internal/document"
)

// debouncer coalesces bursty per-file events into per-document changes and
// flushes them as one batch after a quiet window. One shared timer covers
// all documents; every event pushes the deadline out again.
type debouncer struct {
	window time.Duration
	flush  func([]document.Change)

	mu       sync.Mutex
	pending  map[string]document.Change
	deadline time.Time
	timer    *time.Timer
}

func newDebouncer(window time.Duration, flush func([]document.Change)) *debouncer {
	return &debouncer{
		window:  window,
		flush:   flush,
		pending: make(map[string]document.Change),
	}
}

// observe merges one change into its document's pending entry: Files union
// across all events since the last flush, Type and ChangedAt taken from the
// latest event.
func (d *debouncer) observe(ch document.Change) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.pending[ch.DocID]
	if !ok {
		entry = document.NewChange(ch.DocID, ch.Type, ch.ChangedAt)
	}
	entry.Type = ch.Type
	entry.ChangedAt = ch.ChangedAt
	if ch.Files != nil {
		entry.Files = entry.Files.Union(ch.Files)
	}
	d.pending[ch.DocID] = entry

	d.deadline = time.Now().Add(d.window)
	if d.timer == nil {
		d.timer = time.AfterFunc(d.window, d.fire)
	} else {
		d.timer.Reset(d.window)
	}
}

// fire flushes the pending set, unless another event moved the deadline
// while the timer callback was waiting on the lock; then it re-arms for the
// remainder instead.
func (d *debouncer) fire() {
	d.mu.Lock()
	if remaining := time.Until(d.deadline); remaining > 0 {
		d.timer.Reset(remaining)
		d.mu.Unlock()
		return
	}

	batch := make([]document.Change, 0, len(d.pending))
	for _, ch := range d.pending {
		batch = append(batch, ch)
	}
	d.pending = make(map[string]document.Change)
	// the timer is re-armed only by the next event, never during a flush,
	// so a new window cannot leak into a batch that is being delivered
	d.timer = nil
	d.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].DocID < batch[j].DocID })
	d.flush(batch)
}

// stop drops pending entries and disarms the timer.
func (d *debouncer) stop() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = make(map[string]document.Change)
	d.mu.Unlock()
}
