package sync

import (
	"sort"
	"sync"
	"time"
)

// Result reports the outcome of one full or incremental sync pass. Document
// IDs appear in at most one list. Absence from Failed and Deleted means the
// document is in sync; entries in Failed are retried by the next pass.
type Result struct {
	// Synced documents were downloaded and promoted into the cache.
	Synced []string `json:"synced"`
	// Failed documents hit a per-document fault; the pass carried on.
	Failed []string `json:"failed"`
	// Deleted documents were dropped from the ledger after disappearing
	// from the device.
	Deleted []string `json:"deleted"`
	// Skipped documents kept their diverged local copy (use-local verdict).
	Skipped []string `json:"skipped"`

	Duration time.Duration `json:"duration"`
}

func (r *Result) HasChanges() bool {
	return len(r.Synced) > 0 || len(r.Failed) > 0 || len(r.Deleted) > 0 || len(r.Skipped) > 0
}

// resultBuilder accumulates a Result from concurrent per-document workers.
type resultBuilder struct {
	mu sync.Mutex
	r  Result
}

func (b *resultBuilder) synced(docID string) {
	b.mu.Lock()
	b.r.Synced = append(b.r.Synced, docID)
	b.mu.Unlock()
}

func (b *resultBuilder) failed(docID string) {
	b.mu.Lock()
	b.r.Failed = append(b.r.Failed, docID)
	b.mu.Unlock()
}

func (b *resultBuilder) deleted(docID string) {
	b.mu.Lock()
	b.r.Deleted = append(b.r.Deleted, docID)
	b.mu.Unlock()
}

func (b *resultBuilder) skipped(docID string) {
	b.mu.Lock()
	b.r.Skipped = append(b.r.Skipped, docID)
	b.mu.Unlock()
}

// finish sorts the lists so results are stable for logs and tests. Empty
// lists come back non-nil so they encode as [] rather than null.
func (b *resultBuilder) finish(took time.Duration) *Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.r.Synced = sorted(b.r.Synced)
	b.r.Failed = sorted(b.r.Failed)
	b.r.Deleted = sorted(b.r.Deleted)
	b.r.Skipped = sorted(b.r.Skipped)
	b.r.Duration = took
	result := b.r
	return &result
}

func sorted(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	sort.Strings(ids)
	return ids
}
