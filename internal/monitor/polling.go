package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/inksight/inksync/internal/device"
	"github.com/inksight/inksync/internal/document"
)

// pollBackend detects changes by listing the whole store on a cadence and
// diffing consecutive snapshots by (mtime, size) per file. It is the
// fallback for devices without inotifywait; noisier on the wire, identical
// in output.
type pollBackend struct {
	transport device.Transport
	remoteDir string
	interval  time.Duration
	filter    *document.PathFilter
	observe   func(document.Change)
}

// fileState is the comparison key for one store file between snapshots.
type fileState struct {
	modifiedAt time.Time
	size       int64
}

// snapshot maps document ID to its files' states, keyed by relative path.
type snapshot map[string]map[string]fileState

func newPollBackend(transport device.Transport, remoteDir string, interval time.Duration, filter *document.PathFilter, observe func(document.Change)) *pollBackend {
	return &pollBackend{
		transport: transport,
		remoteDir: remoteDir,
		interval:  interval,
		filter:    filter,
		observe:   observe,
	}
}

func (p *pollBackend) state() State { return Polling }

func (p *pollBackend) run(ctx context.Context) error {
	// the first listing primes the baseline and emits nothing; everything
	// already on the device is the engine's business, not a change
	prev, err := p.takeSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("prime poll baseline: %w", err)
	}
	slog.Debug("poll baseline primed", "documents", len(prev))

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		current, err := p.takeSnapshot(ctx)
		if err != nil {
			return fmt.Errorf("poll listing: %w", err)
		}
		for _, ch := range diffSnapshots(prev, current, time.Now().UTC()) {
			p.observe(ch)
		}
		prev = current
		timer.Reset(p.interval)
	}
}

func (p *pollBackend) takeSnapshot(ctx context.Context) (snapshot, error) {
	listing, err := p.transport.ListFiles(ctx, p.remoteDir)
	if err != nil {
		return nil, err
	}
	listing = p.filter.Apply(listing)

	snap := make(snapshot)
	for _, f := range listing {
		docID, ok := document.ExtractID(f.Path)
		if !ok {
			continue
		}
		files := snap[docID]
		if files == nil {
			files = make(map[string]fileState)
			snap[docID] = files
		}
		files[f.Path] = fileState{modifiedAt: f.ModifiedAt, size: f.Size}
	}
	return snap, nil
}

// diffSnapshots synthesizes per-document changes between two listings. A
// document missing from current is deleted; a new one is created with all
// its files; otherwise any file whose (mtime, size) moved, appeared or
// vanished makes the document modified.
func diffSnapshots(prev, current snapshot, now time.Time) []document.Change {
	var changes []document.Change

	for docID, files := range current {
		before, existed := prev[docID]
		if !existed {
			ch := document.NewChange(docID, document.Created, maxModTime(files, now))
			for rel := range files {
				ch.Files.Add(rel)
			}
			changes = append(changes, ch)
			continue
		}

		touched := make(map[string]fileState)
		for rel, state := range files {
			old, ok := before[rel]
			if !ok || !old.modifiedAt.Equal(state.modifiedAt) || old.size != state.size {
				touched[rel] = state
			}
		}
		for rel := range before {
			if _, ok := files[rel]; !ok {
				touched[rel] = fileState{modifiedAt: now}
			}
		}
		if len(touched) == 0 {
			continue
		}
		ch := document.NewChange(docID, document.Modified, maxModTime(touched, now))
		for rel := range touched {
			ch.Files.Add(rel)
		}
		changes = append(changes, ch)
	}

	for docID, files := range prev {
		if _, ok := current[docID]; ok {
			continue
		}
		ch := document.NewChange(docID, document.Deleted, now)
		for rel := range files {
			ch.Files.Add(rel)
		}
		changes = append(changes, ch)
	}

	sortChanges(changes)
	return changes
}

func sortChanges(changes []document.Change) {
	sort.Slice(changes, func(i, j int) bool { return changes[i].DocID < changes[j].DocID })
}

func maxModTime(files map[string]fileState, fallback time.Time) time.Time {
	var max time.Time
	for _, state := range files {
		if state.modifiedAt.After(max) {
			max = state.modifiedAt
		}
	}
	if max.IsZero() {
		return fallback
	}
	return max
}
