package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/inksight/inksync/internal/device"
	"github.com/inksight/inksync/internal/document"
	"github.com/inksight/inksync/internal/utils"
)

const defaultWorkers = 4

// Options configure an Engine.
type Options struct {
	// RemoteDir is the document store directory on the device.
	RemoteDir string

	// Strategy decides who wins when the local copy of a document diverged
	// from its last synced version. Defaults to DeviceWins.
	Strategy Strategy

	// Workers bounds concurrent document downloads within one sync call.
	Workers int

	// Exclude holds doublestar patterns matched against store-relative
	// paths; matching files never reach the cache.
	Exclude []string

	// PurgeDeleted moves the cached files of remote-deleted documents into
	// the cache trash. Off by default so a device wipe never destroys the
	// local copies.
	PurgeDeleted bool

	// Watcher, when set, is told about engine writes so they are not
	// mistaken for local edits.
	Watcher *LocalWatcher
}

// Engine keeps the local cache in step with the device store. One engine
// owns one ledger; FullSync and IncrementalSync serialize on an internal
// mutex so the ledger has a single writer.
type Engine struct {
	transport device.Transport
	cache     *Cache
	ledger    *Ledger
	resolver  *Resolver
	filter    *document.PathFilter
	watcher   *LocalWatcher

	remoteDir    string
	workers      int
	purgeDeleted bool

	mu sync.Mutex
}

func NewEngine(transport device.Transport, cache *Cache, ledger *Ledger, opts Options) (*Engine, error) {
	if opts.RemoteDir == "" {
		return nil, fmt.Errorf("remote document dir is required")
	}
	strategy := opts.Strategy
	if strategy == "" {
		strategy = DeviceWins
	}
	resolver, err := NewResolver(strategy)
	if err != nil {
		return nil, err
	}
	filter, err := document.NewPathFilter(opts.Exclude)
	if err != nil {
		return nil, err
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	return &Engine{
		transport:    transport,
		cache:        cache,
		ledger:       ledger,
		resolver:     resolver,
		filter:       filter,
		watcher:      opts.Watcher,
		remoteDir:    opts.RemoteDir,
		workers:      workers,
		purgeDeleted: opts.PurgeDeleted,
	}, nil
}

// Initialize hydrates the ledger from its last persisted snapshot. Missing
// or corrupt state starts empty and the next full sync rebuilds it.
func (e *Engine) Initialize() error {
	return e.ledger.Load()
}

// FullSync reconciles the whole cache against a fresh device listing.
// Documents whose ledger stamp is already at the remote clock are left
// alone, ledger entries gone from the device are dropped, everything else
// is downloaded. Only a ledger write failure aborts the pass.
func (e *Engine) FullSync(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	slog.Info("full sync started", "store", e.remoteDir)

	listing, err := e.transport.ListFiles(ctx, e.remoteDir)
	if err != nil {
		return nil, fmt.Errorf("list device store: %w", err)
	}
	listing = e.filter.Apply(listing)
	remote := document.GroupRemote(listing)

	var b resultBuilder

	// settle remote deletions before the download pass
	for _, id := range e.ledger.IDs() {
		if _, ok := remote[id]; !ok {
			e.removeDocument(id, &b)
		}
	}

	var downloaded atomic.Int64
	var g errgroup.Group
	g.SetLimit(e.workers)
	for _, doc := range remote {
		doc := doc // per-iteration copy; required while go.mod targets go < 1.22
		rec, known := e.ledger.Get(doc.ID)
		if known && !rec.ModifiedAt.Before(doc.ModifiedAt) {
			continue // cache is current
		}
		g.Go(func() error {
			skipped, err := e.syncDocument(ctx, doc.ID, doc.RelPaths(), doc.ModifiedAt)
			switch {
			case err != nil:
				slog.Warn("document sync failed", "doc", doc.ID, "error", err)
				b.failed(doc.ID)
			case skipped:
				b.skipped(doc.ID)
			default:
				b.synced(doc.ID)
				downloaded.Add(docSize(doc))
			}
			return nil
		})
	}
	// workers never return errors; per-document failures land in the result
	_ = g.Wait()

	e.ledger.SetLastSync(time.Now().UTC())
	if err := e.ledger.Save(); err != nil {
		return nil, err
	}

	res := b.finish(time.Since(start))
	slog.Info("full sync completed",
		"synced", len(res.Synced),
		"failed", len(res.Failed),
		"deleted", len(res.Deleted),
		"skipped", len(res.Skipped),
		"downloaded", humanize.Bytes(uint64(downloaded.Load())),
		"took", res.Duration.Round(time.Millisecond))
	return res, nil
}

// IncrementalSync applies one debounced change batch without enumerating
// the device. Ledger entries take the event's timestamp, not a fresh remote
// clock read; the two clocks diverge on purpose and changing that would
// alter newest-wins outcomes.
func (e *Engine) IncrementalSync(ctx context.Context, changes []document.Change) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	if len(changes) == 0 {
		var empty resultBuilder
		return empty.finish(time.Since(start)), nil
	}
	slog.Info("incremental sync started", "changes", len(changes))

	var b resultBuilder
	var g errgroup.Group
	g.SetLimit(e.workers)
	for _, ch := range changes {
		ch := ch // per-iteration copy; required while go.mod targets go < 1.22
		if ch.Type == document.Deleted {
			e.removeDocument(ch.DocID, &b)
			continue
		}
		files := incrementalFiles(ch)
		g.Go(func() error {
			skipped, err := e.syncDocument(ctx, ch.DocID, files, ch.ChangedAt)
			switch {
			case err != nil:
				slog.Warn("document sync failed", "doc", ch.DocID, "error", err)
				b.failed(ch.DocID)
			case skipped:
				b.skipped(ch.DocID)
			default:
				b.synced(ch.DocID)
			}
			return nil
		})
	}
	_ = g.Wait()

	e.ledger.SetLastSync(time.Now().UTC())
	if err := e.ledger.Save(); err != nil {
		return nil, err
	}

	res := b.finish(time.Since(start))
	slog.Info("incremental sync completed",
		"synced", len(res.Synced),
		"failed", len(res.Failed),
		"deleted", len(res.Deleted),
		"skipped", len(res.Skipped),
		"took", res.Duration.Round(time.Millisecond))
	return res, nil
}

// SyncState returns a snapshot of the in-memory ledger. Callers may
// mutate the returned map without affecting the engine.
func (e *Engine) SyncState() State {
	return e.ledger.Snapshot()
}

// Strategy reports the configured conflict strategy.
func (e *Engine) Strategy() Strategy {
	return e.resolver.Strategy()
}

// syncDocument downloads one document into a staging dir, runs the conflict
// gate and promotes the staged files into the cache. A true skipped flag
// means a diverged local copy won the conflict; the ledger entry is left
// untouched then, so the divergence is reported again on the next pass.
func (e *Engine) syncDocument(ctx context.Context, docID string, files []string, stamp time.Time) (bool, error) {
	staging, err := e.cache.NewStaging(docID)
	if err != nil {
		return false, fmt.Errorf("stage: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := e.transport.DownloadDocument(ctx, docID, files, e.remoteDir, staging); err != nil {
		return false, fmt.Errorf("download: %w", err)
	}

	rep := document.RepresentativeFile(docID, files)
	stagedHash, err := utils.FileHash(filepath.Join(staging, filepath.FromSlash(rep)))
	if err != nil {
		return false, fmt.Errorf("hash: %w", err)
	}

	// The resolver only gates overwrites of a diverged local copy. A local
	// file still matching its ledger hash is clean and is replaced without
	// asking.
	if rec, known := e.ledger.Get(docID); known {
		localRep := e.cache.DocPath(rep)
		if info, statErr := os.Stat(localRep); statErr == nil {
			localHash, hashErr := utils.FileHash(localRep)
			if hashErr == nil && localHash != rec.Hash {
				resolution := e.resolver.Resolve(
					VersionInfo{ModifiedAt: stamp, Hash: stagedHash},
					VersionInfo{ModifiedAt: info.ModTime(), Hash: localHash},
				)
				if resolution == UseLocal {
					slog.Info("conflict kept local copy", "doc", docID, "strategy", e.resolver.Strategy())
					return true, nil
				}
				slog.Info("conflict overwrote local copy", "doc", docID, "strategy", e.resolver.Strategy())
			}
		}
	}

	for _, rel := range files {
		src := filepath.Join(staging, filepath.FromSlash(rel))
		dst := e.cache.DocPath(rel)
		if e.watcher != nil {
			e.watcher.IgnoreOnce(dst)
		}
		if err := promoteFile(src, dst); err != nil {
			return false, fmt.Errorf("promote %s: %w", rel, err)
		}
	}

	e.ledger.Set(docID, VersionRecord{Hash: stagedHash, ModifiedAt: stamp})
	if e.watcher != nil {
		e.watcher.ClearDirty(docID)
	}
	return false, nil
}

// removeDocument drops a document's ledger entry and records the deletion.
// Cached files stay on disk unless purging is on, in which case they move
// to the cache trash rather than being unlinked.
func (e *Engine) removeDocument(docID string, b *resultBuilder) {
	e.ledger.Delete(docID)
	b.deleted(docID)
	if e.watcher != nil {
		e.watcher.ClearDirty(docID)
	}
	if !e.purgeDeleted {
		return
	}
	moved, err := e.cache.TrashDoc(docID)
	if err != nil {
		slog.Warn("trash move failed", "doc", docID, "error", err)
		return
	}
	if moved > 0 {
		slog.Info("deleted document moved to trash", "doc", docID, "files", moved)
	}
}

// promoteFile moves a staged file into place, copying when rename crosses
// filesystems.
func promoteFile(src, dst string) error {
	if err := utils.EnsureParent(dst); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	return utils.CopyFile(src, dst)
}

// incrementalFiles is the download set for one change. The metadata file
// rides along even when the event did not touch it, so representative
// hashes stay comparable between full and incremental passes.
func incrementalFiles(ch document.Change) []string {
	set := mapset.NewThreadUnsafeSet[string]()
	if ch.Files != nil {
		set = ch.Files.Clone()
	}
	set.Add(document.MetadataPath(ch.DocID))
	files := set.ToSlice()
	sort.Strings(files)
	return files
}

func docSize(doc *document.Remote) int64 {
	var total int64
	for _, f := range doc.Files {
		total += f.Size
	}
	return total
}
