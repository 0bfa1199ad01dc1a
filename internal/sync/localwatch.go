package sync

import (
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rjeczalik/notify"

	"github.com/inksight/inksync/internal/document"
)

const (
	defaultIgnoreTimeout = 2 * time.Second
	ignoreSweepInterval  = 15 * time.Second
	watchEventBuffer     = 64
)

// LocalWatcher observes the cache tree for edits made by anything other than
// the engine, marking those documents dirty so status surfaces can flag the
// divergence before the next conflict check. The engine announces its own
// writes via IgnoreOnce so they never count.
type LocalWatcher struct {
	cache *Cache

	rawEvents chan notify.EventInfo
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	ignoreMu sync.Mutex
	ignore   map[string]time.Time

	dirtyMu sync.Mutex
	dirty   map[string]time.Time
}

func NewLocalWatcher(cache *Cache) *LocalWatcher {
	return &LocalWatcher{
		cache:  cache,
		done:   make(chan struct{}),
		ignore: make(map[string]time.Time),
		dirty:  make(map[string]time.Time),
	}
}

func (w *LocalWatcher) Start() error {
	slog.Info("local watcher start", "dir", w.cache.Root)

	w.rawEvents = make(chan notify.EventInfo, watchEventBuffer)

	recursivePath := w.cache.Root + "/..."
	if err := notify.Watch(recursivePath, w.rawEvents, notify.Write|notify.Create|notify.Remove|notify.Rename); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.loop()

	w.wg.Add(1)
	go w.sweepExpiredIgnores()

	return nil
}

func (w *LocalWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		if w.rawEvents != nil {
			notify.Stop(w.rawEvents)
		}
		w.wg.Wait()
		slog.Debug("local watcher stopped")
	})
}

// IgnoreOnce marks an absolute path so its next event is swallowed. The
// engine calls this right before promoting a downloaded file.
func (w *LocalWatcher) IgnoreOnce(path string) {
	w.ignoreMu.Lock()
	w.ignore[path] = time.Now().Add(defaultIgnoreTimeout)
	w.ignoreMu.Unlock()
}

// DirtyDocs returns the documents with local edits since their last sync,
// sorted by ID.
func (w *LocalWatcher) DirtyDocs() []string {
	w.dirtyMu.Lock()
	ids := make([]string, 0, len(w.dirty))
	for id := range w.dirty {
		ids = append(ids, id)
	}
	w.dirtyMu.Unlock()
	sort.Strings(ids)
	return ids
}

// ClearDirty forgets a document, called after the engine promotes or trashes
// its files.
func (w *LocalWatcher) ClearDirty(docID string) {
	w.dirtyMu.Lock()
	delete(w.dirty, docID)
	w.dirtyMu.Unlock()
}

func (w *LocalWatcher) consumeIgnore(path string) bool {
	w.ignoreMu.Lock()
	defer w.ignoreMu.Unlock()

	expiry, exists := w.ignore[path]
	if !exists {
		return false
	}
	delete(w.ignore, path)
	return !time.Now().After(expiry)
}

func (w *LocalWatcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.rawEvents:
			if !ok {
				return
			}
			w.handleEvent(event)
		}
	}
}

func (w *LocalWatcher) handleEvent(event notify.EventInfo) {
	path := event.Path()

	// engine housekeeping lives under .inksync
	if strings.HasPrefix(path, w.cache.MetadataDir) {
		return
	}
	if w.consumeIgnore(path) {
		return
	}

	rel, err := filepath.Rel(w.cache.Root, path)
	if err != nil {
		return
	}
	docID, ok := document.ExtractID(filepath.ToSlash(rel))
	if !ok {
		return
	}

	w.dirtyMu.Lock()
	if _, seen := w.dirty[docID]; !seen {
		slog.Debug("local edit detected", "doc", docID, "event", event.Event())
	}
	w.dirty[docID] = time.Now()
	w.dirtyMu.Unlock()
}

func (w *LocalWatcher) sweepExpiredIgnores() {
	defer w.wg.Done()

	ticker := time.NewTicker(ignoreSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.ignoreMu.Lock()
			now := time.Now()
			for path, expiry := range w.ignore {
				if now.After(expiry) {
					delete(w.ignore, path)
				}
			}
			w.ignoreMu.Unlock()
		}
	}
}
