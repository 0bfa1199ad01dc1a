package sync

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/inksight/inksync/internal/jsonx"
	"github.com/inksight/inksync/internal/utils"
)

// VersionRecord is the ledger's memory of one synchronized document: the
// content hash of its representative file and the modification stamp the
// engine assigned at promote time.
type VersionRecord struct {
	Hash       string    `json:"hash"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

func (r VersionRecord) valid() bool {
	return r.Hash != "" && !r.ModifiedAt.IsZero()
}

// State is a point-in-time deep copy of the engine's sync state.
type State struct {
	LastSyncAt       time.Time                `json:"lastSyncAt"`
	CacheDir         string                   `json:"localCacheDir"`
	DocumentVersions map[string]VersionRecord `json:"documentVersions"`
}

// versionPair serializes as a two-element JSON array [id, record]. The
// on-disk list-of-pairs form keeps the file portable and diffable.
type versionPair struct {
	ID  string
	Rec VersionRecord
}

func (p versionPair) MarshalJSON() ([]byte, error) {
	return jsonx.Marshal([2]any{p.ID, p.Rec})
}

func (p *versionPair) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := jsonx.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := jsonx.Unmarshal(raw[0], &p.ID); err != nil {
		return err
	}
	return jsonx.Unmarshal(raw[1], &p.Rec)
}

type ledgerFile struct {
	LastSyncAt       time.Time     `json:"lastSyncAt"`
	LocalCacheDir    string        `json:"localCacheDir"`
	DocumentVersions []versionPair `json:"documentVersions"`
}

// Ledger is the persisted record of which document versions the cache holds.
// The engine is its only writer; reads may come from any goroutine.
type Ledger struct {
	path     string
	cacheDir string

	mu         sync.RWMutex
	lastSyncAt time.Time
	versions   map[string]VersionRecord
}

func NewLedger(path, cacheDir string) *Ledger {
	return &Ledger{
		path:     path,
		cacheDir: cacheDir,
		versions: make(map[string]VersionRecord),
	}
}

// Load hydrates the ledger from disk. A missing, unreadable or malformed
// file means an empty ledger, never an error; the next full sync rebuilds
// everything the hard way.
func (l *Ledger) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.versions = make(map[string]VersionRecord)
	l.lastSyncAt = time.Time{}

	data, err := os.ReadFile(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("ledger unreadable, starting empty", "path", l.path, "error", err)
		}
		return nil
	}

	var file ledgerFile
	if err := jsonx.Unmarshal(data, &file); err != nil {
		slog.Warn("ledger corrupt, starting empty", "path", l.path, "error", err)
		return nil
	}

	for _, pair := range file.DocumentVersions {
		if pair.ID == "" || !pair.Rec.valid() {
			// one bad record poisons the whole file; guessing at partial
			// state would desync the cache
			slog.Warn("ledger has incomplete records, starting empty", "path", l.path)
			l.versions = make(map[string]VersionRecord)
			return nil
		}
		l.versions[pair.ID] = pair.Rec
	}
	l.lastSyncAt = file.LastSyncAt

	slog.Debug("ledger loaded", "path", l.path, "documents", len(l.versions))
	return nil
}

// Save writes the whole ledger as an atomic snapshot, pairs sorted by
// document ID. This is the one failure a sync pass does not swallow.
func (l *Ledger) Save() error {
	l.mu.RLock()
	file := ledgerFile{
		LastSyncAt:       l.lastSyncAt,
		LocalCacheDir:    l.cacheDir,
		DocumentVersions: make([]versionPair, 0, len(l.versions)),
	}
	for id, rec := range l.versions {
		file.DocumentVersions = append(file.DocumentVersions, versionPair{ID: id, Rec: rec})
	}
	l.mu.RUnlock()

	sort.Slice(file.DocumentVersions, func(i, j int) bool {
		return file.DocumentVersions[i].ID < file.DocumentVersions[j].ID
	})

	data, err := jsonx.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := utils.WriteFileAtomic(l.path, data, 0o644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}

func (l *Ledger) Get(docID string) (VersionRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.versions[docID]
	return rec, ok
}

func (l *Ledger) Set(docID string, rec VersionRecord) {
	l.mu.Lock()
	l.versions[docID] = rec
	l.mu.Unlock()
}

func (l *Ledger) Delete(docID string) {
	l.mu.Lock()
	delete(l.versions, docID)
	l.mu.Unlock()
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.versions)
}

// IDs returns all known document IDs in sorted order.
func (l *Ledger) IDs() []string {
	l.mu.RLock()
	ids := make([]string, 0, len(l.versions))
	for id := range l.versions {
		ids = append(ids, id)
	}
	l.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (l *Ledger) LastSync() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastSyncAt
}

func (l *Ledger) SetLastSync(t time.Time) {
	l.mu.Lock()
	l.lastSyncAt = t
	l.mu.Unlock()
}

// Snapshot returns a deep copy; mutating it cannot touch the live ledger.
func (l *Ledger) Snapshot() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	versions := make(map[string]VersionRecord, len(l.versions))
	for id, rec := range l.versions {
		versions[id] = rec
	}
	return State{
		LastSyncAt:       l.lastSyncAt,
		CacheDir:         l.cacheDir,
		DocumentVersions: versions,
	}
}
