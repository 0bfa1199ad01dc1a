package sync

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/inksight/inksync/internal/utils"
)

const (
	metadataDirName = ".inksync"
	stagingDirName  = "staging"
	trashDirName    = "trash"
	lockFileName    = "inksync.lock"
	ledgerFileName  = "ledger.json"
)

var ErrCacheLocked = errors.New("cache locked by another process")

// Cache is the local workspace: the mirrored document tree plus a .inksync
// metadata dir holding the ledger, the process lock, download staging and
// the trash for purged documents.
type Cache struct {
	Root        string
	MetadataDir string

	flock *flock.Flock
}

func NewCache(rootDir string) (*Cache, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir %s: %w", rootDir, err)
	}

	metaDir := filepath.Join(root, metadataDirName)
	return &Cache{
		Root:        root,
		MetadataDir: metaDir,
		flock:       flock.New(filepath.Join(metaDir, lockFileName)),
	}, nil
}

// Setup creates the workspace directories and takes the process lock.
func (c *Cache) Setup() error {
	dirs := []string{c.Root, c.MetadataDir, c.stagingRoot(), c.trashRoot()}
	for _, dir := range dirs {
		if err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return c.Lock()
}

// Lock takes the single-writer lock so two processes never run an engine
// over the same cache dir.
func (c *Cache) Lock() error {
	locked, err := c.flock.TryLock()
	if err != nil {
		return fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return ErrCacheLocked
	}
	return nil
}

func (c *Cache) Unlock() error {
	// the lock file itself stays behind; flock is advisory and a stale
	// file does not block the next process
	if !c.flock.Locked() {
		return nil
	}
	if err := c.flock.Unlock(); err != nil {
		return fmt.Errorf("unlock cache: %w", err)
	}
	return nil
}

func (c *Cache) LedgerPath() string {
	return filepath.Join(c.MetadataDir, ledgerFileName)
}

// DocPath maps a store-relative path to its location in the cache.
func (c *Cache) DocPath(rel string) string {
	return filepath.Join(c.Root, filepath.FromSlash(rel))
}

func (c *Cache) stagingRoot() string {
	return filepath.Join(c.MetadataDir, stagingDirName)
}

func (c *Cache) trashRoot() string {
	return filepath.Join(c.MetadataDir, trashDirName)
}

// NewStaging returns a fresh staging dir for one document download. The
// caller removes it when done.
func (c *Cache) NewStaging(docID string) (string, error) {
	if err := utils.EnsureDir(c.stagingRoot()); err != nil {
		return "", err
	}
	return os.MkdirTemp(c.stagingRoot(), docID+".*")
}

// DocLocalPaths lists everything in the cache belonging to a document: its
// sidecar files and its page directory.
func (c *Cache) DocLocalPaths(docID string) ([]string, error) {
	return filepath.Glob(filepath.Join(c.Root, docID+"*"))
}

// TrashDoc moves a document's local files into a timestamped trash folder
// instead of unlinking them. Returns how many entries moved.
func (c *Cache) TrashDoc(docID string) (int, error) {
	paths, err := c.DocLocalPaths(docID)
	if err != nil {
		return 0, err
	}
	if len(paths) == 0 {
		return 0, nil
	}

	dest := filepath.Join(c.trashRoot(), fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102T150405"), docID))
	if err := utils.EnsureDir(dest); err != nil {
		return 0, err
	}

	moved := 0
	for _, p := range paths {
		if err := os.Rename(p, filepath.Join(dest, filepath.Base(p))); err != nil {
			return moved, fmt.Errorf("trash %s: %w", p, err)
		}
		moved++
	}
	return moved, nil
}
