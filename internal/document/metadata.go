package document

import (
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/inksight/inksync/internal/jsonx"
)

// Metadata is the device's <id>.metadata sidecar. Only the fields the cache
// surfaces are parsed; the device writes more.
type Metadata struct {
	VisibleName  string `json:"visibleName"`
	Type         string `json:"type"`   // DocumentType or CollectionType
	Parent       string `json:"parent"` // parent collection UUID, "" for root, "trash" when binned
	Version      int    `json:"version"`
	LastModified string `json:"lastModified"` // epoch millis as string, device quirk
	Pinned       bool   `json:"pinned"`
}

// ParseMetadata reads and decodes a metadata file.
func ParseMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := jsonx.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

type nameEntry struct {
	name  string
	mtime time.Time
}

// Names resolves document IDs to display names by parsing the cached
// metadata files, memoized in an LRU keyed by file mtime so renames on the
// next sync invalidate themselves.
type Names struct {
	cacheDir string
	cache    *lru.Cache[string, nameEntry]
}

func NewNames(cacheDir string, size int) (*Names, error) {
	cache, err := lru.New[string, nameEntry](size)
	if err != nil {
		return nil, err
	}
	return &Names{cacheDir: cacheDir, cache: cache}, nil
}

// DisplayName returns the document's visible name, or the ID itself when no
// readable metadata file exists in the cache.
func (n *Names) DisplayName(docID string) string {
	path := filepath.Join(n.cacheDir, MetadataPath(docID))

	info, err := os.Stat(path)
	if err != nil {
		return docID
	}

	if entry, ok := n.cache.Get(docID); ok && entry.mtime.Equal(info.ModTime()) {
		return entry.name
	}

	meta, err := ParseMetadata(path)
	if err != nil || meta.VisibleName == "" {
		return docID
	}

	n.cache.Add(docID, nameEntry{name: meta.VisibleName, mtime: info.ModTime()})
	return meta.VisibleName
}
