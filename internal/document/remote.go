package document

import (
	"sort"
	"time"

	"github.com/inksight/inksync/internal/device"
)

// Remote is the device-side view of one document: every store file belonging
// to its UUID plus the newest modification time across them. That max mtime
// is the document's remote clock.
type Remote struct {
	ID         string
	Files      []device.RemoteFile
	ModifiedAt time.Time
}

// RelPaths returns the store-relative paths of the document's files in
// sorted order.
func (r *Remote) RelPaths() []string {
	paths := make([]string, 0, len(r.Files))
	for _, f := range r.Files {
		paths = append(paths, f.Path)
	}
	sort.Strings(paths)
	return paths
}

// GroupRemote buckets a store listing by document UUID. Files that carry no
// UUID in their path belong to device bookkeeping and are dropped.
func GroupRemote(files []device.RemoteFile) map[string]*Remote {
	docs := make(map[string]*Remote)
	for _, f := range files {
		id, ok := ExtractID(f.Path)
		if !ok {
			continue
		}
		doc := docs[id]
		if doc == nil {
			doc = &Remote{ID: id}
			docs[id] = doc
		}
		doc.Files = append(doc.Files, f)
		if f.ModifiedAt.After(doc.ModifiedAt) {
			doc.ModifiedAt = f.ModifiedAt
		}
	}
	return docs
}
