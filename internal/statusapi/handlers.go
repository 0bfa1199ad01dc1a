package statusapi

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/inksight/inksync/internal/outbox"
	isync "github.com/inksight/inksync/internal/sync"
	"github.com/inksight/inksync/internal/version"
)

// StatusResponse is the daemon health summary.
type StatusResponse struct {
	Status     string        `json:"status"`
	Timestamp  string        `json:"ts"`
	Version    string        `json:"version"`
	Revision   string        `json:"revision"`
	Monitor    string        `json:"monitor"`
	Strategy   string        `json:"strategy"`
	LastSyncAt *time.Time    `json:"lastSyncAt,omitempty"`
	Documents  int           `json:"documents"`
	Pending    *int          `json:"pendingQueue,omitempty"`
	DirtyDocs  []string      `json:"dirtyDocs,omitempty"`
	LastResult *isync.Result `json:"lastResult,omitempty"`
}

// DocumentView is one ledger entry with its resolved display name.
type DocumentView struct {
	ID         string    `json:"id"`
	Name       string    `json:"name,omitempty"`
	Hash       string    `json:"hash"`
	ModifiedAt time.Time `json:"modifiedAt"`
	Dirty      bool      `json:"dirty,omitempty"`
}

// DocumentsResponse is the ledger view.
type DocumentsResponse struct {
	CacheDir   string         `json:"cacheDir"`
	LastSyncAt time.Time      `json:"lastSyncAt"`
	Count      int            `json:"count"`
	Documents  []DocumentView `json:"documents"`
}

// QueueResponse lists the pending outbox entries.
type QueueResponse struct {
	Pending int             `json:"pending"`
	Entries []*outbox.Entry `json:"entries"`
}

type handlers struct {
	src Sources
}

func newHandlers(src Sources) *handlers {
	return &handlers{src: src}
}

func (h *handlers) status(c *gin.Context) {
	state := h.src.Engine.SyncState()

	resp := &StatusResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   version.Version,
		Revision:  version.Revision,
		Monitor:   string(h.src.Monitor.State()),
		Strategy:  string(h.src.Engine.Strategy()),
		Documents: len(state.DocumentVersions),
	}
	if !state.LastSyncAt.IsZero() {
		at := state.LastSyncAt
		resp.LastSyncAt = &at
	}
	if h.src.LastResult != nil {
		resp.LastResult = h.src.LastResult()
	}
	if h.src.DirtyDocs != nil {
		resp.DirtyDocs = h.src.DirtyDocs()
	}
	if h.src.Queue != nil {
		count, err := h.src.Queue.PendingCount()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		resp.Pending = &count
	}

	c.PureJSON(http.StatusOK, resp)
}

func (h *handlers) documents(c *gin.Context) {
	state := h.src.Engine.SyncState()

	dirty := make(map[string]bool)
	if h.src.DirtyDocs != nil {
		for _, id := range h.src.DirtyDocs() {
			dirty[id] = true
		}
	}

	docs := make([]DocumentView, 0, len(state.DocumentVersions))
	for id, rec := range state.DocumentVersions {
		view := DocumentView{
			ID:         id,
			Hash:       rec.Hash,
			ModifiedAt: rec.ModifiedAt,
			Dirty:      dirty[id],
		}
		if h.src.DisplayName != nil {
			if name := h.src.DisplayName(id); name != id {
				view.Name = name
			}
		}
		docs = append(docs, view)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })

	c.PureJSON(http.StatusOK, &DocumentsResponse{
		CacheDir:   state.CacheDir,
		LastSyncAt: state.LastSyncAt,
		Count:      len(docs),
		Documents:  docs,
	})
}

func (h *handlers) queue(c *gin.Context) {
	if h.src.Queue == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "outbox disabled"})
		return
	}

	entries, err := h.src.Queue.Pending()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.PureJSON(http.StatusOK, &QueueResponse{
		Pending: len(entries),
		Entries: entries,
	})
}
