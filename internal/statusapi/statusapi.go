// Package statusapi serves the daemon's local HTTP surface: a read-only
// view of the monitor state, the ledger and the outbox for CLIs, scripts
// and desktop widgets. It is a convenience plane, not a public API; it
// binds to loopback by default and optionally requires a bearer token.
package statusapi

import (
	"github.com/inksight/inksync/internal/monitor"
	"github.com/inksight/inksync/internal/outbox"
	isync "github.com/inksight/inksync/internal/sync"
)

// Config for the API server.
type Config struct {
	// Addr to bind, host:port.
	Addr string
	// Token guards /v1 when non-empty.
	Token string
}

// MonitorSource reports the watch session phase.
type MonitorSource interface {
	State() monitor.State
}

// EngineSource exposes the ledger snapshot and the conflict strategy.
type EngineSource interface {
	SyncState() isync.State
	Strategy() isync.Strategy
}

// QueueSource exposes the pending outbox entries.
type QueueSource interface {
	Pending() ([]*outbox.Entry, error)
	PendingCount() (int, error)
}

// Sources are the live components the API reads. Queue and the function
// members may be nil; their sections simply go absent, so the server can
// run on a daemon with those features disabled.
type Sources struct {
	Monitor MonitorSource
	Engine  EngineSource
	Queue   QueueSource

	// DisplayName resolves a document ID to its visible name.
	DisplayName func(docID string) string
	// LastResult returns the most recent sync outcome, nil before the first.
	LastResult func() *isync.Result
	// DirtyDocs lists documents with unsynced local edits.
	DirtyDocs func() []string
}
