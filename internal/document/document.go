// Package document models the appliance document store: UUID-keyed file
// sets (<id>.metadata, <id>.content, <id>.pagedata, <id>/*.rm pages).
package document

import (
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

type ChangeType string

const (
	Created  ChangeType = "created"
	Modified ChangeType = "modified"
	Deleted  ChangeType = "deleted"
)

// Change is one debounced mutation of a document as observed on the device.
// Files holds the store-relative paths touched while the change was pending.
// Consumers must treat a Change as read-only; the same value is fanned out to
// every subscriber.
type Change struct {
	DocID     string             `json:"docId"`
	Type      ChangeType         `json:"type"`
	ChangedAt time.Time          `json:"changedAt"`
	Files     mapset.Set[string] `json:"files"`
}

// NewChange returns a Change with an empty file set.
func NewChange(docID string, typ ChangeType, at time.Time) Change {
	return Change{
		DocID:     docID,
		Type:      typ,
		ChangedAt: at,
		Files:     mapset.NewSet[string](),
	}
}
