package monitor

import (
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inksight/inksync/internal/document"
)

const (
	docA = "f47ac10b-58cc-4372-a567-0e02b2c3d479"
	docB = "9b2f8a14-3c61-4e8f-b2d5-7a1c0e64f3ab"
)

func changeWithFiles(docID string, typ document.ChangeType, at time.Time, files ...string) document.Change {
	ch := document.NewChange(docID, typ, at)
	for _, f := range files {
		ch.Files.Add(f)
	}
	return ch
}

func awaitBatch(t *testing.T, flushed <-chan []document.Change) []document.Change {
	t.Helper()
	select {
	case batch := <-flushed:
		return batch
	case <-time.After(5 * time.Second):
		t.Fatal("debouncer never flushed")
		return nil
	}
}

func TestDebounceMergesBurstIntoOneChange(t *testing.T) {
	flushed := make(chan []document.Change, 4)
	d := newDebouncer(50*time.Millisecond, func(batch []document.Change) { flushed <- batch })
	defer d.stop()

	at := time.Now().UTC()
	d.observe(changeWithFiles(docA, document.Modified, at, docA+".metadata"))
	d.observe(changeWithFiles(docA, document.Modified, at.Add(time.Millisecond), docA+"/0.rm"))
	last := at.Add(2 * time.Millisecond)
	d.observe(changeWithFiles(docA, document.Modified, last, docA+".content"))

	batch := awaitBatch(t, flushed)
	require.Len(t, batch, 1)

	ch := batch[0]
	assert.Equal(t, docA, ch.DocID)
	assert.Equal(t, document.Modified, ch.Type)
	assert.True(t, ch.ChangedAt.Equal(last))

	want := mapset.NewSet(docA+".metadata", docA+"/0.rm", docA+".content")
	assert.True(t, ch.Files.Equal(want), "got files %v", ch.Files)

	// nothing left pending
	select {
	case extra := <-flushed:
		t.Fatalf("unexpected second flush: %v", extra)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDebounceLatestTypeWins(t *testing.T) {
	flushed := make(chan []document.Change, 4)
	d := newDebouncer(50*time.Millisecond, func(batch []document.Change) { flushed <- batch })
	defer d.stop()

	at := time.Now().UTC()
	d.observe(changeWithFiles(docA, document.Created, at, docA+".metadata"))
	d.observe(changeWithFiles(docA, document.Deleted, at.Add(time.Millisecond)))

	batch := awaitBatch(t, flushed)
	require.Len(t, batch, 1)
	assert.Equal(t, document.Deleted, batch[0].Type)
	// the union survives the type flip
	assert.True(t, batch[0].Files.Contains(docA+".metadata"))
}

func TestDebounceKeepsWindowOpenWhileEventsArrive(t *testing.T) {
	flushed := make(chan []document.Change, 4)
	d := newDebouncer(120*time.Millisecond, func(batch []document.Change) { flushed <- batch })
	defer d.stop()

	at := time.Now().UTC()
	for i := 0; i < 3; i++ {
		d.observe(changeWithFiles(docA, document.Modified, at, docA+".metadata"))
		time.Sleep(40 * time.Millisecond)
	}

	batch := awaitBatch(t, flushed)
	assert.Len(t, batch, 1)

	select {
	case extra := <-flushed:
		t.Fatalf("burst flushed more than once: %v", extra)
	case <-time.After(250 * time.Millisecond):
	}
}

func TestDebounceBatchesMultipleDocuments(t *testing.T) {
	flushed := make(chan []document.Change, 4)
	d := newDebouncer(50*time.Millisecond, func(batch []document.Change) { flushed <- batch })
	defer d.stop()

	at := time.Now().UTC()
	d.observe(changeWithFiles(docA, document.Modified, at, docA+".metadata"))
	d.observe(changeWithFiles(docB, document.Created, at, docB+".metadata"))

	batch := awaitBatch(t, flushed)
	require.Len(t, batch, 2)
	// deterministic order, sorted by document ID
	assert.Equal(t, docB, batch[0].DocID)
	assert.Equal(t, docA, batch[1].DocID)
}

func TestDebounceStopDropsPending(t *testing.T) {
	flushed := make(chan []document.Change, 4)
	d := newDebouncer(50*time.Millisecond, func(batch []document.Change) { flushed <- batch })

	d.observe(changeWithFiles(docA, document.Modified, time.Now(), docA+".metadata"))
	d.stop()

	select {
	case batch := <-flushed:
		t.Fatalf("flush after stop: %v", batch)
	case <-time.After(150 * time.Millisecond):
	}
}
