package monitor

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inksight/inksync/internal/device"
	"github.com/inksight/inksync/internal/document"
	isync "github.com/inksight/inksync/internal/sync"
)

func pollOptions() Options {
	return Options{
		RemoteDir:      testStore,
		EventStream:    false,
		PollInterval:   10 * time.Millisecond,
		Debounce:       20 * time.Millisecond,
		ReconnectDelay: 10 * time.Millisecond,
	}
}

func awaitChanges(t *testing.T, ch <-chan []document.Change) []document.Change {
	t.Helper()
	select {
	case batch := <-ch:
		return batch
	case <-time.After(10 * time.Second):
		t.Fatal("no change batch")
		return nil
	}
}

func awaitError(t *testing.T, errs <-chan error) error {
	t.Helper()
	select {
	case err := <-errs:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("no error notification")
		return nil
	}
}

func TestMonitorReconnectsAndResumes(t *testing.T) {
	script := newListScript()
	script.put(docA+".metadata", 10, time.Now().Add(-time.Hour))
	script.failures = 2

	m, err := NewMonitor(script, nil, pollOptions())
	require.NoError(t, err)

	errs := m.SubscribeErrors()
	changes := m.SubscribeChanges()

	require.NoError(t, m.Start())
	defer m.Stop()

	// two listing failures surface as notifications, never as a crash
	for i := 0; i < 2; i++ {
		err := awaitError(t, errs)
		assert.Contains(t, err.Error(), "connection reset")
	}

	// transport is healthy again; wait for the recovered baseline, then a
	// new document must flow through with no outside help
	require.Eventually(t, func() bool { return script.listCount() >= 3 },
		5*time.Second, time.Millisecond)
	script.put(docB+".metadata", 5, time.Now())

	batch := awaitChanges(t, changes)
	require.Len(t, batch, 1)
	assert.Equal(t, docB, batch[0].DocID)
	assert.Equal(t, document.Created, batch[0].Type)

	assert.Equal(t, Polling, m.State())
	assert.GreaterOrEqual(t, script.connectCount(), 2)
}

func TestMonitorStartStopLifecycle(t *testing.T) {
	script := newListScript()

	m, err := NewMonitor(script, nil, pollOptions())
	require.NoError(t, err)
	assert.Equal(t, Idle, m.State())

	require.NoError(t, m.Start())
	require.NoError(t, m.Start()) // running: no-op

	require.Eventually(t, func() bool { return m.State() == Polling },
		5*time.Second, 5*time.Millisecond)

	m.Stop()
	assert.Equal(t, Stopped, m.State())
	m.Stop() // idempotent

	// a stopped monitor restarts cleanly
	require.NoError(t, m.Start())
	require.Eventually(t, func() bool { return m.State() == Polling },
		5*time.Second, 5*time.Millisecond)
	m.Stop()
	assert.Equal(t, Stopped, m.State())
}

type fakeSyncer struct {
	mu      sync.Mutex
	batches [][]document.Change
}

func (f *fakeSyncer) IncrementalSync(ctx context.Context, changes []document.Change) (*isync.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, changes)

	res := &isync.Result{Synced: []string{}}
	for _, ch := range changes {
		res.Synced = append(res.Synced, ch.DocID)
	}
	sort.Strings(res.Synced)
	return res, nil
}

func (f *fakeSyncer) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func TestMonitorDeliversToHandlersAndSyncer(t *testing.T) {
	script := newListScript()
	syncer := &fakeSyncer{}

	m, err := NewMonitor(script, syncer, pollOptions())
	require.NoError(t, err)

	var handlerMu sync.Mutex
	var handled [][]document.Change
	m.OnChange(func(ctx context.Context, changes []document.Change) error {
		handlerMu.Lock()
		handled = append(handled, changes)
		handlerMu.Unlock()
		return nil
	})
	m.OnChange(func(ctx context.Context, changes []document.Change) error {
		return errors.New("webhook delivery refused")
	})

	errs := m.SubscribeErrors()
	results := m.SubscribeResults()

	require.NoError(t, m.Start())
	defer m.Stop()

	// let the baseline settle, then introduce a document
	time.Sleep(50 * time.Millisecond)
	script.put(docB+".metadata", 5, time.Now())

	select {
	case res := <-results:
		assert.Equal(t, []string{docB}, res.Synced)
	case <-time.After(10 * time.Second):
		t.Fatal("no sync result")
	}

	// the failing handler was reported but did not block the syncer
	err = awaitError(t, errs)
	assert.Contains(t, err.Error(), "webhook delivery refused")

	handlerMu.Lock()
	require.Len(t, handled, 1)
	assert.Equal(t, docB, handled[0][0].DocID)
	handlerMu.Unlock()
	assert.Equal(t, 1, syncer.batchCount())
}

// probeScript reports a device without inotifywait.
type probeScript struct {
	*listScript
	mu     sync.Mutex
	probes int
}

func (p *probeScript) ExecuteCommand(ctx context.Context, command string) (string, error) {
	if strings.Contains(command, "inotifywait") {
		p.mu.Lock()
		p.probes++
		p.mu.Unlock()
		return "", &device.CommandError{Command: command, ExitCode: 1}
	}
	return "", nil
}

func TestMonitorFallsBackToPollingWithoutInotify(t *testing.T) {
	script := &probeScript{listScript: newListScript()}

	opts := pollOptions()
	opts.EventStream = true
	m, err := NewMonitor(script, nil, opts)
	require.NoError(t, err)

	require.NoError(t, m.Start())
	defer m.Stop()

	require.Eventually(t, func() bool { return m.State() == Polling },
		5*time.Second, 5*time.Millisecond)

	script.mu.Lock()
	probes := script.probes
	script.mu.Unlock()
	assert.Equal(t, 1, probes)
}

func TestMonitorStreamsWhenDeviceSupportsIt(t *testing.T) {
	chunk := "CLOSE_WRITE|" + testStore + "/" + docA + ".metadata\n"
	script := &streamScript{tailChunks: []string{chunk}}

	opts := pollOptions()
	opts.EventStream = true
	m, err := NewMonitor(script, nil, opts)
	require.NoError(t, err)

	changes := m.SubscribeChanges()
	require.NoError(t, m.Start())

	require.Eventually(t, func() bool { return m.State() == Streaming },
		5*time.Second, 5*time.Millisecond)

	batch := awaitChanges(t, changes)
	require.Len(t, batch, 1)
	assert.Equal(t, docA, batch[0].DocID)
	assert.Equal(t, document.Modified, batch[0].Type)

	m.Stop()

	cmds := script.commands()
	require.NotEmpty(t, cmds)
	assert.Contains(t, cmds[len(cmds)-1], "kill 4242")
}
