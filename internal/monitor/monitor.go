// Package monitor watches the appliance document store and turns raw file
// events into debounced document change batches. It prefers a live event
// stream on the device and falls back to listing-diff polling when the
// device cannot stream; either way the batches it emits look the same.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/inksight/inksync/internal/device"
	"github.com/inksight/inksync/internal/document"
	isync "github.com/inksight/inksync/internal/sync"
)

// State is the monitor's observable lifecycle phase.
type State string

const (
	Idle         State = "idle"
	Starting     State = "starting"
	Streaming    State = "streaming"
	Polling      State = "polling"
	Reconnecting State = "reconnecting"
	Stopped      State = "stopped"
)

const (
	subscriberBuffer = 16
	batchQueueSize   = 8
)

// Syncer is what the monitor drives after each flushed batch. Satisfied by
// the sync engine; nil when the monitor only reports changes.
type Syncer interface {
	IncrementalSync(ctx context.Context, changes []document.Change) (*isync.Result, error)
}

// ChangeHandler runs synchronously for every flushed batch, before the
// syncer. A returned error goes to the error subscribers and never stops
// delivery.
type ChangeHandler func(ctx context.Context, changes []document.Change) error

// Options configure a Monitor.
type Options struct {
	// RemoteDir is the document store directory on the device.
	RemoteDir string

	// EventStream enables probing the device for inotifywait. When false
	// the monitor goes straight to polling.
	EventStream bool

	// PollInterval is the listing cadence of the polling backend.
	PollInterval time.Duration

	// Debounce is the quiet window before pending changes flush as one
	// batch.
	Debounce time.Duration

	// ReconnectDelay is the fixed pause between reconnection attempts.
	// There is no retry ceiling; the monitor outlives transport outages.
	ReconnectDelay time.Duration

	// Exclude holds doublestar patterns for store-relative paths to drop.
	Exclude []string
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.PollInterval <= 0 {
		out.PollInterval = 5 * time.Second
	}
	if out.Debounce <= 0 {
		out.Debounce = 500 * time.Millisecond
	}
	if out.ReconnectDelay <= 0 {
		out.ReconnectDelay = 5 * time.Second
	}
	return out
}

// Monitor owns one watch session over the device store. Safe for concurrent
// use; Start and Stop may be called repeatedly.
type Monitor struct {
	transport device.Transport
	syncer    Syncer
	opts      Options
	filter    *document.PathFilter

	mu      sync.Mutex
	state   State
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	deb     *debouncer
	batches chan []document.Change

	handlers   []ChangeHandler
	changeSubs []chan []document.Change
	resultSubs []chan *isync.Result
	errorSubs  []chan error
}

func NewMonitor(transport device.Transport, syncer Syncer, opts Options) (*Monitor, error) {
	if opts.RemoteDir == "" {
		return nil, fmt.Errorf("remote document dir is required")
	}
	filter, err := document.NewPathFilter(opts.Exclude)
	if err != nil {
		return nil, err
	}
	return &Monitor{
		transport: transport,
		syncer:    syncer,
		opts:      opts.withDefaults(),
		filter:    filter,
		state:     Idle,
	}, nil
}

// State reports the current lifecycle phase.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnChange registers a synchronous batch handler. Handlers run in
// registration order before the syncer is invoked.
func (m *Monitor) OnChange(h ChangeHandler) {
	m.mu.Lock()
	m.handlers = append(m.handlers, h)
	m.mu.Unlock()
}

// SubscribeChanges returns a channel receiving every flushed batch. Slow
// subscribers lose batches rather than stalling the monitor.
func (m *Monitor) SubscribeChanges() <-chan []document.Change {
	ch := make(chan []document.Change, subscriberBuffer)
	m.mu.Lock()
	m.changeSubs = append(m.changeSubs, ch)
	m.mu.Unlock()
	return ch
}

// SubscribeResults returns a channel receiving the result of each sync the
// monitor triggered. Nothing is ever sent when no syncer is attached.
func (m *Monitor) SubscribeResults() <-chan *isync.Result {
	ch := make(chan *isync.Result, subscriberBuffer)
	m.mu.Lock()
	m.resultSubs = append(m.resultSubs, ch)
	m.mu.Unlock()
	return ch
}

// SubscribeErrors returns a channel receiving non-fatal faults: transport
// hiccups, handler errors, sync failures.
func (m *Monitor) SubscribeErrors() <-chan error {
	ch := make(chan error, subscriberBuffer)
	m.mu.Lock()
	m.errorSubs = append(m.errorSubs, ch)
	m.mu.Unlock()
	return ch
}

// Start begins the watch session. Calling Start on a running monitor is a
// no-op.
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.running = true
	m.cancel = cancel
	m.state = Starting
	m.batches = make(chan []document.Change, batchQueueSize)
	m.deb = newDebouncer(m.opts.Debounce, func(batch []document.Change) {
		select {
		case m.batches <- batch:
		case <-ctx.Done():
		}
	})
	batches := m.batches

	m.wg.Add(2)
	m.mu.Unlock()

	slog.Info("monitor starting", "store", m.opts.RemoteDir, "event_stream", m.opts.EventStream)
	go m.supervise(ctx)
	go m.dispatch(ctx, batches)
	return nil
}

// Stop ends the session: timers are cancelled, the remote event producer is
// torn down and the monitor becomes restartable. Safe to call repeatedly.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	deb := m.deb
	m.mu.Unlock()

	cancel()
	deb.stop()
	m.wg.Wait()

	m.mu.Lock()
	m.state = Stopped
	m.mu.Unlock()
	slog.Info("monitor stopped")
}

// supervise runs the detection backend and keeps reviving it. Transport
// faults mean a fixed delay, a reconnect and a fresh Starting pass; only a
// stop request ends the loop.
func (m *Monitor) supervise(ctx context.Context) {
	defer m.wg.Done()

	for ctx.Err() == nil {
		m.setState(Starting)

		backend, err := m.selectBackend(ctx)
		if err == nil {
			m.setState(backend.state())
			slog.Info("change detection active", "backend", backend.state())
			err = backend.run(ctx)
		}
		if ctx.Err() != nil {
			return
		}

		m.reportError(err)
		m.setState(Reconnecting)
		slog.Warn("transport lost, reconnecting", "delay", m.opts.ReconnectDelay, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.opts.ReconnectDelay):
		}
		if err := m.transport.Connect(ctx); err != nil {
			m.reportError(err)
		}
	}
}

// selectBackend probes the device once per Starting pass. A non-zero exit
// from the probe means the device simply lacks inotifywait and polling is
// used; any other failure is a transport fault.
func (m *Monitor) selectBackend(ctx context.Context) (backend, error) {
	if m.opts.EventStream {
		available, err := m.probeEventStream(ctx)
		if err != nil {
			return nil, err
		}
		if available {
			return newStreamBackend(m.transport, m.opts.RemoteDir, m.filter, m.observe), nil
		}
		slog.Info("device cannot stream events, falling back to polling")
	}
	return newPollBackend(m.transport, m.opts.RemoteDir, m.opts.PollInterval, m.filter, m.observe), nil
}

func (m *Monitor) probeEventStream(ctx context.Context) (bool, error) {
	_, err := m.transport.ExecuteCommand(ctx, "command -v inotifywait")
	if err == nil {
		return true, nil
	}
	var cmdErr *device.CommandError
	if errors.As(err, &cmdErr) {
		return false, nil
	}
	return false, err
}

// observe feeds one raw change into the debouncer. Both backends call it
// from their single loop goroutine, so per-document arrival order holds.
func (m *Monitor) observe(ch document.Change) {
	m.deb.observe(ch)
}

// dispatch serializes batch delivery: the next flush queues behind an
// in-flight sync call instead of racing it on the ledger.
func (m *Monitor) dispatch(ctx context.Context, batches <-chan []document.Change) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-batches:
			m.deliver(ctx, batch)
		}
	}
}

func (m *Monitor) deliver(ctx context.Context, changes []document.Change) {
	slog.Info("change batch", "documents", len(changes))
	m.notifyChanges(changes)

	m.mu.Lock()
	handlers := make([]ChangeHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	// a stop request never yanks a running sync or handler mid-flight;
	// they complete or fail on their own
	runCtx := context.WithoutCancel(ctx)
	for _, h := range handlers {
		if err := h(runCtx, changes); err != nil {
			m.reportError(fmt.Errorf("change handler: %w", err))
		}
	}

	if m.syncer == nil {
		return
	}
	res, err := m.syncer.IncrementalSync(runCtx, changes)
	if err != nil {
		m.reportError(fmt.Errorf("incremental sync: %w", err))
		return
	}
	m.notifyResults(res)
}

func (m *Monitor) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Monitor) notifyChanges(changes []document.Change) {
	m.mu.Lock()
	subs := make([]chan []document.Change, len(m.changeSubs))
	copy(subs, m.changeSubs)
	m.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub <- changes:
		default:
			slog.Warn("change subscriber lagging, batch dropped")
		}
	}
}

func (m *Monitor) notifyResults(res *isync.Result) {
	m.mu.Lock()
	subs := make([]chan *isync.Result, len(m.resultSubs))
	copy(subs, m.resultSubs)
	m.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub <- res:
		default:
			slog.Warn("result subscriber lagging, result dropped")
		}
	}
}

func (m *Monitor) reportError(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	subs := make([]chan error, len(m.errorSubs))
	copy(subs, m.errorSubs)
	m.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub <- err:
		default:
		}
	}
}

// backend is one change detection strategy, chosen at Starting and replaced
// wholesale on reconnect. run blocks until a transport fault or a stop.
type backend interface {
	state() State
	run(ctx context.Context) error
}
