// Package daemon wires the device transport, cache, sync engine, change
// monitor and the optional outbox, webhook and status API into one
// supervised process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/inksight/inksync/internal/config"
	"github.com/inksight/inksync/internal/device"
	"github.com/inksight/inksync/internal/document"
	"github.com/inksight/inksync/internal/monitor"
	"github.com/inksight/inksync/internal/outbox"
	"github.com/inksight/inksync/internal/statusapi"
	isync "github.com/inksight/inksync/internal/sync"
	"github.com/inksight/inksync/internal/webhook"
)

const (
	shutdownTimeout = 10 * time.Second
	nameCacheSize   = 512
)

// Daemon owns the long-running sync process: one transport, one engine over
// one locked cache, one monitor feeding it, plus the side channels.
type Daemon struct {
	cfg *config.Config

	transport device.Transport
	cache     *isync.Cache
	ledger    *isync.Ledger
	watcher   *isync.LocalWatcher
	engine    *isync.Engine
	monitor   *monitor.Monitor
	names     *document.Names

	queue      *outbox.Store
	queueOpen  bool
	hook       *webhook.Notifier
	api        *statusapi.Server
	lastResult atomic.Pointer[isync.Result]

	stopOnce sync.Once
	stopErr  error
}

// Option overrides a default component, mainly for tests.
type Option func(*Daemon)

// WithTransport substitutes the device transport.
func WithTransport(t device.Transport) Option {
	return func(d *Daemon) { d.transport = t }
}

// New builds the daemon from config. Nothing is opened or connected yet;
// that happens in Start (or SyncOnce).
func New(cfg *config.Config, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cache, err := isync.NewCache(cfg.Cache.Dir)
	if err != nil {
		return nil, err
	}

	d := &Daemon{cfg: cfg, cache: cache}
	for _, opt := range opts {
		opt(d)
	}

	if d.transport == nil {
		d.transport = device.NewSSHTransport(device.SSHConfig{
			Host:           cfg.Device.Host,
			Port:           cfg.Device.Port,
			User:           cfg.Device.User,
			Password:       cfg.Device.Password,
			KeyFile:        cfg.Device.KeyFile,
			ConnectTimeout: cfg.Device.ConnectTimeout.Std(),
		})
	}

	d.ledger = isync.NewLedger(cache.LedgerPath(), cache.Root)
	d.watcher = isync.NewLocalWatcher(cache)

	d.names, err = document.NewNames(cache.Root, nameCacheSize)
	if err != nil {
		return nil, err
	}

	d.engine, err = isync.NewEngine(d.transport, cache, d.ledger, isync.Options{
		RemoteDir:    cfg.Device.DocumentsDir,
		Strategy:     isync.Strategy(cfg.Sync.ConflictStrategy),
		Workers:      cfg.Sync.Workers,
		Exclude:      cfg.Monitor.Exclude,
		PurgeDeleted: cfg.Cache.PurgeDeleted,
		Watcher:      d.watcher,
	})
	if err != nil {
		return nil, err
	}

	d.monitor, err = monitor.NewMonitor(d.transport, &pipeline{d}, monitor.Options{
		RemoteDir:      cfg.Device.DocumentsDir,
		EventStream:    cfg.Monitor.EventStream,
		PollInterval:   cfg.Monitor.PollInterval.Std(),
		Debounce:       cfg.Monitor.Debounce.Std(),
		ReconnectDelay: cfg.Monitor.ReconnectDelay.Std(),
		Exclude:        cfg.Monitor.Exclude,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Outbox.Enabled {
		d.queue = outbox.NewStore(cfg.OutboxDBPath())
	}
	if cfg.Webhook.URL != "" {
		d.hook = webhook.NewNotifier(cfg.Webhook.URL, cfg.Webhook.Token,
			webhook.WithTimeout(cfg.Webhook.Timeout.Std()),
			webhook.WithRetries(cfg.Webhook.Retries))
	}
	if cfg.API.Enabled {
		d.api = statusapi.NewServer(
			statusapi.Config{Addr: cfg.API.Addr, Token: cfg.API.Token},
			d.sources(),
		)
	}

	return d, nil
}

// Start runs the daemon until ctx is cancelled or a component fails. It
// blocks; cancellation shuts everything down and returns nil.
func (d *Daemon) Start(ctx context.Context) error {
	slog.Info("daemon start",
		"cache", d.cache.Root,
		"device", d.cfg.Device.Host,
		"store", d.cfg.Device.DocumentsDir)

	if err := d.bootstrap(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = d.Stop(stopCtx)
		return err
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	eg, egCtx := errgroup.WithContext(runCtx)

	if d.api != nil {
		eg.Go(func() error {
			slog.Info("status api listening", "addr", d.cfg.API.Addr)
			if err := d.api.Start(egCtx); err != nil {
				return fmt.Errorf("status api: %w", err)
			}
			return nil
		})
	}

	monErrs := d.monitor.SubscribeErrors()
	eg.Go(func() error {
		for {
			select {
			case <-egCtx.Done():
				return nil
			case err, ok := <-monErrs:
				if !ok {
					return nil
				}
				slog.Warn("monitor error", "error", err)
			}
		}
	})

	if interval := d.cfg.Sync.FullSyncInterval.Std(); interval > 0 {
		eg.Go(func() error {
			d.fullSyncLoop(egCtx, interval)
			return nil
		})
	}

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("daemon shutting down")
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return d.Stop(stopCtx)
	})

	d.monitor.OnChange(func(_ context.Context, changes []document.Change) error {
		slog.Info("device changes", "docs", len(changes))
		return nil
	})

	// The transport is connected, so a failed first pass is an ordinary
	// sync error; the monitor keeps running and the periodic loop retries.
	if d.cfg.Sync.FullSyncOnStart {
		if res, err := d.fullSync(runCtx); err != nil {
			slog.Warn("initial full sync failed", "error", err)
		} else {
			slog.Info("initial full sync done",
				"synced", len(res.Synced),
				"failed", len(res.Failed),
				"deleted", len(res.Deleted),
				"skipped", len(res.Skipped))
		}
	}

	if err := d.monitor.Start(); err != nil {
		cancelRun()
		_ = eg.Wait()
		return fmt.Errorf("start monitor: %w", err)
	}

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("daemon failure", "error", err)
		return err
	}

	slog.Info("daemon stopped")
	return nil
}

// bootstrap takes the cache lock and brings up everything that must exist
// before the first sync.
func (d *Daemon) bootstrap(ctx context.Context) error {
	if err := d.cache.Setup(); err != nil {
		return fmt.Errorf("setup cache: %w", err)
	}
	if d.queue != nil {
		if err := d.queue.Open(); err != nil {
			return fmt.Errorf("open outbox: %w", err)
		}
		d.queueOpen = true
	}
	if err := d.engine.Initialize(); err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	if err := d.transport.Connect(ctx); err != nil {
		return fmt.Errorf("connect device: %w", err)
	}
	if err := d.watcher.Start(); err != nil {
		return fmt.Errorf("start local watcher: %w", err)
	}
	return nil
}

// Stop tears the daemon down in reverse bootstrap order. Safe to call more
// than once; later calls return the first result.
func (d *Daemon) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() {
		d.monitor.Stop()
		d.watcher.Stop()

		if d.api != nil {
			if err := d.api.Stop(ctx); err != nil {
				slog.Error("status api stop", "error", err)
				d.stopErr = err
			}
		}
		if d.hook != nil {
			d.hook.Close()
		}
		if err := d.transport.Close(); err != nil {
			slog.Error("transport close", "error", err)
		}
		if d.queue != nil && d.queueOpen {
			if err := d.queue.Close(); err != nil {
				slog.Error("outbox close", "error", err)
			}
		}
		if err := d.cache.Unlock(); err != nil {
			slog.Error("cache unlock", "error", err)
		}
	})
	return d.stopErr
}

// SyncOnce connects, runs a single full pass and tears everything down
// again. The monitor, watcher and API never start.
func (d *Daemon) SyncOnce(ctx context.Context) (*isync.Result, error) {
	if err := d.cache.Setup(); err != nil {
		return nil, fmt.Errorf("setup cache: %w", err)
	}
	defer d.cache.Unlock()

	if d.queue != nil {
		if err := d.queue.Open(); err != nil {
			return nil, fmt.Errorf("open outbox: %w", err)
		}
		d.queueOpen = true
		defer func() {
			d.queue.Close()
			d.queueOpen = false
		}()
	}
	if d.hook != nil {
		defer d.hook.Close()
	}

	if err := d.engine.Initialize(); err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	if err := d.transport.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect device: %w", err)
	}
	defer d.transport.Close()

	return d.fullSync(ctx)
}

// fullSync runs one engine pass and feeds the outcome to the side channels.
func (d *Daemon) fullSync(ctx context.Context) (*isync.Result, error) {
	res, err := d.engine.FullSync(ctx)
	if err != nil {
		return nil, err
	}
	d.afterSync(ctx, webhook.EventFullSync, res, nil)
	return res, nil
}

func (d *Daemon) fullSyncLoop(ctx context.Context, interval time.Duration) {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if res, err := d.fullSync(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("periodic full sync failed", "error", err)
		} else {
			slog.Info("periodic full sync done", "synced", len(res.Synced), "deleted", len(res.Deleted))
		}
		timer.Reset(interval)
	}
}

// afterSync records the outcome for the status API, queues synced and
// deleted documents in the outbox and posts the webhook. Side channel
// failures are logged and never bubble into the sync path.
func (d *Daemon) afterSync(ctx context.Context, event string, res *isync.Result, changes []document.Change) {
	d.lastResult.Store(res)

	if d.queue != nil && d.queueOpen {
		now := time.Now().UTC()
		for _, id := range res.Synced {
			if err := d.queue.Enqueue(id, outbox.ChangeSynced, now); err != nil {
				slog.Warn("outbox enqueue failed", "doc", id, "error", err)
			}
		}
		for _, id := range res.Deleted {
			if err := d.queue.Enqueue(id, outbox.ChangeDeleted, now); err != nil {
				slog.Warn("outbox enqueue failed", "doc", id, "error", err)
			}
		}
	}

	if d.hook != nil {
		if err := d.hook.Notify(ctx, event, res, changes); err != nil {
			slog.Warn("webhook delivery failed", "event", event, "error", err)
		}
	}
}

func (d *Daemon) sources() statusapi.Sources {
	src := statusapi.Sources{
		Monitor:     d.monitor,
		Engine:      d.engine,
		DisplayName: d.names.DisplayName,
		LastResult:  d.lastResult.Load,
		DirtyDocs:   d.watcher.DirtyDocs,
	}
	if d.queue != nil {
		src.Queue = d.queue
	}
	return src
}

// pipeline is the monitor's syncer: the engine pass plus the daemon's side
// channels, so the monitor stays unaware of outbox and webhook.
type pipeline struct {
	d *Daemon
}

func (p *pipeline) IncrementalSync(ctx context.Context, changes []document.Change) (*isync.Result, error) {
	res, err := p.d.engine.IncrementalSync(ctx, changes)
	if err != nil {
		return res, err
	}
	p.d.afterSync(ctx, webhook.EventIncremental, res, changes)
	return res, nil
}
