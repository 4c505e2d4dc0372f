// Package daemon runs the background sync loop for fieldsync.
//
// The daemon owns the externally triggered retries the core deliberately
// leaves out of the engine: it
//  1. Pulls cached collections and drains the queue on a fixed interval
//  2. Polls connectivity and drains the queue immediately on reconnect
//  3. Hot-reloads tuning (intervals, retry ceiling) when the config file
//     changes on disk
//  4. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	stdsync "sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/reliefbase/fieldsync/internal/dashboard"
	"github.com/reliefbase/fieldsync/internal/sync"
)

// Config holds daemon configuration. Interval fields may change at runtime
// through the Reload hook.
type Config struct {
	// SyncInterval is how often to run a full pull + queue drain.
	SyncInterval time.Duration

	// PollInterval is how often to check connectivity for the
	// reconnect-triggered drain.
	PollInterval time.Duration

	// ConfigFile, when set, is watched for changes; a write triggers the
	// Reload hook.
	ConfigFile string

	// Reload returns a fresh Config when the config file changes.
	// Only the interval fields are applied; nil disables hot reload.
	Reload func() (*Config, error)

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval: 5 * time.Minute,
		PollInterval: 15 * time.Second,
		Logger:       log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates periodic sync and reconnect handling.
type Daemon struct {
	engine sync.Engine
	orgID  string
	dash   *dashboard.Server // optional

	mu     stdsync.Mutex
	config *Config

	watcher *fsnotify.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     stdsync.WaitGroup
}

// New creates a new Daemon.
//
// The engine must be fully wired (store, remote client, connectivity
// provider). dash may be nil when no dashboard is running.
func New(engine sync.Engine, orgID string, dash *dashboard.Server, config *Config) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if orgID == "" {
		return nil, fmt.Errorf("orgID cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = 5 * time.Minute
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 15 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		engine: engine,
		orgID:  orgID,
		dash:   dash,
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// An initial sync runs immediately, then the background loops take over.
// This blocks until ctx is cancelled or startup fails.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger().Println("Starting daemon")

	if file := d.snapshot().ConfigFile; file != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create config watcher: %w", err)
		}
		// Watch the directory: editors often replace the file, which
		// drops a watch placed on the file itself.
		if err := watcher.Add(filepath.Dir(file)); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to watch config directory: %w", err)
		}
		d.watcher = watcher
		d.logger().Printf("Watching config: %s", file)
	}

	d.runSync("startup")

	n := 2
	if d.watcher != nil {
		n = 3
	}
	d.wg.Add(n)
	go d.syncLoop()
	go d.connectivityLoop()
	if d.watcher != nil {
		go d.watchConfig()
	}

	select {
	case <-ctx.Done():
		d.logger().Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.logger().Println("Stopping daemon")

	d.cancel()

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.logger().Printf("Error closing config watcher: %v", err)
		}
	}

	d.wg.Wait()

	d.logger().Println("Daemon stopped")
	return nil
}

// syncLoop runs the periodic pull + drain.
func (d *Daemon) syncLoop() {
	defer d.wg.Done()

	for {
		interval := d.snapshot().SyncInterval
		select {
		case <-d.ctx.Done():
			return
		case <-time.After(interval):
			d.runSync("interval")
		}
	}
}

// connectivityLoop watches for offline -> online transitions and drains
// the queue as soon as the device comes back.
func (d *Daemon) connectivityLoop() {
	defer d.wg.Done()

	wasOnline := d.engine.Online()

	for {
		interval := d.snapshot().PollInterval
		select {
		case <-d.ctx.Done():
			return
		case <-time.After(interval):
			online := d.engine.Online()
			if online && !wasOnline {
				d.logger().Println("Connectivity restored, draining queue")
				d.runSync("reconnect")
			}
			wasOnline = online
			d.broadcastConnectivity(online)
		}
	}
}

// runSync performs one pull + drain cycle and broadcasts the outcome.
func (d *Daemon) runSync(trigger string) {
	if !d.engine.Online() {
		d.logger().Printf("Sync (%s) skipped: offline", trigger)
		return
	}

	pull, err := d.engine.SyncFromServer(d.ctx, d.orgID)
	if err != nil {
		d.logger().Printf("Sync (%s) pull error: %v", trigger, err)
	} else {
		d.logger().Printf("Sync (%s) pull: synced=%d failed=%d", trigger, pull.Synced, pull.Failed)
		d.broadcastResult(dashboard.MessageTypePullComplete, pull)
	}

	push, err := d.engine.ProcessSyncQueue(d.ctx)
	if err != nil {
		d.logger().Printf("Sync (%s) push error: %v", trigger, err)
		return
	}
	d.logger().Printf("Sync (%s) push: synced=%d failed=%d", trigger, push.Synced, push.Failed)
	d.broadcastResult(dashboard.MessageTypePushComplete, push)
}

// watchConfig applies interval changes when the config file is rewritten.
func (d *Daemon) watchConfig() {
	defer d.wg.Done()

	file := d.snapshot().ConfigFile

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(file) {
				continue
			}
			d.reloadConfig()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger().Printf("Config watcher error: %v", err)
		}
	}
}

// reloadConfig swaps in fresh interval settings from the Reload hook.
func (d *Daemon) reloadConfig() {
	reload := d.snapshot().Reload
	if reload == nil {
		return
	}

	fresh, err := reload()
	if err != nil {
		d.logger().Printf("Config reload failed: %v", err)
		return
	}

	d.mu.Lock()
	if fresh.SyncInterval > 0 {
		d.config.SyncInterval = fresh.SyncInterval
	}
	if fresh.PollInterval > 0 {
		d.config.PollInterval = fresh.PollInterval
	}
	syncInterval := d.config.SyncInterval
	pollInterval := d.config.PollInterval
	d.mu.Unlock()

	d.logger().Printf("Config reloaded: sync_interval=%v poll_interval=%v", syncInterval, pollInterval)
}

// snapshot returns a copy of the current config under the lock.
func (d *Daemon) snapshot() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return *d.config
}

func (d *Daemon) logger() *log.Logger {
	return d.snapshot().Logger
}

func (d *Daemon) broadcastResult(typ dashboard.MessageType, result *sync.Result) {
	if d.dash == nil {
		return
	}
	d.dash.BroadcastResult(typ, result.Success, result.Synced, result.Failed, result.Errors)
}

func (d *Daemon) broadcastConnectivity(online bool) {
	if d.dash == nil {
		return
	}
	d.dash.BroadcastConnectivity(online)
}
