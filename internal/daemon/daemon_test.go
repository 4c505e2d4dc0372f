package daemon

import (
	"context"
	"encoding/json"
	"io"
	"log"
	stdsync "sync"
	"testing"
	"time"

	"github.com/reliefbase/fieldsync/internal/schema"
	"github.com/reliefbase/fieldsync/internal/sync"
)

// fakeEngine is a controllable sync.Engine recording pull/push invocations.
type fakeEngine struct {
	mu     stdsync.Mutex
	online bool
	pulls  int
	pushes int
}

func (f *fakeEngine) setOnline(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online = v
}

func (f *fakeEngine) counts() (pulls, pushes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pulls, f.pushes
}

func (f *fakeEngine) Online() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeEngine) SyncFromServer(ctx context.Context, orgID string) (*sync.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls++
	return &sync.Result{Success: true}, nil
}

func (f *fakeEngine) ProcessSyncQueue(ctx context.Context) (*sync.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes++
	return &sync.Result{Success: true}, nil
}

func (f *fakeEngine) QueueForSync(ctx context.Context, entityType, entityID string, action schema.Action, data json.RawMessage) error {
	return nil
}

func (f *fakeEngine) PendingCount(ctx context.Context) (int, error) { return 0, nil }
func (f *fakeEngine) RetryFailed(ctx context.Context) error         { return nil }
func (f *fakeEngine) ClearFailed(ctx context.Context) error         { return nil }

func quietConfig() *Config {
	return &Config{
		SyncInterval: time.Hour, // keep the periodic loop out of the way
		PollInterval: 10 * time.Millisecond,
		Logger:       log.New(io.Discard, "", 0),
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, "org-1", nil, nil); err == nil {
		t.Error("expected error for nil engine")
	}
	if _, err := New(&fakeEngine{}, "", nil, nil); err == nil {
		t.Error("expected error for empty org id")
	}
}

func TestNew_Defaults(t *testing.T) {
	d, err := New(&fakeEngine{}, "org-1", nil, &Config{Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	cfg := d.snapshot()
	if cfg.SyncInterval != 5*time.Minute {
		t.Errorf("SyncInterval = %v, want 5m", cfg.SyncInterval)
	}
	if cfg.PollInterval != 15*time.Second {
		t.Errorf("PollInterval = %v, want 15s", cfg.PollInterval)
	}
}

// TestDaemon_InitialSync tests that starting online runs one pull + drain
// before the loops take over.
func TestDaemon_InitialSync(t *testing.T) {
	eng := &fakeEngine{online: true}
	d, err := New(eng, "org-1", nil, quietConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	waitFor(t, func() bool {
		pulls, pushes := eng.counts()
		return pulls >= 1 && pushes >= 1
	}, "initial sync did not run")

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
}

// TestDaemon_OfflineStartSkipsSync tests that an offline startup performs
// no remote work.
func TestDaemon_OfflineStartSkipsSync(t *testing.T) {
	eng := &fakeEngine{online: false}
	d, err := New(eng, "org-1", nil, quietConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	if pulls, pushes := eng.counts(); pulls != 0 || pushes != 0 {
		t.Errorf("pulls=%d pushes=%d, want 0/0 while offline", pulls, pushes)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
}

// TestDaemon_ReconnectTriggersDrain tests the offline -> online transition
// path: the queue drains as soon as connectivity returns.
func TestDaemon_ReconnectTriggersDrain(t *testing.T) {
	eng := &fakeEngine{online: false}
	d, err := New(eng, "org-1", nil, quietConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	// Let the connectivity loop observe the offline state first
	time.Sleep(30 * time.Millisecond)
	eng.setOnline(true)

	waitFor(t, func() bool {
		pulls, pushes := eng.counts()
		return pulls >= 1 && pushes >= 1
	}, "reconnect did not trigger a drain")

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
}

// TestDaemon_ReloadAppliesIntervals tests the Reload hook plumbing without
// touching the filesystem watcher.
func TestDaemon_ReloadAppliesIntervals(t *testing.T) {
	cfg := quietConfig()
	cfg.Reload = func() (*Config, error) {
		return &Config{SyncInterval: time.Minute, PollInterval: time.Second}, nil
	}

	d, err := New(&fakeEngine{}, "org-1", nil, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	d.reloadConfig()

	got := d.snapshot()
	if got.SyncInterval != time.Minute {
		t.Errorf("SyncInterval = %v, want 1m", got.SyncInterval)
	}
	if got.PollInterval != time.Second {
		t.Errorf("PollInterval = %v, want 1s", got.PollInterval)
	}
}

// TestDaemon_ReloadKeepsSettingsOnZero tests that a reload leaving a field
// unset keeps the running value.
func TestDaemon_ReloadKeepsSettingsOnZero(t *testing.T) {
	cfg := quietConfig()
	cfg.Reload = func() (*Config, error) {
		return &Config{SyncInterval: 2 * time.Hour}, nil // PollInterval unset
	}

	d, err := New(&fakeEngine{}, "org-1", nil, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	before := d.snapshot().PollInterval
	d.reloadConfig()

	got := d.snapshot()
	if got.SyncInterval != 2*time.Hour {
		t.Errorf("SyncInterval = %v, want 2h", got.SyncInterval)
	}
	if got.PollInterval != before {
		t.Errorf("PollInterval = %v, want unchanged %v", got.PollInterval, before)
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
