// app.go
package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"rewind/internal/checkpoint"
	"rewind/internal/config"
	"rewind/internal/database"
	"rewind/internal/eventhub"
	"rewind/internal/git"
	"rewind/internal/predict"
	"rewind/internal/projectpath"
	"rewind/internal/watcher"
)

// App struct contains the core application state and managers. Its exported
// methods are the RPC surface of the websocket server.
type App struct {
	ctx    context.Context
	mu     sync.RWMutex
	config *config.Config

	// Core managers
	dbManager  *database.Database
	storage    *checkpoint.Storage
	manager    *checkpoint.Manager
	eventHub   *eventhub.EventHub
	gitWatcher *git.GitWatcher
	predictor  *predict.Predictor
	registry   *prometheus.Registry

	// watchDrift enables a project watcher for every tracked project
	watchDrift bool
	watchers   map[string]*watcher.Watcher
}

// NewApp creates a new App application struct
func NewApp(cfg *config.Config) *App {
	return &App{
		config:   cfg,
		watchers: make(map[string]*watcher.Watcher),
	}
}

// startup opens the journal and builds the tracker manager. serving enables
// the project and git watchers.
func (a *App) startup(ctx context.Context, serving bool) error {
	a.ctx = ctx
	tracking := a.config.Tracking

	timing, err := checkpoint.ParseCaptureTiming(tracking.CaptureTiming)
	if err != nil {
		return err
	}

	// Initialize database
	db, err := database.Open(a.config.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.dbManager = db

	storage, err := checkpoint.NewStorage(a.config.BaseDir, db, tracking.CompressionLevel)
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to open content pool: %w", err)
	}
	a.storage = storage

	// Initialize EventHub (before managers that need it)
	a.eventHub = eventhub.New(ctx)
	a.predictor = predict.New()

	var metrics *checkpoint.Metrics
	if tracking.Metrics {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = checkpoint.NewMetrics(a.registry)
	}

	opts := checkpoint.ManagerOptions{
		Tracker: checkpoint.Options{
			Timing:      timing,
			MaxFileSize: tracking.MaxFileSize,
			Predictor:   a.predictor,
			Emitter:     a.eventHub,
			Metrics:     metrics,
		},
		Storage: storage,
	}
	if tracking.GitBaseline {
		opts.Baseline = openBaseline
	}
	a.manager = checkpoint.NewManager(opts)

	if serving {
		a.watchDrift = tracking.WatchDrift
		a.gitWatcher = git.NewGitWatcher(a.eventHub)
	}

	log.Printf("[App] rewind started (base %s, timing %s)", a.config.BaseDir, timing)
	return nil
}

// openBaseline adapts a git repository to the checkpoint baseline
func openBaseline(projectRoot string) (checkpoint.Baseline, error) {
	repo, err := git.Open(projectRoot)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// shutdown stops the watchers and closes the journal
func (a *App) shutdown() {
	a.mu.Lock()
	for root, w := range a.watchers {
		w.Close()
		delete(a.watchers, root)
	}
	a.mu.Unlock()

	// Close GitWatcher
	if a.gitWatcher != nil {
		a.gitWatcher.Close()
	}

	if a.storage != nil {
		a.storage.Close()
	}

	// Close database
	if a.dbManager != nil {
		a.dbManager.Close()
	}

	log.Printf("[App] rewind shutdown complete")
}

// tracker returns the tracker of a project, starting its watchers on first use
func (a *App) tracker(projectRoot string) (*checkpoint.Tracker, error) {
	if a.manager == nil {
		return nil, fmt.Errorf("app not started")
	}
	t, err := a.manager.ForProject(projectRoot)
	if err != nil {
		return nil, err
	}
	if a.watchDrift {
		a.watch(t)
	}
	return t, nil
}

func (a *App) watch(t *checkpoint.Tracker) {
	root := t.Root()

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.watchers[root]; ok {
		return
	}

	w, err := watcher.NewWithOptions(root, 200*time.Millisecond, watcher.Options{
		Recursive: true,
		Ignore:    a.config.Tracking.IgnoreDirs,
	}, func(e watcher.Event) {
		t.ObserveFileChange(e.Path)
	})
	if err != nil {
		log.Printf("[App] Failed to watch %s: %v", root, err)
		return
	}
	if err := w.Start(); err != nil {
		w.Close()
		log.Printf("[App] Failed to start watcher for %s: %v", root, err)
		return
	}
	a.watchers[root] = w

	if a.gitWatcher != nil {
		if err := a.gitWatcher.Watch(root); err != nil {
			log.Printf("[App] No git watcher for %s: %v", root, err)
		}
	}
}

// projectKey resolves a project root the way the tracker manager does
func projectKey(projectRoot string) (string, error) {
	root, err := projectpath.New(projectRoot)
	if err != nil {
		return "", err
	}
	return root.Dir(), nil
}

// OnToolInvoked forwards an "about to run" tool signal to the project tracker
func (a *App) OnToolInvoked(projectRoot string, inv checkpoint.ToolInvocation) error {
	t, err := a.tracker(projectRoot)
	if err != nil {
		return err
	}
	return t.OnToolInvoked(a.ctx, inv)
}

// OnToolCompleted forwards a "finished" tool signal to the project tracker
func (a *App) OnToolCompleted(projectRoot, invocationID string, unit checkpoint.ChangeUnitID) error {
	t, err := a.tracker(projectRoot)
	if err != nil {
		return err
	}
	return t.OnToolCompleted(a.ctx, invocationID, unit)
}

// RollbackChangeUnit restores the files touched by one change unit
func (a *App) RollbackChangeUnit(projectRoot string, unit checkpoint.ChangeUnitID) error {
	t, err := a.tracker(projectRoot)
	if err != nil {
		return err
	}
	return t.RollbackChangeUnit(a.ctx, unit)
}

// RollbackToChangeUnit rolls back target and every later unit of units.
// An empty units list uses the journaled units of the project. Units before
// target are left alone.
func (a *App) RollbackToChangeUnit(projectRoot string, target checkpoint.ChangeUnitID, units []checkpoint.ChangeUnitID) error {
	t, err := a.tracker(projectRoot)
	if err != nil {
		return err
	}
	if len(units) == 0 {
		units = t.Units()
	}
	affected, err := checkpoint.UnitsFrom(target, units)
	if err != nil {
		return err
	}
	return t.RollbackToChangeUnit(a.ctx, target, affected)
}

// HasOperations reports whether a change unit has tracked operations
func (a *App) HasOperations(projectRoot string, unit checkpoint.ChangeUnitID) (bool, error) {
	t, err := a.tracker(projectRoot)
	if err != nil {
		return false, err
	}
	return t.HasOperations(unit), nil
}

// Summarize groups the tracked paths of the given units, or of all units
func (a *App) Summarize(projectRoot string, units []checkpoint.ChangeUnitID) (checkpoint.Summary, error) {
	t, err := a.tracker(projectRoot)
	if err != nil {
		return checkpoint.Summary{}, err
	}
	return t.Summarize(units...), nil
}

// RollbackCount returns how many units RollbackToChangeUnit would revert
func (a *App) RollbackCount(projectRoot string, target checkpoint.ChangeUnitID, units []checkpoint.ChangeUnitID) (int, error) {
	t, err := a.tracker(projectRoot)
	if err != nil {
		return 0, err
	}
	if len(units) == 0 {
		units = t.Units()
	}
	return t.RollbackCount(target, units), nil
}

// Operations lists the tracked operations of a change unit
func (a *App) Operations(projectRoot string, unit checkpoint.ChangeUnitID) ([]checkpoint.TrackedOperation, error) {
	t, err := a.tracker(projectRoot)
	if err != nil {
		return nil, err
	}
	return t.OperationsFor(unit), nil
}

// Diff renders what a change unit did to one file
func (a *App) Diff(projectRoot string, unit checkpoint.ChangeUnitID, path string) (*checkpoint.FileDiff, error) {
	t, err := a.tracker(projectRoot)
	if err != nil {
		return nil, err
	}
	return t.Diff(unit, path)
}

// ClearCache drops the in-memory tracking state of a project
func (a *App) ClearCache(projectRoot string) error {
	t, err := a.tracker(projectRoot)
	if err != nil {
		return err
	}
	t.ClearCache()
	return nil
}

// ResetProject forgets everything tracked for a project, in memory and in
// the journal. Files on disk are left as they are.
func (a *App) ResetProject(projectRoot string) error {
	key, err := projectKey(projectRoot)
	if err != nil {
		return err
	}
	a.manager.Close(key)

	a.mu.Lock()
	if w, ok := a.watchers[key]; ok {
		w.Close()
		delete(a.watchers, key)
	}
	a.mu.Unlock()
	if a.gitWatcher != nil {
		a.gitWatcher.Unwatch(key)
	}

	return a.storage.Purge(key)
}

// Predict lists the file operations a shell command is expected to perform
func (a *App) Predict(command, projectRoot string) []predict.Prediction {
	if a.predictor == nil {
		return predict.Predict(command, projectRoot)
	}
	return a.predictor.Predict(command, projectRoot)
}

// Units lists the journaled change units of a project
func (a *App) Units(projectRoot string) ([]*database.ChangeUnit, error) {
	key, err := projectKey(projectRoot)
	if err != nil {
		return nil, err
	}
	return a.storage.Units(key)
}

// Projects lists every project with journaled operations
func (a *App) Projects() ([]*database.Project, error) {
	return a.storage.Projects()
}

// PurgeContent removes pooled content no longer referenced by the journal
func (a *App) PurgeContent() (int, error) {
	return a.storage.CollectGarbage()
}

// GitStatus reports the git state of a project
func (a *App) GitStatus(projectRoot string) (eventhub.GitChangedEvent, error) {
	key, err := projectKey(projectRoot)
	if err != nil {
		return eventhub.GitChangedEvent{}, err
	}
	repo, err := git.Open(key)
	if err != nil {
		return eventhub.GitChangedEvent{}, err
	}
	return git.StatusEvent(key, repo)
}

// setBroadcaster 设置 EventHub 的广播器（用于 WebSocket 模式）
func (a *App) setBroadcaster(broadcaster eventhub.Broadcaster) {
	if a.eventHub != nil {
		a.eventHub.SetBroadcaster(broadcaster)
	}
}
