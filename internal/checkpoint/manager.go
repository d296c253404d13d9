// internal/checkpoint/manager.go
package checkpoint

import (
	"fmt"
	"sort"
	"sync"

	"rewind/internal/projectpath"
)

// ManagerOptions configures every tracker a Manager creates
type ManagerOptions struct {
	// Tracker is the template for new trackers. Its Journal and Baseline are
	// replaced per project.
	Tracker Options
	// Storage journals operations and restores them on first use; optional.
	Storage *Storage
	// Baseline opens the baseline of a project; optional.
	Baseline func(projectRoot string) (Baseline, error)
}

// Manager owns one Tracker per project root
type Manager struct {
	opts     ManagerOptions
	mu       sync.RWMutex
	trackers map[string]*Tracker
}

// NewManager creates a new tracker manager
func NewManager(opts ManagerOptions) *Manager {
	return &Manager{
		opts:     opts,
		trackers: make(map[string]*Tracker),
	}
}

// ForProject gets or creates the tracker of projectRoot. A new tracker is
// restored from storage before it is returned.
func (m *Manager) ForProject(projectRoot string) (*Tracker, error) {
	root, err := projectpath.New(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	key := root.Dir()

	m.mu.RLock()
	tracker, exists := m.trackers[key]
	m.mu.RUnlock()
	if exists {
		return tracker, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if tracker, exists := m.trackers[key]; exists {
		return tracker, nil
	}

	opts := m.opts.Tracker
	opts.Journal = nil
	opts.Baseline = nil
	if m.opts.Storage != nil {
		opts.Journal = m.opts.Storage.Journal(key)
	}
	if m.opts.Baseline != nil {
		baseline, err := m.opts.Baseline(key)
		if err != nil {
			logf("[Manager] No baseline for %s: %v", key, err)
		} else {
			opts.Baseline = baseline
		}
	}

	tracker, err = NewTracker(key, opts)
	if err != nil {
		return nil, err
	}

	if m.opts.Storage != nil {
		ops, err := m.opts.Storage.Load(key)
		if err != nil {
			return nil, fmt.Errorf("restore journal: %w", err)
		}
		tracker.Restore(ops)
	}

	m.trackers[key] = tracker
	return tracker, nil
}

// Lookup returns the tracker of projectRoot if one was created
func (m *Manager) Lookup(projectRoot string) (*Tracker, bool) {
	root, err := projectpath.New(projectRoot)
	if err != nil {
		return nil, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	tracker, ok := m.trackers[root.Dir()]
	return tracker, ok
}

// Projects returns the roots with an active tracker
func (m *Manager) Projects() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	roots := make([]string, 0, len(m.trackers))
	for root := range m.trackers {
		roots = append(roots, root)
	}
	sort.Strings(roots)
	return roots
}

// Close clears the in-memory state of a project and forgets its tracker.
// Journaled operations are kept.
func (m *Manager) Close(projectRoot string) {
	root, err := projectpath.New(projectRoot)
	if err != nil {
		return
	}

	m.mu.Lock()
	tracker, ok := m.trackers[root.Dir()]
	delete(m.trackers, root.Dir())
	m.mu.Unlock()

	if ok {
		tracker.ClearCache()
	}
}
