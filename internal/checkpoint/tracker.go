// internal/checkpoint/tracker.go
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"rewind/internal/eventhub"
	"rewind/internal/predict"
	"rewind/internal/projectpath"
)

var logf = log.Printf

// CaptureTiming selects when the after-state of a tool is read.
type CaptureTiming string

const (
	// TimingCompletion reads the after-state when the tool reports completion.
	TimingCompletion CaptureTiming = "completion"
	// TimingInvocation reads it right after the pre-capture, except for files a
	// Write tool is about to create.
	TimingInvocation CaptureTiming = "invocation"
)

// ParseCaptureTiming validates a configured timing name
func ParseCaptureTiming(s string) (CaptureTiming, error) {
	switch CaptureTiming(s) {
	case "":
		return TimingCompletion, nil
	case TimingCompletion, TimingInvocation:
		return CaptureTiming(s), nil
	}
	return "", fmt.Errorf("unknown capture timing %q", s)
}

// Emitter receives tracking events
type Emitter interface {
	Emit(eventName string, data interface{})
}

// Journal persists operations so they survive a restart
type Journal interface {
	Append(op TrackedOperation) error
	RemoveChangeUnit(unit ChangeUnitID) error
}

// Options configures a Tracker. Only Timing has a meaningful zero value
// (completion); everything else is optional.
type Options struct {
	Timing      CaptureTiming
	MaxFileSize int64
	Predictor   *predict.Predictor
	Baseline    Baseline
	Journal     Journal
	Emitter     Emitter
	Metrics     *Metrics
}

type pendingStep struct {
	kind OperationKind
	path FilePath
	dest FilePath
	// existed is false when the path had no content to pre-capture.
	existed bool
}

// pendingCapture holds the work deferred until an invocation completes.
type pendingCapture struct {
	invocationID string
	unit         ChangeUnitID
	tool         ToolKind
	steps        []pendingStep
	registeredAt time.Time
}

// Tracker turns tool signals into tracked operations for one project and
// rolls change units back. Tool signals and rollbacks are serialized; ledger
// queries may run concurrently with them.
type Tracker struct {
	root   projectpath.Root
	opts   Options
	store  *ContentStore
	ledger *Ledger

	mu       sync.Mutex
	pending  map[string]*pendingCapture
	inflight map[FilePath]int

	driftMu sync.RWMutex
	drifted map[FilePath]ChangeUnitID
}

// NewTracker creates a tracker rooted at projectRoot
func NewTracker(projectRoot string, opts Options) (*Tracker, error) {
	root, err := projectpath.New(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	if opts.Timing == "" {
		opts.Timing = TimingCompletion
	}
	if opts.Predictor == nil {
		opts.Predictor = predict.New()
	}

	ledger := NewLedger()
	return &Tracker{
		root:     root,
		opts:     opts,
		store:    NewContentStore(root, ledger, opts.Baseline, opts.MaxFileSize),
		ledger:   ledger,
		pending:  make(map[string]*pendingCapture),
		inflight: make(map[FilePath]int),
		drifted:  make(map[FilePath]ChangeUnitID),
	}, nil
}

// Root returns the project directory
func (t *Tracker) Root() string {
	return t.root.Dir()
}

// Store exposes the content store
func (t *Tracker) Store() *ContentStore {
	return t.store
}

// OnToolInvoked handles the "about to run" signal of a tool. Capture failures
// are logged and never returned; only a done ctx is.
func (t *Tracker) OnToolInvoked(ctx context.Context, inv ToolInvocation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tool := ResolveTool(inv.Name)
	if tool == ToolUnsupported {
		return nil
	}
	defer t.opts.Metrics.observeCapture(tool, "invoked", time.Now())

	t.mu.Lock()
	defer t.mu.Unlock()

	var steps []pendingStep
	switch tool {
	case ToolRead:
		path := inv.TargetPath()
		if path == "" {
			return nil
		}
		if _, err := t.store.CaptureOriginal(path, inv.ChangeUnit); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logf("[Tracker] Read pre-capture failed: %v", err)
		}
		return nil

	case ToolEdit, ToolMultiEdit:
		if step, ok := t.prepareFile(tool, inv, KindModify); ok {
			steps = append(steps, step)
		}

	case ToolWrite:
		if step, ok := t.prepareFile(tool, inv, KindCreate); ok {
			steps = append(steps, step)
		}

	case ToolBash:
		command := inv.Command()
		if command == "" {
			return nil
		}
		for _, p := range t.opts.Predictor.Predict(command, t.root.Dir()) {
			if step, ok := t.prepare(tool, inv.ChangeUnit, OperationKind(p.Kind), FilePath(p.Path), FilePath(p.Destination)); ok {
				steps = append(steps, step)
			}
		}
	}

	t.schedule(inv, tool, steps)
	return nil
}

// OnToolCompleted handles the "finished" signal. Only invocations that left
// deferred work behind are affected.
func (t *Tracker) OnToolCompleted(ctx context.Context, invocationID string, unit ChangeUnitID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pending[invocationID]
	if !ok {
		return nil
	}
	delete(t.pending, invocationID)
	t.release(p)

	if unit != "" && unit != p.unit {
		logf("[Tracker] Invocation %s completed under change unit %s, recording under %s", invocationID, unit, p.unit)
	}

	defer t.opts.Metrics.observeCapture(p.tool, "completed", time.Now())
	for _, step := range p.steps {
		t.record(p.tool, p.unit, step)
	}
	return nil
}

func (t *Tracker) prepareFile(tool ToolKind, inv ToolInvocation, kind OperationKind) (pendingStep, bool) {
	path := inv.TargetPath()
	if path == "" {
		logf("[Tracker] %s invocation %s has no file path", tool, inv.ID)
		return pendingStep{}, false
	}
	rel, err := t.store.Normalize(path)
	if err != nil {
		t.captureFailed(tool, inv.ChangeUnit, err)
		return pendingStep{}, false
	}
	return t.prepare(tool, inv.ChangeUnit, kind, rel, "")
}

// prepare pre-captures whatever a step will need to be reversed. Creations of
// files that already exist are tracked as modifications so rollback restores
// rather than deletes them.
func (t *Tracker) prepare(tool ToolKind, unit ChangeUnitID, kind OperationKind, rel, dest FilePath) (pendingStep, bool) {
	step := pendingStep{kind: kind, path: rel, dest: dest}

	if kind == KindCreate || kind == KindCopy {
		if _, err := os.Lstat(t.root.Abs(string(rel))); err != nil {
			return step, true
		}
		step.kind = KindModify
	}

	if _, err := t.store.CaptureOriginal(string(rel), unit); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return step, true
		}
		t.captureFailed(tool, unit, err)
		return step, false
	}
	step.existed = true
	return step, true
}

// schedule records steps now or parks them until completion.
func (t *Tracker) schedule(inv ToolInvocation, tool ToolKind, steps []pendingStep) {
	deferAll := t.opts.Timing == TimingCompletion && inv.ID != ""

	var later []pendingStep
	for _, step := range steps {
		waitsForFile := tool == ToolWrite && step.kind == KindCreate && inv.ID != ""
		if deferAll || waitsForFile {
			later = append(later, step)
			continue
		}
		t.record(tool, inv.ChangeUnit, step)
	}
	if len(later) == 0 {
		return
	}

	p, ok := t.pending[inv.ID]
	if !ok {
		p = &pendingCapture{
			invocationID: inv.ID,
			unit:         inv.ChangeUnit,
			tool:         tool,
			registeredAt: time.Now(),
		}
		t.pending[inv.ID] = p
		t.opts.Metrics.pendingDelta(1)
	} else {
		logf("[Tracker] Invocation %s signalled twice, merging its targets", inv.ID)
	}
	p.steps = append(p.steps, later...)
	for _, step := range later {
		t.inflight[step.path]++
		if step.dest != "" {
			t.inflight[step.dest]++
		}
	}
}

func (t *Tracker) release(p *pendingCapture) {
	t.opts.Metrics.pendingDelta(-1)
	for _, step := range p.steps {
		t.unflight(step.path)
		if step.dest != "" {
			t.unflight(step.dest)
		}
	}
}

func (t *Tracker) unflight(path FilePath) {
	if t.inflight[path] <= 1 {
		delete(t.inflight, path)
		return
	}
	t.inflight[path]--
}

func (t *Tracker) record(tool ToolKind, unit ChangeUnitID, step pendingStep) {
	op, err := t.recordStep(unit, step)
	if err != nil {
		t.captureFailed(tool, unit, err)
		return
	}
	t.tracked(op)
}

func (t *Tracker) recordStep(unit ChangeUnitID, step pendingStep) (TrackedOperation, error) {
	path := string(step.path)
	switch step.kind {
	case KindCreate:
		return t.store.RecordCreation(path, unit)
	case KindCopy:
		return t.store.RecordCopy(path, unit)
	case KindModify:
		if !step.existed {
			return t.store.RecordCreation(path, unit)
		}
		return t.store.CaptureModified(path, unit, KindModify)
	case KindDelete:
		return t.store.RecordDeletion(path, unit)
	case KindMove, KindRename:
		return t.store.RecordMove(path, string(step.dest), unit, step.kind)
	}
	return nil, &CaptureError{Path: step.path, Err: fmt.Errorf("%w: %s", ErrInvalidKind, step.kind)}
}

func (t *Tracker) tracked(op TrackedOperation) {
	meta := op.Meta()
	t.opts.Metrics.operationTracked(meta.Kind)

	if t.opts.Journal != nil {
		if err := t.opts.Journal.Append(op); err != nil {
			logf("[Tracker] Failed to journal %s %s: %v", meta.Kind, meta.Path, err)
		}
	}

	event := eventhub.OperationTrackedEvent{
		ProjectRoot:  t.root.Dir(),
		ChangeUnitID: string(meta.ChangeUnit),
		Kind:         string(meta.Kind),
		Path:         string(meta.Path),
		Seq:          meta.Seq,
	}
	t.clearDrift(meta.Path)
	if c, ok := op.(*Change); ok && c.Destination != "" {
		event.Destination = string(c.Destination)
		t.clearDrift(c.Destination)
	}
	t.emit(eventhub.OperationTracked, event)
}

func (t *Tracker) captureFailed(tool ToolKind, unit ChangeUnitID, err error) {
	logf("[Tracker] %s: operation not tracked: %v", tool, err)
	t.opts.Metrics.captureFailed(tool)

	event := eventhub.CaptureFailedEvent{
		ProjectRoot:  t.root.Dir(),
		ChangeUnitID: string(unit),
		Error:        err.Error(),
	}
	var capErr *CaptureError
	if errors.As(err, &capErr) {
		event.Path = string(capErr.Path)
	}
	t.emit(eventhub.CaptureFailed, event)
}

// RollbackChangeUnit reverses every operation of unit, newest first. The unit
// is cleared only when all reversals succeed; otherwise an
// *AggregateRollbackError lists the failed paths and the unit stays intact.
func (t *Tracker) RollbackChangeUnit(ctx context.Context, unit ChangeUnitID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rollbackUnit(ctx, unit)
}

// RollbackToChangeUnit rolls back units in reverse of the given order. It
// stops at the first unit that fails; later units are reported as skipped.
func (t *Tracker) RollbackToChangeUnit(ctx context.Context, target ChangeUnitID, units []ChangeUnitID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	found := false
	for _, u := range units {
		if u == target {
			found = true
			break
		}
	}
	if !found {
		logf("[Tracker] Target change unit %s is not among the %d units to roll back", target, len(units))
	}

	results := make([]UnitResult, 0, len(units))
	failed := false
	for i := len(units) - 1; i >= 0; i-- {
		if failed {
			results = append(results, UnitResult{ChangeUnit: units[i], Err: ErrSkipped})
			continue
		}
		err := t.rollbackUnit(ctx, units[i])
		results = append(results, UnitResult{ChangeUnit: units[i], Err: err})
		failed = err != nil
	}

	if failed {
		return &BatchRollbackError{Target: target, Results: results}
	}
	return nil
}

func (t *Tracker) rollbackUnit(ctx context.Context, unit ChangeUnitID) error {
	ops := t.ledger.OperationsFor(unit)
	if len(ops) == 0 {
		return nil
	}
	start := time.Now()

	var failures []*RollbackError
	for i := len(ops) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			for _, op := range ops[:i+1] {
				failures = append(failures, &RollbackError{Path: op.Meta().Path, Err: err})
			}
			break
		}

		err := t.store.RollbackOperation(ops[i])
		if err == nil {
			continue
		}
		var rbErr *RollbackError
		if !errors.As(err, &rbErr) {
			rbErr = &RollbackError{Path: ops[i].Meta().Path, Err: err}
		}
		logf("[Tracker] %v", rbErr)
		failures = append(failures, rbErr)
	}

	t.opts.Metrics.observeRollback(len(failures) > 0, start)

	if len(failures) > 0 {
		t.opts.Metrics.rollbackFailed(len(failures))
		details := make(map[string]string, len(failures))
		for _, f := range failures {
			details[string(f.Path)] = f.Err.Error()
		}
		t.emit(eventhub.RollbackFailed, eventhub.RollbackFailedEvent{
			ProjectRoot:  t.root.Dir(),
			ChangeUnitID: string(unit),
			Failures:     details,
		})
		return &AggregateRollbackError{ChangeUnit: unit, Failures: failures}
	}

	t.ledger.Remove(unit)
	t.store.Forget(unit)
	t.dropPending(unit)
	for _, op := range ops {
		t.clearDrift(op.Meta().Path)
		if c, ok := op.(*Change); ok && c.Destination != "" {
			t.clearDrift(c.Destination)
		}
	}
	if t.opts.Journal != nil {
		if err := t.opts.Journal.RemoveChangeUnit(unit); err != nil {
			logf("[Tracker] Failed to remove change unit %s from journal: %v", unit, err)
		}
	}

	logf("[Tracker] Rolled back change unit %s (%d operations)", unit, len(ops))
	t.emit(eventhub.RollbackCompleted, eventhub.RollbackCompletedEvent{
		ProjectRoot:  t.root.Dir(),
		ChangeUnitID: string(unit),
		Operations:   len(ops),
	})
	return nil
}

// dropPending discards deferred work of a unit that was just rolled back.
func (t *Tracker) dropPending(unit ChangeUnitID) {
	for id, p := range t.pending {
		if p.unit == unit {
			delete(t.pending, id)
			t.release(p)
		}
	}
}

// HasOperations reports whether unit has tracked operations
func (t *Tracker) HasOperations(unit ChangeUnitID) bool {
	return t.ledger.HasOperations(unit)
}

// OperationsFor returns unit's operations in chronological order
func (t *Tracker) OperationsFor(unit ChangeUnitID) []TrackedOperation {
	return t.ledger.OperationsFor(unit)
}

// Units returns every change unit with operations in first-seen order
func (t *Tracker) Units() []ChangeUnitID {
	return t.ledger.Units()
}

// RollbackCount returns how many units a reset to target would undo
func (t *Tracker) RollbackCount(target ChangeUnitID, allUnits []ChangeUnitID) int {
	return t.ledger.RollbackCount(target, allUnits)
}

// Summarize rolls up units (all when none are given) and adds drifted paths.
func (t *Tracker) Summarize(units ...ChangeUnitID) Summary {
	summary := t.ledger.Summarize(units...)

	inScope := make(map[ChangeUnitID]bool, len(units))
	for _, u := range units {
		inScope[u] = true
	}

	t.driftMu.RLock()
	for path, unit := range t.drifted {
		if len(units) == 0 || inScope[unit] {
			summary.Drifted = append(summary.Drifted, path)
		}
	}
	t.driftMu.RUnlock()

	sort.Slice(summary.Drifted, func(i, j int) bool { return summary.Drifted[i] < summary.Drifted[j] })
	return summary
}

// PendingCount returns how many invocations await completion
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// ClearCache drops all in-memory snapshots, operations, pending captures and
// drift marks. The journal is left untouched.
func (t *Tracker) ClearCache() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.opts.Metrics.pendingDelta(-len(t.pending))
	t.pending = make(map[string]*pendingCapture)
	t.inflight = make(map[FilePath]int)
	t.store.Reset()
	t.ledger.Reset()

	t.driftMu.Lock()
	t.drifted = make(map[FilePath]ChangeUnitID)
	t.driftMu.Unlock()

	t.emit(eventhub.CacheCleared, eventhub.CacheClearedEvent{ProjectRoot: t.root.Dir()})
}

// Restore appends previously journaled operations without journaling them
// again. ops must be oldest first, as Storage.Load returns them; each one is
// stamped with a fresh sequence number.
func (t *Tracker) Restore(ops []TrackedOperation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, op := range ops {
		t.ledger.Append(op)
	}
	if len(ops) > 0 {
		logf("[Tracker] Restored %d operations for %s", len(ops), t.root.Dir())
	}
}

// ObserveFileChange checks a path reported by the file watcher against its
// latest tracked state and marks it drifted when they disagree. Paths touched
// by an invocation that has not completed yet are ignored.
func (t *Tracker) ObserveFileChange(path string) {
	if t.opts.Timing != TimingCompletion {
		return
	}
	rel, err := t.root.Rel(path)
	if err != nil {
		return
	}
	fp := FilePath(rel)

	t.mu.Lock()
	busy := t.inflight[fp] > 0
	t.mu.Unlock()
	if busy {
		return
	}

	op, ok := t.ledger.Latest(fp)
	if !ok {
		return
	}
	wantExists, wantHash := expectedState(op, fp)

	current, err := t.store.Current(fp)
	exists := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		logf("[Tracker] Drift check for %s skipped: %v", fp, err)
		return
	}

	if exists == wantExists && (!exists || current.Hash == wantHash) {
		t.clearDrift(fp)
		return
	}

	unit := op.Meta().ChangeUnit
	t.driftMu.Lock()
	_, already := t.drifted[fp]
	t.drifted[fp] = unit
	t.driftMu.Unlock()
	if already {
		return
	}

	logf("[Tracker] %s changed outside tracked operations", fp)
	t.emit(eventhub.DriftDetected, eventhub.DriftDetectedEvent{
		ProjectRoot:  t.root.Dir(),
		Path:         string(fp),
		ChangeUnitID: string(unit),
		Exists:       exists,
	})
}

// expectedState returns whether path should exist after op and its hash.
func expectedState(op TrackedOperation, path FilePath) (bool, string) {
	switch o := op.(type) {
	case *Creation:
		return true, o.Modified.Hash
	case *Deletion:
		return false, ""
	case *Change:
		if o.Kind == KindModify {
			return true, o.Modified.Hash
		}
		if o.Destination == path {
			return true, o.Modified.Hash
		}
		return false, ""
	}
	return false, ""
}

func (t *Tracker) clearDrift(path FilePath) {
	t.driftMu.Lock()
	delete(t.drifted, path)
	t.driftMu.Unlock()
}

func (t *Tracker) emit(name string, payload interface{}) {
	if t.opts.Emitter != nil {
		t.opts.Emitter.Emit(name, payload)
	}
}
