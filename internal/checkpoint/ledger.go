// internal/checkpoint/ledger.go
package checkpoint

import (
	"fmt"
	"sort"
	"sync"
)

// Ledger holds tracked operations per change unit in append order.
type Ledger struct {
	mu    sync.RWMutex
	seq   uint64
	units []ChangeUnitID
	ops   map[ChangeUnitID][]TrackedOperation
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{
		ops: make(map[ChangeUnitID][]TrackedOperation),
	}
}

// Append stamps op with the next sequence number and adds it to its unit.
func (l *Ledger) Append(op TrackedOperation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	meta := op.base()
	meta.Seq = l.seq

	if _, ok := l.ops[meta.ChangeUnit]; !ok {
		l.units = append(l.units, meta.ChangeUnit)
	}
	l.ops[meta.ChangeUnit] = append(l.ops[meta.ChangeUnit], op)
}

// HasOperations reports whether unit has any tracked operation
func (l *Ledger) HasOperations(unit ChangeUnitID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ops[unit]) > 0
}

// OperationsFor returns a chronological copy of unit's operations
func (l *Ledger) OperationsFor(unit ChangeUnitID) []TrackedOperation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ops := l.ops[unit]
	out := make([]TrackedOperation, len(ops))
	copy(out, ops)
	return out
}

// Units returns every unit with operations in first-seen order
func (l *Ledger) Units() []ChangeUnitID {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]ChangeUnitID, len(l.units))
	copy(out, l.units)
	return out
}

// Remove drops every operation of unit
func (l *Ledger) Remove(unit ChangeUnitID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.ops[unit]; !ok {
		return
	}
	delete(l.ops, unit)
	for i, u := range l.units {
		if u == unit {
			l.units = append(l.units[:i], l.units[i+1:]...)
			break
		}
	}
}

// Reset drops everything
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.units = nil
	l.ops = make(map[ChangeUnitID][]TrackedOperation)
}

// Latest returns the most recent operation that touched path, either as its
// source or as a move destination.
func (l *Ledger) Latest(path FilePath) (TrackedOperation, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var latest TrackedOperation
	for _, ops := range l.ops {
		for _, op := range ops {
			if !touches(op, path) {
				continue
			}
			if latest == nil || op.Meta().Seq > latest.Meta().Seq {
				latest = op
			}
		}
	}
	return latest, latest != nil
}

func touches(op TrackedOperation, path FilePath) bool {
	if op.Meta().Path == path {
		return true
	}
	c, ok := op.(*Change)
	return ok && c.Destination == path
}

// Summarize rolls up the operations of units, or of every unit when none are
// given. Paths appear at most once per category and are sorted.
func (l *Ledger) Summarize(units ...ChangeUnitID) Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	scope := units
	if len(scope) == 0 {
		scope = l.units
	}

	created := make(map[FilePath]struct{})
	modified := make(map[FilePath]struct{})
	deleted := make(map[FilePath]struct{})
	moved := make(map[MovedPair]struct{})

	var summary Summary
	seen := make(map[ChangeUnitID]bool, len(scope))
	for _, unit := range scope {
		if seen[unit] {
			continue
		}
		seen[unit] = true

		ops := l.ops[unit]
		if len(ops) == 0 {
			continue
		}
		summary.UnitCount++
		summary.TotalOperations += len(ops)

		for _, op := range ops {
			meta := op.Meta()
			switch meta.Kind {
			case KindCreate, KindCopy:
				created[meta.Path] = struct{}{}
			case KindModify:
				modified[meta.Path] = struct{}{}
			case KindDelete:
				deleted[meta.Path] = struct{}{}
			case KindMove, KindRename:
				pair := MovedPair{From: meta.Path}
				if c, ok := op.(*Change); ok {
					pair.To = c.Destination
				}
				moved[pair] = struct{}{}
			}
		}
	}

	summary.Created = sortedPaths(created)
	summary.Modified = sortedPaths(modified)
	summary.Deleted = sortedPaths(deleted)
	summary.Moved = make([]MovedPair, 0, len(moved))
	for pair := range moved {
		summary.Moved = append(summary.Moved, pair)
	}
	sort.Slice(summary.Moved, func(i, j int) bool {
		if summary.Moved[i].From != summary.Moved[j].From {
			return summary.Moved[i].From < summary.Moved[j].From
		}
		return summary.Moved[i].To < summary.Moved[j].To
	})
	return summary
}

// RollbackCount returns how many units from target to the end of allUnits
// have operations, i.e. what a reset to target would undo. It is 0 when
// target is not in allUnits.
func (l *Ledger) RollbackCount(target ChangeUnitID, allUnits []ChangeUnitID) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	start := -1
	for i, u := range allUnits {
		if u == target {
			start = i
			break
		}
	}
	if start < 0 {
		return 0
	}

	count := 0
	for _, u := range allUnits[start:] {
		if len(l.ops[u]) > 0 {
			count++
		}
	}
	return count
}

// UnitsFrom returns target and every unit after it in units, the slice a
// reset to target rolls back.
func UnitsFrom(target ChangeUnitID, units []ChangeUnitID) ([]ChangeUnitID, error) {
	for i, u := range units {
		if u == target {
			return units[i:], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownUnit, target)
}

func sortedPaths(set map[FilePath]struct{}) []FilePath {
	paths := make([]FilePath, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	return paths
}
