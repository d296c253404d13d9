// internal/checkpoint/diff.go
package checkpoint

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// FileDiff is a line diff of one path across a change unit, from the content
// before the unit's first operation to the content after its last.
type FileDiff struct {
	ChangeUnit ChangeUnitID `json:"change_unit_id"`
	Path       FilePath     `json:"path"`
	Kinds      []string     `json:"kinds"`
	Added      int          `json:"added"`
	Removed    int          `json:"removed"`
	Text       string       `json:"text"`
}

// Diff renders the change a unit made to path
func (t *Tracker) Diff(unit ChangeUnitID, path string) (*FileDiff, error) {
	rel, err := t.root.Rel(path)
	if err != nil {
		return nil, err
	}
	fp := FilePath(rel)

	var touched []TrackedOperation
	for _, op := range t.ledger.OperationsFor(unit) {
		if touches(op, fp) {
			touched = append(touched, op)
		}
	}
	if len(touched) == 0 {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotTracked, fp, unit)
	}

	before, _ := sideOf(touched[0], fp)
	_, after := sideOf(touched[len(touched)-1], fp)

	d := &FileDiff{ChangeUnit: unit, Path: fp}
	for _, op := range touched {
		d.Kinds = append(d.Kinds, string(op.Meta().Kind))
	}
	d.Text, d.Added, d.Removed = renderLineDiff(before, after)
	return d, nil
}

// sideOf returns the before and after content of path for op. A move's
// source has no after-content and its destination no before-content.
func sideOf(op TrackedOperation, path FilePath) (before, after string) {
	original, modified := Snapshots(op)
	if c, ok := op.(*Change); ok && c.Kind != KindModify {
		if c.Destination == path {
			original = nil
		} else {
			modified = nil
		}
	}
	if original != nil {
		before = string(original.Content)
	}
	if modified != nil {
		after = string(modified.Content)
	}
	return before, after
}

func renderLineDiff(before, after string) (text string, added, removed int) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var sb strings.Builder
	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		}
		for _, line := range splitLines(d.Text) {
			sb.WriteString(prefix)
			sb.WriteString(line)
			sb.WriteByte('\n')
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				added++
			case diffmatchpatch.DiffDelete:
				removed++
			}
		}
	}
	return sb.String(), added, removed
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
