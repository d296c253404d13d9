// internal/checkpoint/errors.go
package checkpoint

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotRegularFile = errors.New("not a regular file")
	ErrFileTooLarge   = errors.New("file exceeds capture size limit")
	ErrNotText        = errors.New("content is not valid UTF-8")
	ErrInvalidKind    = errors.New("invalid operation kind")
	ErrSkipped        = errors.New("skipped after earlier unit failed")
	ErrNotTracked     = errors.New("no tracked operation for path")
	ErrUnknownUnit    = errors.New("change unit not found")
)

// CaptureError reports that a file's content could not be read for tracking.
// It is logged by the tracker and never aborts a turn.
type CaptureError struct {
	Path FilePath
	Err  error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Path, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// RollbackError reports that reversing one operation failed.
type RollbackError struct {
	Path FilePath
	Err  error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback %s: %v", e.Path, e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }

// AggregateRollbackError lists every failed path of a change unit rollback.
// The unit's operations are left in the ledger so the rollback can be retried.
type AggregateRollbackError struct {
	ChangeUnit ChangeUnitID
	Failures   []*RollbackError
}

func (e *AggregateRollbackError) Error() string {
	paths := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		paths = append(paths, string(f.Path))
	}
	return fmt.Sprintf("rollback of change unit %s failed for %d path(s): %s",
		e.ChangeUnit, len(e.Failures), strings.Join(paths, ", "))
}

func (e *AggregateRollbackError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	return errs
}

// UnitResult is the outcome of one unit inside a batch rollback
type UnitResult struct {
	ChangeUnit ChangeUnitID `json:"change_unit_id"`
	Err        error        `json:"-"`
}

// BatchRollbackError is returned by RollbackToChangeUnit when any unit fails.
// Units that completed before the failure stay rolled back.
type BatchRollbackError struct {
	Target  ChangeUnitID
	Results []UnitResult
}

func (e *BatchRollbackError) Error() string {
	var failed []string
	for _, r := range e.Results {
		if r.Err != nil && !errors.Is(r.Err, ErrSkipped) {
			failed = append(failed, string(r.ChangeUnit))
		}
	}
	return fmt.Sprintf("rollback to change unit %s failed: %s", e.Target, strings.Join(failed, ", "))
}

func (e *BatchRollbackError) Unwrap() []error {
	var errs []error
	for _, r := range e.Results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errs
}
