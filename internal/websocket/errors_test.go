// internal/websocket/errors_test.go
package websocket

import (
	"errors"
	"fmt"
	"testing"

	"rewind/internal/checkpoint"
	"rewind/internal/projectpath"
)

func TestToRPCError_BatchRollback(t *testing.T) {
	err := &checkpoint.BatchRollbackError{
		Target: "u1",
		Results: []checkpoint.UnitResult{
			{ChangeUnit: "u3"},
			{ChangeUnit: "u2", Err: &checkpoint.AggregateRollbackError{
				ChangeUnit: "u2",
				Failures: []*checkpoint.RollbackError{
					{Path: "a.txt", Err: errors.New("permission denied")},
					{Path: "b/c.txt", Err: errors.New("is a directory")},
				},
			}},
			{ChangeUnit: "u1", Err: checkpoint.ErrSkipped},
		},
	}

	got := toRPCError(err)
	if got.Code != CodeBatchRollback || got.ChangeUnit != "u1" {
		t.Fatalf("Unexpected error header %+v", got)
	}
	if len(got.Units) != 3 {
		t.Fatalf("Expected 3 unit results, got %d", len(got.Units))
	}
	if got.Units[0].Error != "" || got.Units[0].Skipped {
		t.Errorf("Expected u3 to succeed, got %+v", got.Units[0])
	}
	failed := got.Units[1]
	if len(failed.Failures) != 2 || failed.Failures[0].Path != "a.txt" || failed.Failures[1].Path != "b/c.txt" {
		t.Errorf("Expected per-path failures for u2, got %+v", failed)
	}
	if !got.Units[2].Skipped {
		t.Errorf("Expected u1 to be skipped, got %+v", got.Units[2])
	}
}

func TestToRPCError_AggregateRollback(t *testing.T) {
	err := fmt.Errorf("rollback: %w", &checkpoint.AggregateRollbackError{
		ChangeUnit: "u7",
		Failures:   []*checkpoint.RollbackError{{Path: "x.go", Err: errors.New("disk full")}},
	})

	got := toRPCError(err)
	if got.Code != CodeRollbackFailed || got.ChangeUnit != "u7" {
		t.Fatalf("Unexpected error %+v", got)
	}
	if len(got.Failures) != 1 || got.Failures[0].Path != "x.go" || got.Failures[0].Error != "disk full" {
		t.Errorf("Unexpected failures %+v", got.Failures)
	}
}

func TestToRPCError_Codes(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: u9", checkpoint.ErrUnknownUnit), CodeUnknownUnit},
		{projectpath.ErrOutsideProject, CodeOutsideProject},
		{fmt.Errorf("%w: a.txt", checkpoint.ErrNotTracked), CodeNotTracked},
		{&checkpoint.CaptureError{Path: "a.txt", Err: checkpoint.ErrNotText}, CodeCaptureFailed},
		{fmt.Errorf("%w: Nope", ErrMethodNotFound), CodeMethodNotFound},
		{errors.New("boom"), CodeInternal},
	}

	for _, tt := range tests {
		if got := toRPCError(tt.err); got.Code != tt.want {
			t.Errorf("toRPCError(%v).Code = %s, want %s", tt.err, got.Code, tt.want)
		}
	}
	if toRPCError(nil) != nil {
		t.Error("Expected nil for nil error")
	}
}
