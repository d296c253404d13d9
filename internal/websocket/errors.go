// internal/websocket/errors.go
package websocket

import (
	"errors"

	"rewind/internal/checkpoint"
	"rewind/internal/projectpath"
)

// RPC 错误码
const (
	CodeMethodNotFound = "method_not_found"
	CodeInvalidParams  = "invalid_params"
	CodeUnknownUnit    = "unknown_change_unit"
	CodeOutsideProject = "outside_project"
	CodeNotTracked     = "not_tracked"
	CodeCaptureFailed  = "capture_failed"
	CodeRollbackFailed = "rollback_failed"
	CodeBatchRollback  = "batch_rollback_failed"
	CodeInternal       = "internal"
)

var (
	// ErrMethodNotFound 表示 RPC 方法不存在
	ErrMethodNotFound = errors.New("method not found")
	// ErrInvalidParams 表示参数数量或类型不匹配
	ErrInvalidParams = errors.New("invalid params")
)

// RPCError 是返回给前端的结构化错误
type RPCError struct {
	Code       string        `json:"code"`
	Message    string        `json:"message"`
	ChangeUnit string        `json:"change_unit_id,omitempty"`
	// 回滚失败的文件
	Failures   []PathFailure `json:"failures,omitempty"`
	// 批量回滚中每个变更单元的结果
	Units      []UnitFailure `json:"units,omitempty"`
}

// PathFailure 描述单个文件的失败原因
type PathFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// UnitFailure 描述批量回滚中一个变更单元的结果
type UnitFailure struct {
	ChangeUnit string        `json:"change_unit_id"`
	Skipped    bool          `json:"skipped,omitempty"`
	Error      string        `json:"error,omitempty"`
	Failures   []PathFailure `json:"failures,omitempty"`
}

// toRPCError 将领域错误映射为结构化错误，让前端能列出受影响的文件
func toRPCError(err error) *RPCError {
	if err == nil {
		return nil
	}
	e := &RPCError{Code: CodeInternal, Message: err.Error()}

	var (
		batch     *checkpoint.BatchRollbackError
		aggregate *checkpoint.AggregateRollbackError
		rollback  *checkpoint.RollbackError
		capture   *checkpoint.CaptureError
	)
	switch {
	case errors.As(err, &batch):
		e.Code = CodeBatchRollback
		e.ChangeUnit = string(batch.Target)
		for _, r := range batch.Results {
			e.Units = append(e.Units, unitFailure(r))
		}
	case errors.As(err, &aggregate):
		e.Code = CodeRollbackFailed
		e.ChangeUnit = string(aggregate.ChangeUnit)
		e.Failures = pathFailures(aggregate.Failures)
	case errors.As(err, &rollback):
		e.Code = CodeRollbackFailed
		e.Failures = pathFailures([]*checkpoint.RollbackError{rollback})
	case errors.As(err, &capture):
		e.Code = CodeCaptureFailed
		e.Failures = []PathFailure{{Path: string(capture.Path), Error: capture.Err.Error()}}
	case errors.Is(err, ErrMethodNotFound):
		e.Code = CodeMethodNotFound
	case errors.Is(err, ErrInvalidParams):
		e.Code = CodeInvalidParams
	case errors.Is(err, checkpoint.ErrUnknownUnit):
		e.Code = CodeUnknownUnit
	case errors.Is(err, projectpath.ErrOutsideProject):
		e.Code = CodeOutsideProject
	case errors.Is(err, checkpoint.ErrNotTracked):
		e.Code = CodeNotTracked
	}
	return e
}

func unitFailure(r checkpoint.UnitResult) UnitFailure {
	u := UnitFailure{ChangeUnit: string(r.ChangeUnit)}
	if r.Err == nil {
		return u
	}
	if errors.Is(r.Err, checkpoint.ErrSkipped) {
		u.Skipped = true
		return u
	}
	u.Error = r.Err.Error()
	var aggregate *checkpoint.AggregateRollbackError
	if errors.As(r.Err, &aggregate) {
		u.Failures = pathFailures(aggregate.Failures)
	}
	return u
}

func pathFailures(errs []*checkpoint.RollbackError) []PathFailure {
	failures := make([]PathFailure, 0, len(errs))
	for _, f := range errs {
		failures = append(failures, PathFailure{Path: string(f.Path), Error: f.Err.Error()})
	}
	return failures
}
