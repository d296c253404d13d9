package eventhub

import (
	"context"
	"sync"
)

// 事件名称
const (
	OperationTracked  = "operation:tracked"
	CaptureFailed     = "capture:failed"
	RollbackCompleted = "rollback:completed"
	RollbackFailed    = "rollback:failed"
	DriftDetected     = "drift:detected"
	CacheCleared      = "cache:cleared"
	GitChanged        = "git:changed"
)

// Broadcaster 事件广播接口
type Broadcaster interface {
	BroadcastEvent(eventType string, payload interface{})
}

// EventHub 统一事件分发中心
type EventHub struct {
	ctx         context.Context
	mu          sync.RWMutex
	broadcaster Broadcaster
	listeners   []func(eventName string, payload interface{})
}

// New 创建新的 EventHub
func New(ctx context.Context) *EventHub {
	return &EventHub{ctx: ctx}
}

// SetBroadcaster 设置 WebSocket 广播器
func (h *EventHub) SetBroadcaster(b Broadcaster) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcaster = b
}

// Subscribe registers an in-process listener, used by the CLI to print events.
func (h *EventHub) Subscribe(fn func(eventName string, payload interface{})) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// emit 统一的事件发送方法
func (h *EventHub) emit(eventName string, payload interface{}) {
	if h.ctx != nil && h.ctx.Err() != nil {
		return
	}

	h.mu.RLock()
	broadcaster := h.broadcaster
	listeners := h.listeners
	h.mu.RUnlock()

	// WebSocket 广播模式
	if broadcaster != nil {
		broadcaster.BroadcastEvent(eventName, payload)
	}
	for _, fn := range listeners {
		fn(eventName, payload)
	}
}

// Emit 通用事件发送方法（用于 eventEmitter）
func (h *EventHub) Emit(eventName string, payload interface{}) {
	h.emit(eventName, payload)
}

// 文件跟踪相关事件
type OperationTrackedEvent struct {
	ProjectRoot  string `json:"projectRoot"`
	ChangeUnitID string `json:"changeUnitId"`
	Kind         string `json:"kind"`
	Path         string `json:"path"`
	Destination  string `json:"destination,omitempty"`
	Seq          uint64 `json:"seq"`
}

type CaptureFailedEvent struct {
	ProjectRoot  string `json:"projectRoot"`
	ChangeUnitID string `json:"changeUnitId"`
	Path         string `json:"path"`
	Error        string `json:"error"`
}

// 回滚相关事件
type RollbackCompletedEvent struct {
	ProjectRoot  string `json:"projectRoot"`
	ChangeUnitID string `json:"changeUnitId"`
	Operations   int    `json:"operations"`
}

type RollbackFailedEvent struct {
	ProjectRoot  string            `json:"projectRoot"`
	ChangeUnitID string            `json:"changeUnitId"`
	Failures     map[string]string `json:"failures"` // path -> error
}

// DriftDetectedEvent 文件在跟踪之外被修改
type DriftDetectedEvent struct {
	ProjectRoot  string `json:"projectRoot"`
	Path         string `json:"path"`
	ChangeUnitID string `json:"changeUnitId"`
	Exists       bool   `json:"exists"`
}

type CacheClearedEvent struct {
	ProjectRoot string `json:"projectRoot"`
}

// Git 相关事件
type GitChangedEvent struct {
	Path   string            `json:"path"`
	Branch string            `json:"branch"`
	Clean  bool              `json:"clean"`
	Status map[string]string `json:"status"` // path -> status
}

func (h *EventHub) EmitGitChanged(event GitChangedEvent) {
	h.emit(GitChanged, event)
}
