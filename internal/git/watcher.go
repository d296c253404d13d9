package git

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"rewind/internal/eventhub"
	"rewind/internal/watcher"
)

// EventEmitter 接口，用于发送事件
type EventEmitter interface {
	EmitGitChanged(event eventhub.GitChangedEvent)
}

// GitWatcher 管理多个项目的 Git 监听
type GitWatcher struct {
	watchers map[string]*watcher.Watcher
	emitter  EventEmitter
	mu       sync.RWMutex
}

// NewGitWatcher 创建新的 GitWatcher
func NewGitWatcher(emitter EventEmitter) *GitWatcher {
	return &GitWatcher{
		watchers: make(map[string]*watcher.Watcher),
		emitter:  emitter,
	}
}

// Watch 开始监听项目所在仓库的 Git 变化
func (g *GitWatcher) Watch(projectRoot string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.watchers[projectRoot]; exists {
		return nil // 已经在监听
	}

	repo, err := Open(projectRoot)
	if err != nil {
		return err
	}

	gitDir := filepath.Join(repo.Top(), ".git")

	// 创建 watcher，使用 300ms 防抖
	w, err := watcher.New(gitDir, 300*time.Millisecond, func(e watcher.Event) {
		g.onGitChange(projectRoot, repo)
	})
	if err != nil {
		return fmt.Errorf("failed to watch git dir: %w", err)
	}

	if err := w.Start(); err != nil {
		w.Close()
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	g.watchers[projectRoot] = w

	// 立即发送一次当前状态
	go g.onGitChange(projectRoot, repo)

	return nil
}

// Unwatch 停止监听指定项目
func (g *GitWatcher) Unwatch(projectRoot string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if w, exists := g.watchers[projectRoot]; exists {
		w.Close()
		delete(g.watchers, projectRoot)
	}
}

// Close 关闭所有监听器
func (g *GitWatcher) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, w := range g.watchers {
		w.Close()
	}
	g.watchers = make(map[string]*watcher.Watcher)
}

// onGitChange 处理 Git 变化
func (g *GitWatcher) onGitChange(projectRoot string, repo *Repo) {
	event, err := StatusEvent(projectRoot, repo)
	if err != nil {
		log.Printf("[GitWatcher] status of %s: %v", projectRoot, err)
		return
	}
	if g.emitter != nil {
		g.emitter.EmitGitChanged(event)
	}
}

// StatusEvent 把仓库状态转换为事件
func StatusEvent(projectRoot string, repo *Repo) (eventhub.GitChangedEvent, error) {
	status, err := repo.Status()
	if err != nil {
		return eventhub.GitChangedEvent{}, err
	}

	event := eventhub.GitChangedEvent{
		Path:   projectRoot,
		Branch: status.Branch,
		Clean:  status.IsClean,
		Status: make(map[string]string),
	}
	for _, list := range [][]FileStatus{status.Staged, status.Modified, status.Untracked} {
		for _, f := range list {
			event.Status[f.Path] = f.Status
		}
	}
	return event, nil
}
