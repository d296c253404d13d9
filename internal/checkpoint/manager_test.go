// internal/checkpoint/manager_test.go
package checkpoint

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_ForProject(t *testing.T) {
	m := NewManager(ManagerOptions{})
	dir := t.TempDir()

	t1, err := m.ForProject(dir)
	require.NoError(t, err)
	t2, err := m.ForProject(filepath.Join(dir, "."))
	require.NoError(t, err)
	assert.Same(t, t1, t2)

	found, ok := m.Lookup(dir)
	assert.True(t, ok)
	assert.Same(t, t1, found)
	assert.Equal(t, []string{t1.Root()}, m.Projects())

	_, ok = m.Lookup(t.TempDir())
	assert.False(t, ok)
}

func TestManager_RestoresFromStorage(t *testing.T) {
	ctx := context.Background()
	storage, _ := newTestStorage(t)
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "A")

	m := NewManager(ManagerOptions{Storage: storage})
	tr, err := m.ForProject(dir)
	require.NoError(t, err)
	require.NoError(t, tr.OnToolInvoked(ctx, edit("1", "u1", "a.txt")))
	writeFile(t, dir, "a.txt", "B")
	require.NoError(t, tr.OnToolCompleted(ctx, "1", "u1"))

	// A new process sees the same journal.
	m2 := NewManager(ManagerOptions{Storage: storage})
	tr2, err := m2.ForProject(dir)
	require.NoError(t, err)
	assert.True(t, tr2.HasOperations("u1"))

	require.NoError(t, tr2.RollbackChangeUnit(ctx, "u1"))
	assert.Equal(t, "A", readFile(t, dir, "a.txt"))

	m3 := NewManager(ManagerOptions{Storage: storage})
	tr3, err := m3.ForProject(dir)
	require.NoError(t, err)
	assert.Empty(t, tr3.Units())
}

func TestManager_Baseline(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	var opened []string
	m := NewManager(ManagerOptions{
		Baseline: func(root string) (Baseline, error) {
			opened = append(opened, root)
			return mapBaseline{"gone.txt": "from head"}, nil
		},
	})
	tr, err := m.ForProject(dir)
	require.NoError(t, err)
	require.Len(t, opened, 1)

	require.NoError(t, tr.OnToolInvoked(ctx, bash("1", "u1", "rm gone.txt")))
	require.NoError(t, tr.OnToolCompleted(ctx, "1", "u1"))
	require.True(t, tr.HasOperations("u1"))

	require.NoError(t, tr.RollbackChangeUnit(ctx, "u1"))
	assert.Equal(t, "from head", readFile(t, dir, "gone.txt"))
}

func TestManager_BaselineErrorIsNotFatal(t *testing.T) {
	m := NewManager(ManagerOptions{
		Baseline: func(string) (Baseline, error) {
			return nil, errors.New("not a repository")
		},
	})
	tr, err := m.ForProject(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, tr.opts.Baseline)
}

func TestManager_Close(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "A")

	m := NewManager(ManagerOptions{Tracker: Options{Timing: TimingInvocation}})
	tr, err := m.ForProject(dir)
	require.NoError(t, err)
	require.NoError(t, tr.OnToolInvoked(ctx, edit("1", "u1", "a.txt")))

	m.Close(dir)
	assert.False(t, tr.HasOperations("u1"))
	assert.Empty(t, m.Projects())
}
