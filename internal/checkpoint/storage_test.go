// internal/checkpoint/storage_test.go
package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewind/internal/database"
)

func newTestStorage(t *testing.T) (*Storage, string) {
	t.Helper()
	base := t.TempDir()
	db, err := database.Open(filepath.Join(base, "rewind.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	storage, err := NewStorage(base, db, 3)
	require.NoError(t, err)
	t.Cleanup(storage.Close)
	return storage, base
}

func poolEntries(t *testing.T, base string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(base, "content_pool"))
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestStorage_JournalRoundTrip(t *testing.T) {
	ctx := context.Background()
	storage, base := newTestStorage(t)

	tr, dir := newTestTracker(t, Options{})
	tr.opts.Journal = storage.Journal(dir)

	writeFile(t, dir, "a.txt", "A")
	writeFile(t, dir, "old.txt", "old")
	require.NoError(t, tr.OnToolInvoked(ctx, edit("1", "u1", "a.txt")))
	writeFile(t, dir, "a.txt", "B")
	require.NoError(t, tr.OnToolCompleted(ctx, "1", "u1"))
	require.NoError(t, tr.OnToolInvoked(ctx, bash("2", "u2", "rm old.txt && mv a.txt b.txt")))
	require.NoError(t, os.Remove(filepath.Join(dir, "old.txt")))
	require.NoError(t, os.Rename(filepath.Join(dir, "a.txt"), filepath.Join(dir, "b.txt")))
	require.NoError(t, tr.OnToolCompleted(ctx, "2", "u2"))

	// "A", "B" and "old"; the move reuses "B".
	assert.Len(t, poolEntries(t, base), 3)

	ops, err := storage.Load(dir)
	require.NoError(t, err)
	require.Len(t, ops, 3)

	change := ops[0].(*Change)
	assert.Equal(t, ChangeUnitID("u1"), change.ChangeUnit)
	assert.Equal(t, "A", string(change.Original.Content))
	assert.Equal(t, "B", string(change.Modified.Content))
	assert.Equal(t, SourceJournal, change.Original.Source)

	assert.IsType(t, &Deletion{}, ops[1])
	moved := ops[2].(*Change)
	assert.Equal(t, FilePath("b.txt"), moved.Destination)

	units, err := storage.Units(dir)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, 2, units[1].OperationCount)

	// A fresh tracker restored from the journal can roll everything back.
	restored, err := NewTracker(dir, Options{Journal: storage.Journal(dir)})
	require.NoError(t, err)
	restored.Restore(ops)
	require.NoError(t, restored.RollbackToChangeUnit(ctx, "u1", []ChangeUnitID{"u1", "u2"}))

	assert.Equal(t, "A", readFile(t, dir, "a.txt"))
	assert.Equal(t, "old", readFile(t, dir, "old.txt"))
	assertMissing(t, dir, "b.txt")

	ops, err = storage.Load(dir)
	require.NoError(t, err)
	assert.Empty(t, ops)
	assert.Empty(t, poolEntries(t, base))
}

func TestStorage_LoadSkipsUnitWithMissingBlob(t *testing.T) {
	ctx := context.Background()
	storage, base := newTestStorage(t)

	tr, dir := newTestTracker(t, Options{Timing: TimingInvocation})
	tr.opts.Journal = storage.Journal(dir)

	writeFile(t, dir, "keep.txt", "keep")
	writeFile(t, dir, "lose.txt", "lose")
	require.NoError(t, tr.OnToolInvoked(ctx, edit("1", "u1", "keep.txt")))
	require.NoError(t, tr.OnToolInvoked(ctx, edit("2", "u2", "lose.txt")))

	require.NoError(t, os.Remove(filepath.Join(base, "content_pool", CalculateHash([]byte("lose"))+".zst")))

	ops, err := storage.Load(dir)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, ChangeUnitID("u1"), ops[0].Meta().ChangeUnit)
}

func TestStorage_PurgeAndProjects(t *testing.T) {
	ctx := context.Background()
	storage, base := newTestStorage(t)

	tr, dir := newTestTracker(t, Options{Timing: TimingInvocation})
	tr.opts.Journal = storage.Journal(dir)
	writeFile(t, dir, "a.txt", "A")
	require.NoError(t, tr.OnToolInvoked(ctx, edit("1", "u1", "a.txt")))

	projects, err := storage.Projects()
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, dir, projects[0].Root)

	require.NoError(t, storage.Purge(dir))
	projects, err = storage.Projects()
	require.NoError(t, err)
	assert.Empty(t, projects)
	assert.Empty(t, poolEntries(t, base))
}

func TestStorage_CollectGarbageKeepsSharedContent(t *testing.T) {
	ctx := context.Background()
	storage, base := newTestStorage(t)

	tr, dir := newTestTracker(t, Options{Timing: TimingInvocation})
	tr.opts.Journal = storage.Journal(dir)
	writeFile(t, dir, "a.txt", "same")
	writeFile(t, dir, "b.txt", "same")
	require.NoError(t, tr.OnToolInvoked(ctx, edit("1", "u1", "a.txt")))
	require.NoError(t, tr.OnToolInvoked(ctx, edit("2", "u2", "b.txt")))
	assert.Len(t, poolEntries(t, base), 1)

	require.NoError(t, tr.RollbackChangeUnit(ctx, "u1"))
	assert.Len(t, poolEntries(t, base), 1)

	require.NoError(t, tr.RollbackChangeUnit(ctx, "u2"))
	assert.Empty(t, poolEntries(t, base))
}

func TestStorage_PoolStats(t *testing.T) {
	ctx := context.Background()
	storage, _ := newTestStorage(t)

	entries, size, err := storage.PoolStats()
	require.NoError(t, err)
	assert.Zero(t, entries)
	assert.Zero(t, size)

	tr, dir := newTestTracker(t, Options{Timing: TimingInvocation})
	tr.opts.Journal = storage.Journal(dir)
	writeFile(t, dir, "a.txt", "A")
	require.NoError(t, tr.OnToolInvoked(ctx, edit("1", "u1", "a.txt")))

	entries, size, err = storage.PoolStats()
	require.NoError(t, err)
	assert.Equal(t, 1, entries)
	assert.Positive(t, size)
}
