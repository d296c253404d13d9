// internal/checkpoint/store_test.go
package checkpoint

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewind/internal/projectpath"
)

func newTestStore(t *testing.T, maxFileSize int64, baseline Baseline) (*ContentStore, string) {
	t.Helper()
	dir := t.TempDir()
	root, err := projectpath.New(dir)
	require.NoError(t, err)
	return NewContentStore(root, NewLedger(), baseline, maxFileSize), dir
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func readFile(t *testing.T, dir, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func assertMissing(t *testing.T, dir, rel string) {
	t.Helper()
	_, err := os.Lstat(filepath.Join(dir, filepath.FromSlash(rel)))
	assert.True(t, errors.Is(err, fs.ErrNotExist), "%s should not exist, stat error: %v", rel, err)
}

type mapBaseline map[string]string

func (b mapBaseline) HeadContent(path string) ([]byte, error) {
	content, ok := b[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return []byte(content), nil
}

func TestContentStore_CaptureOriginalIsIdempotent(t *testing.T) {
	s, dir := newTestStore(t, 0, nil)
	writeFile(t, dir, "a.txt", "first")

	snap1, err := s.CaptureOriginal("a.txt", "u1")
	require.NoError(t, err)

	writeFile(t, dir, "a.txt", "second")
	snap2, err := s.CaptureOriginal("a.txt", "u1")
	require.NoError(t, err)

	assert.Same(t, snap1, snap2)
	assert.Equal(t, "first", string(snap2.Content))
	assert.Equal(t, CalculateHash([]byte("first")), snap2.Hash)
	assert.Equal(t, 1, snap2.Lines)
	assert.Equal(t, SourceDisk, snap2.Source)
}

func TestContentStore_OriginalsAreScopedToChangeUnit(t *testing.T) {
	s, dir := newTestStore(t, 0, nil)
	writeFile(t, dir, "a.txt", "first")

	_, err := s.CaptureOriginal("a.txt", "u1")
	require.NoError(t, err)
	writeFile(t, dir, "a.txt", "second")
	snap, err := s.CaptureOriginal("a.txt", "u2")
	require.NoError(t, err)

	assert.Equal(t, "second", string(snap.Content))

	s.Forget("u1")
	_, ok := s.Original("a.txt", "u1")
	assert.False(t, ok)
	_, ok = s.Original("a.txt", "u2")
	assert.True(t, ok)
}

func TestContentStore_PathNormalization(t *testing.T) {
	s, dir := newTestStore(t, 0, nil)
	writeFile(t, dir, "src/a.ts", "export {}")

	abs, err := s.CaptureOriginal(filepath.Join(dir, "src", "a.ts"), "u1")
	require.NoError(t, err)
	rel, err := s.CaptureOriginal("src/a.ts", "u1")
	require.NoError(t, err)
	dotted, err := s.CaptureOriginal("./src//a.ts/", "u1")
	require.NoError(t, err)

	assert.Same(t, abs, rel)
	assert.Same(t, abs, dotted)
	assert.Equal(t, FilePath("src/a.ts"), abs.Path)

	_, err = s.CaptureModified(filepath.Join(dir, "src/a.ts"), "u1", KindModify)
	require.NoError(t, err)
	_, err = s.CaptureModified("src/a.ts", "u1", KindModify)
	require.NoError(t, err)
	assert.Equal(t, []FilePath{"src/a.ts"}, s.ledger.Summarize().Modified)
}

func TestContentStore_RejectsPathsOutsideRoot(t *testing.T) {
	s, _ := newTestStore(t, 0, nil)

	for _, path := range []string{"/etc/passwd", "../escape.txt", ""} {
		_, err := s.CaptureOriginal(path, "u1")
		var capErr *CaptureError
		require.ErrorAs(t, err, &capErr, path)
	}
}

func TestContentStore_CaptureErrors(t *testing.T) {
	s, dir := newTestStore(t, 8, nil)
	writeFile(t, dir, "big.txt", "0123456789")
	writeFile(t, dir, "bin.dat", "\xff\xfe\x00")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "folder"), 0755))

	tests := []struct {
		path string
		want error
	}{
		{"big.txt", ErrFileTooLarge},
		{"bin.dat", ErrNotText},
		{"folder", ErrNotRegularFile},
		{"missing.txt", fs.ErrNotExist},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, err := s.CaptureOriginal(tt.path, "u1")
			var capErr *CaptureError
			require.ErrorAs(t, err, &capErr)
			assert.Equal(t, FilePath(tt.path), capErr.Path)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestContentStore_RollbackModify(t *testing.T) {
	s, dir := newTestStore(t, 0, nil)
	writeFile(t, dir, "a.txt", "A\n")
	require.NoError(t, os.Chmod(filepath.Join(dir, "a.txt"), 0600))

	_, err := s.CaptureOriginal("a.txt", "u1")
	require.NoError(t, err)
	writeFile(t, dir, "a.txt", "B\nB\n")
	op, err := s.CaptureModified("a.txt", "u1", KindModify)
	require.NoError(t, err)

	change, ok := op.(*Change)
	require.True(t, ok)
	assert.Equal(t, "A\n", string(change.Original.Content))
	assert.Equal(t, "B\nB\n", string(change.Modified.Content))

	require.NoError(t, s.RollbackOperation(op))
	assert.Equal(t, "A\n", readFile(t, dir, "a.txt"))

	info, err := os.Stat(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files left behind")
}

func TestContentStore_CaptureModifiedWithoutOriginal(t *testing.T) {
	s, dir := newTestStore(t, 0, nil)
	writeFile(t, dir, "a.txt", "A")

	op, err := s.CaptureModified("a.txt", "u1", KindModify)
	require.NoError(t, err)

	change := op.(*Change)
	assert.Same(t, change.Original, change.Modified)
}

func TestContentStore_CaptureModifiedRejectsKind(t *testing.T) {
	s, dir := newTestStore(t, 0, nil)
	writeFile(t, dir, "a.txt", "A")

	_, err := s.CaptureModified("a.txt", "u1", KindCreate)
	assert.ErrorIs(t, err, ErrInvalidKind)
	assert.False(t, s.ledger.HasOperations("u1"))
}

func TestContentStore_RollbackCreate(t *testing.T) {
	s, dir := newTestStore(t, 0, nil)
	writeFile(t, dir, "new.txt", "hello")

	op, err := s.RecordCreation("new.txt", "u1")
	require.NoError(t, err)
	creation, ok := op.(*Creation)
	require.True(t, ok)
	assert.Equal(t, "hello", string(creation.Modified.Content))

	require.NoError(t, s.RollbackOperation(op))
	assertMissing(t, dir, "new.txt")

	// Already gone is fine.
	require.NoError(t, s.RollbackOperation(op))
}

func TestContentStore_RecordCreationRequiresFile(t *testing.T) {
	s, _ := newTestStore(t, 0, nil)

	_, err := s.RecordCreation("nope.txt", "u1")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.False(t, s.ledger.HasOperations("u1"))
}

func TestContentStore_RollbackCopy(t *testing.T) {
	s, dir := newTestStore(t, 0, nil)
	writeFile(t, dir, "copy.txt", "copied")

	op, err := s.RecordCopy("copy.txt", "u1")
	require.NoError(t, err)
	assert.Equal(t, KindCopy, op.Meta().Kind)

	require.NoError(t, s.RollbackOperation(op))
	assertMissing(t, dir, "copy.txt")
}

func TestContentStore_RollbackDelete(t *testing.T) {
	s, dir := newTestStore(t, 0, nil)
	writeFile(t, dir, "deep/nested/a.txt", "A")

	op, err := s.RecordDeletion("deep/nested/a.txt", "u1")
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "deep")))

	deletion, ok := op.(*Deletion)
	require.True(t, ok)
	assert.Equal(t, "A", string(deletion.Original.Content))

	require.NoError(t, s.RollbackOperation(op))
	assert.Equal(t, "A", readFile(t, dir, "deep/nested/a.txt"))
}

func TestContentStore_DeletionFallsBackToBaseline(t *testing.T) {
	s, dir := newTestStore(t, 0, mapBaseline{"gone.txt": "committed"})

	op, err := s.RecordDeletion("gone.txt", "u1")
	require.NoError(t, err)
	deletion := op.(*Deletion)
	assert.Equal(t, SourceGitHead, deletion.Original.Source)

	require.NoError(t, s.RollbackOperation(op))
	assert.Equal(t, "committed", readFile(t, dir, "gone.txt"))

	_, err = s.RecordDeletion("untracked.txt", "u1")
	assert.Error(t, err)
}

func TestContentStore_RollbackMove(t *testing.T) {
	s, dir := newTestStore(t, 0, nil)
	writeFile(t, dir, "a.txt", "A")

	_, err := s.CaptureOriginal("a.txt", "u1")
	require.NoError(t, err)
	require.NoError(t, os.Rename(filepath.Join(dir, "a.txt"), filepath.Join(dir, "b.txt")))

	op, err := s.RecordMove("a.txt", "b.txt", "u1", KindMove)
	require.NoError(t, err)
	change := op.(*Change)
	assert.Equal(t, FilePath("b.txt"), change.Destination)
	assert.Equal(t, "A", string(change.Modified.Content))

	require.NoError(t, s.RollbackOperation(op))
	assert.Equal(t, "A", readFile(t, dir, "a.txt"))
	assertMissing(t, dir, "b.txt")
}

func TestContentStore_RollbackMoveIntoDirectory(t *testing.T) {
	s, dir := newTestStore(t, 0, nil)
	writeFile(t, dir, "a.txt", "A")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "existingdir"), 0755))

	_, err := s.CaptureOriginal("a.txt", "u1")
	require.NoError(t, err)
	require.NoError(t, os.Rename(filepath.Join(dir, "a.txt"), filepath.Join(dir, "existingdir", "a.txt")))

	op, err := s.RecordMove("a.txt", "existingdir", "u1", KindMove)
	require.NoError(t, err)
	change := op.(*Change)
	assert.Equal(t, FilePath("existingdir/a.txt"), change.Destination)
	assert.Equal(t, "A", string(change.Modified.Content))

	require.NoError(t, s.RollbackOperation(op))
	assert.Equal(t, "A", readFile(t, dir, "a.txt"))
	assertMissing(t, dir, "existingdir/a.txt")
	info, err := os.Stat(filepath.Join(dir, "existingdir"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestContentStore_RollbackMoveKeepsEditedDestination(t *testing.T) {
	s, dir := newTestStore(t, 0, nil)
	writeFile(t, dir, "a.txt", "A")

	_, err := s.CaptureOriginal("a.txt", "u1")
	require.NoError(t, err)
	require.NoError(t, os.Rename(filepath.Join(dir, "a.txt"), filepath.Join(dir, "b.txt")))
	op, err := s.RecordMove("a.txt", "b.txt", "u1", KindRename)
	require.NoError(t, err)

	writeFile(t, dir, "b.txt", "edited later")

	require.NoError(t, s.RollbackOperation(op))
	assert.Equal(t, "A", readFile(t, dir, "a.txt"))
	assert.Equal(t, "edited later", readFile(t, dir, "b.txt"))
}

func TestContentStore_RollbackRefusesSymlinkEscape(t *testing.T) {
	s, dir := newTestStore(t, 0, nil)
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "evil")))

	op := &Deletion{
		OperationMeta: OperationMeta{Kind: KindDelete, Path: "evil/x.txt", ChangeUnit: "u1"},
		Original:      newSnapshot("evil/x.txt", []byte("pwned"), 0644, SourceDisk, s.now()),
	}

	err := s.RollbackOperation(op)
	var rbErr *RollbackError
	require.ErrorAs(t, err, &rbErr)
	assert.Equal(t, FilePath("evil/x.txt"), rbErr.Path)
	assert.ErrorIs(t, err, projectpath.ErrOutsideProject)
	assertMissing(t, outside, "x.txt")
}

func TestContentStore_RollbackOntoDirectoryFails(t *testing.T) {
	s, dir := newTestStore(t, 0, nil)
	writeFile(t, dir, "a.txt", "A")

	_, err := s.CaptureOriginal("a.txt", "u1")
	require.NoError(t, err)
	op, err := s.CaptureModified("a.txt", "u1", KindModify)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "a.txt")))
	writeFile(t, dir, "a.txt/inner", "x")

	err = s.RollbackOperation(op)
	var rbErr *RollbackError
	require.ErrorAs(t, err, &rbErr)
	assert.Equal(t, FilePath("a.txt"), rbErr.Path)
}

func TestCountLines(t *testing.T) {
	assert.Equal(t, 0, countLines(nil))
	assert.Equal(t, 1, countLines([]byte("a")))
	assert.Equal(t, 1, countLines([]byte("a\n")))
	assert.Equal(t, 2, countLines([]byte("a\nb")))
}
