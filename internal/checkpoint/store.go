// internal/checkpoint/store.go
package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"rewind/internal/projectpath"
)

// Baseline supplies a file's last committed content when it is already gone
// from disk before it could be captured.
type Baseline interface {
	HeadContent(path string) ([]byte, error)
}

type originalKey struct {
	unit ChangeUnitID
	path FilePath
}

// ContentStore captures original/modified file content and reverses single
// operations on disk. Originals are kept per change unit and path; the first
// capture wins.
type ContentStore struct {
	root        projectpath.Root
	ledger      *Ledger
	baseline    Baseline
	maxFileSize int64
	now         func() time.Time

	mu        sync.RWMutex
	originals map[originalKey]*ContentSnapshot
}

// NewContentStore creates a store for root that appends to ledger.
// maxFileSize <= 0 disables the size limit; baseline may be nil.
func NewContentStore(root projectpath.Root, ledger *Ledger, baseline Baseline, maxFileSize int64) *ContentStore {
	return &ContentStore{
		root:        root,
		ledger:      ledger,
		baseline:    baseline,
		maxFileSize: maxFileSize,
		now:         time.Now,
		originals:   make(map[originalKey]*ContentSnapshot),
	}
}

// Normalize converts an absolute or relative path into a FilePath
func (s *ContentStore) Normalize(path string) (FilePath, error) {
	rel, err := s.root.Rel(path)
	if err != nil {
		return "", &CaptureError{Path: FilePath(path), Err: err}
	}
	return FilePath(rel), nil
}

// CaptureOriginal stores the current content of path as its original for unit,
// unless one was already captured. It returns the stored snapshot.
func (s *ContentStore) CaptureOriginal(path string, unit ChangeUnitID) (*ContentSnapshot, error) {
	rel, err := s.Normalize(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captureOriginalLocked(rel, unit, false)
}

func (s *ContentStore) captureOriginalLocked(rel FilePath, unit ChangeUnitID, allowBaseline bool) (*ContentSnapshot, error) {
	key := originalKey{unit: unit, path: rel}
	if snap, ok := s.originals[key]; ok {
		return snap, nil
	}

	snap, err := s.read(rel)
	if err != nil && allowBaseline && errors.Is(err, fs.ErrNotExist) && s.baseline != nil {
		snap, err = s.fromBaseline(rel)
	}
	if err != nil {
		return nil, err
	}

	s.originals[key] = snap
	return snap, nil
}

// Original returns the captured original of path for unit, if any
func (s *ContentStore) Original(path FilePath, unit ChangeUnitID) (*ContentSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.originals[originalKey{unit: unit, path: path}]
	return snap, ok
}

// CaptureModified reads the post-tool content of path and records a Change of
// the given kind against the stored original. When no original was captured
// the same read serves as both sides.
func (s *ContentStore) CaptureModified(path string, unit ChangeUnitID, kind OperationKind) (TrackedOperation, error) {
	if kind != KindModify && kind != KindMove && kind != KindRename {
		return nil, &CaptureError{Path: FilePath(path), Err: fmt.Errorf("%w: %s", ErrInvalidKind, kind)}
	}
	rel, err := s.Normalize(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	modified, err := s.read(rel)
	if err != nil {
		return nil, err
	}
	key := originalKey{unit: unit, path: rel}
	original, ok := s.originals[key]
	if !ok {
		original = modified
		s.originals[key] = original
	}

	op := &Change{
		OperationMeta: s.meta(kind, rel, unit),
		Original:      original,
		Modified:      modified,
	}
	s.ledger.Append(op)
	return op, nil
}

// RecordCreation records that path was created. The file must exist.
func (s *ContentStore) RecordCreation(path string, unit ChangeUnitID) (TrackedOperation, error) {
	return s.recordCreation(path, unit, KindCreate)
}

// RecordCopy records that path was created as a copy of another file.
func (s *ContentStore) RecordCopy(path string, unit ChangeUnitID) (TrackedOperation, error) {
	return s.recordCreation(path, unit, KindCopy)
}

func (s *ContentStore) recordCreation(path string, unit ChangeUnitID, kind OperationKind) (TrackedOperation, error) {
	rel, err := s.Normalize(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	modified, err := s.read(rel)
	if err != nil {
		return nil, err
	}
	op := &Creation{
		OperationMeta: s.meta(kind, rel, unit),
		Modified:      modified,
	}
	s.ledger.Append(op)
	return op, nil
}

// RecordDeletion records that path was deleted, capturing its original first
// if needed. A file already gone from disk falls back to the baseline.
func (s *ContentStore) RecordDeletion(path string, unit ChangeUnitID) (TrackedOperation, error) {
	rel, err := s.Normalize(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	original, err := s.captureOriginalLocked(rel, unit, true)
	if err != nil {
		return nil, err
	}
	op := &Deletion{
		OperationMeta: s.meta(KindDelete, rel, unit),
		Original:      original,
	}
	s.ledger.Append(op)
	return op, nil
}

// RecordMove records that src was moved or renamed to dst. dst may be empty
// when the destination is unknown; the modified side is then read from src.
// An existing directory dst resolves to the entry named after src inside it.
func (s *ContentStore) RecordMove(src, dst string, unit ChangeUnitID, kind OperationKind) (TrackedOperation, error) {
	if kind != KindMove && kind != KindRename {
		return nil, &CaptureError{Path: FilePath(src), Err: fmt.Errorf("%w: %s", ErrInvalidKind, kind)}
	}
	rel, err := s.Normalize(src)
	if err != nil {
		return nil, err
	}
	var dest FilePath
	if dst != "" {
		if dest, err = s.Normalize(dst); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// mv a.txt dir lands in dir/a.txt
	if dest != "" {
		if abs, err := s.root.Resolve(string(dest)); err == nil {
			if info, err := os.Stat(abs); err == nil && info.IsDir() {
				dest = FilePath(path.Join(string(dest), path.Base(string(rel))))
			}
		}
	}

	original, err := s.captureOriginalLocked(rel, unit, true)
	if err != nil {
		return nil, err
	}

	modified := original
	if dest != "" {
		if snap, err := s.read(dest); err == nil {
			modified = snap
		}
	} else if snap, err := s.read(rel); err == nil {
		modified = snap
	}

	op := &Change{
		OperationMeta: s.meta(kind, rel, unit),
		Original:      original,
		Modified:      modified,
		Destination:   dest,
	}
	s.ledger.Append(op)
	return op, nil
}

// RollbackOperation reverses exactly one operation on disk.
func (s *ContentStore) RollbackOperation(op TrackedOperation) error {
	meta := op.Meta()

	var err error
	switch o := op.(type) {
	case *Change:
		err = s.writeSnapshot(o.Path, o.Original)
		if err == nil && o.Destination != "" && o.Destination != o.Path {
			err = s.removeMoved(o.Destination, o.Modified)
		}
	case *Creation:
		err = s.remove(o.Path)
	case *Deletion:
		err = s.writeSnapshot(o.Path, o.Original)
	default:
		err = fmt.Errorf("%w: %T", ErrInvalidKind, op)
	}

	if err != nil {
		return &RollbackError{Path: meta.Path, Err: err}
	}
	return nil
}

// Forget evicts every original captured for unit
func (s *ContentStore) Forget(unit ChangeUnitID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.originals {
		if key.unit == unit {
			delete(s.originals, key)
		}
	}
}

// Reset drops all captured originals
func (s *ContentStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.originals = make(map[originalKey]*ContentSnapshot)
}

// Current reads the file at path without recording anything
func (s *ContentStore) Current(path FilePath) (*ContentSnapshot, error) {
	return s.read(path)
}

func (s *ContentStore) meta(kind OperationKind, path FilePath, unit ChangeUnitID) OperationMeta {
	return OperationMeta{
		Kind:       kind,
		Path:       path,
		ChangeUnit: unit,
		RecordedAt: s.now(),
	}
}

func (s *ContentStore) read(rel FilePath) (*ContentSnapshot, error) {
	fail := func(err error) (*ContentSnapshot, error) {
		return nil, &CaptureError{Path: rel, Err: err}
	}

	abs, err := s.root.Resolve(string(rel))
	if err != nil {
		return fail(err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return fail(err)
	}
	if !info.Mode().IsRegular() {
		return fail(ErrNotRegularFile)
	}
	if s.maxFileSize > 0 && info.Size() > s.maxFileSize {
		return fail(ErrFileTooLarge)
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return fail(err)
	}
	if !utf8.Valid(content) {
		return fail(ErrNotText)
	}

	return newSnapshot(rel, content, info.Mode(), SourceDisk, s.now()), nil
}

func (s *ContentStore) fromBaseline(rel FilePath) (*ContentSnapshot, error) {
	content, err := s.baseline.HeadContent(string(rel))
	if err != nil {
		return nil, &CaptureError{Path: rel, Err: fmt.Errorf("baseline: %w", err)}
	}
	if !utf8.Valid(content) {
		return nil, &CaptureError{Path: rel, Err: ErrNotText}
	}
	return newSnapshot(rel, content, 0644, SourceGitHead, s.now()), nil
}

func (s *ContentStore) writeSnapshot(rel FilePath, snap *ContentSnapshot) error {
	if snap == nil {
		return errors.New("no original snapshot")
	}
	abs, err := s.root.ResolveParent(string(rel))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("create parent dirs: %w", err)
	}
	// The parent may itself be a symlink created after the first resolution.
	if again, err := s.root.ResolveParent(string(rel)); err != nil || again != abs {
		return projectpath.ErrOutsideProject
	}

	mode := snap.Mode
	if mode == 0 {
		mode = 0644
	}
	return atomicWriteFile(abs, snap.Content, mode)
}

func (s *ContentStore) remove(rel FilePath) error {
	abs, err := s.root.ResolveParent(string(rel))
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// removeMoved deletes the destination of a move only while it still holds the
// content that was moved there.
func (s *ContentStore) removeMoved(dest FilePath, moved *ContentSnapshot) error {
	current, err := s.read(dest)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		logf("[ContentStore] Leaving move destination %s in place: %v", dest, err)
		return nil
	}
	if moved == nil || current.Hash != moved.Hash {
		logf("[ContentStore] Leaving move destination %s in place: content changed since move", dest)
		return nil
	}
	return s.remove(dest)
}

// atomicWriteFile writes content to a temp file in the target directory and
// renames it over path so readers never observe a truncated file.
func atomicWriteFile(path string, content []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".rewind-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write content: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync to disk: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm.Perm()); err != nil {
		return fmt.Errorf("set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	success = true
	return nil
}
