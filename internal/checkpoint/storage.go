// internal/checkpoint/storage.go
package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"rewind/internal/database"
)

// Storage persists tracked operations: snapshot content goes into a
// content-addressable zstd pool, operation metadata into the database.
type Storage struct {
	baseDir string
	db      *database.Database
	mu      sync.Mutex
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewStorage creates a storage rooted at baseDir
func NewStorage(baseDir string, db *database.Database, compressionLevel int) (*Storage, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
	if err != nil {
		return nil, fmt.Errorf("create encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(baseDir, "content_pool"), 0755); err != nil {
		return nil, fmt.Errorf("create content pool: %w", err)
	}

	return &Storage{
		baseDir: baseDir,
		db:      db,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

func (s *Storage) blobPath(hash string) string {
	return filepath.Join(s.baseDir, "content_pool", hash+".zst")
}

// putBlob stores snapshot content by hash, skipping content already pooled.
func (s *Storage) putBlob(snap *ContentSnapshot) error {
	if snap == nil {
		return nil
	}
	path := s.blobPath(snap.Hash)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	compressed := s.encoder.EncodeAll(snap.Content, nil)
	return atomicWriteFile(path, compressed, 0644)
}

func (s *Storage) getBlob(hash string) ([]byte, error) {
	compressed, err := os.ReadFile(s.blobPath(hash))
	if err != nil {
		return nil, err
	}
	content, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", hash, err)
	}
	if CalculateHash(content) != hash {
		return nil, fmt.Errorf("content pool entry %s is corrupted", hash)
	}
	return content, nil
}

// Journal returns the journal for one project root
func (s *Storage) Journal(projectRoot string) Journal {
	return &projectJournal{storage: s, root: projectRoot}
}

type projectJournal struct {
	storage *Storage
	root    string
}

func (j *projectJournal) Append(op TrackedOperation) error {
	s := j.storage
	original, modified := Snapshots(op)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.putBlob(original); err != nil {
		return fmt.Errorf("store original: %w", err)
	}
	if err := s.putBlob(modified); err != nil {
		return fmt.Errorf("store modified: %w", err)
	}

	meta := op.Meta()
	record := &database.Operation{
		ProjectRoot:  j.root,
		ChangeUnitID: string(meta.ChangeUnit),
		Seq:          meta.Seq,
		Kind:         string(meta.Kind),
		Path:         string(meta.Path),
		RecordedAt:   meta.RecordedAt,
	}
	if original != nil {
		record.OriginalHash = original.Hash
		record.OriginalMode = uint32(original.Mode)
		record.OriginalSource = string(original.Source)
	}
	if modified != nil {
		record.ModifiedHash = modified.Hash
		record.ModifiedMode = uint32(modified.Mode)
	}
	if c, ok := op.(*Change); ok {
		record.Destination = string(c.Destination)
	}

	if _, err := s.db.InsertOperation(record); err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

func (j *projectJournal) RemoveChangeUnit(unit ChangeUnitID) error {
	if _, err := j.storage.db.DeleteChangeUnit(j.root, string(unit)); err != nil {
		return fmt.Errorf("delete change unit: %w", err)
	}
	if _, err := j.storage.CollectGarbage(); err != nil {
		logf("[Storage] Content pool cleanup failed: %v", err)
	}
	return nil
}

// Load rebuilds the journaled operations of a project. A change unit with an
// unreadable snapshot is skipped as a whole.
func (s *Storage) Load(projectRoot string) ([]TrackedOperation, error) {
	records, err := s.db.ListOperations(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}

	var (
		ops    []TrackedOperation
		broken = make(map[string]error)
	)
	for _, r := range records {
		if broken[r.ChangeUnitID] != nil {
			continue
		}
		op, err := s.rebuild(r)
		if err != nil {
			broken[r.ChangeUnitID] = err
			continue
		}
		ops = append(ops, op)
	}

	if len(broken) == 0 {
		return ops, nil
	}
	kept := ops[:0]
	for _, op := range ops {
		if broken[string(op.Meta().ChangeUnit)] == nil {
			kept = append(kept, op)
		}
	}
	for unit, err := range broken {
		logf("[Storage] Skipping change unit %s of %s: %v", unit, projectRoot, err)
	}
	return kept, nil
}

func (s *Storage) rebuild(r *database.Operation) (TrackedOperation, error) {
	meta := OperationMeta{
		Kind:       OperationKind(r.Kind),
		Path:       FilePath(r.Path),
		ChangeUnit: ChangeUnitID(r.ChangeUnitID),
		Seq:        r.Seq,
		RecordedAt: r.RecordedAt,
	}
	if !meta.Kind.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKind, r.Kind)
	}

	load := func(hash string, mode uint32) (*ContentSnapshot, error) {
		if hash == "" {
			return nil, fmt.Errorf("%s %s: missing snapshot", r.Kind, r.Path)
		}
		content, err := s.getBlob(hash)
		if err != nil {
			return nil, err
		}
		return newSnapshot(meta.Path, content, os.FileMode(mode), SourceJournal, r.RecordedAt), nil
	}

	switch meta.Kind {
	case KindCreate, KindCopy:
		modified, err := load(r.ModifiedHash, r.ModifiedMode)
		if err != nil {
			return nil, err
		}
		return &Creation{OperationMeta: meta, Modified: modified}, nil
	case KindDelete:
		original, err := load(r.OriginalHash, r.OriginalMode)
		if err != nil {
			return nil, err
		}
		return &Deletion{OperationMeta: meta, Original: original}, nil
	default:
		original, err := load(r.OriginalHash, r.OriginalMode)
		if err != nil {
			return nil, err
		}
		modified, err := load(r.ModifiedHash, r.ModifiedMode)
		if err != nil {
			return nil, err
		}
		return &Change{
			OperationMeta: meta,
			Original:      original,
			Modified:      modified,
			Destination:   FilePath(r.Destination),
		}, nil
	}
}

// Units lists the journaled change units of a project
func (s *Storage) Units(projectRoot string) ([]*database.ChangeUnit, error) {
	return s.db.ListChangeUnits(projectRoot)
}

// Projects lists every project with journaled operations
func (s *Storage) Projects() ([]*database.Project, error) {
	return s.db.ListProjects()
}

// Purge forgets everything journaled for a project
func (s *Storage) Purge(projectRoot string) error {
	if err := s.db.DeleteProject(projectRoot); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	_, err := s.CollectGarbage()
	return err
}

// CollectGarbage removes pool entries no operation references anymore and
// returns how many were removed.
func (s *Storage) CollectGarbage() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	referenced, err := s.db.ReferencedHashes()
	if err != nil {
		return 0, fmt.Errorf("referenced hashes: %w", err)
	}

	entries, err := os.ReadDir(filepath.Join(s.baseDir, "content_pool"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		hash, ok := strings.CutSuffix(entry.Name(), ".zst")
		if !ok || entry.IsDir() || referenced[hash] {
			continue
		}
		if err := os.Remove(filepath.Join(s.baseDir, "content_pool", entry.Name())); err != nil {
			logf("[Storage] Failed to remove pool entry %s: %v", entry.Name(), err)
			continue
		}
		removed++
	}
	return removed, nil
}

// PoolStats reports the number of pooled blobs and their compressed size
func (s *Storage) PoolStats() (entries int, size int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := os.ReadDir(filepath.Join(s.baseDir, "content_pool"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	for _, entry := range list {
		info, err := entry.Info()
		if err != nil || entry.IsDir() {
			continue
		}
		entries++
		size += info.Size()
	}
	return entries, size, nil
}

// Close releases the encoder and decoder
func (s *Storage) Close() {
	s.encoder.Close()
	s.decoder.Close()
}
