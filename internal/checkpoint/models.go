// internal/checkpoint/models.go
package checkpoint

import (
	"bytes"
	"os"
	"time"

	"github.com/google/uuid"
)

// ChangeUnitID groups every operation caused by one assistant turn.
type ChangeUnitID string

// NewChangeUnitID generates a fresh change unit ID
func NewChangeUnitID() ChangeUnitID {
	return ChangeUnitID(uuid.New().String())
}

// FilePath is a normalized, slash-separated, project-relative path.
type FilePath string

// OperationKind is the kind of file-system effect being tracked
type OperationKind string

const (
	KindCreate OperationKind = "create"
	KindModify OperationKind = "modify"
	KindDelete OperationKind = "delete"
	KindMove   OperationKind = "move"
	KindCopy   OperationKind = "copy"
	KindRename OperationKind = "rename"
)

// Valid reports whether k is one of the known kinds
func (k OperationKind) Valid() bool {
	switch k {
	case KindCreate, KindModify, KindDelete, KindMove, KindCopy, KindRename:
		return true
	}
	return false
}

// SnapshotSource records where a snapshot's bytes came from
type SnapshotSource string

const (
	SourceDisk    SnapshotSource = "disk"
	SourceGitHead SnapshotSource = "git-head"
	SourceJournal SnapshotSource = "journal"
)

// ContentSnapshot is an immutable capture of a file's content. Snapshots are
// never modified after creation and may be shared between operations.
type ContentSnapshot struct {
	Path       FilePath       `json:"path"`
	Content    []byte         `json:"-"`
	Hash       string         `json:"hash"`
	Lines      int            `json:"lines"`
	Size       int64          `json:"size"`
	Mode       os.FileMode    `json:"mode"`
	CapturedAt time.Time      `json:"captured_at"`
	Source     SnapshotSource `json:"source"`
}

func newSnapshot(path FilePath, content []byte, mode os.FileMode, source SnapshotSource, at time.Time) *ContentSnapshot {
	return &ContentSnapshot{
		Path:       path,
		Content:    content,
		Hash:       CalculateHash(content),
		Lines:      countLines(content),
		Size:       int64(len(content)),
		Mode:       mode.Perm(),
		CapturedAt: at,
		Source:     source,
	}
}

func countLines(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	n := bytes.Count(content, []byte{'\n'})
	if content[len(content)-1] != '\n' {
		n++
	}
	return n
}

// OperationMeta is shared by every tracked operation variant.
type OperationMeta struct {
	Kind       OperationKind `json:"kind"`
	Path       FilePath      `json:"path"`
	ChangeUnit ChangeUnitID  `json:"change_unit_id"`
	Seq        uint64        `json:"seq"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// Meta returns the common operation fields
func (m OperationMeta) Meta() OperationMeta {
	return m
}

// TrackedOperation is one ledger entry. It is implemented only by
// *Creation, *Deletion and *Change, so the side that has no snapshot is
// absent from the type rather than nil on a shared struct.
type TrackedOperation interface {
	Meta() OperationMeta
	base() *OperationMeta
}

// Creation records a file that did not exist before (Create, Copy).
type Creation struct {
	OperationMeta
	Modified *ContentSnapshot `json:"modified"`
}

// Deletion records a file that no longer exists (Delete).
type Deletion struct {
	OperationMeta
	Original *ContentSnapshot `json:"original"`
}

// Change records content replaced in place (Modify) or moved away from Path
// (Move, Rename). Destination is set when the new location is known.
type Change struct {
	OperationMeta
	Original    *ContentSnapshot `json:"original"`
	Modified    *ContentSnapshot `json:"modified"`
	Destination FilePath         `json:"destination,omitempty"`
}

func (c *Creation) base() *OperationMeta { return &c.OperationMeta }
func (d *Deletion) base() *OperationMeta { return &d.OperationMeta }
func (c *Change) base() *OperationMeta   { return &c.OperationMeta }

// Snapshots returns the original and modified sides of op; either may be nil.
func Snapshots(op TrackedOperation) (original, modified *ContentSnapshot) {
	switch o := op.(type) {
	case *Creation:
		return nil, o.Modified
	case *Deletion:
		return o.Original, nil
	case *Change:
		return o.Original, o.Modified
	}
	return nil, nil
}

// MovedPair is a source/destination pair reported by Summary
type MovedPair struct {
	From FilePath `json:"from"`
	To   FilePath `json:"to"`
}

// Summary is a set-based rollup of tracked operations. Each path appears at
// most once per category.
type Summary struct {
	Created         []FilePath  `json:"created_files"`
	Modified        []FilePath  `json:"modified_files"`
	Deleted         []FilePath  `json:"deleted_files"`
	Moved           []MovedPair `json:"moved_files"`
	Drifted         []FilePath  `json:"drifted_files,omitempty"`
	TotalOperations int         `json:"total_operations"`
	UnitCount       int         `json:"unit_count"`
}
