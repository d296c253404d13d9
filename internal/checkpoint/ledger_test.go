// internal/checkpoint/ledger_test.go
package checkpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snap(path FilePath, content string) *ContentSnapshot {
	return newSnapshot(path, []byte(content), 0644, SourceDisk, time.Now())
}

func creation(unit ChangeUnitID, path FilePath) *Creation {
	return &Creation{
		OperationMeta: OperationMeta{Kind: KindCreate, Path: path, ChangeUnit: unit},
		Modified:      snap(path, "new"),
	}
}

func modification(unit ChangeUnitID, path FilePath) *Change {
	return &Change{
		OperationMeta: OperationMeta{Kind: KindModify, Path: path, ChangeUnit: unit},
		Original:      snap(path, "before"),
		Modified:      snap(path, "after"),
	}
}

func deletion(unit ChangeUnitID, path FilePath) *Deletion {
	return &Deletion{
		OperationMeta: OperationMeta{Kind: KindDelete, Path: path, ChangeUnit: unit},
		Original:      snap(path, "gone"),
	}
}

func move(unit ChangeUnitID, from, to FilePath) *Change {
	return &Change{
		OperationMeta: OperationMeta{Kind: KindMove, Path: from, ChangeUnit: unit},
		Original:      snap(from, "moved"),
		Modified:      snap(to, "moved"),
		Destination:   to,
	}
}

func TestLedger_AppendOrder(t *testing.T) {
	l := NewLedger()
	l.Append(creation("u1", "a"))
	l.Append(modification("u2", "b"))
	l.Append(modification("u1", "c"))

	ops := l.OperationsFor("u1")
	require.Len(t, ops, 2)
	assert.Equal(t, FilePath("a"), ops[0].Meta().Path)
	assert.Equal(t, FilePath("c"), ops[1].Meta().Path)
	assert.Less(t, ops[0].Meta().Seq, ops[1].Meta().Seq)

	assert.Equal(t, []ChangeUnitID{"u1", "u2"}, l.Units())
	assert.True(t, l.HasOperations("u2"))
	assert.False(t, l.HasOperations("u3"))
	assert.Empty(t, l.OperationsFor("u3"))
}

func TestLedger_OperationsForReturnsCopy(t *testing.T) {
	l := NewLedger()
	l.Append(creation("u1", "a"))

	ops := l.OperationsFor("u1")
	ops[0] = nil

	assert.NotNil(t, l.OperationsFor("u1")[0])
}

func TestLedger_Remove(t *testing.T) {
	l := NewLedger()
	l.Append(creation("u1", "a"))
	l.Append(creation("u2", "b"))

	l.Remove("u1")
	l.Remove("missing")

	assert.False(t, l.HasOperations("u1"))
	assert.Equal(t, []ChangeUnitID{"u2"}, l.Units())
}

func TestLedger_Summarize(t *testing.T) {
	l := NewLedger()
	l.Append(creation("u1", "a"))
	l.Append(modification("u1", "b"))
	l.Append(modification("u2", "b"))
	l.Append(deletion("u2", "c"))

	s := l.Summarize()
	assert.Equal(t, []FilePath{"a"}, s.Created)
	assert.Equal(t, []FilePath{"b"}, s.Modified)
	assert.Equal(t, []FilePath{"c"}, s.Deleted)
	assert.Empty(t, s.Moved)
	assert.Equal(t, 4, s.TotalOperations)
	assert.Equal(t, 2, s.UnitCount)
}

func TestLedger_SummarizeFilter(t *testing.T) {
	l := NewLedger()
	l.Append(creation("u1", "a"))
	l.Append(move("u2", "x", "y"))
	l.Append(&Creation{
		OperationMeta: OperationMeta{Kind: KindCopy, Path: "z", ChangeUnit: "u2"},
		Modified:      snap("z", "copy"),
	})

	s := l.Summarize("u2", "u2", "unknown")
	assert.Equal(t, []FilePath{"z"}, s.Created)
	assert.Equal(t, []MovedPair{{From: "x", To: "y"}}, s.Moved)
	assert.Equal(t, 2, s.TotalOperations)
	assert.Equal(t, 1, s.UnitCount)
}

func TestLedger_RollbackCount(t *testing.T) {
	l := NewLedger()
	l.Append(creation("u1", "a"))
	l.Append(creation("u3", "b"))
	l.Append(creation("u4", "c"))

	all := []ChangeUnitID{"u1", "u2", "u3", "u4"}
	assert.Equal(t, 3, l.RollbackCount("u1", all))
	assert.Equal(t, 2, l.RollbackCount("u2", all))
	assert.Equal(t, 1, l.RollbackCount("u4", all))
	assert.Equal(t, 0, l.RollbackCount("u9", all))
	assert.Equal(t, 0, l.RollbackCount("u1", nil))
}

func TestUnitsFrom(t *testing.T) {
	all := []ChangeUnitID{"u1", "u2", "u3"}

	units, err := UnitsFrom("u2", all)
	require.NoError(t, err)
	assert.Equal(t, []ChangeUnitID{"u2", "u3"}, units)

	units, err = UnitsFrom("u1", all)
	require.NoError(t, err)
	assert.Equal(t, all, units)

	_, err = UnitsFrom("u9", all)
	assert.ErrorIs(t, err, ErrUnknownUnit)
}

func TestLedger_Latest(t *testing.T) {
	l := NewLedger()
	l.Append(creation("u1", "a"))
	l.Append(move("u2", "a", "b"))

	op, ok := l.Latest("b")
	require.True(t, ok)
	assert.Equal(t, KindMove, op.Meta().Kind)

	op, ok = l.Latest("a")
	require.True(t, ok)
	assert.Equal(t, KindMove, op.Meta().Kind)

	_, ok = l.Latest("c")
	assert.False(t, ok)
}
