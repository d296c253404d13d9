// internal/database/db.go
package database

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// Database wraps the SQLite database connection
type Database struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path
func Open(path string) (*Database, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}

	d := &Database{db: db}
	if err := d.init(); err != nil {
		db.Close()
		return nil, err
	}

	return d, nil
}

// init creates the database schema
func (d *Database) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS change_units (
		project_root TEXT NOT NULL,
		id TEXT NOT NULL,
		first_seen_at INTEGER NOT NULL,
		PRIMARY KEY (project_root, id)
	);

	CREATE TABLE IF NOT EXISTS tracked_operations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_root TEXT NOT NULL,
		change_unit_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		path TEXT NOT NULL,
		destination TEXT,
		original_hash TEXT,
		original_mode INTEGER,
		original_source TEXT,
		modified_hash TEXT,
		modified_mode INTEGER,
		recorded_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tracked_operations_unit ON tracked_operations(project_root, change_unit_id);
	CREATE INDEX IF NOT EXISTS idx_tracked_operations_original ON tracked_operations(original_hash);
	CREATE INDEX IF NOT EXISTS idx_tracked_operations_modified ON tracked_operations(modified_hash);
	`

	_, err := d.db.Exec(schema)
	return err
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// InsertOperation journals op, registering its change unit on first use.
func (d *Database) InsertOperation(op *Operation) (int64, error) {
	if op.RecordedAt.IsZero() {
		op.RecordedAt = time.Now()
	}

	tx, err := d.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT OR IGNORE INTO change_units (project_root, id, first_seen_at)
		VALUES (?, ?, ?)`,
		op.ProjectRoot, op.ChangeUnitID, op.RecordedAt.UnixNano()); err != nil {
		return 0, err
	}

	result, err := tx.Exec(`
		INSERT INTO tracked_operations
		(project_root, change_unit_id, seq, kind, path, destination,
		 original_hash, original_mode, original_source, modified_hash, modified_mode, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ProjectRoot, op.ChangeUnitID, op.Seq, op.Kind, op.Path, nullableString(op.Destination),
		nullableString(op.OriginalHash), op.OriginalMode, nullableString(op.OriginalSource),
		nullableString(op.ModifiedHash), op.ModifiedMode, op.RecordedAt.UnixNano())
	if err != nil {
		return 0, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	op.ID = id
	return id, nil
}

// ListOperations returns every operation of a project in insertion order
func (d *Database) ListOperations(projectRoot string) ([]*Operation, error) {
	rows, err := d.db.Query(`
		SELECT id, project_root, change_unit_id, seq, kind, path, destination,
		       original_hash, original_mode, original_source, modified_hash, modified_mode, recorded_at
		FROM tracked_operations WHERE project_root = ? ORDER BY id`, projectRoot)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// ListChangeUnits returns a project's change units in first-seen order
func (d *Database) ListChangeUnits(projectRoot string) ([]*ChangeUnit, error) {
	rows, err := d.db.Query(`
		SELECT u.id, u.project_root, u.first_seen_at, COUNT(o.id)
		FROM change_units u
		LEFT JOIN tracked_operations o ON o.project_root = u.project_root AND o.change_unit_id = u.id
		WHERE u.project_root = ?
		GROUP BY u.project_root, u.id
		ORDER BY u.first_seen_at, u.id`, projectRoot)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []*ChangeUnit
	for rows.Next() {
		unit := &ChangeUnit{}
		var firstSeen int64
		if err := rows.Scan(&unit.ID, &unit.ProjectRoot, &firstSeen, &unit.OperationCount); err != nil {
			return nil, err
		}
		unit.FirstSeenAt = time.Unix(0, firstSeen)
		units = append(units, unit)
	}
	return units, rows.Err()
}

// ListProjects returns every project root with journaled operations
func (d *Database) ListProjects() ([]*Project, error) {
	rows, err := d.db.Query(`
		SELECT project_root, COUNT(DISTINCT change_unit_id), COUNT(*), MAX(recorded_at)
		FROM tracked_operations
		GROUP BY project_root
		ORDER BY project_root`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p := &Project{}
		var last int64
		if err := rows.Scan(&p.Root, &p.UnitCount, &p.OperationCount, &last); err != nil {
			return nil, err
		}
		p.LastRecordedAt = time.Unix(0, last)
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// DeleteChangeUnit removes a change unit and its operations, returning how
// many operations were removed.
func (d *Database) DeleteChangeUnit(projectRoot, unitID string) (int64, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`DELETE FROM tracked_operations WHERE project_root = ? AND change_unit_id = ?`, projectRoot, unitID)
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec(`DELETE FROM change_units WHERE project_root = ? AND id = ?`, projectRoot, unitID); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteProject removes everything journaled for a project
func (d *Database) DeleteProject(projectRoot string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM tracked_operations WHERE project_root = ?`, projectRoot); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM change_units WHERE project_root = ?`, projectRoot); err != nil {
		return err
	}
	return tx.Commit()
}

// ReferencedHashes returns every snapshot hash still referenced by an operation
func (d *Database) ReferencedHashes() (map[string]bool, error) {
	rows, err := d.db.Query(`
		SELECT original_hash FROM tracked_operations WHERE original_hash IS NOT NULL
		UNION
		SELECT modified_hash FROM tracked_operations WHERE modified_hash IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hashes := make(map[string]bool)
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, err
		}
		hashes[hash] = true
	}
	return hashes, rows.Err()
}

// ===== Storage Operations =====

// ListTables returns all table names in the database
func (d *Database) ListTables() ([]string, error) {
	rows, err := d.db.Query(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// ResetDatabase drops all tables and reinitializes the schema
func (d *Database) ResetDatabase() error {
	tables, err := d.ListTables()
	if err != nil {
		return err
	}

	for _, table := range tables {
		if _, err := d.db.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			return err
		}
	}

	return d.init()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOperation(row scanner) (*Operation, error) {
	op := &Operation{}
	var (
		destination, originalHash, originalSource, modifiedHash sql.NullString
		originalMode, modifiedMode                              sql.NullInt64
		recordedAt                                              int64
	)
	err := row.Scan(&op.ID, &op.ProjectRoot, &op.ChangeUnitID, &op.Seq, &op.Kind, &op.Path, &destination,
		&originalHash, &originalMode, &originalSource, &modifiedHash, &modifiedMode, &recordedAt)
	if err != nil {
		return nil, err
	}

	op.Destination = destination.String
	op.OriginalHash = originalHash.String
	op.OriginalSource = originalSource.String
	op.ModifiedHash = modifiedHash.String
	op.OriginalMode = uint32(originalMode.Int64)
	op.ModifiedMode = uint32(modifiedMode.Int64)
	op.RecordedAt = time.Unix(0, recordedAt)
	return op, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
