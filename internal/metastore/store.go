// Package metastore persists rowset metadata in a SQLite catalog. One
// metastore serves all tablets of a node; commits and visibility changes go
// through it so restarts see the same version history.
package metastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	serrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/internal/rowset"
	"github.com/stratadb/strata/pkg/types"
)

// Store is the SQLite-backed rowset catalog. A single write connection
// serializes mutations; reads go through a small read-only pool.
type Store struct {
	db     *sql.DB
	readDB *sql.DB
	mu     sync.Mutex
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS rowsets (
	rowset_id             TEXT PRIMARY KEY,
	tablet_id             INTEGER NOT NULL,
	schema_hash           INTEGER NOT NULL,
	partition_id          INTEGER NOT NULL,
	version_start         INTEGER NOT NULL,
	version_end           INTEGER NOT NULL,
	num_segments          INTEGER NOT NULL,
	num_rows              INTEGER NOT NULL,
	total_size            INTEGER NOT NULL,
	state                 INTEGER NOT NULL,
	segments_overlap      INTEGER NOT NULL,
	referenced_column_ids TEXT,
	created_at            TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rowsets_tablet ON rowsets(tablet_id, version_end);
`

// Open opens or creates the catalog at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, serrors.NewMetastoreError(serrors.CodeMetaWriteFailed, "open catalog", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, serrors.NewMetastoreError(serrors.CodeMetaWriteFailed, "initialize catalog schema", err)
	}

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, serrors.NewMetastoreError(serrors.CodeMetaWriteFailed, "open catalog reader", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db, readDB: readDB}, nil
}

// Save upserts one rowset's metadata.
func (s *Store) Save(ctx context.Context, m *rowset.Meta) error {
	refIDs, err := marshalColumnIDs(m.ReferencedColumnIDs)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rowsets (
			rowset_id, tablet_id, schema_hash, partition_id,
			version_start, version_end, num_segments, num_rows, total_size,
			state, segments_overlap, referenced_column_ids, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rowset_id) DO UPDATE SET
			version_start = excluded.version_start,
			version_end = excluded.version_end,
			num_segments = excluded.num_segments,
			num_rows = excluded.num_rows,
			total_size = excluded.total_size,
			state = excluded.state,
			segments_overlap = excluded.segments_overlap,
			referenced_column_ids = excluded.referenced_column_ids`,
		m.RowsetID.String(), m.TabletID, int64(m.SchemaHash), m.PartitionID,
		m.Version.Start, m.Version.End, m.NumSegments, m.NumRows, m.TotalSize,
		int(m.State), int(m.SegmentsOverlap), refIDs, m.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return serrors.NewMetastoreError(serrors.CodeMetaWriteFailed, "save rowset "+m.RowsetID.String(), err)
	}
	return nil
}

// MarkVisible commits a rowset at the given version in one statement.
func (s *Store) MarkVisible(ctx context.Context, id types.RowsetID, version types.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		UPDATE rowsets SET state = ?, version_start = ?, version_end = ?
		WHERE rowset_id = ?`,
		int(rowset.StateVisible), version.Start, version.End, id.String())
	if err != nil {
		return serrors.NewMetastoreError(serrors.CodeMetaWriteFailed, "mark rowset visible", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return serrors.New(serrors.ErrCategoryMetastore, serrors.CodeRowsetNotFound,
			"rowset "+id.String()+" not in catalog")
	}
	return nil
}

// Get returns one rowset's metadata.
func (s *Store) Get(ctx context.Context, id types.RowsetID) (*rowset.Meta, error) {
	row := s.readDB.QueryRowContext(ctx,
		selectColumns+` FROM rowsets WHERE rowset_id = ?`, id.String())
	m, err := scanMeta(row)
	if err == sql.ErrNoRows {
		return nil, serrors.New(serrors.ErrCategoryMetastore, serrors.CodeMetaNotFound,
			"rowset "+id.String()+" not in catalog")
	}
	if err != nil {
		return nil, serrors.NewMetastoreError(serrors.CodeReadFailed, "load rowset "+id.String(), err)
	}
	return m, nil
}

// ListByTablet returns all rowsets of a tablet ordered by version, oldest
// first. States filters when non-empty.
func (s *Store) ListByTablet(ctx context.Context, tabletID int64, states ...rowset.State) ([]*rowset.Meta, error) {
	query := selectColumns + ` FROM rowsets WHERE tablet_id = ?`
	args := []interface{}{tabletID}
	if len(states) > 0 {
		query += ` AND state IN (`
		for i, st := range states {
			if i > 0 {
				query += `,`
			}
			query += `?`
			args = append(args, int(st))
		}
		query += `)`
	}
	query += ` ORDER BY version_end, rowset_id`

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, serrors.NewMetastoreError(serrors.CodeReadFailed, "list tablet rowsets", err)
	}
	defer rows.Close()
	var out []*rowset.Meta
	for rows.Next() {
		m, err := scanMeta(rows)
		if err != nil {
			return nil, serrors.NewMetastoreError(serrors.CodeReadFailed, "scan rowset row", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, serrors.NewMetastoreError(serrors.CodeReadFailed, "list tablet rowsets", err)
	}
	return out, nil
}

// Delete removes a rowset's metadata. Deleting an absent rowset is a no-op.
func (s *Store) Delete(ctx context.Context, id types.RowsetID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rowsets WHERE rowset_id = ?`, id.String()); err != nil {
		return serrors.NewMetastoreError(serrors.CodeMetaWriteFailed, "delete rowset "+id.String(), err)
	}
	return nil
}

// Close closes both connections.
func (s *Store) Close() error {
	rerr := s.readDB.Close()
	werr := s.db.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

const selectColumns = `SELECT rowset_id, tablet_id, schema_hash, partition_id,
	version_start, version_end, num_segments, num_rows, total_size,
	state, segments_overlap, referenced_column_ids, created_at`

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMeta(r rowScanner) (*rowset.Meta, error) {
	var (
		idStr      string
		schemaHash int64
		state      int
		overlap    int
		refIDs     sql.NullString
		createdAt  string
		m          rowset.Meta
	)
	err := r.Scan(&idStr, &m.TabletID, &schemaHash, &m.PartitionID,
		&m.Version.Start, &m.Version.End, &m.NumSegments, &m.NumRows, &m.TotalSize,
		&state, &overlap, &refIDs, &createdAt)
	if err != nil {
		return nil, err
	}
	id, err := types.ParseRowsetID(idStr)
	if err != nil {
		return nil, err
	}
	m.RowsetID = id
	m.SchemaHash = uint32(schemaHash)
	m.State = rowset.State(state)
	m.SegmentsOverlap = rowset.OverlapState(overlap)
	if refIDs.Valid && refIDs.String != "" {
		if err := json.Unmarshal([]byte(refIDs.String), &m.ReferencedColumnIDs); err != nil {
			return nil, err
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		m.CreatedAt = t
	}
	return &m, nil
}

func marshalColumnIDs(ids []int32) (sql.NullString, error) {
	if len(ids) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return sql.NullString{}, serrors.NewMetastoreError(serrors.CodeMetaWriteFailed, "encode column ids", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
