package dbadapter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/lakegate/lakegate/internal/delta"
	"github.com/lakegate/lakegate/internal/schema"
	"github.com/lakegate/lakegate/pkg/hlc"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// walJournalSizeLimit caps the WAL file at 64 MiB.
const walJournalSizeLimit = 67108864

// SQLite implements Adapter on an embedded SQLite database in WAL
// mode. Deltas are stored one row each with columns serialised as
// JSON; clock values are cast to int64, which holds every encoded
// timestamp for wall clocks into the fifth millennium.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger

	deltaStmts  deltaStatements
	schemaStmts schemaStatements
}

type deltaStatements struct {
	insert, since, forTable *sql.Stmt
}

type schemaStatements struct {
	upsert *sql.Stmt
}

var _ Adapter = (*SQLite)(nil)

// NewSQLite opens the database at dbPath, applies migrations, and
// prepares all repeated statements. Use ":memory:" for tests.
func NewSQLite(dbPath string, logger *slog.Logger) (*SQLite, error) {
	logger.Info("opening delta source database", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("dbadapter: open sqlite: %w", err)
	}

	// The modernc driver returns SQLITE_BUSY under concurrent writers;
	// a single pooled connection serialises them. It also keeps
	// ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)

	if err := setPragmas(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLite{db: db, logger: logger}

	if err := s.prepareAllStatements(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbadapter: prepare statements: %w", err)
	}

	logger.Info("delta source database ready", "path", dbPath)

	return s, nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct {
		sql  string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = NORMAL", "synchronous NORMAL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("dbadapter: set pragma %s: %w", p.desc, err)
		}

		logger.Debug("pragma set", "pragma", p.desc)
	}

	return nil
}

// --- SQL query constants ---

const (
	sqlDeltaColumns = `table_name, row_id, client_id, op, hlc, delta_id, columns`

	sqlInsertDelta = `INSERT INTO deltas (` + sqlDeltaColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (table_name, row_id, hlc) DO NOTHING`

	sqlDeltasSince = `SELECT ` + sqlDeltaColumns + `
		FROM deltas WHERE hlc > ? ORDER BY hlc ASC LIMIT ?`

	sqlDeltasForTable = `SELECT ` + sqlDeltaColumns + `
		FROM deltas WHERE table_name = ? ORDER BY hlc ASC`

	sqlUpsertSchema = `INSERT INTO table_schemas (table_name, version, definition)
		VALUES (?, ?, ?)
		ON CONFLICT (table_name) DO UPDATE SET
			version    = excluded.version,
			definition = excluded.definition`
)

func (s *SQLite) prepareAllStatements(ctx context.Context) error {
	prep := func(dst **sql.Stmt, query string) error {
		stmt, err := s.db.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		*dst = stmt

		return nil
	}

	stmts := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&s.deltaStmts.insert, sqlInsertDelta},
		{&s.deltaStmts.since, sqlDeltasSince},
		{&s.deltaStmts.forTable, sqlDeltasForTable},
		{&s.schemaStmts.upsert, sqlUpsertSchema},
	}

	for _, st := range stmts {
		if err := prep(st.dst, st.query); err != nil {
			return err
		}
	}

	return nil
}

// InsertDeltas persists a batch in one transaction. Column payloads
// keep their variant tags through the JSON round trip.
func (s *SQLite) InsertDeltas(ctx context.Context, deltas []delta.RowDelta) error {
	if len(deltas) == 0 {
		return nil
	}

	s.logger.Debug("inserting deltas", "count", len(deltas))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &AdapterError{Op: "insert", Err: fmt.Errorf("begin tx: %w", err)}
	}

	stmt := tx.StmtContext(ctx, s.deltaStmts.insert)

	for i := range deltas {
		d := &deltas[i]

		var columns any
		if len(d.Columns) > 0 {
			buf, marshalErr := json.Marshal(d.Columns)
			if marshalErr != nil {
				rollbackErr := tx.Rollback()
				return &AdapterError{Op: "insert", Err: fmt.Errorf(
					"marshal columns for %s/%s: %w (rollback: %v)", d.Table, d.RowID, marshalErr, rollbackErr)}
			}
			columns = string(buf)
		}

		if _, execErr := stmt.ExecContext(ctx,
			d.Table, d.RowID, d.ClientID, string(d.Op), int64(d.HLC), d.DeltaID, columns,
		); execErr != nil {
			rollbackErr := tx.Rollback()
			return &AdapterError{Op: "insert", Err: fmt.Errorf(
				"delta %d (%s/%s): %w (rollback: %v)", i, d.Table, d.RowID, execErr, rollbackErr)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &AdapterError{Op: "insert", Err: fmt.Errorf("commit: %w", err)}
	}

	return nil
}

// QueryDeltasSince returns deltas with clocks strictly after since in
// ascending HLC order.
func (s *SQLite) QueryDeltasSince(ctx context.Context, since hlc.Timestamp, limit int) ([]delta.RowDelta, error) {
	if limit <= 0 {
		limit = -1 // SQLite treats a negative LIMIT as unbounded.
	}

	rows, err := s.deltaStmts.since.QueryContext(ctx, int64(since), limit)
	if err != nil {
		return nil, &AdapterError{Op: "query since", Err: err}
	}
	defer rows.Close()

	return scanDeltas(rows, "query since")
}

// GetLatestState folds the table's history into current row images by
// replaying every delta through the column-level merge, then drops
// dead rows.
func (s *SQLite) GetLatestState(ctx context.Context, table string) ([]delta.RowDelta, error) {
	rows, err := s.deltaStmts.forTable.QueryContext(ctx, table)
	if err != nil {
		return nil, &AdapterError{Op: "latest state", Err: err}
	}
	defer rows.Close()

	history, err := scanDeltas(rows, "latest state")
	if err != nil {
		return nil, err
	}

	images := make(map[delta.RowKey]delta.RowDelta)
	for i := range history {
		key := delta.RowKey{Table: history[i].Table, RowID: history[i].RowID}
		if existing, ok := images[key]; ok {
			images[key] = delta.Merge(&existing, &history[i])
		} else {
			images[key] = history[i]
		}
	}

	live := make([]delta.RowDelta, 0, len(images))
	for _, img := range images {
		if img.Op == delta.OpDelete {
			continue
		}
		live = append(live, img)
	}

	sort.Slice(live, func(i, j int) bool { return live[i].RowID < live[j].RowID })

	return live, nil
}

// EnsureSchema records the table definition.
func (s *SQLite) EnsureSchema(ctx context.Context, ts schema.TableSchema) error {
	definition, err := json.Marshal(ts)
	if err != nil {
		return &AdapterError{Op: "ensure schema", Err: err}
	}

	if _, err := s.schemaStmts.upsert.ExecContext(ctx, ts.Table, 1, string(definition)); err != nil {
		return &AdapterError{Op: "ensure schema", Err: err}
	}

	return nil
}

// Materialise records the batch's schemas and upserts its deltas, so
// the adapter doubles as a flush-queue materialiser keeping a
// queryable mirror of flushed data.
func (s *SQLite) Materialise(ctx context.Context, entries []delta.RowDelta, schemas []schema.TableSchema) error {
	for i := range schemas {
		if err := s.EnsureSchema(ctx, schemas[i]); err != nil {
			return err
		}
	}

	return s.InsertDeltas(ctx, entries)
}

// Close releases prepared statements and the database handle.
func (s *SQLite) Close() error {
	stmts := []*sql.Stmt{
		s.deltaStmts.insert, s.deltaStmts.since, s.deltaStmts.forTable,
		s.schemaStmts.upsert,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("dbadapter: close database: %w", err)
	}

	return nil
}

func scanDeltas(rows *sql.Rows, op string) ([]delta.RowDelta, error) {
	var out []delta.RowDelta

	for rows.Next() {
		var (
			d       delta.RowDelta
			opStr   string
			ts      int64
			columns sql.NullString
		)
		if err := rows.Scan(&d.Table, &d.RowID, &d.ClientID, &opStr, &ts, &d.DeltaID, &columns); err != nil {
			return nil, &AdapterError{Op: op, Err: fmt.Errorf("scan: %w", err)}
		}

		d.Op = delta.Op(opStr)
		d.HLC = hlc.Timestamp(ts)

		if columns.Valid {
			if err := json.Unmarshal([]byte(columns.String), &d.Columns); err != nil {
				return nil, &AdapterError{Op: op, Err: fmt.Errorf(
					"unmarshal columns for %s/%s: %w", d.Table, d.RowID, err)}
			}
		}

		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, &AdapterError{Op: op, Err: err}
	}

	return out, nil
}
