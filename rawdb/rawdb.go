// Package rawdb provides minimal synchronous access to a SQLite database
// file: Query for lazy row reads and Execute for statements that must run to
// completion.
//
// Each call opens its own connection and closes it when the rows are
// exhausted or the statement is drained; no connection state is retained
// between calls. The file is opened read-write regardless of advisory locks
// held by other processes — this deliberately sits below any guard layer
// that would refuse a locked file, and accepts the corruption risk that
// implies. Callers own transactional discipline; no implicit transactions
// are opened.
//
// Every open, prepare, step, and close failure surfaces the engine's own
// error text.
package rawdb

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite" // SQLite driver
)

// Row is one result row, addressed by column name.
type Row map[string]any

// Int64 returns the named column as int64. SQLite's dynamic typing means a
// numeric column can surface as either integer or real; both are accepted.
// Missing or NULL columns return 0.
func (r Row) Int64(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Float64 returns the named column as float64. Missing or NULL columns
// return 0.
func (r Row) Float64(col string) float64 {
	switch v := r[col].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// String returns the named column as a string. Missing or NULL columns
// return "".
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

// Bytes returns the named column as a byte slice, or nil.
func (r Row) Bytes(col string) []byte {
	switch v := r[col].(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return nil
	}
}

// IsNull reports whether the named column is NULL or absent.
func (r Row) IsNull(col string) bool {
	v, ok := r[col]
	return !ok || v == nil
}

// Rows is a lazy, finite, non-restartable result sequence. A fresh Query
// re-executes the statement. Closing the rows (explicitly or by exhausting
// them) closes the underlying connection.
type Rows struct {
	db     *sql.DB
	rows   *sql.Rows
	cols   []string
	err    error
	closed bool
}

// Next advances to the next row. It returns false at the end of the result
// set or on error, closing the connection either way; check Err afterwards.
func (r *Rows) Next() bool {
	if r.closed {
		return false
	}
	if r.rows.Next() {
		return true
	}
	r.err = r.rows.Err()
	r.Close()
	return false
}

// Scan reads the current row into a name-addressed Row.
func (r *Rows) Scan() (Row, error) {
	values := make([]any, len(r.cols))
	ptrs := make([]any, len(r.cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}
	row := make(Row, len(r.cols))
	for i, col := range r.cols {
		row[col] = values[i]
	}
	return row, nil
}

// Err returns the first error encountered while iterating.
func (r *Rows) Err() error { return r.err }

// Close releases the statement and connection. Safe to call more than once.
func (r *Rows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.rows.Close()
	return r.db.Close()
}

// dsn builds the driver connection string. mode=rw refuses to create a
// missing file; the busy timeout covers transient page-level contention from
// the catalog's own writer.
func dsn(dbPath string) string {
	u := url.URL{
		Scheme:   "file",
		Path:     dbPath,
		RawQuery: "mode=rw&_txlock=deferred&_pragma=busy_timeout(10000)",
	}
	return u.String()
}

// Query executes sql against the database file at dbPath and returns a lazy
// row sequence. The connection is opened for this call only and closed when
// the rows are closed or exhausted.
func Query(dbPath, query string, params ...any) (*Rows, error) {
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)

	rows, err := db.Query(query, params...)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("query %s: %w", dbPath, err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		db.Close()
		return nil, fmt.Errorf("read columns: %w", err)
	}
	return &Rows{db: db, rows: rows, cols: cols}, nil
}

// Execute runs a statement to completion, fully draining any result set so
// side-effecting statements take effect even when their rows are ignored.
// The drained rows are returned, nil if the statement produced none.
func Execute(dbPath, stmt string, params ...any) ([]Row, error) {
	rows, err := Query(dbPath, stmt, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		row, err := rows.Scan()
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("drain rows: %w", err)
	}
	return out, nil
}
