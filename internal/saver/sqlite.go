package saver

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSaver persists the event table in a SQLite database.
type SQLiteSaver struct {
	db    *sql.DB
	table string
}

// NewSQLite creates a saver from a "sqlite://path" DSN. ":memory:" is
// accepted as the path for an in-memory database.
func NewSQLite(dsn, table string) (Saver, error) {
	_, path, _ := strings.Cut(dsn, "://")
	db, err := sql.Open("sqlite", fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	// SQLite is single-writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &SQLiteSaver{db: db, table: table}, nil
}

func sqliteType(t ColumnType) string {
	switch t {
	case TypeInt64, TypeBool:
		return "INTEGER"
	case TypeFloat64:
		return "REAL"
	default:
		return "TEXT"
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (s *SQLiteSaver) Save(ctx context.Context, rows []Row, schema Schema) error {
	existing, err := s.tableColumns(ctx)
	if err != nil {
		return err
	}

	columns := schema.Names()
	var carried []Row

	switch {
	case existing == nil:
		if err := s.createTable(ctx, columns, schema, nil); err != nil {
			return err
		}
	case sameColumns(sqliteNames(existing), columns):
		// Append path, no reconciliation needed.
	default:
		// Schema drift: read everything out, recreate, re-insert.
		raw, err := s.readRaw(ctx)
		if err != nil {
			return err
		}
		carried = raw.Rows
		columns = unionColumns(schema, sqliteNames(existing))
		if _, err := s.db.ExecContext(ctx, "DROP TABLE "+quoteIdent(s.table)); err != nil {
			return fmt.Errorf("dropping table for migration: %w", err)
		}
		if err := s.createTable(ctx, columns, schema, existing); err != nil {
			return err
		}
	}

	return s.insert(ctx, columns, schema, append(carried, rows...))
}

func (s *SQLiteSaver) Load(ctx context.Context, schema Schema) (*Table, error) {
	raw, err := s.readRaw(ctx)
	if err != nil {
		return nil, err
	}
	return coerceTable(raw, schema)
}

func (s *SQLiteSaver) Close() error {
	return s.db.Close()
}

type sqliteColumn struct {
	name     string
	declType string
}

func sqliteNames(cols []sqliteColumn) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.name
	}
	return out
}

func (s *SQLiteSaver) createTable(ctx context.Context, columns []string, schema Schema, existing []sqliteColumn) error {
	existingTypes := make(map[string]string, len(existing))
	for _, c := range existing {
		existingTypes[c.name] = c.declType
	}

	defs := make([]string, len(columns))
	for i, col := range columns {
		var sqlType string
		if typ, ok := schema.Type(col); ok {
			sqlType = sqliteType(typ)
		} else if native, ok := existingTypes[col]; ok {
			sqlType = native
		} else {
			sqlType = "TEXT"
		}
		defs[i] = quoteIdent(col) + " " + sqlType
	}
	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(s.table), strings.Join(defs, ", "))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("creating table %s: %w", s.table, err)
	}
	return nil
}

// tableColumns introspects the destination, returning nil when the table does
// not exist yet. The declared types ride along so a migration can recreate
// columns the schema no longer declares.
func (s *SQLiteSaver) tableColumns(ctx context.Context) ([]sqliteColumn, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(s.table)))
	if err != nil {
		return nil, fmt.Errorf("introspecting table %s: %w", s.table, err)
	}
	defer rows.Close()

	var columns []sqliteColumn
	for rows.Next() {
		var (
			cid        int
			notnull    int
			defaultVal sql.NullString
			pk         int
			c          sqliteColumn
		)
		if err := rows.Scan(&cid, &c.name, &c.declType, &notnull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		columns = append(columns, c)
	}
	return columns, rows.Err()
}

func (s *SQLiteSaver) insert(ctx context.Context, columns []string, schema Schema, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = quoteIdent(col)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(s.table), strings.Join(quoted, ", "), placeholders))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		args := make([]any, len(columns))
		for i, col := range columns {
			typ, ok := schema.Type(col)
			if !ok {
				typ = TypeString
			}
			v, err := sqliteValue(row[col], typ)
			if err != nil {
				return fmt.Errorf("column %s: %w", col, err)
			}
			args[i] = v
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func sqliteValue(v any, typ ColumnType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch typ {
	case TypeDatetime:
		if t, ok := v.(time.Time); ok {
			return t.Format(timeLayout), nil
		}
		return v, nil
	case TypeObject:
		return encodeValue(v, TypeObject)
	default:
		return v, nil
	}
}

func (s *SQLiteSaver) readRaw(ctx context.Context) (*Table, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT * FROM "+quoteIdent(s.table))
	if err != nil {
		return nil, fmt.Errorf("loading table %s: %w", s.table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := &Table{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out.Rows = append(out.Rows, row)
	}
	return out, rows.Err()
}
