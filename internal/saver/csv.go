package saver

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// CSVSaver persists the event table as a flat file. Every save reads the
// whole file back, unions it with the buffered rows and rewrites it, which
// makes schema reconciliation trivial at the cost of O(file) saves.
type CSVSaver struct {
	path string
}

// NewCSV creates a file-backed saver from a "csv://path" DSN. The table name
// does not apply to this backend and is ignored.
func NewCSV(dsn, table string) (Saver, error) {
	_, path, _ := strings.Cut(dsn, "://")
	return &CSVSaver{path: path}, nil
}

func (s *CSVSaver) Save(ctx context.Context, rows []Row, schema Schema) error {
	existingCols, existingRows, err := s.readRaw()
	if err != nil {
		return err
	}

	columns := unionColumns(schema, existingCols)

	tmp := s.path + ".tmp"
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating stats directory: %w", err)
		}
	}
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating stats file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	writeRow := func(row Row) error {
		record := make([]string, len(columns))
		for i, col := range columns {
			typ, ok := schema.Type(col)
			if !ok {
				typ = TypeString
			}
			cell, err := encodeValue(row[col], typ)
			if err != nil {
				return fmt.Errorf("column %s: %w", col, err)
			}
			record[i] = cell
		}
		return w.Write(record)
	}

	for _, row := range existingRows {
		if err := writeRow(row); err != nil {
			return err
		}
	}
	for _, row := range rows {
		if err := writeRow(row); err != nil {
			return err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("writing stats file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing stats file: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *CSVSaver) Load(ctx context.Context, schema Schema) (*Table, error) {
	cols, rows, err := s.readRaw()
	if err != nil {
		return nil, err
	}
	raw := &Table{Columns: cols, Rows: rows}
	return coerceTable(raw, schema)
}

func (s *CSVSaver) Close() error {
	return nil
}

// readRaw returns the file's columns and untyped rows. A missing or empty
// file reads as an empty table.
func (s *CSVSaver) readRaw() ([]string, []Row, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("opening stats file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}

	var rows []Row
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading stats file: %w", err)
		}
		row := make(Row, len(header))
		for i, col := range header {
			if i < len(record) && record[i] != "" {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}
