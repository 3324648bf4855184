package saver

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ColumnType is a semantic primitive type for a collected column.
type ColumnType string

const (
	TypeString   ColumnType = "string"
	TypeInt64    ColumnType = "int64"
	TypeFloat64  ColumnType = "float64"
	TypeBool     ColumnType = "bool"
	TypeDatetime ColumnType = "datetime"
	// TypeObject is an opaque value; backends without a native representation
	// store it JSON-encoded.
	TypeObject ColumnType = "object"
)

// Column is one declared column of the event table.
type Column struct {
	Name string
	Type ColumnType
}

// Schema is the ordered column declaration for a Saver, the union of the
// column sets declared by every active collector.
type Schema struct {
	Columns    []Column
	ParseDates []string
}

// Names returns the column names in declaration order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Type returns the declared type of a column.
func (s Schema) Type(name string) (ColumnType, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c.Type, true
		}
	}
	return "", false
}

// Has reports whether the schema declares the column.
func (s Schema) Has(name string) bool {
	_, ok := s.Type(name)
	return ok
}

// IsDate reports whether the column is declared as a timestamp to parse.
func (s Schema) IsDate(name string) bool {
	for _, d := range s.ParseDates {
		if d == name {
			return true
		}
	}
	return false
}

// Row is one wide event row. Absent columns are simply missing from the map;
// both a missing key and an explicit nil read back as null.
type Row map[string]any

// Table is a loaded event table: an ordered column list and append-only rows.
type Table struct {
	Columns []string
	Rows    []Row
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Has reports whether the table carries the column.
func (t *Table) Has(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// MissingColumns returns the subset of names the table does not carry,
// in the given order.
func (t *Table) MissingColumns(names ...string) []string {
	var missing []string
	for _, n := range names {
		if t == nil || !t.Has(n) {
			missing = append(missing, n)
		}
	}
	return missing
}

// timeLayout is the wire format for timestamps in text-based backends.
const timeLayout = time.RFC3339Nano

// encodeValue renders a row value as text for the csv backend.
func encodeValue(v any, typ ColumnType) (string, error) {
	if v == nil {
		return "", nil
	}
	switch typ {
	case TypeDatetime:
		switch t := v.(type) {
		case time.Time:
			return t.Format(timeLayout), nil
		case string:
			// Cells read back from an existing file are already rendered.
			return t, nil
		}
		return "", fmt.Errorf("column type %s: unexpected value %T", typ, v)
	case TypeObject:
		if s, ok := v.(string); ok {
			return s, nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encoding object column: %w", err)
		}
		return string(data), nil
	default:
		return fmt.Sprint(v), nil
	}
}

// coerceValue converts a loaded value to the declared column type. Text-based
// backends hand in strings; database backends may already return typed values.
func coerceValue(v any, typ ColumnType, isDate bool) (any, error) {
	if v == nil {
		return nil, nil
	}
	if isDate || typ == TypeDatetime {
		switch t := v.(type) {
		case time.Time:
			return t, nil
		case string:
			if t == "" {
				return nil, nil
			}
			parsed, err := time.Parse(timeLayout, t)
			if err != nil {
				return nil, fmt.Errorf("parsing timestamp %q: %w", t, err)
			}
			return parsed, nil
		default:
			return nil, fmt.Errorf("cannot parse %T as timestamp", v)
		}
	}

	switch typ {
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	case TypeInt64:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case uint64:
			return int64(n), nil
		case float64:
			return int64(n), nil
		case string:
			if n == "" {
				return nil, nil
			}
			i, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing int64 %q: %w", n, err)
			}
			return i, nil
		}
		return nil, fmt.Errorf("cannot coerce %T to int64", v)
	case TypeFloat64:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case int:
			return float64(n), nil
		case string:
			if n == "" {
				return nil, nil
			}
			f, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing float64 %q: %w", n, err)
			}
			return f, nil
		}
		return nil, fmt.Errorf("cannot coerce %T to float64", v)
	case TypeBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case int64:
			return b != 0, nil
		case uint8:
			return b != 0, nil
		case string:
			if b == "" {
				return nil, nil
			}
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return nil, fmt.Errorf("parsing bool %q: %w", b, err)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("cannot coerce %T to bool", v)
	case TypeObject:
		if s, ok := v.(string); ok {
			if s == "" {
				return nil, nil
			}
			var decoded any
			if err := json.Unmarshal([]byte(s), &decoded); err != nil {
				// Opaque values that never round-tripped through JSON stay as-is.
				return s, nil
			}
			return decoded, nil
		}
		return v, nil
	}
	return v, nil
}

// coerceTable restricts a raw loaded table to the schema's columns and coerces
// every value to its declared type. Columns the source lacks read back as nil.
func coerceTable(raw *Table, schema Schema) (*Table, error) {
	out := &Table{Columns: schema.Names()}
	for _, row := range raw.Rows {
		coerced := make(Row, len(schema.Columns))
		for _, col := range schema.Columns {
			v, err := coerceValue(row[col.Name], col.Type, schema.IsDate(col.Name))
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", col.Name, err)
			}
			coerced[col.Name] = v
		}
		out.Rows = append(out.Rows, coerced)
	}
	return out, nil
}

// unionColumns merges the existing destination columns with the incoming
// schema: schema columns keep declaration order, then existing columns the
// schema no longer declares are preserved so a rewrite never loses data.
func unionColumns(schema Schema, existing []string) []string {
	union := schema.Names()
	seen := make(map[string]bool, len(union))
	for _, n := range union {
		seen[n] = true
	}
	for _, n := range existing {
		if !seen[n] {
			union = append(union, n)
			seen[n] = true
		}
	}
	return union
}

// sameColumns reports whether two column sets are equal, ignoring order.
func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, n := range a {
		set[n] = true
	}
	for _, n := range b {
		if !set[n] {
			return false
		}
	}
	return true
}
