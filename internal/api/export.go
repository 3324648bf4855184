package api

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/deeppavlovteam/dialog-flow-node-stats/internal/saver"
)

// ExportFormat represents supported export formats.
type ExportFormat string

const (
	FormatNDJSON ExportFormat = "ndjson"
	FormatJSON   ExportFormat = "json"
	FormatCSV    ExportFormat = "csv"

	// MaxCSVRows limits CSV exports to prevent browser/Excel issues
	MaxCSVRows = 10000
	// MaxJSONRows limits JSON exports to prevent OOM (JSON buffers all rows in memory)
	MaxJSONRows = 10000
)

// ExportConfig holds export configuration parsed from query params.
type ExportConfig struct {
	Format  ExportFormat
	MaxRows int
}

// ParseExportConfig parses export configuration from request query params.
func ParseExportConfig(r *http.Request) ExportConfig {
	cfg := ExportConfig{
		Format:  FormatNDJSON,
		MaxRows: 0,
	}

	switch r.URL.Query().Get("format") {
	case "json":
		cfg.Format = FormatJSON
		cfg.MaxRows = MaxJSONRows
	case "csv":
		cfg.Format = FormatCSV
		cfg.MaxRows = MaxCSVRows
	case "ndjson", "":
		cfg.Format = FormatNDJSON
	}

	if v := r.URL.Query().Get("max_rows"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxRows = n
		}
	}

	return cfg
}

// EventExporter writes event rows in a specific format.
type EventExporter interface {
	// ContentType returns the MIME type for this format.
	ContentType() string
	// FileExtension returns the file extension for downloads.
	FileExtension() string
	// WriteHeader writes any header/preamble needed.
	WriteHeader(w io.Writer, columns []string) error
	// WriteRow writes a single event row.
	WriteRow(w io.Writer, columns []string, row saver.Row) error
	// WriteFooter writes any footer/closing needed.
	WriteFooter(w io.Writer, rowCount int) error
}

// NDJSONExporter exports event rows as newline-delimited JSON.
type NDJSONExporter struct {
	encoder *json.Encoder
}

func NewNDJSONExporter() *NDJSONExporter {
	return &NDJSONExporter{}
}

func (e *NDJSONExporter) ContentType() string   { return "application/x-ndjson" }
func (e *NDJSONExporter) FileExtension() string { return "ndjson" }

func (e *NDJSONExporter) WriteHeader(w io.Writer, columns []string) error {
	e.encoder = json.NewEncoder(w)
	return nil
}

func (e *NDJSONExporter) WriteRow(w io.Writer, columns []string, row saver.Row) error {
	return e.encoder.Encode(row)
}

func (e *NDJSONExporter) WriteFooter(w io.Writer, rowCount int) error {
	return nil // NDJSON has no footer
}

// JSONExporter exports event rows as a JSON array with metadata.
type JSONExporter struct {
	rows []saver.Row
}

func NewJSONExporter() *JSONExporter {
	return &JSONExporter{rows: make([]saver.Row, 0)}
}

func (e *JSONExporter) ContentType() string   { return "application/json" }
func (e *JSONExporter) FileExtension() string { return "json" }

func (e *JSONExporter) WriteHeader(w io.Writer, columns []string) error {
	return nil // JSON writes everything in footer
}

func (e *JSONExporter) WriteRow(w io.Writer, columns []string, row saver.Row) error {
	e.rows = append(e.rows, row)
	return nil
}

func (e *JSONExporter) WriteFooter(w io.Writer, rowCount int) error {
	response := map[string]interface{}{
		"events": e.rows,
		"meta": map[string]interface{}{
			"row_count":   rowCount,
			"exported_at": time.Now().UTC().Format(time.RFC3339),
		},
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// CSVExporter exports event rows as CSV in table column order.
type CSVExporter struct {
	writer *csv.Writer
}

func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

func (e *CSVExporter) ContentType() string   { return "text/csv" }
func (e *CSVExporter) FileExtension() string { return "csv" }

func (e *CSVExporter) WriteHeader(w io.Writer, columns []string) error {
	e.writer = csv.NewWriter(w)
	return e.writer.Write(columns)
}

func (e *CSVExporter) WriteRow(w io.Writer, columns []string, row saver.Row) error {
	record := make([]string, len(columns))
	for i, col := range columns {
		record[i] = cellToString(row[col])
	}
	return e.writer.Write(record)
}

func (e *CSVExporter) WriteFooter(w io.Writer, rowCount int) error {
	e.writer.Flush()
	return e.writer.Error()
}

// NewExporter creates an exporter for the given format.
func NewExporter(format ExportFormat) EventExporter {
	switch format {
	case FormatJSON:
		return NewJSONExporter()
	case FormatCSV:
		return NewCSVExporter()
	default:
		return NewNDJSONExporter()
	}
}

// exportEvents streams the raw event table in the requested format.
func (s *Server) exportEvents(w http.ResponseWriter, r *http.Request) {
	cfg := ParseExportConfig(r)
	exporter := NewExporter(cfg.Format)

	w.Header().Set("Content-Type", exporter.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=dff-stats.%s", exporter.FileExtension()))

	if err := exporter.WriteHeader(w, s.table.Columns); err != nil {
		s.logger.Error("failed to write export header", "error", err)
		return
	}

	count := 0
	for _, row := range s.table.Rows {
		if cfg.MaxRows > 0 && count >= cfg.MaxRows {
			break
		}
		if err := exporter.WriteRow(w, s.table.Columns, row); err != nil {
			s.logger.Error("failed to write export row", "error", err)
			return
		}
		count++
	}

	if err := exporter.WriteFooter(w, count); err != nil {
		s.logger.Error("failed to write export footer", "error", err)
	}
}

func cellToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}
