// Package saver provides pluggable persistence for collected turn statistics.
//
// A Saver is addressed by a DSN of the form "scheme://rest"; the scheme picks
// the backend through an explicit registry. Every backend implements the same
// reconciliation policy: when the incoming column set differs from the
// destination's, the whole destination is read back, unioned with the new
// rows and rewritten, so collector reconfiguration never loses data.
package saver

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// DefaultTable is the destination name used when the caller does not override it.
const DefaultTable = "dff_stats"

// Saver persists batches of event rows and loads them back.
type Saver interface {
	// Save appends the buffered rows to the destination, first reconciling
	// the destination's column set with the schema (full read-union-rewrite
	// on drift). Backend errors propagate unchanged.
	Save(ctx context.Context, rows []Row, schema Schema) error

	// Load reads back the entire destination, restricted to the schema's
	// columns and coerced to their declared types. The file-backed variant
	// returns an empty table when the file does not exist; database-backed
	// variants propagate the backend's not-found error.
	Load(ctx context.Context, schema Schema) (*Table, error)

	Close() error
}

// Factory constructs a backend from the full DSN and a destination table name.
type Factory func(dsn, table string) (Saver, error)

// Registry maps DSN schemes to backend factories. It is an explicit object
// rather than package-global state so that initialization order stays visible
// and tests can build isolated registries.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Default returns a registry with the built-in backends registered.
func Default() *Registry {
	r := NewRegistry()
	r.Register("csv", NewCSV)
	r.Register("sqlite", NewSQLite)
	r.Register("postgresql", NewPostgres)
	r.Register("clickhouse", NewClickHouse)
	return r
}

// Register adds a backend under a scheme name, replacing any previous entry.
func (r *Registry) Register(scheme string, factory Factory) {
	r.factories[scheme] = factory
}

// Schemes returns the registered scheme names, sorted.
func (r *Registry) Schemes() []string {
	schemes := make([]string, 0, len(r.factories))
	for s := range r.factories {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// Open constructs the backend selected by the DSN scheme. An empty table name
// falls back to DefaultTable.
func (r *Registry) Open(dsn, table string) (Saver, error) {
	scheme, rest, found := strings.Cut(dsn, "://")
	if !found || scheme == "" || rest == "" {
		return nil, fmt.Errorf(
			"saver should be initialized with scheme://path, got %q (available options: %s)",
			dsn, strings.Join(r.Schemes(), ", "))
	}
	factory, ok := r.factories[scheme]
	if !ok {
		return nil, fmt.Errorf(
			"Cannot recognize option %q (available options: %s)",
			scheme, strings.Join(r.Schemes(), ", "))
	}
	if table == "" {
		table = DefaultTable
	}
	return factory(dsn, table)
}

// Open constructs a backend from the default registry.
func Open(dsn, table string) (Saver, error) {
	return Default().Open(dsn, table)
}
