// Package stats buffers per-turn event rows collected from a dialogue engine
// and derives node-transition statistics from the persisted event table.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/deeppavlovteam/dialog-flow-node-stats/internal/collector"
	"github.com/deeppavlovteam/dialog-flow-node-stats/internal/dialog"
	"github.com/deeppavlovteam/dialog-flow-node-stats/internal/saver"
)

// Stats owns one Saver and the list of active collectors. The collector set
// is fixed at construction, so the union schema is stable for the lifetime of
// the instance.
type Stats struct {
	saver      saver.Saver
	collectors []collector.Collector
	schema     saver.Schema

	startTime time.Time
	buffer    []saver.Row
	cached    *saver.Table
}

// New creates a Stats instance with the Default collector plus any extras.
func New(sv saver.Saver, extras ...collector.Collector) (*Stats, error) {
	return NewCustom(sv, append([]collector.Collector{collector.Default{}}, extras...)...)
}

// NewCustom creates a Stats instance with exactly the given collectors.
func NewCustom(sv saver.Saver, collectors ...collector.Collector) (*Stats, error) {
	if sv == nil {
		return nil, fmt.Errorf("stats requires a saver")
	}
	if len(collectors) == 0 {
		return nil, fmt.Errorf("stats requires at least one collector")
	}

	var schema saver.Schema
	seen := make(map[string]bool)
	for i, c := range collectors {
		if c == nil {
			return nil, fmt.Errorf("collector %d is nil", i)
		}
		for _, col := range c.Columns() {
			if seen[col.Name] {
				return nil, fmt.Errorf("collectors collide on column %q", col.Name)
			}
			seen[col.Name] = true
			schema.Columns = append(schema.Columns, col)
		}
		schema.ParseDates = append(schema.ParseDates, c.ParseDates()...)
	}

	return &Stats{saver: sv, collectors: collectors, schema: schema}, nil
}

// Schema returns the union column declaration across all active collectors.
func (s *Stats) Schema() saver.Schema {
	return s.schema
}

// Buffered returns the number of rows waiting to be flushed.
func (s *Stats) Buffered() int {
	return len(s.buffer)
}

// StartTurn records the moment turn processing began. The Default collector
// uses it to compute the turn duration.
func (s *Stats) StartTurn() {
	s.startTime = time.Now()
}

// Collect invokes every active collector and merges their partial rows into
// one wide row appended to the in-memory buffer.
func (s *Stats) Collect(ctx *dialog.Context, eng *dialog.Engine) {
	turn := collector.TurnInfo{StartTime: s.startTime}
	row := make(saver.Row, len(s.schema.Columns))
	for _, c := range s.collectors {
		for k, v := range c.Collect(ctx, eng, turn) {
			row[k] = v
		}
	}
	s.buffer = append(s.buffer, row)
}

// Flush persists the buffered rows and clears the buffer. The buffer is
// cleared only after the save returns, so a failed save keeps the rows.
func (s *Stats) Flush(ctx context.Context) error {
	if len(s.buffer) == 0 {
		return nil
	}
	if err := s.saver.Save(ctx, s.buffer, s.schema); err != nil {
		return fmt.Errorf("flushing %d rows: %w", len(s.buffer), err)
	}
	s.buffer = s.buffer[:0]
	s.cached = nil
	return nil
}

// DataFrame loads the full event table. The result is cached until the next
// Flush; the store is not expected to change concurrently.
func (s *Stats) DataFrame(ctx context.Context) (*saver.Table, error) {
	if s.cached != nil {
		return s.cached, nil
	}
	table, err := s.saver.Load(ctx, s.schema)
	if err != nil {
		return nil, err
	}
	s.cached = table
	return table, nil
}

// RegisterHandlers attaches the stats hooks to a dialogue engine: a pre-turn
// hook that records the turn start time (and the pre-first-turn row at
// history index -1), and a post-turn hook that collects the turn row.
func (s *Stats) RegisterHandlers(eng *dialog.Engine) {
	eng.AddPreHandler(func(ctx *dialog.Context, e *dialog.Engine) {
		s.StartTurn()
		if ctx.CurrentHistoryIndex() < 0 {
			s.Collect(ctx, e)
		}
	})
	eng.AddPostHandler(func(ctx *dialog.Context, e *dialog.Engine) {
		s.Collect(ctx, e)
	})
}

// TransitionCounts derives the transition counts from the persisted table.
func (s *Stats) TransitionCounts(ctx context.Context) (map[string]int, error) {
	table, err := s.DataFrame(ctx)
	if err != nil {
		return nil, err
	}
	return TransitionCounts(table)
}

// TransitionProbs derives the transition probabilities from the persisted table.
func (s *Stats) TransitionProbs(ctx context.Context) (map[string]float64, error) {
	table, err := s.DataFrame(ctx)
	if err != nil {
		return nil, err
	}
	return TransitionProbs(table)
}
