// Package collector defines the capability contract for per-turn data
// extraction and the set of collectors provided out of the box. A collector
// turns one engine callback into a partial event row; the stats layer merges
// the partial rows of every active collector into a single wide row.
package collector

import (
	"time"

	"github.com/deeppavlovteam/dialog-flow-node-stats/internal/dialog"
	"github.com/deeppavlovteam/dialog-flow-node-stats/internal/saver"
)

// StartHistoryID is the turn index recorded for the pre-first-turn row.
const StartHistoryID = -1

// TurnInfo carries per-turn data that does not live on the dialog context.
type TurnInfo struct {
	// StartTime is when turn processing began, recorded by the pre-turn hook.
	StartTime time.Time
}

// Collector extracts a partial event row from one turn. Implementations must
// be read-only with respect to the context and engine, and must not fail on
// well-formed input: when data is unavailable they return zero values.
type Collector interface {
	// Columns declares the collector's column names and types, in order.
	Columns() []saver.Column

	// ParseDates names the declared columns to interpret as timestamps on load.
	ParseDates() []string

	// Collect extracts the partial row for the current turn.
	Collect(ctx *dialog.Context, eng *dialog.Engine, turn TurnInfo) saver.Row
}

// Default records the session id, turn index and turn timing.
type Default struct{}

func (Default) Columns() []saver.Column {
	return []saver.Column{
		{Name: "context_id", Type: saver.TypeString},
		{Name: "history_id", Type: saver.TypeInt64},
		{Name: "start_time", Type: saver.TypeDatetime},
		{Name: "duration_time", Type: saver.TypeFloat64},
	}
}

func (Default) ParseDates() []string {
	return []string{"start_time"}
}

func (Default) Collect(ctx *dialog.Context, eng *dialog.Engine, turn TurnInfo) saver.Row {
	start := turn.StartTime
	if start.IsZero() {
		start = time.Now()
	}
	return saver.Row{
		"context_id":    ctx.ID.String(),
		"history_id":    int64(ctx.CurrentHistoryIndex()),
		"start_time":    start,
		"duration_time": time.Since(start).Seconds(),
	}
}

// NodeLabel records which node of the dialogue graph was active after the
// turn, falling back to the engine's start label before the first turn.
type NodeLabel struct{}

func (NodeLabel) Columns() []saver.Column {
	return []saver.Column{
		{Name: "flow_label", Type: saver.TypeString},
		{Name: "node_label", Type: saver.TypeString},
	}
}

func (NodeLabel) ParseDates() []string { return nil }

func (NodeLabel) Collect(ctx *dialog.Context, eng *dialog.Engine, turn TurnInfo) saver.Row {
	label, ok := ctx.LastLabel()
	if !ok {
		label = eng.StartLabel
	}
	return saver.Row{
		"flow_label": label.Flow,
		"node_label": label.Node,
	}
}

// Request records the raw user request of the turn.
type Request struct{}

func (Request) Columns() []saver.Column {
	return []saver.Column{{Name: "user_request", Type: saver.TypeString}}
}

func (Request) ParseDates() []string { return nil }

func (Request) Collect(ctx *dialog.Context, eng *dialog.Engine, turn TurnInfo) saver.Row {
	return saver.Row{"user_request": ctx.LastRequest()}
}

// Response records the raw engine response of the turn.
type Response struct{}

func (Response) Columns() []saver.Column {
	return []saver.Column{{Name: "bot_response", Type: saver.TypeString}}
}

func (Response) ParseDates() []string { return nil }

func (Response) Collect(ctx *dialog.Context, eng *dialog.Engine, turn TurnInfo) saver.Row {
	return saver.Row{"bot_response": ctx.LastResponse()}
}

// Context extracts caller-chosen keys from the dialog context's free-form
// Misc side channel. The caller declares a type for every key; keys holding
// maps or slices should be declared as saver.TypeObject.
type Context struct {
	columns    []saver.Column
	parseDates []string
}

// NewContext builds a Context collector for the given columns. Column names
// listed in parseDates are interpreted as timestamps on load.
func NewContext(columns []saver.Column, parseDates []string) *Context {
	return &Context{columns: columns, parseDates: parseDates}
}

func (c *Context) Columns() []saver.Column { return c.columns }

func (c *Context) ParseDates() []string { return c.parseDates }

func (c *Context) Collect(ctx *dialog.Context, eng *dialog.Engine, turn TurnInfo) saver.Row {
	row := make(saver.Row, len(c.columns))
	for _, col := range c.columns {
		row[col.Name] = ctx.Misc[col.Name]
	}
	return row
}
