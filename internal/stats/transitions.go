package stats

import (
	"fmt"
	"sort"
	"strings"

	"github.com/deeppavlovteam/dialog-flow-node-stats/internal/saver"
)

// requiredColumns must be present in the event table for transition analysis.
var requiredColumns = []string{"context_id", "history_id", "flow_label", "node_label"}

// MissingColumnsError reports the table columns transition analysis needs
// but the table does not carry.
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("required columns missing: %s. Did you collect them?",
		strings.Join(e.Columns, ", "))
}

// TransitionCounts turns the event table into a transition model: a mapping
// from "prev->next" node-identity keys to occurrence counts.
//
// Rows are stable-sorted by context_id, which preserves each session's
// original turn order within its group, and consecutive rows are paired
// within each session only. Pairing per session is a deliberate departure
// from deriving the predecessor by a single shift over the whole sorted
// table, which let the last node of one session leak into the first pair of
// the next; the tests pin this choice.
//
// An empty table yields an empty map.
func TransitionCounts(t *saver.Table) (map[string]int, error) {
	counts := make(map[string]int)
	if t.Len() == 0 {
		return counts, nil
	}
	if missing := t.MissingColumns(requiredColumns...); missing != nil {
		return nil, &MissingColumnsError{Columns: missing}
	}

	type event struct {
		contextID string
		node      string
	}
	events := make([]event, t.Len())
	for i, row := range t.Rows {
		events[i] = event{
			contextID: asString(row["context_id"]),
			node:      asString(row["flow_label"]) + ":" + asString(row["node_label"]),
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].contextID < events[j].contextID
	})

	for i := 1; i < len(events); i++ {
		if events[i].contextID != events[i-1].contextID {
			continue
		}
		counts[events[i-1].node+"->"+events[i].node]++
	}
	return counts, nil
}

// TransitionProbs normalizes TransitionCounts into a probability mass
// function over the observed transition keys. A table with no transitions
// yields an empty map rather than dividing by zero.
func TransitionProbs(t *saver.Table) (map[string]float64, error) {
	counts, err := TransitionCounts(t)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	probs := make(map[string]float64, len(counts))
	if total == 0 {
		return probs, nil
	}
	for k, c := range counts {
		probs[k] = float64(c) / float64(total)
	}
	return probs, nil
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
