package dashboard

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/deeppavlovteam/dialog-flow-node-stats/internal/saver"
	"github.com/deeppavlovteam/dialog-flow-node-stats/internal/stats"
)

// TerminalReport writes a plain-text stats report: node visit counts and the
// transition table with probabilities.
func TerminalReport(w io.Writer, table *saver.Table) error {
	counts, err := stats.TransitionCounts(table)
	if err != nil {
		return fmt.Errorf("deriving transitions: %w", err)
	}
	probs, err := stats.TransitionProbs(table)
	if err != nil {
		return fmt.Errorf("deriving transitions: %w", err)
	}

	fmt.Fprintf(w, "Dialogue stats: %d turns recorded\n\n", table.Len())

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "NODE\tVISITS")
	for _, nv := range nodeVisits(table) {
		fmt.Fprintf(tw, "%s\t%d\n", nv.node, nv.visits)
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "TRANSITION\tCOUNT\tPROBABILITY")
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%d\t%.3f\n", k, counts[k], probs[k])
	}

	return tw.Flush()
}

type nodeVisit struct {
	node   string
	visits int
}

// nodeVisits counts turns per node, skipping the pre-dialogue sentinel row.
func nodeVisits(table *saver.Table) []nodeVisit {
	counts := make(map[string]int)
	for _, row := range table.Rows {
		if hid, ok := row["history_id"].(int64); ok && hid < 0 {
			continue
		}
		flow, _ := row["flow_label"].(string)
		node, _ := row["node_label"].(string)
		if flow == "" && node == "" {
			continue
		}
		counts[flow+":"+node]++
	}

	visits := make([]nodeVisit, 0, len(counts))
	for node, n := range counts {
		visits = append(visits, nodeVisit{node: node, visits: n})
	}
	sort.Slice(visits, func(i, j int) bool {
		if visits[i].visits != visits[j].visits {
			return visits[i].visits > visits[j].visits
		}
		return visits[i].node < visits[j].node
	})
	return visits
}
