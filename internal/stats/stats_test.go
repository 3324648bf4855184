package stats

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/deeppavlovteam/dialog-flow-node-stats/internal/collector"
	"github.com/deeppavlovteam/dialog-flow-node-stats/internal/dialog"
	"github.com/deeppavlovteam/dialog-flow-node-stats/internal/saver"
)

func newTestSaver(t *testing.T) saver.Saver {
	t.Helper()
	sv, err := saver.Open("csv://"+filepath.Join(t.TempDir(), "stats.csv"), "")
	if err != nil {
		t.Fatalf("failed to open saver: %v", err)
	}
	t.Cleanup(func() { sv.Close() })
	return sv
}

func demoEngine() *dialog.Engine {
	start := dialog.NodeLabel{Flow: "root", Node: "start"}
	fallback := dialog.NodeLabel{Flow: "root", Node: "fallback"}
	step1 := dialog.NodeLabel{Flow: "left", Node: "step_1"}

	return &dialog.Engine{
		StartLabel:    start,
		FallbackLabel: fallback,
		Script: map[dialog.NodeLabel]dialog.ScriptNode{
			start:    {Response: "s", Transitions: map[string]dialog.NodeLabel{"left": step1}},
			fallback: {Response: "f", Transitions: map[string]dialog.NodeLabel{"left": step1}},
			step1:    {Response: "l1"},
		},
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	sv := newTestSaver(t)

	t.Run("nil saver", func(t *testing.T) {
		if _, err := New(nil); err == nil {
			t.Fatal("expected error for nil saver")
		}
	})

	t.Run("no collectors", func(t *testing.T) {
		if _, err := NewCustom(sv); err == nil {
			t.Fatal("expected error for empty collector set")
		}
	})

	t.Run("column collision", func(t *testing.T) {
		_, err := New(sv, collector.Default{})
		if err == nil {
			t.Fatal("expected error for colliding collectors")
		}
		want := `collectors collide on column "context_id"`
		if err.Error() != want {
			t.Errorf("error = %q, want %q", err.Error(), want)
		}
	})

	t.Run("schema is the union", func(t *testing.T) {
		st, err := New(sv, collector.NodeLabel{}, collector.Request{})
		if err != nil {
			t.Fatalf("failed to create stats: %v", err)
		}
		want := []string{
			"context_id", "history_id", "start_time", "duration_time",
			"flow_label", "node_label", "user_request",
		}
		got := st.Schema().Names()
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Errorf("schema columns = %v, want %v", got, want)
		}
		if !st.Schema().IsDate("start_time") {
			t.Error("start_time should be declared as a date column")
		}
	})
}

func TestCollectMergesRows(t *testing.T) {
	t.Parallel()

	st, err := New(newTestSaver(t), collector.NodeLabel{}, collector.Request{})
	if err != nil {
		t.Fatalf("failed to create stats: %v", err)
	}

	eng := demoEngine()
	ctx := dialog.NewContext()
	eng.Turn(ctx, "left")

	st.StartTurn()
	st.Collect(ctx, eng)

	if st.Buffered() != 1 {
		t.Fatalf("buffered = %d, want 1", st.Buffered())
	}
}

func TestFlushAndDataFrame(t *testing.T) {
	t.Parallel()

	st, err := New(newTestSaver(t), collector.NodeLabel{})
	if err != nil {
		t.Fatalf("failed to create stats: %v", err)
	}

	eng := demoEngine()
	st.RegisterHandlers(eng)
	ctx := dialog.NewContext()

	eng.Turn(ctx, "left")
	eng.Turn(ctx, "nonsense")

	// Two turns plus the pre-first-turn sentinel row.
	if st.Buffered() != 3 {
		t.Fatalf("buffered = %d, want 3", st.Buffered())
	}

	if err := st.Flush(context.Background()); err != nil {
		t.Fatalf("failed to flush: %v", err)
	}
	if st.Buffered() != 0 {
		t.Errorf("buffer not cleared after flush: %d rows", st.Buffered())
	}

	table, err := st.DataFrame(context.Background())
	if err != nil {
		t.Fatalf("failed to load table: %v", err)
	}
	if table.Len() != 3 {
		t.Fatalf("loaded %d rows, want 3", table.Len())
	}

	// Rows carry -1, 0, 1 history indexes in turn order.
	for i, want := range []int64{-1, 0, 1} {
		if got := table.Rows[i]["history_id"]; got != want {
			t.Errorf("row %d history_id = %v, want %d", i, got, want)
		}
	}

	// The sentinel row records the start label, the turns their destinations.
	wantNodes := []string{"start", "step_1", "fallback"}
	for i, want := range wantNodes {
		if got := table.Rows[i]["node_label"]; got != want {
			t.Errorf("row %d node_label = %v, want %s", i, got, want)
		}
	}
}

func TestFlushEmptyBuffer(t *testing.T) {
	t.Parallel()

	st, err := New(newTestSaver(t))
	if err != nil {
		t.Fatalf("failed to create stats: %v", err)
	}
	if err := st.Flush(context.Background()); err != nil {
		t.Fatalf("flushing an empty buffer should be a no-op: %v", err)
	}
}

func TestDataFrameCaching(t *testing.T) {
	t.Parallel()

	st, err := New(newTestSaver(t), collector.NodeLabel{})
	if err != nil {
		t.Fatalf("failed to create stats: %v", err)
	}

	eng := demoEngine()
	st.RegisterHandlers(eng)
	ctx := dialog.NewContext()
	eng.Turn(ctx, "left")
	if err := st.Flush(context.Background()); err != nil {
		t.Fatalf("failed to flush: %v", err)
	}

	first, err := st.DataFrame(context.Background())
	if err != nil {
		t.Fatalf("failed to load table: %v", err)
	}
	second, err := st.DataFrame(context.Background())
	if err != nil {
		t.Fatalf("failed to load table: %v", err)
	}
	if first != second {
		t.Error("DataFrame should return the cached table between flushes")
	}

	eng.Turn(ctx, "nonsense")
	if err := st.Flush(context.Background()); err != nil {
		t.Fatalf("failed to flush: %v", err)
	}
	third, err := st.DataFrame(context.Background())
	if err != nil {
		t.Fatalf("failed to load table: %v", err)
	}
	if third == first {
		t.Error("Flush should invalidate the cached table")
	}
	if third.Len() != first.Len()+1 {
		t.Errorf("reloaded table has %d rows, want %d", third.Len(), first.Len()+1)
	}
}

func TestStatsTransitions(t *testing.T) {
	t.Parallel()

	st, err := New(newTestSaver(t), collector.NodeLabel{})
	if err != nil {
		t.Fatalf("failed to create stats: %v", err)
	}

	eng := demoEngine()
	st.RegisterHandlers(eng)

	for _, session := range []*dialog.Context{dialog.NewContext(), dialog.NewContext()} {
		eng.Turn(session, "left")
	}
	if err := st.Flush(context.Background()); err != nil {
		t.Fatalf("failed to flush: %v", err)
	}

	counts, err := st.TransitionCounts(context.Background())
	if err != nil {
		t.Fatalf("failed to derive counts: %v", err)
	}
	if counts["root:start->left:step_1"] != 2 {
		t.Errorf("counts = %v, want root:start->left:step_1 twice", counts)
	}

	probs, err := st.TransitionProbs(context.Background())
	if err != nil {
		t.Fatalf("failed to derive probs: %v", err)
	}
	if probs["root:start->left:step_1"] != 1.0 {
		t.Errorf("probs = %v, want root:start->left:step_1 = 1", probs)
	}
}
