package main

import (
	"testing"

	"github.com/deeppavlovteam/dialog-flow-node-stats/internal/dialog"
)

func TestDemoEngineScript(t *testing.T) {
	eng := demoEngine()
	ctx := dialog.NewContext()

	requests := []string{
		"start", "left", "left", "123", "asd", "right", "fallback",
		"left", "forward", "forward", "forward", "right",
		"back", "back", "back", "start",
	}
	wantResponses := []string{
		"s", "l2", "l2", "f", "f", "r2", "f",
		"l2", "l3", "l4", "f", "r2",
		"r1", "r0", "f", "s",
	}

	for i, req := range requests {
		got := eng.Turn(ctx, req)
		if got != wantResponses[i] {
			t.Errorf("turn %d (%q): response = %q, want %q", i, req, got, wantResponses[i])
		}
	}

	if ctx.CurrentHistoryIndex() != len(requests)-1 {
		t.Errorf("history index = %d, want %d", ctx.CurrentHistoryIndex(), len(requests)-1)
	}
}

func TestDemoEngineGlobalTransitions(t *testing.T) {
	eng := demoEngine()

	// Every scripted node can jump to both flows and back to start.
	for label, node := range eng.Script {
		for _, req := range []string{"left", "right", "start", "fallback"} {
			if _, ok := node.Transitions[req]; !ok {
				t.Errorf("node %s: missing global transition %q", label, req)
			}
		}
	}
}

func TestDemoEngineFallbackOnUnknownRequest(t *testing.T) {
	eng := demoEngine()
	ctx := dialog.NewContext()

	if got := eng.Turn(ctx, "no-such-request"); got != "f" {
		t.Errorf("unknown request response = %q, want %q", got, "f")
	}
	label, ok := ctx.LastLabel()
	if !ok || label != eng.FallbackLabel {
		t.Errorf("label after unknown request = %v, want fallback", label)
	}
}
