package dialog

import (
	"testing"
)

func testEngine() *Engine {
	start := NodeLabel{Flow: "root", Node: "start"}
	fallback := NodeLabel{Flow: "root", Node: "fallback"}
	step1 := NodeLabel{Flow: "left", Node: "step_1"}
	step2 := NodeLabel{Flow: "left", Node: "step_2"}

	return &Engine{
		StartLabel:    start,
		FallbackLabel: fallback,
		Script: map[NodeLabel]ScriptNode{
			start:    {Response: "s", Transitions: map[string]NodeLabel{"go": step1}},
			fallback: {Response: "f", Transitions: map[string]NodeLabel{"go": step1}},
			step1:    {Response: "l1", Transitions: map[string]NodeLabel{"forward": step2}},
			step2:    {Response: "l2"},
		},
	}
}

func TestNewContext(t *testing.T) {
	t.Parallel()

	ctx := NewContext()
	if ctx.ID.String() == "" {
		t.Fatal("context should get a session ID")
	}
	if ctx.CurrentHistoryIndex() != -1 {
		t.Errorf("fresh context history index = %d, want -1", ctx.CurrentHistoryIndex())
	}
	if _, ok := ctx.LastLabel(); ok {
		t.Error("fresh context should have no last label")
	}
	if NewContext().ID == ctx.ID {
		t.Error("contexts should get distinct IDs")
	}
}

func TestEngineTurn(t *testing.T) {
	t.Parallel()

	eng := testEngine()
	ctx := NewContext()

	tests := []struct {
		request  string
		response string
		label    string
	}{
		{"go", "l1", "left:step_1"},
		{"forward", "l2", "left:step_2"},
		{"nonsense", "f", "root:fallback"},
		{"go", "l1", "left:step_1"},
	}

	for i, tt := range tests {
		resp := eng.Turn(ctx, tt.request)
		if resp != tt.response {
			t.Errorf("turn %d: response = %q, want %q", i, resp, tt.response)
		}
		label, _ := ctx.LastLabel()
		if label.String() != tt.label {
			t.Errorf("turn %d: label = %q, want %q", i, label, tt.label)
		}
		if ctx.CurrentHistoryIndex() != i {
			t.Errorf("turn %d: history index = %d", i, ctx.CurrentHistoryIndex())
		}
	}

	if ctx.LastRequest() != "go" {
		t.Errorf("LastRequest = %q, want go", ctx.LastRequest())
	}
	if ctx.LastResponse() != "l1" {
		t.Errorf("LastResponse = %q, want l1", ctx.LastResponse())
	}
}

func TestEngineHandlers(t *testing.T) {
	t.Parallel()

	eng := testEngine()
	ctx := NewContext()

	var order []string
	eng.AddPreHandler(func(c *Context, e *Engine) {
		order = append(order, "pre")
		if c.CurrentHistoryIndex() != -1 {
			t.Errorf("pre-handler ran after history was updated: index %d", c.CurrentHistoryIndex())
		}
	})
	eng.AddPostHandler(func(c *Context, e *Engine) {
		order = append(order, "post")
		if c.CurrentHistoryIndex() != 0 {
			t.Errorf("post-handler ran before history was updated: index %d", c.CurrentHistoryIndex())
		}
	})

	eng.Turn(ctx, "go")
	if len(order) != 2 || order[0] != "pre" || order[1] != "post" {
		t.Errorf("handler order = %v, want [pre post]", order)
	}
}
