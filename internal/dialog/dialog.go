// Package dialog provides the minimal conversation model the stats layer
// observes: a per-session context with node-label history, and a scripted
// engine with pre/post turn handler hooks.
package dialog

import (
	"github.com/google/uuid"
)

// NodeLabel identifies a single node of the dialogue graph.
type NodeLabel struct {
	Flow string
	Node string
}

// String returns the canonical "flow:node" identity.
func (l NodeLabel) String() string {
	return l.Flow + ":" + l.Node
}

// Context holds the state of one conversation session.
type Context struct {
	ID        uuid.UUID
	Labels    []NodeLabel
	Requests  []string
	Responses []string
	Misc      map[string]any
}

// NewContext creates an empty session context with a fresh ID.
func NewContext() *Context {
	return &Context{
		ID:   uuid.New(),
		Misc: make(map[string]any),
	}
}

// CurrentHistoryIndex returns the index of the last recorded turn,
// or -1 if no turn has been processed yet.
func (c *Context) CurrentHistoryIndex() int {
	return len(c.Labels) - 1
}

// LastLabel returns the most recent node label, if any.
func (c *Context) LastLabel() (NodeLabel, bool) {
	if len(c.Labels) == 0 {
		return NodeLabel{}, false
	}
	return c.Labels[len(c.Labels)-1], true
}

// LastRequest returns the most recent user request, or "".
func (c *Context) LastRequest() string {
	if len(c.Requests) == 0 {
		return ""
	}
	return c.Requests[len(c.Requests)-1]
}

// LastResponse returns the most recent engine response, or "".
func (c *Context) LastResponse() string {
	if len(c.Responses) == 0 {
		return ""
	}
	return c.Responses[len(c.Responses)-1]
}

// Handler is a turn hook. Pre-handlers run before the turn is resolved,
// post-handlers after the context has been updated.
type Handler func(ctx *Context, eng *Engine)

// ScriptNode describes one node of the dialogue script: the response it
// produces and the request-keyed transitions leading out of it.
type ScriptNode struct {
	Response    string
	Transitions map[string]NodeLabel
}

// Engine is a deterministic scripted dialogue engine. It exists so that the
// stats layer has something realistic to observe; the production engine is an
// external collaborator conforming to the same hook surface.
type Engine struct {
	StartLabel    NodeLabel
	FallbackLabel NodeLabel
	Script        map[NodeLabel]ScriptNode

	PreHandlers  []Handler
	PostHandlers []Handler
}

// AddPreHandler registers a hook that runs before each turn.
func (e *Engine) AddPreHandler(h Handler) {
	e.PreHandlers = append(e.PreHandlers, h)
}

// AddPostHandler registers a hook that runs after each turn.
func (e *Engine) AddPostHandler(h Handler) {
	e.PostHandlers = append(e.PostHandlers, h)
}

// Turn processes one request/response cycle: it resolves the destination node
// from the current node's transitions (falling back to FallbackLabel), appends
// the turn to the context history and returns the node's response.
func (e *Engine) Turn(ctx *Context, request string) string {
	for _, h := range e.PreHandlers {
		h(ctx, e)
	}

	current, ok := ctx.LastLabel()
	if !ok {
		current = e.StartLabel
	}

	dest := e.FallbackLabel
	if node, ok := e.Script[current]; ok {
		if to, ok := node.Transitions[request]; ok {
			dest = to
		}
	}

	response := ""
	if node, ok := e.Script[dest]; ok {
		response = node.Response
	}

	ctx.Requests = append(ctx.Requests, request)
	ctx.Labels = append(ctx.Labels, dest)
	ctx.Responses = append(ctx.Responses, response)

	for _, h := range e.PostHandlers {
		h(ctx, e)
	}
	return response
}
