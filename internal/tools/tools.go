// Package tools implements the Tool Registry & Dispatcher: a declarative
// {name, JSON schema, handler} triple per tool, schema validation via
// santhosh-tekuri/jsonschema/v6, and a dispatcher that looks the handler up
// by tool name. Grounded on
// the teacher's ToolExecutor.ListTools/ExecuteTool contract in
// pkg/agent/controller/iterating.go, generalized from MCP-server-backed
// tools to this runtime's fixed, in-process tool set (spec.md §4.5).
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/mundiai/agent-runtime/internal/cancelflag"
	"github.com/mundiai/agent-runtime/internal/dbgw"
	"github.com/mundiai/agent-runtime/internal/events"
	"github.com/mundiai/agent-runtime/internal/objectstore"
	"github.com/mundiai/agent-runtime/internal/qgis"
	"github.com/mundiai/agent-runtime/internal/store"
)

// Handler executes one tool invocation against a parsed argument object and
// returns a JSON-serializable result. A returned error is wrapped into the
// recoverable tool-error envelope by Registry.Call, never surfaced raw to
// the LLM transcript.
type Handler func(ctx context.Context, rc *RequestContext, args json.RawMessage) (any, error)

// Tool is one entry of the registry: its name, its JSON-schema-described
// parameters (as exposed to the LLM), and its handler.
type Tool struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Handler     Handler
}

// RequestContext carries everything a handler needs that isn't part of its
// own arguments: the caller's identity, the active conversation/map, and
// shared infrastructure. Constructed fresh per agentic-loop iteration by
// internal/agent.
type RequestContext struct {
	UserID         string
	MapID          string
	ConversationID string

	Store      *store.Store
	Gateway    *dbgw.Gateway
	UserPools  *dbgw.UserPool
	Publisher  *events.Publisher
	ObjectStore *objectstore.Store
	QGIS       *qgis.Client
	Cancel     *cancelflag.Flags
}

// Registry holds the fixed set of tools exposed to the LLM for one request.
// Which QGIS algorithms are registered and whether download_from_openstreetmap
// is present both vary by configuration — see BuildRegistry.
type Registry struct {
	tools    map[string]*Tool
	ordered  []*Tool
	compiled map[string]*jsonschema.Schema
}

// NewRegistry builds an empty registry; call Register for each tool.
func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]*Tool),
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool, compiling its schema eagerly so a malformed schema
// fails at startup rather than on first use.
func (r *Registry) Register(t *Tool) error {
	compiler := jsonschema.NewCompiler()
	var schemaDoc any
	if err := json.Unmarshal(t.Schema, &schemaDoc); err != nil {
		return fmt.Errorf("tools: %s: invalid schema json: %w", t.Name, err)
	}
	resourceName := t.Name + ".json"
	if err := compiler.AddResource(resourceName, schemaDoc); err != nil {
		return fmt.Errorf("tools: %s: adding schema resource: %w", t.Name, err)
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		return fmt.Errorf("tools: %s: compiling schema: %w", t.Name, err)
	}

	r.tools[t.Name] = t
	r.compiled[t.Name] = schema
	r.ordered = append(r.ordered, t)
	return nil
}

// List returns every registered tool's {name, description, schema}, in
// registration order, for the LLM request's tools parameter.
func (r *Registry) List() []*Tool {
	return r.ordered
}

// Lookup returns the named tool, or ok=false if it isn't registered for
// this request (e.g. a QGIS algorithm id that doesn't exist, or OSM
// ingestion disabled).
func (r *Registry) Lookup(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// ToolError is the recoverable-tool-error envelope persisted as a `tool`
// role message result: {status: "error", error}, per spec.md §4.5. It is
// never returned to the caller as a Go error chain — it IS the result.
type ToolError struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// Validate checks args against tool name's compiled schema, returning a
// ToolError-shaped validation failure rather than an opaque Go error, so
// the caller can persist it verbatim as the tool message result.
func (r *Registry) Validate(name string, args json.RawMessage) *ToolError {
	schema, ok := r.compiled[name]
	if !ok {
		return &ToolError{Status: "error", Error: fmt.Sprintf("unknown tool %q", name)}
	}
	var doc any
	if err := json.Unmarshal(args, &doc); err != nil {
		return &ToolError{Status: "error", Error: fmt.Sprintf("arguments are not valid json: %v", err)}
	}
	if err := schema.Validate(doc); err != nil {
		return &ToolError{Status: "error", Error: fmt.Sprintf("argument validation failed: %v", err)}
	}
	return nil
}

// Call validates args, then invokes the tool's handler. Validation
// failures and handler errors both come back as a ToolError value (never a
// Go error) so internal/agent can persist the result uniformly.
func (r *Registry) Call(ctx context.Context, rc *RequestContext, name string, args json.RawMessage) any {
	t, ok := r.Lookup(name)
	if !ok {
		return &ToolError{Status: "error", Error: fmt.Sprintf("unknown tool %q", name)}
	}
	if verr := r.Validate(name, args); verr != nil {
		return verr
	}
	result, err := t.Handler(ctx, rc, args)
	if err != nil {
		return &ToolError{Status: "error", Error: err.Error()}
	}
	return result
}
