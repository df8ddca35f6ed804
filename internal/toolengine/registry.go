// Package toolengine implements the L3 Tool Call Engine: tool
// registration, dynamic parameter materialization, dispatch of
// model-emitted calls (native or simulated) to registered functions, and
// reconciliation of results into canonical conversation history.
package toolengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/magi-project/magi/pkg/wire"
)

// Func is the executable half of a registered tool. input is the raw JSON
// arguments the model supplied; the return value is serialized as the
// tool's textual output.
type Func func(ctx context.Context, input json.RawMessage) (string, error)

// ToolEntry pairs a static definition with its executable function.
type ToolEntry struct {
	Definition wire.ToolDefinition
	Function   Func
}

// Registry holds every tool an agent may call, keyed by name.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*ToolEntry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*ToolEntry)}
}

// Register adds or replaces a tool definition.
func (r *Registry) Register(def wire.ToolDefinition, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.Name] = &ToolEntry{Definition: def, Function: fn}
}

func (r *Registry) Lookup(name string) (*ToolEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

// Materialize resolves the dynamic description/enum closures of the tools
// named in names into a plain JSON-Schema payload ready to hand to a provider.
// Resolution happens once per call and should be invoked once per turn
// per spec §4.3/§9 ("resolve at tool-list materialization time ... cache
// per turn").
func (r *Registry) Materialize(names []string) ([]wire.MaterializedToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]wire.MaterializedToolDefinition, 0, len(names))
	for _, name := range names {
		e, ok := r.entries[name]
		if !ok {
			return nil, fmt.Errorf("toolengine: unknown tool %q", name)
		}
		schema := materializeParameters(e.Definition.Parameters, e.Definition.Required)
		raw, err := json.Marshal(schema)
		if err != nil {
			return nil, fmt.Errorf("toolengine: marshal schema for %q: %w", name, err)
		}
		out = append(out, wire.MaterializedToolDefinition{
			Name:        e.Definition.Name,
			Description: e.Definition.Description,
			Parameters:  raw,
		})
	}
	return out, nil
}

type jsonSchema struct {
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Required   []string               `json:"required,omitempty"`
}

func materializeParameters(params map[string]*wire.ToolParameterSchema, required []string) jsonSchema {
	schema := jsonSchema{Type: "object", Required: required}
	if len(params) == 0 {
		return schema
	}
	schema.Properties = make(map[string]interface{}, len(params))
	for name, p := range params {
		schema.Properties[name] = materializeSchema(p)
	}
	return schema
}

func materializeSchema(p *wire.ToolParameterSchema) map[string]interface{} {
	out := map[string]interface{}{"type": p.Type}
	if desc := p.Description.Resolved(); desc != "" {
		out["description"] = desc
	}
	if enum := p.Enum.Resolved(); len(enum) > 0 {
		out["enum"] = enum
	}
	if p.Items != nil {
		out["items"] = materializeSchema(p.Items)
	}
	if len(p.Properties) > 0 {
		props := make(map[string]interface{}, len(p.Properties))
		for name, child := range p.Properties {
			props[name] = materializeSchema(child)
		}
		out["properties"] = props
	}
	if len(p.Required) > 0 {
		out["required"] = p.Required
	}
	return out
}
