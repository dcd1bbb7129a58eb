// Package tools defines the function-calling surface the realtime voice API
// can invoke mid-call, and the registry that dispatches those calls.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/invopop/jsonschema"
)

// ErrToolNotFound is returned by Dispatch for names no tool registered
// under. It indicates a model hallucination or a declaration mismatch, so
// the bridge reports it back to the model rather than failing the call.
var ErrToolNotFound = errors.New("tool not found")

// Tool is one function the voice model may call during a session.
type Tool interface {
	// Name is the unique function name declared to the API.
	Name() string
	// Description tells the model when to call the tool.
	Description() string
	// Parameters is the JSON schema for the arguments object.
	Parameters() *jsonschema.Schema
	// Call executes the tool with raw JSON arguments.
	Call(ctx context.Context, args json.RawMessage) (any, error)
}

// Declaration is the function definition shape the voice API expects in the
// session configuration.
type Declaration struct {
	Type        string             `json:"type"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
}

// Registry holds the tools available to one session's model.
type Registry struct {
	log *slog.Logger

	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger for registration and dispatch events. If not
// provided, logs are discarded.
func WithLogger(log *slog.Logger) RegistryOption {
	return func(r *Registry) { r.log = log }
}

// NewRegistry constructs a Registry with the given tools registered in
// order.
func NewRegistry(toolList []Tool, opts ...RegistryOption) *Registry {
	r := &Registry{
		log:   slog.New(slog.DiscardHandler),
		tools: make(map[string]Tool),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, t := range toolList {
		r.Register(t)
	}
	return r
}

// Register adds a tool, replacing any previous tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
	r.log.Info("tool.registered", slog.String("tool", t.Name()))
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Declarations returns the function definitions for the session
// configuration, in registration order.
func (r *Registry) Declarations() []Declaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Declaration, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, Declaration{
			Type:        "function",
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return out
}

// Dispatch runs the named tool with raw JSON arguments.
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage) (any, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	r.log.InfoContext(ctx, "tool.dispatch", slog.String("tool", name))
	res, err := t.Call(ctx, args)
	if err != nil {
		r.log.WarnContext(ctx, "tool.dispatch.fail",
			slog.String("tool", name),
			slog.String("err", err.Error()))
		return nil, err
	}
	return res, nil
}

// New constructs a Tool from a typed args struct A. The parameters schema
// is reflected from A's json and jsonschema struct tags; unknown argument
// fields are rejected at dispatch time to match the declared schema.
func New[A any](name, description string, fn func(ctx context.Context, args A) (any, error)) Tool {
	return &typedTool[A]{
		name:        name,
		description: description,
		schema:      reflectParameters[A](),
		fn:          fn,
	}
}

type typedTool[A any] struct {
	name        string
	description string
	schema      *jsonschema.Schema
	fn          func(ctx context.Context, args A) (any, error)
}

func (t *typedTool[A]) Name() string                   { return t.name }
func (t *typedTool[A]) Description() string            { return t.description }
func (t *typedTool[A]) Parameters() *jsonschema.Schema { return t.schema }

func (t *typedTool[A]) Call(ctx context.Context, args json.RawMessage) (any, error) {
	var a A
	if len(args) > 0 {
		dec := json.NewDecoder(bytes.NewReader(args))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&a); err != nil {
			return nil, fmt.Errorf("invalid arguments for %s: %w", t.name, err)
		}
	}
	return t.fn(ctx, a)
}

// reflectParameters reflects a Go type A into an inline object schema.
func reflectParameters[A any]() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference:            true, // inline defs
		ExpandedStruct:            true, // put struct at root
		AllowAdditionalProperties: false,
	}
	return r.Reflect(new(A))
}
