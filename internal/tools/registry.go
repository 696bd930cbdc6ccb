// Package tools implements the identity-scoped tool surface the assistant
// operates through. Every dispatch runs in its own store transaction, and
// injected parameters resolve only from the request context, never from
// model-supplied arguments.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	santhosh "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/zentrohq/zentro/internal/agent"
	"github.com/zentrohq/zentro/internal/observability"
	"github.com/zentrohq/zentro/internal/store"
)

// maxArgsBytes bounds model-supplied argument payloads.
const maxArgsBytes = 64 * 1024

// Handler executes one tool inside a store transaction and returns a
// compact summary string for the model. Domain errors from the store become
// model-visible result strings; anything else aborts the run.
type Handler func(ctx context.Context, tx *store.Tx, args json.RawMessage) (string, error)

// Definition declares one tool. Params is a struct prototype reflected into
// the JSON schema shown to the model; Injected names parameters that must
// never be model-controlled — any model-supplied value for them is
// discarded before validation.
type Definition struct {
	Name        string
	Description string
	Params      any
	Injected    []string
	Handler     Handler
}

type compiledDef struct {
	def       Definition
	schema    json.RawMessage
	validator *santhosh.Schema
}

// Registry holds the tool catalog and dispatches calls.
type Registry struct {
	store   *store.Store
	logger  *observability.Logger
	metrics *observability.Metrics

	defs  map[string]*compiledDef
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry(st *store.Store, logger *observability.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		store:   st,
		logger:  logger,
		metrics: metrics,
		defs:    make(map[string]*compiledDef),
	}
}

// Register reflects, strips injected keys from, and compiles the schema of
// a tool definition.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("tool definition needs a name and a handler")
	}
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}

	raw, err := reflectSchema(def.Params, def.Injected)
	if err != nil {
		return fmt.Errorf("tool %s: %w", def.Name, err)
	}

	validator, err := santhosh.CompileString(def.Name+".json", string(raw))
	if err != nil {
		return fmt.Errorf("tool %s: compile schema: %w", def.Name, err)
	}

	r.defs[def.Name] = &compiledDef{def: def, schema: raw, validator: validator}
	r.order = append(r.order, def.Name)
	return nil
}

// MustRegister registers or panics. Catalog construction runs at startup.
func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// reflectSchema turns a params struct into a plain object schema with the
// injected properties removed, so the model never sees them.
func reflectSchema(params any, injected []string) (json.RawMessage, error) {
	if params == nil {
		return json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`), nil
	}

	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(params)
	schema.Version = ""

	for _, key := range injected {
		schema.Properties.Delete(key)
		required := schema.Required[:0]
		for _, name := range schema.Required {
			if name != key {
				required = append(required, name)
			}
		}
		schema.Required = required
	}

	return json.Marshal(schema)
}

// Dispatch runs one tool call. The returned ToolResult carries domain and
// validation failures as model-visible text; a non-nil error means the
// infrastructure is broken and the run must stop.
func (r *Registry) Dispatch(ctx context.Context, name string, rawArgs json.RawMessage) (*agent.ToolResult, error) {
	cd, ok := r.defs[name]
	if !ok {
		return &agent.ToolResult{Content: fmt.Sprintf("unknown tool %q", name), IsError: true}, nil
	}
	if len(rawArgs) > maxArgsBytes {
		return &agent.ToolResult{
			Content: fmt.Sprintf("arguments for %s exceed %d bytes", name, maxArgsBytes),
			IsError: true,
		}, nil
	}
	if len(rawArgs) == 0 {
		rawArgs = json.RawMessage(`{}`)
	}

	args, err := r.stripInjected(ctx, cd, rawArgs)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid arguments: %s", err), IsError: true}, nil
	}

	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("arguments are not valid JSON: %s", err), IsError: true}, nil
	}
	if err := cd.validator.Validate(decoded); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid arguments: %s", err), IsError: true}, nil
	}

	var summary string
	txErr := r.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		summary, err = cd.def.Handler(ctx, tx, args)
		return err
	})
	if txErr != nil {
		if store.IsDomainError(txErr) {
			return &agent.ToolResult{Content: txErr.Error(), IsError: true}, nil
		}
		return nil, txErr
	}
	return &agent.ToolResult{Content: summary}, nil
}

// stripInjected removes every declared injected key from the model-supplied
// arguments, counting overrides.
func (r *Registry) stripInjected(ctx context.Context, cd *compiledDef, rawArgs json.RawMessage) (json.RawMessage, error) {
	if len(cd.def.Injected) == 0 {
		return rawArgs, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(rawArgs, &fields); err != nil {
		return nil, err
	}
	for _, key := range cd.def.Injected {
		if _, present := fields[key]; present {
			delete(fields, key)
			if r.metrics != nil {
				r.metrics.ToolInjectedOverride.WithLabelValues(cd.def.Name, key).Inc()
			}
			r.logger.Warn(ctx, "discarded model-supplied value for injected parameter",
				"tool", cd.def.Name, "param", key)
		}
	}
	return json.Marshal(fields)
}

// AgentTools adapts the catalog to the runtime's Tool interface, in
// registration order.
func (r *Registry) AgentTools() []agent.Tool {
	tools := make([]agent.Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, &registryTool{registry: r, def: r.defs[name]})
	}
	return tools
}

type registryTool struct {
	registry *Registry
	def      *compiledDef
}

func (t *registryTool) Name() string            { return t.def.def.Name }
func (t *registryTool) Description() string     { return t.def.def.Description }
func (t *registryTool) Schema() json.RawMessage { return t.def.schema }

func (t *registryTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return t.registry.Dispatch(ctx, t.def.def.Name, params)
}
