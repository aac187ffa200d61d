package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Definition describes a tool and the JSON schema of its arguments.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	JSONSchema  map[string]any `json:"jsonSchema,omitempty"`
}

// Tool produces a user-facing text result. Errors returned by Execute are
// rendered as text by the Registry and never reach the caller.
type Tool interface {
	Definition() Definition
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

type FuncTool struct {
	def Definition
	fn  func(ctx context.Context, args json.RawMessage) (string, error)
}

func NewFuncTool(name, description string, schema map[string]any, fn func(ctx context.Context, args json.RawMessage) (string, error)) *FuncTool {
	return &FuncTool{
		def: Definition{
			Name:        name,
			Description: description,
			JSONSchema:  schema,
		},
		fn: fn,
	}
}

func (t *FuncTool) Definition() Definition {
	return t.def
}

func (t *FuncTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	if t.fn == nil {
		return "", fmt.Errorf("tool %q has no execute function", t.def.Name)
	}
	return t.fn(ctx, args)
}

// SchemaFor reflects the argument schema of T from its json and jsonschema
// struct tags. Fields without omitempty are required. It panics if the
// reflected schema cannot be encoded, which only happens for malformed types.
func SchemaFor[T any]() map[string]any {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	raw, err := json.Marshal(r.Reflect(new(T)))
	if err != nil {
		panic(fmt.Sprintf("tools: reflect schema: %v", err))
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("tools: decode schema: %v", err))
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}
