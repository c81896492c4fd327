package tools

import (
	"context"
	"encoding/json"

	"github.com/sashabaranov/go-openai"
)

// Tool is one capability an agent may invoke: a name, a JSON-schema
// parameter description for the model, and an executor already bound to the
// caller's identity. Executors never fail across the tool boundary; any
// internal error comes back as a structured result the model can verbalize.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Execute     func(ctx context.Context, args json.RawMessage) any
}

// Registry is the closed set of tools bound to one agent for one request.
// Dispatch is by name lookup; the model cannot reach anything outside it.
type Registry struct {
	tools  []Tool
	byName map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	byName := make(map[string]Tool, len(tools))
	for _, tool := range tools {
		byName[tool.Name] = tool
	}
	return &Registry{tools: tools, byName: byName}
}

func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.byName[name]
	return tool, ok
}

func (r *Registry) List() []Tool {
	return r.tools
}

// OpenAITools renders the registry as the wire-format tool schema.
func (r *Registry) OpenAITools() []openai.Tool {
	if len(r.tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return out
}
