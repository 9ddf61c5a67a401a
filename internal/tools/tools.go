// Package tools implements the gateway's prompt-rewrite capabilities.
//
// A declared tool never reaches the backend as native tool-calling: it runs
// locally before dispatch and replaces the outgoing message list with a
// single synthetic user message carrying its generated prompt.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ArtixJP/albert-api/internal/openai"
)

var ErrToolNotFound = errors.New("tool not found")

// ExecutionError wraps a failure inside a tool's rewrite step. The invoker
// never retries.
type ExecutionError struct {
	Tool  string
	Cause error
}

func (e *ExecutionError) Error() string { return fmt.Sprintf("tool %s: %v", e.Tool, e.Cause) }
func (e *ExecutionError) Unwrap() error { return e.Cause }

// Invocation carries everything a tool sees for one rewrite: the request
// context, the merged parameter map (request fields overlaid with the
// tool's declared parameters, tool winning on collision) and the caller's
// API key.
type Invocation struct {
	Request openai.ChatCompletionRequest
	Params  map[string]any
	APIKey  string
}

// Prompt returns the user's current turn, i.e. the last message content.
func (inv Invocation) Prompt() string {
	if n := len(inv.Request.Messages); n > 0 {
		return inv.Request.Messages[n-1].Content
	}
	return ""
}

type Tool interface {
	Name() string
	GetPrompt(ctx context.Context, inv Invocation) (string, error)
}

// Registry is the static name-to-tool table, populated once at startup.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

func (r *Registry) Register(t Tool) { r.tools[t.Name()] = t }

// Invoke runs every declared tool in order and returns the resulting
// message list. Each tool replaces the whole working list with its own
// prompt, so with several tools only the last one shapes the dispatched
// messages; earlier tools still run. Unknown names fail with
// ErrToolNotFound before anything runs for that tool; a rewrite failure is
// wrapped in ExecutionError.
func (r *Registry) Invoke(ctx context.Context, specs []openai.ToolSpec, req openai.ChatCompletionRequest, apiKey string) ([]openai.ChatMessage, error) {
	working := req
	for _, spec := range specs {
		name := spec.Function.Name
		tool, ok := r.tools[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
		}

		params := mergeParams(working, spec.Function.Parameters)
		params["api_key"] = apiKey
		inv := Invocation{
			Request: working,
			Params:  params,
			APIKey:  apiKey,
		}
		prompt, err := tool.GetPrompt(ctx, inv)
		if err != nil {
			return nil, &ExecutionError{Tool: name, Cause: err}
		}

		working.Messages = []openai.ChatMessage{{Role: "user", Content: prompt}}
	}
	return working.Messages, nil
}

// mergeParams flattens the request into a key space and overlays the tool's
// own declared parameters on top.
func mergeParams(req openai.ChatCompletionRequest, toolParams map[string]any) map[string]any {
	out := make(map[string]any)
	if b, err := json.Marshal(req); err == nil {
		_ = json.Unmarshal(b, &out)
	}
	for k, v := range toolParams {
		out[k] = v
	}
	return out
}

// Param readers. Declared tool parameters arrive as decoded JSON, so
// numbers are float64 and lists are []any.

func StringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key].(string)
	return v, ok
}

func IntParam(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

func StringSliceParam(params map[string]any, key string) ([]string, bool) {
	raw, ok := params[key].([]any)
	if !ok {
		if ss, ok := params[key].([]string); ok {
			return ss, true
		}
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		s, ok := e.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
