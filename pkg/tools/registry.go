// Package tools defines the functions the model can invoke during a live
// session and the registry that dispatches them.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sabia-ai/sabia/internal/log"
	"github.com/sabia-ai/sabia/pkg/live"
)

// Handler executes a tool call. The returned map becomes the function
// response payload sent back to the model.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Tool pairs a function declaration with its handler.
type Tool struct {
	// Declaration describes the tool to the model.
	Declaration live.FunctionDeclaration

	// Handler runs when the model invokes the tool.
	Handler Handler
}

// Registry holds the tools available to a session.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering a name twice is an error.
func (r *Registry) Register(t Tool) error {
	if t.Declaration.Name == "" {
		return fmt.Errorf("tools: tool has no name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tools: tool %q has no handler", t.Declaration.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Declaration.Name]; exists {
		return fmt.Errorf("tools: tool %q already registered", t.Declaration.Name)
	}
	r.tools[t.Declaration.Name] = t
	return nil
}

// Declarations returns the registered declarations in name order.
func (r *Registry) Declarations() []live.FunctionDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	decls := make([]live.FunctionDeclaration, 0, len(names))
	for _, name := range names {
		decls = append(decls, r.tools[name].Declaration)
	}
	return decls
}

// Dispatch runs one tool call and always produces a response payload.
// Handler failures become {"error": ...} payloads rather than session
// errors, so a broken tool never kills the conversation. A call to an
// unregistered name is acknowledged with {"status": "ok"}, since some
// declared capabilities (like server-side search) execute remotely.
func (r *Registry) Dispatch(ctx context.Context, call live.FunctionCall) map[string]any {
	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	r.mu.RUnlock()

	if !ok {
		log.Debug("tools: no local handler", "tool", call.Name)
		return map[string]any{"status": "ok"}
	}

	result, err := safeInvoke(ctx, tool, call.Args)
	if err != nil {
		log.Warn("tools: handler failed", "tool", call.Name, "err", err)
		return map[string]any{"error": err.Error()}
	}
	if result == nil {
		result = map[string]any{"status": "ok"}
	}
	return result
}

func safeInvoke(ctx context.Context, tool Tool, args map[string]any) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return tool.Handler(ctx, args)
}
