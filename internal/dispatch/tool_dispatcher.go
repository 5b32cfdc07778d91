// Package dispatch routes incoming JSON-RPC requests to plugins and back.
// Grounded on original_source's src/plugins/dispatcher.py and src/server.py
// (mcp_secure_server variant, which additionally wires the security engine).
package dispatch

import (
	"context"
	"fmt"

	"github.com/gatekeep/gatekeep/internal/domain/tool"
)

// ToolNotFoundError is returned when a requested tool has no registered plugin.
type ToolNotFoundError struct {
	Tool string
}

func (e *ToolNotFoundError) Error() string { return "tool not found: " + e.Tool }

// ToolExecutionError wraps a plugin failure with a sanitized, client-safe
// message. The original plugin error is never surfaced to the client.
type ToolExecutionError struct {
	Tool string
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool '%s' execution failed", e.Tool)
}

// ToolDispatcher routes tool calls to registered plugins, last-writer-wins
// on a tool name collision across plugins.
type ToolDispatcher struct {
	plugins []tool.Plugin
	toolMap map[string]tool.Plugin
}

// NewToolDispatcher creates an empty dispatcher.
func NewToolDispatcher() *ToolDispatcher {
	return &ToolDispatcher{toolMap: make(map[string]tool.Plugin)}
}

// RegisterPlugin adds plugin and indexes its tools. A tool name already
// registered by a previous plugin is silently overwritten (last writer wins).
func (d *ToolDispatcher) RegisterPlugin(p tool.Plugin) {
	d.plugins = append(d.plugins, p)
	for _, def := range p.Tools() {
		d.toolMap[def.Name] = p
	}
}

// Plugins returns the registered plugins in registration order.
func (d *ToolDispatcher) Plugins() []tool.Plugin {
	return d.plugins
}

// ListTools returns every tool definition across all registered plugins.
func (d *ToolDispatcher) ListTools() []tool.Definition {
	var defs []tool.Definition
	for _, p := range d.plugins {
		defs = append(defs, p.Tools()...)
	}
	return defs
}

// GetToolSchema returns the input schema for toolName, or false if unknown.
func (d *ToolDispatcher) GetToolSchema(toolName string) (map[string]interface{}, bool) {
	plugin, ok := d.toolMap[toolName]
	if !ok {
		return nil, false
	}
	for _, def := range plugin.Tools() {
		if def.Name == toolName {
			return def.InputSchema, true
		}
	}
	return nil, false
}

// CallTool dispatches to the plugin owning toolName. Any error the plugin
// returns, or a panic inside Execute, is wrapped as a *ToolExecutionError
// so its detail never reaches the client or the response the audit log
// stores.
func (d *ToolDispatcher) CallTool(ctx context.Context, toolName string, arguments map[string]interface{}) (result tool.Result, err error) {
	plugin, ok := d.toolMap[toolName]
	if !ok {
		return tool.Result{}, &ToolNotFoundError{Tool: toolName}
	}

	defer func() {
		if r := recover(); r != nil {
			result, err = tool.Result{}, &ToolExecutionError{Tool: toolName}
		}
	}()

	result, err = plugin.Execute(ctx, toolName, arguments)
	if err != nil {
		return tool.Result{}, &ToolExecutionError{Tool: toolName}
	}
	return result, nil
}

// Cleanup calls Cleanup on every registered plugin that implements it.
func (d *ToolDispatcher) Cleanup(ctx context.Context) {
	for _, p := range d.plugins {
		if c, ok := p.(tool.Cleanup); ok {
			_ = c.Cleanup(ctx)
		}
	}
}
