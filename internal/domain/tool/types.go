// Package tool defines the contract every gatekeep plugin implements:
// tool definitions advertised via tools/list, and the result shape
// returned from tools/call. Grounded on original_source's
// src/plugins/base.py (ToolDefinition, ToolResult, PluginBase).
package tool

import "context"

// Definition describes one tool a plugin provides, in MCP tools/list shape.
// Aliases and IntentCategories are optional discovery metadata: the
// search_tools tool (internal/plugin/discovery) matches a query substring
// against Name, Description, and Aliases, and an intent filter substring
// against IntentCategories.
type Definition struct {
	Name             string                 `json:"name"`
	Description      string                 `json:"description"`
	InputSchema      map[string]interface{} `json:"inputSchema"`
	Aliases          []string               `json:"aliases,omitempty"`
	IntentCategories []string               `json:"intent_categories,omitempty"`
}

// ContentBlock is one piece of a tool result's content array. Type is
// typically "text"; Text carries the payload. Only these two fields are
// modelled; other MCP content fields (e.g. image data) have no place here.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Result is the outcome of a tool execution, in MCP tools/call shape.
type Result struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError"`
}

// TextResult builds a single-block, non-error text result.
func TextResult(text string) Result {
	return Result{Content: []ContentBlock{{Type: "text", Text: text}}}
}

// ErrorResult builds a single-block error result.
func ErrorResult(text string) Result {
	return Result{Content: []ContentBlock{{Type: "text", Text: text}}, IsError: true}
}

// Plugin is the interface every tool provider implements. Name identifies
// the plugin (used as the discovery "category"); Tools lists what it
// provides; Execute runs one of them.
type Plugin interface {
	Name() string
	Version() string
	Tools() []Definition
	Execute(ctx context.Context, toolName string, arguments map[string]interface{}) (Result, error)
}

// AvailabilityReporter is an optional interface a Plugin may implement
// when some or all of its tools can become unavailable at runtime (e.g.
// missing credentials, an unreachable dependency). The discovery plugin
// surfaces this via its "available" and hint fields; plugins that are
// always available don't need to implement it.
type AvailabilityReporter interface {
	IsAvailable() bool
	AvailabilityHint() string
}

// Cleanup is an optional interface a Plugin may implement to release
// resources (open files, database handles) when gatekeep shuts down.
type Cleanup interface {
	Cleanup(ctx context.Context) error
}
