// Package discovery implements progressive tool disclosure: search_tools
// and list_categories let an agent find what's available without loading
// every tool definition into context up front. Grounded on
// original_source's src/mcp_secure_server/plugins/discovery.py
// ToolDiscoveryPlugin, extended with per-tool alias/intent substring
// matching and per-plugin availability reporting.
package discovery

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/gatekeep/gatekeep/internal/domain/tool"
)

// categoryAliases maps a human-friendly or legacy category spelling to the
// canonical plugin name it resolves to. This is distinct from a tool's own
// Aliases (tool.Definition.Aliases): this map resolves the search_tools
// "category" argument, which names a whole plugin.
var categoryAliases = map[string]string{
	"bug_tracker":     "bugstore",
	"bugtracker":      "bugstore",
	"bug_tracking":    "bugstore",
	"web_search":      "websearch",
	"web-search":      "websearch",
	"search":          "websearch",
	"story_generator": "storygen",
	"stories":         "storygen",
	"user_stories":    "storygen",
}

func canonicalCategory(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ""
	}
	if canon, ok := categoryAliases[name]; ok {
		return canon
	}
	return name
}

func aliasesFor(category string) []string {
	var found []string
	for alias, canon := range categoryAliases {
		if canon == category {
			found = append(found, alias)
		}
	}
	sort.Strings(found)
	return found
}

// PluginSource exposes the registered plugins a dispatcher holds. Satisfied
// structurally by *dispatch.ToolDispatcher; discovery never imports the
// dispatch package so there's no import cycle between core routing and a
// plugin.
type PluginSource interface {
	Plugins() []tool.Plugin
}

// Plugin is the discovery plugin itself.
type Plugin struct {
	source PluginSource
}

// New wraps source, the dispatcher whose registered plugins discovery
// searches and lists.
func New(source PluginSource) *Plugin {
	return &Plugin{source: source}
}

func (p *Plugin) Name() string    { return "discovery" }
func (p *Plugin) Version() string { return "1.0.0" }

func (p *Plugin) Tools() []tool.Definition {
	return []tool.Definition{
		{
			Name: "search_tools",
			Description: "Search for available tools by keyword, category, or intent. " +
				"Use detail_level to control how much information is returned: " +
				"'name' for just tool names, 'summary' for names and descriptions, " +
				"'full' for complete definitions including input schemas.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "Keyword to search for in tool names and descriptions",
					},
					"category": map[string]interface{}{
						"type":        "string",
						"description": "Filter by plugin category; aliases accepted (e.g. 'bugtracker' resolves to 'bugstore')",
					},
					"intent": map[string]interface{}{
						"type":        "string",
						"description": "Filter by high-level intent (e.g. 'research', 'issue_tracking'); matched as a substring against each tool's intent_categories",
					},
					"detail_level": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"name", "summary", "full"},
						"description": "Level of detail to return (default: 'summary')",
						"default":     "summary",
					},
					"include_unavailable": map[string]interface{}{
						"type":        "boolean",
						"description": "Include tools from plugins that report themselves unavailable (default: false)",
						"default":     false,
					},
				},
			},
		},
		{
			Name:        "list_categories",
			Description: "List all available tool categories (plugins) with their tool counts, aliases, and availability.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}

func (p *Plugin) Execute(_ context.Context, toolName string, arguments map[string]interface{}) (tool.Result, error) {
	switch toolName {
	case "search_tools":
		return p.searchTools(arguments), nil
	case "list_categories":
		return p.listCategories(), nil
	default:
		return tool.ErrorResult("Unknown tool: " + toolName), nil
	}
}

// toolEntry is the "full" detail_level shape; "summary" and "name" are
// narrower projections of the same matches.
type toolEntry struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Category    string      `json:"category"`
	Aliases     []string    `json:"aliases,omitempty"`
	Available   bool        `json:"available"`
	Hint        string      `json:"hint,omitempty"`
	InputSchema interface{} `json:"input_schema,omitempty"`
}

func (p *Plugin) searchTools(arguments map[string]interface{}) tool.Result {
	query := strings.ToLower(strings.TrimSpace(stringArg(arguments, "query")))
	category := canonicalCategory(stringArg(arguments, "category"))
	intent := strings.ToLower(strings.TrimSpace(stringArg(arguments, "intent")))
	detailLevel := stringArg(arguments, "detail_level")
	if detailLevel == "" {
		detailLevel = "summary"
	}
	includeUnavailable, _ := arguments["include_unavailable"].(bool)

	var matches []toolEntry
	for _, plg := range p.source.Plugins() {
		pluginCategory := strings.ToLower(plg.Name())
		if category != "" && pluginCategory != category {
			continue
		}

		available, hint := pluginAvailability(plg)
		if !available && !includeUnavailable {
			continue
		}

		for _, def := range plg.Tools() {
			if query != "" && !matchesQuery(def, query) {
				continue
			}
			if intent != "" && !matchesIntent(def, intent) {
				continue
			}
			matches = append(matches, toolEntry{
				Name:        def.Name,
				Description: def.Description,
				Category:    pluginCategory,
				Aliases:     def.Aliases,
				Available:   available,
				Hint:        hint,
				InputSchema: def.InputSchema,
			})
		}
	}

	return tool.TextResult(encodeByDetail(matches, detailLevel))
}

// matchesQuery reports whether query is a case-insensitive substring of the
// tool's name, description, or any of its aliases. query is already
// lowercased and trimmed.
func matchesQuery(def tool.Definition, query string) bool {
	if strings.Contains(strings.ToLower(def.Name), query) {
		return true
	}
	if strings.Contains(strings.ToLower(def.Description), query) {
		return true
	}
	for _, alias := range def.Aliases {
		if strings.Contains(strings.ToLower(alias), query) {
			return true
		}
	}
	return false
}

// matchesIntent reports whether intent is a case-insensitive substring of
// any of the tool's intent_categories. intent is already lowercased and
// trimmed.
func matchesIntent(def tool.Definition, intent string) bool {
	for _, cat := range def.IntentCategories {
		if strings.Contains(strings.ToLower(cat), intent) {
			return true
		}
	}
	return false
}

func encodeByDetail(matches []toolEntry, detailLevel string) string {
	switch detailLevel {
	case "name":
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.Name
		}
		return mustJSON(names)
	case "full":
		return mustJSON(matches)
	default: // summary
		type summary struct {
			Name        string   `json:"name"`
			Description string   `json:"description"`
			Category    string   `json:"category"`
			Aliases     []string `json:"aliases,omitempty"`
			Available   bool     `json:"available"`
			Hint        string   `json:"hint,omitempty"`
		}
		out := make([]summary, len(matches))
		for i, m := range matches {
			out[i] = summary{m.Name, m.Description, m.Category, m.Aliases, m.Available, m.Hint}
		}
		return mustJSON(out)
	}
}

func (p *Plugin) listCategories() tool.Result {
	type categoryInfo struct {
		Category  string   `json:"category"`
		Version   string   `json:"version"`
		Aliases   []string `json:"aliases,omitempty"`
		ToolCount int      `json:"tool_count"`
		Tools     []string `json:"tools"`
		Available bool     `json:"available"`
		Hint      string   `json:"hint,omitempty"`
	}

	var categories []categoryInfo
	for _, plg := range p.source.Plugins() {
		defs := plg.Tools()
		names := make([]string, len(defs))
		for i, d := range defs {
			names[i] = d.Name
		}
		available, hint := pluginAvailability(plg)
		category := strings.ToLower(plg.Name())
		categories = append(categories, categoryInfo{
			Category:  category,
			Version:   plg.Version(),
			Aliases:   aliasesFor(category),
			ToolCount: len(defs),
			Tools:     names,
			Available: available,
			Hint:      hint,
		})
	}

	return tool.TextResult(mustJSON(categories))
}

func pluginAvailability(plugin tool.Plugin) (bool, string) {
	reporter, ok := plugin.(tool.AvailabilityReporter)
	if !ok {
		return true, ""
	}
	if reporter.IsAvailable() {
		return true, ""
	}
	return false, reporter.AvailabilityHint()
}

func stringArg(arguments map[string]interface{}, key string) string {
	s, _ := arguments[key].(string)
	return s
}

func mustJSON(v interface{}) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(data)
}
