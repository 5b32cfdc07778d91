// Package storygen turns a short design brief into a Markdown agile user
// story. Grounded on original_source's src/plugins/figma_stories package,
// trimmed to its document-generation core (models.UserStory/Epic/
// AcceptanceCriteria and markdown_writer.MarkdownWriter's formatting);
// figma_client.py and ai_client.py are genuinely out-of-scope network
// collaborators of a collaborator, so this plugin takes the design brief
// as a direct argument instead of fetching one from a live Figma file.
package storygen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gatekeep/gatekeep/internal/domain/tool"
)

// AcceptanceCriterion is one Given/When/Then clause.
type AcceptanceCriterion struct {
	Given      string
	WhenAction string
	ThenOutcome string
}

func (ac AcceptanceCriterion) toMarkdown() []string {
	return []string{
		"Given " + ac.Given,
		"When " + ac.WhenAction,
		"Then " + ac.ThenOutcome,
		"",
	}
}

// parseAcceptanceCriterion accepts a free-form "Given ...\nWhen ...\nThen
// ..." block, the shape a caller might paste straight from a design doc.
func parseAcceptanceCriterion(text string) (AcceptanceCriterion, error) {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) < 3 {
		return AcceptanceCriterion{}, fmt.Errorf("cannot parse acceptance criteria from: %s", text)
	}
	prefixes := []string{"given", "when", "then"}
	for i, prefix := range prefixes {
		if !strings.HasPrefix(strings.ToLower(lines[i]), prefix) {
			return AcceptanceCriterion{}, fmt.Errorf("cannot parse acceptance criteria from: %s", text)
		}
	}
	return AcceptanceCriterion{
		Given:       strings.TrimSpace(lines[0][len("given"):]),
		WhenAction:  strings.TrimSpace(lines[1][len("when"):]),
		ThenOutcome: strings.TrimSpace(lines[2][len("then"):]),
	}, nil
}

// UserStory is one "As a / I want to / So that" story with its
// acceptance criteria.
type UserStory struct {
	Title               string
	Description         string
	AcceptanceCriteria  []AcceptanceCriterion
	ComponentReferences []string
	SourceHierarchy     []string
	Annotations         []string
}

// Epic groups related user stories under a shared name.
type Epic struct {
	Name        string
	Description string
	Stories     []UserStory
}

func (p *Plugin) generateStory(arguments map[string]interface{}) tool.Result {
	title := stringArg(arguments, "title")
	description := stringArg(arguments, "description")
	if title == "" || description == "" {
		return tool.ErrorResult("title and description are required")
	}

	story := UserStory{
		Title:               title,
		Description:         description,
		ComponentReferences: stringSliceArg(arguments, "component_references"),
		SourceHierarchy:     stringSliceArg(arguments, "source_hierarchy"),
		Annotations:         stringSliceArg(arguments, "annotations"),
	}

	criteria, err := acceptanceCriteriaArg(arguments)
	if err != nil {
		return tool.ErrorResult(err.Error())
	}
	story.AcceptanceCriteria = criteria

	epicName := stringArg(arguments, "epic_name")
	if epicName == "" {
		epicName = "General"
	}
	epic := Epic{Name: epicName, Description: stringArg(arguments, "epic_description"), Stories: []UserStory{story}}

	content := generateContent(epic, true)

	outputPath := stringArg(arguments, "output_path")
	if outputPath == "" {
		return tool.TextResult(fmt.Sprintf("Story generated (not written to disk).\n\n%s", content))
	}

	overwrite, _ := arguments["overwrite"].(bool)
	if _, err := os.Stat(outputPath); err == nil && !overwrite {
		return tool.ErrorResult(fmt.Sprintf("File already exists: %s (pass overwrite=true to replace it)", outputPath))
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return tool.ErrorResult("Failed to create output directory: " + err.Error())
	}
	if err := os.WriteFile(outputPath, []byte(content), 0o644); err != nil {
		return tool.ErrorResult("Failed to write story: " + err.Error())
	}

	preview := content
	if len(preview) > 500 {
		preview = preview[:500]
	}
	return tool.TextResult(fmt.Sprintf("Story written to %s\n\n%s", outputPath, preview))
}

func (p *Plugin) previewStory(arguments map[string]interface{}) tool.Result {
	title := stringArg(arguments, "title")
	description := stringArg(arguments, "description")
	if title == "" || description == "" {
		return tool.ErrorResult("title and description are required")
	}

	criteria, err := acceptanceCriteriaArg(arguments)
	if err != nil {
		return tool.ErrorResult(err.Error())
	}

	story := UserStory{
		Title:               title,
		Description:         description,
		AcceptanceCriteria:  criteria,
		ComponentReferences: stringSliceArg(arguments, "component_references"),
		SourceHierarchy:     stringSliceArg(arguments, "source_hierarchy"),
		Annotations:         stringSliceArg(arguments, "annotations"),
	}
	epicName := stringArg(arguments, "epic_name")
	if epicName == "" {
		epicName = "General"
	}
	epic := Epic{Name: epicName, Description: stringArg(arguments, "epic_description"), Stories: []UserStory{story}}

	return tool.TextResult(generateContent(epic, true))
}

// generateContent renders one epic and its stories to Markdown, matching
// MarkdownWriter._generate_content/_format_epic/_format_story's layout.
func generateContent(epic Epic, includeHeader bool) string {
	var lines []string

	if includeHeader {
		title := "Design"
		if len(epic.Stories) > 0 && len(epic.Stories[0].SourceHierarchy) > 0 {
			title = epic.Stories[0].SourceHierarchy[0]
		}
		lines = append(lines,
			fmt.Sprintf("# %s User Story List", title),
			"",
			fmt.Sprintf("**Generated:** %s", time.Now().UTC().Format("2006-01-02 15:04:05")),
			"",
			"---",
			"",
		)
	}

	if len(epic.Stories) > 0 {
		lines = append(lines, formatEpic(epic)...)
	}

	return strings.Join(lines, "\n")
}

func formatEpic(epic Epic) []string {
	lines := []string{fmt.Sprintf("## Epic: %s", epic.Name), ""}
	if epic.Description != "" {
		lines = append(lines, epic.Description, "")
	}
	for _, story := range epic.Stories {
		lines = append(lines, formatStory(story)...)
		lines = append(lines, "")
	}
	return lines
}

func formatStory(story UserStory) []string {
	lines := []string{fmt.Sprintf("### %s", story.Title), ""}

	if story.Description != "" {
		lines = append(lines, formatDescription(story.Description), "")
	}

	if len(story.AcceptanceCriteria) > 0 {
		lines = append(lines, "#### Acceptance Criteria", "")
		for _, ac := range story.AcceptanceCriteria {
			lines = append(lines, ac.toMarkdown()...)
		}
	}

	if len(story.ComponentReferences) > 0 {
		lines = append(lines, "#### Component References", strings.Join(story.ComponentReferences, ", "), "")
	}

	if len(story.SourceHierarchy) > 0 {
		lines = append(lines, "#### Source Hierarchy", strings.Join(story.SourceHierarchy, " → "), "")
	}

	if len(story.Annotations) > 0 {
		lines = append(lines, "#### Design Notes")
		max := len(story.Annotations)
		if max > 5 {
			max = 5
		}
		for _, note := range story.Annotations[:max] {
			lines = append(lines, "- "+note)
		}
		lines = append(lines, "")
	}

	return lines
}

// formatDescription bolds the "As a / I want to / So that" clauses of a
// raw comma-separated description, matching
// MarkdownWriter._format_description.
func formatDescription(description string) string {
	if !strings.Contains(description, "As a") {
		return description
	}
	parts := strings.Split(description, ", ")
	formatted := make([]string, 0, len(parts))
	for _, part := range parts {
		switch {
		case strings.HasPrefix(part, "As a"):
			formatted = append(formatted, "**As a** "+strings.TrimSpace(part[len("As a"):]))
		case strings.HasPrefix(part, "I want to"):
			formatted = append(formatted, "**I want to** "+strings.TrimSpace(part[len("I want to"):]))
		case strings.HasPrefix(part, "So that"):
			formatted = append(formatted, "**So that** "+strings.TrimSpace(part[len("So that"):]))
		default:
			formatted = append(formatted, part)
		}
	}
	return strings.Join(formatted, ", ")
}

// Plugin is the design-to-story generator.
type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string    { return "storygen" }
func (p *Plugin) Version() string { return "1.0.0" }

func (p *Plugin) Tools() []tool.Definition {
	criteriaSchema := map[string]interface{}{
		"type": "array",
		"items": map[string]interface{}{
			"oneOf": []interface{}{
				map[string]interface{}{"type": "string", "description": "A 'Given ...\\nWhen ...\\nThen ...' block"},
				map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"given": map[string]interface{}{"type": "string"},
						"when":  map[string]interface{}{"type": "string"},
						"then":  map[string]interface{}{"type": "string"},
					},
				},
			},
		},
		"description": "Acceptance criteria, either structured given/when/then objects or parsable text blocks",
	}
	properties := map[string]interface{}{
		"title":                map[string]interface{}{"type": "string", "description": "Story title"},
		"description":          map[string]interface{}{"type": "string", "description": "Story description, e.g. 'As a user, I want to X, So that Y'"},
		"epic_name":            map[string]interface{}{"type": "string", "description": "Epic name (default: 'General')"},
		"epic_description":     map[string]interface{}{"type": "string"},
		"acceptance_criteria":  criteriaSchema,
		"component_references": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		"source_hierarchy":     map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		"annotations":          map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
	}

	generateProps := map[string]interface{}{}
	for k, v := range properties {
		generateProps[k] = v
	}
	generateProps["output_path"] = map[string]interface{}{"type": "string", "description": "If set, write the generated Markdown to this path"}
	generateProps["overwrite"] = map[string]interface{}{"type": "boolean", "description": "Overwrite output_path if it already exists", "default": false}

	return []tool.Definition{
		{
			Name:             "generate_story",
			Description:      "Generate a Markdown agile user story from a design brief, optionally writing it to a file.",
			Aliases:          []string{"create_story", "write_story"},
			IntentCategories: []string{"requirements", "documentation"},
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": generateProps,
				"required":   []string{"title", "description"},
			},
		},
		{
			Name:             "preview_story",
			Description:      "Render a design brief to Markdown without writing any file.",
			Aliases:          []string{"draft_story"},
			IntentCategories: []string{"requirements", "documentation"},
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": properties,
				"required":   []string{"title", "description"},
			},
		},
	}
}

func (p *Plugin) Execute(_ context.Context, toolName string, arguments map[string]interface{}) (tool.Result, error) {
	switch toolName {
	case "generate_story":
		return p.generateStory(arguments), nil
	case "preview_story":
		return p.previewStory(arguments), nil
	default:
		return tool.ErrorResult("Unknown tool: " + toolName), nil
	}
}

func acceptanceCriteriaArg(arguments map[string]interface{}) ([]AcceptanceCriterion, error) {
	raw, ok := arguments["acceptance_criteria"].([]interface{})
	if !ok {
		return nil, nil
	}
	out := make([]AcceptanceCriterion, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			ac, err := parseAcceptanceCriterion(v)
			if err != nil {
				return nil, err
			}
			out = append(out, ac)
		case map[string]interface{}:
			given, _ := v["given"].(string)
			when, _ := v["when"].(string)
			then, _ := v["then"].(string)
			out = append(out, AcceptanceCriterion{Given: given, WhenAction: when, ThenOutcome: then})
		}
	}
	return out, nil
}

func stringArg(arguments map[string]interface{}, key string) string {
	s, _ := arguments[key].(string)
	return s
}

func stringSliceArg(arguments map[string]interface{}, key string) []string {
	raw, ok := arguments[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
