package storygen

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStorygen_NameVersionTools(t *testing.T) {
	p := New()
	if p.Name() != "storygen" {
		t.Fatalf("expected name 'storygen', got %q", p.Name())
	}
	if p.Version() != "1.0.0" {
		t.Fatalf("expected version '1.0.0', got %q", p.Version())
	}
	tools := p.Tools()
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
	names := map[string]bool{}
	for _, tl := range tools {
		names[tl.Name] = true
	}
	if !names["generate_story"] || !names["preview_story"] {
		t.Fatalf("expected generate_story and preview_story tools, got %+v", tools)
	}
}

func TestStorygen_UnknownToolRejected(t *testing.T) {
	p := New()
	result, err := p.Execute(context.Background(), "unknown_tool", map[string]interface{}{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for unknown tool")
	}
}

func TestStorygen_PreviewRequiresTitleAndDescription(t *testing.T) {
	p := New()

	result, err := p.Execute(context.Background(), "preview_story", map[string]interface{}{"description": "As a user, I want to log in"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error when title missing")
	}

	result, err = p.Execute(context.Background(), "preview_story", map[string]interface{}{"title": "Login"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error when description missing")
	}
}

func TestStorygen_PreviewRendersEpicAndStory(t *testing.T) {
	p := New()
	result, err := p.Execute(context.Background(), "preview_story", map[string]interface{}{
		"title":       "Login",
		"description": "As a registered user, I want to log in, So that I can access my account",
		"epic_name":   "Authentication",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}
	text := result.Content[0].Text
	if !strings.Contains(text, "## Epic: Authentication") {
		t.Fatalf("expected epic heading, got %q", text)
	}
	if !strings.Contains(text, "### Login") {
		t.Fatalf("expected story heading, got %q", text)
	}
	if !strings.Contains(text, "**As a** registered user") {
		t.Fatalf("expected bolded description clause, got %q", text)
	}
}

func TestStorygen_PreviewDefaultsEpicName(t *testing.T) {
	p := New()
	result, err := p.Execute(context.Background(), "preview_story", map[string]interface{}{
		"title":       "Logout",
		"description": "As a user, I want to log out",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Content[0].Text, "## Epic: General") {
		t.Fatalf("expected default epic name General, got %q", result.Content[0].Text)
	}
}

func TestStorygen_PreviewWithStructuredAcceptanceCriteria(t *testing.T) {
	p := New()
	result, err := p.Execute(context.Background(), "preview_story", map[string]interface{}{
		"title":       "Password reset",
		"description": "As a user, I want to reset my password",
		"acceptance_criteria": []interface{}{
			map[string]interface{}{
				"given": "I am on the login page",
				"when":  "I click forgot password",
				"then":  "I receive a reset email",
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}
	text := result.Content[0].Text
	if !strings.Contains(text, "#### Acceptance Criteria") {
		t.Fatalf("expected acceptance criteria heading, got %q", text)
	}
	if !strings.Contains(text, "Given I am on the login page") || !strings.Contains(text, "When I click forgot password") || !strings.Contains(text, "Then I receive a reset email") {
		t.Fatalf("expected rendered given/when/then, got %q", text)
	}
}

func TestStorygen_PreviewWithTextAcceptanceCriteria(t *testing.T) {
	p := New()
	result, err := p.Execute(context.Background(), "preview_story", map[string]interface{}{
		"title":       "Password reset",
		"description": "As a user, I want to reset my password",
		"acceptance_criteria": []interface{}{
			"Given I am on the login page\nWhen I click forgot password\nThen I receive a reset email",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}
	if !strings.Contains(result.Content[0].Text, "Then I receive a reset email") {
		t.Fatalf("expected parsed text criteria, got %q", result.Content[0].Text)
	}
}

func TestStorygen_PreviewUnparsableTextAcceptanceCriteriaErrors(t *testing.T) {
	p := New()
	result, err := p.Execute(context.Background(), "preview_story", map[string]interface{}{
		"title":       "Password reset",
		"description": "As a user, I want to reset my password",
		"acceptance_criteria": []interface{}{
			"not a given/when/then block",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error for unparsable acceptance criteria text")
	}
}

func TestStorygen_PreviewRendersComponentReferencesAndHierarchy(t *testing.T) {
	p := New()
	result, err := p.Execute(context.Background(), "preview_story", map[string]interface{}{
		"title":                 "Checkout button",
		"description":           "As a shopper, I want to check out",
		"component_references":  []interface{}{"Button/Primary", "Icon/Cart"},
		"source_hierarchy":      []interface{}{"Checkout Page", "Footer", "CTA"},
		"annotations":           []interface{}{"note 1", "note 2"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := result.Content[0].Text
	if !strings.Contains(text, "Button/Primary, Icon/Cart") {
		t.Fatalf("expected component references, got %q", text)
	}
	if !strings.Contains(text, "Checkout Page → Footer → CTA") {
		t.Fatalf("expected arrow-joined hierarchy, got %q", text)
	}
	if !strings.Contains(text, "- note 1") || !strings.Contains(text, "- note 2") {
		t.Fatalf("expected rendered annotations, got %q", text)
	}
}

func TestStorygen_PreviewNeverWritesFile(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "story.md")

	p := New()
	_, err := p.Execute(context.Background(), "preview_story", map[string]interface{}{
		"title":       "Login",
		"description": "As a user, I want to log in",
		"output_path": outputPath,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, statErr := os.Stat(outputPath); !os.IsNotExist(statErr) {
		t.Fatal("preview_story must never write to disk")
	}
}

func TestStorygen_GenerateWithoutOutputPathReturnsContentOnly(t *testing.T) {
	p := New()
	result, err := p.Execute(context.Background(), "generate_story", map[string]interface{}{
		"title":       "Login",
		"description": "As a user, I want to log in",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}
	if !strings.Contains(result.Content[0].Text, "not written to disk") {
		t.Fatalf("expected not-written note, got %q", result.Content[0].Text)
	}
}

func TestStorygen_GenerateWritesFile(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "stories", "login.md")

	p := New()
	result, err := p.Execute(context.Background(), "generate_story", map[string]interface{}{
		"title":       "Login",
		"description": "As a user, I want to log in",
		"output_path": outputPath,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}
	data, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("expected file to be written: %v", err)
	}
	if !strings.Contains(string(data), "### Login") {
		t.Fatalf("expected story content in file, got %q", string(data))
	}
}

func TestStorygen_GenerateRefusesToOverwriteWithoutFlag(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "login.md")
	if err := os.WriteFile(outputPath, []byte("existing"), 0o644); err != nil {
		t.Fatalf("failed to seed existing file: %v", err)
	}

	p := New()
	result, err := p.Execute(context.Background(), "generate_story", map[string]interface{}{
		"title":       "Login",
		"description": "As a user, I want to log in",
		"output_path": outputPath,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error when output_path exists and overwrite is not set")
	}

	data, _ := os.ReadFile(outputPath)
	if string(data) != "existing" {
		t.Fatal("expected existing file to remain untouched")
	}
}

func TestStorygen_GenerateOverwritesWithFlag(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "login.md")
	if err := os.WriteFile(outputPath, []byte("existing"), 0o644); err != nil {
		t.Fatalf("failed to seed existing file: %v", err)
	}

	p := New()
	result, err := p.Execute(context.Background(), "generate_story", map[string]interface{}{
		"title":       "Login",
		"description": "As a user, I want to log in",
		"output_path": outputPath,
		"overwrite":   true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}
	data, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("expected file to be readable: %v", err)
	}
	if strings.Contains(string(data), "existing") {
		t.Fatalf("expected file to be overwritten, got %q", string(data))
	}
}

func TestFormatDescription_LeavesPlainTextUnchanged(t *testing.T) {
	got := formatDescription("Just a plain sentence with no story clauses")
	if strings.Contains(got, "**") {
		t.Fatalf("expected no bold markers for plain description, got %q", got)
	}
}
