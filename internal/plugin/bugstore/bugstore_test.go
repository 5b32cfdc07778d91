package bugstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/gatekeep/gatekeep/internal/domain/tool"
)

func withHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func withCWD(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(orig) })
}

func extractID(t *testing.T, r tool.Result, prefix string) string {
	t.Helper()
	text := r.Content[0].Text
	idx := len(prefix)
	if len(text) <= idx || text[:idx] != prefix {
		t.Fatalf("expected text to start with %q, got %q", prefix, text)
	}
	return text[idx:]
}

func TestBugstore_NameVersionTools(t *testing.T) {
	p := New()
	if p.Name() != "bugstore" {
		t.Fatalf("expected name 'bugstore', got %q", p.Name())
	}
	if p.Version() != "1.0.0" {
		t.Fatalf("expected version '1.0.0', got %q", p.Version())
	}
	names := map[string]bool{}
	for _, def := range p.Tools() {
		names[def.Name] = true
	}
	for _, want := range []string{"init_bugtracker", "add_bug", "get_bug", "update_bug", "close_bug", "list_bugs", "search_bugs_global"} {
		if !names[want] {
			t.Fatalf("expected tool %q among %v", want, names)
		}
	}
}

func TestBugstore_UnknownToolRejected(t *testing.T) {
	p := New()
	result, err := p.Execute(context.Background(), "unknown_tool", map[string]interface{}{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for unknown tool")
	}
}

func TestBugstore_InitCreatesDatabase(t *testing.T) {
	withHome(t)
	project := t.TempDir()
	p := New()
	defer p.Cleanup(context.Background())

	result, err := p.Execute(context.Background(), "init_bugtracker", map[string]interface{}{"project_path": project})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}
	if _, err := os.Stat(filepath.Join(project, ".bugtracker", "bugs.db")); err != nil {
		t.Fatalf("expected bugs.db to exist: %v", err)
	}
}

func TestBugstore_InitRejectsReinit(t *testing.T) {
	withHome(t)
	project := t.TempDir()
	p := New()
	defer p.Cleanup(context.Background())

	p.Execute(context.Background(), "init_bugtracker", map[string]interface{}{"project_path": project})
	result, _ := p.Execute(context.Background(), "init_bugtracker", map[string]interface{}{"project_path": project})
	if !result.IsError {
		t.Fatal("expected reinit to fail")
	}
}

func TestBugstore_InitRejectsNonexistentPath(t *testing.T) {
	withHome(t)
	p := New()
	defer p.Cleanup(context.Background())

	result, _ := p.Execute(context.Background(), "init_bugtracker", map[string]interface{}{
		"project_path": filepath.Join(t.TempDir(), "nonexistent"),
	})
	if !result.IsError {
		t.Fatal("expected error for nonexistent project path")
	}
}

func TestBugstore_InitRejectsPathTraversal(t *testing.T) {
	withHome(t)
	cwd := t.TempDir()
	withCWD(t, cwd)
	p := New()
	defer p.Cleanup(context.Background())

	result, _ := p.Execute(context.Background(), "init_bugtracker", map[string]interface{}{
		"project_path": "../../../etc",
	})
	if !result.IsError {
		t.Fatal("expected path traversal to be rejected")
	}
}

func TestBugstore_AddBugRequiresInit(t *testing.T) {
	withHome(t)
	project := t.TempDir()
	p := New()
	defer p.Cleanup(context.Background())

	result, _ := p.Execute(context.Background(), "add_bug", map[string]interface{}{"title": "x", "project_path": project})
	if !result.IsError {
		t.Fatal("expected add_bug without init to fail")
	}
}

func TestBugstore_AddBugRequiresTitle(t *testing.T) {
	withHome(t)
	project := t.TempDir()
	p := New()
	defer p.Cleanup(context.Background())

	p.Execute(context.Background(), "init_bugtracker", map[string]interface{}{"project_path": project})
	result, _ := p.Execute(context.Background(), "add_bug", map[string]interface{}{"project_path": project})
	if !result.IsError {
		t.Fatal("expected add_bug without title to fail")
	}
}

func TestBugstore_AddBugDefaultsAndLifecycle(t *testing.T) {
	withHome(t)
	project := t.TempDir()
	p := New()
	defer p.Cleanup(context.Background())

	p.Execute(context.Background(), "init_bugtracker", map[string]interface{}{"project_path": project})
	addResult, err := p.Execute(context.Background(), "add_bug", map[string]interface{}{
		"title":        "Auth fails for OAuth users",
		"description":  "Users get 401",
		"priority":     "high",
		"tags":         []interface{}{"auth", "oauth"},
		"project_path": project,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addResult.IsError {
		t.Fatalf("unexpected error result: %+v", addResult)
	}
	bugID := extractID(t, addResult, "Bug created: ")

	getResult, err := p.Execute(context.Background(), "get_bug", map[string]interface{}{"bug_id": bugID, "project_path": project})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var bug Bug
	if err := json.Unmarshal([]byte(getResult.Content[0].Text), &bug); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if bug.Status != "open" {
		t.Fatalf("expected default status 'open', got %q", bug.Status)
	}
	if bug.Priority != "high" {
		t.Fatalf("expected priority 'high', got %q", bug.Priority)
	}
	if len(bug.Tags) != 2 {
		t.Fatalf("expected 2 tags, got %v", bug.Tags)
	}
}

func TestBugstore_AddBugGeneratesUniqueIDs(t *testing.T) {
	withHome(t)
	project := t.TempDir()
	p := New()
	defer p.Cleanup(context.Background())

	p.Execute(context.Background(), "init_bugtracker", map[string]interface{}{"project_path": project})
	r1, _ := p.Execute(context.Background(), "add_bug", map[string]interface{}{"title": "Bug 1", "project_path": project})
	r2, _ := p.Execute(context.Background(), "add_bug", map[string]interface{}{"title": "Bug 2", "project_path": project})
	if r1.Content[0].Text == r2.Content[0].Text {
		t.Fatal("expected distinct bug IDs")
	}
}

func TestBugstore_AddBugDefaultsToMediumPriority(t *testing.T) {
	withHome(t)
	project := t.TempDir()
	p := New()
	defer p.Cleanup(context.Background())

	p.Execute(context.Background(), "init_bugtracker", map[string]interface{}{"project_path": project})
	addResult, _ := p.Execute(context.Background(), "add_bug", map[string]interface{}{"title": "Bug", "project_path": project})
	bugID := extractID(t, addResult, "Bug created: ")

	getResult, _ := p.Execute(context.Background(), "get_bug", map[string]interface{}{"bug_id": bugID, "project_path": project})
	var bug Bug
	json.Unmarshal([]byte(getResult.Content[0].Text), &bug)
	if bug.Priority != "medium" {
		t.Fatalf("expected default priority 'medium', got %q", bug.Priority)
	}
}

func TestBugstore_GetBugNotFound(t *testing.T) {
	withHome(t)
	project := t.TempDir()
	p := New()
	defer p.Cleanup(context.Background())

	p.Execute(context.Background(), "init_bugtracker", map[string]interface{}{"project_path": project})
	result, _ := p.Execute(context.Background(), "get_bug", map[string]interface{}{"bug_id": "nonexistent", "project_path": project})
	if !result.IsError {
		t.Fatal("expected error for nonexistent bug")
	}
}

func TestBugstore_UpdateBugTracksStatusHistory(t *testing.T) {
	withHome(t)
	project := t.TempDir()
	p := New()
	defer p.Cleanup(context.Background())

	p.Execute(context.Background(), "init_bugtracker", map[string]interface{}{"project_path": project})
	addResult, _ := p.Execute(context.Background(), "add_bug", map[string]interface{}{"title": "Bug", "project_path": project})
	bugID := extractID(t, addResult, "Bug created: ")

	p.Execute(context.Background(), "update_bug", map[string]interface{}{
		"bug_id": bugID, "status": "in_progress", "note": "Starting work", "project_path": project,
	})

	getResult, _ := p.Execute(context.Background(), "get_bug", map[string]interface{}{"bug_id": bugID, "project_path": project})
	var bug Bug
	json.Unmarshal([]byte(getResult.Content[0].Text), &bug)
	if bug.Status != "in_progress" {
		t.Fatalf("expected status 'in_progress', got %q", bug.Status)
	}
	if len(bug.History) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(bug.History))
	}
	if bug.History[0].Changes["status"] != [2]string{"open", "in_progress"} {
		t.Fatalf("unexpected status change: %+v", bug.History[0].Changes)
	}
}

func TestBugstore_UpdateBugNoteOnlyHasEmptyChanges(t *testing.T) {
	withHome(t)
	project := t.TempDir()
	p := New()
	defer p.Cleanup(context.Background())

	p.Execute(context.Background(), "init_bugtracker", map[string]interface{}{"project_path": project})
	addResult, _ := p.Execute(context.Background(), "add_bug", map[string]interface{}{"title": "Bug", "project_path": project})
	bugID := extractID(t, addResult, "Bug created: ")

	p.Execute(context.Background(), "update_bug", map[string]interface{}{
		"bug_id": bugID, "note": "Tried X, didn't work.", "project_path": project,
	})

	getResult, _ := p.Execute(context.Background(), "get_bug", map[string]interface{}{"bug_id": bugID, "project_path": project})
	var bug Bug
	json.Unmarshal([]byte(getResult.Content[0].Text), &bug)
	if len(bug.History) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(bug.History))
	}
	if len(bug.History[0].Changes) != 0 {
		t.Fatalf("expected empty changes, got %+v", bug.History[0].Changes)
	}
}

func TestBugstore_UpdateBugNotFound(t *testing.T) {
	withHome(t)
	project := t.TempDir()
	p := New()
	defer p.Cleanup(context.Background())

	p.Execute(context.Background(), "init_bugtracker", map[string]interface{}{"project_path": project})
	result, _ := p.Execute(context.Background(), "update_bug", map[string]interface{}{"bug_id": "nonexistent", "status": "closed", "project_path": project})
	if !result.IsError {
		t.Fatal("expected error for nonexistent bug")
	}
}

func TestBugstore_UpdateBugRelatedBugs(t *testing.T) {
	withHome(t)
	project := t.TempDir()
	p := New()
	defer p.Cleanup(context.Background())

	p.Execute(context.Background(), "init_bugtracker", map[string]interface{}{"project_path": project})
	add1, _ := p.Execute(context.Background(), "add_bug", map[string]interface{}{"title": "Bug 1", "project_path": project})
	bug1ID := extractID(t, add1, "Bug created: ")
	add2, _ := p.Execute(context.Background(), "add_bug", map[string]interface{}{"title": "Bug 2", "project_path": project})
	bug2ID := extractID(t, add2, "Bug created: ")

	p.Execute(context.Background(), "update_bug", map[string]interface{}{
		"bug_id": bug2ID,
		"related_bugs": []interface{}{
			map[string]interface{}{"bug_id": bug1ID, "relationship": "duplicate_of"},
		},
		"note": "duplicate", "project_path": project,
	})

	getResult, _ := p.Execute(context.Background(), "get_bug", map[string]interface{}{"bug_id": bug2ID, "project_path": project})
	var bug Bug
	json.Unmarshal([]byte(getResult.Content[0].Text), &bug)
	if len(bug.RelatedBugs) != 1 || bug.RelatedBugs[0].BugID != bug1ID || bug.RelatedBugs[0].Relationship != "duplicate_of" {
		t.Fatalf("unexpected related bugs: %+v", bug.RelatedBugs)
	}
}

func TestBugstore_CloseBugAndReopen(t *testing.T) {
	withHome(t)
	project := t.TempDir()
	p := New()
	defer p.Cleanup(context.Background())

	p.Execute(context.Background(), "init_bugtracker", map[string]interface{}{"project_path": project})
	addResult, _ := p.Execute(context.Background(), "add_bug", map[string]interface{}{"title": "Bug", "project_path": project})
	bugID := extractID(t, addResult, "Bug created: ")

	closeResult, err := p.Execute(context.Background(), "close_bug", map[string]interface{}{
		"bug_id": bugID, "resolution": "Deployed hotfix v2.1.3", "project_path": project,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closeResult.IsError {
		t.Fatalf("unexpected error result: %+v", closeResult)
	}

	getResult, _ := p.Execute(context.Background(), "get_bug", map[string]interface{}{"bug_id": bugID, "project_path": project})
	var bug Bug
	json.Unmarshal([]byte(getResult.Content[0].Text), &bug)
	if bug.Status != "closed" {
		t.Fatalf("expected status 'closed', got %q", bug.Status)
	}
	if len(bug.History) != 1 || bug.History[0].Note != "Deployed hotfix v2.1.3" {
		t.Fatalf("expected resolution recorded in history, got %+v", bug.History)
	}

	p.Execute(context.Background(), "update_bug", map[string]interface{}{
		"bug_id": bugID, "status": "open", "note": "Regression", "project_path": project,
	})
	getResult, _ = p.Execute(context.Background(), "get_bug", map[string]interface{}{"bug_id": bugID, "project_path": project})
	json.Unmarshal([]byte(getResult.Content[0].Text), &bug)
	if bug.Status != "open" {
		t.Fatalf("expected reopened bug to be 'open', got %q", bug.Status)
	}
	if len(bug.History) != 2 {
		t.Fatalf("expected 2 history entries after reopen, got %d", len(bug.History))
	}
}

func TestBugstore_CloseBugNotFound(t *testing.T) {
	withHome(t)
	project := t.TempDir()
	p := New()
	defer p.Cleanup(context.Background())

	p.Execute(context.Background(), "init_bugtracker", map[string]interface{}{"project_path": project})
	result, _ := p.Execute(context.Background(), "close_bug", map[string]interface{}{"bug_id": "nonexistent", "project_path": project})
	if !result.IsError {
		t.Fatal("expected error for nonexistent bug")
	}
}

func TestBugstore_ListBugsFilters(t *testing.T) {
	withHome(t)
	project := t.TempDir()
	p := New()
	defer p.Cleanup(context.Background())

	p.Execute(context.Background(), "init_bugtracker", map[string]interface{}{"project_path": project})
	p.Execute(context.Background(), "add_bug", map[string]interface{}{"title": "Backend only", "tags": []interface{}{"backend"}, "project_path": project})
	p.Execute(context.Background(), "add_bug", map[string]interface{}{"title": "Frontend only", "tags": []interface{}{"frontend"}, "project_path": project})
	p.Execute(context.Background(), "add_bug", map[string]interface{}{"title": "Both", "tags": []interface{}{"backend", "frontend"}, "project_path": project})

	result, err := p.Execute(context.Background(), "list_bugs", map[string]interface{}{"tags": []interface{}{"backend"}, "project_path": project})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var bugs []Bug
	json.Unmarshal([]byte(result.Content[0].Text), &bugs)
	if len(bugs) != 2 {
		t.Fatalf("expected 2 bugs tagged backend, got %d", len(bugs))
	}

	result, _ = p.Execute(context.Background(), "list_bugs", map[string]interface{}{
		"tags": []interface{}{"backend", "frontend"}, "project_path": project,
	})
	json.Unmarshal([]byte(result.Content[0].Text), &bugs)
	if len(bugs) != 1 || bugs[0].Title != "Both" {
		t.Fatalf("expected only 'Both', got %+v", bugs)
	}
}

func TestBugstore_ListBugsCombinedStatusAndPriority(t *testing.T) {
	withHome(t)
	project := t.TempDir()
	p := New()
	defer p.Cleanup(context.Background())

	p.Execute(context.Background(), "init_bugtracker", map[string]interface{}{"project_path": project})
	p.Execute(context.Background(), "add_bug", map[string]interface{}{"title": "A", "priority": "critical", "project_path": project})
	add2, _ := p.Execute(context.Background(), "add_bug", map[string]interface{}{"title": "B", "priority": "critical", "project_path": project})
	bug2ID := extractID(t, add2, "Bug created: ")
	p.Execute(context.Background(), "close_bug", map[string]interface{}{"bug_id": bug2ID, "project_path": project})
	p.Execute(context.Background(), "add_bug", map[string]interface{}{"title": "C", "priority": "low", "project_path": project})

	result, _ := p.Execute(context.Background(), "list_bugs", map[string]interface{}{
		"status": "open", "priority": "critical", "project_path": project,
	})
	var bugs []Bug
	json.Unmarshal([]byte(result.Content[0].Text), &bugs)
	if len(bugs) != 1 || bugs[0].Title != "A" {
		t.Fatalf("expected only bug 'A', got %+v", bugs)
	}
}

func TestBugstore_SearchBugsGlobalAcrossProjects(t *testing.T) {
	withHome(t)
	project1 := t.TempDir()
	project2 := t.TempDir()
	p := New()
	defer p.Cleanup(context.Background())

	p.Execute(context.Background(), "init_bugtracker", map[string]interface{}{"project_path": project1})
	p.Execute(context.Background(), "init_bugtracker", map[string]interface{}{"project_path": project2})

	p.Execute(context.Background(), "add_bug", map[string]interface{}{"title": "Auth bug", "tags": []interface{}{"auth"}, "project_path": project1})
	p.Execute(context.Background(), "add_bug", map[string]interface{}{"title": "UI bug", "tags": []interface{}{"frontend"}, "project_path": project1})
	p.Execute(context.Background(), "add_bug", map[string]interface{}{"title": "API auth issue", "tags": []interface{}{"auth"}, "project_path": project2})

	result, err := p.Execute(context.Background(), "search_bugs_global", map[string]interface{}{"tags": []interface{}{"auth"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var entries []map[string]interface{}
	if err := json.Unmarshal([]byte(result.Content[0].Text), &entries); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 matching bugs across projects, got %d", len(entries))
	}
	for _, e := range entries {
		if _, ok := e["project_path"]; !ok {
			t.Fatalf("expected project_path on each result, got %+v", e)
		}
	}
}

func TestBugstore_SearchBugsGlobalNoIndexedProjects(t *testing.T) {
	withHome(t)
	p := New()
	defer p.Cleanup(context.Background())

	result, err := p.Execute(context.Background(), "search_bugs_global", map[string]interface{}{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}
	var entries []map[string]interface{}
	json.Unmarshal([]byte(result.Content[0].Text), &entries)
	if len(entries) != 0 {
		t.Fatalf("expected no results, got %+v", entries)
	}
}

func TestBugstore_UsesWALMode(t *testing.T) {
	withHome(t)
	project := t.TempDir()
	p := New()

	p.Execute(context.Background(), "init_bugtracker", map[string]interface{}{"project_path": project})
	p.Cleanup(context.Background())

	store, err := Open(filepath.Join(project, ".bugtracker", "bugs.db"))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer store.Close()

	var mode string
	if err := store.db.QueryRow("PRAGMA journal_mode;").Scan(&mode); err != nil {
		t.Fatalf("pragma query failed: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected WAL mode, got %q", mode)
	}
}
