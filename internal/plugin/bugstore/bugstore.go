// Package bugstore implements a project-scoped bug tracker: one sqlite file
// per project directory under a ".bugtracker" subdirectory, plus a small
// home-directory index so search_bugs_global can sweep every project a
// caller has ever initialized. Grounded on original_source's
// src/mcp_secure_server/plugins/bugtracker.py and tests/test_bugtracker.py
// (the source files themselves are stub headers with no class body — the
// test suite is the only surviving record of the intended behavior, so the
// tool names, argument shapes, and history-diff semantics below are
// reconstructed from tests/test_bugtracker.py rather than translated from
// a Python implementation).
package bugstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/gatekeep/gatekeep/internal/domain/tool"
)

const (
	bugtrackerDirName = ".bugtracker"
	dbFileName        = "bugs.db"
	indexDirName      = ".gatekeep"
	indexFileName     = "bugtracker_index.json"
)

// RelatedBug links a bug to another by relationship (e.g. "blocks",
// "duplicate_of", "related_to").
type RelatedBug struct {
	BugID        string `json:"bug_id"`
	Relationship string `json:"relationship"`
}

// HistoryEntry records one change to a bug: the fields that moved (old,
// new) plus a free-form note. Changes is never nil so it serializes as
// {} rather than null for note-only updates.
type HistoryEntry struct {
	Timestamp string               `json:"timestamp"`
	Changes   map[string][2]string `json:"changes"`
	Note      string               `json:"note"`
}

// Bug is the full record stored and returned by every tool in this
// plugin.
type Bug struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description *string        `json:"description"`
	Status      string         `json:"status"`
	Priority    string         `json:"priority"`
	Tags        []string       `json:"tags"`
	RelatedBugs []RelatedBug   `json:"related_bugs"`
	CreatedAt   string         `json:"created_at"`
	History     []HistoryEntry `json:"history"`
}

func (b *Bug) hasAllTags(want []string) bool {
	have := make(map[string]bool, len(b.Tags))
	for _, t := range b.Tags {
		have[t] = true
	}
	for _, w := range want {
		if !have[w] {
			return false
		}
	}
	return true
}

// Store is the sqlite-backed persistence layer for a single project's
// bugs.db. One Store exists per initialized project; Plugin caches them
// keyed by resolved project path.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite file at path, enables WAL
// mode for concurrent readers, and ensures the bugs table exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open bug store: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS bugs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	priority   TEXT NOT NULL,
	created_at TEXT NOT NULL,
	data       TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bugs table: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) AddBug(bug *Bug) error {
	data, err := json.Marshal(bug)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		"INSERT INTO bugs (id, status, priority, created_at, data) VALUES (?, ?, ?, ?, ?)",
		bug.ID, bug.Status, bug.Priority, bug.CreatedAt, string(data),
	)
	return err
}

func (s *Store) UpdateBug(bug *Bug) error {
	data, err := json.Marshal(bug)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		"UPDATE bugs SET status = ?, priority = ?, data = ? WHERE id = ?",
		bug.Status, bug.Priority, string(data), bug.ID,
	)
	return err
}

func (s *Store) GetBug(id string) (*Bug, error) {
	var data string
	err := s.db.QueryRow("SELECT data FROM bugs WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var bug Bug
	if err := json.Unmarshal([]byte(data), &bug); err != nil {
		return nil, err
	}
	return &bug, nil
}

// ListBugs returns bugs matching status and priority (applied in SQL when
// non-empty) and tags (applied in Go: a bug must carry every listed tag).
func (s *Store) ListBugs(status, priority string, tags []string) ([]*Bug, error) {
	query := "SELECT data FROM bugs"
	var args []interface{}
	var conditions []string
	if status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, status)
	}
	if priority != "" {
		conditions = append(conditions, "priority = ?")
		args = append(args, priority)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bugs := make([]*Bug, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var bug Bug
		if err := json.Unmarshal([]byte(data), &bug); err != nil {
			return nil, err
		}
		if len(tags) > 0 && !bug.hasAllTags(tags) {
			continue
		}
		bugs = append(bugs, &bug)
	}
	return bugs, rows.Err()
}

// index is the central record, under the caller's home directory, of
// every project this plugin has ever initialized. search_bugs_global
// sweeps it so a query can span projects without the caller naming each
// one.
type index struct {
	Projects []string `json:"projects"`
}

func indexPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, indexDirName, indexFileName), nil
}

func readIndex() (*index, error) {
	path, err := indexPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &index{Projects: []string{}}, nil
	}
	if err != nil {
		return nil, err
	}
	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, err
	}
	return &idx, nil
}

func registerProject(projectPath string) error {
	path, err := indexPath()
	if err != nil {
		return err
	}
	idx, err := readIndex()
	if err != nil {
		return err
	}
	for _, p := range idx.Projects {
		if p == projectPath {
			return nil
		}
	}
	idx.Projects = append(idx.Projects, projectPath)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Plugin is the bug tracker plugin. It caches one *Store per resolved
// project path so repeated calls against the same project reuse the
// connection instead of reopening bugs.db every time.
type Plugin struct {
	mu     sync.Mutex
	stores map[string]*Store
}

func New() *Plugin {
	return &Plugin{stores: make(map[string]*Store)}
}

func (p *Plugin) Name() string    { return "bugstore" }
func (p *Plugin) Version() string { return "1.0.0" }

func (p *Plugin) Tools() []tool.Definition {
	pathProp := map[string]interface{}{
		"type":        "string",
		"description": "Project directory (default: current working directory)",
	}
	return []tool.Definition{
		{
			Name:             "init_bugtracker",
			Description:      "Initialize a bug tracker for a project directory.",
			Aliases:          []string{"init_tracker", "create_bugtracker"},
			IntentCategories: []string{"issue_tracking"},
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"project_path": pathProp},
			},
		},
		{
			Name:             "add_bug",
			Description:      "File a new bug in the project's bug tracker.",
			Aliases:          []string{"file_bug", "create_bug", "report_bug"},
			IntentCategories: []string{"issue_tracking", "defect_tracking"},
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"title":        map[string]interface{}{"type": "string", "description": "Short bug title"},
					"description":  map[string]interface{}{"type": "string", "description": "Detailed description"},
					"priority":     map[string]interface{}{"type": "string", "enum": []string{"low", "medium", "high", "critical"}, "default": "medium"},
					"tags":         map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
					"project_path": pathProp,
				},
				"required": []string{"title"},
			},
		},
		{
			Name:             "get_bug",
			Description:      "Retrieve a single bug by ID.",
			Aliases:          []string{"fetch_bug", "show_bug"},
			IntentCategories: []string{"issue_tracking"},
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"bug_id":       map[string]interface{}{"type": "string"},
					"project_path": pathProp,
				},
				"required": []string{"bug_id"},
			},
		},
		{
			Name:             "update_bug",
			Description:      "Update a bug's status, priority, tags, or related bugs, recording the change in its history.",
			Aliases:          []string{"edit_bug", "modify_bug"},
			IntentCategories: []string{"issue_tracking", "defect_tracking"},
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"bug_id":       map[string]interface{}{"type": "string"},
					"status":       map[string]interface{}{"type": "string", "enum": []string{"open", "in_progress", "closed"}},
					"priority":     map[string]interface{}{"type": "string", "enum": []string{"low", "medium", "high", "critical"}},
					"tags":         map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
					"related_bugs": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "object"}},
					"note":         map[string]interface{}{"type": "string", "description": "Progress note recorded in history"},
					"project_path": pathProp,
				},
				"required": []string{"bug_id"},
			},
		},
		{
			Name:             "close_bug",
			Description:      "Mark a bug closed, recording its resolution in history.",
			Aliases:          []string{"resolve_bug", "fix_bug"},
			IntentCategories: []string{"issue_tracking", "defect_tracking"},
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"bug_id":       map[string]interface{}{"type": "string"},
					"resolution":   map[string]interface{}{"type": "string"},
					"project_path": pathProp,
				},
				"required": []string{"bug_id"},
			},
		},
		{
			Name:             "list_bugs",
			Description:      "List bugs in a project, optionally filtered by status, priority, or tags (all listed tags must be present).",
			Aliases:          []string{"find_bugs"},
			IntentCategories: []string{"issue_tracking"},
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"status":       map[string]interface{}{"type": "string"},
					"priority":     map[string]interface{}{"type": "string"},
					"tags":         map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
					"project_path": pathProp,
				},
			},
		},
		{
			Name:             "search_bugs_global",
			Description:      "Search bugs across every project this plugin has initialized.",
			Aliases:          []string{"search_all_bugs"},
			IntentCategories: []string{"issue_tracking", "defect_tracking"},
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"status":   map[string]interface{}{"type": "string"},
					"priority": map[string]interface{}{"type": "string"},
					"tags":     map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				},
			},
		},
	}
}

func (p *Plugin) Execute(_ context.Context, toolName string, arguments map[string]interface{}) (tool.Result, error) {
	switch toolName {
	case "init_bugtracker":
		return p.initBugtracker(arguments), nil
	case "add_bug":
		return p.addBug(arguments), nil
	case "get_bug":
		return p.getBug(arguments), nil
	case "update_bug":
		return p.updateBug(arguments), nil
	case "close_bug":
		return p.closeBug(arguments), nil
	case "list_bugs":
		return p.listBugs(arguments), nil
	case "search_bugs_global":
		return p.searchBugsGlobal(arguments), nil
	default:
		return tool.ErrorResult("Unknown tool: " + toolName), nil
	}
}

func (p *Plugin) Cleanup(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, s := range p.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.stores = make(map[string]*Store)
	return firstErr
}

// resolveProjectPath validates project_path (defaulting to the current
// working directory) against null-byte injection and traversal outside
// cwd, the same checks internal/domain/validation.SanitizePath applies,
// reordered here so a missing directory reports "does not exist" before
// a traversal attempt reports "escapes".
func resolveProjectPath(arguments map[string]interface{}) (string, error) {
	raw := stringArg(arguments, "project_path")
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}
	if raw == "" {
		return cwd, nil
	}
	if strings.ContainsRune(raw, 0) {
		return "", fmt.Errorf("project path contains null bytes")
	}

	path := raw
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(cwd, abs)
	}
	abs, err = filepath.Abs(abs)
	if err != nil {
		return "", fmt.Errorf("invalid project path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("project path does not exist: %s", raw)
	}

	resolvedAbs := abs
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		resolvedAbs = real
	}
	baseAbs := cwd
	if real, err := filepath.EvalSymlinks(cwd); err == nil {
		baseAbs = real
	}
	rel, err := filepath.Rel(baseAbs, resolvedAbs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("project path escapes the allowed directory: %s", raw)
	}
	return abs, nil
}

// getStore opens (or reuses a cached) Store for an already-initialized
// project. It returns nil, nil if the project has no ".bugtracker" yet.
func (p *Plugin) getStore(projectPath string) (*Store, error) {
	dbPath := filepath.Join(projectPath, bugtrackerDirName, dbFileName)
	if _, err := os.Stat(dbPath); err != nil {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.stores[projectPath]; ok {
		return s, nil
	}
	s, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	p.stores[projectPath] = s
	return s, nil
}

func (p *Plugin) initBugtracker(arguments map[string]interface{}) tool.Result {
	projectPath, err := resolveProjectPath(arguments)
	if err != nil {
		return tool.ErrorResult(err.Error())
	}

	bugtrackerDir := filepath.Join(projectPath, bugtrackerDirName)
	if _, err := os.Stat(bugtrackerDir); err == nil {
		return tool.ErrorResult(fmt.Sprintf("Project already initialized at %s", projectPath))
	}
	if err := os.MkdirAll(bugtrackerDir, 0o755); err != nil {
		return tool.ErrorResult("Failed to create bug tracker directory: " + err.Error())
	}

	dbPath := filepath.Join(bugtrackerDir, dbFileName)
	store, err := Open(dbPath)
	if err != nil {
		return tool.ErrorResult("Failed to create bug database: " + err.Error())
	}

	p.mu.Lock()
	p.stores[projectPath] = store
	p.mu.Unlock()

	if err := registerProject(projectPath); err != nil {
		return tool.ErrorResult("Failed to register project: " + err.Error())
	}

	return tool.TextResult(fmt.Sprintf("Bug tracker initialized at %s", projectPath))
}

func (p *Plugin) addBug(arguments map[string]interface{}) tool.Result {
	title := stringArg(arguments, "title")
	if title == "" {
		return tool.ErrorResult("title is required")
	}

	projectPath, err := resolveProjectPath(arguments)
	if err != nil {
		return tool.ErrorResult(err.Error())
	}
	store, err := p.getStore(projectPath)
	if err != nil {
		return tool.ErrorResult("Internal error: " + err.Error())
	}
	if store == nil {
		return tool.ErrorResult("Bug tracker not initialized for this project")
	}

	priority := stringArg(arguments, "priority")
	if priority == "" {
		priority = "medium"
	}

	bug := &Bug{
		ID:          "bug-" + uuid.NewString()[:8],
		Title:       title,
		Status:      "open",
		Priority:    priority,
		Tags:        stringSliceArg(arguments, "tags"),
		RelatedBugs: []RelatedBug{},
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		History:     []HistoryEntry{},
	}
	if desc := stringArg(arguments, "description"); desc != "" {
		bug.Description = &desc
	}
	if bug.Tags == nil {
		bug.Tags = []string{}
	}

	if err := store.AddBug(bug); err != nil {
		return tool.ErrorResult("Failed to add bug: " + err.Error())
	}
	return tool.TextResult("Bug created: " + bug.ID)
}

func (p *Plugin) getBug(arguments map[string]interface{}) tool.Result {
	bugID := stringArg(arguments, "bug_id")
	if bugID == "" {
		return tool.ErrorResult("bug_id is required")
	}

	projectPath, err := resolveProjectPath(arguments)
	if err != nil {
		return tool.ErrorResult(err.Error())
	}
	store, err := p.getStore(projectPath)
	if err != nil {
		return tool.ErrorResult("Internal error: " + err.Error())
	}
	if store == nil {
		return tool.ErrorResult("Bug tracker not initialized for this project")
	}

	bug, err := store.GetBug(bugID)
	if err != nil {
		return tool.ErrorResult("Internal error: " + err.Error())
	}
	if bug == nil {
		return tool.ErrorResult("Bug not found: " + bugID)
	}
	return tool.TextResult(mustJSON(bug))
}

func (p *Plugin) updateBug(arguments map[string]interface{}) tool.Result {
	bugID := stringArg(arguments, "bug_id")
	if bugID == "" {
		return tool.ErrorResult("bug_id is required")
	}

	projectPath, err := resolveProjectPath(arguments)
	if err != nil {
		return tool.ErrorResult(err.Error())
	}
	store, err := p.getStore(projectPath)
	if err != nil {
		return tool.ErrorResult("Internal error: " + err.Error())
	}
	if store == nil {
		return tool.ErrorResult("Bug tracker not initialized for this project")
	}

	bug, err := store.GetBug(bugID)
	if err != nil {
		return tool.ErrorResult("Internal error: " + err.Error())
	}
	if bug == nil {
		return tool.ErrorResult("Bug not found: " + bugID)
	}

	changes := map[string][2]string{}
	if status := stringArg(arguments, "status"); status != "" && status != bug.Status {
		changes["status"] = [2]string{bug.Status, status}
		bug.Status = status
	}
	if priority := stringArg(arguments, "priority"); priority != "" && priority != bug.Priority {
		changes["priority"] = [2]string{bug.Priority, priority}
		bug.Priority = priority
	}
	if tags := stringSliceArg(arguments, "tags"); tags != nil {
		bug.Tags = tags
	}
	if related, ok := arguments["related_bugs"].([]interface{}); ok {
		bug.RelatedBugs = decodeRelatedBugs(related)
	}

	bug.History = append(bug.History, HistoryEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Changes:   changes,
		Note:      stringArg(arguments, "note"),
	})

	if err := store.UpdateBug(bug); err != nil {
		return tool.ErrorResult("Failed to update bug: " + err.Error())
	}
	return tool.TextResult("Bug updated: " + bug.ID)
}

func (p *Plugin) closeBug(arguments map[string]interface{}) tool.Result {
	bugID := stringArg(arguments, "bug_id")
	if bugID == "" {
		return tool.ErrorResult("bug_id is required")
	}

	projectPath, err := resolveProjectPath(arguments)
	if err != nil {
		return tool.ErrorResult(err.Error())
	}
	store, err := p.getStore(projectPath)
	if err != nil {
		return tool.ErrorResult("Internal error: " + err.Error())
	}
	if store == nil {
		return tool.ErrorResult("Bug tracker not initialized for this project")
	}

	bug, err := store.GetBug(bugID)
	if err != nil {
		return tool.ErrorResult("Internal error: " + err.Error())
	}
	if bug == nil {
		return tool.ErrorResult("Bug not found: " + bugID)
	}

	resolution := stringArg(arguments, "resolution")
	note := resolution
	if note == "" {
		note = "Closed"
	}
	changes := map[string][2]string{}
	if bug.Status != "closed" {
		changes["status"] = [2]string{bug.Status, "closed"}
	}
	bug.Status = "closed"
	bug.History = append(bug.History, HistoryEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Changes:   changes,
		Note:      note,
	})

	if err := store.UpdateBug(bug); err != nil {
		return tool.ErrorResult("Failed to close bug: " + err.Error())
	}
	return tool.TextResult("Bug closed: " + bug.ID)
}

func (p *Plugin) listBugs(arguments map[string]interface{}) tool.Result {
	projectPath, err := resolveProjectPath(arguments)
	if err != nil {
		return tool.ErrorResult(err.Error())
	}
	store, err := p.getStore(projectPath)
	if err != nil {
		return tool.ErrorResult("Internal error: " + err.Error())
	}
	if store == nil {
		return tool.ErrorResult("Bug tracker not initialized for this project")
	}

	bugs, err := store.ListBugs(stringArg(arguments, "status"), stringArg(arguments, "priority"), stringSliceArg(arguments, "tags"))
	if err != nil {
		return tool.ErrorResult("Internal error: " + err.Error())
	}
	return tool.TextResult(mustJSON(bugs))
}

func (p *Plugin) searchBugsGlobal(arguments map[string]interface{}) tool.Result {
	idx, err := readIndex()
	if err != nil {
		return tool.ErrorResult("Internal error: " + err.Error())
	}

	status := stringArg(arguments, "status")
	priority := stringArg(arguments, "priority")
	tags := stringSliceArg(arguments, "tags")

	results := make([]map[string]interface{}, 0)
	for _, projectPath := range idx.Projects {
		store, err := p.getStore(projectPath)
		if err != nil || store == nil {
			continue
		}
		bugs, err := store.ListBugs(status, priority, tags)
		if err != nil {
			continue
		}
		for _, bug := range bugs {
			entry := bugToMap(bug)
			entry["project_path"] = projectPath
			results = append(results, entry)
		}
	}
	return tool.TextResult(mustJSON(results))
}

func bugToMap(bug *Bug) map[string]interface{} {
	data, _ := json.Marshal(bug)
	var m map[string]interface{}
	_ = json.Unmarshal(data, &m)
	return m
}

func decodeRelatedBugs(raw []interface{}) []RelatedBug {
	out := make([]RelatedBug, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		bugID, _ := m["bug_id"].(string)
		relationship, _ := m["relationship"].(string)
		out = append(out, RelatedBug{BugID: bugID, Relationship: relationship})
	}
	return out
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

func mustJSON(v interface{}) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "null"
	}
	return string(data)
}
