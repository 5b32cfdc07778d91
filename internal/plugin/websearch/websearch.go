// Package websearch provides a web_search tool backed by DuckDuckGo Lite.
// Grounded on original_source's src/mcp_secure_server/plugins/websearch.py
// WebSearchPlugin, translated from its httpx client + regex HTML scrape to
// net/http and regexp.
package websearch

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gatekeep/gatekeep/internal/domain/tool"
)

const (
	duckDuckGoLiteURL = "https://lite.duckduckgo.com/lite/"
	userAgent         = "gatekeep/1.0 (Web Search Plugin)"
	defaultMaxResults = 5
)

// URLValidator gates an outbound URL against network policy before the
// plugin is allowed to fetch it. Satisfied by an adapter over
// security.Engine at wiring time; the plugin itself never imports the
// security package, per spec.md §6.5 ("plugins ... must invoke the engine
// themselves to obtain sanitized values").
type URLValidator interface {
	ValidateURL(ctx context.Context, rawURL string) error
}

// Plugin is the web search plugin.
type Plugin struct {
	client    *http.Client
	validator URLValidator
}

// New wraps validator, the network-policy gate consulted before every
// outbound request.
func New(validator URLValidator) *Plugin {
	return &Plugin{
		client:    &http.Client{Timeout: 10 * time.Second},
		validator: validator,
	}
}

func (p *Plugin) Name() string    { return "websearch" }
func (p *Plugin) Version() string { return "1.0.0" }

func (p *Plugin) Tools() []tool.Definition {
	return []tool.Definition{
		{
			Name:             "web_search",
			Description:      "Search the web using DuckDuckGo. Returns titles, URLs, and snippets.",
			Aliases:          []string{"search_web", "duckduckgo_search"},
			IntentCategories: []string{"research", "fact_finding"},
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "The search query",
						"maxLength":   500,
					},
					"max_results": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum number of results to return (default: 5)",
						"default":     5,
						"minimum":     1,
						"maximum":     20,
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

func (p *Plugin) Execute(ctx context.Context, toolName string, arguments map[string]interface{}) (tool.Result, error) {
	if toolName != "web_search" {
		return tool.ErrorResult("Unknown tool: " + toolName), nil
	}

	query, _ := arguments["query"].(string)
	maxResults := intArg(arguments, "max_results", defaultMaxResults)

	if err := p.validator.ValidateURL(ctx, duckDuckGoLiteURL); err != nil {
		return tool.ErrorResult(err.Error()), nil
	}

	text, err := p.search(ctx, query, maxResults)
	if err != nil {
		return tool.ErrorResult(classifySearchError(err)), nil
	}
	return tool.TextResult(text), nil
}

func (p *Plugin) search(ctx context.Context, query string, maxResults int) (string, error) {
	values := url.Values{"q": {query}, "kl": {"us-en"}}
	reqURL := duckDuckGoLiteURL + "?" + values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &httpStatusError{status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	results := parseResults(string(body), maxResults)
	if len(results) == 0 {
		return "No results found for: " + query, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search results for: %s\n\n", query)
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. %s\n   URL: %s\n   %s", i+1, r.title, r.url, r.snippet)
	}
	return b.String(), nil
}

type httpStatusError struct{ status int }

func (e *httpStatusError) Error() string { return fmt.Sprintf("http status %d", e.status) }

func classifySearchError(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Search timed out. Please try again."
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("Search failed (HTTP %d)", statusErr.status)
	}
	return "Search failed. Please try again later."
}

type searchResult struct {
	title   string
	url     string
	snippet string
}

var (
	resultPattern     = regexp.MustCompile(`(?i)<a[^>]*class="[^"]*result[^"]*"[^>]*href="([^"]+)"[^>]*>([^<]+)</a>`)
	snippetPattern    = regexp.MustCompile(`(?i)<a[^>]*class="[^"]*snippet[^"]*"[^>]*>([^<]+)</a>`)
	linkPattern       = regexp.MustCompile(`(?i)<a[^>]*rel="nofollow"[^>]*href="([^"]+)"[^>]*>([^<]+)</a>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

func parseResults(body string, maxResults int) []searchResult {
	links := resultPattern.FindAllStringSubmatch(body, -1)
	if len(links) == 0 {
		links = linkPattern.FindAllStringSubmatch(body, -1)
	}
	snippets := snippetPattern.FindAllStringSubmatch(body, -1)

	var results []searchResult
	for i, link := range links {
		if i >= maxResults {
			break
		}
		snippet := ""
		if i < len(snippets) {
			snippet = snippets[i][1]
		}
		results = append(results, searchResult{
			title:   cleanText(link[2]),
			url:     link[1],
			snippet: cleanText(snippet),
		})
	}
	return results
}

func cleanText(s string) string {
	s = html.UnescapeString(s)
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func intArg(arguments map[string]interface{}, key string, def int) int {
	v, ok := arguments[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}
