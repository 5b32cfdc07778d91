package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/gatekeep/gatekeep/internal/domain/policy"
)

// maxStringLength is the default cap on any string argument value, matching
// the grounding validator's default.
const maxStringLength = 10000

// dangerousPatterns are shell chaining/substitution constructs rejected
// outright in any "command" formatted argument.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`;\s*`),
	regexp.MustCompile(`\|\s*`),
	regexp.MustCompile(`&&`),
	regexp.MustCompile(`\|\|`),
	regexp.MustCompile("`[^`]*`"),
	regexp.MustCompile(`\$\([^)]*\)`),
	regexp.MustCompile(`\$\{[^}]*\}`),
}

// InputValidator runs tool call arguments through two passes: structural
// JSON Schema validation, then security sanitization of any "path" or
// "command" formatted string fields.
type InputValidator struct {
	policy          *policy.Policy
	maxStringLength int
	resolvedAllowed []string
}

// NewInputValidator builds an InputValidator enforcing p.
func NewInputValidator(p *policy.Policy) *InputValidator {
	v := &InputValidator{policy: p, maxStringLength: maxStringLength}
	v.resolvedAllowed = make([]string, 0, len(p.Filesystem.AllowedPaths))
	for _, pattern := range p.Filesystem.AllowedPaths {
		v.resolvedAllowed = append(v.resolvedAllowed, resolveGlobBase(pattern))
	}
	return v
}

// resolveGlobBase resolves the literal portion of a "**"-style glob to an
// absolute path, leaving the glob suffix intact. Patterns without "**" are
// resolved outright. Unresolvable patterns (e.g. containing other globs
// earlier than any separator) are left as-is.
func resolveGlobBase(pattern string) string {
	if idx := strings.Index(pattern, "**"); idx >= 0 {
		base := strings.TrimRight(pattern[:idx], "/")
		suffix := pattern[idx+2:]
		abs, err := filepath.Abs(base)
		if err != nil {
			return pattern
		}
		return abs + "/**" + suffix
	}
	abs, err := filepath.Abs(pattern)
	if err != nil {
		return pattern
	}
	return abs
}

// ValidateToolInput validates arguments against schema, then sanitizes
// every "path" and "command" formatted field, returning the sanitized copy.
func (v *InputValidator) ValidateToolInput(toolName string, schema map[string]interface{}, arguments map[string]interface{}) (map[string]interface{}, error) {
	if err := v.validateSchema(toolName, schema, arguments); err != nil {
		return nil, err
	}
	return v.processArguments(arguments, schema)
}

func (v *InputValidator) validateSchema(toolName string, schema map[string]interface{}, arguments map[string]interface{}) error {
	if len(schema) == 0 {
		return nil
	}

	compiler := jsonschema.NewCompiler()
	resourceName := "tool://" + toolName
	if err := compiler.AddResource(resourceName, schema); err != nil {
		return NewValidationError(ErrCodeInvalidParams, fmt.Sprintf("invalid schema for tool %s: %v", toolName, err))
	}
	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return NewValidationError(ErrCodeInvalidParams, fmt.Sprintf("invalid schema for tool %s: %v", toolName, err))
	}

	if err := compiled.Validate(toGenericMap(arguments)); err != nil {
		return NewValidationError(ErrCodeInvalidParams, fmt.Sprintf("schema validation failed for tool %s: %v", toolName, err))
	}
	return nil
}

// toGenericMap converts a map[string]interface{} to the any-keyed shape
// jsonschema/v6 expects after json.Unmarshal-style decoding.
func toGenericMap(m map[string]interface{}) interface{} {
	return map[string]interface{}(m)
}

// processArguments walks arguments according to schema, recursing into
// nested objects and arrays, sanitizing "path"/"command" string leaves.
func (v *InputValidator) processArguments(arguments map[string]interface{}, schema map[string]interface{}) (map[string]interface{}, error) {
	properties, _ := schema["properties"].(map[string]interface{})

	result := make(map[string]interface{}, len(arguments))
	for key, value := range arguments {
		propSchema, _ := properties[key].(map[string]interface{})

		switch val := value.(type) {
		case map[string]interface{}:
			if propType, _ := propSchema["type"].(string); propType == "object" {
				nested, err := v.processArguments(val, propSchema)
				if err != nil {
					return nil, err
				}
				result[key] = nested
				continue
			}
			result[key] = val
		case []interface{}:
			itemsSchema, _ := propSchema["items"].(map[string]interface{})
			processed := make([]interface{}, len(val))
			for i, item := range val {
				if obj, isObj := item.(map[string]interface{}); isObj {
					if itemType, _ := itemsSchema["type"].(string); itemType == "object" {
						nested, err := v.processArguments(obj, itemsSchema)
						if err != nil {
							return nil, err
						}
						processed[i] = nested
						continue
					}
				}
				p, err := v.processValue(item, itemsSchema, fmt.Sprintf("%s[%d]", key, i))
				if err != nil {
					return nil, err
				}
				processed[i] = p
			}
			result[key] = processed
		default:
			p, err := v.processValue(value, propSchema, key)
			if err != nil {
				return nil, err
			}
			result[key] = p
		}
	}
	return result, nil
}

func (v *InputValidator) processValue(value interface{}, schema map[string]interface{}, field string) (interface{}, error) {
	s, ok := value.(string)
	if !ok {
		return value, nil
	}

	if len(s) > v.maxStringLength {
		return nil, NewValidationError(ErrCodeInvalidParams, fmt.Sprintf("field %q exceeds maximum length of %d", field, v.maxStringLength))
	}

	switch format, _ := schema["format"].(string); format {
	case "path":
		return v.validatePathField(s)
	case "command":
		return v.validateCommandField(s)
	default:
		return s, nil
	}
}

func (v *InputValidator) validatePathField(path string) (string, error) {
	sanitized, err := SanitizePath(path, "")
	if err != nil {
		return "", NewValidationError(ErrCodeInvalidParams, err.Error())
	}

	if v.isPathDenied(sanitized) {
		return "", NewValidationError(ErrCodeInvalidParams, fmt.Sprintf("path is denied by policy: %s", sanitized))
	}
	if len(v.resolvedAllowed) > 0 && !v.isPathAllowed(sanitized) {
		return "", NewValidationError(ErrCodeInvalidParams, fmt.Sprintf("path is not in allowed directories: %s", sanitized))
	}
	return sanitized, nil
}

func (v *InputValidator) isPathAllowed(path string) bool {
	for _, pattern := range v.resolvedAllowed {
		if wildcard.Match(pattern, path) {
			return true
		}
	}
	return false
}

func (v *InputValidator) isPathDenied(path string) bool {
	for _, pattern := range v.policy.Filesystem.DeniedPaths {
		if wildcard.Match(pattern, path) {
			return true
		}
	}
	return false
}

func (v *InputValidator) validateCommandField(command string) (string, error) {
	sanitized, err := SanitizeCommand(command)
	if err != nil {
		return "", NewValidationError(ErrCodeInvalidParams, err.Error())
	}
	if v.policy.IsCommandBlocked(sanitized) {
		return "", NewValidationError(ErrCodeInvalidParams, fmt.Sprintf("command is blocked by policy: %s", command))
	}
	return sanitized, nil
}

// SanitizePath rejects null bytes, expands a leading "~", resolves the path
// to an absolute form (following symlinks when the path exists), and, when
// basePath is non-empty, rejects any result that escapes it.
func SanitizePath(path string, basePath string) (string, error) {
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("path contains null bytes")
	}

	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}

	var resolved string
	if basePath != "" && !filepath.IsAbs(path) {
		resolved = filepath.Join(basePath, path)
	} else {
		resolved = path
	}

	abs, err := filepath.Abs(resolved)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}

	if basePath != "" {
		baseAbs, err := filepath.Abs(basePath)
		if err == nil {
			if real, err := filepath.EvalSymlinks(baseAbs); err == nil {
				baseAbs = real
			}
			rel, err := filepath.Rel(baseAbs, abs)
			if err != nil || strings.HasPrefix(rel, "..") {
				return "", fmt.Errorf("path traversal detected: %s escapes %s", path, basePath)
			}
		}
	}

	return abs, nil
}

// SanitizeCommand trims command and rejects it outright if it contains any
// shell chaining or substitution pattern.
func SanitizeCommand(command string) (string, error) {
	command = strings.TrimSpace(command)
	for _, pattern := range dangerousPatterns {
		if pattern.MatchString(command) {
			return "", fmt.Errorf("command contains blocked metacharacter/pattern: %s", pattern.String())
		}
	}
	return command, nil
}
