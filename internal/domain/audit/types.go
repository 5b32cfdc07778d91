// Package audit contains the domain types for gatekeep's audit trail:
// three record shapes (request, response, security), redaction of sensitive
// argument values, and a stable per-record fingerprint.
package audit

import (
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Record kinds, one per spec event shape.
const (
	KindRequest  = "request"
	KindResponse = "response"
	KindSecurity = "security"
)

// Record is a single JSON-Lines audit entry. Which fields are populated
// depends on Kind: a "request" record carries Tool/Arguments, a "response"
// record carries Tool/Result/Error, a "security" record carries EventType
// and Details.
type Record struct {
	// Kind is one of KindRequest, KindResponse, KindSecurity.
	Kind string `json:"kind"`
	// Timestamp is ISO-8601 UTC with millisecond precision, "...Z" suffix.
	Timestamp string `json:"timestamp"`
	// RequestID correlates a request, its response, and any security events
	// it triggered.
	RequestID string `json:"request_id,omitempty"`

	// Tool is the tool name (request/response records).
	Tool string `json:"tool,omitempty"`
	// Arguments are the tool call arguments, redacted (request records).
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	// Result is the tool call result content (response records).
	Result interface{} `json:"result,omitempty"`
	// Error is the sanitized error message, if the call failed (response records).
	Error string `json:"error,omitempty"`
	// ResultStatus is "success" or "error" (response records).
	ResultStatus string `json:"result_status,omitempty"`
	// ExecutionTimeMs is how long the tool call took to execute, in
	// milliseconds (response records).
	ExecutionTimeMs float64 `json:"execution_time_ms,omitempty"`

	// EventType names the kind of security event, e.g. "network_blocked",
	// "url_blocked", "rate_limit_exceeded", "input_validation_failed"
	// (security records).
	EventType string `json:"event_type,omitempty"`
	// Details carries event-type-specific context (security records).
	Details map[string]interface{} `json:"details,omitempty"`

	// Fingerprint is a stable xxhash of the record's logical content,
	// computed when the record is built. It is not written to the log line,
	// so a record decoded from the file has a zero Fingerprint.
	Fingerprint uint64 `json:"-"`
}

// timestampLayout produces "2006-01-02T15:04:05.000Z" — ISO-8601 UTC with
// millisecond precision and a literal Z, matching the original's
// datetime.now(UTC).isoformat().replace("+00:00", "Z").
const timestampLayout = "2006-01-02T15:04:05.000Z"

// Timestamp formats t as gatekeep's audit timestamp.
func Timestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// sensitiveKeyPatterns are case-insensitive substrings that mark an
// argument key as carrying a secret. Matches SPEC_FULL §4.6 /
// original_source's SENSITIVE_PATTERNS.
var sensitiveKeyPatterns = []string{
	"password", "secret", "token", "auth", "credential",
	"api_key", "apikey", "api-key",
	"private_key", "privatekey", "private-key",
}

// isSensitiveKey reports whether key looks like it names a secret.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, pat := range sensitiveKeyPatterns {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}

const redactedPlaceholder = "[REDACTED]"

// Redact returns a copy of v with every map value whose key looks sensitive
// replaced by a placeholder. Unlike the original Python implementation
// (which only recurses into nested dicts), this recurses into slices too,
// so a secret nested inside an argument array is redacted as well.
func Redact(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			if isSensitiveKey(k) {
				out[k] = redactedPlaceholder
			} else {
				out[k] = Redact(inner)
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = Redact(inner)
		}
		return out
	default:
		return val
	}
}

// fingerprintOf hashes the logical content of a record (kind, timestamp,
// tool, request id) so a replayed line can be recognized without a second
// full-content comparison.
func fingerprintOf(r Record) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(r.Kind)
	_, _ = h.WriteString(r.Timestamp)
	_, _ = h.WriteString(r.RequestID)
	_, _ = h.WriteString(r.Tool)
	_, _ = h.WriteString(r.EventType)
	return h.Sum64()
}

// NewRequestRecord builds a request record with arguments redacted and the
// fingerprint computed.
func NewRequestRecord(requestID, tool string, arguments map[string]interface{}, at time.Time) Record {
	r := Record{
		Kind:      KindRequest,
		Timestamp: Timestamp(at),
		RequestID: requestID,
		Tool:      tool,
		Arguments: redactArguments(arguments),
	}
	r.Fingerprint = fingerprintOf(r)
	return r
}

// Result status values for a response record, matching original_source's
// AuditLogger.log_response(request_id, status, duration_ms).
const (
	ResultStatusSuccess = "success"
	ResultStatusError   = "error"
)

// NewResponseRecord builds a response record. executionTimeMs is the
// wall-clock duration of the tool call in milliseconds.
func NewResponseRecord(requestID, tool string, result interface{}, errMsg string, executionTimeMs float64, at time.Time) Record {
	status := ResultStatusSuccess
	if errMsg != "" {
		status = ResultStatusError
	}
	r := Record{
		Kind:            KindResponse,
		Timestamp:       Timestamp(at),
		RequestID:       requestID,
		Tool:            tool,
		Result:          result,
		Error:           errMsg,
		ResultStatus:    status,
		ExecutionTimeMs: executionTimeMs,
	}
	r.Fingerprint = fingerprintOf(r)
	return r
}

// NewSecurityRecord builds a security event record.
func NewSecurityRecord(requestID, eventType string, details map[string]interface{}, at time.Time) Record {
	r := Record{
		Kind:      KindSecurity,
		Timestamp: Timestamp(at),
		RequestID: requestID,
		EventType: eventType,
		Details:   details,
	}
	r.Fingerprint = fingerprintOf(r)
	return r
}

func redactArguments(args map[string]interface{}) map[string]interface{} {
	if args == nil {
		return nil
	}
	redacted, ok := Redact(args).(map[string]interface{})
	if !ok {
		return args
	}
	return redacted
}
