// Package security composes the firewall, input validator, rate limiter,
// and audit logger into a single engine every tool call passes through.
// Grounded on original_source's mcp_secure_server/security/engine.py.
package security

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	domainaudit "github.com/gatekeep/gatekeep/internal/domain/audit"
	"github.com/gatekeep/gatekeep/internal/domain/firewall"
	"github.com/gatekeep/gatekeep/internal/domain/policy"
	"github.com/gatekeep/gatekeep/internal/domain/ratelimit"
	"github.com/gatekeep/gatekeep/internal/domain/validation"
)

// Violation is returned whenever a security control denies a request. The
// message is always the safe, client-facing text of the underlying error.
type Violation struct {
	msg string
}

func (v *Violation) Error() string { return v.msg }

func violation(format string, args ...interface{}) *Violation {
	return &Violation{msg: fmt.Sprintf(format, args...)}
}

// AuditWriteError wraps a failure to append an audit record. The audit
// trail is load-bearing, not best-effort: a write failure is unrecoverable
// locally and must propagate up to the caller as a hard error rather than
// be logged and swallowed.
type AuditWriteError struct {
	Cause error
}

func (e *AuditWriteError) Error() string {
	return fmt.Sprintf("audit write failed: %v", e.Cause)
}

func (e *AuditWriteError) Unwrap() error { return e.Cause }

// AuditLogger is the outbound port the Engine writes audit records to. A
// nil AuditLogger makes every logging call on Engine a no-op, mirroring
// policy.Audit.LogFile being unset disabling the Python original's logger
// entirely.
type AuditLogger interface {
	Append(ctx context.Context, rec domainaudit.Record) error
}

// SecurityTelemetry is the outbound port the Engine reports security
// denials to, one count per event type. A nil SecurityTelemetry (the
// default) makes RecordDenial a no-op, keeping the Engine usable without
// telemetry configured.
type SecurityTelemetry interface {
	RecordDenial(ctx context.Context, eventType string)
}

// Engine is the unified security facade: every tool call is expected to
// flow through ValidateInput, CheckRateLimit, and (for plugins that reach
// out to the network) ValidateNetwork/ValidateURL, with LogToolExecution/
// LogToolResult bracketing the call for the audit trail.
type Engine struct {
	policy    *policy.Policy
	firewall  *firewall.Firewall
	validator *validation.InputValidator
	limiter   ratelimit.Limiter
	audit     AuditLogger
	telemetry SecurityTelemetry
	now       func() time.Time
}

// New builds an Engine enforcing p. audit may be nil when p.Audit.LogFile
// is empty.
func New(p *policy.Policy, limiter ratelimit.Limiter, audit AuditLogger) *Engine {
	return &Engine{
		policy:    p,
		firewall:  firewall.New(p),
		validator: validation.NewInputValidator(p),
		limiter:   limiter,
		audit:     audit,
		now:       time.Now,
	}
}

// ValidateNetwork checks an outbound (host, port) against the firewall,
// logging and wrapping any denial as a *Violation. An audit-write failure
// while logging the denial takes precedence over the denial itself and is
// returned as a *AuditWriteError.
func (e *Engine) ValidateNetwork(ctx context.Context, requestID, host string, port int) error {
	if err := e.firewall.ValidateAddress(ctx, host, port); err != nil {
		if auditErr := e.logSecurityEvent(ctx, requestID, "network_blocked", map[string]interface{}{
			"host": host, "port": port, "reason": err.Error(),
		}); auditErr != nil {
			return auditErr
		}
		return violation("%s", err.Error())
	}
	return nil
}

// ValidateURL checks an outbound URL against the firewall.
func (e *Engine) ValidateURL(ctx context.Context, requestID, rawURL string) error {
	if err := e.firewall.ValidateURL(ctx, rawURL); err != nil {
		if auditErr := e.logSecurityEvent(ctx, requestID, "url_blocked", map[string]interface{}{
			"url": rawURL, "reason": err.Error(),
		}); auditErr != nil {
			return auditErr
		}
		return violation("%s", err.Error())
	}
	return nil
}

// ValidateInput validates and sanitizes tool call arguments, logging and
// wrapping any failure as a *Violation.
func (e *Engine) ValidateInput(ctx context.Context, requestID, toolName string, schema map[string]interface{}, arguments map[string]interface{}) (map[string]interface{}, error) {
	sanitized, err := e.validator.ValidateToolInput(toolName, schema, arguments)
	if err != nil {
		if auditErr := e.logSecurityEvent(ctx, requestID, "input_validation_failed", map[string]interface{}{
			"tool": toolName, "reason": err.Error(),
		}); auditErr != nil {
			return nil, auditErr
		}
		return nil, violation("input validation failed: %s", err.Error())
	}
	return sanitized, nil
}

// CheckRateLimit checks toolName against its configured limit, logging and
// returning the underlying *ratelimit.Exceeded on denial.
func (e *Engine) CheckRateLimit(ctx context.Context, requestID, toolName string) error {
	limit := e.policy.RateLimit(toolName)
	_, err := e.limiter.Check(ctx, toolName, limit)
	if err != nil {
		if auditErr := e.logSecurityEvent(ctx, requestID, "rate_limit_exceeded", map[string]interface{}{
			"tool": toolName, "limit": limit, "window_seconds": ratelimit.WindowDuration.Seconds(),
		}); auditErr != nil {
			return auditErr
		}
		return err
	}
	return nil
}

// SetTelemetry attaches t as the Engine's security-denial reporter. Called
// by the wiring layer once telemetry is constructed; leaving it unset
// keeps every denial-counting call a no-op.
func (e *Engine) SetTelemetry(t SecurityTelemetry) {
	e.telemetry = t
}

// Timeout returns the configured advisory per-call timeout.
func (e *Engine) Timeout() time.Duration {
	return time.Duration(e.policy.TimeoutSeconds()) * time.Second
}

// LogToolExecution records a request audit entry. No-op if audit is nil.
// Returns a *AuditWriteError if the write fails; the spec treats that as a
// hard error the caller must not recover from locally.
func (e *Engine) LogToolExecution(ctx context.Context, requestID, toolName string, arguments map[string]interface{}) error {
	if e.audit == nil {
		return nil
	}
	rec := domainaudit.NewRequestRecord(requestID, toolName, arguments, e.now())
	if err := e.audit.Append(ctx, rec); err != nil {
		return &AuditWriteError{Cause: err}
	}
	return nil
}

// LogToolResult records a response audit entry, including how long the
// call took. No-op if audit is nil. Returns a *AuditWriteError if the
// write fails.
func (e *Engine) LogToolResult(ctx context.Context, requestID, toolName string, result interface{}, errMsg string, executionTimeMs float64) error {
	if e.audit == nil {
		return nil
	}
	rec := domainaudit.NewResponseRecord(requestID, toolName, result, errMsg, executionTimeMs, e.now())
	if err := e.audit.Append(ctx, rec); err != nil {
		return &AuditWriteError{Cause: err}
	}
	return nil
}

func (e *Engine) logSecurityEvent(ctx context.Context, requestID, eventType string, details map[string]interface{}) error {
	if e.telemetry != nil {
		e.telemetry.RecordDenial(ctx, eventType)
	}
	if e.audit == nil {
		return nil
	}
	rec := domainaudit.NewSecurityRecord(requestID, eventType, details, e.now())
	if err := e.audit.Append(ctx, rec); err != nil {
		return &AuditWriteError{Cause: err}
	}
	return nil
}

// GenerateRequestID returns a new unique request identifier.
func GenerateRequestID() string {
	return uuid.NewString()
}
