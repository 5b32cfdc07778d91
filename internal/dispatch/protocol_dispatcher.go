package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"

	"github.com/gatekeep/gatekeep/internal/domain/lifecycle"
	"github.com/gatekeep/gatekeep/internal/domain/ratelimit"
	"github.com/gatekeep/gatekeep/internal/domain/security"
	"github.com/gatekeep/gatekeep/internal/domain/validation"
	"github.com/gatekeep/gatekeep/internal/protocol"
)

// Tracer is the outbound port the dispatcher uses to instrument
// tools/call invocations with one span apiece. A nil Tracer (the default)
// keeps dispatch untraced.
type Tracer interface {
	StartToolCall(ctx context.Context, toolName string) (context.Context, func(isError bool))
}

// ProtocolDispatcher is gatekeep's top-level message handler: it validates
// incoming JSON-RPC shape, enforces the lifecycle state machine, and routes
// requests to the tool dispatcher through the security engine. Grounded on
// original_source's mcp_secure_server/server.py MCPServer.handle_message.
type ProtocolDispatcher struct {
	lifecycle *lifecycle.Manager
	tools     *ToolDispatcher
	security  *security.Engine
	validator *validation.MessageValidator
	tracer    Tracer
}

// NewProtocolDispatcher wires the four collaborators into one dispatcher.
func NewProtocolDispatcher(lc *lifecycle.Manager, tools *ToolDispatcher, sec *security.Engine) *ProtocolDispatcher {
	return &ProtocolDispatcher{
		lifecycle: lc,
		tools:     tools,
		security:  sec,
		validator: validation.NewMessageValidator(),
	}
}

// SetTracer attaches t as the dispatcher's span source. Called by the
// wiring layer once telemetry is constructed.
func (d *ProtocolDispatcher) SetTracer(t Tracer) {
	d.tracer = t
}

// HandleLine processes one raw JSON-RPC line. Returns the encoded response
// bytes to write back (nil for a notification, no response expected), and a
// non-nil error only when the audit trail itself failed to write -- a fatal
// condition the caller must stop serving on rather than recover from.
func (d *ProtocolDispatcher) HandleLine(ctx context.Context, raw []byte) ([]byte, error) {
	msg, err := protocol.WrapMessage(raw)
	if err != nil {
		return encodeError(protocol.NewRequestID(0), validation.ErrCodeParseError, "Parse error"), nil
	}

	if msg.IsNotification() {
		d.handleNotification(msg)
		return nil, nil
	}

	if verr := d.validator.Validate(msg); verr != nil {
		var ve *validation.ValidationError
		if errors.As(verr, &ve) {
			return encodeError(idOrZero(msg), ve.Code, ve.Message), nil
		}
		return encodeError(idOrZero(msg), validation.ErrCodeInternalError, "Internal error"), nil
	}

	return d.handleRequest(ctx, msg)
}

// handleNotification handles a message with no ID. A notification never
// produces a response, including an unrecognized method -- JSON-RPC 2.0
// and the spec's invariant both forbid replying to one.
func (d *ProtocolDispatcher) handleNotification(msg *protocol.Message) {
	_ = d.validator.Validate(msg)

	if msg.Method() == "notifications/initialized" {
		_ = d.lifecycle.HandleInitialized()
	}
}

func (d *ProtocolDispatcher) handleRequest(ctx context.Context, msg *protocol.Message) ([]byte, error) {
	req := msg.Request()
	id := req.ID

	if req.Method == "initialize" {
		params := msg.Params()
		result, err := d.lifecycle.HandleInitialize(stringParam(params, "protocolVersion"), clientInfoParam(params), mapParam(params, "capabilities"))
		if err != nil {
			return encodeError(id, validation.ErrCodeInternalError, err.Error()), nil
		}
		return encodeResult(id, result), nil
	}

	if err := d.lifecycle.RequireReady(); err != nil {
		return encodeError(id, validation.ErrCodeInternalError, err.Error()), nil
	}

	switch req.Method {
	case "tools/list":
		return encodeResult(id, map[string]interface{}{"tools": d.tools.ListTools()}), nil

	case "tools/call":
		return d.handleToolCall(ctx, id, msg.Params())

	case "ping":
		return encodeResult(id, map[string]interface{}{}), nil

	default:
		return encodeError(id, validation.ErrCodeMethodNotFound, "Method not found: "+req.Method), nil
	}
}

func (d *ProtocolDispatcher) handleToolCall(ctx context.Context, id jsonrpc.ID, params map[string]interface{}) ([]byte, error) {
	toolName := stringParam(params, "name")
	arguments := mapParam(params, "arguments")
	if arguments == nil {
		arguments = map[string]interface{}{}
	}

	isError := true
	if d.tracer != nil {
		var end func(bool)
		ctx, end = d.tracer.StartToolCall(ctx, toolName)
		defer func() { end(isError) }()
	}

	requestID := security.GenerateRequestID()

	if err := d.security.CheckRateLimit(ctx, requestID, toolName); err != nil {
		var auditErr *security.AuditWriteError
		if errors.As(err, &auditErr) {
			return nil, auditErr
		}
		var exceeded *ratelimit.Exceeded
		if errors.As(err, &exceeded) {
			return encodeError(id, validation.ErrCodeInternalError, "Rate limit exceeded for tool: "+toolName), nil
		}
		return encodeError(id, validation.ErrCodeInternalError, "Internal error"), nil
	}

	schema, _ := d.tools.GetToolSchema(toolName)
	sanitized, err := d.security.ValidateInput(ctx, requestID, toolName, schema, arguments)
	if err != nil {
		var auditErr *security.AuditWriteError
		if errors.As(err, &auditErr) {
			return nil, auditErr
		}
		return encodeError(id, validation.ErrCodeInvalidParams, err.Error()), nil
	}

	if err := d.security.LogToolExecution(ctx, requestID, toolName, sanitized); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := d.tools.CallTool(ctx, toolName, sanitized)
	executionTimeMs := float64(time.Since(start)) / float64(time.Millisecond)
	if err != nil {
		var notFound *ToolNotFoundError
		errMsg := err.Error()
		if errors.As(err, &notFound) {
			if logErr := d.security.LogToolResult(ctx, requestID, toolName, nil, errMsg, executionTimeMs); logErr != nil {
				return nil, logErr
			}
			return encodeResult(id, map[string]interface{}{
				"content": []map[string]string{{"type": "text", "text": "Tool not found: " + toolName}},
				"isError": true,
			}), nil
		}
		if logErr := d.security.LogToolResult(ctx, requestID, toolName, nil, errMsg, executionTimeMs); logErr != nil {
			return nil, logErr
		}
		return encodeResult(id, map[string]interface{}{
			"content": []map[string]string{{"type": "text", "text": errMsg}},
			"isError": true,
		}), nil
	}

	if logErr := d.security.LogToolResult(ctx, requestID, toolName, result, "", executionTimeMs); logErr != nil {
		return nil, logErr
	}
	isError = result.IsError
	return encodeResult(id, result), nil
}

// ParseErrorResponse returns the encoded JSON-RPC parse-error response, for
// transports that reject a message (oversized, truncated) before it ever
// reaches HandleLine.
func ParseErrorResponse() []byte {
	return encodeError(protocol.NewRequestID(0), validation.ErrCodeParseError, "Parse error")
}

func idOrZero(msg *protocol.Message) jsonrpc.ID {
	if req := msg.Request(); req != nil && req.ID.IsValid() {
		return req.ID
	}
	return protocol.NewRequestID(0)
}

func stringParam(params map[string]interface{}, key string) string {
	if params == nil {
		return ""
	}
	s, _ := params[key].(string)
	return s
}

func mapParam(params map[string]interface{}, key string) map[string]interface{} {
	if params == nil {
		return nil
	}
	m, _ := params[key].(map[string]interface{})
	return m
}

func clientInfoParam(params map[string]interface{}) *lifecycle.ClientInfo {
	m := mapParam(params, "clientInfo")
	if m == nil {
		return nil
	}
	name, _ := m["name"].(string)
	version, _ := m["version"].(string)
	return &lifecycle.ClientInfo{Name: name, Version: version}
}

func encodeResult(id jsonrpc.ID, result interface{}) []byte {
	data, err := json.Marshal(result)
	if err != nil {
		return encodeError(id, validation.ErrCodeInternalError, "Internal error")
	}
	resp := &jsonrpc.Response{ID: id, Result: data}
	out, err := protocol.EncodeMessage(resp)
	if err != nil {
		return nil
	}
	return out
}

func encodeError(id jsonrpc.ID, code int, message string) []byte {
	resp := &jsonrpc.Response{
		ID:    id,
		Error: &jsonrpc.Error{Code: int64(code), Message: message},
	}
	out, err := protocol.EncodeMessage(resp)
	if err != nil {
		return nil
	}
	return out
}
