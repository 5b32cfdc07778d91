// Package protocol provides the JSON-RPC 2.0 wire types gatekeep exchanges
// with a single local client over stdio.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Message wraps a decoded JSON-RPC message with the metadata the dispatcher
// needs to route and audit it. There is exactly one connection per process,
// so unlike a multi-tenant proxy this carries no session or API key state.
type Message struct {
	// Raw holds the original line as read from stdin.
	Raw []byte

	// Decoded is the parsed JSON-RPC message. Its concrete type is either
	// *jsonrpc.Request or *jsonrpc.Response. Nil if parsing failed.
	Decoded jsonrpc.Message

	// Received is when gatekeep read this line off stdin.
	Received time.Time

	// ParsedParams caches the request's params object, decoded on demand.
	ParsedParams map[string]interface{}
}

// IsRequest reports whether the message is a JSON-RPC request or notification.
func (m *Message) IsRequest() bool {
	if m.Decoded == nil {
		return false
	}
	_, ok := m.Decoded.(*jsonrpc.Request)
	return ok
}

// Request returns the underlying request, or nil if this is not one.
func (m *Message) Request() *jsonrpc.Request {
	if m.Decoded == nil {
		return nil
	}
	req, _ := m.Decoded.(*jsonrpc.Request)
	return req
}

// Response returns the underlying response, or nil if this is not one.
func (m *Message) Response() *jsonrpc.Response {
	if m.Decoded == nil {
		return nil
	}
	resp, _ := m.Decoded.(*jsonrpc.Response)
	return resp
}

// Method returns the request method, or "" if this is not a request.
func (m *Message) Method() string {
	req := m.Request()
	if req == nil {
		return ""
	}
	return req.Method
}

// IsNotification reports whether this is a request with no ID.
func (m *Message) IsNotification() bool {
	req := m.Request()
	return req != nil && !req.IsCall()
}

// IsToolCall reports whether this is a tools/call request.
func (m *Message) IsToolCall() bool {
	return m.Method() == "tools/call"
}

// Params decodes and caches the request's params object.
// Safe to call repeatedly; subsequent calls reuse the cached value.
func (m *Message) Params() map[string]interface{} {
	if m.ParsedParams != nil {
		return m.ParsedParams
	}
	req := m.Request()
	if req == nil || req.Params == nil {
		return nil
	}
	var params map[string]interface{}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil
	}
	m.ParsedParams = params
	return params
}
