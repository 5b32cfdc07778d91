package protocol

import (
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// EncodeMessage serializes a JSON-RPC message to its wire format.
func EncodeMessage(msg jsonrpc.Message) ([]byte, error) {
	return jsonrpc.EncodeMessage(msg)
}

// DecodeMessage deserializes JSON-RPC wire format bytes into a *jsonrpc.Request
// or *jsonrpc.Response.
func DecodeMessage(data []byte) (jsonrpc.Message, error) {
	return jsonrpc.DecodeMessage(data)
}

// WrapMessage decodes a raw line and wraps it in a Message stamped with the
// current time. Returns an error if the line does not decode as JSON-RPC.
func WrapMessage(raw []byte) (*Message, error) {
	decoded, err := jsonrpc.DecodeMessage(raw)
	if err != nil {
		return nil, err
	}
	return &Message{
		Raw:      raw,
		Decoded:  decoded,
		Received: time.Now(),
	}, nil
}

// NewRequestID wraps a numeric ID for use in a jsonrpc.Request/Response.
func NewRequestID(id int64) jsonrpc.ID {
	rid, _ := jsonrpc.MakeID(id)
	return rid
}
