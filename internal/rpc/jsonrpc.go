// Package rpc implements the gateway's JSON-RPC 2.0 surface: envelope
// parsing, request batching, the fixed tool and resource catalogues, and the
// per-method authentication gate.
package rpc

import "encoding/json"

// ProtocolVersion is the wire protocol revision reported by initialize.
const ProtocolVersion = "2024-11-05"

// JSON-RPC error codes. The values are part of the client contract and must
// not change.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
	CodeForbidden      = -32003
	CodeNotFound       = -32004
	CodeConflict       = -32009
)

// Request is one JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id. Notifications
// are executed but never answered, not even on error.
func (r *Request) IsNotification() bool { return len(r.ID) == 0 }

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Response is one JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

var nullID = json.RawMessage("null")

func newResponse(id json.RawMessage) *Response {
	if len(id) == 0 {
		id = nullID
	}
	return &Response{JSONRPC: "2.0", ID: id}
}

func errorResponse(id json.RawMessage, code int, message string, data any) *Response {
	resp := newResponse(id)
	resp.Error = &Error{Code: code, Message: message, Data: data}
	return resp
}

// marshalOne serialises a single response. Serialisation of these shapes
// cannot fail; the fallback exists so a marshalling bug still answers with a
// valid envelope.
func marshalOne(resp *Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return data
}
