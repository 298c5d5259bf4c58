// Package protocol implements a JSON-RPC-shaped remote tool invocation
// client: request/response framing over stdio, HTTP, or WebSocket
// transports, inbound/outbound validation, and a pooled connection
// manager.
package protocol

import (
	"github.com/conductorhq/conductor-go/graph/value"
)

// Request is an outbound JSON-RPC-shaped call.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  value.Value `json:"params,omitempty"`
}

// Response correlates to a Request by ID and carries exactly one of
// Result or Error.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Result  value.Value `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError is the JSON-RPC error shape carried in a Response.Error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    value.Value `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// NewRequest builds a well-formed Request envelope.
func NewRequest(id, method string, params value.Value) Request {
	return Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
}
