// Package wire implements the JSON-RPC 2.0 message envelope and
// Content-Length framing used to talk to the assistant CLI.
package wire

import (
	"encoding/json"
	"fmt"
)

// Version is the only JSON-RPC version this module speaks.
const Version = "2.0"

// ID is a JSON-RPC request identifier: either a string or a number on the
// wire. The multiplexer always mints string IDs, but responses from the
// peer may legally carry a numeric one, so both are accepted on decode.
type ID struct {
	value any
}

// NewID wraps a string identifier.
func NewID(s string) ID { return ID{value: s} }

// String renders the ID as a string regardless of its wire representation.
func (id ID) String() string {
	switch v := id.value.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%d", int64(v))
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// IsZero reports whether the ID was never set.
func (id ID) IsZero() bool { return id.value == nil }

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	id.value = v
	return nil
}

// Error is the JSON-RPC error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC / protocol error codes used by this module.
const (
	CodeConnectionClosed = -32000
	CodeParseError       = -32700
	CodeInvalidRequest   = -32600
	CodeMethodNotFound   = -32601
	CodeInvalidParams    = -32602
	CodeInternalError    = -32603
	CodeUnknownSession   = -32001
)

// Message is the decoded wire envelope. Exactly one of Method (requests,
// notifications) or a non-zero ID-with-no-Method (responses) applies at a
// time; the helpers below classify a decoded Message.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// IsRequest reports whether the message is a call expecting a reply.
func (m *Message) IsRequest() bool { return m.Method != "" && m.ID != nil }

// IsNotification reports whether the message is a call with no reply.
func (m *Message) IsNotification() bool { return m.Method != "" && m.ID == nil }

// IsResponse reports whether the message is a reply to one of our calls.
func (m *Message) IsResponse() bool { return m.Method == "" && m.ID != nil }

// NewCall builds a request envelope.
func NewCall(id ID, method string, params json.RawMessage) *Message {
	return &Message{JSONRPC: Version, ID: &id, Method: method, Params: params}
}

// NewNotification builds a notification envelope (no ID).
func NewNotification(method string, params json.RawMessage) *Message {
	return &Message{JSONRPC: Version, Method: method, Params: params}
}

// NewResultResponse builds a successful reply envelope.
func NewResultResponse(id ID, result json.RawMessage) *Message {
	return &Message{JSONRPC: Version, ID: &id, Result: result}
}

// NewErrorResponse builds a failed reply envelope.
func NewErrorResponse(id ID, err *Error) *Message {
	return &Message{JSONRPC: Version, ID: &id, Error: err}
}

// Encode serializes a Message to its wire JSON form.
func Encode(msg *Message) ([]byte, error) {
	if msg.JSONRPC == "" {
		msg.JSONRPC = Version
	}
	return json.Marshal(msg)
}

// Decode parses a wire JSON body into a Message.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decoding jsonrpc message: %w", err)
	}
	return &msg, nil
}
