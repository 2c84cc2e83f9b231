package types

import (
	"bytes"
	"encoding/json"
)

// RPCRequest is an outbound command envelope
type RPCRequest struct {
	Method string `json:"method"`
	Params any    `json:"params"`
	ID     string `json:"id"`
}

// RPCResponse is an inbound reply or broadcast envelope. ID is null for
// broadcasts; Error is either a string or an {message, code} object.
type RPCResponse struct {
	Result json.RawMessage `json:"result"`
	ID     json.RawMessage `json:"id"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// RPCError is the object form of a server-reported error
type RPCError struct {
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// IsRPCResponse reports whether raw is a JSON object carrying both a "result"
// and an "id" key. Either value may be null.
func IsRPCResponse(raw []byte) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return false
	}
	_, hasResult := fields["result"]
	_, hasID := fields["id"]
	return hasResult && hasID
}

// DecodeRPCResponse parses raw and applies the IsRPCResponse invariant
func DecodeRPCResponse(raw []byte) (*RPCResponse, bool) {
	if !IsRPCResponse(raw) {
		return nil, false
	}
	var resp RPCResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false
	}
	if resp.ID == nil {
		resp.ID = json.RawMessage("null")
	}
	if resp.Result == nil {
		resp.Result = json.RawMessage("null")
	}
	return &resp, true
}

// HasError reports whether the reply carries a non-null error
func (r *RPCResponse) HasError() bool {
	trimmed := bytes.TrimSpace(r.Error)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// ErrorDetail decodes the server-reported error in either of its shapes
func (r *RPCResponse) ErrorDetail() RPCError {
	if !r.HasError() {
		return RPCError{}
	}
	var message string
	if err := json.Unmarshal(r.Error, &message); err == nil {
		return RPCError{Message: message}
	}
	var detail RPCError
	if err := json.Unmarshal(r.Error, &detail); err == nil {
		return detail
	}
	return RPCError{Message: string(r.Error)}
}

// IDString returns the correlation id as text, or "" for a null id
func (r *RPCResponse) IDString() string {
	trimmed := bytes.TrimSpace(r.ID)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var id string
	if err := json.Unmarshal(trimmed, &id); err == nil {
		return id
	}
	return string(trimmed)
}
