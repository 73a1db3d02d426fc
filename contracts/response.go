package contracts

import (
	"encoding/json"
	"strings"
)

// Response is the inbound frame sent by the peer after executing a command
type Response struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// wireResponse detects a missing success field
type wireResponse struct {
	ID      string          `json:"id"`
	Success *bool           `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// maxRawInError bounds how much of a bad frame is kept for logging
const maxRawInError = 256

// DecodeResponse parses an inbound frame. Any frame that is not a well-formed
// response yields a *MalformedFrameError.
func DecodeResponse(data []byte) (*Response, error) {
	var wire wireResponse
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, &MalformedFrameError{Reason: "invalid json: " + err.Error(), Raw: truncate(data)}
	}
	if strings.TrimSpace(wire.ID) == "" {
		return nil, &MalformedFrameError{Reason: "missing id", Raw: truncate(data)}
	}
	if wire.Success == nil {
		return nil, &MalformedFrameError{Reason: "missing success flag", Raw: truncate(data)}
	}

	resp := &Response{
		ID:      wire.ID,
		Success: *wire.Success,
		Error:   wire.Error,
	}
	if len(wire.Result) > 0 && string(wire.Result) != "null" {
		resp.Result = wire.Result
	}
	return resp, nil
}

// Encode serializes the response as a single JSON document
func (r *Response) Encode() ([]byte, error) {
	return json.Marshal(r)
}

func truncate(data []byte) string {
	if len(data) > maxRawInError {
		return string(data[:maxRawInError]) + "..."
	}
	return string(data)
}
