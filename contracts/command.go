package contracts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Command is the outbound frame sent from the bridge to the peer
type Command struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Params    json.RawMessage `json:"params"`
}

var emptyParams = json.RawMessage(`{}`)

// NewCommandID generates a command id from the send time and a random suffix
func NewCommandID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("cmd_%d_%s", now.UnixMilli(), suffix[:12])
}

// NewCommand creates a command with a generated id and the given send time.
// Params may be nil, a json.RawMessage, or any value that marshals to a JSON object.
func NewCommand(commandType string, params any, now time.Time) (*Command, error) {
	if strings.TrimSpace(commandType) == "" {
		return nil, fmt.Errorf("command type cannot be empty")
	}

	raw, err := MarshalParams(params)
	if err != nil {
		return nil, err
	}

	return &Command{
		ID:        NewCommandID(now),
		Type:      commandType,
		Timestamp: now.UnixMilli(),
		Params:    raw,
	}, nil
}

// MarshalParams encodes params as a JSON object. Nil encodes as {}.
func MarshalParams(params any) (json.RawMessage, error) {
	var raw []byte
	switch p := params.(type) {
	case nil:
		return emptyParams, nil
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		var err error
		raw, err = json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return emptyParams, nil
	}
	if trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, fmt.Errorf("params must be a JSON object")
	}
	return json.RawMessage(trimmed), nil
}

// SentAt returns the command timestamp as a time
func (c *Command) SentAt() time.Time {
	return time.UnixMilli(c.Timestamp)
}

// Encode serializes the command as a single JSON document
func (c *Command) Encode() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode command %s: %w", c.ID, err)
	}
	return data, nil
}
