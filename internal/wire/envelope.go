package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrNoMessage = errors.New("frame has no message field")

// Envelope is the single payload unit exchanged over the relay socket.
// Message is always one line of flattened text.
type Envelope struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

// Encode serializes an outbound core→game envelope.
func Encode(env Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

// DecodeInbound parses a game→core frame, which carries only a message
// field; any other fields are ignored.
func DecodeInbound(data []byte) (string, error) {
	var frame struct {
		Message *string `json:"message"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return "", fmt.Errorf("decode frame: %w", err)
	}
	if frame.Message == nil || strings.TrimSpace(*frame.Message) == "" {
		return "", ErrNoMessage
	}
	return *frame.Message, nil
}
