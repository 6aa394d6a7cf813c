package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the fixed outbound message shape. "user_message" carries chat
// input; "message" is reserved for single-value control signals such as a
// selected candidate id.
type Envelope struct {
	Type           string `json:"type"`
	Content        string `json:"content"`
	Domain         string `json:"domain,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Timestamp      string `json:"timestamp"`
}

const (
	EnvelopeUserMessage = "user_message"
	EnvelopeControl     = "message"
)

// NewUserMessage builds a chat-input envelope stamped with the current time.
func NewUserMessage(content, domain, conversationID string) Envelope {
	return Envelope{
		Type:           EnvelopeUserMessage,
		Content:        content,
		Domain:         domain,
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}
}

// NewControlMessage builds a single-value control envelope.
func NewControlMessage(content, conversationID string) Envelope {
	return Envelope{
		Type:           EnvelopeControl,
		Content:        content,
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}
}

// Encode serializes the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("protocol.Envelope.Encode: %w", err)
	}
	return payload, nil
}
