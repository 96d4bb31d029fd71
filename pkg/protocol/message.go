// Package protocol defines the wire types shared by the voice client and the voice backend:
// relay socket envelopes, structured room data messages and the HTTP DTOs.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies the type of a relay envelope or room data message.
type MessageType string

const (
	// Relay socket, client → backend
	TypeUserMessage MessageType = "user_message"

	// Relay socket, backend → client
	TypeAssistantResponse MessageType = "assistant_response"
	TypeError             MessageType = "error"

	// Room data channel
	TypeTextMessage MessageType = "text_message"
	TypeTranscript  MessageType = "transcript"
)

// Speaker labels carried by room messages.
const (
	SpeakerUser      = "user"
	SpeakerAssistant = "assistant"
)

// ErrEmptyType is returned when a payload has no type field.
var ErrEmptyType = errors.New("protocol: message type is required")

// Envelope is a message on the relay socket.
type Envelope struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

// NewUserMessage builds the outbound relay envelope for a finalized utterance.
func NewUserMessage(text string) Envelope {
	return Envelope{Type: TypeUserMessage, Text: text}
}

// NewAssistantResponse builds an inbound relay answer.
func NewAssistantResponse(text string) Envelope {
	return Envelope{Type: TypeAssistantResponse, Text: text}
}

// NewError builds an inbound relay error.
func NewError(text string) Envelope {
	return Envelope{Type: TypeError, Text: text}
}

// Bytes returns the JSON-encoded envelope.
func (e Envelope) Bytes() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEnvelope parses a relay envelope.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: parse envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, ErrEmptyType
	}
	return env, nil
}

// RoomMessage is a structured data message exchanged inside a managed room.
type RoomMessage struct {
	Type    MessageType `json:"type"`
	Text    string      `json:"text"`
	Speaker string      `json:"speaker,omitempty"`
}

// NewUserTextMessage builds the room message carrying a finalized user utterance.
func NewUserTextMessage(text string) RoomMessage {
	return RoomMessage{Type: TypeTextMessage, Text: text, Speaker: SpeakerUser}
}

// Bytes returns the JSON-encoded message.
func (m RoomMessage) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseRoomMessage parses a room data payload.
func ParseRoomMessage(data []byte) (RoomMessage, error) {
	var msg RoomMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return RoomMessage{}, fmt.Errorf("protocol: parse room message: %w", err)
	}
	if msg.Type == "" {
		return RoomMessage{}, ErrEmptyType
	}
	return msg, nil
}

// IsAssistantText reports whether the message is assistant output for the transcript.
func (m RoomMessage) IsAssistantText() bool {
	return m.Type == TypeAssistantResponse || m.Type == TypeTextMessage
}

// NormalizeSpeaker maps a free-form speaker label to user or assistant.
// Anything that is not the user is treated as the assistant.
func NormalizeSpeaker(s string) string {
	if strings.EqualFold(strings.TrimSpace(s), SpeakerUser) {
		return SpeakerUser
	}
	return SpeakerAssistant
}
