package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Client -> gateway.
	TypeClientAudio   MessageType = "audio"
	TypeClientText    MessageType = "text"
	TypeClientControl MessageType = "control"
	TypeClientConfig  MessageType = "config"

	// Gateway -> client.
	TypeServerAudio      MessageType = "audio"
	TypeServerTranscript MessageType = "transcript"
	TypeServerStatus     MessageType = "status"
	TypeServerToolCall   MessageType = "tool_call"
	TypeServerError      MessageType = "error"
)

// Control actions accepted from the client.
const (
	ActionInterrupt  = "interrupt"
	ActionEndSession = "end_session"
	ActionMute       = "mute"
	ActionUnmute     = "unmute"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientAudio struct {
	Type MessageType `json:"type"`
	Data string      `json:"data"`
}

type ClientText struct {
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
}

type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
}

type ClientConfig struct {
	Type               MessageType `json:"type"`
	Voice              *string     `json:"voice,omitempty"`
	CustomInstructions *string     `json:"custom_instructions,omitempty"`
}

type ServerAudio struct {
	Type MessageType `json:"type"`
	Data string      `json:"data"`
}

type ServerTranscript struct {
	Type    MessageType `json:"type"`
	Role    string      `json:"role"`
	Content string      `json:"content"`
	IsFinal bool        `json:"is_final"`
}

type ServerStatus struct {
	Type    MessageType `json:"type"`
	State   string      `json:"state"`
	Message string      `json:"message,omitempty"`
}

type ServerToolCall struct {
	Type   MessageType `json:"type"`
	Name   string      `json:"name"`
	Status string      `json:"status"`
	Result string      `json:"result,omitempty"`
}

type ServerError struct {
	Type    MessageType `json:"type"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

func validControlAction(action string) bool {
	switch action {
	case ActionInterrupt, ActionEndSession, ActionMute, ActionUnmute:
		return true
	default:
		return false
	}
}

// ParseClientMessage decodes one client frame into its typed form.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudio:
		var msg ClientAudio
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Data == "" {
			return nil, errors.New("invalid audio frame: empty data")
		}
		return msg, nil
	case TypeClientText:
		var msg ClientText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Content == "" {
			return nil, errors.New("invalid text frame: empty content")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if !validControlAction(msg.Action) {
			return nil, fmt.Errorf("invalid control action %q", msg.Action)
		}
		return msg, nil
	case TypeClientConfig:
		var msg ClientConfig
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Voice == nil && msg.CustomInstructions == nil {
			return nil, errors.New("invalid config frame: no fields")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
