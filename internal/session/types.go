package session

import (
	"context"
	"errors"
	"time"

	"github.com/mkoren-dev/voicebridge/internal/upstream"
)

// State is the lifecycle phase of a voice session.
type State string

const (
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateListening     State = "listening"
	StateThinking      State = "thinking"
	StateSpeaking      State = "speaking"
	StateToolExecuting State = "tool_executing"
	StateEnded         State = "ended"
	StateError         State = "error"
)

// Terminal reports whether no further transitions are allowed from s.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateError
}

var (
	ErrCapacity = errors.New("session capacity reached")
	ErrNotFound = errors.New("session not found")
	ErrEnded    = errors.New("session has ended")
)

// nextState validates a transition and returns the state the session should
// move to. Terminal states absorb everything except themselves. Ended and
// Error are reachable from any state.
func nextState(from, to State) (State, bool) {
	if from.Terminal() {
		return from, false
	}
	if to == StateEnded || to == StateError {
		return to, true
	}

	switch from {
	case StateInitializing:
		if to == StateReady {
			return to, true
		}
	case StateReady:
		switch to {
		case StateListening, StateThinking, StateSpeaking, StateToolExecuting:
			return to, true
		}
	case StateListening:
		switch to {
		case StateReady, StateThinking, StateSpeaking:
			return to, true
		}
	case StateThinking:
		switch to {
		case StateReady, StateListening, StateSpeaking, StateToolExecuting:
			return to, true
		}
	case StateSpeaking:
		switch to {
		case StateReady, StateListening, StateThinking:
			return to, true
		}
	case StateToolExecuting:
		switch to {
		case StateReady, StateThinking, StateSpeaking:
			return to, true
		}
	}
	return from, false
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationMessage is a single finalized utterance in a session.
type ConversationMessage struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ToolCallRecord tracks one function call routed through the session.
type ToolCallRecord struct {
	CallID    string    `json:"call_id"`
	Name      string    `json:"name"`
	Arguments string    `json:"arguments"`
	Result    string    `json:"result"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationLog is the full transcript flushed when a session closes.
type ConversationLog struct {
	SessionID string                `json:"session_id"`
	EntityID  string                `json:"entity_id"`
	Messages  []ConversationMessage `json:"messages"`
	ToolCalls []ToolCallRecord      `json:"tool_calls"`
	StartedAt time.Time             `json:"started_at"`
	EndedAt   time.Time             `json:"ended_at"`
}

// LifecycleEvent describes a session milestone published to the rest of the
// platform.
type LifecycleEvent struct {
	Type      string         `json:"type"`
	EntityID  string         `json:"entity_id"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

const (
	EventSessionStarted = "voice.session.started"
	EventSessionEnded   = "voice.session.ended"
)

// Config carries the per-session options negotiated at connect time.
type Config struct {
	Voice              string
	Language           string
	CustomInstructions string
	ToolsEnabled       bool
	WebSearchEnabled   bool
	XSearchEnabled     bool
}

// ContextService loads entity context and receives conversation records.
// Implementations are expected to tolerate downstream outages and degrade
// to nil context rather than failing the session.
type ContextService interface {
	LoadContext(ctx context.Context, entityID string) *upstream.EntityContext
	LogConversation(ctx context.Context, log ConversationLog) error
	PublishEvent(ctx context.Context, event LifecycleEvent) error
}

// ToolExecutor runs a function call and returns the JSON result payload.
// The result is always a valid JSON document, errors included.
type ToolExecutor interface {
	Execute(ctx context.Context, entityID, toolName, argsJSON string) string
}
