package upstream

import "encoding/json"

// EventType is the closed set of upstream events the gateway reacts to.
type EventType string

const (
	EventSessionReady    EventType = "session_ready"
	EventSessionUpdated  EventType = "session_updated"
	EventSpeechStarted   EventType = "speech_started"
	EventSpeechStopped   EventType = "speech_stopped"
	EventTranscriptDelta EventType = "transcript_delta"
	EventTranscriptDone  EventType = "transcript_done"
	EventAudioDelta      EventType = "audio_delta"
	EventAudioDone       EventType = "audio_done"
	EventToolCallDone    EventType = "tool_call_done"
	EventError           EventType = "error"
)

// Event is one parsed upstream frame.
type Event struct {
	Type EventType

	// Delta carries a transcript fragment or a base64 audio chunk.
	Delta string
	// Transcript carries the final user-speech transcription.
	Transcript string

	CallID   string
	ToolName string
	ToolArgs string

	Code    string
	Message string
}

type rawEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
	Error      struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseEvent maps one upstream wire frame to an internal event. Unrecognized
// frame types return ok=false so callers can drop them without failing the
// session.
func ParseEvent(data []byte) (Event, bool) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, false
	}

	switch raw.Type {
	case "session.created":
		return Event{Type: EventSessionReady}, true
	case "session.updated":
		return Event{Type: EventSessionUpdated}, true
	case "input_audio_buffer.speech_started":
		return Event{Type: EventSpeechStarted}, true
	case "input_audio_buffer.speech_stopped":
		return Event{Type: EventSpeechStopped}, true
	case "response.audio_transcript.delta":
		return Event{Type: EventTranscriptDelta, Delta: raw.Delta}, true
	case "conversation.item.input_audio_transcription.completed":
		return Event{Type: EventTranscriptDone, Transcript: raw.Transcript}, true
	case "response.audio.delta":
		return Event{Type: EventAudioDelta, Delta: raw.Delta}, true
	case "response.audio.done":
		return Event{Type: EventAudioDone}, true
	case "response.function_call_arguments.done":
		args := raw.Arguments
		if args == "" {
			args = "{}"
		}
		return Event{Type: EventToolCallDone, CallID: raw.CallID, ToolName: raw.Name, ToolArgs: args}, true
	case "error":
		return Event{Type: EventError, Code: raw.Error.Code, Message: raw.Error.Message}, true
	default:
		return Event{}, false
	}
}
