package session

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/mkoren-dev/voicebridge/internal/observability"
	"github.com/mkoren-dev/voicebridge/internal/protocol"
	"github.com/mkoren-dev/voicebridge/internal/tools"
	"github.com/mkoren-dev/voicebridge/internal/upstream"
)

// Session bridges one client websocket to one upstream realtime connection.
// The manager owns the lifecycle; client frames arrive via the Handle*
// methods and upstream events via HandleUpstreamEvent. All mutation happens
// under a single mutex so the two directions never race.
type Session struct {
	ID       string
	EntityID string

	conn     upstream.Conn
	executor ToolExecutor
	metrics  *observability.Metrics
	outbound chan any

	settings upstream.SessionSettings
	entity   *upstream.EntityContext
	vad      upstream.VADParams
	toolDefs []any

	mu           sync.Mutex
	state        State
	muted        bool
	closed       bool
	messages     []ConversationMessage
	toolCalls    []ToolCallRecord
	assistantBuf strings.Builder
	startedAt    time.Time
	lastActivity time.Time
}

type sessionParams struct {
	id       string
	entityID string
	conn     upstream.Conn
	executor ToolExecutor
	metrics  *observability.Metrics
	settings upstream.SessionSettings
	entity   *upstream.EntityContext
	vad      upstream.VADParams
	toolDefs []any
}

func newSession(p sessionParams) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:           p.id,
		EntityID:     p.entityID,
		conn:         p.conn,
		executor:     p.executor,
		metrics:      p.metrics,
		outbound:     make(chan any, 256),
		settings:     p.settings,
		entity:       p.entity,
		vad:          p.vad,
		toolDefs:     p.toolDefs,
		state:        StateInitializing,
		startedAt:    now,
		lastActivity: now,
	}
}

// Outbound is the stream of server frames destined for the client websocket.
// It closes when the session ends.
func (s *Session) Outbound() <-chan any { return s.outbound }

// Notify queues an out-of-band frame for the client, such as a parse error
// reply.
func (s *Session) Notify(frame any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(frame)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivity returns the time of the last client or upstream interaction.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) touchLocked() {
	s.lastActivity = time.Now().UTC()
}

// setStateLocked applies a transition and emits a status frame on success.
// Invalid transitions are ignored so out-of-order upstream events cannot
// wedge the machine.
func (s *Session) setStateLocked(to State, detail string) {
	next, ok := nextState(s.state, to)
	if !ok {
		return
	}
	s.state = next
	if s.metrics != nil {
		s.metrics.StateTransitions.WithLabelValues(string(next)).Inc()
	}
	s.emitLocked(protocol.ServerStatus{
		Type:    protocol.TypeServerStatus,
		State:   string(next),
		Message: detail,
	})
}

// emitLocked queues a frame for the client writer without ever blocking the
// caller. A full buffer means the client stopped reading; dropped frames are
// counted and the websocket teardown handles the rest.
func (s *Session) emitLocked(frame any) {
	if s.closed {
		return
	}
	select {
	case s.outbound <- frame:
	default:
		if s.metrics != nil {
			s.metrics.WSWriteErrors.WithLabelValues("buffer_full").Inc()
		}
	}
}

// HandleClientAudio forwards one base64 audio chunk upstream. An idle
// session enters listening on the first chunk. Muted sessions swallow audio
// without touching the upstream buffer.
func (s *Session) HandleClientAudio(ctx context.Context, msg protocol.ClientAudio) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrEnded
	}
	s.touchLocked()
	muted := s.muted
	if !muted && s.state == StateReady {
		s.setStateLocked(StateListening, "")
	}
	s.mu.Unlock()

	if muted {
		return nil
	}
	return s.conn.AppendAudio(ctx, msg.Data)
}

// HandleClientText injects a typed user message and requests a response.
func (s *Session) HandleClientText(ctx context.Context, msg protocol.ClientText) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrEnded
	}
	s.touchLocked()
	s.messages = append(s.messages, ConversationMessage{
		Role:      RoleUser,
		Content:   msg.Content,
		Timestamp: time.Now().UTC(),
	})
	s.setStateLocked(StateThinking, "")
	s.mu.Unlock()

	if err := s.conn.CreateUserText(ctx, msg.Content); err != nil {
		return err
	}
	return s.conn.RequestResponse(ctx)
}

// HandleClientControl applies a control action. ErrEnded is returned for
// end_session so the caller tears the session down.
func (s *Session) HandleClientControl(ctx context.Context, msg protocol.ClientControl) error {
	switch msg.Action {
	case protocol.ActionInterrupt:
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrEnded
		}
		s.touchLocked()
		s.finalizeAssistantLocked()
		s.setStateLocked(StateReady, "interrupted")
		s.mu.Unlock()
		return s.conn.CancelResponse(ctx)

	case protocol.ActionMute:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return ErrEnded
		}
		s.touchLocked()
		s.muted = true
		return nil

	case protocol.ActionUnmute:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return ErrEnded
		}
		s.touchLocked()
		s.muted = false
		return nil

	case protocol.ActionEndSession:
		return ErrEnded

	default:
		return nil
	}
}

// HandleClientConfig reconfigures the live upstream session. Only the fields
// present in the frame change.
func (s *Session) HandleClientConfig(ctx context.Context, msg protocol.ClientConfig) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrEnded
	}
	s.touchLocked()
	if msg.Voice != nil {
		s.settings.Voice = *msg.Voice
	}
	if msg.CustomInstructions != nil {
		s.settings.CustomInstructions = *msg.CustomInstructions
	}
	update := upstream.BuildSessionUpdate(s.settings, s.entity, s.vad, s.toolDefs)
	s.mu.Unlock()

	return s.conn.Configure(ctx, update)
}

// HandleUpstreamEvent reacts to one upstream event. Tool calls execute
// inline on the listener goroutine so results reach the upstream in event
// order.
func (s *Session) HandleUpstreamEvent(ctx context.Context, evt upstream.Event) {
	s.mu.Lock()
	ended := s.closed
	s.mu.Unlock()
	if ended {
		log.Printf("session %s: dropping upstream %s after close", s.ID, evt.Type)
		return
	}

	if s.metrics != nil {
		s.metrics.UpstreamEvents.WithLabelValues(string(evt.Type)).Inc()
	}

	switch evt.Type {
	case upstream.EventSessionReady:
		s.mu.Lock()
		s.setStateLocked(StateReady, "")
		s.mu.Unlock()

	case upstream.EventSessionUpdated:
		// Acknowledgement only.

	case upstream.EventSpeechStarted:
		s.mu.Lock()
		s.touchLocked()
		s.setStateLocked(StateListening, "")
		s.mu.Unlock()

	case upstream.EventSpeechStopped:
		s.mu.Lock()
		s.touchLocked()
		s.setStateLocked(StateThinking, "")
		s.mu.Unlock()

	case upstream.EventTranscriptDone:
		if evt.Transcript == "" {
			return
		}
		s.mu.Lock()
		s.touchLocked()
		s.messages = append(s.messages, ConversationMessage{
			Role:      RoleUser,
			Content:   evt.Transcript,
			Timestamp: time.Now().UTC(),
		})
		s.emitLocked(protocol.ServerTranscript{
			Type:    protocol.TypeServerTranscript,
			Role:    string(RoleUser),
			Content: evt.Transcript,
			IsFinal: true,
		})
		s.mu.Unlock()

	case upstream.EventTranscriptDelta:
		s.mu.Lock()
		s.touchLocked()
		s.assistantBuf.WriteString(evt.Delta)
		s.emitLocked(protocol.ServerTranscript{
			Type:    protocol.TypeServerTranscript,
			Role:    string(RoleAssistant),
			Content: evt.Delta,
			IsFinal: false,
		})
		s.mu.Unlock()

	case upstream.EventAudioDelta:
		s.mu.Lock()
		s.touchLocked()
		s.setStateLocked(StateSpeaking, "")
		s.emitLocked(protocol.ServerAudio{
			Type: protocol.TypeServerAudio,
			Data: evt.Delta,
		})
		s.mu.Unlock()

	case upstream.EventAudioDone:
		s.mu.Lock()
		s.touchLocked()
		s.finalizeAssistantLocked()
		s.setStateLocked(StateReady, "")
		s.mu.Unlock()

	case upstream.EventToolCallDone:
		s.handleToolCall(ctx, evt)

	case upstream.EventError:
		log.Printf("session %s: upstream error %s: %s", s.ID, evt.Code, evt.Message)
		s.mu.Lock()
		s.emitLocked(protocol.ServerError{
			Type:    protocol.TypeServerError,
			Code:    "upstream_error",
			Message: evt.Message,
		})
		s.mu.Unlock()
	}
}

// finalizeAssistantLocked flushes the accumulated assistant transcript into
// the conversation log and emits the final transcript frame.
func (s *Session) finalizeAssistantLocked() {
	content := strings.TrimSpace(s.assistantBuf.String())
	s.assistantBuf.Reset()
	if content == "" {
		return
	}
	s.messages = append(s.messages, ConversationMessage{
		Role:      RoleAssistant,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	s.emitLocked(protocol.ServerTranscript{
		Type:    protocol.TypeServerTranscript,
		Role:    string(RoleAssistant),
		Content: content,
		IsFinal: true,
	})
}

func (s *Session) handleToolCall(ctx context.Context, evt upstream.Event) {
	now := time.Now().UTC()

	if tools.IsBuiltin(evt.ToolName) {
		// The provider executes builtins itself; no result goes back.
		s.mu.Lock()
		s.touchLocked()
		s.toolCalls = append(s.toolCalls, ToolCallRecord{
			CallID:    evt.CallID,
			Name:      evt.ToolName,
			Arguments: evt.ToolArgs,
			Status:    "handled_upstream",
			Timestamp: now,
		})
		s.emitLocked(protocol.ServerToolCall{
			Type:   protocol.TypeServerToolCall,
			Name:   evt.ToolName,
			Status: "handled_upstream",
		})
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.touchLocked()
	s.setStateLocked(StateToolExecuting, evt.ToolName)
	s.emitLocked(protocol.ServerToolCall{
		Type:   protocol.TypeServerToolCall,
		Name:   evt.ToolName,
		Status: "executing",
	})
	s.mu.Unlock()

	result := s.executor.Execute(ctx, s.EntityID, evt.ToolName, evt.ToolArgs)
	status := toolStatus(result)

	s.mu.Lock()
	s.toolCalls = append(s.toolCalls, ToolCallRecord{
		CallID:    evt.CallID,
		Name:      evt.ToolName,
		Arguments: evt.ToolArgs,
		Result:    result,
		Status:    status,
		Timestamp: now,
	})
	s.emitLocked(protocol.ServerToolCall{
		Type:   protocol.TypeServerToolCall,
		Name:   evt.ToolName,
		Status: status,
		Result: result,
	})
	s.setStateLocked(StateReady, "")
	s.mu.Unlock()

	// The result goes back in-band either way so the model can react to
	// failures, then a fresh response continues the turn.
	if err := s.conn.SendToolResult(ctx, evt.CallID, result); err != nil {
		log.Printf("session %s: send tool result for %s failed: %v", s.ID, evt.ToolName, err)
		return
	}
	if err := s.conn.RequestResponse(ctx); err != nil {
		log.Printf("session %s: response after tool %s failed: %v", s.ID, evt.ToolName, err)
	}
}

// toolStatus distinguishes a successful result from the executor's structured
// error payload.
func toolStatus(result string) string {
	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(result), &probe); err == nil && probe.Error != "" {
		return "failed"
	}
	return "completed"
}

// close ends the session exactly once and returns the conversation log for
// archival. Later calls return ok=false.
func (s *Session) close(reason State, detail string) (ConversationLog, bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ConversationLog{}, false
	}
	s.finalizeAssistantLocked()
	if reason == StateError {
		// The client sees an explicit error frame before the socket goes away.
		s.emitLocked(protocol.ServerError{
			Type:    protocol.TypeServerError,
			Code:    "upstream_disconnected",
			Message: detail,
		})
	}
	s.setStateLocked(reason, detail)
	s.closed = true
	logRecord := ConversationLog{
		SessionID: s.ID,
		EntityID:  s.EntityID,
		Messages:  append([]ConversationMessage(nil), s.messages...),
		ToolCalls: append([]ToolCallRecord(nil), s.toolCalls...),
		StartedAt: s.startedAt,
		EndedAt:   time.Now().UTC(),
	}
	close(s.outbound)
	s.mu.Unlock()

	_ = s.conn.Close()
	return logRecord, true
}
