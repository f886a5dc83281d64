package session

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkoren-dev/voicebridge/internal/memory"
	"github.com/mkoren-dev/voicebridge/internal/observability"
	"github.com/mkoren-dev/voicebridge/internal/tools"
	"github.com/mkoren-dev/voicebridge/internal/upstream"
)

// Defaults are the session settings applied when a client does not override
// them at connect time.
type Defaults struct {
	Voice       string
	Language    string
	AudioFormat string
	SampleRate  int
	VAD         upstream.VADParams
}

type ManagerConfig struct {
	Dialer      upstream.Dialer
	Executor    ToolExecutor
	Context     ContextService
	Archive     memory.Store
	Metrics     *observability.Metrics
	Defaults    Defaults
	MaxSessions int
	IdleTimeout time.Duration
}

// Manager owns every live session. One session per entity: starting a new
// session for an entity closes the previous one first.
type Manager struct {
	cfg ManagerConfig

	mu       sync.RWMutex
	sessions map[string]*Session
	byEntity map[string]string
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 100
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = time.Hour
	}
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		byEntity: make(map[string]string),
	}
}

// CreateSession dials the upstream, configures it, and registers a new
// session for the entity. Nothing is registered when the dial or the initial
// configure fails.
func (m *Manager) CreateSession(ctx context.Context, entityID string, cfg Config) (*Session, error) {
	m.mu.RLock()
	prev := m.byEntity[entityID]
	atCapacity := len(m.sessions) >= m.cfg.MaxSessions
	m.mu.RUnlock()

	if prev != "" {
		m.CloseSession(prev, StateEnded, "superseded")
	} else if atCapacity {
		return nil, ErrCapacity
	}

	settings := upstream.SessionSettings{
		Voice:              m.cfg.Defaults.Voice,
		Language:           m.cfg.Defaults.Language,
		AudioFormat:        m.cfg.Defaults.AudioFormat,
		SampleRate:         m.cfg.Defaults.SampleRate,
		CustomInstructions: cfg.CustomInstructions,
	}
	if cfg.Voice != "" {
		settings.Voice = cfg.Voice
	}
	if cfg.Language != "" {
		settings.Language = cfg.Language
	}

	var entity *upstream.EntityContext
	if m.cfg.Context != nil {
		entity = m.cfg.Context.LoadContext(ctx, entityID)
	}
	toolDefs := tools.Definitions(cfg.ToolsEnabled, cfg.WebSearchEnabled, cfg.XSearchEnabled)

	conn, err := m.cfg.Dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("create session for %s: %w", entityID, err)
	}

	update := upstream.BuildSessionUpdate(settings, entity, m.cfg.Defaults.VAD, toolDefs)
	if err := conn.Configure(ctx, update); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("configure session for %s: %w", entityID, err)
	}

	sess := newSession(sessionParams{
		id:       uuid.NewString(),
		entityID: entityID,
		conn:     conn,
		executor: m.cfg.Executor,
		metrics:  m.cfg.Metrics,
		settings: settings,
		entity:   entity,
		vad:      m.cfg.Defaults.VAD,
		toolDefs: toolDefs,
	})

	// A racing creation for the same entity can slip past the prev lookup
	// above, so the registration re-checks under the write lock. Last writer
	// wins: the displaced session is closed, never left stranded.
	m.mu.Lock()
	displaced := m.byEntity[entityID]
	if displaced == "" && len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		_ = conn.Close()
		return nil, ErrCapacity
	}
	m.sessions[sess.ID] = sess
	m.byEntity[entityID] = sess.ID
	m.mu.Unlock()

	if displaced != "" {
		m.CloseSession(displaced, StateEnded, "superseded")
	}

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ActiveSessions.Inc()
		m.cfg.Metrics.SessionEvents.WithLabelValues("started").Inc()
	}
	m.publish(LifecycleEvent{
		Type:      EventSessionStarted,
		EntityID:  entityID,
		SessionID: sess.ID,
		Data:      map[string]any{"voice": settings.Voice, "language": settings.Language},
	})
	log.Printf("manager: session %s started for entity %s", sess.ID, entityID)

	go m.listen(sess)
	return sess, nil
}

// listen drains upstream events into the session. The events channel closes
// when the upstream connection drops; a drop ends the session.
func (m *Manager) listen(sess *Session) {
	ctx := context.Background()
	for evt := range sess.conn.Events() {
		sess.HandleUpstreamEvent(ctx, evt)
	}
	m.CloseSession(sess.ID, StateError, "upstream disconnected")
}

// CloseSession removes a session and flushes its conversation log. Closing
// an unknown or already-closed session is a no-op; the termination event is
// emitted at most once.
func (m *Manager) CloseSession(sessionID string, reason State, detail string) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
		if m.byEntity[sess.EntityID] == sessionID {
			delete(m.byEntity, sess.EntityID)
		}
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	record, first := sess.close(reason, detail)
	if !first {
		return
	}

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ActiveSessions.Dec()
		m.cfg.Metrics.SessionEvents.WithLabelValues("ended").Inc()
	}
	log.Printf("manager: session %s ended (%s, %d messages)", sessionID, detail, len(record.Messages))

	go m.flush(record)
}

// flush archives the conversation. Every step is best effort; a dead
// collaborator never blocks teardown.
func (m *Manager) flush(record ConversationLog) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if m.cfg.Context != nil {
		if err := m.cfg.Context.LogConversation(ctx, record); err != nil {
			log.Printf("manager: log conversation %s: %v", record.SessionID, err)
		}
	}
	if m.cfg.Archive != nil && len(record.Messages) > 0 {
		err := m.cfg.Archive.SaveConversation(ctx, memory.ConversationRecord{
			ID:           record.SessionID,
			EntityID:     record.EntityID,
			SessionID:    record.SessionID,
			Content:      transcriptText(record),
			Summary:      summarize(record),
			MessageCount: len(record.Messages),
			ToolCalls:    len(record.ToolCalls),
			StartedAt:    record.StartedAt,
			EndedAt:      record.EndedAt,
		})
		if err != nil {
			log.Printf("manager: archive conversation %s: %v", record.SessionID, err)
		}
	}
	m.publish(LifecycleEvent{
		Type:      EventSessionEnded,
		EntityID:  record.EntityID,
		SessionID: record.SessionID,
		Data: map[string]any{
			"message_count": len(record.Messages),
			"tool_calls":    len(record.ToolCalls),
			"duration_ms":   record.EndedAt.Sub(record.StartedAt).Milliseconds(),
		},
	})
}

func (m *Manager) publish(event LifecycleEvent) {
	if m.cfg.Context == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	event.Timestamp = time.Now().UTC()
	if err := m.cfg.Context.PublishEvent(ctx, event); err != nil {
		log.Printf("manager: publish %s: %v", event.Type, err)
	}
}

// Get returns the live session with the given id.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// GetByEntity returns the live session for an entity.
func (m *Manager) GetByEntity(entityID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEntity[entityID]
	if !ok {
		return nil, ErrNotFound
	}
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// ActiveCount returns the number of registered sessions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Info is a point-in-time snapshot of one session, safe to serialize.
type Info struct {
	SessionID    string    `json:"session_id"`
	EntityID     string    `json:"entity_id"`
	State        string    `json:"state"`
	MessageCount int       `json:"message_count"`
	ToolCalls    int       `json:"tool_calls"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		SessionID:    s.ID,
		EntityID:     s.EntityID,
		State:        string(s.state),
		MessageCount: len(s.messages),
		ToolCalls:    len(s.toolCalls),
		StartedAt:    s.startedAt,
		LastActivity: s.lastActivity,
	}
}

// StartEvictionLoop closes idle sessions in the background until ctx ends.
func (m *Manager) StartEvictionLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.evictIdle()
			}
		}
	}()
}

func (m *Manager) evictIdle() {
	cutoff := time.Now().UTC().Add(-m.cfg.IdleTimeout)

	m.mu.RLock()
	var idle []string
	for id, sess := range m.sessions {
		if sess.LastActivity().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range idle {
		m.CloseSession(id, StateEnded, "idle timeout")
	}
}

// CloseAll ends every session, used on shutdown.
func (m *Manager) CloseAll(detail string) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.CloseSession(id, StateEnded, detail)
	}
}

func transcriptText(record ConversationLog) string {
	parts := make([]string, 0, len(record.Messages))
	for _, msg := range record.Messages {
		parts = append(parts, string(msg.Role)+": "+msg.Content)
	}
	return strings.Join(parts, "\n")
}

// summarize derives a short line for the recent-context feed from the first
// user utterance.
func summarize(record ConversationLog) string {
	for _, msg := range record.Messages {
		if msg.Role != RoleUser {
			continue
		}
		line := strings.TrimSpace(msg.Content)
		if len(line) > 140 {
			line = line[:140]
		}
		return line
	}
	return ""
}
