package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/mkoren-dev/voicebridge/internal/config"
	"github.com/mkoren-dev/voicebridge/internal/observability"
	"github.com/mkoren-dev/voicebridge/internal/protocol"
	"github.com/mkoren-dev/voicebridge/internal/session"
)

// Server exposes the REST surface and the client websocket endpoint.
type Server struct {
	cfg      config.Config
	sessions *session.Manager
	metrics  *observability.Metrics
	settings *settingsStore
	tickets  *ticketStore
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		metrics:  metrics,
		settings: newSettingsStore(),
		tickets:  newTicketStore(5 * time.Minute),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/session", s.handleCreateTicket)
	r.Get("/session/{entityID}", s.handleGetSession)
	r.Delete("/session/{entityID}", s.handleEndSession)
	r.Get("/stats", s.handleStats)
	r.Get("/voices", s.handleListVoices)
	r.Get("/settings/{entityID}", s.handleGetSettings)
	r.Put("/settings/{entityID}", s.handlePutSettings)

	r.Get("/ws/{entityID}", s.handleWS)

	return r
}

// handleHealth reports liveness. It reads only counters, never session
// internals, so it stays responsive under load.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"service":         s.cfg.ServiceName,
		"version":         s.cfg.ServiceVersion,
		"active_sessions": s.sessions.ActiveCount(),
	})
}

type createTicketRequest struct {
	EntityID           string `json:"entity_id"`
	Voice              string `json:"voice"`
	Language           string `json:"language"`
	CustomInstructions string `json:"custom_instructions"`
	ToolsEnabled       *bool  `json:"tools_enabled"`
	WebSearchEnabled   *bool  `json:"web_search_enabled"`
	XSearchEnabled     *bool  `json:"x_search_enabled"`
}

// handleCreateTicket pre-provisions a websocket connection: the client
// exchanges the returned token at /ws/{entityID} within the expiry window.
func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req createTicketRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.EntityID) == "" {
		respondError(w, http.StatusBadRequest, "missing_entity_id", "entity_id is required")
		return
	}

	cfg := session.Config{
		Voice:              req.Voice,
		Language:           req.Language,
		CustomInstructions: req.CustomInstructions,
		ToolsEnabled:       true,
		WebSearchEnabled:   true,
		XSearchEnabled:     true,
	}
	if req.ToolsEnabled != nil {
		cfg.ToolsEnabled = *req.ToolsEnabled
	}
	if req.WebSearchEnabled != nil {
		cfg.WebSearchEnabled = *req.WebSearchEnabled
	}
	if req.XSearchEnabled != nil {
		cfg.XSearchEnabled = *req.XSearchEnabled
	}

	token := uuid.NewString()
	expiresAt := s.tickets.put(token, req.EntityID, cfg)

	respondJSON(w, http.StatusCreated, map[string]any{
		"token":      token,
		"ws_url":     s.cfg.PublicWSBaseURL + "/ws/" + url.PathEscape(req.EntityID) + "?token=" + token,
		"expires_at": expiresAt.Format(time.RFC3339),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")
	sess, err := s.sessions.GetByEntity(entityID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", "no active session for entity")
		return
	}
	respondJSON(w, http.StatusOK, sess.Info())
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")
	sess, err := s.sessions.GetByEntity(entityID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", "no active session for entity")
		return
	}
	s.sessions.CloseSession(sess.ID, session.StateEnded, "ended via api")
	respondJSON(w, http.StatusOK, map[string]any{"status": "ended", "session_id": sess.ID})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"active_sessions": s.sessions.ActiveCount(),
		"max_sessions":    s.cfg.MaxConcurrentSessions,
	})
}

// handleWS upgrades the client connection and runs the session until either
// side disconnects. The session is always closed and deregistered on exit.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")
	if strings.TrimSpace(entityID) == "" {
		respondError(w, http.StatusBadRequest, "missing_entity_id", "entity id is required")
		return
	}

	stored := s.settings.get(entityID, s.defaultSettings())
	cfg := session.Config{
		Voice:              stored.Voice,
		Language:           stored.Language,
		CustomInstructions: stored.CustomInstructions,
		ToolsEnabled:       stored.ToolsEnabled,
		WebSearchEnabled:   stored.WebSearchEnabled,
		XSearchEnabled:     stored.XSearchEnabled,
	}
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		ticket, ok := s.tickets.take(token)
		if !ok || ticket.entityID != entityID {
			respondError(w, http.StatusUnauthorized, "invalid_token", "token is unknown, expired, or bound to another entity")
			return
		}
		cfg = ticket.cfg
	}
	if v := r.URL.Query().Get("voice"); v != "" {
		cfg.Voice = v
	}
	if v := r.URL.Query().Get("language"); v != "" {
		cfg.Language = v
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sess, err := s.sessions.CreateSession(r.Context(), entityID, cfg)
	if err != nil {
		code := "session_failed"
		if errors.Is(err, session.ErrCapacity) {
			code = "capacity_exceeded"
		}
		_ = conn.WriteJSON(protocol.ServerError{
			Type:    protocol.TypeServerError,
			Code:    code,
			Message: err.Error(),
		})
		return
	}
	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	var g errgroup.Group

	g.Go(func() error {
		for frame := range sess.Outbound() {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(frame); err != nil {
				s.metrics.WSWriteErrors.WithLabelValues("write_json").Inc()
				// Unblock the read loop so session teardown proceeds.
				conn.Close()
				return err
			}
			if t, ok := messageTypeOf(frame); ok {
				s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
			}
		}
		return nil
	})

	g.Go(func() error {
		// Closing the session closes its outbound channel, which in turn
		// releases the writer goroutine.
		defer s.sessions.CloseSession(sess.ID, session.StateEnded, "client disconnected")
		defer conn.Close()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return nil
			}
			if msgType != websocket.TextMessage {
				continue
			}
			parsed, err := protocol.ParseClientMessage(data)
			if err != nil {
				// Malformed frames get an error reply; the connection stays up.
				sess.Notify(protocol.ServerError{
					Type:    protocol.TypeServerError,
					Code:    "invalid_message",
					Message: err.Error(),
				})
				continue
			}
			if t, ok := messageTypeOf(parsed); ok {
				s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
			}
			if err := s.dispatch(r, sess, parsed); err != nil {
				if errors.Is(err, session.ErrEnded) {
					return nil
				}
				log.Printf("httpapi: session %s dispatch: %v", sess.ID, err)
				return nil
			}
		}
	})

	_ = g.Wait()
}

func (s *Server) dispatch(r *http.Request, sess *session.Session, parsed any) error {
	ctx := r.Context()
	switch msg := parsed.(type) {
	case protocol.ClientAudio:
		return sess.HandleClientAudio(ctx, msg)
	case protocol.ClientText:
		return sess.HandleClientText(ctx, msg)
	case protocol.ClientControl:
		return sess.HandleClientControl(ctx, msg)
	case protocol.ClientConfig:
		return sess.HandleClientConfig(ctx, msg)
	default:
		return nil
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientAudio:
		return m.Type, true
	case protocol.ClientText:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.ClientConfig:
		return m.Type, true
	case protocol.ServerAudio:
		return m.Type, true
	case protocol.ServerTranscript:
		return m.Type, true
	case protocol.ServerStatus:
		return m.Type, true
	case protocol.ServerToolCall:
		return m.Type, true
	case protocol.ServerError:
		return m.Type, true
	default:
		return "", false
	}
}
