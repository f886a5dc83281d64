package httpapi

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
)

// voiceSettings are the per-entity preferences applied to new sessions.
type voiceSettings struct {
	Voice              string `json:"voice"`
	Language           string `json:"language"`
	CustomInstructions string `json:"custom_instructions,omitempty"`
	ToolsEnabled       bool   `json:"tools_enabled"`
	WebSearchEnabled   bool   `json:"web_search_enabled"`
	XSearchEnabled     bool   `json:"x_search_enabled"`
}

type voiceSettingsUpdate struct {
	Voice              *string `json:"voice"`
	Language           *string `json:"language"`
	CustomInstructions *string `json:"custom_instructions"`
	ToolsEnabled       *bool   `json:"tools_enabled"`
	WebSearchEnabled   *bool   `json:"web_search_enabled"`
	XSearchEnabled     *bool   `json:"x_search_enabled"`
}

type settingsStore struct {
	mu       sync.RWMutex
	byEntity map[string]voiceSettings
}

func newSettingsStore() *settingsStore {
	return &settingsStore{byEntity: make(map[string]voiceSettings)}
}

func (s *settingsStore) get(entityID string, defaults voiceSettings) voiceSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.byEntity[entityID]; ok {
		return v
	}
	return defaults
}

func (s *settingsStore) update(entityID string, defaults voiceSettings, patch voiceSettingsUpdate) voiceSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byEntity[entityID]
	if !ok {
		cur = defaults
	}
	if patch.Voice != nil {
		cur.Voice = *patch.Voice
	}
	if patch.Language != nil {
		cur.Language = *patch.Language
	}
	if patch.CustomInstructions != nil {
		cur.CustomInstructions = *patch.CustomInstructions
	}
	if patch.ToolsEnabled != nil {
		cur.ToolsEnabled = *patch.ToolsEnabled
	}
	if patch.WebSearchEnabled != nil {
		cur.WebSearchEnabled = *patch.WebSearchEnabled
	}
	if patch.XSearchEnabled != nil {
		cur.XSearchEnabled = *patch.XSearchEnabled
	}
	s.byEntity[entityID] = cur
	return cur
}

func (s *Server) defaultSettings() voiceSettings {
	return voiceSettings{
		Voice:            s.cfg.UpstreamVoice,
		Language:         s.cfg.DefaultLanguage,
		ToolsEnabled:     true,
		WebSearchEnabled: true,
		XSearchEnabled:   true,
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")
	respondJSON(w, http.StatusOK, s.settings.get(entityID, s.defaultSettings()))
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")
	var patch voiceSettingsUpdate
	if err := decodeJSON(r, &patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.settings.update(entityID, s.defaultSettings(), patch))
}
