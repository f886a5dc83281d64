package httpapi

import "net/http"

type voiceInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Recommended bool   `json:"recommended"`
}

// voiceCatalog mirrors the voices the upstream provider currently ships.
var voiceCatalog = []voiceInfo{
	{ID: "Sal", Name: "Sal", Description: "Neutral, Smooth, balanced", Recommended: true},
	{ID: "Ara", Name: "Ara", Description: "Warm, Expressive"},
	{ID: "Eve", Name: "Eve", Description: "Clear, Professional"},
	{ID: "Rex", Name: "Rex", Description: "Deep, Authoritative"},
	{ID: "Leo", Name: "Leo", Description: "Energetic, Dynamic"},
}

func (s *Server) handleListVoices(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"voices": voiceCatalog})
}
