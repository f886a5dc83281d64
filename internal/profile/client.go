package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mkoren-dev/voicebridge/internal/memory"
	"github.com/mkoren-dev/voicebridge/internal/session"
	"github.com/mkoren-dev/voicebridge/internal/upstream"
)

// Client loads entity profiles and reports conversation outcomes to the
// surrounding platform services over HTTP. Every outbound call degrades
// gracefully: a session must start and end cleanly even when every peer
// service is down.
type Client struct {
	dnaURL          string
	memoryEngineURL string
	orchestratorURL string
	client          *http.Client
	archive         memory.Store
}

type ClientConfig struct {
	DNAEngineURL    string
	MemoryEngineURL string
	OrchestratorURL string
}

func NewClient(cfg ClientConfig, archive memory.Store) *Client {
	return &Client{
		dnaURL:          strings.TrimRight(strings.TrimSpace(cfg.DNAEngineURL), "/"),
		memoryEngineURL: strings.TrimRight(strings.TrimSpace(cfg.MemoryEngineURL), "/"),
		orchestratorURL: strings.TrimRight(strings.TrimSpace(cfg.OrchestratorURL), "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		archive: archive,
	}
}

// entityProfile mirrors the profile document served by the DNA engine.
type entityProfile struct {
	Name         string `json:"name"`
	MasterPrompt string `json:"master_prompt"`
	Values       []struct {
		Name string `json:"name"`
	} `json:"values"`
	Goals []struct {
		Description string `json:"description"`
	} `json:"goals"`
	CommunicationStyles []struct {
		StyleType string `json:"style_type"`
	} `json:"communication_styles"`
}

// LoadContext fetches the entity profile and enriches it with recent
// conversation summaries. Returns nil when the profile is unavailable.
func (c *Client) LoadContext(ctx context.Context, entityID string) *upstream.EntityContext {
	if c.dnaURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.dnaURL+"/entity/"+entityID, nil)
	if err != nil {
		return nil
	}

	res, err := c.client.Do(req)
	if err != nil {
		log.Printf("profile: load context for %s failed: %v", entityID, err)
		return nil
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		log.Printf("profile: entity %s not found", entityID)
		return nil
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		log.Printf("profile: load context for %s returned status %d", entityID, res.StatusCode)
		return nil
	}

	var doc entityProfile
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		log.Printf("profile: decode context for %s failed: %v", entityID, err)
		return nil
	}

	ec := &upstream.EntityContext{
		EntityID:     entityID,
		Name:         doc.Name,
		MasterPrompt: doc.MasterPrompt,
	}
	if ec.Name == "" {
		ec.Name = "User"
	}
	for _, v := range doc.Values {
		if v.Name != "" {
			ec.Values = append(ec.Values, v.Name)
		}
	}
	for _, g := range doc.Goals {
		if g.Description != "" {
			ec.Goals = append(ec.Goals, g.Description)
		}
	}
	if len(doc.CommunicationStyles) > 0 {
		styles := make([]string, 0, 3)
		for _, s := range doc.CommunicationStyles {
			if s.StyleType == "" {
				continue
			}
			styles = append(styles, s.StyleType)
			if len(styles) == 3 {
				break
			}
		}
		ec.CommunicationStyle = strings.Join(styles, ", ")
	}

	ec.RecentContext = c.recentContext(ctx, entityID)

	log.Printf("profile: loaded context for entity %s (%s)", entityID, ec.Name)
	return ec
}

// recentContext pulls the last few conversation summaries, preferring the
// memory engine and falling back to the local archive.
func (c *Client) recentContext(ctx context.Context, entityID string) string {
	summaries := c.recentFromEngine(ctx, entityID)
	if len(summaries) == 0 && c.archive != nil {
		local, err := c.archive.RecentSummaries(ctx, entityID, 3)
		if err != nil {
			log.Printf("profile: local recent summaries for %s failed: %v", entityID, err)
		} else {
			summaries = local
		}
	}
	if len(summaries) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Recent activity:")
	for _, s := range summaries {
		b.WriteString("\n- ")
		b.WriteString(s)
	}
	return b.String()
}

func (c *Client) recentFromEngine(ctx context.Context, entityID string) []string {
	if c.memoryEngineURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.memoryEngineURL+"/recent/"+entityID+"?limit=5", nil)
	if err != nil {
		return nil
	}

	res, err := c.client.Do(req)
	if err != nil {
		log.Printf("profile: recent context for %s failed: %v", entityID, err)
		return nil
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil
	}

	var memories []struct {
		Summary string `json:"summary"`
	}
	if err := json.NewDecoder(res.Body).Decode(&memories); err != nil {
		return nil
	}

	summaries := make([]string, 0, 3)
	for _, m := range memories {
		if m.Summary == "" {
			continue
		}
		summaries = append(summaries, m.Summary)
		if len(summaries) == 3 {
			break
		}
	}
	return summaries
}

// LogConversation ships the finished transcript to the memory engine.
func (c *Client) LogConversation(ctx context.Context, conv session.ConversationLog) error {
	if c.memoryEngineURL == "" {
		return nil
	}

	payload := map[string]any{
		"entity_id":        conv.EntityID,
		"interaction_type": "conversation",
		"channel":          "voice",
		"content":          formatTranscript(conv),
		"metadata": map[string]any{
			"session_id":       conv.SessionID,
			"duration_ms":      conv.EndedAt.Sub(conv.StartedAt).Milliseconds(),
			"tool_calls_count": len(conv.ToolCalls),
			"message_count":    len(conv.Messages),
		},
		"timestamp": conv.StartedAt.UTC().Format(time.RFC3339),
	}

	if err := c.postJSON(ctx, c.memoryEngineURL+"/log", payload); err != nil {
		return fmt.Errorf("log conversation %s: %w", conv.SessionID, err)
	}

	log.Printf("profile: logged conversation %s (%d messages)", conv.SessionID, len(conv.Messages))
	return nil
}

// PublishEvent forwards a lifecycle event to the orchestrator event bus.
// A missing orchestrator URL disables publishing entirely.
func (c *Client) PublishEvent(ctx context.Context, event session.LifecycleEvent) error {
	if c.orchestratorURL == "" {
		return nil
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload := map[string]any{
		"topic": "voice-events",
		"event": map[string]any{
			"type":       event.Type,
			"entity_id":  event.EntityID,
			"session_id": event.SessionID,
			"data":       event.Data,
			"timestamp":  event.Timestamp.Format(time.RFC3339),
			"source":     "voicebridge",
		},
	}

	if err := c.postJSON(ctx, c.orchestratorURL+"/events/publish", payload); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("http status %d: %s", res.StatusCode, string(snippet))
	}
	return nil
}

func formatTranscript(conv session.ConversationLog) string {
	parts := make([]string, 0, len(conv.Messages))
	for _, msg := range conv.Messages {
		label := "user"
		if msg.Role == session.RoleAssistant {
			label = "assistant"
		}
		parts = append(parts, label+": "+msg.Content)
	}
	return strings.Join(parts, "\n")
}
