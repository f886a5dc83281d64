package profile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mkoren-dev/voicebridge/internal/memory"
	"github.com/mkoren-dev/voicebridge/internal/session"
)

func TestLoadContext(t *testing.T) {
	dna := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/entity/e1" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"name": "Maya",
			"master_prompt": "Be direct.",
			"values": [{"name":"honesty"},{"name":""}],
			"goals": [{"description":"ship the beta"}],
			"communication_styles": [{"style_type":"direct"},{"style_type":"warm"}]
		}`))
	}))
	defer dna.Close()

	c := NewClient(ClientConfig{DNAEngineURL: dna.URL}, nil)
	ec := c.LoadContext(context.Background(), "e1")
	if ec == nil {
		t.Fatalf("LoadContext() = nil")
	}
	if ec.Name != "Maya" || ec.MasterPrompt != "Be direct." {
		t.Fatalf("context = %+v", ec)
	}
	if len(ec.Values) != 1 || ec.Values[0] != "honesty" {
		t.Fatalf("values = %v", ec.Values)
	}
	if ec.CommunicationStyle != "direct, warm" {
		t.Fatalf("style = %q", ec.CommunicationStyle)
	}
}

func TestLoadContextNotFound(t *testing.T) {
	dna := httptest.NewServer(http.NotFoundHandler())
	defer dna.Close()

	c := NewClient(ClientConfig{DNAEngineURL: dna.URL}, nil)
	if ec := c.LoadContext(context.Background(), "missing"); ec != nil {
		t.Fatalf("LoadContext() = %+v, want nil", ec)
	}
}

func TestLoadContextUnconfigured(t *testing.T) {
	c := NewClient(ClientConfig{}, nil)
	if ec := c.LoadContext(context.Background(), "e1"); ec != nil {
		t.Fatalf("LoadContext() without a DNA engine should be nil")
	}
}

func TestLoadContextArchiveFallback(t *testing.T) {
	dna := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"Sam"}`))
	}))
	defer dna.Close()

	archive := memory.NewInMemoryStore()
	_ = archive.SaveConversation(context.Background(), memory.ConversationRecord{
		EntityID: "e1",
		Summary:  "talked about travel plans",
	})

	c := NewClient(ClientConfig{DNAEngineURL: dna.URL}, archive)
	ec := c.LoadContext(context.Background(), "e1")
	if ec == nil {
		t.Fatalf("LoadContext() = nil")
	}
	if !strings.Contains(ec.RecentContext, "talked about travel plans") {
		t.Fatalf("RecentContext = %q", ec.RecentContext)
	}
}

func TestLogConversation(t *testing.T) {
	var got map[string]any
	engine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/log" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer engine.Close()

	c := NewClient(ClientConfig{MemoryEngineURL: engine.URL}, nil)
	now := time.Now().UTC()
	err := c.LogConversation(context.Background(), session.ConversationLog{
		SessionID: "s1",
		EntityID:  "e1",
		Messages: []session.ConversationMessage{
			{Role: session.RoleUser, Content: "hi", Timestamp: now},
			{Role: session.RoleAssistant, Content: "hello", Timestamp: now},
		},
		StartedAt: now,
		EndedAt:   now.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("LogConversation() error = %v", err)
	}
	if got["entity_id"] != "e1" || got["channel"] != "voice" {
		t.Fatalf("payload = %+v", got)
	}
	content, _ := got["content"].(string)
	if !strings.Contains(content, "user: hi") || !strings.Contains(content, "assistant: hello") {
		t.Fatalf("content = %q", content)
	}
}

func TestPublishEventUnconfigured(t *testing.T) {
	c := NewClient(ClientConfig{}, nil)
	err := c.PublishEvent(context.Background(), session.LifecycleEvent{Type: session.EventSessionStarted})
	if err != nil {
		t.Fatalf("PublishEvent() without orchestrator should be a no-op, got %v", err)
	}
}

func TestPublishEvent(t *testing.T) {
	var got map[string]any
	orch := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events/publish" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer orch.Close()

	c := NewClient(ClientConfig{OrchestratorURL: orch.URL}, nil)
	err := c.PublishEvent(context.Background(), session.LifecycleEvent{
		Type:      session.EventSessionEnded,
		EntityID:  "e1",
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}
	event, _ := got["event"].(map[string]any)
	if event["type"] != session.EventSessionEnded || event["entity_id"] != "e1" {
		t.Fatalf("event = %+v", event)
	}
}
