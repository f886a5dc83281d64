package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestExecuteBuiltinPassthrough(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{}, nil)
	out := d.Execute(context.Background(), "e1", BuiltinWebSearch, "{}")
	if out != `{"status":"handled_upstream"}` {
		t.Fatalf("builtin result = %q", out)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{}, nil)
	out := d.Execute(context.Background(), "e1", "launch_rockets", "{}")
	var res map[string]string
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if !strings.Contains(res["error"], "unknown tool") {
		t.Fatalf("error = %q", res["error"])
	}
}

func TestExecuteInvalidArguments(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{}, nil)
	out := d.Execute(context.Background(), "e1", "create_task", `{not json`)
	var res map[string]string
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if res["error"] != "invalid arguments" {
		t.Fatalf("error = %q", res["error"])
	}
}

func TestExecuteCollaboratorFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewDispatcher(DispatcherConfig{OrchestratorURL: srv.URL}, nil)
	out := d.Execute(context.Background(), "e1", "create_task", `{"title":"x"}`)
	var res map[string]string
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if res["error"] == "" {
		t.Fatalf("expected error result, got %q", out)
	}
}

func TestExecuteCalendarGET(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"events":[]}`))
	}))
	defer srv.Close()

	d := NewDispatcher(DispatcherConfig{OrchestratorURL: srv.URL}, nil)
	out := d.Execute(context.Background(), "e1", "get_calendar_events", `{"days_ahead":3}`)
	if out != `{"events":[]}` {
		t.Fatalf("result = %q", out)
	}
	if gotPath != "/calendar/e1/events" {
		t.Fatalf("path = %q", gotPath)
	}
	if !strings.Contains(gotQuery, "days_ahead=3") {
		t.Fatalf("query = %q", gotQuery)
	}
}

func TestExecuteSendEmailPOST(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"sent"}`))
	}))
	defer srv.Close()

	d := NewDispatcher(DispatcherConfig{OrchestratorURL: srv.URL}, nil)
	out := d.Execute(context.Background(), "e1", "send_email", `{"to":"a@b.c","subject":"hi"}`)
	if out != `{"status":"sent"}` {
		t.Fatalf("result = %q", out)
	}
	if gotBody["to"] != "a@b.c" {
		t.Fatalf("forwarded body = %v", gotBody)
	}
}

func TestExecuteNonJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>oops</html>"))
	}))
	defer srv.Close()

	d := NewDispatcher(DispatcherConfig{DNAEngineURL: srv.URL}, nil)
	out := d.Execute(context.Background(), "e1", "get_user_preferences", "{}")
	var res map[string]string
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if res["error"] == "" {
		t.Fatalf("expected error result, got %q", out)
	}
}

func TestDefinitionsDisabled(t *testing.T) {
	defs := Definitions(false, true, true)
	if len(defs) != 0 {
		t.Fatalf("disabled tools should yield no definitions, got %d", len(defs))
	}
}

func TestDefinitionsIncludesBuiltinsAndFunctions(t *testing.T) {
	defs := Definitions(true, true, false)

	var builtins, functions int
	for _, d := range defs {
		m, ok := d.(map[string]any)
		if !ok {
			t.Fatalf("definition is %T", d)
		}
		switch m["type"] {
		case BuiltinWebSearch, BuiltinXSearch:
			builtins++
		case "function":
			functions++
		default:
			t.Fatalf("unexpected definition type %v", m["type"])
		}
	}
	if builtins != 1 {
		t.Fatalf("builtins = %d, want 1", builtins)
	}
	if functions != 8 {
		t.Fatalf("functions = %d, want 8", functions)
	}
}
