package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mkoren-dev/voicebridge/internal/observability"
	"github.com/mkoren-dev/voicebridge/internal/reliability"
)

// Dispatcher executes named tool calls against the fixed collaborator
// services. Tool-level failures never surface as Go errors: every outcome is
// a JSON result so the upstream model can react to it in-conversation.
type Dispatcher struct {
	client          *http.Client
	orchestratorURL string
	memoryURL       string
	dnaURL          string
	metrics         *observability.Metrics
	routes          map[string]routeFunc
}

type routeFunc func(ctx context.Context, entityID string, args map[string]any) (json.RawMessage, error)

type DispatcherConfig struct {
	OrchestratorURL string
	MemoryEngineURL string
	DNAEngineURL    string
}

func NewDispatcher(cfg DispatcherConfig, metrics *observability.Metrics) *Dispatcher {
	d := &Dispatcher{
		client:          &http.Client{Timeout: 30 * time.Second},
		orchestratorURL: strings.TrimRight(cfg.OrchestratorURL, "/"),
		memoryURL:       strings.TrimRight(cfg.MemoryEngineURL, "/"),
		dnaURL:          strings.TrimRight(cfg.DNAEngineURL, "/"),
		metrics:         metrics,
	}
	d.routes = map[string]routeFunc{
		"get_calendar_events":   d.getCalendarEvents,
		"create_calendar_event": d.createCalendarEvent,
		"get_recent_emails":     d.getRecentEmails,
		"send_email":            d.sendEmail,
		"get_memory_context":    d.getMemoryContext,
		"get_user_preferences":  d.getUserPreferences,
		"create_task":           d.createTask,
		"get_contacts":          d.getContacts,
	}
	return d
}

func errorResult(msg string) string {
	out, _ := json.Marshal(map[string]string{"error": msg})
	return string(out)
}

// Execute runs one tool call and returns the result JSON. Builtins are
// acknowledged without local execution; unknown tools, malformed arguments
// and collaborator failures all produce an {"error": ...} result.
func (d *Dispatcher) Execute(ctx context.Context, entityID, toolName, argsJSON string) string {
	if IsBuiltin(toolName) {
		d.observe(toolName, "builtin")
		return `{"status":"handled_upstream"}`
	}

	route, ok := d.routes[toolName]
	if !ok {
		d.observe(toolName, "unknown")
		return errorResult(fmt.Sprintf("unknown tool: %s", toolName))
	}

	args := map[string]any{}
	if strings.TrimSpace(argsJSON) != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			d.observe(toolName, "bad_arguments")
			return errorResult("invalid arguments")
		}
	}

	result, err := route(ctx, entityID, args)
	if err != nil {
		d.observe(toolName, "failed")
		return errorResult(err.Error())
	}
	d.observe(toolName, "ok")
	return string(result)
}

func (d *Dispatcher) observe(tool, outcome string) {
	if d.metrics != nil {
		d.metrics.ToolCalls.WithLabelValues(tool, outcome).Inc()
	}
}

func (d *Dispatcher) getCalendarEvents(ctx context.Context, entityID string, args map[string]any) (json.RawMessage, error) {
	return d.doGET(ctx, d.orchestratorURL+"/calendar/"+url.PathEscape(entityID)+"/events", url.Values{
		"days_ahead":      {intArg(args, "days_ahead", 7)},
		"include_details": {boolArg(args, "include_details", true)},
	})
}

func (d *Dispatcher) createCalendarEvent(ctx context.Context, entityID string, args map[string]any) (json.RawMessage, error) {
	return d.doPOST(ctx, d.orchestratorURL+"/calendar/"+url.PathEscape(entityID)+"/events", args)
}

func (d *Dispatcher) getRecentEmails(ctx context.Context, entityID string, args map[string]any) (json.RawMessage, error) {
	return d.doGET(ctx, d.orchestratorURL+"/email/"+url.PathEscape(entityID)+"/messages", url.Values{
		"count":       {intArg(args, "count", 10)},
		"unread_only": {boolArg(args, "unread_only", false)},
	})
}

func (d *Dispatcher) sendEmail(ctx context.Context, entityID string, args map[string]any) (json.RawMessage, error) {
	return d.doPOST(ctx, d.orchestratorURL+"/email/"+url.PathEscape(entityID)+"/send", args)
}

func (d *Dispatcher) getMemoryContext(ctx context.Context, entityID string, args map[string]any) (json.RawMessage, error) {
	body := map[string]any{
		"entity_id":       entityID,
		"query":           args["query"],
		"time_range_days": args["time_range_days"],
		"memory_types":    args["memory_types"],
	}
	return d.doPOST(ctx, d.memoryURL+"/search", body)
}

func (d *Dispatcher) getUserPreferences(ctx context.Context, entityID string, args map[string]any) (json.RawMessage, error) {
	return d.doGET(ctx, d.dnaURL+"/entity/"+url.PathEscape(entityID)+"/preferences", url.Values{
		"category": {stringArg(args, "category")},
	})
}

func (d *Dispatcher) createTask(ctx context.Context, entityID string, args map[string]any) (json.RawMessage, error) {
	return d.doPOST(ctx, d.orchestratorURL+"/tasks/"+url.PathEscape(entityID), args)
}

func (d *Dispatcher) getContacts(ctx context.Context, entityID string, args map[string]any) (json.RawMessage, error) {
	return d.doGET(ctx, d.orchestratorURL+"/contacts/"+url.PathEscape(entityID)+"/search", url.Values{
		"query": {stringArg(args, "query")},
		"limit": {intArg(args, "limit", 5)},
	})
}

func (d *Dispatcher) doGET(ctx context.Context, rawURL string, params url.Values) (json.RawMessage, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return d.do(req)
}

func (d *Dispatcher) doPOST(ctx context.Context, rawURL string, body any) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return d.do(req)
}

func (d *Dispatcher) do(req *http.Request) (json.RawMessage, error) {
	res, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		if reliability.IsRetryableHTTPStatus(res.StatusCode) {
			return nil, fmt.Errorf("collaborator temporarily unavailable (status %d): %s", res.StatusCode, string(body))
		}
		return nil, fmt.Errorf("collaborator status %d: %s", res.StatusCode, string(body))
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("collaborator returned non-JSON response")
	}
	return json.RawMessage(body), nil
}

func intArg(args map[string]any, key string, fallback int) string {
	if v, ok := args[key]; ok {
		if f, ok := v.(float64); ok {
			return fmt.Sprintf("%d", int(f))
		}
	}
	return fmt.Sprintf("%d", fallback)
}

func boolArg(args map[string]any, key string, fallback bool) string {
	if v, ok := args[key]; ok {
		if b, ok := v.(bool); ok {
			return fmt.Sprintf("%t", b)
		}
	}
	return fmt.Sprintf("%t", fallback)
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
