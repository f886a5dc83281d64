package tools

// Builtin tool names handled entirely by the upstream provider. The gateway
// never executes these and never returns a result for them.
const (
	BuiltinWebSearch = "web_search"
	BuiltinXSearch   = "x_search"
)

// IsBuiltin reports whether the upstream provider executes the tool itself.
func IsBuiltin(name string) bool {
	return name == BuiltinWebSearch || name == BuiltinXSearch
}

func functionDef(name, description string, properties map[string]any, required []string) map[string]any {
	params := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		params["required"] = required
	}
	return map[string]any{
		"type":        "function",
		"name":        name,
		"description": description,
		"parameters":  params,
	}
}

// Definitions returns the tool list for the upstream session configuration.
func Definitions(toolsEnabled, webSearch, xSearch bool) []any {
	if !toolsEnabled {
		return []any{}
	}

	defs := make([]any, 0, 10)
	if webSearch {
		defs = append(defs, map[string]any{"type": BuiltinWebSearch})
	}
	if xSearch {
		defs = append(defs, map[string]any{"type": BuiltinXSearch})
	}

	defs = append(defs,
		functionDef("get_calendar_events",
			"Get the user's upcoming calendar events.",
			map[string]any{
				"days_ahead":      map[string]any{"type": "integer", "description": "Number of days ahead to look for events", "default": 7},
				"include_details": map[string]any{"type": "boolean", "description": "Whether to include full event details", "default": true},
			}, nil),
		functionDef("create_calendar_event",
			"Create a new calendar event for the user.",
			map[string]any{
				"title":       map[string]any{"type": "string", "description": "Event title"},
				"start_time":  map[string]any{"type": "string", "format": "date-time", "description": "Event start time in ISO format"},
				"end_time":    map[string]any{"type": "string", "format": "date-time", "description": "Event end time in ISO format"},
				"description": map[string]any{"type": "string", "description": "Event description"},
				"location":    map[string]any{"type": "string", "description": "Event location"},
				"attendees":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Attendee email addresses"},
			}, []string{"title", "start_time"}),
		functionDef("get_recent_emails",
			"Get the user's recent emails.",
			map[string]any{
				"count":        map[string]any{"type": "integer", "description": "Number of emails to retrieve", "default": 10},
				"unread_only":  map[string]any{"type": "boolean", "description": "Only retrieve unread emails", "default": false},
				"from_address": map[string]any{"type": "string", "description": "Filter by sender email address"},
			}, nil),
		functionDef("send_email",
			"Send an email on behalf of the user.",
			map[string]any{
				"to":      map[string]any{"type": "string", "description": "Recipient email address"},
				"subject": map[string]any{"type": "string", "description": "Email subject"},
				"body":    map[string]any{"type": "string", "description": "Email body content"},
				"cc":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "CC recipients"},
			}, []string{"to", "subject", "body"}),
		functionDef("get_memory_context",
			"Retrieve relevant context from the user's memory.",
			map[string]any{
				"query":           map[string]any{"type": "string", "description": "Search query for memory retrieval"},
				"time_range_days": map[string]any{"type": "integer", "description": "How many days back to search", "default": 30},
				"memory_types":    map[string]any{"type": "array", "items": map[string]any{"type": "string", "enum": []string{"conversation", "event", "task", "decision"}}, "description": "Types of memories to search"},
			}, []string{"query"}),
		functionDef("get_user_preferences",
			"Get user preferences for a specific topic.",
			map[string]any{
				"category": map[string]any{"type": "string", "description": "Preference category (e.g. 'communication', 'scheduling', 'work')"},
			}, []string{"category"}),
		functionDef("create_task",
			"Create a task or reminder for the user.",
			map[string]any{
				"title":       map[string]any{"type": "string", "description": "Task title"},
				"description": map[string]any{"type": "string", "description": "Task description"},
				"due_date":    map[string]any{"type": "string", "format": "date-time", "description": "Task due date"},
				"priority":    map[string]any{"type": "string", "enum": []string{"low", "medium", "high", "urgent"}, "description": "Task priority level"},
				"tags":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Task tags for categorization"},
			}, []string{"title"}),
		functionDef("get_contacts",
			"Search the user's contacts.",
			map[string]any{
				"query": map[string]any{"type": "string", "description": "Search query (name, email, company)"},
				"limit": map[string]any{"type": "integer", "description": "Maximum number of results", "default": 5},
			}, []string{"query"}),
	)

	return defs
}
