package upstream

import (
	"fmt"
	"strings"
)

// EntityContext is the identity snapshot loaded from the profile service,
// used to anchor the upstream system instructions. Absence is tolerated.
type EntityContext struct {
	EntityID           string
	Name               string
	MasterPrompt       string
	Values             []string
	Goals              []string
	CommunicationStyle string
	RecentContext      string
}

// SessionSettings is the per-session configuration the translator renders
// into the upstream session.update payload.
type SessionSettings struct {
	Voice              string
	Language           string
	AudioFormat        string
	SampleRate         int
	CustomInstructions string
}

// VADParams tunes the upstream server-side turn detection.
type VADParams struct {
	Threshold         float64
	PrefixPaddingMS   int
	SilenceDurationMS int
}

// SessionUpdate is the session.update envelope sent on connect and on live
// config changes.
type SessionUpdate struct {
	Type    string         `json:"type"`
	Session map[string]any `json:"session"`
}

// interactionProtocol is the fixed options block appended after identity and
// language so it cannot override either.
const interactionProtocol = `## Interaction protocol
When proposing an action or helping with a decision, always present the
relevant options:
1. Full autonomy: "I'll do this now" - when the action is clear and safe.
2. Recommendation with approval: "I recommend X, shall I?" - when approval is needed.
3. Choice: "Here are the options: A, B, C - which do you prefer?" - when several paths exist.
4. Clarification: "I need more information before I can help" - when details are missing.`

func languageDirective(lang string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "", "en":
		return "Speak naturally and fluently in English. Use everyday, warm language."
	case "he":
		return "Speak naturally and fluently in Hebrew. Use everyday, warm language and be attentive to cultural nuance."
	default:
		return fmt.Sprintf("Speak naturally and fluently in the language with code %q.", lang)
	}
}

// BuildInstructions assembles the system instructions for the upstream
// session. Order is significant: identity first, then language, then the
// interaction protocol, then custom instructions, so later blocks cannot
// contradict the identity framing.
func BuildInstructions(ec *EntityContext, language, custom string) string {
	var parts []string

	if ec != nil {
		var identity strings.Builder
		identity.WriteString("# Identity\n")
		fmt.Fprintf(&identity, "You are the strategic partner of %s.\n", ec.Name)
		if ec.MasterPrompt != "" {
			identity.WriteString("\n## Your role\n" + ec.MasterPrompt)
		} else {
			identity.WriteString("\n## Your role\nHelp and support in every possible way.")
		}
		parts = append(parts, identity.String())

		if len(ec.Values) > 0 {
			vals := ec.Values
			if len(vals) > 5 {
				vals = vals[:5]
			}
			parts = append(parts, "## Guiding values\n"+strings.Join(vals, ", "))
		}
		if len(ec.Goals) > 0 {
			goals := ec.Goals
			if len(goals) > 3 {
				goals = goals[:3]
			}
			lines := make([]string, 0, len(goals))
			for _, g := range goals {
				lines = append(lines, "- "+g)
			}
			parts = append(parts, "## Current goals\n"+strings.Join(lines, "\n"))
		}
		if ec.CommunicationStyle != "" {
			parts = append(parts, "## Communication style\n"+ec.CommunicationStyle)
		}
		if ec.RecentContext != "" {
			parts = append(parts, "## Recent context\n"+ec.RecentContext)
		}
	} else {
		parts = append(parts, "# Identity\nYou are a thoughtful personal assistant. Your goal: help the user thrive.")
	}

	parts = append(parts, "# Language\n"+languageDirective(language))
	parts = append(parts, interactionProtocol)

	if strings.TrimSpace(custom) != "" {
		parts = append(parts, "# Additional instructions\n"+strings.TrimSpace(custom))
	}

	return strings.Join(parts, "\n\n")
}

// BuildSessionUpdate renders the full session.update payload.
func BuildSessionUpdate(settings SessionSettings, ec *EntityContext, vad VADParams, tools []any) SessionUpdate {
	if tools == nil {
		tools = []any{}
	}
	return SessionUpdate{
		Type: "session.update",
		Session: map[string]any{
			"voice":               settings.Voice,
			"instructions":        BuildInstructions(ec, settings.Language, settings.CustomInstructions),
			"input_audio_format":  settings.AudioFormat,
			"output_audio_format": settings.AudioFormat,
			"input_audio_transcription": map[string]any{
				"model": "grok-2-vision-latest",
			},
			"turn_detection": map[string]any{
				"type":                "server_vad",
				"threshold":           vad.Threshold,
				"prefix_padding_ms":   vad.PrefixPaddingMS,
				"silence_duration_ms": vad.SilenceDurationMS,
				"create_response":     true,
				"interrupt_response":  true,
			},
			"tools": tools,
		},
	}
}
