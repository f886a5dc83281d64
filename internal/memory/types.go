package memory

import (
	"context"
	"time"
)

// ConversationRecord is one archived voice conversation.
type ConversationRecord struct {
	ID           string    `json:"id"`
	EntityID     string    `json:"entity_id"`
	SessionID    string    `json:"session_id"`
	Content      string    `json:"content"`
	Summary      string    `json:"summary"`
	MessageCount int       `json:"message_count"`
	ToolCalls    int       `json:"tool_calls"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
}

// Store archives finished conversations and serves recent summaries.
type Store interface {
	SaveConversation(ctx context.Context, record ConversationRecord) error
	RecentSummaries(ctx context.Context, entityID string, limit int) ([]string, error)
	Close() error
}
