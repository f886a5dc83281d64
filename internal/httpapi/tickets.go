package httpapi

import (
	"sync"
	"time"

	"github.com/mkoren-dev/voicebridge/internal/session"
)

// ticket is a one-time websocket admission created by POST /session.
type ticket struct {
	entityID  string
	cfg       session.Config
	expiresAt time.Time
}

type ticketStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	tickets map[string]ticket
}

func newTicketStore(ttl time.Duration) *ticketStore {
	return &ticketStore{
		ttl:     ttl,
		tickets: make(map[string]ticket),
	}
}

func (s *ticketStore) put(token, entityID string, cfg session.Config) time.Time {
	now := time.Now().UTC()
	expiresAt := now.Add(s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	for tok, t := range s.tickets {
		if now.After(t.expiresAt) {
			delete(s.tickets, tok)
		}
	}
	s.tickets[token] = ticket{entityID: entityID, cfg: cfg, expiresAt: expiresAt}
	return expiresAt
}

// take consumes a token. A token is valid at most once.
func (s *ticketStore) take(token string) (ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[token]
	if !ok {
		return ticket{}, false
	}
	delete(s.tickets, token)
	if time.Now().UTC().After(t.expiresAt) {
		return ticket{}, false
	}
	return t, true
}
