package memory

import (
	"context"
	"log"
)

// NewStore selects the archive backend. Postgres is used when a database URL
// is configured, otherwise conversations are kept in memory for the lifetime
// of the process.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if databaseURL == "" {
		log.Printf("memory: no database configured, using in-memory archive")
		return NewInMemoryStore(), nil
	}

	store, err := NewPostgresStore(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	log.Printf("memory: postgres archive ready")
	return store, nil
}
