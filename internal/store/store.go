package store

import "context"

// Store defines the persistence layer contract for playback traces.
// All implementations must be safe for concurrent use.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, sess *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	CloseSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context, filter SessionFilter) ([]*Session, error)
	DeleteSession(ctx context.Context, id string) error

	// Debug trace (append-only)
	GetEvents(ctx context.Context, sessionID string, since int64) ([]*Event, error)
	GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
