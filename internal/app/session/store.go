// Package session tracks one live click session per user.
//
// A session is active until it sees no activity for the configured TTL. An
// idle session is closed lazily by the next GetOrCreate for its user and is
// removed from the live store by ExpireStale, which hands it back to the
// caller for archiving. Closed sessions are never reactivated.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/sifan077/PowerTrack/internal/app/model"
)

// DefaultTTL is the idle period after which a session expires.
const DefaultTTL = 30 * time.Minute

// ErrSessionNotFound is returned when a session is no longer held by the store.
var ErrSessionNotFound = errors.New("session not found")

// Store is the live session keyspace. Implementations apply every mutation
// atomically per session.
type Store interface {
	// GetOrCreate returns the user's active session, starting a new one when
	// none exists or the current one has gone idle.
	GetOrCreate(ctx context.Context, userID string, now time.Time) (*model.ClickSession, error)
	// Touch applies delta to the session and refreshes its activity time.
	// Counters still land on a closed session until it is swept.
	Touch(ctx context.Context, sessionID string, delta model.SessionDelta, now time.Time) (*model.ClickSession, error)
	Get(ctx context.Context, sessionID string) (*model.ClickSession, error)
	// ExpireStale closes every idle session, removes closed sessions from the
	// store, and returns their final state.
	ExpireStale(ctx context.Context, now time.Time) ([]model.ClickSession, error)
}

func newSession(id, userID string, now time.Time) model.ClickSession {
	return model.ClickSession{
		SessionID:      id,
		UserID:         userID,
		StartedAt:      now,
		LastActivityAt: now,
		IsActive:       true,
	}
}
