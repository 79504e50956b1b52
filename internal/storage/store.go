// Package storage is the persistence boundary for entity state. Each
// actor reads and writes whole state documents by (kind, id); the storage
// engine behind the interface is interchangeable.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no document exists for (kind, id).
var ErrNotFound = errors.New("storage: not found")

// Store is a get/put-by-entity document store. Values are marshalled as
// JSON; out must be a pointer.
type Store interface {
	Get(ctx context.Context, kind, id string, out interface{}) error
	Put(ctx context.Context, kind, id string, v interface{}) error
	Delete(ctx context.Context, kind, id string) error
}

// Entity kinds used across the components.
const (
	KindAgents     = "agents"
	KindTokens     = "tokens"
	KindGames      = "games"
	KindQueue      = "queue"
	KindRatings    = "ratings"
	KindChallenges = "challenges"
)
