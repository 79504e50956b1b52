// Package registry issues agent identities and resolves opaque bearer
// tokens back to them. A single mailbox owns the token mapping; tokens are
// stored hashed at rest.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chess-arena/internal/actor"
	"chess-arena/internal/apperr"
	"chess-arena/internal/names"
	"chess-arena/internal/storage"
)

const tokenPrefix = "agt_"

// Agent is the public identity record.
type Agent struct {
	ID         string `json:"agentId"`
	Name       string `json:"name"`
	LastSeenMs int64  `json:"lastSeenMs"`
}

type storedAgent struct {
	Agent
	TokenHash string `json:"tokenHash"`
}

type tokenRef struct {
	AgentID string `json:"agentId"`
}

// Registry is the single-writer owner of the token -> agent mapping.
type Registry struct {
	mb    *actor.Mailbox
	store storage.Store
	clock func() time.Time
	log   zerolog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides time.Now, used by tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) { r.clock = clock }
}

func New(store storage.Store, log zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		mb:    actor.NewMailbox(64),
		store: store,
		clock: time.Now,
		log:   log.With().Str("component", "registry").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Close() {
	r.mb.Close()
}

// Register creates a fresh identity and bearer token. Every call creates a
// new agent; a blank name gets a generated one.
func (r *Registry) Register(ctx context.Context, name string) (Agent, string, error) {
	type issued struct {
		agent Agent
		token string
	}
	out, err := actor.Call(ctx, r.mb, func() (issued, error) {
		name = strings.TrimSpace(name)
		if name == "" {
			name = names.Random()
		}

		token := tokenPrefix + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
		hash := hashToken(token)
		agent := Agent{
			ID:         uuid.NewString(),
			Name:       name,
			LastSeenMs: r.clock().UnixMilli(),
		}

		if err := r.store.Put(ctx, storage.KindAgents, agent.ID, storedAgent{Agent: agent, TokenHash: hash}); err != nil {
			return issued{}, err
		}
		if err := r.store.Put(ctx, storage.KindTokens, hash, tokenRef{AgentID: agent.ID}); err != nil {
			return issued{}, err
		}

		r.log.Info().Str("agentId", agent.ID).Str("name", agent.Name).Msg("agent registered")
		return issued{agent: agent, token: token}, nil
	})
	if err != nil {
		return Agent{}, "", err
	}
	return out.agent, out.token, nil
}

// Lookup resolves a bearer token to its agent and touches lastSeenMs.
func (r *Registry) Lookup(ctx context.Context, token string) (Agent, error) {
	return actor.Call(ctx, r.mb, func() (Agent, error) {
		return r.touch(ctx, token)
	})
}

// Heartbeat is Lookup under a different name so liveness probing and auth
// resolution can be rate-limited independently at the edge.
func (r *Registry) Heartbeat(ctx context.Context, token string) (Agent, error) {
	return actor.Call(ctx, r.mb, func() (Agent, error) {
		return r.touch(ctx, token)
	})
}

// Resolve looks an agent up by id without touching lastSeenMs. The queue
// uses it to confirm a pairing partner still exists.
func (r *Registry) Resolve(ctx context.Context, agentID string) (Agent, error) {
	return actor.Call(ctx, r.mb, func() (Agent, error) {
		var stored storedAgent
		if err := r.store.Get(ctx, storage.KindAgents, agentID, &stored); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return Agent{}, apperr.New(apperr.CodeNotFound, "unknown agent")
			}
			return Agent{}, err
		}
		return stored.Agent, nil
	})
}

// touch runs inside the mailbox.
func (r *Registry) touch(ctx context.Context, token string) (Agent, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Agent{}, apperr.New(apperr.CodeUnknownToken, "missing agent token")
	}

	var ref tokenRef
	if err := r.store.Get(ctx, storage.KindTokens, hashToken(token), &ref); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Agent{}, apperr.New(apperr.CodeUnknownToken, "unknown agent token")
		}
		return Agent{}, err
	}

	var stored storedAgent
	if err := r.store.Get(ctx, storage.KindAgents, ref.AgentID, &stored); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Agent{}, apperr.New(apperr.CodeUnknownToken, "unknown agent token")
		}
		return Agent{}, err
	}

	stored.LastSeenMs = r.clock().UnixMilli()
	if err := r.store.Put(ctx, storage.KindAgents, stored.ID, stored); err != nil {
		return Agent{}, err
	}
	return stored.Agent, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
