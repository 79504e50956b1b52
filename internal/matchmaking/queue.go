// Package matchmaking owns the global pairing queue: waiting agents, the
// agent -> live-game index, and the active-games listing. The queue is a
// single-writer actor; stale entries and dead mappings are healed on the
// read path, never by a background sweep.
package matchmaking

import (
	"context"
	cryptorand "crypto/rand"
	"errors"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"chess-arena/internal/actor"
	"chess-arena/internal/apperr"
	"chess-arena/internal/names"
	"chess-arena/internal/registry"
	"chess-arena/internal/session"
	"chess-arena/internal/storage"
)

const (
	queueID = "global"

	// staleAfter drops queue entries with no pairing activity.
	staleAfter = 120 * time.Second

	// maxTrackedGames bounds the active-games index.
	maxTrackedGames = 200
)

// Join/status outcomes.
const (
	StatusMatched = "matched"
	StatusWaiting = "waiting"
	StatusIdle    = "idle"
)

// Result is the outcome of a join or status call.
type Result struct {
	Status string `json:"status"`
	GameID string `json:"gameId,omitempty"`
}

// AgentResolver confirms queued agents still exist.
type AgentResolver interface {
	Resolve(ctx context.Context, agentID string) (registry.Agent, error)
}

// Sessions is the slice of the session manager the queue needs.
type Sessions interface {
	Create(ctx context.Context, white, black registry.Agent) (*session.Session, error)
	Status(ctx context.Context, id string) (session.Status, error)
	Get(ctx context.Context, id string) (*session.Session, error)
}

type entry struct {
	AgentID      string `json:"agentId"`
	Name         string `json:"name"`
	EnqueuedAtMs int64  `json:"enqueuedAtMs"`
}

type queueState struct {
	Waiting []entry           `json:"waiting"`
	Active  map[string]string `json:"active"` // agentId -> gameId
	Games   []string          `json:"games"`  // tracked gameIds, oldest first
}

// Queue is the single-writer matchmaking actor.
type Queue struct {
	mb       *actor.Mailbox
	store    storage.Store
	resolver AgentResolver
	sessions Sessions
	clock    func() time.Time
	log      zerolog.Logger
	st       queueState
	loaded   bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides time.Now, used by tests.
func WithClock(clock func() time.Time) Option {
	return func(q *Queue) { q.clock = clock }
}

func New(store storage.Store, resolver AgentResolver, sessions Sessions, log zerolog.Logger, opts ...Option) *Queue {
	q := &Queue{
		mb:       actor.NewMailbox(64),
		store:    store,
		resolver: resolver,
		sessions: sessions,
		clock:    time.Now,
		log:      log.With().Str("component", "matchmaking").Logger(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Close() {
	q.mb.Close()
}

// load runs inside the mailbox.
func (q *Queue) load(ctx context.Context) error {
	if q.loaded {
		return nil
	}
	var st queueState
	err := q.store.Get(ctx, storage.KindQueue, queueID, &st)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if st.Active == nil {
		st.Active = make(map[string]string)
	}
	q.st = st
	q.loaded = true
	return nil
}

func (q *Queue) persist(ctx context.Context) error {
	return q.store.Put(ctx, storage.KindQueue, queueID, q.st)
}

// Join enters the agent into matchmaking. If a partner is already waiting
// the pairing happens immediately; otherwise the agent waits.
func (q *Queue) Join(ctx context.Context, agent registry.Agent) (Result, error) {
	return actor.Call(ctx, q.mb, func() (Result, error) {
		if err := q.load(ctx); err != nil {
			return Result{}, err
		}

		// An agent with a live game is simply pointed back at it.
		if gameID, ok := q.liveGame(ctx, agent.ID); ok {
			return Result{Status: StatusMatched, GameID: gameID}, nil
		}

		q.pruneStale()

		for _, e := range q.st.Waiting {
			if e.AgentID == agent.ID {
				// Idempotent re-join.
				if err := q.persist(ctx); err != nil {
					return Result{}, err
				}
				return Result{Status: StatusWaiting}, nil
			}
		}

		if partner, ok := q.takePartner(ctx, agent); ok {
			gameID, err := q.createMatch(ctx, agent, partner)
			if err != nil {
				// Pairing fell through; requeue the joining agent rather
				// than failing the call.
				q.enqueue(agent)
				if perr := q.persist(ctx); perr != nil {
					return Result{}, perr
				}
				q.log.Warn().Err(err).Msg("match creation failed, agent requeued")
				return Result{Status: StatusWaiting}, nil
			}
			if err := q.persist(ctx); err != nil {
				return Result{}, err
			}
			return Result{Status: StatusMatched, GameID: gameID}, nil
		}

		q.enqueue(agent)
		if err := q.persist(ctx); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusWaiting}, nil
	})
}

// Status reports the agent's matchmaking state. As a side effect it may
// opportunistically pair the two earliest waiters, compensating for
// clients that join once and then only poll.
func (q *Queue) Status(ctx context.Context, agentID string) (Result, error) {
	return actor.Call(ctx, q.mb, func() (Result, error) {
		if err := q.load(ctx); err != nil {
			return Result{}, err
		}

		if gameID, ok := q.liveGame(ctx, agentID); ok {
			return Result{Status: StatusMatched, GameID: gameID}, nil
		}

		q.pruneStale()
		q.pairEarliest(ctx)

		if err := q.persist(ctx); err != nil {
			return Result{}, err
		}

		// The opportunistic pairing may have matched the caller.
		if gameID, ok := q.st.Active[agentID]; ok {
			return Result{Status: StatusMatched, GameID: gameID}, nil
		}
		for _, e := range q.st.Waiting {
			if e.AgentID == agentID {
				return Result{Status: StatusWaiting}, nil
			}
		}
		return Result{Status: StatusIdle}, nil
	})
}

// StartMatch creates a game for an externally arranged pairing (the
// challenge acceptance path): both agents must be free of live games,
// colors are coin-flipped, and the new game is recorded in the active
// index exactly as a queue pairing would be.
func (q *Queue) StartMatch(ctx context.Context, a, b registry.Agent) (string, error) {
	return actor.Call(ctx, q.mb, func() (string, error) {
		if err := q.load(ctx); err != nil {
			return "", err
		}
		for _, agent := range []registry.Agent{a, b} {
			if live, ok := q.liveGame(ctx, agent.ID); ok {
				return "", apperr.Newf(apperr.CodeConflict, "agent already in active game %s", live)
			}
		}
		gameID, err := q.createMatch(ctx, a, b)
		if err != nil {
			return "", err
		}
		q.removeWaiting(a.ID)
		q.removeWaiting(b.ID)
		return gameID, q.persist(ctx)
	})
}

// ListActive returns summaries for tracked games that are still running,
// pruning finished ones from the index as it goes.
func (q *Queue) ListActive(ctx context.Context, limit int) ([]session.Summary, error) {
	return actor.Call(ctx, q.mb, func() ([]session.Summary, error) {
		if err := q.load(ctx); err != nil {
			return nil, err
		}
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		kept := q.st.Games[:0]
		summaries := make([]session.Summary, 0, len(q.st.Games))
		for _, gameID := range q.st.Games {
			s, err := q.sessions.Get(ctx, gameID)
			if err != nil {
				continue // session gone, drop the index entry
			}
			summary, err := s.Summarize(ctx)
			if err != nil || summary.Status.Terminal() {
				continue
			}
			kept = append(kept, gameID)
			summaries = append(summaries, summary)
		}
		q.st.Games = kept

		if err := q.persist(ctx); err != nil {
			return nil, err
		}

		// Newest games first.
		for i, j := 0, len(summaries)-1; i < j; i, j = i+1, j-1 {
			summaries[i], summaries[j] = summaries[j], summaries[i]
		}
		if len(summaries) > limit {
			summaries = summaries[:limit]
		}
		return summaries, nil
	})
}

// liveGame runs inside the mailbox. It confirms a recorded mapping with
// the session itself and clears it when the game has ended.
func (q *Queue) liveGame(ctx context.Context, agentID string) (string, bool) {
	gameID, ok := q.st.Active[agentID]
	if !ok {
		return "", false
	}
	status, err := q.sessions.Status(ctx, gameID)
	if err == nil && !status.Terminal() {
		return gameID, true
	}
	delete(q.st.Active, agentID)
	return "", false
}

// pruneStale runs inside the mailbox.
func (q *Queue) pruneStale() {
	cutoff := q.clock().Add(-staleAfter).UnixMilli()
	kept := q.st.Waiting[:0]
	for _, e := range q.st.Waiting {
		if e.EnqueuedAtMs >= cutoff {
			kept = append(kept, e)
		}
	}
	q.st.Waiting = kept
}

// takePartner runs inside the mailbox. It selects and removes a pairing
// partner for agent: the earliest-queued candidate with a different
// normalized display name, falling back to the earliest candidate. Entries
// that no longer resolve are dropped on the way.
func (q *Queue) takePartner(ctx context.Context, agent registry.Agent) (registry.Agent, bool) {
	for {
		joinerName := names.Normalize(agent.Name)

		pick := -1
		for i, e := range q.st.Waiting {
			if e.AgentID == agent.ID {
				continue
			}
			if pick < 0 {
				pick = i
			}
			if names.Normalize(e.Name) != joinerName {
				pick = i
				break
			}
		}
		if pick < 0 {
			return registry.Agent{}, false
		}

		candidate := q.st.Waiting[pick]
		q.st.Waiting = append(q.st.Waiting[:pick], q.st.Waiting[pick+1:]...)

		partner, err := q.resolver.Resolve(ctx, candidate.AgentID)
		if err == nil {
			return partner, true
		}
		q.log.Debug().Str("agentId", candidate.AgentID).Msg("dropping unresolvable queue entry")
	}
}

// pairEarliest runs inside the mailbox: one opportunistic pairing of the
// earliest waiters, applying the same name-avoidance rule.
func (q *Queue) pairEarliest(ctx context.Context) {
	for len(q.st.Waiting) >= 2 {
		first := q.st.Waiting[0]
		agent, err := q.resolver.Resolve(ctx, first.AgentID)
		if err != nil {
			q.st.Waiting = q.st.Waiting[1:]
			continue
		}
		q.st.Waiting = q.st.Waiting[1:]

		partner, ok := q.takePartner(ctx, agent)
		if !ok {
			// Nobody left to pair with; put the first waiter back in front.
			q.st.Waiting = append([]entry{first}, q.st.Waiting...)
			return
		}

		if _, err := q.createMatch(ctx, agent, partner); err != nil {
			q.log.Warn().Err(err).Msg("opportunistic pairing failed")
			q.st.Waiting = append([]entry{first}, q.st.Waiting...)
		}
		return
	}
}

// createMatch runs inside the mailbox: coin-flip colors, create the
// session, record both active mappings.
func (q *Queue) createMatch(ctx context.Context, a, b registry.Agent) (string, error) {
	white, black := a, b
	if coinFlip() {
		white, black = b, a
	}

	s, err := q.sessions.Create(ctx, white, black)
	if err != nil {
		return "", err
	}
	gameID := s.ID()

	q.st.Active[a.ID] = gameID
	q.st.Active[b.ID] = gameID
	q.trackGame(gameID)

	q.log.Info().
		Str("gameId", gameID).
		Str("white", white.Name).
		Str("black", black.Name).
		Msg("agents paired")
	return gameID, nil
}

// enqueue runs inside the mailbox.
func (q *Queue) enqueue(agent registry.Agent) {
	q.st.Waiting = append(q.st.Waiting, entry{
		AgentID:      agent.ID,
		Name:         agent.Name,
		EnqueuedAtMs: q.clock().UnixMilli(),
	})
}

// removeWaiting runs inside the mailbox.
func (q *Queue) removeWaiting(agentID string) {
	kept := q.st.Waiting[:0]
	for _, e := range q.st.Waiting {
		if e.AgentID != agentID {
			kept = append(kept, e)
		}
	}
	q.st.Waiting = kept
}

// trackGame runs inside the mailbox.
func (q *Queue) trackGame(gameID string) {
	q.st.Games = append(q.st.Games, gameID)
	if len(q.st.Games) > maxTrackedGames {
		q.st.Games = q.st.Games[len(q.st.Games)-maxTrackedGames:]
	}
}

// coinFlip draws an unbiased bit for color assignment.
func coinFlip() bool {
	n, err := cryptorand.Int(cryptorand.Reader, big.NewInt(2))
	if err != nil {
		return time.Now().UnixNano()&1 == 0
	}
	return n.Int64() == 1
}
