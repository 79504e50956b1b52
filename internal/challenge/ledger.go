// Package challenge manages direct match invitations: an agent opens a
// challenge, any other agent can accept it within the window, and
// acceptance creates the game on the spot. One single-writer actor owns
// the whole challenge table; expiry is settled lazily on access.
package challenge

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chess-arena/internal/actor"
	"chess-arena/internal/apperr"
	"chess-arena/internal/registry"
	"chess-arena/internal/storage"
)

const (
	ledgerID = "global"

	// Window during which an open challenge can be accepted.
	openFor = 15 * time.Minute

	// maxChallenges bounds the table; oldest entries are evicted first.
	maxChallenges = 200
)

// Challenge statuses.
const (
	StatusOpen     = "open"
	StatusAccepted = "accepted"
	StatusExpired  = "expired"
)

// Challenge is one invitation, as stored and as served.
type Challenge struct {
	ID           string `json:"challengeId"`
	CreatorID    string `json:"creatorAgentId"`
	CreatorName  string `json:"creatorName"`
	Status       string `json:"status"`
	CreatedAtMs  int64  `json:"createdAtMs"`
	ExpiresAtMs  int64  `json:"expiresAtMs"`
	AcceptedByID string `json:"acceptedByAgentId,omitempty"`
	GameID       string `json:"gameId,omitempty"`
}

// GameStarter creates the game for an accepted challenge and records the
// pairing, refusing agents that are already in a live game.
type GameStarter interface {
	StartMatch(ctx context.Context, a, b registry.Agent) (string, error)
}

type ledgerState struct {
	Challenges []Challenge `json:"challenges"` // oldest first
}

// Ledger is the single-writer challenge actor.
type Ledger struct {
	mb      *actor.Mailbox
	store   storage.Store
	starter GameStarter
	clock   func() time.Time
	log     zerolog.Logger
	st      ledgerState
	loaded  bool
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides time.Now, used by tests.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

func New(store storage.Store, starter GameStarter, log zerolog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		mb:      actor.NewMailbox(32),
		store:   store,
		starter: starter,
		clock:   time.Now,
		log:     log.With().Str("component", "challenge").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Close() {
	l.mb.Close()
}

func (l *Ledger) load(ctx context.Context) error {
	if l.loaded {
		return nil
	}
	var st ledgerState
	err := l.store.Get(ctx, storage.KindChallenges, ledgerID, &st)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	l.st = st
	l.loaded = true
	return nil
}

func (l *Ledger) persist(ctx context.Context) error {
	return l.store.Put(ctx, storage.KindChallenges, ledgerID, l.st)
}

// Create opens a new challenge for the agent.
func (l *Ledger) Create(ctx context.Context, creator registry.Agent) (Challenge, error) {
	return actor.Call(ctx, l.mb, func() (Challenge, error) {
		if err := l.load(ctx); err != nil {
			return Challenge{}, err
		}
		l.sweep()

		now := l.clock()
		ch := Challenge{
			ID:          uuid.NewString(),
			CreatorID:   creator.ID,
			CreatorName: creator.Name,
			Status:      StatusOpen,
			CreatedAtMs: now.UnixMilli(),
			ExpiresAtMs: now.Add(openFor).UnixMilli(),
		}
		l.st.Challenges = append(l.st.Challenges, ch)
		if len(l.st.Challenges) > maxChallenges {
			l.st.Challenges = l.st.Challenges[len(l.st.Challenges)-maxChallenges:]
		}

		if err := l.persist(ctx); err != nil {
			return Challenge{}, err
		}
		l.log.Info().Str("challengeId", ch.ID).Str("creator", creator.Name).Msg("challenge opened")
		return ch, nil
	})
}

// Get returns one challenge by id, settling its expiry first.
func (l *Ledger) Get(ctx context.Context, id string) (Challenge, error) {
	return actor.Call(ctx, l.mb, func() (Challenge, error) {
		if err := l.load(ctx); err != nil {
			return Challenge{}, err
		}
		l.sweep()
		if err := l.persist(ctx); err != nil {
			return Challenge{}, err
		}
		for _, ch := range l.st.Challenges {
			if ch.ID == id {
				return ch, nil
			}
		}
		return Challenge{}, apperr.New(apperr.CodeNotFound, "challenge not found")
	})
}

// ListOpen returns currently open challenges, newest first.
func (l *Ledger) ListOpen(ctx context.Context) ([]Challenge, error) {
	return actor.Call(ctx, l.mb, func() ([]Challenge, error) {
		if err := l.load(ctx); err != nil {
			return nil, err
		}
		l.sweep()
		if err := l.persist(ctx); err != nil {
			return nil, err
		}
		open := make([]Challenge, 0, len(l.st.Challenges))
		for i := len(l.st.Challenges) - 1; i >= 0; i-- {
			if l.st.Challenges[i].Status == StatusOpen {
				open = append(open, l.st.Challenges[i])
			}
		}
		return open, nil
	})
}

// Accept closes the challenge with the accepting agent and starts the
// game. Exactly one acceptor can win the challenge; everybody else gets a
// conflict or gone response.
func (l *Ledger) Accept(ctx context.Context, id string, acceptor registry.Agent) (Challenge, error) {
	return actor.Call(ctx, l.mb, func() (Challenge, error) {
		if err := l.load(ctx); err != nil {
			return Challenge{}, err
		}
		l.sweep()

		idx := -1
		for i := range l.st.Challenges {
			if l.st.Challenges[i].ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return Challenge{}, apperr.New(apperr.CodeNotFound, "challenge not found")
		}

		ch := &l.st.Challenges[idx]
		switch ch.Status {
		case StatusExpired:
			if err := l.persist(ctx); err != nil {
				return Challenge{}, err
			}
			return Challenge{}, apperr.New(apperr.CodeChallengeExpired, "challenge has expired")
		case StatusAccepted:
			return Challenge{}, apperr.New(apperr.CodeChallengeNotOpen, "challenge already accepted").
				WithMeta("gameId", ch.GameID)
		case StatusOpen:
			// fall through
		default:
			return Challenge{}, apperr.New(apperr.CodeChallengeNotOpen, "challenge is not open")
		}

		if acceptor.ID == ch.CreatorID {
			return Challenge{}, apperr.New(apperr.CodeBadRequest, "cannot accept your own challenge")
		}

		creator := registry.Agent{ID: ch.CreatorID, Name: ch.CreatorName}
		gameID, err := l.starter.StartMatch(ctx, creator, acceptor)
		if err != nil {
			return Challenge{}, err
		}

		ch.Status = StatusAccepted
		ch.AcceptedByID = acceptor.ID
		ch.GameID = gameID

		if err := l.persist(ctx); err != nil {
			return Challenge{}, err
		}
		l.log.Info().
			Str("challengeId", ch.ID).
			Str("gameId", gameID).
			Str("acceptor", acceptor.Name).
			Msg("challenge accepted")
		return *ch, nil
	})
}

// sweep runs inside the mailbox: flip open challenges past their window
// to expired. Expired entries stay in the table (up to the cap) so the
// acceptor gets a gone rather than a not-found.
func (l *Ledger) sweep() {
	nowMs := l.clock().UnixMilli()
	for i := range l.st.Challenges {
		ch := &l.st.Challenges[i]
		if ch.Status == StatusOpen && nowMs >= ch.ExpiresAtMs {
			ch.Status = StatusExpired
		}
	}
}
