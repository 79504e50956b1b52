package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chess-arena/internal/apperr"
	"chess-arena/internal/registry"
	"chess-arena/internal/rules"
	"chess-arena/internal/storage"
)

// Manager routes gameId to its session actor, creating or loading
// instances on demand. The manager itself only routes; session state is
// touched exclusively inside each session's mailbox.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	deps     deps
	log      zerolog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock overrides time.Now, used by tests.
func WithClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) { m.deps.clock = clock }
}

func NewManager(store storage.Store, resolver TokenResolver, reporter ResultReporter, log zerolog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		deps: deps{
			store:    store,
			resolver: resolver,
			reporter: reporter,
			clock:    time.Now,
		},
		log: log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		s.Close()
	}
	m.sessions = make(map[string]*Session)
}

// Create instantiates a new active session for the given players, with
// both clocks at the base time and white to move.
func (m *Manager) Create(ctx context.Context, white, black registry.Agent) (*Session, error) {
	now := m.deps.clock().UnixMilli()
	st := state{
		GameID:      uuid.NewString(),
		WhiteID:     white.ID,
		WhiteName:   white.Name,
		BlackID:     black.ID,
		BlackName:   black.Name,
		WhiteMs:     BaseTimeMs,
		BlackMs:     BaseTimeMs,
		IncrementMs: IncrementMs,
		Turn:        White,
		LastTickMs:  now,
		Status:      StatusActive,
		FEN:         rules.StartingFEN(),
		CreatedAtMs: now,
	}

	s := newSession(m.deps, st, rules.NewGame(), m.log)
	if err := s.mb.Do(ctx, func() { s.persistBestEffort(ctx) }); err != nil {
		s.Close()
		return nil, err
	}

	m.mu.Lock()
	m.sessions[st.GameID] = s
	m.mu.Unlock()

	m.log.Info().
		Str("gameId", st.GameID).
		Str("white", white.Name).
		Str("black", black.Name).
		Msg("game created")
	return s, nil
}

// Get returns the session for id, loading it from storage if this process
// does not have it live yet.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}

	var st state
	if err := m.deps.store.Get(ctx, storage.KindGames, id, &st); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.New(apperr.CodeNotFound, "game not found")
		}
		return nil, err
	}

	game, err := rules.Replay(st.Moves)
	if err != nil {
		// Fall back to the stored position; the engine loses the earlier
		// move history but the game remains playable.
		m.log.Warn().Err(err).Str("gameId", id).Msg("replay failed, resuming from position")
		game, err = rules.FromFEN(st.FEN)
		if err != nil {
			return nil, fmt.Errorf("load game %s: %w", id, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[id]; ok {
		return existing, nil
	}
	s = newSession(m.deps, st, game, m.log)
	m.sessions[id] = s
	return s, nil
}

// Status is a convenience for callers that only need liveness.
func (m *Manager) Status(ctx context.Context, id string) (Status, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return s.Status(ctx)
}
