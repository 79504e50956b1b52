// Package session owns one live match per instance: the authoritative
// clocks, turn state, move application and terminal-state detection. Each
// session is its own single-writer actor; time is recomputed lazily from
// the stored last-tick timestamp on every access, so no background timer
// exists and a game can end on timeout purely because somebody polled it.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"chess-arena/internal/actor"
	"chess-arena/internal/apperr"
	"chess-arena/internal/rating"
	"chess-arena/internal/registry"
	"chess-arena/internal/rules"
	"chess-arena/internal/storage"
)

// The only supported time control: 3 minutes plus 2 seconds per move.
const (
	BaseTimeMs  = 180000
	IncrementMs = 2000
)

// Color is a side of the board, in the engine's short form.
type Color string

const (
	White Color = "w"
	Black Color = "b"
)

// Status is the session state machine. Active is the only non-terminal
// state; a terminal status never reverts.
type Status string

const (
	StatusActive    Status = "active"
	StatusCheckmate Status = "checkmate"
	StatusStalemate Status = "stalemate"
	StatusDraw      Status = "draw"
	StatusResigned  Status = "resigned"
	StatusTimeout   Status = "timeout"
	// StatusAborted is a reserved terminal state for administrative use;
	// no transition in this package produces it.
	StatusAborted Status = "aborted"
)

// Terminal reports whether the status accepts no further transitions.
func (s Status) Terminal() bool {
	return s != StatusActive
}

// TokenResolver resolves bearer tokens to agent identities.
type TokenResolver interface {
	Lookup(ctx context.Context, token string) (registry.Agent, error)
}

// ResultReporter receives finished-game outcomes. Implementations must be
// idempotent per gameId; the session additionally guards with its own
// ratingReported flag so the report is attempted at most once.
type ResultReporter interface {
	ApplyResult(ctx context.Context, ev rating.ResultEvent) error
}

type state struct {
	GameID         string   `json:"gameId"`
	WhiteID        string   `json:"whiteAgentId"`
	WhiteName      string   `json:"whiteName"`
	BlackID        string   `json:"blackAgentId"`
	BlackName      string   `json:"blackName"`
	WhiteMs        int64    `json:"whiteMs"`
	BlackMs        int64    `json:"blackMs"`
	IncrementMs    int64    `json:"incrementMs"`
	Turn           Color    `json:"turn"`
	LastTickMs     int64    `json:"lastTickMs"`
	Status         Status   `json:"status"`
	Result         string   `json:"result,omitempty"`
	MoveCount      int      `json:"moveCount"`
	LastMove       string   `json:"lastMove,omitempty"`
	FEN            string   `json:"fen"`
	Moves          []string `json:"moves"`
	RatingReported bool     `json:"ratingReported"`
	CreatedAtMs    int64    `json:"createdAtMs"`
}

// PlayerInfo identifies one participant in public projections.
type PlayerInfo struct {
	AgentID string `json:"agentId"`
	Name    string `json:"name"`
}

// PublicView is the read-only projection served to callers. It never
// exposes internal timestamps or tokens, and clocks are clamped to >= 0.
type PublicView struct {
	GameID      string     `json:"gameId"`
	White       PlayerInfo `json:"white"`
	Black       PlayerInfo `json:"black"`
	Position    string     `json:"position"`
	PGN         string     `json:"pgn"`
	Moves       []string   `json:"moves"`
	Turn        Color      `json:"turn"`
	WhiteMs     int64      `json:"whiteMs"`
	BlackMs     int64      `json:"blackMs"`
	IncrementMs int64      `json:"incrementMs"`
	Status      Status     `json:"status"`
	Result      string     `json:"result,omitempty"`
	MoveCount   int        `json:"moveCount"`
	LastMove    string     `json:"lastMove,omitempty"`
}

// Summary is the condensed projection used by the active-games listing.
type Summary struct {
	GameID    string `json:"gameId"`
	WhiteName string `json:"whiteName"`
	BlackName string `json:"blackName"`
	Status    Status `json:"status"`
	MoveCount int    `json:"moveCount"`
	LastMove  string `json:"lastMove,omitempty"`
	WhiteMs   int64  `json:"whiteMs"`
	BlackMs   int64  `json:"blackMs"`
}

// Session is the single-writer actor for one game.
type Session struct {
	mb   *actor.Mailbox
	deps deps
	st   state
	game *rules.Game
	log  zerolog.Logger
}

type deps struct {
	store    storage.Store
	resolver TokenResolver
	reporter ResultReporter
	clock    func() time.Time
}

func newSession(d deps, st state, game *rules.Game, log zerolog.Logger) *Session {
	return &Session{
		mb:   actor.NewMailbox(16),
		deps: d,
		st:   st,
		game: game,
		log:  log.With().Str("component", "session").Str("gameId", st.GameID).Logger(),
	}
}

func (s *Session) Close() {
	s.mb.Close()
}

// ID returns the immutable game id.
func (s *Session) ID() string {
	return s.st.GameID
}

// View ticks the clock and returns the public projection.
func (s *Session) View(ctx context.Context) (PublicView, error) {
	return actor.Call(ctx, s.mb, func() (PublicView, error) {
		s.tickAndSettle(ctx)
		if err := s.persist(ctx); err != nil {
			return PublicView{}, err
		}
		return s.view(), nil
	})
}

// Status ticks the clock and returns the current status. Polling status is
// enough to settle a timeout.
func (s *Session) Status(ctx context.Context) (Status, error) {
	return actor.Call(ctx, s.mb, func() (Status, error) {
		s.tickAndSettle(ctx)
		if err := s.persist(ctx); err != nil {
			return "", err
		}
		return s.st.Status, nil
	})
}

// Summarize ticks the clock and returns the condensed projection.
func (s *Session) Summarize(ctx context.Context) (Summary, error) {
	return actor.Call(ctx, s.mb, func() (Summary, error) {
		s.tickAndSettle(ctx)
		if err := s.persist(ctx); err != nil {
			return Summary{}, err
		}
		return Summary{
			GameID:    s.st.GameID,
			WhiteName: s.st.WhiteName,
			BlackName: s.st.BlackName,
			Status:    s.st.Status,
			MoveCount: s.st.MoveCount,
			LastMove:  s.st.LastMove,
			WhiteMs:   clampMs(s.st.WhiteMs),
			BlackMs:   clampMs(s.st.BlackMs),
		}, nil
	})
}

// ApplyMove validates and applies one move on behalf of the token's agent.
// Rejections leave the game state untouched apart from the lazy tick.
func (s *Session) ApplyMove(ctx context.Context, token, move string) (PublicView, error) {
	return actor.Call(ctx, s.mb, func() (PublicView, error) {
		s.tickAndSettle(ctx)

		color, err := s.participant(ctx, token)
		if err != nil {
			s.persistBestEffort(ctx)
			return PublicView{}, err
		}
		if s.st.Status.Terminal() {
			s.persistBestEffort(ctx)
			return PublicView{}, apperr.New(apperr.CodeGameNotActive, "game is not active").
				WithMeta("status", s.st.Status).
				WithMeta("result", s.st.Result)
		}
		if s.st.Turn != color {
			s.persistBestEffort(ctx)
			return PublicView{}, apperr.New(apperr.CodeNotYourTurn, "not your turn").
				WithMeta("turn", s.st.Turn)
		}
		if !rules.ValidUCI(move) {
			s.persistBestEffort(ctx)
			return PublicView{}, apperr.Newf(apperr.CodeMalformedMove, "malformed move %q", move)
		}

		result, err := s.game.ApplyUCI(move)
		if err != nil {
			s.persistBestEffort(ctx)
			if errors.Is(err, rules.ErrMalformed) {
				return PublicView{}, apperr.Newf(apperr.CodeMalformedMove, "malformed move %q", move)
			}
			return PublicView{}, apperr.Newf(apperr.CodeIllegalMove, "illegal move %q", move)
		}

		now := s.deps.clock().UnixMilli()

		// Increment is credited to the mover after the move; the lazy tick
		// above already charged the thinking time.
		if color == White {
			s.st.WhiteMs += s.st.IncrementMs
		} else {
			s.st.BlackMs += s.st.IncrementMs
		}
		s.st.Turn = opposite(color)
		s.st.MoveCount++
		s.st.LastMove = move
		s.st.Moves = append(s.st.Moves, move)
		s.st.FEN = result.FEN
		s.st.LastTickMs = now

		switch {
		case result.Checkmate:
			s.st.Status = StatusCheckmate
			s.st.Result = winFor(color)
		case result.Stalemate:
			s.st.Status = StatusStalemate
			s.st.Result = "1/2-1/2"
		case result.Draw:
			s.st.Status = StatusDraw
			s.st.Result = "1/2-1/2"
		}
		if s.st.Status.Terminal() {
			s.report(ctx, now)
		}

		if err := s.persist(ctx); err != nil {
			return PublicView{}, err
		}
		return s.view(), nil
	})
}

// Resign ends the game in favor of the non-resigning side.
func (s *Session) Resign(ctx context.Context, token string) (PublicView, error) {
	return actor.Call(ctx, s.mb, func() (PublicView, error) {
		s.tickAndSettle(ctx)

		color, err := s.participant(ctx, token)
		if err != nil {
			s.persistBestEffort(ctx)
			return PublicView{}, err
		}
		if s.st.Status.Terminal() {
			s.persistBestEffort(ctx)
			return PublicView{}, apperr.New(apperr.CodeGameNotActive, "game is not active").
				WithMeta("status", s.st.Status).
				WithMeta("result", s.st.Result)
		}

		now := s.deps.clock().UnixMilli()
		s.st.Status = StatusResigned
		s.st.Result = winFor(opposite(color))
		s.report(ctx, now)

		if err := s.persist(ctx); err != nil {
			return PublicView{}, err
		}
		s.log.Info().Str("result", s.st.Result).Msg("resignation")
		return s.view(), nil
	})
}

// participant resolves the token and maps the agent to a color. Runs
// inside the mailbox.
func (s *Session) participant(ctx context.Context, token string) (Color, error) {
	agent, err := s.deps.resolver.Lookup(ctx, token)
	if err != nil {
		return "", err
	}
	switch agent.ID {
	case s.st.WhiteID:
		return White, nil
	case s.st.BlackID:
		return Black, nil
	default:
		return "", apperr.New(apperr.CodeNotParticipant, "not a participant in this game")
	}
}

// tickAndSettle charges elapsed time to the side on move and settles a
// flag fall. Runs inside the mailbox at the start of every read or write.
func (s *Session) tickAndSettle(ctx context.Context) {
	if s.st.Status.Terminal() {
		return
	}
	now := s.deps.clock().UnixMilli()
	elapsed := now - s.st.LastTickMs
	if elapsed < 0 {
		elapsed = 0
	}
	s.st.LastTickMs = now

	if s.st.Turn == White {
		s.st.WhiteMs -= elapsed
		if s.st.WhiteMs <= 0 {
			s.st.WhiteMs = 0
			s.st.Status = StatusTimeout
			s.st.Result = "0-1"
		}
	} else {
		s.st.BlackMs -= elapsed
		if s.st.BlackMs <= 0 {
			s.st.BlackMs = 0
			s.st.Status = StatusTimeout
			s.st.Result = "1-0"
		}
	}

	if s.st.Status == StatusTimeout {
		s.log.Info().Str("result", s.st.Result).Msg("flag fell")
		s.report(ctx, now)
	}
}

// report delivers the finished game to the rating ledger at most once.
// Failures are swallowed: the primary state mutation must not fail on a
// best-effort side effect, and the ledger's own gameId guard covers any
// retried delivery.
func (s *Session) report(ctx context.Context, endedAtMs int64) {
	if s.st.RatingReported || s.st.Result == "" {
		return
	}
	s.st.RatingReported = true

	err := s.deps.reporter.ApplyResult(ctx, rating.ResultEvent{
		GameID:    s.st.GameID,
		EndedAtMs: endedAtMs,
		White:     rating.PlayerRef{ID: s.st.WhiteID, Name: s.st.WhiteName},
		Black:     rating.PlayerRef{ID: s.st.BlackID, Name: s.st.BlackName},
		Result:    s.st.Result,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("rating report failed")
	}
}

func (s *Session) persist(ctx context.Context) error {
	return s.deps.store.Put(ctx, storage.KindGames, s.st.GameID, s.st)
}

func (s *Session) persistBestEffort(ctx context.Context) {
	if err := s.persist(ctx); err != nil {
		s.log.Warn().Err(err).Msg("persist failed")
	}
}

// view runs inside the mailbox.
func (s *Session) view() PublicView {
	moves := make([]string, len(s.st.Moves))
	copy(moves, s.st.Moves)
	return PublicView{
		GameID:      s.st.GameID,
		White:       PlayerInfo{AgentID: s.st.WhiteID, Name: s.st.WhiteName},
		Black:       PlayerInfo{AgentID: s.st.BlackID, Name: s.st.BlackName},
		Position:    s.st.FEN,
		PGN:         s.game.PGN(),
		Moves:       moves,
		Turn:        s.st.Turn,
		WhiteMs:     clampMs(s.st.WhiteMs),
		BlackMs:     clampMs(s.st.BlackMs),
		IncrementMs: s.st.IncrementMs,
		Status:      s.st.Status,
		Result:      s.st.Result,
		MoveCount:   s.st.MoveCount,
		LastMove:    s.st.LastMove,
	}
}

func clampMs(ms int64) int64 {
	if ms < 0 {
		return 0
	}
	return ms
}

func opposite(c Color) Color {
	if c == White {
		return Black
	}
	return White
}

func winFor(c Color) string {
	if c == White {
		return "1-0"
	}
	return "0-1"
}
