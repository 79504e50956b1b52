// Package rating owns the global rating ledger: it applies finished-game
// results exactly once per game and serves all-time and trailing-window
// leaderboards.
package rating

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"chess-arena/internal/actor"
	"chess-arena/internal/apperr"
	"chess-arena/internal/storage"
)

const (
	ledgerID = "global"

	// maxHistoryEvents caps the bounded result log.
	maxHistoryEvents = 1000

	// maxAppliedMarkers keeps a dedup marker for every event still in the
	// history log plus a buffer of the most recently evicted ones, so a
	// late duplicate report for a still-logged game is always detected.
	maxAppliedMarkers = maxHistoryEvents + 500

	windowWeek = 7 * 24 * time.Hour
)

// Record is one player's accumulated rating state.
type Record struct {
	AgentID      string  `json:"agentId"`
	Name         string  `json:"name"`
	Rating       float64 `json:"rating"`
	Games        int     `json:"games"`
	Wins         int     `json:"wins"`
	Draws        int     `json:"draws"`
	Losses       int     `json:"losses"`
	LastGameAtMs int64   `json:"lastGameAtMs"`
}

// PlayerRef identifies one side of a finished game.
type PlayerRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ResultEvent is the append-only log entry for one finished game.
type ResultEvent struct {
	GameID    string    `json:"gameId"`
	EndedAtMs int64     `json:"endedAtMs"`
	White     PlayerRef `json:"white"`
	Black     PlayerRef `json:"black"`
	Result    string    `json:"result"`
}

// Row is one leaderboard entry.
type Row struct {
	Rank    int     `json:"rank"`
	AgentID string  `json:"agentId"`
	Name    string  `json:"name"`
	Rating  float64 `json:"rating"`
	Games   int     `json:"games"`
	Wins    int     `json:"wins"`
	Draws   int     `json:"draws"`
	Losses  int     `json:"losses"`
}

// Board is a ranked leaderboard for one scope.
type Board struct {
	Scope         string `json:"scope"`
	Players       []Row  `json:"players"`
	GamesInWindow *int   `json:"gamesInWindow,omitempty"`
}

type ledgerState struct {
	Records      map[string]*Record `json:"records"`
	Applied      map[string]bool    `json:"applied"`
	AppliedOrder []string           `json:"appliedOrder"`
	History      []ResultEvent      `json:"history"`
}

func newLedgerState() ledgerState {
	return ledgerState{
		Records: make(map[string]*Record),
		Applied: make(map[string]bool),
	}
}

// Ledger is the single-writer rating actor.
type Ledger struct {
	mb     *actor.Mailbox
	store  storage.Store
	clock  func() time.Time
	log    zerolog.Logger
	st     ledgerState
	loaded bool
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides time.Now, used by tests.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

func New(store storage.Store, log zerolog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		mb:    actor.NewMailbox(64),
		store: store,
		clock: time.Now,
		log:   log.With().Str("component", "ratings").Logger(),
		st:    newLedgerState(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Close() {
	l.mb.Close()
}

// load runs inside the mailbox.
func (l *Ledger) load(ctx context.Context) error {
	if l.loaded {
		return nil
	}
	var st ledgerState
	err := l.store.Get(ctx, storage.KindRatings, ledgerID, &st)
	if errors.Is(err, storage.ErrNotFound) {
		l.st = newLedgerState()
		l.loaded = true
		return nil
	}
	if err != nil {
		return err
	}
	if st.Records == nil {
		st.Records = make(map[string]*Record)
	}
	if st.Applied == nil {
		st.Applied = make(map[string]bool)
	}
	l.st = st
	l.loaded = true
	return nil
}

func (l *Ledger) persist(ctx context.Context) error {
	return l.store.Put(ctx, storage.KindRatings, ledgerID, l.st)
}

// ApplyResult records a finished game. A gameId that was already applied
// is a no-op; callers may safely retry.
func (l *Ledger) ApplyResult(ctx context.Context, ev ResultEvent) error {
	return l.mbErr(ctx, func() error {
		if err := l.load(ctx); err != nil {
			return err
		}
		if l.st.Applied[ev.GameID] {
			l.log.Debug().Str("gameId", ev.GameID).Msg("duplicate result ignored")
			return nil
		}
		whiteScore, blackScore, ok := Scores(ev.Result)
		if !ok {
			return apperr.Newf(apperr.CodeBadRequest, "unrecognized result %q", ev.Result)
		}

		white := l.record(ev.White)
		black := l.record(ev.Black)

		// Both updates read the pre-game ratings.
		whiteBefore, blackBefore := white.Rating, black.Rating
		white.Rating = UpdatedRating(whiteBefore, blackBefore, whiteScore)
		black.Rating = UpdatedRating(blackBefore, whiteBefore, blackScore)

		apply := func(rec *Record, score float64) {
			rec.Games++
			switch score {
			case 1:
				rec.Wins++
			case 0:
				rec.Losses++
			default:
				rec.Draws++
			}
			if ev.EndedAtMs > rec.LastGameAtMs {
				rec.LastGameAtMs = ev.EndedAtMs
			}
		}
		apply(white, whiteScore)
		apply(black, blackScore)

		l.st.History = append(l.st.History, ev)
		if len(l.st.History) > maxHistoryEvents {
			l.st.History = l.st.History[len(l.st.History)-maxHistoryEvents:]
		}

		l.st.Applied[ev.GameID] = true
		l.st.AppliedOrder = append(l.st.AppliedOrder, ev.GameID)
		for len(l.st.AppliedOrder) > maxAppliedMarkers {
			oldest := l.st.AppliedOrder[0]
			l.st.AppliedOrder = l.st.AppliedOrder[1:]
			delete(l.st.Applied, oldest)
		}

		l.log.Info().
			Str("gameId", ev.GameID).
			Str("result", ev.Result).
			Float64("whiteRating", white.Rating).
			Float64("blackRating", black.Rating).
			Msg("result applied")
		return l.persist(ctx)
	})
}

// record runs inside the mailbox; creates the player lazily at the default
// rating and refreshes the latest seen name.
func (l *Ledger) record(ref PlayerRef) *Record {
	rec, ok := l.st.Records[ref.ID]
	if !ok {
		rec = &Record{AgentID: ref.ID, Name: ref.Name, Rating: DefaultRating}
		l.st.Records[ref.ID] = rec
	}
	if ref.Name != "" {
		rec.Name = ref.Name
	}
	return rec
}

// Leaderboard serves scope "all" from the maintained records and scope
// "7d" by replaying only in-window history events against a fresh table.
func (l *Ledger) Leaderboard(ctx context.Context, scope string, limit int) (Board, error) {
	return actor.Call(ctx, l.mb, func() (Board, error) {
		if err := l.load(ctx); err != nil {
			return Board{}, err
		}
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		switch scope {
		case "", "all":
			return l.allTimeBoard(limit), nil
		case "7d":
			return l.windowBoard(limit), nil
		default:
			return Board{}, apperr.Newf(apperr.CodeBadRequest, "unknown leaderboard scope %q", scope)
		}
	})
}

// allTimeBoard runs inside the mailbox.
func (l *Ledger) allTimeBoard(limit int) Board {
	players := make([]Row, 0, len(l.st.Records))
	for _, rec := range l.st.Records {
		players = append(players, Row{
			AgentID: rec.AgentID,
			Name:    rec.Name,
			Rating:  rec.Rating,
			Games:   rec.Games,
			Wins:    rec.Wins,
			Draws:   rec.Draws,
			Losses:  rec.Losses,
		})
	}
	return Board{Scope: "all", Players: rankRows(players, limit)}
}

// windowBoard replays recent history with the same Elo formula against a
// fresh table seeded at the default rating, leaving the persistent
// all-time ratings untouched.
func (l *Ledger) windowBoard(limit int) Board {
	cutoff := l.clock().Add(-windowWeek).UnixMilli()

	table := make(map[string]*Record)
	at := func(ref PlayerRef) *Record {
		rec, ok := table[ref.ID]
		if !ok {
			rec = &Record{AgentID: ref.ID, Name: ref.Name, Rating: DefaultRating}
			table[ref.ID] = rec
		}
		if ref.Name != "" {
			rec.Name = ref.Name
		}
		return rec
	}

	games := 0
	for _, ev := range l.st.History {
		if ev.EndedAtMs < cutoff {
			continue
		}
		whiteScore, blackScore, ok := Scores(ev.Result)
		if !ok {
			continue
		}
		games++
		white, black := at(ev.White), at(ev.Black)
		whiteBefore, blackBefore := white.Rating, black.Rating
		white.Rating = UpdatedRating(whiteBefore, blackBefore, whiteScore)
		black.Rating = UpdatedRating(blackBefore, whiteBefore, blackScore)
		bump := func(rec *Record, score float64) {
			rec.Games++
			switch score {
			case 1:
				rec.Wins++
			case 0:
				rec.Losses++
			default:
				rec.Draws++
			}
		}
		bump(white, whiteScore)
		bump(black, blackScore)
	}

	players := make([]Row, 0, len(table))
	for _, rec := range table {
		players = append(players, Row{
			AgentID: rec.AgentID,
			Name:    rec.Name,
			Rating:  rec.Rating,
			Games:   rec.Games,
			Wins:    rec.Wins,
			Draws:   rec.Draws,
			Losses:  rec.Losses,
		})
	}
	return Board{Scope: "7d", Players: rankRows(players, limit), GamesInWindow: &games}
}

func rankRows(players []Row, limit int) []Row {
	sort.SliceStable(players, func(i, j int) bool {
		if players[i].Rating != players[j].Rating {
			return players[i].Rating > players[j].Rating
		}
		return players[i].Name < players[j].Name
	})
	if len(players) > limit {
		players = players[:limit]
	}
	for i := range players {
		players[i].Rank = i + 1
	}
	return players
}

// Reset clears all rating state unconditionally. Administrative only.
func (l *Ledger) Reset(ctx context.Context) error {
	return l.mbErr(ctx, func() error {
		l.st = newLedgerState()
		l.loaded = true
		l.log.Warn().Msg("rating ledger reset")
		return l.persist(ctx)
	})
}

func (l *Ledger) mbErr(ctx context.Context, fn func() error) error {
	_, err := actor.Call(ctx, l.mb, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
