// Package rules wraps the external chess rules engine. The rest of the
// system treats positions and move histories as opaque handles: it submits
// candidate moves and reacts to the engine's verdicts, nothing more.
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/corentings/chess"
)

// Moves travel as UCI coordinate strings: four board coordinates plus an
// optional promotion piece letter, e.g. "e2e4" or "a7a8q".
var uciPattern = regexp.MustCompile(`^[a-h][1-8][a-h][1-8][qrbn]?$`)

var (
	// ErrMalformed marks a move string that is not UCI-shaped at all.
	ErrMalformed = errors.New("rules: malformed move")
	// ErrIllegal marks a well-formed move the engine rejects.
	ErrIllegal = errors.New("rules: illegal move")
)

// ValidUCI reports whether the string has the accepted move shape.
func ValidUCI(mv string) bool {
	return uciPattern.MatchString(mv)
}

// MoveResult is the engine's verdict after a successful move.
type MoveResult struct {
	FEN       string
	Checkmate bool
	Stalemate bool
	Draw      bool // a draw condition other than stalemate
}

// Game holds one live engine game.
type Game struct {
	g *chess.Game
}

// NewGame obtains a fresh game at the starting position.
func NewGame() *Game {
	return &Game{g: chess.NewGame()}
}

// StartingFEN returns the engine's initial position handle.
func StartingFEN() string {
	return chess.NewGame().Position().String()
}

// FromFEN obtains a game at an arbitrary position. The move history
// before the position is not available to the engine.
func FromFEN(fen string) (*Game, error) {
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("rules: invalid position: %w", err)
	}
	return &Game{g: chess.NewGame(opt)}, nil
}

// Replay rebuilds a game by applying a recorded UCI move list from the
// starting position. Used when a session is loaded from storage.
func Replay(moves []string) (*Game, error) {
	game := NewGame()
	for i, mv := range moves {
		if _, err := game.ApplyUCI(mv); err != nil {
			return nil, fmt.Errorf("replay move %d (%s): %w", i+1, mv, err)
		}
	}
	return game, nil
}

// ApplyUCI validates and applies one move. The game is not mutated on
// rejection. Lower-cases the input first so promotion letters and
// coordinates are accepted in either case.
func (x *Game) ApplyUCI(mv string) (MoveResult, error) {
	mv = strings.ToLower(strings.TrimSpace(mv))
	if !ValidUCI(mv) {
		return MoveResult{}, ErrMalformed
	}

	move, err := chess.UCINotation{}.Decode(x.g.Position(), mv)
	if err != nil {
		return MoveResult{}, fmt.Errorf("%w: %s", ErrIllegal, mv)
	}
	if err := x.g.Move(move); err != nil {
		return MoveResult{}, fmt.Errorf("%w: %s", ErrIllegal, mv)
	}

	result := MoveResult{FEN: x.FEN()}
	switch x.g.Method() {
	case chess.Checkmate:
		result.Checkmate = true
	case chess.Stalemate:
		result.Stalemate = true
	default:
		// The engine applies automatic draws (insufficient material,
		// repetition, move-count rules) on its own.
		if x.g.Outcome() == chess.Draw {
			result.Draw = true
		}
	}
	return result, nil
}

// FEN returns the current position handle.
func (x *Game) FEN() string {
	return x.g.Position().String()
}

// PGN returns the move-history handle.
func (x *Game) PGN() string {
	return strings.TrimSpace(x.g.String())
}

// Turn returns "w" or "b" for the side to move.
func (x *Game) Turn() string {
	return x.g.Position().Turn().String()
}
