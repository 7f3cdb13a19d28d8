// Package chessgame wraps github.com/notnil/chess with the move
// validation, turn tracking, and outcome detection a game instance
// needs. It never re-implements chess rules; every legality and
// termination question is delegated to the underlying engine.
package chessgame

import (
	"errors"
	"fmt"

	"github.com/notnil/chess"
)

// ErrIllegalMove is returned by TryMove when uci does not match any
// currently legal move.
var ErrIllegalMove = errors.New("chessgame: illegal move")

// ErrGameOver is returned by TryMove once the game has already reached
// an outcome.
var ErrGameOver = errors.New("chessgame: game is over")

// Outcome reports the state of the board right after a move.
type Outcome struct {
	// InCheck reports whether the side to move is now in check.
	InCheck bool
	// IsCapture reports whether the move captured a piece.
	IsCapture bool
	// Over reports whether the game has ended.
	Over bool
	// Winner is the color that won, or chess.NoColor for a draw or an
	// ongoing game.
	Winner chess.Color
	// Method names how the game ended; meaningless while Over is false.
	Method chess.Method
}

// Game is a single chess match between two usernames, identified by
// color rather than player struct so the caller supplies whatever
// identity scheme it needs.
type Game struct {
	ID      string
	White   string
	Black   string
	engine  *chess.Game
	inCheck bool
}

// New starts a game at the standard starting position.
func New(id, white, black string) *Game {
	return &Game{ID: id, White: white, Black: black, engine: chess.NewGame()}
}

// NewFromFEN starts a game at the given FEN position. Used for resuming
// or for non-standard starting setups.
func NewFromFEN(id, white, black, fen string) (*Game, error) {
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parsing FEN: %w", err)
	}
	return &Game{ID: id, White: white, Black: black, engine: chess.NewGame(opt)}, nil
}

// FEN returns the current position in Forsyth-Edwards notation.
func (g *Game) FEN() string {
	return g.engine.Position().String()
}

// CurrentTurnUsername returns the username of the side to move.
func (g *Game) CurrentTurnUsername() string {
	if g.engine.Position().Turn() == chess.White {
		return g.White
	}
	return g.Black
}

// UsernameFor maps a chess.Color to the corresponding username.
func (g *Game) UsernameFor(c chess.Color) string {
	if c == chess.White {
		return g.White
	}
	return g.Black
}

// HalfMoveCount returns the number of half-moves (plies) played.
func (g *Game) HalfMoveCount() int {
	return len(g.engine.Moves())
}

// IsOver reports whether the game already has an outcome.
func (g *Game) IsOver() bool {
	return g.engine.Outcome() != chess.NoOutcome
}

// IsInCheck reports whether the side to move is in check as of the most
// recently applied move.
func (g *Game) IsInCheck() bool {
	return g.inCheck
}

// TryMove validates uci against the engine's legal move list, applies it
// if legal, and reports the resulting outcome.
func (g *Game) TryMove(uci string) (Outcome, error) {
	if g.IsOver() {
		return Outcome{}, ErrGameOver
	}

	var match *chess.Move
	for _, m := range g.engine.ValidMoves() {
		if m.String() == uci {
			match = m
			break
		}
	}
	if match == nil {
		return Outcome{}, ErrIllegalMove
	}

	if err := g.engine.Move(match); err != nil {
		return Outcome{}, fmt.Errorf("applying legal move: %w", err)
	}

	out := Outcome{
		InCheck:   match.HasTag(chess.Check),
		IsCapture: match.HasTag(chess.Capture),
	}
	g.inCheck = out.InCheck
	if outcome := g.engine.Outcome(); outcome != chess.NoOutcome {
		out.Over = true
		out.Method = g.engine.Method()
		switch outcome {
		case chess.WhiteWon:
			out.Winner = chess.White
		case chess.BlackWon:
			out.Winner = chess.Black
		default:
			out.Winner = chess.NoColor
		}
	}
	return out, nil
}

// DrawMarker is the winner value reported for a game that ended in a
// draw, matching the wire convention: a non-empty, non-username
// sentinel so clients never mistake a draw for a blank/unset field.
const DrawMarker = "<draw>"

// WinnerUsername returns the winning username, DrawMarker for a drawn
// game, or "" if the game has not yet reached an outcome.
func (g *Game) WinnerUsername() string {
	switch g.engine.Outcome() {
	case chess.WhiteWon:
		return g.White
	case chess.BlackWon:
		return g.Black
	case chess.Draw:
		return DrawMarker
	default:
		return ""
	}
}

// TerminationReason describes why a finished game ended, for display
// and logging.
func (g *Game) TerminationReason() string {
	switch g.engine.Method() {
	case chess.Checkmate:
		return "checkmate"
	case chess.Stalemate:
		return "stalemate"
	case chess.ThreefoldRepetition:
		return "threefold repetition"
	case chess.FivefoldRepetition:
		return "fivefold repetition"
	case chess.FiftyMoveRule:
		return "fifty-move rule"
	case chess.SeventyFiveMoveRule:
		return "seventy-five-move rule"
	case chess.InsufficientMaterial:
		return "insufficient material"
	default:
		return "forfeit"
	}
}
