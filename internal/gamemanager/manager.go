// Package gamemanager owns the live-games table: starting games from a
// matched or accepted pairing, routing moves, and tearing games down on
// normal completion or on a player's disconnect.
package gamemanager

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"chessd/internal/chessgame"
	"chessd/internal/netserver"
	"chessd/internal/wire"
)

// Sender is the narrow view of the network server gamemanager needs:
// send a packet to a connection, and resolve a username to its live
// connection. Defined here, at the point of use.
type Sender interface {
	SendPacket(connID netserver.ConnID, kind wire.Kind, payload []byte) error
	ConnForUsername(username string) (netserver.ConnID, bool)
}

// RatingUpdater applies an Elo adjustment after a game ends. Implemented
// by userstore.
type RatingUpdater interface {
	Elo(username string) (uint16, error)
	UpdateElo(username string, elo uint16) error
}

// Requeuer re-admits a username to the matchmaking waiting list.
// Implemented by matchmaking.Queue; defined here, at the point of use,
// so gamemanager doesn't import matchmaking.
type Requeuer interface {
	Enqueue(username string) bool
}

const (
	kFactor = 32

	// reasonOpponentDisconnected is the GameEnd reason reported when a
	// live game is forfeited because the opponent dropped connection.
	reasonOpponentDisconnected = "opponent_disconnected"
)

type pendingPairing struct {
	id        string
	playerA   string
	playerB   string
	acceptedA bool
	acceptedB bool
}

// Manager is the live-games and pending-pairings table.
type Manager struct {
	sender   Sender
	ratings  RatingUpdater
	requeuer Requeuer

	mu            sync.Mutex
	games         map[string]*chessgame.Game
	pending       map[string]*pendingPairing
	pendingByUser map[string]string // username -> pending pairing id
	inGame        map[string]string // username -> gameID
}

// New returns a Manager.
func New(sender Sender, ratings RatingUpdater) *Manager {
	return &Manager{
		sender:        sender,
		ratings:       ratings,
		games:         make(map[string]*chessgame.Game),
		pending:       make(map[string]*pendingPairing),
		pendingByUser: make(map[string]string),
		inGame:        make(map[string]string),
	}
}

// SetRequeuer wires the matchmaking queue's re-enqueue hook. Resolved
// after construction, the same way netserver.Server's handler and
// disconnect hook are: the game manager is built before the
// matchmaking queue that depends on it as a PairHandler.
func (m *Manager) SetRequeuer(r Requeuer) { m.requeuer = r }

func newID(white, black string) string {
	return fmt.Sprintf("game_%s_%s_%s_%s", white, black, time.Now().Format("20060102150405"), uuid.NewString()[:8])
}

// OnPaired implements matchmaking.PairHandler: the matcher found two
// compatible players and now offers them the pairing, pending each
// side's accept.
func (m *Manager) OnPaired(playerA, playerB string) {
	m.mu.Lock()
	id := newID(playerA, playerB)
	m.pending[id] = &pendingPairing{id: id, playerA: playerA, playerB: playerB}
	m.pendingByUser[playerA] = id
	m.pendingByUser[playerB] = id
	m.mu.Unlock()

	eloA, _ := m.ratings.Elo(playerA)
	eloB, _ := m.ratings.Elo(playerB)

	m.notify(playerA, wire.KindAutoMatchFound, wire.AutoMatchFound{OpponentUsername: playerB, OpponentElo: eloB, GameID: id})
	m.notify(playerB, wire.KindAutoMatchFound, wire.AutoMatchFound{OpponentUsername: playerA, OpponentElo: eloA, GameID: id})
}

// Accept records username's acceptance of pairing gameID and starts the
// game once both sides have accepted.
func (m *Manager) Accept(username, gameID string) error {
	m.mu.Lock()
	p, ok := m.pending[gameID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("gamemanager: unknown pairing %s", gameID)
	}
	switch username {
	case p.playerA:
		p.acceptedA = true
	case p.playerB:
		p.acceptedB = true
	default:
		m.mu.Unlock()
		return fmt.Errorf("gamemanager: %s is not part of pairing %s", username, gameID)
	}
	ready := p.acceptedA && p.acceptedB
	if ready {
		delete(m.pending, gameID)
		delete(m.pendingByUser, p.playerA)
		delete(m.pendingByUser, p.playerB)
	}
	m.mu.Unlock()

	if ready {
		m.startGame(gameID, p.playerA, p.playerB)
	}
	return nil
}

// Decline cancels a pending pairing: the peer is notified and
// re-enqueued into matchmaking, the decliner is not (declining is a
// deliberate opt-out, not a disconnect).
func (m *Manager) Decline(username, gameID string) error {
	m.mu.Lock()
	p, ok := m.pending[gameID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("gamemanager: unknown pairing %s", gameID)
	}
	delete(m.pending, gameID)
	delete(m.pendingByUser, p.playerA)
	delete(m.pendingByUser, p.playerB)
	m.mu.Unlock()

	m.cancelPairing(p, username)
	slog.Info("pairing declined", "game", gameID, "by", username)
	return nil
}

// cancelPairing notifies p's peer of causer and re-enqueues the peer
// into matchmaking. Shared by the explicit decline path and the
// disconnect-while-pending path, which behaves identically to a
// decline by the side that disconnected.
func (m *Manager) cancelPairing(p *pendingPairing, causer string) {
	peer := p.playerB
	if causer == p.playerB {
		peer = p.playerA
	}

	m.notify(peer, wire.KindMatchDeclinedNotification, wire.MatchDeclinedNotification{GameID: p.id})
	if m.requeuer != nil {
		m.requeuer.Enqueue(peer)
	}
}

// Challenge directly starts a pairing-free game between two online
// usernames, bypassing the accept handshake used for automatic matches.
// Supplements the automatic matchmaking flow with a direct-challenge
// path.
func (m *Manager) Challenge(from, to string) {
	id := newID(from, to)
	m.startGame(id, from, to)
}

func (m *Manager) startGame(id, playerA, playerB string) {
	g := chessgame.New(id, playerA, playerB)

	m.mu.Lock()
	m.games[id] = g
	m.inGame[playerA] = id
	m.inGame[playerB] = id
	m.mu.Unlock()

	start := wire.GameStart{
		GameID:         id,
		Player1:        playerA,
		Player2:        playerB,
		StartingPlayer: g.CurrentTurnUsername(),
		FEN:            g.FEN(),
	}
	m.notify(playerA, wire.KindGameStart, start)
	m.notify(playerB, wire.KindGameStart, start)
	slog.Info("game started", "game", id, "white", playerA, "black", playerB)
}

// HandleMove applies username's move to gameID, broadcasts the result,
// and tears the game down on completion. The lookup-through-apply
// sequence runs under m.mu so two connections submitting moves for the
// same game concurrently can never call into the same non-thread-safe
// chess engine at once.
func (m *Manager) HandleMove(username, gameID, uci string) {
	m.mu.Lock()
	g, ok := m.games[gameID]
	if !ok {
		m.mu.Unlock()
		m.notify(username, wire.KindMoveError, wire.MoveError{GameID: gameID, Reason: "unknown_game"})
		return
	}
	if g.CurrentTurnUsername() != username {
		m.mu.Unlock()
		m.notify(username, wire.KindMoveError, wire.MoveError{GameID: gameID, Reason: "not_your_turn"})
		return
	}
	outcome, err := g.TryMove(uci)
	m.mu.Unlock()
	if err != nil {
		m.notify(username, wire.KindMoveError, wire.MoveError{GameID: gameID, Reason: reasonForMoveErr(err)})
		return
	}

	note := ""
	if outcome.InCheck {
		note = "check"
	}
	status := wire.GameStatusUpdate{
		GameID:      gameID,
		FEN:         g.FEN(),
		CurrentTurn: g.CurrentTurnUsername(),
		IsOver:      outcome.Over,
		Note:        note,
	}
	m.notify(g.White, wire.KindGameStatusUpdate, status)
	m.notify(g.Black, wire.KindGameStatusUpdate, status)

	if outcome.Over {
		m.endGame(g, g.TerminationReason(), "")
	}
}

// endGame fans out the final result, updates Elo, and removes the game
// from the live table. forcedWinner overrides the chess engine's own verdict
// for forfeits, where the board itself never reached an outcome; pass
// "" to defer to the engine (a normal checkmate, draw, etc). Caller
// must not hold m.mu.
func (m *Manager) endGame(g *chessgame.Game, reason, forcedWinner string) {
	winner := forcedWinner
	if winner == "" && g.IsOver() {
		winner = g.WinnerUsername()
	}

	m.applyEloUpdate(g.White, g.Black, winner)

	end := wire.GameEnd{
		GameID:        g.ID,
		Winner:        winner,
		Reason:        reason,
		HalfMoveCount: uint16(g.HalfMoveCount()),
	}
	m.notify(g.White, wire.KindGameEnd, end)
	m.notify(g.Black, wire.KindGameEnd, end)

	m.mu.Lock()
	delete(m.games, g.ID)
	delete(m.inGame, g.White)
	delete(m.inGame, g.Black)
	m.mu.Unlock()

	slog.Info("game ended", "game", g.ID, "winner", winner, "reason", reason)
}

// reasonForMoveErr maps a chessgame error to the wire-level reason
// string clients match on.
func reasonForMoveErr(err error) string {
	switch {
	case errors.Is(err, chessgame.ErrIllegalMove):
		return "illegal_move"
	case errors.Is(err, chessgame.ErrGameOver):
		return "game_over"
	default:
		return err.Error()
	}
}

// applyEloUpdate applies a K=32 logistic Elo adjustment. winner is
// chessgame.DrawMarker for a draw.
func (m *Manager) applyEloUpdate(white, black, winner string) {
	eloWhite, errW := m.ratings.Elo(white)
	eloBlack, errB := m.ratings.Elo(black)
	if errW != nil || errB != nil {
		return
	}

	scoreWhite := 0.5
	switch winner {
	case white:
		scoreWhite = 1
	case black:
		scoreWhite = 0
	}

	expectedWhite := 1 / (1 + math.Pow(10, (float64(eloBlack)-float64(eloWhite))/400))
	deltaWhite := kFactor * (scoreWhite - expectedWhite)

	newWhite := clampElo(float64(eloWhite) + deltaWhite)
	newBlack := clampElo(float64(eloBlack) - deltaWhite)

	m.ratings.UpdateElo(white, newWhite)
	m.ratings.UpdateElo(black, newBlack)
}

func clampElo(v float64) uint16 {
	if v < 0 {
		return 0
	}
	if v > 65535 {
		return 65535
	}
	return uint16(v + 0.5)
}

// OnDisconnect implements netserver.DisconnectHook. A player dropping
// while a pairing is still pending is treated exactly like that player
// declining: the peer is notified and re-enqueued. A player dropping
// mid-game forfeits immediately rather than leaving the game dangling
// forever — an intentional departure from leaving disconnected games
// live.
func (m *Manager) OnDisconnect(_ netserver.ConnID, username string, loggedIn bool) {
	if !loggedIn {
		return
	}

	m.mu.Lock()
	pendingID, hasPending := m.pendingByUser[username]
	var p *pendingPairing
	if hasPending {
		p = m.pending[pendingID]
		delete(m.pending, pendingID)
		delete(m.pendingByUser, p.playerA)
		delete(m.pendingByUser, p.playerB)
	}
	gameID, inGame := m.inGame[username]
	var g *chessgame.Game
	if inGame {
		g = m.games[gameID]
	}
	m.mu.Unlock()

	if hasPending && p != nil {
		m.cancelPairing(p, username)
		return
	}

	if !inGame || g == nil {
		return
	}

	winner := g.Black
	if username == g.Black {
		winner = g.White
	}
	m.endGame(g, reasonOpponentDisconnected, winner)
}

// GameIDFor returns the game a username is currently playing, if any.
func (m *Manager) GameIDFor(username string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.inGame[username]
	return id, ok
}

func (m *Manager) notify(username string, kind wire.Kind, msg interface{ Encode() ([]byte, error) }) {
	connID, ok := m.sender.ConnForUsername(username)
	if !ok {
		return
	}
	payload, err := msg.Encode()
	if err != nil {
		slog.Error("encoding outgoing message", "kind", kind, "error", err)
		return
	}
	if err := m.sender.SendPacket(connID, kind, payload); err != nil {
		slog.Warn("sending packet failed", "username", username, "kind", kind, "error", err)
	}
}
