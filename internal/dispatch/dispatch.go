// Package dispatch routes decoded packets from the network server to
// the component that owns that concern: registration and login to
// session/userstore, matchmaking requests to the queue, moves and
// pairing responses to the game manager. It holds no state of its own.
package dispatch

import (
	"context"
	"errors"
	"log/slog"

	"chessd/internal/gamemanager"
	"chessd/internal/matchmaking"
	"chessd/internal/netserver"
	"chessd/internal/session"
	"chessd/internal/userstore"
	"chessd/internal/wire"
)

// Dispatcher implements netserver.Handler.
type Dispatcher struct {
	users    *userstore.Store
	sessions *session.Manager
	queue    *matchmaking.Queue
	games    *gamemanager.Manager
	server   *netserver.Server
}

// New returns a Dispatcher wired to its collaborators.
func New(users *userstore.Store, sessions *session.Manager, queue *matchmaking.Queue, games *gamemanager.Manager, server *netserver.Server) *Dispatcher {
	return &Dispatcher{users: users, sessions: sessions, queue: queue, games: games, server: server}
}

// HandlePacket routes pkt by kind. Unknown kinds are logged and
// dropped; they never terminate the connection.
func (d *Dispatcher) HandlePacket(_ context.Context, connID netserver.ConnID, pkt wire.Packet) {
	switch pkt.Kind {
	case wire.KindRegister:
		d.handleRegister(connID, pkt.Payload)
	case wire.KindLogin:
		d.handleLogin(connID, pkt.Payload)
	case wire.KindAutoMatchRequest:
		d.handleAutoMatchRequest(connID, pkt.Payload)
	case wire.KindAutoMatchAccepted:
		d.handleAutoMatchAccepted(connID, pkt.Payload)
	case wire.KindAutoMatchDeclined:
		d.handleAutoMatchDeclined(connID, pkt.Payload)
	case wire.KindMove:
		d.handleMove(connID, pkt.Payload)
	case wire.KindChallengeRequest:
		d.handleChallengeRequest(connID, pkt.Payload)
	case wire.KindChallengeResponse:
		d.handleChallengeResponse(connID, pkt.Payload)
	case wire.KindPlayerListRequest:
		d.handlePlayerListRequest(connID, pkt.Payload)
	default:
		slog.Warn("dropping packet of unknown kind", "conn", connID, "kind", pkt.Kind)
	}
}

func (d *Dispatcher) handleRegister(connID netserver.ConnID, payload []byte) {
	msg, err := wire.DecodeRegister(payload)
	if err != nil {
		slog.Warn("malformed register packet", "conn", connID, "error", err)
		return
	}

	profile, err := d.users.Register(msg.Username)
	if err != nil {
		d.send(connID, wire.KindRegisterFailure, wire.RegisterFailure{Reason: reasonFor(err)})
		return
	}
	d.send(connID, wire.KindRegisterSuccess, wire.RegisterSuccess{Username: profile.Username, Elo: profile.Elo})
}

func (d *Dispatcher) handleLogin(connID netserver.ConnID, payload []byte) {
	msg, err := wire.DecodeLogin(payload)
	if err != nil {
		slog.Warn("malformed login packet", "conn", connID, "error", err)
		return
	}

	elo, err := d.sessions.Login(connID, msg.Username)
	if err != nil {
		d.send(connID, wire.KindLoginFailure, wire.LoginFailure{Reason: reasonFor(err)})
		return
	}
	d.send(connID, wire.KindLoginSuccess, wire.LoginSuccess{Username: msg.Username, Elo: elo})
}

func (d *Dispatcher) handleAutoMatchRequest(connID netserver.ConnID, payload []byte) {
	msg, err := wire.DecodeAutoMatchRequest(payload)
	if err != nil {
		slog.Warn("malformed auto-match request", "conn", connID, "error", err)
		return
	}
	username, ok := d.server.UsernameFor(connID)
	if !ok || username != msg.Username {
		return
	}
	d.queue.Enqueue(username)
}

func (d *Dispatcher) handleAutoMatchAccepted(connID netserver.ConnID, payload []byte) {
	msg, err := wire.DecodeAutoMatchAccepted(payload)
	if err != nil {
		slog.Warn("malformed auto-match accept", "conn", connID, "error", err)
		return
	}
	username, ok := d.server.UsernameFor(connID)
	if !ok {
		return
	}
	if err := d.games.Accept(username, msg.GameID); err != nil {
		slog.Warn("accept failed", "conn", connID, "error", err)
	}
}

func (d *Dispatcher) handleAutoMatchDeclined(connID netserver.ConnID, payload []byte) {
	msg, err := wire.DecodeAutoMatchDeclined(payload)
	if err != nil {
		slog.Warn("malformed auto-match decline", "conn", connID, "error", err)
		return
	}
	username, ok := d.server.UsernameFor(connID)
	if !ok {
		return
	}
	if err := d.games.Decline(username, msg.GameID); err != nil {
		slog.Warn("decline failed", "conn", connID, "error", err)
	}
}

func (d *Dispatcher) handleMove(connID netserver.ConnID, payload []byte) {
	msg, err := wire.DecodeMove(payload)
	if err != nil {
		slog.Warn("malformed move packet", "conn", connID, "error", err)
		return
	}
	username, ok := d.server.UsernameFor(connID)
	if !ok {
		return
	}
	d.games.HandleMove(username, msg.GameID, msg.UCI)
}

func (d *Dispatcher) handleChallengeRequest(connID netserver.ConnID, payload []byte) {
	msg, err := wire.DecodeChallengeRequest(payload)
	if err != nil {
		slog.Warn("malformed challenge request", "conn", connID, "error", err)
		return
	}
	username, ok := d.server.UsernameFor(connID)
	if !ok || username != msg.FromUsername {
		return
	}
	toConn, ok := d.server.ConnForUsername(msg.ToUsername)
	if !ok {
		return
	}
	d.send(toConn, wire.KindChallengeRequest, msg)
}

func (d *Dispatcher) handleChallengeResponse(connID netserver.ConnID, payload []byte) {
	msg, err := wire.DecodeChallengeResponse(payload)
	if err != nil {
		slog.Warn("malformed challenge response", "conn", connID, "error", err)
		return
	}
	responder, ok := d.server.UsernameFor(connID)
	if !ok {
		return
	}
	if !msg.Accept {
		return
	}
	d.games.Challenge(msg.FromUsername, responder)
}

func (d *Dispatcher) handlePlayerListRequest(connID netserver.ConnID, _ []byte) {
	snapshot := d.users.Snapshot()
	entries := make([]wire.PlayerListEntry, 0, len(snapshot))
	for username, profile := range snapshot {
		_, inGame := d.games.GameIDFor(username)
		entries = append(entries, wire.PlayerListEntry{
			Username: username,
			Elo:      profile.Elo,
			InGame:   inGame,
		})
	}
	d.send(connID, wire.KindPlayerListResponse, wire.PlayerListResponse{Entries: entries})
}

// reasonFor maps a collaborator's sentinel error to the human-readable
// reason text sent over the wire. Package-internal error strings never
// reach a client.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, userstore.ErrUsernameTaken):
		return "Username already exists."
	case errors.Is(err, userstore.ErrInvalidUsername):
		return "Invalid username."
	case errors.Is(err, session.ErrUnregistered):
		return "Username not registered."
	case errors.Is(err, netserver.ErrAlreadyLoggedIn):
		return "User already logged in."
	default:
		return "Internal error."
	}
}

func (d *Dispatcher) send(connID netserver.ConnID, kind wire.Kind, msg interface{ Encode() ([]byte, error) }) {
	payload, err := msg.Encode()
	if err != nil {
		slog.Error("encoding outgoing message", "kind", kind, "error", err)
		return
	}
	if err := d.server.SendPacket(connID, kind, payload); err != nil {
		slog.Warn("send failed", "conn", connID, "kind", kind, "error", err)
	}
}
