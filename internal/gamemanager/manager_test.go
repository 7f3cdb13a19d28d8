package gamemanager

import (
	"testing"

	"github.com/stretchr/testify/require"

	"chessd/internal/netserver"
	"chessd/internal/wire"
)

type fakeSender struct {
	conns map[string]netserver.ConnID
	sent  []sentPacket
}

type sentPacket struct {
	connID  netserver.ConnID
	kind    wire.Kind
	payload []byte
}

func newFakeSender() *fakeSender {
	return &fakeSender{conns: make(map[string]netserver.ConnID)}
}

func (f *fakeSender) SendPacket(connID netserver.ConnID, kind wire.Kind, payload []byte) error {
	f.sent = append(f.sent, sentPacket{connID: connID, kind: kind, payload: payload})
	return nil
}

func (f *fakeSender) ConnForUsername(username string) (netserver.ConnID, bool) {
	id, ok := f.conns[username]
	return id, ok
}

type fakeRatings struct {
	elo map[string]uint16
}

func newFakeRatings() *fakeRatings { return &fakeRatings{elo: make(map[string]uint16)} }

func (f *fakeRatings) Elo(username string) (uint16, error) {
	v, ok := f.elo[username]
	if !ok {
		return 1200, nil
	}
	return v, nil
}

func (f *fakeRatings) UpdateElo(username string, elo uint16) error {
	f.elo[username] = elo
	return nil
}

type fakeRequeuer struct {
	requeued []string
}

func (f *fakeRequeuer) Enqueue(username string) bool {
	f.requeued = append(f.requeued, username)
	return true
}

func TestOnPairedCreatesPendingAndNotifiesBoth(t *testing.T) {
	sender := newFakeSender()
	sender.conns["alice"] = 1
	sender.conns["bob"] = 2
	ratings := newFakeRatings()
	m := New(sender, ratings)

	m.OnPaired("alice", "bob")

	require.Len(t, sender.sent, 2)
	for _, p := range sender.sent {
		require.Equal(t, wire.KindAutoMatchFound, p.kind)
	}
}

func TestAcceptBothSidesStartsGame(t *testing.T) {
	sender := newFakeSender()
	sender.conns["alice"] = 1
	sender.conns["bob"] = 2
	m := New(sender, newFakeRatings())
	m.OnPaired("alice", "bob")

	var gameID string
	for id := range m.pending {
		gameID = id
	}
	require.NotEmpty(t, gameID)

	require.NoError(t, m.Accept("alice", gameID))
	require.NoError(t, m.Accept("bob", gameID))

	_, ok := m.GameIDFor("alice")
	require.True(t, ok)

	var startCount int
	for _, p := range sender.sent {
		if p.kind == wire.KindGameStart {
			startCount++
		}
	}
	require.Equal(t, 2, startCount)
}

func TestDeclineNotifiesPeerAndRequeuesPeerOnly(t *testing.T) {
	sender := newFakeSender()
	sender.conns["alice"] = 1
	sender.conns["bob"] = 2
	m := New(sender, newFakeRatings())
	requeuer := &fakeRequeuer{}
	m.SetRequeuer(requeuer)
	m.OnPaired("alice", "bob")

	var gameID string
	for id := range m.pending {
		gameID = id
	}

	require.NoError(t, m.Decline("alice", gameID))
	require.Empty(t, m.pending)
	require.Empty(t, m.pendingByUser)

	var notified []netserver.ConnID
	for _, p := range sender.sent {
		if p.kind == wire.KindMatchDeclinedNotification {
			notified = append(notified, p.connID)
		}
	}
	require.Equal(t, []netserver.ConnID{2}, notified, "only bob (the peer) should be notified")
	require.Equal(t, []string{"bob"}, requeuer.requeued, "only bob should be re-enqueued, not the decliner")
}

func TestOnDisconnectWhilePendingCancelsPairingAndRequeuesPeer(t *testing.T) {
	sender := newFakeSender()
	sender.conns["alice"] = 1
	sender.conns["bob"] = 2
	m := New(sender, newFakeRatings())
	requeuer := &fakeRequeuer{}
	m.SetRequeuer(requeuer)
	m.OnPaired("alice", "bob")

	m.OnDisconnect(1, "alice", true)

	require.Empty(t, m.pending)
	require.Empty(t, m.pendingByUser)
	require.Equal(t, []string{"bob"}, requeuer.requeued)
}

func TestHandleMoveRejectsWrongTurn(t *testing.T) {
	sender := newFakeSender()
	sender.conns["alice"] = 1
	sender.conns["bob"] = 2
	m := New(sender, newFakeRatings())
	m.Challenge("alice", "bob")

	var gameID string
	for id := range m.games {
		gameID = id
	}

	m.HandleMove("bob", gameID, "e7e5") // black tries to move first

	last := sender.sent[len(sender.sent)-1]
	require.Equal(t, wire.KindMoveError, last.kind)
	msg, err := wire.DecodeMoveError(last.payload)
	require.NoError(t, err)
	require.Equal(t, "not_your_turn", msg.Reason)
}

func TestHandleMoveIllegalMoveReportsReason(t *testing.T) {
	sender := newFakeSender()
	sender.conns["alice"] = 1
	sender.conns["bob"] = 2
	m := New(sender, newFakeRatings())
	m.Challenge("alice", "bob")

	var gameID string
	for id := range m.games {
		gameID = id
	}

	m.HandleMove("alice", gameID, "a1a8") // not a legal opening move

	last := sender.sent[len(sender.sent)-1]
	require.Equal(t, wire.KindMoveError, last.kind)
	msg, err := wire.DecodeMoveError(last.payload)
	require.NoError(t, err)
	require.Equal(t, "illegal_move", msg.Reason)
}

func TestHandleMoveCheckmateEndsGameAndUpdatesElo(t *testing.T) {
	sender := newFakeSender()
	sender.conns["alice"] = 1
	sender.conns["bob"] = 2
	ratings := newFakeRatings()
	m := New(sender, ratings)
	m.Challenge("alice", "bob")

	var gameID string
	for id := range m.games {
		gameID = id
	}

	m.HandleMove("alice", gameID, "f2f3")
	m.HandleMove("bob", gameID, "e7e5")
	m.HandleMove("alice", gameID, "g2g4")
	m.HandleMove("bob", gameID, "d8h4")

	_, stillInGame := m.GameIDFor("alice")
	require.False(t, stillInGame)
	require.Greater(t, ratings.elo["bob"], uint16(1200))
	require.Less(t, ratings.elo["alice"], uint16(1200))

	var end wire.GameEnd
	for _, p := range sender.sent {
		if p.kind == wire.KindGameEnd {
			msg, err := wire.DecodeGameEnd(p.payload)
			require.NoError(t, err)
			end = msg
			break
		}
	}
	require.Equal(t, "bob", end.Winner)
	require.Equal(t, "checkmate", end.Reason)
}

func TestOnDisconnectForfeitsGame(t *testing.T) {
	sender := newFakeSender()
	sender.conns["alice"] = 1
	sender.conns["bob"] = 2
	ratings := newFakeRatings()
	m := New(sender, ratings)
	m.Challenge("alice", "bob")

	m.OnDisconnect(1, "alice", true)

	_, ok := m.GameIDFor("bob")
	require.False(t, ok)
	require.Greater(t, ratings.elo["bob"], uint16(1200))

	var end wire.GameEnd
	for _, p := range sender.sent {
		if p.kind == wire.KindGameEnd {
			msg, err := wire.DecodeGameEnd(p.payload)
			require.NoError(t, err)
			end = msg
			break
		}
	}
	require.Equal(t, "bob", end.Winner)
	require.Equal(t, "opponent_disconnected", end.Reason)
}

func TestOnDisconnectIgnoresLoggedOutConn(t *testing.T) {
	sender := newFakeSender()
	m := New(sender, newFakeRatings())
	m.OnDisconnect(1, "", false)
}
