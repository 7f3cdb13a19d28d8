// Package matchmaking implements the automatic-match queue: a FIFO of
// waiting usernames drained by a background matcher loop that pairs
// players within an Elo window.
package matchmaking

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EloLookup resolves a username's current rating. Defined at the point
// of use so matchmaking doesn't depend on userstore directly.
type EloLookup interface {
	Elo(username string) (uint16, error)
}

// PairHandler is notified when the matcher pairs two queued players.
// Implemented by the game manager.
type PairHandler interface {
	OnPaired(playerA, playerB string)
}

type entry struct {
	username string
	elo      uint16
}

// Queue holds waiting players and runs the background matching loop.
type Queue struct {
	elo     EloLookup
	handler PairHandler
	// threshold bounds how far apart in Elo two players may be paired.
	threshold uint16
	interval  time.Duration

	mu      sync.Mutex
	waiting []entry
	queued  map[string]bool
}

// New returns a Queue. threshold is the maximum Elo gap for a pairing;
// interval is how often the matcher loop scans the waiting list.
func New(elo EloLookup, handler PairHandler, threshold uint16, interval time.Duration) *Queue {
	return &Queue{
		elo:       elo,
		handler:   handler,
		threshold: threshold,
		interval:  interval,
		queued:    make(map[string]bool),
	}
}

// Enqueue adds username to the waiting list if it isn't already queued.
// Returns false if it was already present.
func (q *Queue) Enqueue(username string) bool {
	rating, err := q.elo.Elo(username)
	if err != nil {
		slog.Warn("matchmaking enqueue for unknown user", "username", username, "error", err)
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.queued[username] {
		return false
	}
	q.queued[username] = true
	q.waiting = append(q.waiting, entry{username: username, elo: rating})
	return true
}

// Dequeue removes username from the waiting list, e.g. on disconnect.
// Returns false if it wasn't queued.
func (q *Queue) Dequeue(username string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.queued[username] {
		return false
	}
	delete(q.queued, username)
	for i, e := range q.waiting {
		if e.username == username {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			break
		}
	}
	return true
}

// Len reports how many players are currently waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// Run drives the background matcher loop until ctx is cancelled. It
// scans the waiting list in FIFO order, pairing the oldest player that
// has any opponent inside the Elo window with the earliest-enqueued such
// opponent, and removes both from the queue before notifying the handler.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.matchOnce()
		}
	}
}

func (q *Queue) matchOnce() {
	for {
		a, b, ok := q.popPair()
		if !ok {
			return
		}
		q.handler.OnPaired(a, b)
	}
}

func (q *Queue) popPair() (string, string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := 0; i < len(q.waiting); i++ {
		for j := i + 1; j < len(q.waiting); j++ {
			if eloGap(q.waiting[i].elo, q.waiting[j].elo) <= q.threshold {
				a, b := q.waiting[i].username, q.waiting[j].username
				q.removeAtLocked(j)
				q.removeAtLocked(i)
				delete(q.queued, a)
				delete(q.queued, b)
				return a, b, true
			}
		}
	}
	return "", "", false
}

// removeAtLocked deletes the waiting-list entry at index i. Caller
// holds q.mu.
func (q *Queue) removeAtLocked(i int) {
	q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
}

func eloGap(a, b uint16) uint16 {
	if a > b {
		return a - b
	}
	return b - a
}
