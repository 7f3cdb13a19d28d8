// Package session glues user credentials to live connections. It talks
// to the user store and the network server through the narrow Validator
// and Binder interfaces, so neither of those packages needs to know
// about the other.
package session

import (
	"errors"

	"chessd/internal/netserver"
)

// ErrUnregistered is returned by Login when username was never
// registered.
var ErrUnregistered = errors.New("session: username not registered")

// Binder is the subset of *netserver.Server a session manager needs.
// Defined here, at the point of use, so session doesn't import all of
// netserver's surface.
type Binder interface {
	TryBindUsername(connID netserver.ConnID, username string) error
}

// Validator is the subset of *userstore.Store a session manager needs.
type Validator interface {
	Validate(username string) bool
	Elo(username string) (uint16, error)
}

// Manager binds a connection to a registered username under the
// single-login invariant.
type Manager struct {
	users Validator
	conns Binder
}

// New returns a Manager backed by users and conns.
func New(users Validator, conns Binder) *Manager {
	return &Manager{users: users, conns: conns}
}

// Login validates username against the user store, then binds connID to
// it. Returns ErrUnregistered, netserver.ErrAlreadyLoggedIn, or the
// player's current Elo on success.
func (m *Manager) Login(connID netserver.ConnID, username string) (uint16, error) {
	if !m.users.Validate(username) {
		return 0, ErrUnregistered
	}
	if err := m.conns.TryBindUsername(connID, username); err != nil {
		return 0, err
	}
	return m.users.Elo(username)
}
