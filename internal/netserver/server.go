// Package netserver implements the network server component of the
// core: accept loop, per-connection receive task, concurrent-safe send,
// and the connection table with reverse lookups.
package netserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"chessd/internal/wire"
)

// ErrConnNotFound is returned by SendPacket/TryBindUsername for an id no
// longer (or never) present in the connection table.
var ErrConnNotFound = errors.New("netserver: connection not found")

const (
	defaultReadTimeout  = 5 * time.Second
	defaultWriteTimeout = 5 * time.Second
	stagingBufSize      = 4096
)

// Handler is the message dispatcher's contract with the network server:
// decode happens in netserver, routing happens in the handler.
type Handler interface {
	HandlePacket(ctx context.Context, connID ConnID, pkt wire.Packet)
}

// DisconnectHook lets the game manager react to a connection tearing
// down without the network server needing to know about games.
type DisconnectHook interface {
	OnDisconnect(connID ConnID, username string, loggedIn bool)
}

// Server owns the connection table exclusively.
type Server struct {
	handler Handler
	hook    DisconnectHook

	readTimeout  time.Duration
	writeTimeout time.Duration

	mu      sync.Mutex
	conns   map[ConnID]*Conn
	nextID  atomic.Uint64
	ln      net.Listener
}

// New creates a Server. handler and hook are resolved after construction
// via SetHandler/SetDisconnectHook to break the natural initialization
// cycle between the network server and the game manager (the user store,
// network server, game manager, dispatcher, and matcher all come up in
// that order, with the accept loop started last).
func New() *Server {
	return &Server{
		conns:        make(map[ConnID]*Conn),
		readTimeout:  defaultReadTimeout,
		writeTimeout: defaultWriteTimeout,
	}
}

// SetHandler wires the message dispatcher.
func (s *Server) SetHandler(h Handler) { s.handler = h }

// SetDisconnectHook wires the game manager's teardown callback.
func (s *Server) SetDisconnectHook(h DisconnectHook) { s.hook = h }

// Serve accepts connections from ln until ctx is cancelled. Used
// directly by tests with a loopback listener, and by Run in production.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			if ctx.Err() != nil {
				break
			}
			slog.Error("accept failed", "error", err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
	wg.Wait()
	return nil
}

// Run binds addr and serves until ctx is cancelled.
//
// The kernel listen backlog is not set here: net.Listen has no parameter
// for it, and net.ListenConfig.Control only runs after the backlog size
// is already fixed to the OS default (net.core.somaxconn on Linux), so
// there is nothing for Control to adjust. config.Server.Backlog is kept
// and logged at startup as an operator-facing record of the intended
// queue depth, not an enforced one; see DESIGN.md.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	slog.Info("network server listening", "address", ln.Addr())
	return s.Serve(ctx, ln)
}

func (s *Server) handleConnection(ctx context.Context, nc net.Conn) {
	id := ConnID(s.nextID.Add(1))
	c := newConn(id, nc)

	s.mu.Lock()
	s.conns[id] = c
	s.mu.Unlock()

	slog.Info("connection accepted", "conn", id, "remote", nc.RemoteAddr())

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			nc.Close()
		case <-done:
		}
	}()

	s.receiveLoop(ctx, c)
	close(done)
	s.teardown(c)
}

// receiveLoop reads into a fixed-size staging buffer, feeds the
// connection's decoder, then drains every complete packet it now holds.
// A zero-byte read / io.EOF signals orderly disconnect; any other read
// error is a transport failure. Both terminate the connection.
func (s *Server) receiveLoop(ctx context.Context, c *Conn) {
	staging := make([]byte, stagingBufSize)

	for {
		if ctx.Err() != nil {
			return
		}

		c.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		n, err := c.conn.Read(staging)
		if n > 0 {
			c.decoder.Feed(staging[:n])
			for {
				pkt, ok, derr := c.decoder.Next()
				if derr != nil {
					if errors.Is(derr, wire.ErrUnknownKind) {
						slog.Warn("dropping packet of unknown kind", "conn", c.id)
						continue
					}
					slog.Warn("malformed packet, closing connection", "conn", c.id, "error", derr)
					return
				}
				if !ok {
					break
				}
				s.handler.HandlePacket(ctx, c.id, pkt)
			}
		}

		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, io.EOF) {
				slog.Info("connection closed by peer", "conn", c.id)
			} else {
				slog.Warn("transport failure", "conn", c.id, "error", err)
			}
			return
		}
	}
}

func (s *Server) teardown(c *Conn) {
	username, loggedIn := c.boundUsername()

	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()

	c.conn.Close()

	slog.Info("connection removed", "conn", c.id, "username", username)

	if s.hook != nil {
		s.hook.OnDisconnect(c.id, username, loggedIn)
	}
}

// SendPacket encodes kind+payload and writes the frame to connID,
// serialized per-connection.
func (s *Server) SendPacket(connID ConnID, kind wire.Kind, payload []byte) error {
	s.mu.Lock()
	c, ok := s.conns[connID]
	s.mu.Unlock()
	if !ok {
		return ErrConnNotFound
	}

	frame, err := wire.Encode(kind, payload)
	if err != nil {
		return err
	}

	c.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := c.send(frame); err != nil {
		return fmt.Errorf("sending to conn %d: %w", connID, err)
	}
	return nil
}

// ErrAlreadyLoggedIn is returned by TryBindUsername when username is
// already bound to a different connection.
var ErrAlreadyLoggedIn = errors.New("netserver: username already logged in")

// TryBindUsername atomically enforces the single-login invariant and
// binds username to connID: the scan for an existing binding and the
// bind itself happen under the same lock, so two concurrent logins for
// the same username cannot both succeed.
func (s *Server) TryBindUsername(connID ConnID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conns[connID]
	if !ok {
		return ErrConnNotFound
	}

	for id, other := range s.conns {
		if id == connID {
			continue
		}
		if u, bound := other.boundUsername(); bound && u == username {
			return ErrAlreadyLoggedIn
		}
	}

	c.bindUsername(username)
	return nil
}

// ConnForUsername performs the reverse lookup: a linear scan over the
// connection table under its guard.
func (s *Server) ConnForUsername(username string) (ConnID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.conns {
		if u, bound := c.boundUsername(); bound && u == username {
			return id, true
		}
	}
	return 0, false
}

// IsLoggedIn reports whether any connection is currently bound to
// username.
func (s *Server) IsLoggedIn(username string) bool {
	_, ok := s.ConnForUsername(username)
	return ok
}

// UsernameFor returns the username bound to connID, if any.
func (s *Server) UsernameFor(connID ConnID) (string, bool) {
	s.mu.Lock()
	c, ok := s.conns[connID]
	s.mu.Unlock()
	if !ok {
		return "", false
	}
	return c.boundUsername()
}

// Close closes the listener, causing Serve's Accept loop to unwind.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

// ConnCount returns the number of currently tracked connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
