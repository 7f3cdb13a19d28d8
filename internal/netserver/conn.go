package netserver

import (
	"net"
	"sync"

	"chessd/internal/wire"
)

// ConnID opaquely identifies a connection for its lifetime.
type ConnID uint64

// Conn is one transport endpoint: an opaque ID, a receive-side decoder
// (the connection's rolling byte buffer), a send-side exclusion guard,
// and an optional bound username.
type Conn struct {
	id      ConnID
	conn    net.Conn
	decoder *wire.Decoder

	sendMu sync.Mutex

	mu       sync.Mutex
	username string
	bound    bool
}

func newConn(id ConnID, c net.Conn) *Conn {
	return &Conn{
		id:      id,
		conn:    c,
		decoder: wire.NewDecoder(),
	}
}

// ID returns the connection's opaque identifier.
func (c *Conn) ID() ConnID { return c.id }

// RemoteAddr returns the underlying transport's remote address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *Conn) boundUsername() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username, c.bound
}

func (c *Conn) bindUsername(username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = username
	c.bound = true
}

// send writes one complete frame, retrying partial writes until done or
// failed, serialized per-connection by sendMu.
func (c *Conn) send(frame []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	total := 0
	for total < len(frame) {
		n, err := c.conn.Write(frame[total:])
		if err != nil {
			return err
		}
		total += n
	}
	return nil
}
