package pool

import (
	"database/sql"
	"time"
)

// Connection is one engine session owned by the pool. Callers borrow it
// through Acquire and must hand it back with Release.
type Connection struct {
	id        string
	role      Role
	conn      *sql.Conn
	pool      *Pool
	createdAt time.Time

	// Guarded by pool.mu.
	lastUsed time.Time
	queries  int64
	inUse    bool
	tx       *TxContext
}

// ID returns the connection identifier.
func (c *Connection) ID() string { return c.id }

// Role returns the role the connection was opened for.
func (c *Connection) Role() Role { return c.role }

// CreatedAt returns when the connection was opened.
func (c *Connection) CreatedAt() time.Time { return c.createdAt }

// LastUsed returns when the connection was last checked out or returned.
func (c *Connection) LastUsed() time.Time {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	return c.lastUsed
}

// Queries returns the number of statements run on the connection.
func (c *Connection) Queries() int64 {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	return c.queries
}

// InUse reports whether the connection is checked out.
func (c *Connection) InUse() bool {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	return c.inUse
}

// Conn exposes the underlying session for callers holding the connection.
func (c *Connection) Conn() *sql.Conn { return c.conn }
