// Package conn implements the per-connection state machine of spec.md §3.3
// and §4.3: handshake, SCRAM authentication, and the query pipeline, all
// multiplexed over a single net.Conn that never has more than one
// outstanding request in flight.
package conn

import (
	"net"
	"sync"
	"time"

	"github.com/geldb/gelclient/internal/gelerr"
	"github.com/geldb/gelclient/internal/protocol"
)

// Mode is the connection's single-writer lock, spec.md §3.3. Every
// higher-level operation asserts Normal, transitions, and restores Normal
// (or marks the connection dead) when it finishes.
type Mode int

const (
	ModeNormal Mode = iota
	ModeInTransaction
	ModeDumping
	ModeAwaitingResponse
)

// Connection wraps one authenticated socket to a Gel server, grounded on
// the teacher's PooledConn (internal/pool/conn.go) — same
// mutex-guarded small-state-enum shape, extended to the richer mode set
// §3.3 requires and to own the frame reader/writer directly instead of a
// bare net.Conn.
type Connection struct {
	mu   sync.Mutex
	conn net.Conn
	fr   *protocol.FrameReader

	mode Mode

	// negotiated at handshake, immutable afterward.
	protocolMajor, protocolMinor uint16

	// mutable per-connection state, spec.md §3.3.
	serverParams map[string][]byte
	serverKey    []byte
	txState      protocol.TransactionState
	stateDescID  [16]byte
	stateDesc    []byte

	// pingInterval is negotiated from server_params["system_config"]'s
	// session_idle_timeout (spec.md §4.3.5); zero means disabled, negative
	// means not yet known.
	pingInterval time.Duration

	createdAt time.Time
	lastUsed  time.Time

	// consistent is cleared the moment any rule in spec.md §4.4's
	// "consistency rules that prevent reuse" list is violated: an
	// abandoned stream, a transaction left open, a non-recoverable I/O
	// error, or a mode other than Normal when control returns to the pool.
	consistent bool
}

// New wraps an already-authenticated socket. Handshake (see handshake.go)
// is the usual entry point; New is exposed directly for tests that inject
// a net.Pipe() peer.
func New(c net.Conn) *Connection {
	now := time.Now()
	return &Connection{
		conn:         c,
		fr:           protocol.NewFrameReader(c),
		serverParams: make(map[string][]byte),
		txState:      protocol.TxNotInTransaction,
		pingInterval: -1,
		createdAt:    now,
		lastUsed:     now,
		consistent:   true,
	}
}

// Raw exposes the underlying socket, for tests and for Ping's non-blocking
// peek.
func (c *Connection) Raw() net.Conn { return c.conn }

// Mode reports the current single-writer lock state.
func (c *Connection) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// beginOp asserts mode == Normal and transitions to next, per spec.md
// §4.3.3 step 1 "acquires its own mode lock (no concurrent use)".
func (c *Connection) beginOp(next Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeNormal {
		return gelerr.Newf(gelerr.CodeInterfaceError, "connection busy: mode is %d, not Normal", c.mode)
	}
	c.mode = next
	c.lastUsed = time.Now()
	return nil
}

// endOp restores Normal mode after an operation completes cleanly.
func (c *Connection) endOp() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = ModeNormal
}

// markInconsistent records that this connection must not be returned to
// the pool, per spec.md §4.4.
func (c *Connection) markInconsistent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consistent = false
}

// IsConsistent reports whether the pool may reuse this connection: mode
// must be Normal, transaction state NotInTransaction, and no prior
// operation must have flagged an inconsistency (spec.md §4.4).
func (c *Connection) IsConsistent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consistent && c.mode == ModeNormal && c.txState == protocol.TxNotInTransaction
}

// TransactionState reports the last ReadyForCommand's reported state.
func (c *Connection) TransactionState() protocol.TransactionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txState
}

// StateDescriptor returns the most recently received state-descriptor id
// and raw typedesc bytes (spec.md §4.2.3), used by internal/session to
// build the codec needed to encode a State snapshot for this connection.
// The zero id/nil bytes mean no StateDataDescription has been seen yet —
// encoding against it produces the empty "protocol default" state.
func (c *Connection) StateDescriptor() ([16]byte, []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateDescID, c.stateDesc
}

// PingInterval returns the negotiated idle-ping interval, or a negative
// duration if the handshake has not completed (spec.md §4.3.5).
func (c *Connection) PingInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingInterval
}

// CreatedAt/LastUsed mirror the teacher's PooledConn lifecycle accessors,
// reused by internal/pool for expiry/idle checks.
func (c *Connection) CreatedAt() time.Time { return c.createdAt }

func (c *Connection) LastUsed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

// Close tears down the socket. Safe to call more than once.
func (c *Connection) Close() error {
	return c.conn.Close()
}

// Ping performs the teacher's 1-byte-timed-read liveness peek
// (internal/pool/conn.go's Ping) — a non-blocking check for the "TCP error
// or inbound EOF signals reset" condition spec.md §4.4's Acquire rule
// names. Only meaningful when mode is Normal (no outstanding request).
func (c *Connection) Ping() error {
	c.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	buf := make([]byte, 1)
	_, err := c.conn.Read(buf)
	c.conn.SetReadDeadline(time.Time{})
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil
		}
		return err
	}
	// Any data arriving unprompted while idle means the stream is out of
	// sync with our state machine — never safe to reuse.
	return gelerr.New(gelerr.CodeClientConnectionError, "unexpected inbound data on an idle connection")
}
