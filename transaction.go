package gel

import (
	"context"

	"github.com/geldb/gelclient/internal/conn"
	"github.com/geldb/gelclient/internal/protocol"
	"github.com/geldb/gelclient/internal/retry"
)

// Tx is the handle a Transaction body runs against, wrapping
// internal/retry's bare connection-and-state Transaction with the same
// Executor surface a *Client offers, per spec.md §4.6's "uniform surface
// over pool or transaction". A Tx must not be retained beyond the body
// call it was handed to.
type Tx struct {
	tx *retry.Transaction
}

func (t *Tx) rawQuery(ctx context.Context, cmd string, flags protocol.ParseFlags, args any) (*conn.QueryResponse, error) {
	return t.tx.Query(ctx, cmd, flags, func(pr conn.ParseResult) ([]byte, error) {
		return encodeArguments(pr, args)
	})
}

// Iteration reports which retry attempt (0-based) this handle belongs to,
// spec.md §4.5.
func (t *Tx) Iteration() int { return t.tx.Iteration() }
