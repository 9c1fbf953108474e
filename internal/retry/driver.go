package retry

import (
	"context"
	"time"

	"github.com/geldb/gelclient/internal/conn"
	"github.com/geldb/gelclient/internal/descriptor"
	"github.com/geldb/gelclient/internal/gelerr"
	"github.com/geldb/gelclient/internal/pool"
	"github.com/geldb/gelclient/internal/protocol"
	"github.com/geldb/gelclient/internal/session"
)

// IsolationLevel is the transaction isolation level sent with START
// TRANSACTION, spec.md §4.5.
type IsolationLevel int

const (
	IsolationSerializable IsolationLevel = iota
	IsolationRepeatableRead
)

func (l IsolationLevel) clause() string {
	if l == IsolationRepeatableRead {
		return "REPEATABLE READ"
	}
	return "SERIALIZABLE"
}

// TransactionOptions configures the lazily-issued START TRANSACTION,
// spec.md §4.5 "(with isolation/read_only/deferrable per options)".
type TransactionOptions struct {
	Isolation  IsolationLevel
	ReadOnly   bool
	Deferrable bool
}

func (o TransactionOptions) startStatement() string {
	stmt := "START TRANSACTION ISOLATION " + o.Isolation.clause()
	if o.ReadOnly {
		stmt += ", READ ONLY"
	} else {
		stmt += ", READ WRITE"
	}
	if o.Deferrable {
		stmt += ", DEFERRABLE"
	} else {
		stmt += ", NOT DEFERRABLE"
	}
	return stmt
}

// Options bundles a retrying driver invocation's configuration, spec.md
// §4.5 "a pool handle, the Options bundle (retry rules, transaction
// options, session state reference) ...".
type Options struct {
	Retry       RetryOptions
	Transaction TransactionOptions
	State       session.State
}

// NewOptions returns the default Options: the default retry rule set,
// serializable read-write transactions, and an empty session state.
func NewOptions() Options {
	return Options{Retry: NewRetryOptions(), State: session.New()}
}

// Transaction is the handle a retry-driver body runs against, spec.md
// §4.5's pseudocode `Transaction{ conn, started: false, iteration:
// attempt, state: options.state }`. The session state applied to every
// statement is the immutable snapshot captured when the Transaction was
// created; Run hands the same opts.State snapshot to every attempt.
type Transaction struct {
	conn      *conn.Connection
	state     session.State
	opts      TransactionOptions
	iteration int
	started   bool
}

// Iteration reports which retry attempt (0-based) this handle belongs to.
func (tx *Transaction) Iteration() int { return tx.iteration }

// Query runs one statement against the leased connection, lazily issuing
// START TRANSACTION first if this is the first statement of the attempt,
// spec.md §4.5 "the first real query inside the body lazily issues START
// TRANSACTION ... and sets started = true".
func (tx *Transaction) Query(ctx context.Context, cmd string, flags protocol.ParseFlags, encodeArgs func(conn.ParseResult) ([]byte, error)) (*conn.QueryResponse, error) {
	if !tx.started {
		if _, err := tx.query(ctx, tx.opts.startStatement(), noResultFlags, nil); err != nil {
			return nil, err
		}
		tx.started = true
	}
	return tx.query(ctx, cmd, flags, encodeArgs)
}

var noResultFlags = protocol.ParseFlags{
	IOFormat:            protocol.IOFormatBinary,
	ExpectedCardinality: protocol.CardinalityNoResult,
}

// run is Query's argument-less, result-discarding form, used for
// START TRANSACTION/COMMIT/ROLLBACK.
func (tx *Transaction) run(ctx context.Context, cmd string, flags protocol.ParseFlags) error {
	_, err := tx.query(ctx, cmd, flags, nil)
	return err
}

func (tx *Transaction) query(ctx context.Context, cmd string, flags protocol.ParseFlags, encodeArgs func(conn.ParseResult) ([]byte, error)) (*conn.QueryResponse, error) {
	state, err := encodeState(tx.conn, tx.state)
	if err != nil {
		return nil, err
	}
	return tx.conn.Query(ctx, conn.QueryRequest{CommandText: cmd, Flags: flags, State: state}, encodeArgs)
}

// encodeState builds the connection's currently-known state descriptor
// into an EncodedState for the given snapshot, spec.md §4.2.3.
func encodeState(c *conn.Connection, state session.State) (protocol.EncodedState, error) {
	descID, raw := c.StateDescriptor()
	if len(raw) == 0 {
		return protocol.EncodedState{}, nil
	}
	set, err := descriptor.Parse(raw, descID)
	if err != nil {
		return protocol.EncodedState{}, err
	}
	return state.Encode(set, descID)
}

// Run drives the retrying transaction loop of spec.md §4.5's pseudocode.
// The body must not retain tx beyond its own return.
func Run[T any](ctx context.Context, p *pool.Pool, opts Options, body func(tx *Transaction) (T, error)) (T, error) {
	var zero T
	attempt := 0
	for {
		lc, err := p.Acquire(ctx)
		if err != nil {
			return zero, err
		}

		tx := &Transaction{conn: lc.C, state: opts.State, opts: opts.Transaction, iteration: attempt}
		result, bodyErr := body(tx)

		if bodyErr == nil {
			if tx.started {
				if err := tx.run(ctx, "COMMIT", noResultFlags); err != nil {
					lc.Discard()
					return zero, err
				}
			}
			lc.Release()
			return result, nil
		}

		if tx.started {
			// Best-effort: a failed ROLLBACK still leaves the connection
			// unfit for reuse, so its own error is swallowed in favor of
			// the original failure driving the retry decision.
			tx.run(ctx, "ROLLBACK", noResultFlags)
		}
		lc.Release()

		cond, retryable := classify(bodyErr)
		if !retryable {
			return zero, bodyErr
		}
		rule := opts.Retry.RuleFor(cond)
		if attempt+1 >= rule.Attempts {
			return zero, bodyErr
		}
		sleep(ctx, rule.Backoff(attempt+1))
		attempt++
	}
}

// classify maps a body error to a retry Condition, reporting false if the
// error (and everything it wraps) carries no SHOULD_RETRY tag, spec.md
// §4.5 "retryable = err or any chained cause that carries the SHOULD_RETRY
// tag".
func classify(err error) (Condition, bool) {
	e, ok := gelerr.As(err)
	if !ok || !e.ShouldRetry() {
		return ConditionDefault, false
	}
	switch {
	case gelerr.CodeIdleSessionTimeoutErr.IsAncestorOf(e.Code):
		return ConditionIdleSessionTimeout, true
	case gelerr.CodeTransactionConflictError.IsAncestorOf(e.Code):
		return ConditionTransactionConflict, true
	case gelerr.CodeClientConnectionError.IsAncestorOf(e.Code):
		return ConditionNetworkError, true
	default:
		return ConditionDefault, true
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
