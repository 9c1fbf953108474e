package gel

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/geldb/gelclient/internal/conn"
	"github.com/geldb/gelclient/internal/descriptor"
	"github.com/geldb/gelclient/internal/metrics"
	"github.com/geldb/gelclient/internal/pool"
	"github.com/geldb/gelclient/internal/protocol"
	"github.com/geldb/gelclient/internal/retry"
	"github.com/geldb/gelclient/internal/session"
)

func drainReads(c net.Conn) {
	buf := make([]byte, 4096)
	for {
		if _, err := c.Read(buf); err != nil {
			return
		}
	}
}

// pipeDialer hands out *conn.Connection wrapping one end of a net.Pipe(),
// draining whatever the client writes — the same scripted-server pattern
// internal/pool and internal/api test with, for tests that never actually
// issue a query (state-evolution methods only touch the session snapshot).
func pipeDialer(t *testing.T) func(ctx context.Context) (*conn.Connection, error) {
	t.Helper()
	return func(ctx context.Context) (*conn.Connection, error) {
		client, server := net.Pipe()
		t.Cleanup(func() { server.Close() })
		go drainReads(server)
		return conn.New(client), nil
	}
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	p := pool.New(pool.Config{Dial: pipeDialer(t), MaxConcurrency: 4, AcquireTimeout: time.Second})
	t.Cleanup(p.Close)
	return &Client{pool: p, state: session.New(), retryOpts: retry.NewOptions(), metrics: metrics.New()}
}

// scriptedDialer hands out exactly one connection whose peer immediately
// writes script, for tests that drive a real façade call end to end.
func scriptedDialer(t *testing.T, script []byte) func(ctx context.Context) (*conn.Connection, error) {
	t.Helper()
	return func(ctx context.Context) (*conn.Connection, error) {
		client, server := net.Pipe()
		t.Cleanup(func() { server.Close() })
		go func() { server.Write(script) }()
		go drainReads(server)
		return conn.New(client), nil
	}
}

func rawScalarDescriptor(id uuid.UUID) []byte {
	w := protocol.NewWriter()
	w.PutUUID(id)
	w.PutUint8(0x02) // BaseScalar
	return w.Bytes()
}

func fakeFrame(tag byte, build func(w *protocol.Writer)) []byte {
	w := protocol.NewWriter()
	build(w)
	return protocol.WriteFrame(tag, w.Bytes())
}

func readyForCommandFrame(state protocol.TransactionState) []byte {
	return fakeFrame(protocol.TagReadyForCommand, func(w *protocol.Writer) {
		w.PutHeaders(nil)
		w.PutUint8(uint8(state))
	})
}

// int64ScalarQueryScript builds the full Parse+Execute response sequence
// (spec.md §4.3.3) for a no-argument query whose output is a bare int64
// scalar, one Data message per value.
func int64ScalarQueryScript(card protocol.Cardinality, values []int64) []byte {
	outputDesc := rawScalarDescriptor(descriptor.ScalarInt64)

	var out []byte
	out = append(out, fakeFrame(protocol.TagCommandDataDescription, func(w *protocol.Writer) {
		w.PutHeaders(nil)
		w.PutUint64(0)
		w.PutUint8(uint8(card))
		w.PutUUID(uuid.UUID{}) // no input arguments
		w.PutBytes(nil)
		w.PutUUID(descriptor.ScalarInt64)
		w.PutBytes(outputDesc)
	})...)
	out = append(out, readyForCommandFrame(protocol.TxNotInTransaction)...)

	for _, v := range values {
		out = append(out, fakeFrame(protocol.TagData, func(w *protocol.Writer) {
			w.PutUint16(1)
			elemW := protocol.NewWriter()
			elemW.PutInt64(v)
			w.PutBytes(elemW.Bytes())
		})...)
	}
	out = append(out, fakeFrame(protocol.TagCommandComplete, func(w *protocol.Writer) {
		w.PutString("SELECT")
		w.PutUint8(0)
	})...)
	out = append(out, readyForCommandFrame(protocol.TxNotInTransaction)...)
	return out
}

func TestQueryDecodesEachRow(t *testing.T) {
	script := int64ScalarQueryScript(protocol.CardinalityMany, []int64{1, 2, 3})
	p := pool.New(pool.Config{Dial: scriptedDialer(t, script), MaxConcurrency: 1, AcquireTimeout: time.Second})
	defer p.Close()
	c := &Client{pool: p, state: session.New(), retryOpts: retry.NewOptions(), metrics: metrics.New()}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := Query[int64](ctx, c, "select {1, 2, 3}", nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("got %v rows, want %v", got, want)
	}
	for i, v := range want {
		if got[i] != v {
			t.Fatalf("row %d = %d, want %d", i, got[i], v)
		}
	}
}

func TestQueryRequiredSingleFailsNoDataOnZeroRows(t *testing.T) {
	script := int64ScalarQueryScript(protocol.CardinalityOne, nil)
	p := pool.New(pool.Config{Dial: scriptedDialer(t, script), MaxConcurrency: 1, AcquireTimeout: time.Second})
	defer p.Close()
	c := &Client{pool: p, state: session.New(), retryOpts: retry.NewOptions(), metrics: metrics.New()}

	_, err := QueryRequiredSingle[int64](context.Background(), c, "select <int64>{}", nil)
	if err == nil {
		t.Fatal("expected NoDataError for zero rows against QueryRequiredSingle")
	}
}

func TestQuerySingleReturnsNilForZeroRows(t *testing.T) {
	script := int64ScalarQueryScript(protocol.CardinalityAtMostOne, nil)
	p := pool.New(pool.Config{Dial: scriptedDialer(t, script), MaxConcurrency: 1, AcquireTimeout: time.Second})
	defer p.Close()
	c := &Client{pool: p, state: session.New(), retryOpts: retry.NewOptions(), metrics: metrics.New()}

	got, err := QuerySingle[int64](context.Background(), c, "select <int64>{}", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %v", *got)
	}
}

func TestWithDefaultModuleSharesPool(t *testing.T) {
	c := newTestClient(t)
	next := c.WithDefaultModule("users")

	if next.pool != c.pool {
		t.Fatal("WithDefaultModule must share the underlying pool")
	}
	if got, ok := next.state.DefaultModule(); !ok || got != "users" {
		t.Fatalf("DefaultModule() = %q, %v, want users, true", got, ok)
	}
	if _, ok := c.state.DefaultModule(); ok {
		t.Fatal("original client's state must be unaffected")
	}
}

func TestWithGlobalsReturnsIndependentSnapshot(t *testing.T) {
	c := newTestClient(t)
	next := c.WithGlobals(map[string]descriptor.Value{"user_id": {Kind: descriptor.VInt64, Int64: 1}})

	if len(c.state.Globals()) != 0 {
		t.Fatal("original client's globals must stay empty")
	}
	if len(next.state.Globals()) != 1 {
		t.Fatal("expected one global on the derived client")
	}
}

func TestPositionalTupleValueRejectsArityMismatch(t *testing.T) {
	_, err := positionalTupleValue([]any{1, 2}, 1)
	if err == nil {
		t.Fatal("expected arity mismatch error")
	}
}

func TestPositionalTupleValueWrapsSingleArg(t *testing.T) {
	v, err := positionalTupleValue(int64(42), 1)
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind != descriptor.VTuple || len(v.Elements) != 1 || v.Elements[0].Int64 != 42 {
		t.Fatalf("unexpected value: %+v", v)
	}
}

func TestNamedObjectValueFillsMissingWithNull(t *testing.T) {
	elements := []descriptor.ShapeElement{{Name: "a"}, {Name: "b"}}
	v, err := namedObjectValue(map[string]any{"a": "x"}, elements)
	if err != nil {
		t.Fatal(err)
	}
	if len(v.Fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(v.Fields))
	}
	if v.Fields[0].Str != "x" {
		t.Fatalf("field a = %+v, want x", v.Fields[0])
	}
	if !v.Fields[1].IsNull() {
		t.Fatal("field b should be null when absent from the args map")
	}
}

func TestNamedObjectValueFailsMissingArgumentWhenRequired(t *testing.T) {
	elements := []descriptor.ShapeElement{{Name: "a", Cardinality: uint8(protocol.CardinalityOne)}}
	_, err := namedObjectValue(map[string]any{}, elements)
	if err == nil {
		t.Fatal("expected MissingArgumentError for an absent required argument")
	}
}

func TestGoToValueConvertsScalars(t *testing.T) {
	cases := []struct {
		in   any
		kind descriptor.ValueKind
	}{
		{"hi", descriptor.VStr},
		{int64(7), descriptor.VInt64},
		{true, descriptor.VBool},
		{3.14, descriptor.VFloat64},
		{nil, descriptor.VNull},
	}
	for _, tt := range cases {
		v, err := goToValue(tt.in)
		if err != nil {
			t.Fatalf("goToValue(%v): %v", tt.in, err)
		}
		if v.Kind != tt.kind {
			t.Errorf("goToValue(%v).Kind = %v, want %v", tt.in, v.Kind, tt.kind)
		}
	}
}

func TestGoToValueConvertsSliceToArray(t *testing.T) {
	v, err := goToValue([]int64{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind != descriptor.VArray || len(v.Elements) != 3 {
		t.Fatalf("unexpected value: %+v", v)
	}
}
