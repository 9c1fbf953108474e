package conn

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/geldb/gelclient/internal/protocol"
)

// fakeServerFrame builds one raw server-to-client frame by hand, exercising
// the same tag+u32-length framing and field encodings as protocol's own
// encoders, so these tests drive Query purely over the wire rather than
// through any shared in-process structs.
func fakeServerFrame(t *testing.T, tag byte, build func(w *protocol.Writer)) []byte {
	t.Helper()
	w := protocol.NewWriter()
	build(w)
	return protocol.WriteFrame(tag, w.Bytes())
}

func readyForCommandFrame(t *testing.T, state protocol.TransactionState) []byte {
	return fakeServerFrame(t, protocol.TagReadyForCommand, func(w *protocol.Writer) {
		w.PutHeaders(nil)
		w.PutUint8(uint8(state))
	})
}

func commandDataDescriptionFrame(t *testing.T, card protocol.Cardinality) []byte {
	return fakeServerFrame(t, protocol.TagCommandDataDescription, func(w *protocol.Writer) {
		w.PutHeaders(nil)
		w.PutUint64(uint64(protocol.CapModifications))
		w.PutUint8(uint8(card))
		w.PutUUID(uuid.UUID{})
		w.PutBytes(nil)
		w.PutUUID(uuid.UUID{})
		w.PutBytes(nil)
	})
}

func dataFrame(t *testing.T, elements ...[]byte) []byte {
	return fakeServerFrame(t, protocol.TagData, func(w *protocol.Writer) {
		w.PutUint16(uint16(len(elements)))
		for _, e := range elements {
			w.PutBytes(e)
		}
	})
}

func commandCompleteFrame(t *testing.T, status string) []byte {
	return fakeServerFrame(t, protocol.TagCommandComplete, func(w *protocol.Writer) {
		w.PutString(status)
		w.PutUint8(0) // no new state
	})
}

func errorResponseFrame(t *testing.T, code uint32, message string) []byte {
	return fakeServerFrame(t, protocol.TagErrorResponse, func(w *protocol.Writer) {
		w.PutUint8(0)
		w.PutUint32(code)
		w.PutString(message)
		w.PutHeaders(nil)
	})
}

// pipeConnPair returns a *Connection wrapping one end of a net.Pipe(), plus
// the server end as a net.Conn; callers script the server's writes with
// writeAll, which writes every frame to the wire verbatim, in order.
func pipeConnPair(t *testing.T) (*Connection, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { server.Close(); client.Close() })
	return New(client), server
}

func writeAll(t *testing.T, server net.Conn, frames ...[]byte) {
	t.Helper()
	go func() {
		for _, f := range frames {
			if _, err := server.Write(f); err != nil {
				return
			}
		}
	}()
}

func TestQuerySuccessRoundTrip(t *testing.T) {
	c, server := pipeConnPair(t)

	// Drain whatever the client writes (Parse+Sync, then Execute+Sync) so
	// its Write calls never block against the pipe.
	go drainReads(server)

	writeAll(t, server,
		commandDataDescriptionFrame(t, protocol.CardinalityMany),
		readyForCommandFrame(t, protocol.TxNotInTransaction),
		dataFrame(t, []byte("row1")),
		dataFrame(t, []byte("row2")),
		commandCompleteFrame(t, "SELECT"),
		readyForCommandFrame(t, protocol.TxNotInTransaction),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := c.Query(ctx, QueryRequest{
		CommandText: "select {1, 2}",
		Flags: protocol.ParseFlags{
			IOFormat:            protocol.IOFormatBinary,
			ExpectedCardinality: protocol.CardinalityMany,
		},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != "SELECT" {
		t.Fatalf("Status = %q, want SELECT", resp.Status)
	}
	if len(resp.Rows) != 2 || string(resp.Rows[0]) != "row1" || string(resp.Rows[1]) != "row2" {
		t.Fatalf("Rows = %v, want [row1 row2]", resp.Rows)
	}
	if resp.Parse.Cardinality != protocol.CardinalityMany {
		t.Fatalf("Parse.Cardinality = %v, want Many", resp.Parse.Cardinality)
	}
	if err := EnforceCardinality(resp.Parse.Cardinality, resp.Rows); err != nil {
		t.Fatalf("EnforceCardinality: %v", err)
	}
}

func TestQueryParsePhaseErrorAbortsBeforeExecute(t *testing.T) {
	c, server := pipeConnPair(t)
	go drainReads(server)

	writeAll(t, server,
		errorResponseFrame(t, uint32(0x_01_00_00_00), "syntax error"),
		readyForCommandFrame(t, protocol.TxNotInTransaction),
	)

	_, err := c.Query(context.Background(), QueryRequest{
		CommandText: "not sql",
		Flags:       protocol.ParseFlags{IOFormat: protocol.IOFormatBinary, ExpectedCardinality: protocol.CardinalityNoResult},
	}, nil)
	if err == nil {
		t.Fatal("expected Parse-phase error to abort the pipeline")
	}
}

func TestEnforceCardinalityRejectsExtraRowForAtMostOne(t *testing.T) {
	err := EnforceCardinality(protocol.CardinalityAtMostOne, [][]byte{{1}, {2}})
	if err == nil {
		t.Fatal("expected cardinality mismatch for 2 rows against AtMostOne")
	}
}

func TestEnforceCardinalityRejectsEmptyForOne(t *testing.T) {
	err := EnforceCardinality(protocol.CardinalityOne, nil)
	if err == nil {
		t.Fatal("expected NoDataError for 0 rows against CardinalityOne")
	}
}

// drainReads discards inbound bytes so the client's Write calls (which a
// net.Pipe blocks until read) never stall the test.
func drainReads(c net.Conn) {
	buf := make([]byte, 4096)
	for {
		if _, err := c.Read(buf); err != nil {
			return
		}
	}
}
