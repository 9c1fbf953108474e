package conn

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/geldb/gelclient/internal/gelerr"
	"github.com/geldb/gelclient/internal/protocol"
)

// ParseResult is the retained CommandDataDescription of spec.md §4.3.3
// step 3 — "this is the description used to encode arguments and decode
// data".
type ParseResult struct {
	Capabilities protocol.Capabilities
	Cardinality  protocol.Cardinality
	InputID      uuid.UUID
	InputDesc    []byte
	OutputID     uuid.UUID
	OutputDesc   []byte
	Annotations  map[string]string
}

// QueryRequest is one query pipeline invocation's input, spec.md §4.3.3.
type QueryRequest struct {
	CommandText string
	Flags       protocol.ParseFlags
	State       protocol.EncodedState
	Headers     map[uint16][]byte
}

// QueryResponse is the pipeline's full result: the retained description
// plus every row's raw output bytes and the trailing command-complete/
// ready-for-command metadata.
type QueryResponse struct {
	Parse    ParseResult
	Rows     [][]byte
	Status   string
	NewState *protocol.EncodedState
	TxState  protocol.TransactionState
}

// zeroArgumentFrame is the 4-byte-zero frame spec.md §4.3.3 step 4 mandates
// for a `()` argument list.
var zeroArgumentFrame = []byte{0, 0, 0, 0}

// Query drives the full Parse/Sync → encode arguments → Execute/Sync
// pipeline of spec.md §4.3.3 over this connection's single outstanding
// request. encodeArgs receives the retained ParseResult and returns the
// already-descriptor-encoded argument bytes; pass nil to send the
// zero-argument frame.
func (c *Connection) Query(ctx context.Context, req QueryRequest, encodeArgs func(ParseResult) ([]byte, error)) (*QueryResponse, error) {
	if err := c.beginOp(ModeAwaitingResponse); err != nil {
		return nil, err
	}
	defer c.endOp()

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}

	parseResult, err := c.runParsePhase(req)
	if err != nil {
		return nil, err
	}

	var args []byte
	if encodeArgs != nil {
		args, err = encodeArgs(*parseResult)
		if err != nil {
			return nil, err
		}
	} else {
		args = zeroArgumentFrame
	}

	return c.runExecutePhase(req, *parseResult, args)
}

// runParsePhase sends Parse+Sync and reads until ReadyForCommand, per
// spec.md §4.3.3 steps 2-3.
func (c *Connection) runParsePhase(req QueryRequest) (*ParseResult, error) {
	msg := protocol.Parse{
		Flags:       req.Flags,
		CommandText: req.CommandText,
		State:       req.State,
		Headers:     req.Headers,
	}
	payload, err := msg.Encode()
	if err != nil {
		return nil, err
	}
	if _, err := c.conn.Write(payload); err != nil {
		c.markInconsistent()
		return nil, gelerr.New(gelerr.CodeClientConnectionError, "writing Parse").Wrap(err)
	}
	if _, err := c.conn.Write(protocol.Sync{}.Encode()); err != nil {
		c.markInconsistent()
		return nil, gelerr.New(gelerr.CodeClientConnectionError, "writing Sync").Wrap(err)
	}

	var result ParseResult
	var pending *gelerr.Error
	for {
		frame, err := c.fr.ReadFrame()
		if err != nil {
			c.markInconsistent()
			return nil, gelerr.New(gelerr.CodeClientConnectionError, "reading Parse response").Wrap(err)
		}
		parsed, err := protocol.DecodeServerMessage(frame)
		if err != nil {
			c.markInconsistent()
			return nil, err
		}
		switch m := parsed.(type) {
		case protocol.StateDataDescriptionMsg:
			c.mu.Lock()
			c.stateDescID = m.TypeDescID
			c.stateDesc = m.TypeDesc
			c.mu.Unlock()

		case protocol.CommandDataDescriptionMsg:
			result = ParseResult{
				Capabilities: m.Capabilities,
				Cardinality:  m.Cardinality,
				InputID:      m.InputID,
				InputDesc:    m.InputDesc,
				OutputID:     m.OutputID,
				OutputDesc:   m.OutputDesc,
				Annotations:  m.Annotations,
			}

		case protocol.ErrorResponseMsg:
			e := errorFromResponse(m)
			if gelerr.CodeParameterTypeMismatch.IsAncestorOf(e.Code) {
				gelerr.SetExtension(e, result)
			}
			pending = e

		case protocol.ReadyForCommandMsg:
			c.mu.Lock()
			c.txState = m.TransactionState
			c.mu.Unlock()
			if pending != nil {
				return nil, pending
			}
			return &result, nil

		default:
			c.markInconsistent()
			return nil, gelerr.Newf(gelerr.CodeProtocolOutOfOrder, "unexpected message during Parse phase: %T", parsed)
		}
	}
}

// runExecutePhase sends Execute+Sync and reads until ReadyForCommand, per
// spec.md §4.3.3 steps 5-7.
func (c *Connection) runExecutePhase(req QueryRequest, parse ParseResult, args []byte) (*QueryResponse, error) {
	msg := protocol.Execute{
		Flags:       req.Flags,
		CommandText: req.CommandText,
		State:       req.State,
		Arguments:   args,
		Headers:     req.Headers,
	}
	payload, err := msg.Encode()
	if err != nil {
		return nil, err
	}
	if _, err := c.conn.Write(payload); err != nil {
		c.markInconsistent()
		return nil, gelerr.New(gelerr.CodeClientConnectionError, "writing Execute").Wrap(err)
	}
	if _, err := c.conn.Write(protocol.Sync{}.Encode()); err != nil {
		c.markInconsistent()
		return nil, gelerr.New(gelerr.CodeClientConnectionError, "writing Sync").Wrap(err)
	}

	resp := QueryResponse{Parse: parse}
	var pending *gelerr.Error
	sawCommandComplete := false
	for {
		frame, err := c.fr.ReadFrame()
		if err != nil {
			c.markInconsistent()
			return nil, gelerr.New(gelerr.CodeClientConnectionError, "reading Execute response").Wrap(err)
		}
		parsed, err := protocol.DecodeServerMessage(frame)
		if err != nil {
			c.markInconsistent()
			return nil, err
		}
		switch m := parsed.(type) {
		case protocol.StateDataDescriptionMsg:
			c.mu.Lock()
			c.stateDescID = m.TypeDescID
			c.stateDesc = m.TypeDesc
			c.mu.Unlock()

		case protocol.DataMsg:
			if sawCommandComplete {
				c.markInconsistent()
				return nil, gelerr.New(gelerr.CodeProtocolOutOfOrder, "Data message after CommandComplete")
			}
			if len(m.Elements) > 0 {
				resp.Rows = append(resp.Rows, m.Elements[0])
			} else {
				resp.Rows = append(resp.Rows, nil)
			}

		case protocol.CommandCompleteMsg:
			sawCommandComplete = true
			resp.Status = m.Status
			resp.NewState = m.NewState

		case protocol.ErrorResponseMsg:
			pending = errorFromResponse(m)

		case protocol.ReadyForCommandMsg:
			c.mu.Lock()
			c.txState = m.TransactionState
			c.mu.Unlock()
			resp.TxState = m.TransactionState
			if pending != nil {
				return nil, pending
			}
			return &resp, nil

		default:
			c.markInconsistent()
			return nil, gelerr.Newf(gelerr.CodeProtocolOutOfOrder, "unexpected message during Execute phase: %T", parsed)
		}
	}
}

// EnforceCardinality applies the per-cardinality row-count checks of
// spec.md §4.3.4 at the executor layer.
func EnforceCardinality(card protocol.Cardinality, rows [][]byte) error {
	switch card {
	case protocol.CardinalityNoResult:
		if len(rows) > 0 {
			return gelerr.Newf(gelerr.CodeBinaryProtocolError, "NoResult query produced %d rows", len(rows))
		}
	case protocol.CardinalityAtMostOne:
		if len(rows) > 1 {
			return gelerr.Newf(gelerr.CodeResultCardinalityMismatch, "expected at most one row, got %d", len(rows))
		}
	case protocol.CardinalityOne:
		if len(rows) > 1 {
			return gelerr.Newf(gelerr.CodeResultCardinalityMismatch, "expected exactly one row, got %d", len(rows))
		}
		if len(rows) == 0 {
			return gelerr.New(gelerr.CodeNoDataError, "expected exactly one row, got none")
		}
	case protocol.CardinalityAtLeastOne:
		if len(rows) == 0 {
			return gelerr.New(gelerr.CodeNoDataError, "expected at least one row, got none")
		}
	}
	return nil
}

// probeFlags (with Probe's inline "select 0") implement the idle-keepalive probe of spec.md
// §4.3.5: "a cheap query (an empty transaction probe)".
var probeFlags = protocol.ParseFlags{
	IOFormat:            protocol.IOFormatBinary,
	ExpectedCardinality: protocol.CardinalityNoResult,
}

// Probe issues the idle-keepalive query. If the server reports
// IdleSessionTimeout, the caller (internal/pool) must silently discard the
// connection rather than return it to the idle queue, per spec.md §4.3.5.
func (c *Connection) Probe(ctx context.Context) error {
	_, err := c.Query(ctx, QueryRequest{CommandText: "select 0", Flags: probeFlags}, nil)
	return err
}
