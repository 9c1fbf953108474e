package gel

import (
	"context"
	"encoding/json"
	"log/slog"
	"reflect"
	"time"

	"github.com/geldb/gelclient/internal/conn"
	"github.com/geldb/gelclient/internal/descriptor"
	"github.com/geldb/gelclient/internal/gelerr"
	"github.com/geldb/gelclient/internal/protocol"
	"github.com/geldb/gelclient/internal/session"
)

// Executor is the uniform query surface of spec.md §4.6: both *Client
// (delegates through the pool, acquiring and releasing a connection per
// call) and *Tx (delegates to its pinned transaction connection) implement
// it, so Query/QuerySingle/etc. work identically against either.
type Executor interface {
	rawQuery(ctx context.Context, cmd string, flags protocol.ParseFlags, args any) (*conn.QueryResponse, error)
}

var zeroArgFrame = []byte{0, 0, 0, 0}

func (c *Client) rawQuery(ctx context.Context, cmd string, flags protocol.ParseFlags, args any) (*conn.QueryResponse, error) {
	lc, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer lc.Release()

	state, err := encodeConnState(lc.C, c.state)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := lc.C.Query(ctx, conn.QueryRequest{CommandText: cmd, Flags: flags, State: state}, func(pr conn.ParseResult) ([]byte, error) {
		return encodeArguments(pr, args)
	})
	if err == nil {
		c.metrics.QueryDuration(cardinalityLabel(flags.ExpectedCardinality), time.Since(start))
	}
	return resp, err
}

// encodeConnState builds an EncodedState for state against the given
// connection's currently-known state descriptor, mirroring
// internal/retry's own encodeState — duplicated rather than exported
// across a package boundary for one small helper.
func encodeConnState(c *conn.Connection, state session.State) (protocol.EncodedState, error) {
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

func cardinalityLabel(c protocol.Cardinality) string {
	switch c {
	case protocol.CardinalityNoResult:
		return "no_result"
	case protocol.CardinalityAtMostOne:
		return "at_most_one"
	case protocol.CardinalityOne:
		return "one"
	case protocol.CardinalityAtLeastOne:
		return "at_least_one"
	default:
		return "many"
	}
}

// encodeArguments builds the wire argument frame for one Parse/Execute
// pair, per spec.md §4.3.3 step 4: parse the retained input descriptor,
// convert args into a descriptor.Value matching its root shape, and encode
// it with the matching dynamic codec.
func encodeArguments(parse conn.ParseResult, args any) ([]byte, error) {
	set, err := descriptor.Parse(parse.InputDesc, parse.InputID)
	if err != nil {
		return nil, err
	}
	if set.Root < 0 {
		return zeroArgFrame, nil
	}

	root := set.Entries[set.Root]
	value, err := argsToValue(args, root)
	if err != nil {
		return nil, err
	}

	codec, err := descriptor.BuildCodec(set, set.Root)
	if err != nil {
		return nil, err
	}
	w := protocol.NewWriter()
	if err := codec.Encode(value, w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// argsToValue converts a caller-supplied argument into the descriptor.Value
// shape the input descriptor's root expects, per spec.md §4.6's "arguments
// as either a positional tuple (possibly empty), a dynamic Value, or a
// named-argument map".
func argsToValue(args any, root descriptor.Descriptor) (descriptor.Value, error) {
	if v, ok := args.(descriptor.Value); ok {
		return v, nil
	}
	switch root.Kind {
	case descriptor.KindTuple:
		return positionalTupleValue(args, len(root.ElementPositions))
	case descriptor.KindObjectShape, descriptor.KindInputShape, descriptor.KindSparseObject:
		return namedObjectValue(args, root.Elements)
	default:
		return descriptor.Value{}, gelerr.Newf(gelerr.CodeQueryArgumentError, "query input descriptor has unsupported root kind %d", root.Kind)
	}
}

func positionalTupleValue(args any, arity int) (descriptor.Value, error) {
	if args == nil {
		if arity != 0 {
			return descriptor.Value{}, gelerr.Newf(gelerr.CodeMissingArgumentError, "query expects %d positional arguments, got 0", arity)
		}
		return descriptor.Value{Kind: descriptor.VTuple}, nil
	}

	raw, ok := args.([]any)
	if !ok {
		raw = []any{args}
	}
	if len(raw) != arity {
		return descriptor.Value{}, gelerr.Newf(gelerr.CodeMissingArgumentError, "query expects %d positional arguments, got %d", arity, len(raw))
	}

	elems := make([]descriptor.Value, len(raw))
	for i, a := range raw {
		v, err := goToValue(a)
		if err != nil {
			return descriptor.Value{}, err
		}
		elems[i] = v
	}
	return descriptor.Value{Kind: descriptor.VTuple, Elements: elems}, nil
}

func namedObjectValue(args any, elements []descriptor.ShapeElement) (descriptor.Value, error) {
	named := map[string]any{}
	switch m := args.(type) {
	case nil:
	case map[string]any:
		named = m
	case map[string]descriptor.Value:
		for k, v := range m {
			named[k] = v
		}
	default:
		return descriptor.Value{}, gelerr.Newf(gelerr.CodeQueryArgumentError, "query expects named arguments, got %T", args)
	}

	fields := make([]descriptor.Value, len(elements))
	for i, el := range elements {
		raw, ok := named[el.Name]
		if !ok {
			if elementRequired(el) {
				return descriptor.Value{}, gelerr.Newf(gelerr.CodeMissingArgumentError, "missing required argument %q", el.Name)
			}
			fields[i] = descriptor.Value{Kind: descriptor.VNull}
			continue
		}
		v, err := goToValue(raw)
		if err != nil {
			return descriptor.Value{}, err
		}
		fields[i] = v
	}
	return descriptor.Value{Kind: descriptor.VObject, Fields: fields}, nil
}

// elementRequired reports whether a shape element's declared cardinality
// demands a value, per spec.md §9's "missing optional arguments serialize
// as null and missing required arguments fail with MissingArgumentError".
func elementRequired(el descriptor.ShapeElement) bool {
	switch protocol.Cardinality(el.Cardinality) {
	case protocol.CardinalityOne, protocol.CardinalityAtLeastOne:
		return true
	default:
		return false
	}
}

// goToValue converts one Go argument value into its descriptor.Value
// representation, the encode-side mirror of plan_decode.go's valueToGo.
func goToValue(x any) (descriptor.Value, error) {
	if x == nil {
		return descriptor.Value{Kind: descriptor.VNull}, nil
	}
	switch v := x.(type) {
	case descriptor.Value:
		return v, nil
	case string:
		return descriptor.Value{Kind: descriptor.VStr, Str: v}, nil
	case []byte:
		return descriptor.Value{Kind: descriptor.VBytes, Bytes: v}, nil
	case bool:
		return descriptor.Value{Kind: descriptor.VBool, Bool: v}, nil
	case int16:
		return descriptor.Value{Kind: descriptor.VInt16, Int16: v}, nil
	case int32:
		return descriptor.Value{Kind: descriptor.VInt32, Int32: v}, nil
	case int:
		return descriptor.Value{Kind: descriptor.VInt32, Int32: int32(v)}, nil
	case int64:
		return descriptor.Value{Kind: descriptor.VInt64, Int64: v}, nil
	case float32:
		return descriptor.Value{Kind: descriptor.VFloat32, Float32: v}, nil
	case float64:
		return descriptor.Value{Kind: descriptor.VFloat64, Float64: v}, nil
	default:
		return goToValueReflect(x)
	}
}

func goToValueReflect(x any) (descriptor.Value, error) {
	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return descriptor.Value{Kind: descriptor.VNull}, nil
		}
		return goToValue(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		elems := make([]descriptor.Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			v, err := goToValue(rv.Index(i).Interface())
			if err != nil {
				return descriptor.Value{}, err
			}
			elems[i] = v
		}
		return descriptor.Value{Kind: descriptor.VArray, Elements: elems}, nil
	case reflect.Struct:
		// decimal.Decimal / uuid.UUID / time.Time and similar named struct
		// types are passed through via their Value constructor instead of
		// reflection, since there is no generic struct->scalar mapping;
		// callers needing one of these pass a descriptor.Value directly.
		return descriptor.Value{}, gelerr.Newf(gelerr.CodeQueryArgumentError, "unsupported argument type %T (pass a descriptor.Value for decimal/uuid/time arguments)", x)
	default:
		return descriptor.Value{}, gelerr.Newf(gelerr.CodeQueryArgumentError, "unsupported argument type %T", x)
	}
}

// decodeRows builds a static Plan once for T and decodes every row against
// it, per spec.md §4.2.2's "Static (queryable decode plan)" path.
func decodeRows[T any](set *descriptor.Set, rows [][]byte) ([]T, error) {
	plan, err := descriptor.BuildPlan(set, set.Root, reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		v, err := plan.Decode(row)
		if err != nil {
			return nil, err
		}
		out = append(out, v.Interface().(T))
	}
	return out, nil
}

// Warning is one entry of a CommandDataDescription's annotations["warnings"]
// array, spec.md §4.6.
type Warning struct {
	Message string `json:"message"`
}

func parseWarnings(annotations map[string]string) []Warning {
	raw, ok := annotations["warnings"]
	if !ok || raw == "" {
		return nil
	}
	var warnings []Warning
	if err := json.Unmarshal([]byte(raw), &warnings); err != nil {
		slog.Warn("gel: failed to parse warnings annotation", "err", err)
		return nil
	}
	return warnings
}

// logWarnings surfaces a query's warnings on the well-known WARN log
// target for every façade method except QueryVerbose, which returns them
// to the caller instead, spec.md §4.6.
func logWarnings(parse conn.ParseResult) {
	for _, w := range parseWarnings(parse.Annotations) {
		slog.Warn("gel: query produced a warning", "message", w.Message)
	}
}

var queryFlags = protocol.ParseFlags{IOFormat: protocol.IOFormatBinary, ExpectedCardinality: protocol.CardinalityMany}
var querySingleFlags = protocol.ParseFlags{IOFormat: protocol.IOFormatBinary, ExpectedCardinality: protocol.CardinalityAtMostOne}
var queryRequiredSingleFlags = protocol.ParseFlags{IOFormat: protocol.IOFormatBinary, ExpectedCardinality: protocol.CardinalityOne}
var queryJSONFlags = protocol.ParseFlags{IOFormat: protocol.IOFormatJSON, ExpectedCardinality: protocol.CardinalityMany}
var querySingleJSONFlags = protocol.ParseFlags{IOFormat: protocol.IOFormatJSON, ExpectedCardinality: protocol.CardinalityAtMostOne}
var queryRequiredSingleJSONFlags = protocol.ParseFlags{IOFormat: protocol.IOFormatJSON, ExpectedCardinality: protocol.CardinalityOne}
var executeFlags = protocol.ParseFlags{IOFormat: protocol.IOFormatBinary, ExpectedCardinality: protocol.CardinalityNoResult}

// Query runs cmd and decodes every returned row into T, spec.md §4.6's
// `query<T>` (Many cardinality).
func Query[T any](ctx context.Context, e Executor, cmd string, args any) ([]T, error) {
	resp, err := e.rawQuery(ctx, cmd, queryFlags, args)
	if err != nil {
		return nil, err
	}
	if err := conn.EnforceCardinality(protocol.CardinalityMany, resp.Rows); err != nil {
		return nil, err
	}
	logWarnings(resp.Parse)
	set, err := descriptor.Parse(resp.Parse.OutputDesc, resp.Parse.OutputID)
	if err != nil {
		return nil, err
	}
	return decodeRows[T](set, resp.Rows)
}

// QuerySingle runs cmd expecting at most one row, spec.md §4.6's
// `query_single<T>` (AtMostOne, Option<T>). A nil result means zero rows.
func QuerySingle[T any](ctx context.Context, e Executor, cmd string, args any) (*T, error) {
	resp, err := e.rawQuery(ctx, cmd, querySingleFlags, args)
	if err != nil {
		return nil, err
	}
	if err := conn.EnforceCardinality(protocol.CardinalityAtMostOne, resp.Rows); err != nil {
		return nil, err
	}
	logWarnings(resp.Parse)
	if len(resp.Rows) == 0 {
		return nil, nil
	}
	set, err := descriptor.Parse(resp.Parse.OutputDesc, resp.Parse.OutputID)
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows[T](set, resp.Rows)
	if err != nil {
		return nil, err
	}
	return &rows[0], nil
}

// QueryRequiredSingle runs cmd expecting exactly one row, spec.md §4.6's
// `query_required_single<T>` (One; NoDataError if the server returns zero
// rows).
func QueryRequiredSingle[T any](ctx context.Context, e Executor, cmd string, args any) (T, error) {
	var zero T
	resp, err := e.rawQuery(ctx, cmd, queryRequiredSingleFlags, args)
	if err != nil {
		return zero, err
	}
	if err := conn.EnforceCardinality(protocol.CardinalityOne, resp.Rows); err != nil {
		return zero, err
	}
	logWarnings(resp.Parse)
	set, err := descriptor.Parse(resp.Parse.OutputDesc, resp.Parse.OutputID)
	if err != nil {
		return zero, err
	}
	rows, err := decodeRows[T](set, resp.Rows)
	if err != nil {
		return zero, err
	}
	return rows[0], nil
}

// QueryJSON runs cmd in JSON I/O format, returning the server's single
// JSON-array row as a string, spec.md §4.6's `query_json` (Many).
func QueryJSON(ctx context.Context, e Executor, cmd string, args any) (string, error) {
	resp, err := e.rawQuery(ctx, cmd, queryJSONFlags, args)
	if err != nil {
		return "", err
	}
	logWarnings(resp.Parse)
	if len(resp.Rows) == 0 {
		return "[]", nil
	}
	return string(resp.Rows[0]), nil
}

// QuerySingleJSON is QueryJSON's AtMostOne form, spec.md §4.6's
// `query_single_json` (Option<JSON string>). A nil result means zero rows.
func QuerySingleJSON(ctx context.Context, e Executor, cmd string, args any) (*string, error) {
	resp, err := e.rawQuery(ctx, cmd, querySingleJSONFlags, args)
	if err != nil {
		return nil, err
	}
	logWarnings(resp.Parse)
	if len(resp.Rows) == 0 {
		return nil, nil
	}
	s := string(resp.Rows[0])
	return &s, nil
}

// QueryRequiredSingleJSON is QueryJSON's One form, spec.md §4.6's
// `query_required_single_json` (fails NoDataError if 0 rows).
func QueryRequiredSingleJSON(ctx context.Context, e Executor, cmd string, args any) (string, error) {
	resp, err := e.rawQuery(ctx, cmd, queryRequiredSingleJSONFlags, args)
	if err != nil {
		return "", err
	}
	logWarnings(resp.Parse)
	if len(resp.Rows) == 0 {
		return "", gelerr.New(gelerr.CodeNoDataError, "expected exactly one row, got none")
	}
	return string(resp.Rows[0]), nil
}

// VerboseResult is query_verbose's return shape, spec.md §4.6: the decoded
// rows plus any server-reported warnings that a plain Query call would
// only have logged.
type VerboseResult[T any] struct {
	Data     []T
	Warnings []Warning
}

// QueryVerbose is Query's verbose form, spec.md §4.6's `query_verbose<T>`.
func QueryVerbose[T any](ctx context.Context, e Executor, cmd string, args any) (VerboseResult[T], error) {
	resp, err := e.rawQuery(ctx, cmd, queryFlags, args)
	if err != nil {
		return VerboseResult[T]{}, err
	}
	if err := conn.EnforceCardinality(protocol.CardinalityMany, resp.Rows); err != nil {
		return VerboseResult[T]{}, err
	}
	set, err := descriptor.Parse(resp.Parse.OutputDesc, resp.Parse.OutputID)
	if err != nil {
		return VerboseResult[T]{}, err
	}
	data, err := decodeRows[T](set, resp.Rows)
	if err != nil {
		return VerboseResult[T]{}, err
	}
	return VerboseResult[T]{Data: data, Warnings: parseWarnings(resp.Parse.Annotations)}, nil
}

// Execute runs cmd expecting no result rows, spec.md §4.6's `execute`.
func Execute(ctx context.Context, e Executor, cmd string, args any) error {
	resp, err := e.rawQuery(ctx, cmd, executeFlags, args)
	if err != nil {
		return err
	}
	if err := conn.EnforceCardinality(protocol.CardinalityNoResult, resp.Rows); err != nil {
		return err
	}
	logWarnings(resp.Parse)
	return nil
}
