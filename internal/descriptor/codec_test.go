package descriptor

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/geldb/gelclient/internal/protocol"
)

func TestCodecRoundTripDecimal(t *testing.T) {
	c := scalarCodecs[ScalarDecimal]
	d, _ := decimal.NewFromString("3.14159")
	w := protocol.NewWriter()
	if err := c.Encode(Value{Kind: VDecimal, Decimal: d}, w); err != nil {
		t.Fatal(err)
	}
	got, err := c.Decode(w.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if !got.Decimal.Equal(d) {
		t.Fatalf("decoded %s, want %s", got.Decimal, d)
	}
}

func TestCodecRoundTripStr(t *testing.T) {
	c := scalarCodecs[ScalarStr]
	w := protocol.NewWriter()
	if err := c.Encode(Value{Kind: VStr, Str: "hello"}, w); err != nil {
		t.Fatal(err)
	}
	got, err := c.Decode(w.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if got.Str != "hello" {
		t.Fatalf("decoded %q", got.Str)
	}
}

func buildTupleSet(t *testing.T) (*Set, int) {
	t.Helper()
	var buf []byte
	buf = append(buf, rawDescriptor(ScalarStr, 0x02, nil)...)
	buf = append(buf, rawDescriptor(ScalarInt64, 0x02, nil)...)

	tupW := protocol.NewWriter()
	tupW.PutUint16(2)
	tupW.PutUint16(0)
	tupW.PutUint16(1)
	tupID := uuid.New()
	buf = append(buf, rawDescriptor(tupID, 0x04, tupW.Bytes())...)

	set, err := Parse(buf, tupID)
	if err != nil {
		t.Fatal(err)
	}
	return set, set.Root
}

func TestBuildCodecTupleRoundTrip(t *testing.T) {
	set, root := buildTupleSet(t)
	c, err := BuildCodec(set, root)
	if err != nil {
		t.Fatal(err)
	}

	v := Value{Kind: VTuple, Elements: []Value{
		{Kind: VStr, Str: "hi"},
		{Kind: VInt64, Int64: 42},
	}}

	w := protocol.NewWriter()
	if err := c.Encode(v, w); err != nil {
		t.Fatal(err)
	}
	got, err := c.Decode(w.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Elements) != 2 || got.Elements[0].Str != "hi" || got.Elements[1].Int64 != 42 {
		t.Fatalf("decoded = %+v", got.Elements)
	}
}

func TestBuildCodecArrayRoundTrip(t *testing.T) {
	var buf []byte
	buf = append(buf, rawDescriptor(ScalarInt32, 0x02, nil)...)
	arrW := protocol.NewWriter()
	arrW.PutUint16(0) // element pos
	arrW.PutUint16(0) // no dimension bounds
	arrID := uuid.New()
	buf = append(buf, rawDescriptor(arrID, 0x06, arrW.Bytes())...)

	set, err := Parse(buf, arrID)
	if err != nil {
		t.Fatal(err)
	}
	c, err := BuildCodec(set, set.Root)
	if err != nil {
		t.Fatal(err)
	}

	v := Value{Kind: VArray, Elements: []Value{
		{Kind: VInt32, Int32: 1},
		{Kind: VInt32, Int32: 2},
		{Kind: VInt32, Int32: 3},
	}}
	w := protocol.NewWriter()
	if err := c.Encode(v, w); err != nil {
		t.Fatal(err)
	}
	got, err := c.Decode(w.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Elements) != 3 || got.Elements[2].Int32 != 3 {
		t.Fatalf("decoded = %+v", got.Elements)
	}
}

func TestCodecEncodeWrongKindFails(t *testing.T) {
	c := scalarCodecs[ScalarStr]
	w := protocol.NewWriter()
	err := c.Encode(Value{Kind: VInt64, Int64: 1}, w)
	if err == nil {
		t.Fatal("expected InvalidValue error for mismatched kind")
	}
}
