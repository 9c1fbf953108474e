package descriptor

import (
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/geldb/gelclient/internal/protocol"
)

func rawDescriptor(id uuid.UUID, tag byte, body []byte) []byte {
	w := protocol.NewWriter()
	w.PutUUID(id)
	w.PutUint8(tag)
	return append(w.Bytes(), body...)
}

func TestParseBaseScalarAndScalar(t *testing.T) {
	strID := ScalarStr
	nominalID := uuid.New()

	var buf []byte
	buf = append(buf, rawDescriptor(strID, 0x02, nil)...) // BaseScalar, position 0

	bodyW := protocol.NewWriter()
	bodyW.PutUint16(0) // base position
	buf = append(buf, rawDescriptor(nominalID, 0x03, bodyW.Bytes())...) // Scalar, position 1

	set, err := Parse(buf, nominalID)
	if err != nil {
		t.Fatal(err)
	}
	if set.Root != 1 {
		t.Fatalf("Root = %d, want 1", set.Root)
	}
	if set.Entries[1].Kind != KindScalar || set.Entries[1].BasePos != 0 {
		t.Fatalf("entries[1] = %+v", set.Entries[1])
	}
}

func TestParseRejectsForwardReference(t *testing.T) {
	id0 := uuid.New()

	bodyW := protocol.NewWriter()
	bodyW.PutUint16(1) // references position 1, which does not exist yet — forward reference
	buf := rawDescriptor(id0, 0x03, bodyW.Bytes()) // Scalar at position 0

	_, err := Parse(buf, uuid.UUID{})
	if err == nil {
		t.Fatal("expected forward-reference error, got nil")
	}
}

func TestParseNoRootMeansNoShape(t *testing.T) {
	buf := rawDescriptor(ScalarStr, 0x02, nil)
	set, err := Parse(buf, uuid.UUID{})
	if err != nil {
		t.Fatal(err)
	}
	if set.Root != -1 {
		t.Fatalf("Root = %d, want -1 for all-zero root id", set.Root)
	}
}

func TestParseUnknownHighKindByteIsTypeAnnotation(t *testing.T) {
	id := uuid.New()
	w := protocol.NewWriter()
	if err := w.PutString("some_annotation"); err != nil {
		t.Fatal(err)
	}
	buf := rawDescriptor(id, 0x7f, w.Bytes())
	set, err := Parse(buf, uuid.UUID{})
	if err != nil {
		t.Fatal(err)
	}
	if set.Entries[0].Kind != KindTypeAnnotation || set.Entries[0].Annotation != "some_annotation" {
		t.Fatalf("entries[0] = %+v", set.Entries[0])
	}
}

func TestParseUnknownLowKindByteFails(t *testing.T) {
	buf := rawDescriptor(uuid.New(), 0x6e, nil)
	if _, err := Parse(buf, uuid.UUID{}); err == nil {
		t.Fatal("expected InvalidTypeDescriptor for unknown low kind byte")
	}
}

// buildObjectShapeSet constructs a two-element ObjectShape over a str and an
// int64 scalar, with the shape's wire order [b, a] — the permutation example of
// spec.md §8.
func buildObjectShapeSet(t *testing.T) (*Set, uuid.UUID) {
	t.Helper()
	var buf []byte
	buf = append(buf, rawDescriptor(ScalarStr, 0x02, nil)...)   // pos 0: str (for "a")
	buf = append(buf, rawDescriptor(ScalarInt64, 0x02, nil)...) // pos 1: int64 (for "b")

	shapeW := protocol.NewWriter()
	shapeW.PutUint16(2) // 2 elements, wire order: b, a
	shapeW.PutUint8(0)  // flags
	if err := shapeW.PutString("b"); err != nil {
		t.Fatal(err)
	}
	shapeW.PutUint16(1) // type pos -> int64
	shapeW.PutUint8(1)  // cardinality

	shapeW.PutUint8(0)
	if err := shapeW.PutString("a"); err != nil {
		t.Fatal(err)
	}
	shapeW.PutUint16(0) // type pos -> str
	shapeW.PutUint8(1)

	shapeID := uuid.New()
	buf = append(buf, rawDescriptor(shapeID, 0x01, shapeW.Bytes())...) // pos 2: ObjectShape

	set, err := Parse(buf, shapeID)
	if err != nil {
		t.Fatal(err)
	}
	return set, shapeID
}

type abStruct struct {
	A string
	B int64
}

func TestObjectShapeDecodePermutation(t *testing.T) {
	set, _ := buildObjectShapeSet(t)

	plan, err := BuildPlan(set, set.Root, reflect.TypeOf(abStruct{}))
	if err != nil {
		t.Fatal(err)
	}

	// Row elements in wire order [b, a]: b=int64(7), a="hi". PutString would
	// add its own length prefix, so the "hi" element is built by hand: our
	// own len field followed by the raw string bytes.
	rowW := protocol.NewWriter()
	rowW.PutUint32(2)
	rowW.PutUint32(0)
	rowW.PutInt32(8)
	rowW.PutInt64(7)
	rowW.PutUint32(0)
	rowW.PutInt32(int32(len("hi")))
	if err := rowW.PutRaw([]byte("hi")); err != nil {
		t.Fatal(err)
	}

	got, err := plan.Decode(rowW.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	result := got.Interface().(abStruct)
	if result.A != "hi" || result.B != 7 {
		t.Fatalf("decoded = %+v, want {A:hi B:7}", result)
	}
}

func TestBuildPlanWrongFieldName(t *testing.T) {
	set, _ := buildObjectShapeSet(t)
	type wrongStruct struct {
		A string
		C int64
	}
	_, err := BuildPlan(set, set.Root, reflect.TypeOf(wrongStruct{}))
	if err == nil {
		t.Fatal("expected WrongField error for unmatched field name")
	}
}
