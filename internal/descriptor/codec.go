package descriptor

import (
	"time"

	"github.com/google/uuid"

	"github.com/geldb/gelclient/internal/gelerr"
	"github.com/geldb/gelclient/internal/protocol"
)

// Codec decodes and encodes one descriptor position's wire shape into/from
// a Value, spec.md §4.2.2 "dynamic" mode.
type Codec interface {
	Decode(data []byte) (Value, error)
	Encode(v Value, w *protocol.Writer) error
}

// BuildCodec recursively instantiates a codec tree mirroring the descriptor
// graph rooted at pos, per spec.md §4.2.2.
func BuildCodec(set *Set, pos int) (Codec, error) {
	if pos < 0 || pos >= len(set.Entries) {
		return nil, gelerr.Newf(gelerr.CodeInvalidTypeDescriptor, "codec position %d out of range", pos)
	}
	d := set.Entries[pos]

	switch d.Kind {
	case KindBaseScalar:
		c, ok := scalarCodecs[d.ID]
		if !ok {
			return nil, gelerr.Newf(gelerr.CodeUnsupportedFeature, "no codec for base scalar %s", d.ID)
		}
		return c, nil

	case KindScalar:
		return BuildCodec(set, d.BasePos)

	case KindTuple:
		children := make([]Codec, len(d.ElementPositions))
		for i, ep := range d.ElementPositions {
			c, err := BuildCodec(set, ep)
			if err != nil {
				return nil, err
			}
			children[i] = c
		}
		return &tupleCodec{children: children}, nil

	case KindNamedTuple:
		children := make([]Codec, len(d.NamedElements))
		names := make([]string, len(d.NamedElements))
		for i, el := range d.NamedElements {
			c, err := BuildCodec(set, el.TypePos)
			if err != nil {
				return nil, err
			}
			children[i] = c
			names[i] = el.Name
		}
		return &namedTupleCodec{children: children, names: names}, nil

	case KindArray:
		elem, err := BuildCodec(set, d.ElementPos)
		if err != nil {
			return nil, err
		}
		return &arrayCodec{elem: elem}, nil

	case KindSet:
		elem, err := BuildCodec(set, d.ElementPos)
		if err != nil {
			return nil, err
		}
		return &setCodec{elem: elem}, nil

	case KindRange:
		elem, err := BuildCodec(set, d.ElementPos)
		if err != nil {
			return nil, err
		}
		return &rangeCodec{elem: elem}, nil

	case KindMultiRange:
		elem, err := BuildCodec(set, d.ElementPos)
		if err != nil {
			return nil, err
		}
		return &multiRangeCodec{inner: &rangeCodec{elem: elem}}, nil

	case KindEnumeration:
		return &enumCodec{members: d.Members}, nil

	case KindObjectShape, KindInputShape, KindSparseObject:
		children := make([]Codec, len(d.Elements))
		names := make([]string, len(d.Elements))
		for i, el := range d.Elements {
			c, err := BuildCodec(set, el.TypePos)
			if err != nil {
				return nil, err
			}
			children[i] = c
			names[i] = el.Name
		}
		return &objectCodec{children: children, names: names}, nil

	case KindTypeAnnotation:
		return nil, gelerr.New(gelerr.CodeInvalidTypeDescriptor, "TypeAnnotation has no codec")

	default:
		return nil, gelerr.Newf(gelerr.CodeInvalidTypeDescriptor, "unhandled descriptor kind %d", d.Kind)
	}
}

// --- composite element-frame helpers -------------------------------------

// decodeElementFrame reads one {reserved:u32, len:i32, bytes} field of a
// tuple/named-tuple/object frame, per spec.md §4.2.2. A length of -1 means
// null.
func decodeElementFrame(r *protocol.Reader, c Codec) (Value, error) {
	if _, err := r.GetUint32(); err != nil { // reserved
		return Value{}, err
	}
	length, err := r.GetInt32()
	if err != nil {
		return Value{}, err
	}
	if length == -1 {
		return Value{Kind: VNull}, nil
	}
	if err := r.Need(int(length)); err != nil {
		return Value{}, err
	}
	data, err := r.Take(int(length))
	if err != nil {
		return Value{}, err
	}
	return c.Decode(data)
}

func encodeElementFrame(w *protocol.Writer, v Value, c Codec) error {
	w.PutUint32(0) // reserved
	if v.Kind == VNull {
		w.PutInt32(-1)
		return nil
	}
	elemW := protocol.NewWriter()
	if err := c.Encode(v, elemW); err != nil {
		return err
	}
	body := elemW.Bytes()
	w.PutInt32(int32(len(body)))
	return w.PutRaw(body)
}

// --- composite codecs -----------------------------------------------------

type tupleCodec struct{ children []Codec }

func (c *tupleCodec) Decode(data []byte) (Value, error) {
	r := protocol.NewReader(data)
	n, err := r.GetUint32()
	if err != nil {
		return Value{}, err
	}
	if int(n) != len(c.children) {
		return Value{}, gelerr.Newf(gelerr.CodeBinaryProtocolError, "tuple element count %d does not match codec arity %d", n, len(c.children))
	}
	elems := make([]Value, n)
	for i := range elems {
		v, err := decodeElementFrame(r, c.children[i])
		if err != nil {
			return Value{}, err
		}
		elems[i] = v
	}
	if !r.Done() {
		return Value{}, gelerr.New(gelerr.CodeExtraData, "unconsumed bytes after decoding tuple")
	}
	return Value{Kind: VTuple, Elements: elems}, nil
}

func (c *tupleCodec) Encode(v Value, w *protocol.Writer) error {
	if v.Kind != VTuple || len(v.Elements) != len(c.children) {
		return gelerr.Newf(gelerr.CodeInvalidValueError, "InvalidValue: expected tuple of arity %d, got %v", len(c.children), v.Kind)
	}
	w.PutUint32(uint32(len(c.children)))
	for i, child := range c.children {
		if err := encodeElementFrame(w, v.Elements[i], child); err != nil {
			return err
		}
	}
	return nil
}

type namedTupleCodec struct {
	children []Codec
	names    []string
}

func (c *namedTupleCodec) Decode(data []byte) (Value, error) {
	r := protocol.NewReader(data)
	n, err := r.GetUint32()
	if err != nil {
		return Value{}, err
	}
	if int(n) != len(c.children) {
		return Value{}, gelerr.Newf(gelerr.CodeBinaryProtocolError, "named tuple element count %d does not match codec arity %d", n, len(c.children))
	}
	fields := make([]Value, n)
	for i := range fields {
		v, err := decodeElementFrame(r, c.children[i])
		if err != nil {
			return Value{}, err
		}
		fields[i] = v
	}
	if !r.Done() {
		return Value{}, gelerr.New(gelerr.CodeExtraData, "unconsumed bytes after decoding named tuple")
	}
	return Value{Kind: VNamedTuple, Fields: fields, FieldNames: append([]string(nil), c.names...)}, nil
}

func (c *namedTupleCodec) Encode(v Value, w *protocol.Writer) error {
	if v.Kind != VNamedTuple || len(v.Fields) != len(c.children) {
		return gelerr.Newf(gelerr.CodeInvalidValueError, "InvalidValue: expected named tuple of arity %d, got %v", len(c.children), v.Kind)
	}
	w.PutUint32(uint32(len(c.children)))
	for i, child := range c.children {
		if err := encodeElementFrame(w, v.Fields[i], child); err != nil {
			return err
		}
	}
	return nil
}

type objectCodec struct {
	children []Codec
	names    []string
}

func (c *objectCodec) Decode(data []byte) (Value, error) {
	r := protocol.NewReader(data)
	n, err := r.GetUint32()
	if err != nil {
		return Value{}, err
	}
	if int(n) != len(c.children) {
		return Value{}, gelerr.Newf(gelerr.CodeBinaryProtocolError, "object field count %d does not match codec arity %d", n, len(c.children))
	}
	fields := make([]Value, n)
	for i := range fields {
		v, err := decodeElementFrame(r, c.children[i])
		if err != nil {
			return Value{}, err
		}
		fields[i] = v
	}
	if !r.Done() {
		return Value{}, gelerr.New(gelerr.CodeExtraData, "unconsumed bytes after decoding object")
	}
	return Value{Kind: VObject, Fields: fields, FieldNames: append([]string(nil), c.names...)}, nil
}

func (c *objectCodec) Encode(v Value, w *protocol.Writer) error {
	if v.Kind != VObject || len(v.Fields) != len(c.children) {
		return gelerr.Newf(gelerr.CodeInvalidValueError, "InvalidValue: expected object of arity %d, got %v", len(c.children), v.Kind)
	}
	w.PutUint32(uint32(len(c.children)))
	for i, child := range c.children {
		if err := encodeElementFrame(w, v.Fields[i], child); err != nil {
			return err
		}
	}
	return nil
}

// arrayCodec/setCodec share a single-dimension layout: ndims:u32,
// reserved:u32, (upper:i32,lower:i32) per dim, then nelements x
// {len:i32, bytes} (no per-element reserved word, unlike object frames).
type arrayCodec struct{ elem Codec }

func decodeFlatElements(r *protocol.Reader, elem Codec) ([]Value, error) {
	ndims, err := r.GetUint32()
	if err != nil {
		return nil, err
	}
	if _, err := r.GetUint32(); err != nil { // reserved
		return nil, err
	}
	total := 1
	for i := uint32(0); i < ndims; i++ {
		upper, err := r.GetInt32()
		if err != nil {
			return nil, err
		}
		lower, err := r.GetInt32()
		if err != nil {
			return nil, err
		}
		total *= int(upper-lower) + 1
	}
	if ndims == 0 {
		total = 0
	}
	elems := make([]Value, 0, total)
	for i := 0; i < total; i++ {
		length, err := r.GetInt32()
		if err != nil {
			return nil, err
		}
		if length == -1 {
			elems = append(elems, Value{Kind: VNull})
			continue
		}
		data, err := r.Take(int(length))
		if err != nil {
			return nil, err
		}
		v, err := elem.Decode(data)
		if err != nil {
			return nil, err
		}
		elems = append(elems, v)
	}
	return elems, nil
}

func encodeFlatElements(w *protocol.Writer, elems []Value, elem Codec) error {
	w.PutUint32(1) // ndims
	w.PutUint32(0) // reserved
	w.PutInt32(int32(len(elems)) - 1)
	w.PutInt32(0)
	for _, v := range elems {
		if v.Kind == VNull {
			w.PutInt32(-1)
			continue
		}
		elemW := protocol.NewWriter()
		if err := elem.Encode(v, elemW); err != nil {
			return err
		}
		body := elemW.Bytes()
		w.PutInt32(int32(len(body)))
		if err := w.PutRaw(body); err != nil {
			return err
		}
	}
	return nil
}

func (c *arrayCodec) Decode(data []byte) (Value, error) {
	r := protocol.NewReader(data)
	elems, err := decodeFlatElements(r, c.elem)
	if err != nil {
		return Value{}, err
	}
	if !r.Done() {
		return Value{}, gelerr.New(gelerr.CodeExtraData, "unconsumed bytes after decoding array")
	}
	return Value{Kind: VArray, Elements: elems}, nil
}

func (c *arrayCodec) Encode(v Value, w *protocol.Writer) error {
	if v.Kind != VArray {
		return gelerr.Newf(gelerr.CodeInvalidValueError, "InvalidValue: expected array, got %v", v.Kind)
	}
	return encodeFlatElements(w, v.Elements, c.elem)
}

type setCodec struct{ elem Codec }

func (c *setCodec) Decode(data []byte) (Value, error) {
	r := protocol.NewReader(data)
	elems, err := decodeFlatElements(r, c.elem)
	if err != nil {
		return Value{}, err
	}
	if !r.Done() {
		return Value{}, gelerr.New(gelerr.CodeExtraData, "unconsumed bytes after decoding set")
	}
	return Value{Kind: VSet, Elements: elems}, nil
}

func (c *setCodec) Encode(v Value, w *protocol.Writer) error {
	if v.Kind != VSet {
		return gelerr.Newf(gelerr.CodeInvalidValueError, "InvalidValue: expected set, got %v", v.Kind)
	}
	return encodeFlatElements(w, v.Elements, c.elem)
}

// rangeCodec: flags:u8 (bit0 empty, bit1 inc_lower, bit2 inc_upper, bit3
// has_lower, bit4 has_upper), then lower/upper bound bytes when present.
type rangeCodec struct{ elem Codec }

const (
	rangeFlagEmpty     = 1 << 0
	rangeFlagIncLower  = 1 << 1
	rangeFlagIncUpper  = 1 << 2
	rangeFlagHasLower  = 1 << 3
	rangeFlagHasUpper  = 1 << 4
)

func (c *rangeCodec) Decode(data []byte) (Value, error) {
	r := protocol.NewReader(data)
	flags, err := r.GetUint8()
	if err != nil {
		return Value{}, err
	}
	elems := make([]Value, 0, 2)
	if flags&rangeFlagHasLower != 0 {
		length, err := r.GetInt32()
		if err != nil {
			return Value{}, err
		}
		data, err := r.Take(int(length))
		if err != nil {
			return Value{}, err
		}
		v, err := c.elem.Decode(data)
		if err != nil {
			return Value{}, err
		}
		elems = append(elems, v)
	}
	if flags&rangeFlagHasUpper != 0 {
		length, err := r.GetInt32()
		if err != nil {
			return Value{}, err
		}
		data, err := r.Take(int(length))
		if err != nil {
			return Value{}, err
		}
		v, err := c.elem.Decode(data)
		if err != nil {
			return Value{}, err
		}
		elems = append(elems, v)
	}
	if !r.Done() {
		return Value{}, gelerr.New(gelerr.CodeExtraData, "unconsumed bytes after decoding range")
	}
	return Value{Kind: VArray, Elements: elems}, nil
}

func (c *rangeCodec) Encode(v Value, w *protocol.Writer) error {
	if v.Kind != VArray || len(v.Elements) > 2 {
		return gelerr.New(gelerr.CodeInvalidValueError, "InvalidValue: expected a 0-2 element range bounds value")
	}
	var flags uint8
	if len(v.Elements) == 0 {
		flags = rangeFlagEmpty
		w.PutUint8(flags)
		return nil
	}
	if len(v.Elements) >= 1 {
		flags |= rangeFlagHasLower | rangeFlagIncLower
	}
	if len(v.Elements) == 2 {
		flags |= rangeFlagHasUpper
	}
	w.PutUint8(flags)
	for _, bound := range v.Elements {
		elemW := protocol.NewWriter()
		if err := c.elem.Encode(bound, elemW); err != nil {
			return err
		}
		body := elemW.Bytes()
		w.PutInt32(int32(len(body)))
		if err := w.PutRaw(body); err != nil {
			return err
		}
	}
	return nil
}

type multiRangeCodec struct{ inner *rangeCodec }

func (c *multiRangeCodec) Decode(data []byte) (Value, error) {
	r := protocol.NewReader(data)
	n, err := r.GetUint32()
	if err != nil {
		return Value{}, err
	}
	elems := make([]Value, 0, n)
	for i := uint32(0); i < n; i++ {
		length, err := r.GetInt32()
		if err != nil {
			return Value{}, err
		}
		body, err := r.Take(int(length))
		if err != nil {
			return Value{}, err
		}
		v, err := c.inner.Decode(body)
		if err != nil {
			return Value{}, err
		}
		elems = append(elems, v)
	}
	if !r.Done() {
		return Value{}, gelerr.New(gelerr.CodeExtraData, "unconsumed bytes after decoding multirange")
	}
	return Value{Kind: VSet, Elements: elems}, nil
}

func (c *multiRangeCodec) Encode(v Value, w *protocol.Writer) error {
	if v.Kind != VSet {
		return gelerr.Newf(gelerr.CodeInvalidValueError, "InvalidValue: expected multirange, got %v", v.Kind)
	}
	w.PutUint32(uint32(len(v.Elements)))
	for _, elem := range v.Elements {
		body := protocol.NewWriter()
		if err := c.inner.Encode(elem, body); err != nil {
			return err
		}
		b := body.Bytes()
		w.PutInt32(int32(len(b)))
		if err := w.PutRaw(b); err != nil {
			return err
		}
	}
	return nil
}

type enumCodec struct{ members []string }

func (c *enumCodec) Decode(data []byte) (Value, error) {
	return Value{Kind: VEnum, Str: string(data)}, nil
}

func (c *enumCodec) Encode(v Value, w *protocol.Writer) error {
	if v.Kind != VEnum && v.Kind != VStr {
		return gelerr.Newf(gelerr.CodeInvalidValueError, "InvalidValue: expected enum, got %v", v.Kind)
	}
	valid := false
	for _, m := range c.members {
		if m == v.Str {
			valid = true
			break
		}
	}
	if !valid {
		return gelerr.Newf(gelerr.CodeInvalidValueError, "%q is not a member of this enumeration", v.Str)
	}
	return w.PutRaw([]byte(v.Str))
}

// --- scalar leaf codecs ----------------------------------------------------

type scalarCodec struct {
	decode func([]byte) (Value, error)
	encode func(Value, *protocol.Writer) error
}

func (c scalarCodec) Decode(data []byte) (Value, error) { return c.decode(data) }
func (c scalarCodec) Encode(v Value, w *protocol.Writer) error { return c.encode(v, w) }

var scalarCodecs = map[uuid.UUID]Codec{
	ScalarStr: scalarCodec{
		decode: func(b []byte) (Value, error) { return Value{Kind: VStr, Str: string(b)}, nil },
		encode: func(v Value, w *protocol.Writer) error {
			if v.Kind != VStr {
				return wrongKind(VStr, v.Kind)
			}
			return w.PutRaw([]byte(v.Str))
		},
	},
	ScalarBytes: scalarCodec{
		decode: func(b []byte) (Value, error) { return Value{Kind: VBytes, Bytes: append([]byte(nil), b...)}, nil },
		encode: func(v Value, w *protocol.Writer) error {
			if v.Kind != VBytes {
				return wrongKind(VBytes, v.Kind)
			}
			return w.PutRaw(v.Bytes)
		},
	},
	ScalarBool: scalarCodec{
		decode: func(b []byte) (Value, error) {
			if len(b) != 1 {
				return Value{}, gelerr.New(gelerr.CodeBinaryProtocolError, "bool must be 1 byte")
			}
			return Value{Kind: VBool, Bool: b[0] != 0}, nil
		},
		encode: func(v Value, w *protocol.Writer) error {
			if v.Kind != VBool {
				return wrongKind(VBool, v.Kind)
			}
			if v.Bool {
				w.PutUint8(1)
			} else {
				w.PutUint8(0)
			}
			return nil
		},
	},
	ScalarInt16: scalarLeaf(VInt16),
	ScalarInt32: scalarLeaf(VInt32),
	ScalarInt64: scalarLeaf(VInt64),
	ScalarFloat32: scalarLeaf(VFloat32),
	ScalarFloat64: scalarLeaf(VFloat64),
	ScalarUUID: scalarCodec{
		decode: func(b []byte) (Value, error) {
			r := protocol.NewReader(b)
			id, err := r.GetUUID()
			if err != nil {
				return Value{}, err
			}
			return Value{Kind: VUUID, UUID: id}, nil
		},
		encode: func(v Value, w *protocol.Writer) error {
			if v.Kind != VUUID {
				return wrongKind(VUUID, v.Kind)
			}
			w.PutUUID(v.UUID)
			return nil
		},
	},
	ScalarJSON: scalarCodec{
		decode: func(b []byte) (Value, error) {
			r := protocol.NewReader(b)
			data, err := r.GetJSON(len(b))
			if err != nil {
				return Value{}, err
			}
			return Value{Kind: VJSON, Bytes: data}, nil
		},
		encode: func(v Value, w *protocol.Writer) error {
			if v.Kind != VJSON {
				return wrongKind(VJSON, v.Kind)
			}
			w.PutJSON(v.Bytes)
			return nil
		},
	},
	ScalarDecimal: scalarCodec{
		decode: func(b []byte) (Value, error) {
			r := protocol.NewReader(b)
			d, err := r.GetDecimal()
			if err != nil {
				return Value{}, err
			}
			return Value{Kind: VDecimal, Decimal: d}, nil
		},
		encode: func(v Value, w *protocol.Writer) error {
			if v.Kind != VDecimal {
				return wrongKind(VDecimal, v.Kind)
			}
			w.PutDecimal(v.Decimal)
			return nil
		},
	},
	ScalarBigInt: scalarCodec{
		decode: func(b []byte) (Value, error) {
			r := protocol.NewReader(b)
			d, err := r.GetBigInt()
			if err != nil {
				return Value{}, err
			}
			return Value{Kind: VBigInt, Decimal: d}, nil
		},
		encode: func(v Value, w *protocol.Writer) error {
			if v.Kind != VBigInt {
				return wrongKind(VBigInt, v.Kind)
			}
			return w.PutBigInt(v.Decimal)
		},
	},
	ScalarDatetime: scalarCodec{
		decode: func(b []byte) (Value, error) {
			r := protocol.NewReader(b)
			t, err := r.GetDatetime()
			if err != nil {
				return Value{}, err
			}
			return Value{Kind: VDatetime, Time: t}, nil
		},
		encode: func(v Value, w *protocol.Writer) error {
			if v.Kind != VDatetime {
				return wrongKind(VDatetime, v.Kind)
			}
			w.PutDatetime(v.Time)
			return nil
		},
	},
	ScalarLocalDate: scalarCodec{
		decode: func(b []byte) (Value, error) {
			r := protocol.NewReader(b)
			t, err := r.GetLocalDate()
			if err != nil {
				return Value{}, err
			}
			return Value{Kind: VLocalDate, Time: t}, nil
		},
		encode: func(v Value, w *protocol.Writer) error {
			if v.Kind != VLocalDate {
				return wrongKind(VLocalDate, v.Kind)
			}
			w.PutLocalDate(v.Time)
			return nil
		},
	},
	ScalarDuration: scalarCodec{
		decode: func(b []byte) (Value, error) {
			r := protocol.NewReader(b)
			d, err := r.GetDuration()
			if err != nil {
				return Value{}, err
			}
			return Value{Kind: VDuration, Duration: d}, nil
		},
		encode: func(v Value, w *protocol.Writer) error {
			if v.Kind != VDuration {
				return wrongKind(VDuration, v.Kind)
			}
			w.PutDuration(v.Duration)
			return nil
		},
	},
	ScalarLocalDatetime: scalarCodec{
		decode: func(b []byte) (Value, error) {
			r := protocol.NewReader(b)
			t, err := r.GetLocalDatetime()
			if err != nil {
				return Value{}, err
			}
			return Value{Kind: VLocalDatetime, Time: t}, nil
		},
		encode: func(v Value, w *protocol.Writer) error {
			if v.Kind != VLocalDatetime {
				return wrongKind(VLocalDatetime, v.Kind)
			}
			w.PutLocalDatetime(v.Time)
			return nil
		},
	},
	ScalarLocalTime: scalarCodec{
		decode: func(b []byte) (Value, error) {
			r := protocol.NewReader(b)
			micros, err := r.GetLocalTime()
			if err != nil {
				return Value{}, err
			}
			return Value{Kind: VLocalTime, Duration: time.Duration(micros) * time.Microsecond}, nil
		},
		encode: func(v Value, w *protocol.Writer) error {
			if v.Kind != VLocalTime {
				return wrongKind(VLocalTime, v.Kind)
			}
			return w.PutLocalTime(v.Duration.Microseconds())
		},
	},
	ScalarRelativeDuration: scalarCodec{
		decode: func(b []byte) (Value, error) {
			r := protocol.NewReader(b)
			months, days, micros, err := r.GetRelativeDuration()
			if err != nil {
				return Value{}, err
			}
			return Value{Kind: VRelativeDuration, Months: months, Days: days, Duration: time.Duration(micros) * time.Microsecond}, nil
		},
		encode: func(v Value, w *protocol.Writer) error {
			if v.Kind != VRelativeDuration {
				return wrongKind(VRelativeDuration, v.Kind)
			}
			w.PutRelativeDuration(v.Months, v.Days, v.Duration.Microseconds())
			return nil
		},
	},
	ScalarDateDuration: scalarCodec{
		decode: func(b []byte) (Value, error) {
			r := protocol.NewReader(b)
			months, days, err := r.GetDateDuration()
			if err != nil {
				return Value{}, err
			}
			return Value{Kind: VDateDuration, Months: months, Days: days}, nil
		},
		encode: func(v Value, w *protocol.Writer) error {
			if v.Kind != VDateDuration {
				return wrongKind(VDateDuration, v.Kind)
			}
			w.PutDateDuration(v.Months, v.Days)
			return nil
		},
	},
	ScalarMemory: scalarCodec{
		decode: func(b []byte) (Value, error) {
			r := protocol.NewReader(b)
			bytes, err := r.GetMemory()
			if err != nil {
				return Value{}, err
			}
			return Value{Kind: VMemory, Int64: bytes}, nil
		},
		encode: func(v Value, w *protocol.Writer) error {
			if v.Kind != VMemory {
				return wrongKind(VMemory, v.Kind)
			}
			w.PutMemory(v.Int64)
			return nil
		},
	},
	ScalarPgVector: scalarCodec{
		decode: func(b []byte) (Value, error) {
			r := protocol.NewReader(b)
			vec, err := r.GetPgVector()
			if err != nil {
				return Value{}, err
			}
			return Value{Kind: VPgVector, Float32s: vec}, nil
		},
		encode: func(v Value, w *protocol.Writer) error {
			if v.Kind != VPgVector {
				return wrongKind(VPgVector, v.Kind)
			}
			return w.PutPgVector(v.Float32s)
		},
	},
}

// scalarLeaf builds a fixed-width integer/float codec for kinds whose
// encode/decode is a direct Writer/Reader primitive call.
func scalarLeaf(kind ValueKind) Codec {
	return scalarCodec{
		decode: func(b []byte) (Value, error) {
			r := protocol.NewReader(b)
			switch kind {
			case VInt16:
				v, err := r.GetInt16()
				return Value{Kind: kind, Int16: v}, err
			case VInt32:
				v, err := r.GetInt32()
				return Value{Kind: kind, Int32: v}, err
			case VInt64:
				v, err := r.GetInt64()
				return Value{Kind: kind, Int64: v}, err
			case VFloat32:
				v, err := r.GetUint32()
				return Value{Kind: kind, Float32: float32FromBits(v)}, err
			case VFloat64:
				v, err := r.GetUint64()
				return Value{Kind: kind, Float64: float64FromBits(v)}, err
			}
			return Value{}, gelerr.Newf(gelerr.CodeInternalServerError, "scalarLeaf: unhandled kind %d", kind)
		},
		encode: func(v Value, w *protocol.Writer) error {
			if v.Kind != kind {
				return wrongKind(kind, v.Kind)
			}
			switch kind {
			case VInt16:
				w.PutInt16(v.Int16)
			case VInt32:
				w.PutInt32(v.Int32)
			case VInt64:
				w.PutInt64(v.Int64)
			case VFloat32:
				w.PutUint32(float32Bits(v.Float32))
			case VFloat64:
				w.PutUint64(float64Bits(v.Float64))
			}
			return nil
		},
	}
}

func wrongKind(expected, got ValueKind) error {
	return gelerr.Newf(gelerr.CodeInvalidValueError, "InvalidValue: expected_codec=%d got_kind=%d", expected, got)
}
