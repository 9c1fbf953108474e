package descriptor

import (
	"reflect"

	"github.com/google/uuid"

	"github.com/geldb/gelclient/internal/gelerr"
	"github.com/geldb/gelclient/internal/protocol"
)

// scalarLeafCodec looks up the dynamic-codec leaf for a scalar plan, reused
// so the static path never duplicates the wire-format knowledge already
// expressed in codec.go.
func scalarLeafCodec(id uuidKey) (Codec, error) {
	c, ok := scalarCodecs[id]
	if !ok {
		return nil, gelerr.Newf(gelerr.CodeUnsupportedFeature, "no codec for base scalar %s", uuid.UUID(id))
	}
	return c, nil
}

// Decode walks the plan against a single row's raw element bytes,
// producing a reflect.Value of p.goType, per spec.md §4.2.2's "Decoding a
// row then walks the plan" paragraph. data is nil for a SQL/EdgeQL null.
func (p *Plan) Decode(data []byte) (reflect.Value, error) {
	if p.kind == planOptional {
		if data == nil {
			return reflect.Zero(p.goType), nil
		}
		inner, err := p.elem.Decode(data)
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(p.elem.goType)
		ptr.Elem().Set(inner)
		return ptr, nil
	}
	if data == nil {
		return reflect.Value{}, gelerr.New(gelerr.CodeMissingRequiredError, "unexpected null for a non-optional field")
	}

	switch p.kind {
	case planScalar:
		return p.decodeScalar(data)
	case planTuple:
		return p.decodeComposite(data, false)
	case planObject:
		return p.decodeComposite(data, true)
	case planCollection:
		return p.decodeCollection(data)
	default:
		return reflect.Value{}, gelerr.Newf(gelerr.CodeInternalServerError, "plan: unhandled kind %d", p.kind)
	}
}

func (p *Plan) decodeScalar(data []byte) (reflect.Value, error) {
	c, err := scalarLeafCodec(p.scalarID)
	if err != nil {
		return reflect.Value{}, err
	}
	v, err := c.Decode(data)
	if err != nil {
		return reflect.Value{}, err
	}
	return valueToGo(v, p.goType)
}

// decodeComposite walks the shared tuple/object/input-shape wire layout:
// nfields:u32, then (reserved:u32, len:i32, bytes)* per element. For
// tuples, wire position i always binds to fields[i] (tuple element order
// is fixed). For objects, wire position i binds through wireFields[i],
// which is the permutation vector of spec.md §4.2.2 — a nil entry is an
// implicit field (__tid__/__tname__/id) the target struct didn't request,
// so its bytes are read and discarded.
func (p *Plan) decodeComposite(data []byte, isObject bool) (reflect.Value, error) {
	r := protocol.NewReader(data)
	n, err := r.GetUint32()
	if err != nil {
		return reflect.Value{}, err
	}
	expected := len(p.fields)
	if isObject {
		expected = len(p.wireFields)
	}
	if int(n) != expected {
		return reflect.Value{}, gelerr.Newf(gelerr.CodeBinaryProtocolError, "row has %d elements, plan expects %d", n, expected)
	}

	out := reflect.New(p.goType).Elem()
	for i := 0; i < int(n); i++ {
		if _, err := r.GetUint32(); err != nil { // reserved
			return reflect.Value{}, err
		}
		length, err := r.GetInt32()
		if err != nil {
			return reflect.Value{}, err
		}

		var fp *fieldPlan
		if isObject {
			fp = p.wireFields[i]
		} else {
			fp = &p.fields[i]
		}

		if fp == nil {
			// Implicit field not bound to any struct field: consume and
			// discard its bytes to keep the cursor aligned.
			if length != -1 {
				if _, err := r.Take(int(length)); err != nil {
					return reflect.Value{}, err
				}
			}
			continue
		}

		var elemBytes []byte
		if length != -1 {
			elemBytes, err = r.Take(int(length))
			if err != nil {
				return reflect.Value{}, err
			}
		}
		fv, err := fp.child.Decode(elemBytes)
		if err != nil {
			return reflect.Value{}, err
		}
		out.Field(fp.structIndex).Set(fv)
	}
	if !r.Done() {
		return reflect.Value{}, gelerr.New(gelerr.CodeExtraData, "unconsumed bytes after decoding row")
	}
	return out, nil
}

// decodeCollection walks the array/set wire layout directly (ndims:u32,
// reserved:u32, (upper:i32,lower:i32) per dim, then nelements x
// {len:i32, bytes}) rather than going through the Value-typed dynamic
// codec path, since each element is itself decoded by a child Plan into a
// concrete reflect.Value.
func (p *Plan) decodeCollection(data []byte) (reflect.Value, error) {
	r := protocol.NewReader(data)
	ndims, err := r.GetUint32()
	if err != nil {
		return reflect.Value{}, err
	}
	if _, err := r.GetUint32(); err != nil { // reserved
		return reflect.Value{}, err
	}
	total := 1
	for i := uint32(0); i < ndims; i++ {
		upper, err := r.GetInt32()
		if err != nil {
			return reflect.Value{}, err
		}
		lower, err := r.GetInt32()
		if err != nil {
			return reflect.Value{}, err
		}
		total *= int(upper-lower) + 1
	}
	if ndims == 0 {
		total = 0
	}

	out := reflect.MakeSlice(p.goType, 0, total)
	for i := 0; i < total; i++ {
		length, err := r.GetInt32()
		if err != nil {
			return reflect.Value{}, err
		}
		var elemBytes []byte
		if length != -1 {
			elemBytes, err = r.Take(int(length))
			if err != nil {
				return reflect.Value{}, err
			}
		}
		ev, err := p.elemSingle.Decode(elemBytes)
		if err != nil {
			return reflect.Value{}, err
		}
		out = reflect.Append(out, ev)
	}
	if !r.Done() {
		return reflect.Value{}, gelerr.New(gelerr.CodeExtraData, "unconsumed bytes after decoding collection")
	}
	return out, nil
}

// valueToGo converts a dynamically-decoded Value into the statically typed
// Go representation a Plan targets.
func valueToGo(v Value, t reflect.Type) (reflect.Value, error) {
	switch v.Kind {
	case VStr, VEnum:
		return reflect.ValueOf(v.Str).Convert(t), nil
	case VBytes, VJSON:
		return reflect.ValueOf(v.Bytes).Convert(t), nil
	case VBool:
		return reflect.ValueOf(v.Bool).Convert(t), nil
	case VInt16:
		return reflect.ValueOf(v.Int16).Convert(t), nil
	case VInt32:
		return reflect.ValueOf(v.Int32).Convert(t), nil
	case VInt64:
		return reflect.ValueOf(v.Int64).Convert(t), nil
	case VFloat32:
		return reflect.ValueOf(v.Float32).Convert(t), nil
	case VFloat64:
		return reflect.ValueOf(v.Float64).Convert(t), nil
	case VDecimal, VBigInt:
		return reflect.ValueOf(v.Decimal).Convert(t), nil
	case VUUID:
		return reflect.ValueOf(v.UUID).Convert(t), nil
	case VDatetime, VLocalDate, VLocalDatetime:
		return reflect.ValueOf(v.Time).Convert(t), nil
	case VDuration, VLocalTime:
		return reflect.ValueOf(v.Duration).Convert(t), nil
	case VRelativeDuration:
		return reflect.ValueOf(RelativeDuration{Months: v.Months, Days: v.Days, Microseconds: v.Duration}).Convert(t), nil
	case VDateDuration:
		return reflect.ValueOf(DateDuration{Months: v.Months, Days: v.Days}).Convert(t), nil
	case VMemory:
		return reflect.ValueOf(v.Int64).Convert(t), nil
	case VPgVector:
		return reflect.ValueOf(v.Float32s).Convert(t), nil
	default:
		return reflect.Value{}, gelerr.Newf(gelerr.CodeInternalServerError, "valueToGo: unhandled value kind %d", v.Kind)
	}
}
