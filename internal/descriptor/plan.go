package descriptor

import (
	"reflect"
	"unicode"

	"github.com/geldb/gelclient/internal/gelerr"
)

// Plan is a target-type-specific decode plan built once against a
// descriptor position and reused for every row, per spec.md §4.2.2
// "Static (queryable decode plan)".
type Plan struct {
	// goType is the plan's target type: the struct/scalar/pointer/slice
	// type this plan decodes into.
	goType reflect.Type

	kind planKind

	// scalar
	scalarID uuidKey

	// optional (pointer)
	elem *Plan

	// tuple / collection element
	elemSingle *Plan

	// named struct (tuple: indexed by wire position 1:1; object: see
	// wireFields below, which carries the actual wire-position permutation)
	fields []fieldPlan

	// object shape only: entry i corresponds to the i-th element as sent on
	// the wire; nil means the server sent a field (commonly an implicit
	// __tid__/__tname__/id) that the target struct did not request, so it
	// is skipped rather than assigned anywhere.
	wireFields []*fieldPlan
}

type planKind uint8

const (
	planScalar planKind = iota
	planOptional
	planTuple
	planObject
	planCollection
)

type uuidKey = [16]byte

// fieldPlan maps one struct field to its descriptor-element position, per
// spec.md §4.2.2 "a permutation vector mapping struct-field index to
// descriptor-element index".
type fieldPlan struct {
	structIndex int
	elementName string
	child       *Plan
}

// BuildPlan produces a decode plan for target type T (passed via a
// reflect.Type, typically obtained with reflect.TypeOf((*T)(nil)).Elem())
// against the descriptor rooted at pos, per spec.md §4.2.2.
//
// Field correspondence uses the `gel:"name"` struct tag; a field with no
// tag is matched by lower-casing its first rune (Go idiom: exported field
// names start uppercase, wire names are lowerCamel).
func BuildPlan(set *Set, pos int, t reflect.Type) (*Plan, error) {
	for t.Kind() == reflect.Ptr {
		child, err := BuildPlan(set, pos, t.Elem())
		if err != nil {
			return nil, err
		}
		return &Plan{goType: t, kind: planOptional, elem: child}, nil
	}

	if pos < 0 || pos >= len(set.Entries) {
		return nil, gelerr.Newf(gelerr.CodeInvalidTypeDescriptor, "plan position %d out of range", pos)
	}
	d := set.Entries[pos]

	switch d.Kind {
	case KindBaseScalar:
		if err := checkScalarType(t, d.ID); err != nil {
			return nil, err
		}
		return &Plan{goType: t, kind: planScalar, scalarID: d.ID}, nil

	case KindScalar:
		return BuildPlan(set, d.BasePos, t)

	case KindTuple:
		if t.Kind() != reflect.Struct {
			return nil, gelerr.Newf(gelerr.CodeInvalidTypeDescriptor, "tuple descriptor requires a struct target, got %s", t)
		}
		if t.NumField() != len(d.ElementPositions) {
			return nil, gelerr.Newf(gelerr.CodeInvalidTypeDescriptor, "tuple has %d elements, target struct %s has %d fields", len(d.ElementPositions), t, t.NumField())
		}
		fields := make([]fieldPlan, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			child, err := BuildPlan(set, d.ElementPositions[i], t.Field(i).Type)
			if err != nil {
				return nil, err
			}
			fields[i] = fieldPlan{structIndex: i, child: child}
		}
		return &Plan{goType: t, kind: planTuple, fields: fields}, nil

	case KindObjectShape, KindInputShape, KindSparseObject:
		if t.Kind() != reflect.Struct {
			return nil, gelerr.Newf(gelerr.CodeInvalidTypeDescriptor, "object descriptor requires a struct target, got %s", t)
		}
		return buildObjectPlan(set, d, t)

	case KindArray, KindSet, KindMultiRange:
		if t.Kind() != reflect.Slice {
			return nil, gelerr.Newf(gelerr.CodeInvalidTypeDescriptor, "collection descriptor requires a slice target, got %s", t)
		}
		child, err := BuildPlan(set, d.ElementPos, t.Elem())
		if err != nil {
			return nil, err
		}
		return &Plan{goType: t, kind: planCollection, elemSingle: child}, nil

	case KindEnumeration:
		if t.Kind() != reflect.String {
			return nil, gelerr.Newf(gelerr.CodeInvalidTypeDescriptor, "enumeration descriptor requires a string target, got %s", t)
		}
		return &Plan{goType: t, kind: planScalar, scalarID: ScalarStr}, nil

	default:
		return nil, gelerr.Newf(gelerr.CodeInvalidTypeDescriptor, "descriptor kind %d has no static plan", d.Kind)
	}
}

// buildObjectPlan matches struct fields against shape elements by name,
// builds the structIndex→elementName permutation, and validates exact
// field-count/name correspondence per spec.md §4.2.2's "WrongField" check.
// Implicit elements (__tid__, __tname__, id sent only because the server
// was asked to include them) are skipped unless the target struct declares
// a matching field — this plan's struct IS the decoder context's request,
// so an implicit element the struct doesn't name is simply not bound to
// anything and is skipped when walking rows (see Decode in this file).
func buildObjectPlan(set *Set, d Descriptor, t reflect.Type) (*Plan, error) {
	wireNames := make(map[string]int, len(d.Elements))
	for i, el := range d.Elements {
		wireNames[el.Name] = i
	}

	wireFields := make([]*fieldPlan, len(d.Elements))
	var fields []fieldPlan
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := fieldWireName(sf)
		elIdx, ok := wireNames[name]
		if !ok {
			return nil, gelerr.Newf(gelerr.CodeInvalidTypeDescriptor, "WrongField: target field %q has no corresponding shape element", name)
		}
		child, err := BuildPlan(set, d.Elements[elIdx].TypePos, sf.Type)
		if err != nil {
			return nil, err
		}
		fields = append(fields, fieldPlan{structIndex: i, elementName: name, child: child})
	}
	// Link wireFields entries to their slot in `fields` after the slice has
	// stopped growing (append may reallocate, so pointers taken earlier
	// would go stale).
	for i := range fields {
		elIdx := wireNames[fields[i].elementName]
		wireFields[elIdx] = &fields[i]
	}
	for i, wf := range wireFields {
		if wf == nil && d.Elements[i].Flags&FlagImplicit == 0 {
			return nil, gelerr.Newf(gelerr.CodeInvalidTypeDescriptor, "WrongField: shape element %q has no corresponding target field", d.Elements[i].Name)
		}
	}

	return &Plan{goType: t, kind: planObject, fields: fields, wireFields: wireFields}, nil
}

// fieldWireName resolves the wire-side field name for a Go struct field:
// the `gel:"..."` tag if present, otherwise the field name with its first
// rune lower-cased.
func fieldWireName(sf reflect.StructField) string {
	if tag, ok := sf.Tag.Lookup("gel"); ok && tag != "" && tag != "-" {
		return tag
	}
	r := []rune(sf.Name)
	if len(r) == 0 {
		return sf.Name
	}
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

// checkScalarType verifies that t is an acceptable Go representation for
// the well-known base-scalar id.
func checkScalarType(t reflect.Type, id uuidKey) error {
	name := ScalarName(id)
	ok := scalarGoKind(name, t)
	if !ok {
		return gelerr.Newf(gelerr.CodeInvalidTypeDescriptor, "scalar %q is not representable by Go type %s", name, t)
	}
	return nil
}

func scalarGoKind(scalarName string, t reflect.Type) bool {
	switch scalarName {
	case "str", "json":
		return t.Kind() == reflect.String
	case "bool":
		return t.Kind() == reflect.Bool
	case "int16":
		return t.Kind() == reflect.Int16
	case "int32":
		return t.Kind() == reflect.Int32 || t.Kind() == reflect.Int
	case "int64":
		return t.Kind() == reflect.Int64
	case "float32":
		return t.Kind() == reflect.Float32
	case "float64":
		return t.Kind() == reflect.Float64
	case "bytes":
		return t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8
	case "pgvector::vector":
		return t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Float32
	default:
		// decimal/bigint/uuid/datetime/duration/local_time/memory/
		// relative_duration/date_duration/etc: accept named struct types
		// from decimal/uuid/time packages by name, RelativeDuration/
		// DateDuration, or any Int64-kind type (time.Duration, cfg::memory
		// as a plain int64) — enforced precisely at Decode time via
		// Value.Kind.
		return t.Kind() == reflect.Struct || t.Kind() == reflect.Array || t.Kind() == reflect.Int64
	}
}
