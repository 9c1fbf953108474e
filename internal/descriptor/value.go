package descriptor

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ValueKind tags the variant held by a Value, spec.md §4.2.2.
type ValueKind uint8

const (
	VNull ValueKind = iota
	VStr
	VBytes
	VBool
	VInt16
	VInt32
	VInt64
	VFloat32
	VFloat64
	VDecimal
	VBigInt
	VUUID
	VJSON
	VDatetime
	VLocalDatetime
	VLocalDate
	VLocalTime
	VDuration
	VTuple
	VNamedTuple
	VArray
	VSet
	VObject
	VEnum
	VRelativeDuration
	VDateDuration
	VMemory
	VPgVector
)

// RelativeDuration is Gel's cal::relative_duration: unlike Duration, it may
// carry day/month components, spec.md §4.1.
type RelativeDuration struct {
	Months       int32
	Days         int32
	Microseconds time.Duration
}

// DateDuration is Gel's cal::date_duration: a relative duration restricted
// to day/month components, with no time-of-day part.
type DateDuration struct {
	Months int32
	Days   int32
}

// Value is a tagged variant over every protocol-level value shape this
// client can decode or encode, spec.md §4.2.2 "Value is a tagged variant
// over all protocol types".
type Value struct {
	Kind ValueKind

	Str      string
	Bytes    []byte
	Bool     bool
	Int16    int16
	Int32    int32
	Int64    int64
	Float32  float32
	Float64  float64
	Decimal  decimal.Decimal
	UUID     uuid.UUID
	Time     time.Time
	Duration time.Duration

	// VRelativeDuration / VDateDuration (micros, when relevant, use Duration)
	Months int32
	Days   int32

	// VPgVector
	Float32s []float32

	// VTuple / VArray / VSet
	Elements []Value

	// VNamedTuple / VObject
	Fields     []Value
	FieldNames []string
}

// IsNull reports whether this Value represents the SQL/EdgeQL null
// (absent) marker, decoded from a -1 length field per spec.md §4.2.2.
func (v Value) IsNull() bool { return v.Kind == VNull }
