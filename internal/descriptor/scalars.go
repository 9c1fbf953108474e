package descriptor

import "github.com/google/uuid"

// Well-known base-scalar type ids, spec.md §3.2 "id identifies a well-known
// scalar". These mirror the fixed ids the server assigns to built-in
// scalars — they never appear in a descriptor array themselves (a
// BaseScalar descriptor just carries one of these as its own id).
var (
	ScalarUUID             = mustParse("00000000-0000-0000-0000-000000000100")
	ScalarStr              = mustParse("00000000-0000-0000-0000-000000000101")
	ScalarBytes            = mustParse("00000000-0000-0000-0000-000000000102")
	ScalarInt16            = mustParse("00000000-0000-0000-0000-000000000103")
	ScalarInt32            = mustParse("00000000-0000-0000-0000-000000000104")
	ScalarInt64            = mustParse("00000000-0000-0000-0000-000000000105")
	ScalarFloat32          = mustParse("00000000-0000-0000-0000-000000000106")
	ScalarFloat64          = mustParse("00000000-0000-0000-0000-000000000107")
	ScalarDecimal          = mustParse("00000000-0000-0000-0000-000000000108")
	ScalarBool             = mustParse("00000000-0000-0000-0000-000000000109")
	ScalarDatetime         = mustParse("00000000-0000-0000-0000-00000000010a")
	ScalarLocalDatetime    = mustParse("00000000-0000-0000-0000-00000000010b")
	ScalarLocalDate        = mustParse("00000000-0000-0000-0000-00000000010c")
	ScalarLocalTime        = mustParse("00000000-0000-0000-0000-00000000010d")
	ScalarDuration         = mustParse("00000000-0000-0000-0000-00000000010e")
	ScalarJSON             = mustParse("00000000-0000-0000-0000-00000000010f")
	ScalarBigInt           = mustParse("00000000-0000-0000-0000-000000000110")
	ScalarRelativeDuration = mustParse("00000000-0000-0000-0000-000000000111")
	ScalarDateDuration     = mustParse("00000000-0000-0000-0000-000000000112")
	ScalarMemory           = mustParse("00000000-0000-0000-0000-000000000130")
	ScalarPgVector         = mustParse("00000000-0000-0000-0000-000000000131")
)

func mustParse(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

var scalarNames = map[uuid.UUID]string{
	ScalarUUID:             "uuid",
	ScalarStr:              "str",
	ScalarBytes:            "bytes",
	ScalarInt16:            "int16",
	ScalarInt32:            "int32",
	ScalarInt64:            "int64",
	ScalarFloat32:          "float32",
	ScalarFloat64:          "float64",
	ScalarDecimal:          "decimal",
	ScalarBool:             "bool",
	ScalarDatetime:         "datetime",
	ScalarLocalDatetime:    "local_datetime",
	ScalarLocalDate:        "local_date",
	ScalarLocalTime:        "local_time",
	ScalarDuration:         "duration",
	ScalarJSON:             "json",
	ScalarBigInt:           "bigint",
	ScalarRelativeDuration: "relative_duration",
	ScalarDateDuration:     "date_duration",
	ScalarMemory:           "memory",
	ScalarPgVector:         "pgvector::vector",
}

// ScalarName returns the well-known name for a base-scalar id, or "" if the
// id is not recognized.
func ScalarName(id uuid.UUID) string {
	return scalarNames[id]
}
