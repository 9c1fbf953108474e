package gelerr

import (
	"fmt"
	"reflect"
	"strings"
)

// Error is the client's typed error value. It carries a hierarchical code,
// a message chain, an optional source error, headers copied from a server
// ErrorResponse, and a type-keyed extension bag for attached fields (the
// CommandDataDescription on ParameterTypeMismatch, the Capabilities on
// query errors, etc — see spec.md §4.7).
type Error struct {
	Code     Code
	messages []string
	source   error
	Headers  map[uint16][]byte

	ServerTraceback string
	PositionStart   int
	PositionEnd     int
	Line            int
	Column          int

	ext map[reflect.Type]any
}

// New constructs a taxonomy error of the given code with a message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, messages: []string{msg}}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches a source error to a taxonomy error, used the way the
// teacher wraps I/O errors with fmt.Errorf("...: %w", err).
func (e *Error) Wrap(source error) *Error {
	e.source = source
	return e
}

// Unwrap exposes the source error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.source
}

// Error implements the error interface: "kind: message" plus an optional
// traceback block, per spec.md §7.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(kindName(e.Code))
	b.WriteString(": ")
	b.WriteString(strings.Join(e.messages, ": "))
	if e.source != nil {
		b.WriteString(": ")
		b.WriteString(e.source.Error())
	}
	if e.ServerTraceback != "" {
		b.WriteString("\n")
		b.WriteString(e.ServerTraceback)
	}
	return b.String()
}

// HasTag reports whether this error (including all ancestor categories of
// its code) carries the given tag.
func (e *Error) HasTag(t Tag) bool {
	return tagsForCode(e.Code)&t != 0
}

// ShouldRetry is shorthand for HasTag(TagShouldRetry), matching the
// "SHOULD_RETRY" wording of spec.md §4.5/§4.7/§9.
func (e *Error) ShouldRetry() bool {
	return e.HasTag(TagShouldRetry)
}

// ShouldReconnect is shorthand for HasTag(TagShouldReconnect).
func (e *Error) ShouldReconnect() bool {
	return e.HasTag(TagShouldReconnect)
}

// SetExtension attaches a typed field to the error, keyed by its type, per
// spec.md §4.7's "type-keyed extension map for attached fields".
func SetExtension[T any](e *Error, v T) {
	if e.ext == nil {
		e.ext = make(map[reflect.Type]any)
	}
	e.ext[reflect.TypeOf(v)] = v
}

// Extension retrieves a previously attached field by its type.
func Extension[T any](e *Error) (T, bool) {
	var zero T
	if e == nil || e.ext == nil {
		return zero, false
	}
	v, ok := e.ext[reflect.TypeOf(zero)]
	if !ok {
		return zero, false
	}
	return v.(T), true
}

// kindName gives a human-readable name for the well-known leaf codes. It
// falls back to the category name for codes outside the well-known set.
func kindName(c Code) string {
	if name, ok := leafNames[c]; ok {
		return name
	}
	switch c.Category() {
	case CategoryInternal:
		return "InternalError"
	case CategoryUnsupported:
		return "UnsupportedError"
	case CategoryProtocol:
		return "ProtocolError"
	case CategoryQuery:
		return "QueryError"
	case CategoryExecution:
		return "ExecutionError"
	case CategoryConfiguration:
		return "ConfigurationError"
	case CategoryAccess:
		return "AccessError"
	case CategoryClient:
		return "ClientError"
	default:
		return fmt.Sprintf("Error(0x%08x)", uint32(c))
	}
}

var leafNames = map[Code]string{
	CodeInternalServerError:       "InternalServerError",
	CodeUnsupportedFeature:        "UnsupportedFeatureError",
	CodeBinaryProtocolError:       "BinaryProtocolError",
	CodeUnexpectedMessage:         "UnexpectedMessageError",
	CodeUnsupportedProtocolVer:    "UnsupportedProtocolVersionError",
	CodeResultCardinalityMismatch: "ResultCardinalityMismatchError",
	CodeParameterTypeMismatch:     "ParameterTypeMismatchError",
	CodeProtocolOutOfOrder:        "ProtocolOutOfOrderError",
	CodeInvalidTypeDescriptor:     "InvalidTypeDescriptorError",
	CodeExtraData:                 "ExtraDataError",
	CodeInvalidSyntaxError:        "InvalidSyntaxError",
	CodeInvalidTypeError:          "InvalidTypeError",
	CodeInvalidReferenceError:     "InvalidReferenceError",
	CodeSchemaError:               "SchemaError",
	CodeQueryTimeoutError:         "QueryTimeoutError",
	CodeInvalidValueError:         "InvalidValueError",
	CodeIntegrityError:            "IntegrityError",
	CodeTransactionConflictError:  "TransactionConflictError",
	CodeTransactionSerialization:  "TransactionSerializationError",
	CodeTransactionDeadlockError:  "TransactionDeadlockError",
	CodeMissingRequiredError:      "MissingRequiredError",
	CodeMissingArgumentError:      "MissingArgumentError",
	CodeConfigurationError:        "ConfigurationError",
	CodeAuthenticationError:       "AuthenticationError",
	CodeClientConnectionError:     "ClientConnectionError",
	CodeInterfaceError:            "InterfaceError",
	CodeQueryArgumentError:        "QueryArgumentError",
	CodeNoDataError:               "NoDataError",
	CodeIdleSessionTimeoutErr:     "IdleSessionTimeoutError",
}

// As reports whether err is (or wraps) a *Error, mirroring errors.As but
// avoiding an import cycle concern for callers that just want the typed
// value.
func As(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
