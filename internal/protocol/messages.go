package protocol

import (
	"github.com/geldb/gelclient/internal/gelerr"
)

// Client message tags (spec.md §3.1, §6.1). The encoder refuses any tag not
// in this set — sending an unknown client message is a bug, never a
// run-time condition to tolerate.
const (
	TagClientHandshake             byte = 'V'
	TagAuthSaslInitialResponse     byte = 'p'
	TagAuthSaslResponse            byte = 'r'
	TagParse                       byte = 'P'
	TagExecute                     byte = 'O'
	TagSync                        byte = 'S'
	TagFlush                       byte = 'H'
	TagDump                        byte = '>'
	TagRestore                     byte = '<'
	TagRestoreBlock                byte = '='
	TagRestoreEof                  byte = '.'
	TagTerminate                   byte = 'X'
)

// IOFormat selects how result rows are encoded (binary vs JSON).
type IOFormat uint8

const (
	IOFormatBinary IOFormat = 0x62 // 'b'
	IOFormatJSON   IOFormat = 0x6a // 'j'
)

// Cardinality is the client-declared expectation for result row count.
type Cardinality uint8

const (
	CardinalityNoResult   Cardinality = 0x6e // 'n'
	CardinalityAtMostOne  Cardinality = 0x6f // 'o'
	CardinalityOne        Cardinality = 0x41 // 'A'
	CardinalityMany       Cardinality = 0x4d // 'M'
	CardinalityAtLeastOne Cardinality = 0x6d // 'm'
)

// Capabilities is the bitset a query declares it will tolerate, checked
// server-side, per spec.md §3.1.
type Capabilities uint64

const (
	CapModifications Capabilities = 1 << iota
	CapSessionConfig
	CapTransaction
	CapDDL
	CapPersistentConfig
)

// ClientHandshake is the first message sent on a new connection.
type ClientHandshake struct {
	Major      uint16
	Minor      uint16
	Params     map[string]string
	Extensions map[string]map[uint16][]byte
}

// Encode serializes the handshake per spec.md §4.3.1.
func (m ClientHandshake) Encode() ([]byte, error) {
	w := NewWriter()
	w.PutUint16(m.Major)
	w.PutUint16(m.Minor)
	w.PutUint16(uint16(len(m.Params)))
	for k, v := range m.Params {
		if err := w.PutString(k); err != nil {
			return nil, err
		}
		if err := w.PutString(v); err != nil {
			return nil, err
		}
	}
	w.PutUint16(uint16(len(m.Extensions)))
	for name, headers := range m.Extensions {
		if err := w.PutString(name); err != nil {
			return nil, err
		}
		if err := w.PutHeaders(headers); err != nil {
			return nil, err
		}
	}
	return WriteFrame(TagClientHandshake, w.Bytes()), nil
}

// AuthSaslInitialResponse carries the chosen mechanism and client-first
// message (spec.md §4.3.2).
type AuthSaslInitialResponse struct {
	Mechanism string
	Data      []byte
}

func (m AuthSaslInitialResponse) Encode() ([]byte, error) {
	w := NewWriter()
	if err := w.PutString(m.Mechanism); err != nil {
		return nil, err
	}
	if err := w.PutBytes(m.Data); err != nil {
		return nil, err
	}
	return WriteFrame(TagAuthSaslInitialResponse, w.Bytes()), nil
}

// AuthSaslResponse carries the client-final message.
type AuthSaslResponse struct {
	Data []byte
}

func (m AuthSaslResponse) Encode() ([]byte, error) {
	w := NewWriter()
	if err := w.PutBytes(m.Data); err != nil {
		return nil, err
	}
	return WriteFrame(TagAuthSaslResponse, w.Bytes()), nil
}

// ParseFlags bundles the per-query compile-time flags of spec.md §4.3.3.
type ParseFlags struct {
	IOFormat           IOFormat
	ExpectedCardinality Cardinality
	ImplicitLimit      uint64
	AllowCapabilities  Capabilities
	ExplicitObjectIDs  bool
	ImplicitTypenames  bool
	ImplicitTypeIDs    bool
}

// Parse requests compilation of a statement into input/output descriptors.
type Parse struct {
	Flags       ParseFlags
	CommandText string
	State       EncodedState
	Headers     map[uint16][]byte
}

// EncodedState is the (typedesc_id, bytes) pair produced by
// internal/session when serializing a PoolState snapshot (spec.md §4.2.3).
type EncodedState struct {
	TypeDescID [16]byte
	Data       []byte
}

func (m Parse) Encode() ([]byte, error) {
	w := NewWriter()
	if err := w.PutHeaders(m.Headers); err != nil {
		return nil, err
	}
	w.PutUint8(uint8(m.Flags.IOFormat))
	w.PutUint8(uint8(m.Flags.ExpectedCardinality))
	if err := w.PutString(m.CommandText); err != nil {
		return nil, err
	}
	w.buf = append(w.buf, m.State.TypeDescID[:]...)
	if err := w.PutBytes(m.State.Data); err != nil {
		return nil, err
	}
	w.PutUint64(uint64(m.Flags.AllowCapabilities))
	w.PutUint64(m.Flags.ImplicitLimit)
	return WriteFrame(TagParse, w.Bytes()), nil
}

// Execute carries already-encoded arguments for a previously-parsed
// statement (spec.md §4.3.3).
type Execute struct {
	Flags       ParseFlags
	CommandText string
	State       EncodedState
	Arguments   []byte
	Headers     map[uint16][]byte
}

func (m Execute) Encode() ([]byte, error) {
	w := NewWriter()
	if err := w.PutHeaders(m.Headers); err != nil {
		return nil, err
	}
	w.PutUint8(uint8(m.Flags.IOFormat))
	w.PutUint8(uint8(m.Flags.ExpectedCardinality))
	if err := w.PutString(m.CommandText); err != nil {
		return nil, err
	}
	w.buf = append(w.buf, m.State.TypeDescID[:]...)
	if err := w.PutBytes(m.State.Data); err != nil {
		return nil, err
	}
	w.PutUint64(uint64(m.Flags.AllowCapabilities))
	w.PutUint64(m.Flags.ImplicitLimit)
	if err := w.PutBytes(m.Arguments); err != nil {
		return nil, err
	}
	return WriteFrame(TagExecute, w.Bytes()), nil
}

// Sync requests a ReadyForCommand barrier; this implementation sends
// exactly one outstanding request per connection (spec.md §9 open question,
// resolved: mandate single-outstanding for clarity/cancellation-safety).
type Sync struct{}

func (Sync) Encode() []byte { return WriteFrame(TagSync, nil) }

// Flush is schema-complete but unused by this implementation's pipelining
// policy; kept so the wire format round-trips a captured session that used
// it.
type Flush struct{}

func (Flush) Encode() []byte { return WriteFrame(TagFlush, nil) }

// Terminate politely closes a connection.
type Terminate struct{}

func (Terminate) Encode() []byte { return WriteFrame(TagTerminate, nil) }

// Dump/Restore message shapes (schema only — driver logic is out of
// scope, per spec.md §1; kept so the framing layer can round-trip a
// captured dump/restore stream, per SPEC_FULL.md's supplemented features).

type Dump struct{ Headers map[uint16][]byte }

func (m Dump) Encode() ([]byte, error) {
	w := NewWriter()
	if err := w.PutHeaders(m.Headers); err != nil {
		return nil, err
	}
	return WriteFrame(TagDump, w.Bytes()), nil
}

type Restore struct {
	Headers    map[uint16][]byte
	JobsHint   uint16
	HeaderData []byte
}

func (m Restore) Encode() ([]byte, error) {
	w := NewWriter()
	if err := w.PutHeaders(m.Headers); err != nil {
		return nil, err
	}
	w.PutUint16(m.JobsHint)
	if err := w.PutBytes(m.HeaderData); err != nil {
		return nil, err
	}
	return WriteFrame(TagRestore, w.Bytes()), nil
}

type RestoreBlock struct{ BlockData []byte }

func (m RestoreBlock) Encode() ([]byte, error) {
	w := NewWriter()
	if err := w.PutBytes(m.BlockData); err != nil {
		return nil, err
	}
	return WriteFrame(TagRestoreBlock, w.Bytes()), nil
}

type RestoreEof struct{}

func (RestoreEof) Encode() []byte { return WriteFrame(TagRestoreEof, nil) }

// knownClientTags guards against encoding a tag the server has never heard
// of — "the encoder refuses them" per spec.md §3.1.
var knownClientTags = map[byte]bool{
	TagClientHandshake:         true,
	TagAuthSaslInitialResponse: true,
	TagAuthSaslResponse:        true,
	TagParse:                   true,
	TagExecute:                 true,
	TagSync:                    true,
	TagFlush:                   true,
	TagDump:                    true,
	TagRestore:                 true,
	TagRestoreBlock:            true,
	TagRestoreEof:              true,
	TagTerminate:               true,
}

// ValidateClientTag fails fast when asked to frame a message the outbound
// protocol does not define.
func ValidateClientTag(tag byte) error {
	if !knownClientTags[tag] {
		return gelerr.Newf(gelerr.CodeInternalServerError, "refusing to encode unknown client message tag 0x%02x", tag)
	}
	return nil
}
