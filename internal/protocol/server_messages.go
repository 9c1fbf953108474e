package protocol

import (
	"github.com/google/uuid"

	"github.com/geldb/gelclient/internal/gelerr"
)

// Server message tags (spec.md §3.1, §6.1).
const (
	TagServerHandshake        byte = 'v'
	TagAuthentication         byte = 'R'
	TagServerKeyData          byte = 'K'
	TagParameterStatus        byte = 'S'
	TagStateDataDescription   byte = 's'
	TagCommandDataDescription byte = 'T'
	TagData                   byte = 'D'
	TagCommandComplete        byte = 'C'
	TagReadyForCommand        byte = 'Z'
	TagErrorResponse          byte = 'E'
	TagLogMessage             byte = 'L'
	TagDumpHeader             byte = '@'
	TagDumpBlock              byte = '='
)

// Authentication sub-kinds (payload's first 4 bytes, per spec.md §4.3.1).
const (
	AuthOk              uint32 = 0
	AuthSasl            uint32 = 10
	AuthSaslContinue     uint32 = 11
	AuthSaslFinal        uint32 = 12
)

// TransactionState mirrors ReadyForCommand's reported state, spec.md §3.3.
type TransactionState uint8

const (
	TxNotInTransaction TransactionState = iota
	TxInTransaction
	TxInFailedTransaction
)

// ServerHandshakeMsg is the server's protocol-version reply.
type ServerHandshakeMsg struct {
	Major, Minor uint16
	Extensions   map[string]map[uint16][]byte
}

// AuthenticationMsg covers AuthenticationOk/Sasl/SaslContinue/SaslFinal.
type AuthenticationMsg struct {
	Kind      uint32
	Methods   []string // AuthSasl
	SaslData  []byte    // AuthSaslContinue / AuthSaslFinal
}

// ServerKeyDataMsg retains the server's cancellation key.
type ServerKeyDataMsg struct {
	Data []byte
}

// ParameterStatusMsg is a raw named server parameter.
type ParameterStatusMsg struct {
	Name  string
	Value []byte
}

// StateDataDescriptionMsg announces the session-state input descriptor.
type StateDataDescriptionMsg struct {
	TypeDescID uuid.UUID
	TypeDesc   []byte
}

// CommandDataDescriptionMsg is the parse-phase result: input/output shapes.
type CommandDataDescriptionMsg struct {
	Capabilities Capabilities
	Cardinality  Cardinality
	InputID      uuid.UUID
	InputDesc    []byte
	OutputID     uuid.UUID
	OutputDesc   []byte
	Annotations  map[string]string
}

// DataMsg is one result row's encoded element frames.
type DataMsg struct {
	Elements [][]byte
}

// CommandCompleteMsg ends a successful execute.
type CommandCompleteMsg struct {
	Status   string
	NewState *EncodedState
}

// ReadyForCommandMsg is the per-request barrier, reporting transaction state.
type ReadyForCommandMsg struct {
	TransactionState TransactionState
	Headers          map[uint16][]byte
}

// ErrorResponseMsg is a server-reported failure.
type ErrorResponseMsg struct {
	Severity uint8
	Code     uint32
	Message  string
	Headers  map[uint16][]byte
}

// LogMessageMsg is an advisory server log line.
type LogMessageMsg struct {
	Severity uint8
	Code     uint32
	Text     string
}

// UnknownMessage preserves an unrecognized server tag verbatim, per
// spec.md §3.1 — "ignored at the state-machine level".
type UnknownMessage struct {
	Tag  byte
	Data []byte
}

// DecodeServerMessage dispatches on the frame tag and parses the payload.
// A decode that leaves unconsumed bytes fails with ExtraData, except for
// UnknownMessage whose payload is returned verbatim (spec.md §4.1).
func DecodeServerMessage(f Frame) (any, error) {
	switch f.Tag {
	case TagServerHandshake:
		return decodeServerHandshake(f.Payload)
	case TagAuthentication:
		return decodeAuthentication(f.Payload)
	case TagServerKeyData:
		return ServerKeyDataMsg{Data: append([]byte(nil), f.Payload...)}, nil
	case TagParameterStatus:
		return decodeParameterStatus(f.Payload)
	case TagStateDataDescription:
		return decodeStateDataDescription(f.Payload)
	case TagCommandDataDescription:
		return decodeCommandDataDescription(f.Payload)
	case TagData:
		return decodeData(f.Payload)
	case TagCommandComplete:
		return decodeCommandComplete(f.Payload)
	case TagReadyForCommand:
		return decodeReadyForCommand(f.Payload)
	case TagErrorResponse:
		return decodeErrorResponse(f.Payload)
	case TagLogMessage:
		return decodeLogMessage(f.Payload)
	default:
		return UnknownMessage{Tag: f.Tag, Data: append([]byte(nil), f.Payload...)}, nil
	}
}

func finish(r *Reader) error {
	if !r.Done() {
		return gelerr.Newf(gelerr.CodeExtraData, "%d unconsumed bytes after decoding message", r.Remaining())
	}
	return nil
}

func decodeServerHandshake(payload []byte) (ServerHandshakeMsg, error) {
	r := NewReader(payload)
	var m ServerHandshakeMsg
	var err error
	if m.Major, err = r.GetUint16(); err != nil {
		return m, err
	}
	if m.Minor, err = r.GetUint16(); err != nil {
		return m, err
	}
	n, err := r.GetUint16()
	if err != nil {
		return m, err
	}
	m.Extensions = make(map[string]map[uint16][]byte, n)
	for i := 0; i < int(n); i++ {
		name, err := r.GetString()
		if err != nil {
			return m, err
		}
		headers, err := r.GetHeaders()
		if err != nil {
			return m, err
		}
		m.Extensions[name] = headers
	}
	return m, finish(r)
}

func decodeAuthentication(payload []byte) (AuthenticationMsg, error) {
	r := NewReader(payload)
	var m AuthenticationMsg
	var err error
	if m.Kind, err = r.GetUint32(); err != nil {
		return m, err
	}
	switch m.Kind {
	case AuthOk:
		return m, finish(r)
	case AuthSasl:
		n, err := r.GetUint32()
		if err != nil {
			return m, err
		}
		for i := 0; i < int(n); i++ {
			s, err := r.GetString()
			if err != nil {
				return m, err
			}
			m.Methods = append(m.Methods, s)
		}
		return m, finish(r)
	case AuthSaslContinue, AuthSaslFinal:
		data, err := r.GetBytes()
		if err != nil {
			return m, err
		}
		m.SaslData = data
		return m, finish(r)
	default:
		return m, gelerr.Newf(gelerr.CodeBinaryProtocolError, "unknown authentication sub-kind %d", m.Kind)
	}
}

func decodeParameterStatus(payload []byte) (ParameterStatusMsg, error) {
	r := NewReader(payload)
	var m ParameterStatusMsg
	var err error
	if m.Name, err = r.GetString(); err != nil {
		return m, err
	}
	if m.Value, err = r.GetBytes(); err != nil {
		return m, err
	}
	return m, finish(r)
}

func decodeStateDataDescription(payload []byte) (StateDataDescriptionMsg, error) {
	r := NewReader(payload)
	var m StateDataDescriptionMsg
	var err error
	if m.TypeDescID, err = r.GetUUID(); err != nil {
		return m, err
	}
	if m.TypeDesc, err = r.GetBytes(); err != nil {
		return m, err
	}
	return m, finish(r)
}

func decodeCommandDataDescription(payload []byte) (CommandDataDescriptionMsg, error) {
	r := NewReader(payload)
	var m CommandDataDescriptionMsg
	headers, err := r.GetHeaders()
	if err != nil {
		return m, err
	}
	m.Annotations = make(map[string]string, len(headers))
	for k, v := range headers {
		m.Annotations[annotationKeyName(k)] = string(v)
	}
	caps, err := r.GetUint64()
	if err != nil {
		return m, err
	}
	m.Capabilities = Capabilities(caps)
	card, err := r.GetUint8()
	if err != nil {
		return m, err
	}
	m.Cardinality = Cardinality(card)
	if m.InputID, err = r.GetUUID(); err != nil {
		return m, err
	}
	if m.InputDesc, err = r.GetBytes(); err != nil {
		return m, err
	}
	if m.OutputID, err = r.GetUUID(); err != nil {
		return m, err
	}
	if m.OutputDesc, err = r.GetBytes(); err != nil {
		return m, err
	}
	return m, finish(r)
}

// annotationKeyName maps a well-known header key to its annotation name.
// 0xFF01 is the reserved "warnings" slot (SPEC_FULL.md supplemented
// feature: annotations/warnings parsing).
func annotationKeyName(key uint16) string {
	if key == 0xFF01 {
		return "warnings"
	}
	return ""
}

func decodeData(payload []byte) (DataMsg, error) {
	r := NewReader(payload)
	n, err := r.GetUint16()
	if err != nil {
		return DataMsg{}, err
	}
	m := DataMsg{Elements: make([][]byte, 0, n)}
	for i := 0; i < int(n); i++ {
		b, err := r.GetBytes()
		if err != nil {
			return m, err
		}
		m.Elements = append(m.Elements, b)
	}
	return m, finish(r)
}

func decodeCommandComplete(payload []byte) (CommandCompleteMsg, error) {
	r := NewReader(payload)
	var m CommandCompleteMsg
	var err error
	if m.Status, err = r.GetString(); err != nil {
		return m, err
	}
	hasState, err := r.GetUint8()
	if err != nil {
		return m, err
	}
	if hasState == 1 {
		var st EncodedState
		id, err := r.GetUUID()
		if err != nil {
			return m, err
		}
		st.TypeDescID = id
		data, err := r.GetBytes()
		if err != nil {
			return m, err
		}
		st.Data = data
		m.NewState = &st
	}
	return m, finish(r)
}

func decodeReadyForCommand(payload []byte) (ReadyForCommandMsg, error) {
	r := NewReader(payload)
	var m ReadyForCommandMsg
	headers, err := r.GetHeaders()
	if err != nil {
		return m, err
	}
	m.Headers = headers
	state, err := r.GetUint8()
	if err != nil {
		return m, err
	}
	m.TransactionState = TransactionState(state)
	return m, finish(r)
}

func decodeErrorResponse(payload []byte) (ErrorResponseMsg, error) {
	r := NewReader(payload)
	var m ErrorResponseMsg
	var err error
	if m.Severity, err = r.GetUint8(); err != nil {
		return m, err
	}
	if m.Code, err = r.GetUint32(); err != nil {
		return m, err
	}
	if m.Message, err = r.GetString(); err != nil {
		return m, err
	}
	if m.Headers, err = r.GetHeaders(); err != nil {
		return m, err
	}
	return m, finish(r)
}

func decodeLogMessage(payload []byte) (LogMessageMsg, error) {
	r := NewReader(payload)
	var m LogMessageMsg
	var err error
	if m.Severity, err = r.GetUint8(); err != nil {
		return m, err
	}
	if m.Code, err = r.GetUint32(); err != nil {
		return m, err
	}
	if m.Text, err = r.GetString(); err != nil {
		return m, err
	}
	return m, finish(r)
}
