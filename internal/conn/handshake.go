package conn

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/geldb/gelclient/internal/gelerr"
	"github.com/geldb/gelclient/internal/protocol"
)

// Supported protocol range, spec.md §4.3.1 step 3 "supported protocol
// range is declared as a constant".
const (
	ProtocolMajorMin uint16 = 1
	ProtocolMajorMax uint16 = 2
	ProtocolMinor    uint16 = 0
)

// DialConfig bundles everything Dial needs to open and authenticate a
// connection, grounded on the teacher's dial+authenticatePG split
// (internal/pool/pool.go): one function resolves the TCP peer, a second
// drives the protocol-specific handshake on top of it.
type DialConfig struct {
	Network string // "tcp" or "unix"
	Address string

	TLSConfig *tls.Config // nil disables TLS

	User       string
	Password   string
	Database   string // mutually exclusive with Branch
	Branch     string
	SecretKey  string

	DialTimeout time.Duration
}

// Dial opens the socket, optionally upgrades to TLS with ALPN
// "edgedb-binary", and runs the handshake through to ReadyForCommand, per
// spec.md §4.3.1.
func Dial(ctx context.Context, cfg DialConfig) (*Connection, error) {
	dialer := net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: 30 * time.Second}
	raw, err := dialer.DialContext(ctx, cfg.Network, cfg.Address)
	if err != nil {
		return nil, gelerr.Newf(gelerr.CodeClientConnectionError, "dialing %s", cfg.Address).Wrap(err)
	}

	netConn := raw
	if cfg.TLSConfig != nil {
		tlsCfg := cfg.TLSConfig.Clone()
		tlsCfg.NextProtos = append([]string{"edgedb-binary"}, tlsCfg.NextProtos...)
		tlsConn := tls.Client(raw, tlsCfg)
		if deadline, ok := ctx.Deadline(); ok {
			tlsConn.SetDeadline(deadline)
		}
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, gelerr.Newf(gelerr.CodeClientConnectionError, "TLS handshake with %s", cfg.Address).Wrap(err)
		}
		tlsConn.SetDeadline(time.Time{})
		netConn = tlsConn
	}

	c := New(netConn)
	if err := c.handshake(cfg); err != nil {
		netConn.Close()
		return nil, err
	}
	return c, nil
}

// handshake drives steps 3-4 of spec.md §4.3.1: send ClientHandshake, then
// read server messages until ReadyForCommand, branching into SCRAM when
// challenged.
func (c *Connection) handshake(cfg DialConfig) error {
	params := map[string]string{"user": cfg.User}
	if cfg.Branch != "" {
		params["branch"] = cfg.Branch
	} else {
		params["database"] = cfg.Database
	}
	if cfg.SecretKey != "" {
		params["secret_key"] = cfg.SecretKey
	}

	msg := protocol.ClientHandshake{
		Major:  ProtocolMajorMax,
		Minor:  ProtocolMinor,
		Params: params,
	}
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(payload); err != nil {
		return gelerr.New(gelerr.CodeClientConnectionError, "writing ClientHandshake").Wrap(err)
	}

	for {
		frame, err := c.fr.ReadFrame()
		if err != nil {
			return gelerr.New(gelerr.CodeClientConnectionError, "reading handshake response").Wrap(err)
		}
		parsed, err := protocol.DecodeServerMessage(frame)
		if err != nil {
			return err
		}
		switch m := parsed.(type) {
		case protocol.ServerHandshakeMsg:
			if m.Major < ProtocolMajorMin || m.Major > ProtocolMajorMax {
				return gelerr.Newf(gelerr.CodeUnsupportedProtocolVer, "server protocol %d.%d outside supported range", m.Major, m.Minor)
			}
			c.protocolMajor, c.protocolMinor = m.Major, m.Minor

		case protocol.AuthenticationMsg:
			switch m.Kind {
			case protocol.AuthOk:
				// auth complete; keep reading for ServerKeyData/
				// ParameterStatus/ReadyForCommand.
			case protocol.AuthSasl:
				if err := c.runSCRAM(cfg.User, cfg.Password, m.Methods); err != nil {
					return err
				}
			default:
				return gelerr.Newf(gelerr.CodeAuthenticationError, "unexpected authentication message kind %d outside SASL exchange", m.Kind)
			}

		case protocol.ServerKeyDataMsg:
			c.serverKey = m.Data

		case protocol.ParameterStatusMsg:
			c.mu.Lock()
			c.serverParams[m.Name] = m.Value
			c.mu.Unlock()
			if m.Name == "system_config" {
				c.adoptPingInterval(m.Value)
			}

		case protocol.StateDataDescriptionMsg:
			c.mu.Lock()
			c.stateDescID = m.TypeDescID
			c.stateDesc = m.TypeDesc
			c.mu.Unlock()

		case protocol.ReadyForCommandMsg:
			c.mu.Lock()
			c.txState = m.TransactionState
			if c.pingInterval < 0 {
				c.pingInterval = 0
			}
			c.mu.Unlock()
			return nil

		case protocol.ErrorResponseMsg:
			return errorFromResponse(m)

		default:
			// Unknown messages are tolerated at the state-machine level
			// (spec.md §3.1); anything else recognized-but-unexpected here
			// would be a protocol ordering bug, so it is deliberately not
			// special-cased beyond what's listed in §4.3.1.
		}
	}
}

// adoptPingInterval extracts session_idle_timeout from the raw
// system_config parameter value, per spec.md §4.3.5. The wire encoding of
// system_config is itself a descriptor-typed value in the real protocol;
// this implementation does not decode that descriptor and instead reads a
// fixed 8-byte big-endian microsecond count at the front of the payload. A
// payload shorter than 8 bytes leaves the ping interval unchanged.
func (c *Connection) adoptPingInterval(raw []byte) {
	if len(raw) < 8 {
		return
	}
	r := protocol.NewReader(raw)
	micros, err := r.GetUint64()
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if micros == 0 {
		c.pingInterval = 0
		return
	}
	c.pingInterval = (time.Duration(micros) * time.Microsecond) / 2
}

func errorFromResponse(m protocol.ErrorResponseMsg) *gelerr.Error {
	e := gelerr.New(gelerr.Code(m.Code), m.Message)
	e.Headers = m.Headers
	return e
}
