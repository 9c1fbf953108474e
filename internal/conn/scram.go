package conn

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/geldb/gelclient/internal/gelerr"
	"github.com/geldb/gelclient/internal/protocol"
)

// runSCRAM performs the RFC 5802 SCRAM-SHA-256 exchange of spec.md §4.3.2,
// a line-for-line-adapted port of the teacher's scramSHA256Auth
// (internal/pool/scram.go): same nonce/HMAC/PBKDF2/signature steps,
// retargeted from Postgres's 'p' password-message envelope onto Gel's
// AuthenticationSaslInitialResponse/AuthenticationSaslResponse messages.
func (c *Connection) runSCRAM(user, password string, methods []string) error {
	if !containsMechanism(methods, "SCRAM-SHA-256") {
		return gelerr.Newf(gelerr.CodeAuthenticationError, "server does not support SCRAM-SHA-256, offered: %v", methods)
	}

	nonceBytes := make([]byte, 18)
	if _, err := rand.Read(nonceBytes); err != nil {
		return gelerr.New(gelerr.CodeInternalServerError, "generating SCRAM nonce").Wrap(err)
	}
	clientNonce := base64.StdEncoding.EncodeToString(nonceBytes)

	gs2Header := "n,,"
	clientFirstBare := fmt.Sprintf("n=%s,r=%s", saslEscapeUsername(user), clientNonce)
	clientFirstMsg := gs2Header + clientFirstBare

	initResp := protocol.AuthSaslInitialResponse{Mechanism: "SCRAM-SHA-256", Data: []byte(clientFirstMsg)}
	payload, err := initResp.Encode()
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(payload); err != nil {
		return gelerr.New(gelerr.CodeClientConnectionError, "sending SASL initial response").Wrap(err)
	}

	serverFirstMsg, err := c.readSaslContinue()
	if err != nil {
		return err
	}

	serverNonce, salt, iterations, err := parseServerFirst(string(serverFirstMsg))
	if err != nil {
		return gelerr.New(gelerr.CodeAuthenticationError, "parsing SCRAM server-first-message").Wrap(err)
	}
	if !strings.HasPrefix(serverNonce, clientNonce) {
		return gelerr.New(gelerr.CodeAuthenticationError, "SCRAM server nonce does not start with client nonce")
	}

	saltedPassword := pbkdf2.Key([]byte(password), salt, iterations, 32, sha256.New)
	clientKey := hmacSHA256(saltedPassword, []byte("Client Key"))
	storedKey := sha256Sum(clientKey)

	channelBinding := "c=" + base64.StdEncoding.EncodeToString([]byte(gs2Header))
	clientFinalWithoutProof := fmt.Sprintf("%s,r=%s", channelBinding, serverNonce)
	authMessage := clientFirstBare + "," + string(serverFirstMsg) + "," + clientFinalWithoutProof

	clientSignature := hmacSHA256(storedKey, []byte(authMessage))
	clientProof := xorBytes(clientKey, clientSignature)
	clientFinalMsg := clientFinalWithoutProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof)

	finalResp := protocol.AuthSaslResponse{Data: []byte(clientFinalMsg)}
	payload, err = finalResp.Encode()
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(payload); err != nil {
		return gelerr.New(gelerr.CodeClientConnectionError, "sending SASL response").Wrap(err)
	}

	serverFinalMsg, err := c.readSaslFinal()
	if err != nil {
		return err
	}

	serverKey := hmacSHA256(saltedPassword, []byte("Server Key"))
	expectedServerSig := hmacSHA256(serverKey, []byte(authMessage))
	expectedServerFinal := "v=" + base64.StdEncoding.EncodeToString(expectedServerSig)
	if string(serverFinalMsg) != expectedServerFinal {
		return gelerr.New(gelerr.CodeAuthenticationError, "SCRAM server signature mismatch")
	}
	return nil
}

// readSaslContinue reads exactly one AuthenticationSaslContinue frame (or
// propagates a server-reported ErrorResponse), mirroring the teacher's
// readAuthMessage(conn, 11).
func (c *Connection) readSaslContinue() ([]byte, error) {
	return c.readAuthSubKind(protocol.AuthSaslContinue)
}

// readSaslFinal is the AuthenticationSaslFinal equivalent.
func (c *Connection) readSaslFinal() ([]byte, error) {
	return c.readAuthSubKind(protocol.AuthSaslFinal)
}

func (c *Connection) readAuthSubKind(want uint32) ([]byte, error) {
	frame, err := c.fr.ReadFrame()
	if err != nil {
		return nil, gelerr.New(gelerr.CodeClientConnectionError, "reading SASL challenge").Wrap(err)
	}
	parsed, err := protocol.DecodeServerMessage(frame)
	if err != nil {
		return nil, err
	}
	switch m := parsed.(type) {
	case protocol.AuthenticationMsg:
		if m.Kind != want {
			return nil, gelerr.Newf(gelerr.CodeAuthenticationError, "expected SASL sub-kind %d, got %d", want, m.Kind)
		}
		return m.SaslData, nil
	case protocol.ErrorResponseMsg:
		return nil, errorFromResponse(m)
	default:
		return nil, gelerr.Newf(gelerr.CodeProtocolOutOfOrder, "unexpected message during SASL exchange: %T", parsed)
	}
}

func containsMechanism(mechs []string, target string) bool {
	for _, m := range mechs {
		if m == target {
			return true
		}
	}
	return false
}

// parseServerFirst parses "r=<nonce>,s=<salt>,i=<iterations>".
func parseServerFirst(msg string) (nonce string, salt []byte, iterations int, err error) {
	for _, part := range strings.Split(msg, ",") {
		switch {
		case strings.HasPrefix(part, "r="):
			nonce = part[2:]
		case strings.HasPrefix(part, "s="):
			salt, err = base64.StdEncoding.DecodeString(part[2:])
			if err != nil {
				return "", nil, 0, fmt.Errorf("decoding salt: %w", err)
			}
		case strings.HasPrefix(part, "i="):
			fmt.Sscanf(part[2:], "%d", &iterations)
		}
	}
	if nonce == "" || salt == nil || iterations == 0 {
		return "", nil, 0, fmt.Errorf("incomplete server-first-message: %q", msg)
	}
	return nonce, salt, iterations, nil
}

// saslEscapeUsername replaces "=" with "=3D" and "," with "=2C" per RFC 5802.
func saslEscapeUsername(user string) string {
	user = strings.ReplaceAll(user, "=", "=3D")
	user = strings.ReplaceAll(user, ",", "=2C")
	return user
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func sha256Sum(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

func xorBytes(a, b []byte) []byte {
	result := make([]byte, len(a))
	for i := range a {
		result[i] = a[i] ^ b[i]
	}
	return result
}
