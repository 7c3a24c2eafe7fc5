package frame

import (
	"encoding/binary"
	"fmt"
	"io"
)

// HandshakeStatus is the status byte of a handshake response.
type HandshakeStatus uint8

const (
	HandshakeOK HandshakeStatus = iota
	HandshakeUnknown
	HandshakeServerBusy
	HandshakeBadFormat
	HandshakeHostname
	HandshakeProtocol
	HandshakeServerError
)

var handshakeText = map[HandshakeStatus]string{
	HandshakeOK:          "ok",
	HandshakeUnknown:     "unknown handshake error",
	HandshakeServerBusy:  "handshake failed, server is busy",
	HandshakeBadFormat:   "handshake failed, bad format sent by client",
	HandshakeHostname:    "handshake failed, invalid host name",
	HandshakeProtocol:    "handshake failed, protocol not allowed",
	HandshakeServerError: "handshake failed, server error",
}

func (s HandshakeStatus) String() string {
	if text, ok := handshakeText[s]; ok {
		return text
	}
	return handshakeText[HandshakeUnknown]
}

// HandshakeResponseSize is the fixed size of a handshake response:
// the three byte magic, the accepted version and the status.
const HandshakeResponseSize = 5

var magic = [3]byte{'D', 'N', 'A'}

// EncodeHandshake builds the handshake request identifying host and auth
// for dialect d.
func EncodeHandshake(d Dialect, host, auth string) ([]byte, error) {
	if len(host) > 0xff {
		return nil, fmt.Errorf("hydna: host name too long (%d bytes)", len(host))
	}
	if len(auth) > 0xffff {
		return nil, fmt.Errorf("hydna: auth too long (%d bytes)", len(auth))
	}
	b := make([]byte, 0, 4+1+len(host)+2+len(auth))
	b = append(b, magic[:]...)
	b = append(b, d.Version, byte(len(host)))
	b = append(b, host...)
	b = binary.BigEndian.AppendUint16(b, uint16(len(auth)))
	b = append(b, auth...)
	return b, nil
}

// ReadHandshake reads a handshake request from r. It is the server side of
// EncodeHandshake.
func ReadHandshake(r io.Reader) (version byte, host, auth string, err error) {
	var head [5]byte
	if _, err = io.ReadFull(r, head[:]); err != nil {
		return
	}
	if [3]byte(head[:3]) != magic {
		err = fmt.Errorf("%w: bad handshake magic %q", ErrMalformed, head[:3])
		return
	}
	version = head[3]
	hostb := make([]byte, head[4])
	if _, err = io.ReadFull(r, hostb); err != nil {
		return
	}
	var n [2]byte
	if _, err = io.ReadFull(r, n[:]); err != nil {
		return
	}
	authb := make([]byte, binary.BigEndian.Uint16(n[:]))
	if _, err = io.ReadFull(r, authb); err != nil {
		return
	}
	return version, string(hostb), string(authb), nil
}

// EncodeHandshakeResponse builds the fixed size handshake response.
func EncodeHandshakeResponse(version byte, status HandshakeStatus) []byte {
	return []byte{magic[0], magic[1], magic[2], version, byte(status)}
}

// DecodeHandshakeResponse parses a handshake response.
func DecodeHandshakeResponse(b []byte) (version byte, status HandshakeStatus, err error) {
	if len(b) != HandshakeResponseSize {
		return 0, 0, fmt.Errorf("%w: handshake response of %d bytes", ErrMalformed, len(b))
	}
	if [3]byte(b[:3]) != magic {
		return 0, 0, fmt.Errorf("%w: bad handshake magic %q", ErrMalformed, b[:3])
	}
	return b[3], HandshakeStatus(b[4]), nil
}
