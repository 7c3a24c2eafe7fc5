package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrUnsupported is returned when a frame uses a feature the dialect lacks.
var ErrUnsupported = errors.New("hydna: operation not supported by protocol version")

const lengthSize = 2

// A Dialect is one revision of the wire format. The dialect is chosen when a
// connection is created and announced in the handshake; it decides the header
// layout and whether RESOLVE and content types are available.
type Dialect struct {
	// Version is sent in the handshake.
	Version byte

	// HeaderSize is the header size the length field is computed against.
	HeaderSize int

	// Resolve reports whether the RESOLVE opcode is available.
	Resolve bool

	// ContentTypes reports whether the descriptor carries a content type bit.
	ContentTypes bool

	// packet selects the 8 byte legacy layout with a reserved byte and
	// 4 bit opcode/flag nibbles.
	packet bool
}

var (
	// Version1 is the legacy packet format: an 8 byte header whose length
	// includes itself, 4 bit opcode and flag, no RESOLVE, no content types.
	Version1 = Dialect{Version: 1, HeaderSize: 8, packet: true}

	// Version2 uses the descriptor byte with a 7 byte header whose length
	// includes the length field.
	Version2 = Dialect{Version: 2, HeaderSize: 7, Resolve: true, ContentTypes: true}

	// Version3 is the canonical format: a 2 byte length prefix followed by a
	// 5 byte header of channel id and descriptor. The length counts the
	// header and payload but not the prefix.
	Version3 = Dialect{Version: 3, HeaderSize: 5, Resolve: true, ContentTypes: true}

	// Default is the dialect used when none is configured.
	Default = Version3
)

// Lookup returns the dialect for a handshake version byte.
func Lookup(version byte) (Dialect, bool) {
	switch version {
	case Version1.Version:
		return Version1, true
	case Version2.Version:
		return Version2, true
	case Version3.Version:
		return Version3, true
	}
	return Dialect{}, false
}

func (d Dialect) String() string {
	return fmt.Sprintf("hydna/%d", d.Version)
}

// overhead is the number of bytes on the wire before the payload.
func (d Dialect) overhead() int {
	if d.packet {
		return 8
	}
	return lengthSize + 5
}

// lengthOf returns the value of the length field for a payload of n bytes.
func (d Dialect) lengthOf(n int) int {
	return d.HeaderSize + n
}

// wireSize returns the total number of bytes a frame occupies on the wire,
// including the length prefix, given the value of its length field.
func (d Dialect) wireSize(length uint16) (int, error) {
	if int(length) < d.HeaderSize {
		return 0, fmt.Errorf("%w: length %d shorter than header", ErrMalformed, length)
	}
	// Formats whose length excludes the prefix add it back here.
	total := int(length) + d.overhead() - d.HeaderSize
	if total-d.overhead() > PayloadMaxLimit {
		return 0, fmt.Errorf("%w: payload of %d bytes exceeds limit", ErrMalformed, total-d.overhead())
	}
	return total, nil
}

func (d Dialect) supports(op Opcode) bool {
	switch op {
	case OpOpen, OpData, OpSignal:
		return true
	case OpNoop:
		return !d.packet
	case OpResolve:
		return d.Resolve
	}
	return false
}

// Encode serializes f, length prefix included.
func (d Dialect) Encode(f Frame) ([]byte, error) {
	if len(f.Payload) > PayloadMaxLimit {
		return nil, ErrPayloadTooLarge
	}
	if !d.supports(f.Op) {
		return nil, fmt.Errorf("%w: %s in %s", ErrUnsupported, f.Op, d)
	}
	buf := make([]byte, d.overhead()+len(f.Payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(d.lengthOf(len(f.Payload))))
	if d.packet {
		buf[2] = 0
		binary.BigEndian.PutUint32(buf[3:7], f.Channel)
		buf[7] = byte(f.Op)<<4 | f.Flag&0xf
	} else {
		binary.BigEndian.PutUint32(buf[2:6], f.Channel)
		if !d.ContentTypes {
			f.ContentType = UTF8
		}
		buf[6] = f.descriptor()
	}
	copy(buf[d.overhead():], f.Payload)
	return buf, nil
}

// Decode parses one complete frame, length prefix included.
func (d Dialect) Decode(b []byte) (Frame, error) {
	if len(b) < lengthSize {
		return Frame{}, fmt.Errorf("%w: short buffer", ErrMalformed)
	}
	total, err := d.wireSize(binary.BigEndian.Uint16(b[0:2]))
	if err != nil {
		return Frame{}, err
	}
	if total != len(b) {
		return Frame{}, fmt.Errorf("%w: declared %d bytes, have %d", ErrMalformed, total, len(b))
	}

	var f Frame
	if d.packet {
		f.Channel = binary.BigEndian.Uint32(b[3:7])
		f.Op = Opcode(b[7] >> 4)
		f.Flag = normalizeLegacyFlag(f.Op, b[7]&0xf)
	} else {
		f.Channel = binary.BigEndian.Uint32(b[2:6])
		f.Flag = b[6] & flagMask
		f.Op = Opcode((b[6] >> opBitPos) & opMask)
		if d.ContentTypes {
			f.ContentType = ContentType((b[6] >> ctypeBitPos) & 1)
		}
	}
	if !d.supports(f.Op) {
		return Frame{}, fmt.Errorf("%w: unexpected opcode %d", ErrMalformed, f.Op)
	}
	if n := len(b) - d.overhead(); n > 0 {
		f.Payload = make([]byte, n)
		copy(f.Payload, b[d.overhead():])
	}
	return f, nil
}

// The packet format spreads failures over several flag values; fold them into
// the single deny/error flags used by the later formats.
func normalizeLegacyFlag(op Opcode, flag uint8) uint8 {
	switch {
	case op == OpOpen && flag >= 0x8:
		return FlagDeny
	case op == OpSignal && flag >= 0xa:
		return FlagError
	}
	return flag & flagMask
}
