// Package frame implements encoding and decoding of hydna protocol frames.
package frame

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

var debug struct {
	sync.Mutex
	w io.Writer
}

// SetDebug makes encoders and decoders print every frame to w. A nil w
// turns it off. Lines are written one at a time.
func SetDebug(w io.Writer) {
	debug.Lock()
	debug.w = w
	debug.Unlock()
}

func debugFrame(prefix string, f Frame) {
	debug.Lock()
	defer debug.Unlock()
	if debug.w != nil {
		fmt.Fprintln(debug.w, prefix, f)
	}
}

// PayloadMaxLimit is the upper bound on the payload of a single frame (10kb).
const PayloadMaxLimit = 10240

// ResolveChannel is the channel id RESOLVE requests are sent on.
const ResolveChannel uint32 = 0

type Opcode uint8

const (
	OpNoop Opcode = iota
	OpOpen
	OpData
	OpSignal
	OpResolve

	OpKeepAlive = OpNoop
)

func (op Opcode) String() string {
	switch op {
	case OpNoop:
		return "NOOP"
	case OpOpen:
		return "OPEN"
	case OpData:
		return "DATA"
	case OpSignal:
		return "SIGNAL"
	case OpResolve:
		return "RESOLVE"
	default:
		return fmt.Sprintf("Opcode(%d)", uint8(op))
	}
}

// Open and resolve response flags.
const (
	FlagAllow    uint8 = 0x0
	FlagRedirect uint8 = 0x1
	FlagDeny     uint8 = 0x7
)

// Signal flags.
const (
	FlagEmit  uint8 = 0x0
	FlagEnd   uint8 = 0x1
	FlagError uint8 = 0x7
)

type ContentType uint8

const (
	UTF8 ContentType = iota
	Binary
)

func (ct ContentType) String() string {
	if ct == Binary {
		return "binary"
	}
	return "utf8"
}

const (
	flagMask    = 0x7
	opBitPos    = 3
	opMask      = 0x7
	ctypeBitPos = 6
)

var (
	// ErrMalformed is wrapped by every decoding failure.
	ErrMalformed = errors.New("hydna: malformed frame")

	// ErrPayloadTooLarge is returned when a payload exceeds PayloadMaxLimit.
	ErrPayloadTooLarge = fmt.Errorf("hydna: payload exceeds %d bytes", PayloadMaxLimit)
)

// Frame is one unit of the wire protocol.
type Frame struct {
	Channel     uint32
	Op          Opcode
	Flag        uint8
	ContentType ContentType
	Payload     []byte
}

// New returns a frame after checking the payload against PayloadMaxLimit.
func New(ch uint32, op Opcode, flag uint8, ctype ContentType, payload []byte) (Frame, error) {
	if len(payload) > PayloadMaxLimit {
		return Frame{}, ErrPayloadTooLarge
	}
	return Frame{
		Channel:     ch,
		Op:          op,
		Flag:        flag & flagMask,
		ContentType: ctype,
		Payload:     payload,
	}, nil
}

// WithChannel returns a copy of f addressed to ch. The payload is shared.
func (f Frame) WithChannel(ch uint32) Frame {
	f.Channel = ch
	return f
}

func (f Frame) String() string {
	return fmt.Sprintf("{Frame Channel:%d Op:%s Flag:%d ContentType:%s Length:%d}",
		f.Channel, f.Op, f.Flag, f.ContentType, len(f.Payload))
}

func (f Frame) descriptor() byte {
	return byte(f.ContentType&1)<<ctypeBitPos |
		byte(f.Op&opMask)<<opBitPos |
		f.Flag&flagMask
}
