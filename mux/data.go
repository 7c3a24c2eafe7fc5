package mux

import (
	"strings"

	"github.com/progrium/hydna-go/frame"
)

// Mode is the access requested when opening a channel.
type Mode uint8

const (
	ModeListen Mode = 0
	ModeRead   Mode = 1 << (iota - 1)
	ModeWrite
	ModeEmit

	ModeReadWrite     = ModeRead | ModeWrite
	ModeReadEmit      = ModeRead | ModeEmit
	ModeWriteEmit     = ModeWrite | ModeEmit
	ModeReadWriteEmit = ModeRead | ModeWrite | ModeEmit
)

func (m Mode) Valid() bool { return m <= ModeReadWriteEmit }

func (m Mode) String() string {
	if m == ModeListen {
		return "listen"
	}
	if !m.Valid() {
		return "invalid"
	}
	var parts []string
	if m&ModeRead != 0 {
		parts = append(parts, "read")
	}
	if m&ModeWrite != 0 {
		parts = append(parts, "write")
	}
	if m&ModeEmit != 0 {
		parts = append(parts, "emit")
	}
	return strings.Join(parts, "|")
}

// ParseMode parses a mode name such as "rw", "readwrite" or "r+e".
func ParseMode(s string) (Mode, error) {
	var m Mode
	switch strings.ToLower(s) {
	case "", "listen":
		return ModeListen, nil
	case "read":
		return ModeRead, nil
	case "write":
		return ModeWrite, nil
	case "emit":
		return ModeEmit, nil
	case "readwrite":
		return ModeReadWrite, nil
	case "readwriteemit":
		return ModeReadWriteEmit, nil
	}
	for _, c := range strings.ToLower(s) {
		switch c {
		case 'r':
			m |= ModeRead
		case 'w':
			m |= ModeWrite
		case 'e':
			m |= ModeEmit
		case '+', '|':
		default:
			return 0, ErrInvalidMode
		}
	}
	return m, nil
}

// Data is a message received on a channel.
type Data struct {
	Priority    int
	ContentType frame.ContentType
	Content     []byte
}

func (d Data) IsUTF8() bool   { return d.ContentType == frame.UTF8 }
func (d Data) IsBinary() bool { return d.ContentType == frame.Binary }
func (d Data) String() string { return string(d.Content) }

// Signal is an out of band message emitted to a channel.
type Signal struct {
	ContentType frame.ContentType
	Content     []byte
}

func (s Signal) IsUTF8() bool   { return s.ContentType == frame.UTF8 }
func (s Signal) IsBinary() bool { return s.ContentType == frame.Binary }
func (s Signal) String() string { return string(s.Content) }
