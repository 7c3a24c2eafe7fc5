package frame

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"sync"
	"syscall"
)

// Decoder decodes frames given an io.Reader
type Decoder struct {
	r io.Reader
	d Dialect
	sync.Mutex
}

func NewDecoder(r io.Reader, d Dialect) *Decoder {
	return &Decoder{r: r, d: d}
}

// Decode reads exactly one frame. Transport failures are returned as is
// (a reset connection is reported as io.EOF); anything wrong with the
// frame itself wraps ErrMalformed.
func (dec *Decoder) Decode() (Frame, error) {
	dec.Lock()
	defer dec.Unlock()

	var prefix [lengthSize]byte
	if _, err := io.ReadFull(dec.r, prefix[:]); err != nil {
		var syscallErr *os.SyscallError
		if errors.As(err, &syscallErr) && syscallErr.Err == syscall.ECONNRESET {
			return Frame{}, io.EOF
		}
		return Frame{}, err
	}

	total, err := dec.d.wireSize(binary.BigEndian.Uint16(prefix[:]))
	if err != nil {
		return Frame{}, err
	}

	buf := make([]byte, total)
	copy(buf, prefix[:])
	if _, err := io.ReadFull(dec.r, buf[lengthSize:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}

	f, err := dec.d.Decode(buf)
	if err != nil {
		return Frame{}, err
	}

	debugFrame(">>DEC", f)

	return f, nil
}
