package frame

import (
	"io"
	"sync"
)

// Encoder encodes frames given an io.Writer
type Encoder struct {
	w io.Writer
	d Dialect
	sync.Mutex
}

func NewEncoder(w io.Writer, d Dialect) *Encoder {
	return &Encoder{w: w, d: d}
}

// Encode writes f as a single write call so frames from concurrent
// callers are never interleaved.
func (enc *Encoder) Encode(f Frame) error {
	b, err := enc.d.Encode(f)
	if err != nil {
		return err
	}

	enc.Lock()
	defer enc.Unlock()

	debugFrame("<<ENC", f)

	_, err = enc.w.Write(b)
	return err
}
