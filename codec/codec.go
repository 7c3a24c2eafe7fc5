// Package codec encodes values as channel messages.
package codec

import (
	"bytes"
	"io"

	"github.com/progrium/hydna-go/frame"
)

type Encoder interface {
	// Encode writes an encoding of v to its Writer.
	Encode(v interface{}) error
}

type Decoder interface {
	// Decode reads the next encoded value from its Reader and stores it in the value pointed to by v.
	Decode(v interface{}) error
}

// Codec returns an Encoder or Decoder given a Writer or Reader.
type Codec interface {
	Encoder(w io.Writer) Encoder
	Decoder(r io.Reader) Decoder

	// ContentType is the content type messages in this encoding carry.
	ContentType() frame.ContentType
}

// Marshal encodes v as a single message payload.
func Marshal(c Codec, v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Encoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	if buf.Len() > frame.PayloadMaxLimit {
		return nil, frame.ErrPayloadTooLarge
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a message payload into v.
func Unmarshal(c Codec, b []byte, v interface{}) error {
	return c.Decoder(bytes.NewReader(b)).Decode(v)
}

// Lookup returns a codec by name, "json" or "cbor".
func Lookup(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSONCodec{}, true
	case "cbor":
		return CBORCodec{}, true
	}
	return nil, false
}
