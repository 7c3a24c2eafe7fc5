package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/progrium/hydna-go/frame"
)

var cborDecMode, _ = cbor.DecOptions{
	DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
}.DecMode()

// CBORCodec encodes messages as binary CBOR. Maps decoded into an
// interface{} have string keys so they can be re-encoded as JSON.
type CBORCodec struct{}

// Encoder returns a CBOR encoder
func (c CBORCodec) Encoder(w io.Writer) Encoder {
	return cbor.NewEncoder(w)
}

// Decoder returns a CBOR decoder
func (c CBORCodec) Decoder(r io.Reader) Decoder {
	return cborDecMode.NewDecoder(r)
}

func (c CBORCodec) ContentType() frame.ContentType { return frame.Binary }
