package codec

import (
	"encoding/json"
	"io"

	"github.com/progrium/hydna-go/frame"
)

// JSONCodec encodes messages as UTF8 JSON text.
type JSONCodec struct{}

func (c JSONCodec) Encoder(w io.Writer) Encoder {
	return &jsonEncoder{w: w}
}

func (c JSONCodec) Decoder(r io.Reader) Decoder {
	return json.NewDecoder(r)
}

func (c JSONCodec) ContentType() frame.ContentType { return frame.UTF8 }

// jsonEncoder writes values without the trailing newline of json.Encoder.
type jsonEncoder struct {
	w io.Writer
}

func (e *jsonEncoder) Encode(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = e.w.Write(b)
	return err
}
