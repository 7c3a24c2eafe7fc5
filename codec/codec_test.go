package codec

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/progrium/hydna-go/frame"
)

type testData struct {
	Map map[string]bool
	Arr []int
}

func TestJSONCodec(t *testing.T) {
	c := &JSONCodec{}
	var buf bytes.Buffer

	if err := c.Encoder(&buf).Encode(testData{
		Map: map[string]bool{"true": true, "false": false},
		Arr: []int{1, 2, 3},
	}); err != nil {
		t.Fatal(err)
	}
	if bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
		t.Fatal("message should not end with a newline")
	}

	var data testData
	if err := c.Decoder(&buf).Decode(&data); err != nil {
		t.Fatal(err)
	}

	if data.Map["true"] != true || data.Arr[2] != 3 {
		t.Fatal("unexpected data:", data)
	}
}

func TestCBORCodec(t *testing.T) {
	b, err := Marshal(CBORCodec{}, map[string]interface{}{"name": "bob", "n": 3})
	if err != nil {
		t.Fatal(err)
	}

	var v interface{}
	if err := Unmarshal(CBORCodec{}, b, &v); err != nil {
		t.Fatal(err)
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		t.Fatalf("decoded %T, want string keyed map", v)
	}
	if m["name"] != "bob" {
		t.Fatal("unexpected data:", m)
	}
}

func TestMarshalLimit(t *testing.T) {
	big := strings.Repeat("x", frame.PayloadMaxLimit)
	if _, err := Marshal(JSONCodec{}, big); !errors.Is(err, frame.ErrPayloadTooLarge) {
		t.Fatalf("got %v, want ErrPayloadTooLarge", err)
	}
}

func TestLookup(t *testing.T) {
	for name, ctype := range map[string]frame.ContentType{"json": frame.UTF8, "cbor": frame.Binary} {
		c, ok := Lookup(name)
		if !ok || c.ContentType() != ctype {
			t.Fatalf("%s: got %v %v", name, c, ok)
		}
	}
	if _, ok := Lookup("xml"); ok {
		t.Fatal("xml should not be known")
	}
}
