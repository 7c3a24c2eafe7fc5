package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeDecode(t *testing.T) {
	tests := []struct {
		in Frame
		d  Dialect
	}{
		{
			in: Frame{Channel: 10, Op: OpOpen, Flag: 0x3, Payload: []byte("token")},
			d:  Version3,
		},
		{
			in: Frame{Channel: 10, Op: OpData, Flag: 2, ContentType: Binary, Payload: []byte{0, 1, 2}},
			d:  Version3,
		},
		{
			in: Frame{Channel: 0xffffffff, Op: OpSignal, Flag: FlagEnd},
			d:  Version3,
		},
		{
			in: Frame{Channel: ResolveChannel, Op: OpResolve, Payload: []byte("/chat")},
			d:  Version3,
		},
		{
			in: Frame{Channel: 7, Op: OpNoop},
			d:  Version3,
		},
		{
			in: Frame{Channel: 20, Op: OpData, ContentType: Binary, Payload: []byte("Hello")},
			d:  Version2,
		},
		{
			in: Frame{Channel: 20, Op: OpSignal, Flag: FlagEmit, Payload: []byte("ping")},
			d:  Version1,
		},
		{
			in: Frame{Channel: 1, Op: OpData, Payload: bytes.Repeat([]byte{'x'}, PayloadMaxLimit)},
			d:  Version3,
		},
	}
	for _, test := range tests {
		var buf bytes.Buffer
		enc := NewEncoder(&buf, test.d)
		if err := enc.Encode(test.in); err != nil {
			t.Fatal(err)
		}
		dec := NewDecoder(&buf, test.d)
		f, err := dec.Decode()
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(test.in, f); diff != "" {
			t.Errorf("%s: round trip mismatch (-want +got):\n%s", test.d, diff)
		}
		if f.String() == "" {
			t.Fatal("empty string representation")
		}
	}
}

func TestWireLayout(t *testing.T) {
	f := Frame{Channel: 0x01020304, Op: OpData, Flag: 0x5, ContentType: Binary, Payload: []byte("ab")}

	tests := []struct {
		d    Dialect
		want []byte
	}{
		{Version3, []byte{0x00, 0x07, 0x01, 0x02, 0x03, 0x04, 0x55, 'a', 'b'}},
		{Version2, []byte{0x00, 0x09, 0x01, 0x02, 0x03, 0x04, 0x55, 'a', 'b'}},
		{Version1, []byte{0x00, 0x0a, 0x00, 0x01, 0x02, 0x03, 0x04, 0x25, 'a', 'b'}},
	}
	for _, test := range tests {
		got, err := test.d.Encode(f)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, test.want) {
			t.Errorf("%s: got % x, want % x", test.d, got, test.want)
		}
	}
}

func TestDescriptorBits(t *testing.T) {
	for op := OpNoop; op <= OpResolve; op++ {
		for flag := uint8(0); flag < 8; flag++ {
			for _, ct := range []ContentType{UTF8, Binary} {
				b, err := Version3.Encode(Frame{Channel: 1, Op: op, Flag: flag, ContentType: ct})
				if err != nil {
					t.Fatal(err)
				}
				desc := b[6]
				if desc&0x7 != flag || (desc>>3)&0x7 != byte(op) || (desc>>6)&1 != byte(ct) {
					t.Fatalf("op=%s flag=%d ct=%s: bad descriptor %08b", op, flag, ct, desc)
				}
			}
		}
	}
}

func TestPayloadLimit(t *testing.T) {
	big := make([]byte, PayloadMaxLimit+1)
	if _, err := New(1, OpData, 0, Binary, big); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("New: got %v, want ErrPayloadTooLarge", err)
	}

	var buf bytes.Buffer
	err := NewEncoder(&buf, Default).Encode(Frame{Channel: 1, Op: OpData, Payload: big})
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("Encode: got %v, want ErrPayloadTooLarge", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("oversized frame reached the writer: %d bytes", buf.Len())
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"short", []byte{0x00}},
		{"length below header", []byte{0x00, 0x03, 0, 0, 0}},
		{"length mismatch", []byte{0x00, 0x09, 0, 0, 0, 1, 0x10}},
		{"unknown opcode", []byte{0x00, 0x05, 0, 0, 0, 1, 0x28}},
		{"oversized", []byte{0xff, 0xff, 0, 0, 0, 1, 0x10}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := Version3.Decode(test.in); !errors.Is(err, ErrMalformed) {
				t.Fatalf("got %v, want ErrMalformed", err)
			}
		})
	}
}

func TestDecoderTruncated(t *testing.T) {
	b, err := Default.Encode(Frame{Channel: 3, Op: OpData, Payload: []byte("truncated")})
	if err != nil {
		t.Fatal(err)
	}
	dec := NewDecoder(bytes.NewReader(b[:len(b)-2]), Default)
	if _, err := dec.Decode(); err != io.ErrUnexpectedEOF {
		t.Fatalf("got %v, want io.ErrUnexpectedEOF", err)
	}
	dec = NewDecoder(bytes.NewReader(nil), Default)
	if _, err := dec.Decode(); err != io.EOF {
		t.Fatalf("got %v, want io.EOF", err)
	}
}

func TestDialectCapabilities(t *testing.T) {
	if _, err := Version1.Encode(Frame{Op: OpResolve, Payload: []byte("/x")}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("resolve in packet format: got %v, want ErrUnsupported", err)
	}

	// legacy deny and error codes fold into the single flags
	deny := []byte{0x00, 0x08, 0x00, 0, 0, 0, 9, 0x1c}
	f, err := Version1.Decode(deny)
	if err != nil {
		t.Fatal(err)
	}
	if f.Op != OpOpen || f.Flag != FlagDeny {
		t.Fatalf("got %v, want OPEN/deny", f)
	}
	sigErr := []byte{0x00, 0x08, 0x00, 0, 0, 0, 9, 0x3e}
	if f, err = Version1.Decode(sigErr); err != nil {
		t.Fatal(err)
	}
	if f.Op != OpSignal || f.Flag != FlagError {
		t.Fatalf("got %v, want SIGNAL/error", f)
	}

	for _, d := range []Dialect{Version1, Version2, Version3} {
		got, ok := Lookup(d.Version)
		if !ok || got != d {
			t.Fatalf("Lookup(%d) = %v, %v", d.Version, got, ok)
		}
	}
	if _, ok := Lookup(9); ok {
		t.Fatal("Lookup(9) should fail")
	}
}

func TestWithChannel(t *testing.T) {
	orig := Frame{Channel: 1, Op: OpOpen, Flag: 3, Payload: []byte("tok")}
	moved := orig.WithChannel(99)
	if orig.Channel != 1 {
		t.Fatal("WithChannel modified the original frame")
	}
	if diff := cmp.Diff(orig, moved.WithChannel(1)); diff != "" {
		t.Fatalf("frames differ beyond channel id:\n%s", diff)
	}
}

func TestHandshake(t *testing.T) {
	b, err := EncodeHandshake(Version3, "example.com", "secret")
	if err != nil {
		t.Fatal(err)
	}
	version, host, auth, err := ReadHandshake(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	if version != 3 || host != "example.com" || auth != "secret" {
		t.Fatalf("got %d %q %q", version, host, auth)
	}

	resp := EncodeHandshakeResponse(3, HandshakeServerBusy)
	if len(resp) != HandshakeResponseSize {
		t.Fatalf("response size %d", len(resp))
	}
	v, status, err := DecodeHandshakeResponse(resp)
	if err != nil {
		t.Fatal(err)
	}
	if v != 3 || status != HandshakeServerBusy {
		t.Fatalf("got version %d status %v", v, status)
	}
	if _, _, err := DecodeHandshakeResponse([]byte("HTTP/")); !errors.Is(err, ErrMalformed) {
		t.Fatalf("bad magic: got %v", err)
	}
	if HandshakeStatus(42).String() != HandshakeUnknown.String() {
		t.Fatal("unknown status should describe as unknown")
	}
}
