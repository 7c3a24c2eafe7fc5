package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/progrium/hydna-go/frame"
	"github.com/progrium/hydna-go/mux/muxtest"
)

func fatal(err error, t *testing.T) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	fatal(cmd.ExecuteContext(ctx), t)
	return out.String()
}

func TestBuildPayload(t *testing.T) {
	b, ctype, err := buildPayload([]string{"hello", "world"}, nil, false, true)
	fatal(err, t)
	if string(b) != "hello world" || ctype != frame.UTF8 {
		t.Fatalf("text: got %q %v", b, ctype)
	}

	b, ctype, err = buildPayload([]string{"name=bob"}, nil, false, false)
	fatal(err, t)
	var v map[string]interface{}
	fatal(json.Unmarshal(b, &v), t)
	if v["name"] != "bob" || ctype != frame.UTF8 {
		t.Fatalf("json: got %s %v", b, ctype)
	}

	b, ctype, err = buildPayload([]string{"name=bob"}, nil, true, false)
	fatal(err, t)
	v = nil
	fatal(cbor.Unmarshal(b, &v), t)
	if v["name"] != "bob" || ctype != frame.Binary {
		t.Fatalf("cbor: got %x %v", b, ctype)
	}

	b, ctype, err = buildPayload(nil, strings.NewReader("raw"), false, false)
	fatal(err, t)
	if string(b) != "raw" || ctype != frame.Binary {
		t.Fatalf("stdin: got %q %v", b, ctype)
	}
}

func TestSend(t *testing.T) {
	s, err := muxtest.NewServer(nil)
	fatal(err, t)
	defer s.Close()

	run(t, "send", "--text", "-p", "2", s.Expr("/1"), "hello")

	var data []frame.Frame
	for _, f := range s.Received() {
		if f.Op == frame.OpData {
			data = append(data, f)
		}
	}
	if len(data) != 1 || string(data[0].Payload) != "hello" || data[0].Flag != 2 {
		t.Fatalf("got %+v", data)
	}
}

func TestEmit(t *testing.T) {
	s, err := muxtest.NewServer(nil)
	fatal(err, t)
	defer s.Close()

	run(t, "emit", s.Expr("/chat"), "ping", "pong")

	for _, f := range s.Received() {
		if f.Op == frame.OpSignal && f.Flag == frame.FlagEmit {
			if string(f.Payload) != "ping pong" {
				t.Fatalf("got signal %q", f.Payload)
			}
			return
		}
	}
	t.Fatal("no signal received")
}

func TestListen(t *testing.T) {
	s, err := muxtest.NewServer(func(c *muxtest.Conn, f frame.Frame) {
		muxtest.Default(c, f)
		if f.Op == frame.OpOpen {
			c.Data(f.Channel, 1, "hi")
			c.Emit(f.Channel, "hey")
		}
	})
	fatal(err, t)
	defer s.Close()

	out := run(t, "listen", "--count", "2", "--log-level", "debug", s.Expr("/3"))
	if !strings.Contains(out, "data[1] hi\n") || !strings.Contains(out, "signal hey\n") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestListenDecode(t *testing.T) {
	payload, err := cbor.Marshal(map[string]string{"name": "bob"})
	fatal(err, t)
	s, err := muxtest.NewServer(func(c *muxtest.Conn, f frame.Frame) {
		muxtest.Default(c, f)
		if f.Op == frame.OpOpen {
			c.Send(frame.Frame{Channel: f.Channel, Op: frame.OpData, ContentType: frame.Binary, Payload: payload})
		}
	})
	fatal(err, t)
	defer s.Close()

	out := run(t, "listen", "-n", "1", "--decode", "cbor", s.Expr("/3"))
	if out != "data[0] {\"name\":\"bob\"}\n" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestBench(t *testing.T) {
	s, err := muxtest.NewServer(muxtest.Echo)
	fatal(err, t)
	defer s.Close()

	out := run(t, "bench", "-n", "3", "-m", "5", "--echo", s.Expr("/10"))
	if !strings.Contains(out, "Messages: 15") {
		t.Fatalf("unexpected output: %s", out)
	}
	// an open, five messages and an end per channel, each answered
	if !strings.Contains(out, "Frames sent: 21 received: 21") {
		t.Fatalf("unexpected frame counts: %s", out)
	}
}

// syncBuffer is a bytes.Buffer safe for the concurrent writes of frame
// tracing and logging.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDebugFrames(t *testing.T) {
	s, err := muxtest.NewServer(nil)
	fatal(err, t)
	defer s.Close()
	t.Cleanup(func() { frame.SetDebug(nil) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var stderr syncBuffer
	cmd := newRootCmd()
	cmd.SetArgs([]string{"send", "--debug-frames", "--text", s.Expr("/1"), "hello"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(&stderr)
	fatal(cmd.ExecuteContext(ctx), t)

	out := stderr.String()
	if !strings.Contains(out, "<<ENC") || !strings.Contains(out, ">>DEC") {
		t.Fatalf("frames not traced:\n%s", out)
	}
}
