package transport_test

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/progrium/hydna-go/mux/muxtest"
	"github.com/progrium/hydna-go/transport"
)

func fatal(err error, t *testing.T) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

// echo accepts one stream and writes back the first five bytes it reads,
// then holds the stream until the client goes away.
func echo(l transport.Listener, errs chan<- error) {
	rwc, err := l.Accept()
	if err != nil {
		errs <- err
		return
	}
	defer rwc.Close()
	buf := make([]byte, 5)
	if _, err := io.ReadFull(rwc, buf); err != nil {
		errs <- err
		return
	}
	_, err = rwc.Write(buf)
	errs <- err
	io.Copy(io.Discard, rwc)
}

func TestRoundTrip(t *testing.T) {
	config, err := muxtest.GenerateTLSConfig()
	fatal(err, t)

	for _, scheme := range []string{"tcp", "hydna", "tls", "hydnas", "ws", "wss", "quic", "unix"} {
		t.Run(scheme, func(t *testing.T) {
			addr := "127.0.0.1:0"
			if scheme == "unix" {
				addr = filepath.Join(t.TempDir(), "hydna.sock")
			}
			l, err := transport.Listen(scheme, addr, config)
			fatal(err, t)
			defer l.Close()

			errs := make(chan error, 1)
			go echo(l, errs)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			dial := transport.DialWithTLS(muxtest.ClientTLSConfig())
			rwc, err := dial(ctx, scheme, l.Addr().String())
			fatal(err, t)
			defer rwc.Close()

			_, err = io.WriteString(rwc, "hello")
			fatal(err, t)
			buf := make([]byte, 5)
			_, err = io.ReadFull(rwc, buf)
			fatal(err, t)
			if string(buf) != "hello" {
				t.Fatalf("unexpected echo: %q", buf)
			}
			fatal(<-errs, t)
		})
	}
}

func TestIO(t *testing.T) {
	sr, cw := io.Pipe()
	cr, sw := io.Pipe()

	l, err := transport.ListenIO(sw, sr)
	fatal(err, t)
	errs := make(chan error, 1)
	go echo(l, errs)

	rwc, err := transport.DialIO(cw, cr)
	fatal(err, t)
	_, err = io.WriteString(rwc, "hello")
	fatal(err, t)
	buf := make([]byte, 5)
	_, err = io.ReadFull(rwc, buf)
	fatal(err, t)
	if string(buf) != "hello" {
		t.Fatalf("unexpected echo: %q", buf)
	}
	fatal(<-errs, t)

	if _, err := l.Accept(); err != io.EOF {
		t.Fatalf("second accept: %v", err)
	}
	fatal(rwc.Close(), t)
}

func TestUnknownScheme(t *testing.T) {
	if _, err := transport.Dial(context.Background(), "carrier-pigeon", "127.0.0.1:1"); err == nil {
		t.Fatal("expected dial error")
	}
	if _, err := transport.Listen("stdio", "", nil); err == nil {
		t.Fatal("expected listen error")
	}
}

func TestSecureListenRequiresConfig(t *testing.T) {
	for _, scheme := range []string{"tls", "quic"} {
		if _, err := transport.Listen(scheme, "127.0.0.1:0", nil); err == nil {
			t.Fatalf("%s: expected error", scheme)
		}
	}
}
