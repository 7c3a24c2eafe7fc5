package mux

import (
	"testing"

	"github.com/fortytw2/leaktest"
	"github.com/progrium/hydna-go/frame"
	"github.com/progrium/hydna-go/mux/muxtest"
)

func TestBridge(t *testing.T) {
	defer leaktest.Check(t)()

	sa := newServer(t, func(c *muxtest.Conn, f frame.Frame) {
		muxtest.Default(c, f)
		if f.Op == frame.OpOpen {
			c.Data(f.Channel, 4, "hello")
			c.Emit(f.Channel, "sig")
		}
	})
	defer sa.Close()
	sb := newServer(t, nil)
	defer sb.Close()
	r := NewRegistry(nil)
	defer r.Close()

	ctx, cancel := testContext()
	defer cancel()

	a := r.Channel(nil)
	fatal(a.Connect(sa.Expr("/1"), ModeReadWriteEmit, ""), t)
	fatal(a.Wait(ctx), t)
	b := r.Channel(nil)
	fatal(b.Connect(sb.Expr("/2"), ModeReadWriteEmit, ""), t)
	fatal(b.Wait(ctx), t)

	done := make(chan error, 1)
	go func() { done <- Bridge(ctx, a, b) }()

	var gotData, gotSignal bool
	for !gotData || !gotSignal {
		f, err := sb.Next(ctx)
		fatal(err, t)
		switch {
		case f.Op == frame.OpData:
			if string(f.Payload) != "hello" || f.Flag != 4 {
				t.Fatalf("relayed data %q priority %d", f.Payload, f.Flag)
			}
			gotData = true
		case f.Op == frame.OpSignal && f.Flag == frame.FlagEmit:
			if string(f.Payload) != "sig" {
				t.Fatalf("relayed signal %q", f.Payload)
			}
			gotSignal = true
		}
	}

	fatal(sa.Conns()[0].End(a.ID()), t)
	fatal(<-done, t)
	select {
	case <-b.Done():
	case <-ctx.Done():
		t.Fatal("bridged channel not closed")
	}
	if err := b.Err(); err != nil {
		t.Fatal(err)
	}
}
