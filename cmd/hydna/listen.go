package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/progrium/hydna-go/codec"
	"github.com/progrium/hydna-go/mux"
)

func listenCmd(cl *client) *cobra.Command {
	var (
		token  string
		mode   string
		count  int
		decode string
	)
	cmd := &cobra.Command{
		Use:   "listen EXPR",
		Short: "print data and signals received on a channel",
		Long: `listen opens EXPR and prints every message and signal received until
interrupted, the server ends the channel or --count messages arrived.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := mux.ParseMode(mode)
			if err != nil {
				return err
			}
			p := &printer{w: cmd.OutOrStdout(), limit: count}
			if decode != "" {
				c, ok := codec.Lookup(decode)
				if !ok {
					return fmt.Errorf("unknown codec %q", decode)
				}
				p.codec = c
			}
			ctx := cmd.Context()
			ch, err := cl.open(ctx, args[0], m, token)
			if err != nil {
				return err
			}
			err = listen(ctx, ch, p)
			switch {
			case errors.Is(err, io.EOF):
				return nil
			case errors.Is(err, context.Canceled):
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return shutdown(sctx, ch)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&token, "token", "t", "", "token sent with the open request")
	cmd.Flags().StringVarP(&mode, "mode", "m", "r+e", "open mode, any of r, w and e")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "exit after this many messages and signals")
	cmd.Flags().StringVar(&decode, "decode", "", "print binary messages decoded from json or cbor")
	return cmd
}

// listen prints everything ch receives until it is destroyed, ctx is done
// or p has printed its limit.
func listen(ctx context.Context, ch *mux.Channel, p *printer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.done = cancel

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-ch.Done():
			if err := ch.Err(); err != nil {
				return err
			}
			return io.EOF
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if ch.IsReadable() {
		g.Go(func() error {
			for {
				d, err := ch.ReadData(ctx)
				if err != nil {
					return err
				}
				p.printf("data[%d] %s", d.Priority, p.render(d.IsUTF8(), d.Content))
			}
		})
	}
	g.Go(func() error {
		for {
			s, err := ch.ReadSignal(ctx)
			if err != nil {
				return err
			}
			p.printf("signal %s", p.render(s.IsUTF8(), s.Content))
		}
	})
	return g.Wait()
}

// printer writes lines from several goroutines and calls done once limit
// lines were written.
type printer struct {
	w     io.Writer
	limit int
	done  func()

	// codec, if set, decodes binary payloads to print as JSON.
	codec codec.Codec

	mu sync.Mutex
	n  int
}

func (p *printer) printf(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format+"\n", args...)
	p.n++
	if p.limit > 0 && p.n >= p.limit {
		p.done()
	}
}

func (p *printer) render(utf8 bool, b []byte) string {
	if utf8 {
		return string(b)
	}
	if p.codec != nil {
		var v interface{}
		if err := codec.Unmarshal(p.codec, b, &v); err == nil {
			if text, err := codec.Marshal(codec.JSONCodec{}, v); err == nil {
				return string(text)
			}
		}
	}
	return fmt.Sprintf("%x", b)
}
