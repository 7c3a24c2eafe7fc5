package mux

import (
	"context"
	"errors"
	"io"

	"golang.org/x/sync/errgroup"
)

// Bridge relays data and signals between two open channels in goroutines,
// as far as their modes allow. It returns when either channel is destroyed
// or ctx is done, after closing both. A channel ending cleanly returns nil.
func Bridge(ctx context.Context, a, b *Channel) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-a.Done():
			return a.closedErr()
		case <-b.Done():
			return b.closedErr()
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	relay(ctx, g, a, b)
	relay(ctx, g, b, a)
	err := g.Wait()

	for _, ch := range []*Channel{a, b} {
		if ch.State() == StateOpen {
			ch.Close()
		}
	}
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func relay(ctx context.Context, g *errgroup.Group, dst, src *Channel) {
	if src.IsReadable() && dst.IsWritable() {
		g.Go(func() error {
			for {
				d, err := src.ReadData(ctx)
				if err != nil {
					return err
				}
				if err := dst.WriteBytes(d.Content, d.Priority, d.ContentType); err != nil {
					return err
				}
			}
		})
	}
	if dst.IsEmitable() {
		g.Go(func() error {
			for {
				s, err := src.ReadSignal(ctx)
				if err != nil {
					return err
				}
				if err := dst.EmitBytes(s.Content, s.ContentType); err != nil {
					return err
				}
			}
		})
	}
}
